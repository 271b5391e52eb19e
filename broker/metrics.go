package broker

import "github.com/spacemeshos/agreement/metrics"

const namespace = "broker"

var (
	submitted = metrics.NewCounter(
		"submitted",
		namespace,
		"number of payloads forwarded to the engine",
		[]string{},
	).WithLabelValues()

	duplicates = metrics.NewCounter(
		"duplicates",
		namespace,
		"number of redelivered payloads dropped",
		[]string{},
	).WithLabelValues()

	submitErrors = metrics.NewCounter(
		"submit_errors",
		namespace,
		"number of rejected submissions. not expected to be at zero",
		[]string{"error"},
	)
)
