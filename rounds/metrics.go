package rounds

import "github.com/spacemeshos/agreement/metrics"

const namespace = "rounds"

var (
	processCounter = metrics.NewCounter(
		"session",
		namespace,
		"number of sessions at different stages",
		[]string{"stage"},
	)
	sessionStart      = processCounter.WithLabelValues("started")
	sessionTerminated = processCounter.WithLabelValues("terminated")

	exitErrors = metrics.NewCounter(
		"exit_errors",
		namespace,
		"number of unexpected exit errors. should remain at zero",
		[]string{},
	).WithLabelValues()

	transitions = metrics.NewCounter(
		"transitions",
		namespace,
		"number of round transitions by event",
		[]string{"event"},
	)

	timeoutsForced = metrics.NewCounter(
		"timeouts",
		namespace,
		"number of forced timeout events",
		[]string{},
	).WithLabelValues()

	payloadsReceived = metrics.NewCounter(
		"payloads",
		namespace,
		"number of accepted payloads",
		[]string{},
	).WithLabelValues()

	payloadErrors = metrics.NewCounter(
		"payload_errors",
		namespace,
		"number of rejected payloads. not expected to be at zero",
		[]string{"error"},
	)
)
