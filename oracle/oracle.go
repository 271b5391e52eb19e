// Package oracle defines the application graph of the price oracle: every
// period the participants agree on a shared observation, derive an estimate
// from it and vote on whether the estimate is an outlier before the result
// is handed to the submission layer.
package oracle

import (
	"time"

	"github.com/spacemeshos/agreement/common/types"
	"github.com/spacemeshos/agreement/rounds"
)

// Round names. Stable: they key transitions and appear in state queries.
const (
	ObservationRoundID      types.RoundID = "collect_observation"
	EstimationRoundID       types.RoundID = "estimation_round"
	OutlierDetectionRoundID types.RoundID = "outlier_detection_round"
	FinishedRoundID         types.RoundID = "finished_data_collection_round"
)

// Payload type tags, one per collecting round.
const (
	ObservationPayload      = "observation"
	EstimationPayload       = "estimation"
	OutlierDetectionPayload = "outlier_detection"
)

// Synchronized data keys written by the rounds.
const (
	KeyParticipantToObservations  = "participant_to_observations"
	KeyMostVotedObservation       = "most_voted_observation"
	KeyParticipantToEstimates     = "participant_to_estimates"
	KeyMostVotedEstimates         = "most_voted_estimates"
	KeyParticipantToOutlierStatus = "participant_to_outlier_status"
	KeyMostVotedOutlierStatus     = "most_voted_outlier_status"
)

// StatusField inside the outlier detection payload: true means the estimate
// passed the outlier check and the period may finish.
const StatusField = "status"

// DefaultRoundTimeout bounds how long a round waits before the engine
// forces EventRoundTimeout.
const DefaultRoundTimeout = 30 * time.Second

// NewGraph builds the validated transition table of the oracle application.
// Every non-done outcome loops back to the observation round: recovery from
// a stalled or timed out round is an explicit re-entry, never a retry by the
// engine.
func NewGraph(roundTimeout time.Duration) (*rounds.Graph, error) {
	observation := rounds.ThresholdConfig{
		ID:            ObservationRoundID,
		PayloadType:   ObservationPayload,
		CollectionKey: KeyParticipantToObservations,
		SelectionKey:  KeyMostVotedObservation,
		Done:          rounds.EventDone,
		None:          rounds.EventNoAction,
		NoMajority:    rounds.EventNoMajority,
	}
	estimation := rounds.ThresholdConfig{
		ID:            EstimationRoundID,
		PayloadType:   EstimationPayload,
		CollectionKey: KeyParticipantToEstimates,
		SelectionKey:  KeyMostVotedEstimates,
		Done:          rounds.EventDone,
		None:          rounds.EventNoAction,
		NoMajority:    rounds.EventNoMajority,
	}
	outlier := rounds.ThresholdConfig{
		ID:            OutlierDetectionRoundID,
		PayloadType:   OutlierDetectionPayload,
		CollectionKey: KeyParticipantToOutlierStatus,
		SelectionKey:  KeyMostVotedOutlierStatus,
		Done:          rounds.EventDone,
		None:          rounds.EventNoAction,
		NoMajority:    rounds.EventNoMajority,
		StatusField:   StatusField,
	}
	return rounds.NewGraph(
		ObservationRoundID,
		[]rounds.RoundDef{
			rounds.ThresholdDef(observation, map[rounds.Event]types.RoundID{
				rounds.EventDone:         EstimationRoundID,
				rounds.EventRoundTimeout: ObservationRoundID,
				rounds.EventNoMajority:   ObservationRoundID,
				rounds.EventNoAction:     ObservationRoundID,
			}),
			rounds.ThresholdDef(estimation, map[rounds.Event]types.RoundID{
				rounds.EventDone:         OutlierDetectionRoundID,
				rounds.EventNoAction:     ObservationRoundID,
				rounds.EventNoMajority:   ObservationRoundID,
				rounds.EventRoundTimeout: ObservationRoundID,
			}),
			rounds.ThresholdDef(outlier, map[rounds.Event]types.RoundID{
				rounds.EventDone:       FinishedRoundID,
				rounds.EventNoAction:   ObservationRoundID,
				rounds.EventNoMajority: ObservationRoundID,
			}),
			rounds.FinalDef(FinishedRoundID),
		},
		map[rounds.Event]time.Duration{
			rounds.EventRoundTimeout: roundTimeout,
		},
	)
}
