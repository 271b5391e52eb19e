package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spacemeshos/agreement/common/types"
	"github.com/spacemeshos/agreement/rounds"
)

func testID(i byte) types.NodeID {
	return types.BytesToNodeID([]byte{i})
}

func testApp(tb testing.TB) *rounds.App {
	graph, err := NewGraph(DefaultRoundTimeout)
	require.NoError(tb, err)
	app := rounds.NewApp(graph, rounds.WithAppLogger(zaptest.NewLogger(tb)))
	require.NoError(tb, app.Setup(rounds.NewSynchronizedData(4)))
	return app
}

// submitQuorum submits the same body from three of the four participants,
// exactly enough to cross the threshold and transition the round.
func submitQuorum(tb testing.TB, app *rounds.App, payloadType, body string) {
	tb.Helper()
	for sender := byte(1); sender <= 3; sender++ {
		require.NoError(tb, app.OnPayload(rounds.Payload{
			Sender: testID(sender),
			Type:   payloadType,
			Body:   []byte(body),
		}))
	}
}

func TestFullPeriod(t *testing.T) {
	app := testApp(t)
	assert.Equal(t, ObservationRoundID, app.CurrentRoundID())

	submitQuorum(t, app, ObservationPayload, `{"value": 32, "timestamp": 1660000000}`)
	assert.Equal(t, EstimationRoundID, app.CurrentRoundID())

	submitQuorum(t, app, EstimationPayload, `{"estimates": [32]}`)
	assert.Equal(t, OutlierDetectionRoundID, app.CurrentRoundID())

	submitQuorum(t, app, OutlierDetectionPayload, `{"status": true}`)
	assert.Equal(t, FinishedRoundID, app.CurrentRoundID())
	assert.True(t, app.IsFinal())

	data := Wrap(app.Data())
	winner, err := data.MostVotedObservation()
	require.NoError(t, err)
	assert.JSONEq(t, `{"value": 32, "timestamp": 1660000000}`, string(winner))
	estimates, err := data.MostVotedEstimates()
	require.NoError(t, err)
	assert.JSONEq(t, `{"estimates": [32]}`, string(estimates))
	verdict, err := data.MostVotedOutlierStatus()
	require.NoError(t, err)
	assert.JSONEq(t, `{"status": true}`, string(verdict))

	observations, err := data.ParticipantToObservations()
	require.NoError(t, err)
	assert.Len(t, observations, 3)
	estimatesByParticipant, err := data.ParticipantToEstimates()
	require.NoError(t, err)
	assert.Contains(t, estimatesByParticipant, testID(1).String())
}

func TestOutlierVerdictNegative(t *testing.T) {
	app := testApp(t)
	submitQuorum(t, app, ObservationPayload, `{"value": 32}`)
	submitQuorum(t, app, EstimationPayload, `{"estimates": [32]}`)

	// a negative outlier verdict takes no action and restarts collection
	submitQuorum(t, app, OutlierDetectionPayload, `{"status": false}`)
	assert.Equal(t, ObservationRoundID, app.CurrentRoundID())
	assert.False(t, app.IsFinal())

	// the verdict is still recorded for inspection
	verdict, err := Wrap(app.Data()).MostVotedOutlierStatus()
	require.NoError(t, err)
	assert.JSONEq(t, `{"status": false}`, string(verdict))
}

func TestEmptyObservationTakesNoAction(t *testing.T) {
	app := testApp(t)
	submitQuorum(t, app, ObservationPayload, `{}`)
	assert.Equal(t, ObservationRoundID, app.CurrentRoundID())
	_, err := Wrap(app.Data()).MostVotedObservation()
	assert.ErrorIs(t, err, rounds.ErrMissingKey)
}

func TestAccessorsFailFast(t *testing.T) {
	data := Wrap(rounds.NewSynchronizedData(4))
	_, err := data.MostVotedObservation()
	assert.ErrorIs(t, err, rounds.ErrMissingKey)
	_, err = data.ParticipantToEstimates()
	assert.ErrorIs(t, err, rounds.ErrMissingKey)
}

// TestGraphTraversal walks every declared edge and verifies the graph has
// no dangling states: every path either reaches the terminal round or
// cycles back through the initial one.
func TestGraphTraversal(t *testing.T) {
	graph, err := NewGraph(DefaultRoundTimeout)
	require.NoError(t, err)

	events := []rounds.Event{
		rounds.EventDone,
		rounds.EventNoAction,
		rounds.EventNoMajority,
		rounds.EventRoundTimeout,
	}
	ids := []types.RoundID{
		ObservationRoundID,
		EstimationRoundID,
		OutlierDetectionRoundID,
	}
	for _, id := range ids {
		for _, event := range events {
			next, err := graph.Next(id, event)
			if err != nil {
				// the outlier round deliberately has no timeout edge
				assert.ErrorIs(t, err, rounds.ErrUnknownTransition)
				assert.Equal(t, OutlierDetectionRoundID, id)
				assert.Equal(t, rounds.EventRoundTimeout, event)
				continue
			}
			if event == rounds.EventDone {
				assert.Contains(t, append(ids[1:], FinishedRoundID), next)
			} else {
				assert.Equal(t, ObservationRoundID, next, "%s/%s", id, event)
			}
		}
	}
	assert.True(t, graph.IsFinal(FinishedRoundID))
	assert.Equal(t, ObservationRoundID, graph.Initial())
}
