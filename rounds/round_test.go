package rounds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spacemeshos/agreement/common/types"
	"github.com/spacemeshos/agreement/hash"
)

func testID(i byte) types.NodeID {
	return types.BytesToNodeID([]byte{i})
}

func testConfig() ThresholdConfig {
	return ThresholdConfig{
		ID:            "collect_observation",
		PayloadType:   "observation",
		CollectionKey: "participant_to_observations",
		SelectionKey:  "most_voted_observation",
		Done:          EventDone,
		None:          EventNoAction,
		NoMajority:    EventNoMajority,
	}
}

func testRound(tb testing.TB, participants int) *ThresholdRound {
	return NewThresholdRound(testConfig(), NewSynchronizedData(participants), zaptest.NewLogger(tb))
}

func submit(tb testing.TB, r *ThresholdRound, sender byte, body string) {
	tb.Helper()
	require.NoError(tb, r.OnPayload(Payload{Sender: testID(sender), Type: "observation", Body: []byte(body)}))
}

func TestThresholdReached(t *testing.T) {
	r := testRound(t, 4)
	submit(t, r, 1, `{"value": 10}`)
	submit(t, r, 2, `{"value": 10}`)
	assert.False(t, r.ThresholdReached())
	_, err := r.MostVoted()
	assert.ErrorIs(t, err, ErrNoThreshold)

	submit(t, r, 3, `{"value": 10}`)
	assert.True(t, r.ThresholdReached())

	data, event, decided := r.EndBlock()
	require.True(t, decided)
	assert.Equal(t, EventDone, event)
	winner, err := data.GetStrict("most_voted_observation")
	require.NoError(t, err)
	assert.Equal(t, `{"value":10}`, string(winner))
	collection, err := data.GetStrict("participant_to_observations")
	require.NoError(t, err)
	assert.Contains(t, string(collection), testID(1).String())
}

func TestThresholdMonotonic(t *testing.T) {
	r := testRound(t, 4)
	submit(t, r, 1, `{"value": 10}`)
	submit(t, r, 2, `{"value": 10}`)
	submit(t, r, 3, `{"value": 10}`)
	require.True(t, r.ThresholdReached())

	// a later non-matching submission cannot revoke the threshold
	submit(t, r, 4, `{"value": 11}`)
	assert.True(t, r.ThresholdReached())
	winner, err := r.MostVoted()
	require.NoError(t, err)
	assert.Equal(t, `{"value":10}`, string(winner))
}

func TestEmptySentinel(t *testing.T) {
	r := testRound(t, 4)
	data := r.data
	submit(t, r, 1, `{}`)
	submit(t, r, 2, `{ }`)
	submit(t, r, 3, `{}`)

	updated, event, decided := r.EndBlock()
	require.True(t, decided)
	assert.Equal(t, EventNoAction, event)
	assert.Same(t, data, updated)
	_, err := updated.GetStrict("most_voted_observation")
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestNoMajority(t *testing.T) {
	r := testRound(t, 4)
	submit(t, r, 1, `{"value": 10}`)
	submit(t, r, 2, `{"value": 10}`)
	submit(t, r, 3, `{"value": 11}`)
	// one participant undecided, the leader can still reach 3 votes
	assert.True(t, r.MajorityPossible())
	_, _, decided := r.EndBlock()
	assert.False(t, decided)

	submit(t, r, 4, `{"value": 11}`)
	assert.False(t, r.MajorityPossible())
	data, event, decided := r.EndBlock()
	require.True(t, decided)
	assert.Equal(t, EventNoMajority, event)
	assert.Same(t, r.data, data)
}

func TestSingleParticipant(t *testing.T) {
	r := testRound(t, 1)
	submit(t, r, 1, `{"value": 7}`)
	assert.True(t, r.ThresholdReached())
	_, event, decided := r.EndBlock()
	require.True(t, decided)
	assert.Equal(t, EventDone, event)
}

func TestResubmission(t *testing.T) {
	r := testRound(t, 4)
	submit(t, r, 1, `{"value": 10}`)

	// byte-different but canonically identical body is an idempotent no-op
	submit(t, r, 1, `{ "value":   10 }`)
	assert.Len(t, r.collection, 1)
	assert.Equal(t, 1, r.tallies[valueHash(`{"value":10}`)].count)

	err := r.OnPayload(Payload{Sender: testID(1), Type: "observation", Body: []byte(`{"value": 11}`)})
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
	assert.Len(t, r.collection, 1)
}

func valueHash(canonical string) types.Hash32 {
	return types.Hash32(hash.Sum([]byte(canonical)))
}

func TestRejectedPayloads(t *testing.T) {
	r := testRound(t, 4)
	err := r.OnPayload(Payload{Sender: testID(1), Type: "estimation", Body: []byte(`{}`)})
	assert.ErrorIs(t, err, ErrWrongPayloadType)

	err = r.OnPayload(Payload{Sender: testID(1), Type: "observation", Body: []byte(`{"value":`)})
	assert.ErrorIs(t, err, ErrMalformed)

	// rejected payloads leave the round waiting
	assert.Empty(t, r.collection)
	_, _, decided := r.EndBlock()
	assert.False(t, decided)
}

func TestTieBreakDeterministic(t *testing.T) {
	// two values with an equal maximal tally: the winner is the one with
	// the smaller digest of its canonical body, regardless of insertion
	// order
	bodyA, bodyB := `{"value":1}`, `{"value":2}`
	smallest := bodyA
	if valueHash(bodyB).Hex() < valueHash(bodyA).Hex() {
		smallest = bodyB
	}
	for _, order := range [][]string{{bodyA, bodyB}, {bodyB, bodyA}} {
		r := testRound(t, 4)
		for _, body := range order {
			r.tallies[valueHash(body)] = &tally{body: []byte(body), count: 2}
		}
		r.reached = true
		winner, err := r.MostVoted()
		require.NoError(t, err)
		assert.Equal(t, smallest, string(winner))
	}
}

func TestStatusField(t *testing.T) {
	cfg := testConfig()
	cfg.StatusField = "status"
	for _, tc := range []struct {
		desc  string
		body  string
		event Event
	}{
		{"positive", `{"status": true, "estimate": 3}`, EventDone},
		{"negative", `{"status": false, "estimate": 3}`, EventNoAction},
		{"missing", `{"estimate": 3}`, EventNoAction},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			r := NewThresholdRound(cfg, NewSynchronizedData(4), zaptest.NewLogger(t))
			for sender := byte(1); sender <= 3; sender++ {
				submit(t, r, sender, tc.body)
			}
			data, event, decided := r.EndBlock()
			require.True(t, decided)
			assert.Equal(t, tc.event, event)
			// the verdict is recorded whichever way it goes
			_, err := data.GetStrict(cfg.SelectionKey)
			assert.NoError(t, err)
		})
	}
}

func TestDegenerateRound(t *testing.T) {
	r := NewDegenerateRound("finished")
	assert.Equal(t, types.RoundID("finished"), r.ID())
	err := r.OnPayload(Payload{Sender: testID(1), Type: "observation", Body: []byte(`{}`)})
	assert.ErrorIs(t, err, ErrWrongRound)
	_, _, decided := r.EndBlock()
	assert.False(t, decided)
}
