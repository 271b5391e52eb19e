package rounds

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacemeshos/agreement/common/types"
)

const testTimeout = 30 * time.Second

func testDefs() []RoundDef {
	collect := testConfig()
	return []RoundDef{
		ThresholdDef(collect, map[Event]types.RoundID{
			EventDone:         "finished",
			EventNoAction:     collect.ID,
			EventNoMajority:   collect.ID,
			EventRoundTimeout: collect.ID,
		}),
		FinalDef("finished"),
	}
}

func testGraph(tb testing.TB) *Graph {
	g, err := NewGraph(testConfig().ID, testDefs(), map[Event]time.Duration{
		EventRoundTimeout: testTimeout,
	})
	require.NoError(tb, err)
	return g
}

func TestGraphValidation(t *testing.T) {
	collect := testConfig()
	timeouts := map[Event]time.Duration{EventRoundTimeout: testTimeout}
	full := map[Event]types.RoundID{
		EventDone:       "finished",
		EventNoAction:   collect.ID,
		EventNoMajority: collect.ID,
	}
	for _, tc := range []struct {
		desc    string
		initial types.RoundID
		defs    []RoundDef
	}{
		{
			desc:    "initial not declared",
			initial: "unknown",
			defs:    testDefs(),
		},
		{
			desc:    "emitted event without transition",
			initial: collect.ID,
			defs: []RoundDef{
				ThresholdDef(collect, map[Event]types.RoundID{EventDone: "finished"}),
				FinalDef("finished"),
			},
		},
		{
			desc:    "edge to undeclared round",
			initial: collect.ID,
			defs: []RoundDef{
				ThresholdDef(collect, map[Event]types.RoundID{
					EventDone:       "nowhere",
					EventNoAction:   collect.ID,
					EventNoMajority: collect.ID,
				}),
				FinalDef("finished"),
			},
		},
		{
			desc:    "no final round",
			initial: collect.ID,
			defs: []RoundDef{
				ThresholdDef(collect, map[Event]types.RoundID{
					EventDone:       collect.ID,
					EventNoAction:   collect.ID,
					EventNoMajority: collect.ID,
				}),
			},
		},
		{
			desc:    "final round with outgoing edge",
			initial: collect.ID,
			defs: append(testDefs()[:1], RoundDef{
				ID:          "finished",
				Final:       true,
				Transitions: map[Event]types.RoundID{EventDone: collect.ID},
			}),
		},
		{
			desc:    "round declared twice",
			initial: collect.ID,
			defs:    append(testDefs(), FinalDef("finished")),
		},
		{
			desc:    "non-final round without constructor",
			initial: collect.ID,
			defs: []RoundDef{
				{ID: collect.ID, Transitions: full},
				FinalDef("finished"),
			},
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := NewGraph(tc.initial, tc.defs, timeouts)
			assert.ErrorIs(t, err, ErrInvalidGraph)
		})
	}
}

func TestGraphDeterministicNext(t *testing.T) {
	g := testGraph(t)
	first, err := g.Next(testConfig().ID, EventDone)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		next, err := g.Next(testConfig().ID, EventDone)
		require.NoError(t, err)
		assert.Equal(t, first, next)
	}
	assert.Equal(t, types.RoundID("finished"), first)
}

func TestGraphUnknownTransition(t *testing.T) {
	g := testGraph(t)
	_, err := g.Next(testConfig().ID, Event("weird"))
	assert.ErrorIs(t, err, ErrUnknownTransition)
	_, err = g.Next("undeclared", EventDone)
	assert.ErrorIs(t, err, ErrUnknownTransition)
}

func TestGraphTimeouts(t *testing.T) {
	g := testGraph(t)
	event, timeout, exist := g.TimeoutFor(testConfig().ID)
	require.True(t, exist)
	assert.Equal(t, EventRoundTimeout, event)
	assert.Equal(t, testTimeout, timeout)

	// terminal rounds have no edges, so no timeout applies
	_, _, exist = g.TimeoutFor("finished")
	assert.False(t, exist)
}
