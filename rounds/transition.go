package rounds

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spacemeshos/agreement/common/types"
)

// ErrInvalidGraph wraps every validation failure detected while assembling a
// transition table. Misconfigured graphs fail at startup, never at runtime.
var ErrInvalidGraph = errors.New("invalid application graph")

// Constructor instantiates a round over the snapshot it will observe.
type Constructor func(data *SynchronizedData, logger *zap.Logger) Round

// RoundDef declares one node of the application graph.
type RoundDef struct {
	ID types.RoundID
	// New constructs the round instance. nil is allowed only for final
	// rounds, which default to a DegenerateRound.
	New Constructor
	// Emits lists every event the round can emit on its own. Every listed
	// event must have a transition.
	Emits []Event
	// Transitions maps events to the next round.
	Transitions map[Event]types.RoundID
	// Final marks a terminal round. Final rounds have no outgoing edges.
	Final bool
}

// ThresholdDef is a convenience declaring a threshold round node.
func ThresholdDef(cfg ThresholdConfig, transitions map[Event]types.RoundID) RoundDef {
	return RoundDef{
		ID: cfg.ID,
		New: func(data *SynchronizedData, logger *zap.Logger) Round {
			return NewThresholdRound(cfg, data, logger)
		},
		Emits:       cfg.Emits(),
		Transitions: transitions,
	}
}

// FinalDef declares a terminal node.
func FinalDef(id types.RoundID) RoundDef {
	return RoundDef{ID: id, Final: true}
}

type node struct {
	def RoundDef
}

// Graph is the static transition table of an application: nodes are rounds,
// edges are events. It is constructed once at startup and never mutated, so
// lookups are safe without locking and deterministic by construction.
type Graph struct {
	initial  types.RoundID
	timeouts map[Event]time.Duration
	nodes    map[types.RoundID]*node
}

// NewGraph validates the declared rounds and builds the transition table.
// Validation requires: the initial round is declared, every emitted event of
// every round has an edge, every edge target is a declared round, final
// rounds have no outgoing edges, and at least one final round exists.
func NewGraph(initial types.RoundID, defs []RoundDef, timeouts map[Event]time.Duration) (*Graph, error) {
	g := &Graph{
		initial:  initial,
		timeouts: timeouts,
		nodes:    make(map[types.RoundID]*node, len(defs)),
	}
	finals := 0
	for _, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("%w: round with empty id", ErrInvalidGraph)
		}
		if _, exist := g.nodes[def.ID]; exist {
			return nil, fmt.Errorf("%w: round %s declared twice", ErrInvalidGraph, def.ID)
		}
		if def.Final {
			finals++
			if len(def.Transitions) != 0 || len(def.Emits) != 0 {
				return nil, fmt.Errorf("%w: final round %s has outgoing edges", ErrInvalidGraph, def.ID)
			}
			if def.New == nil {
				id := def.ID
				def.New = func(*SynchronizedData, *zap.Logger) Round {
					return NewDegenerateRound(id)
				}
			}
		} else if def.New == nil {
			return nil, fmt.Errorf("%w: round %s has no constructor", ErrInvalidGraph, def.ID)
		}
		g.nodes[def.ID] = &node{def: def}
	}
	if _, exist := g.nodes[initial]; !exist {
		return nil, fmt.Errorf("%w: initial round %s is not declared", ErrInvalidGraph, initial)
	}
	if finals == 0 {
		return nil, fmt.Errorf("%w: no final round declared", ErrInvalidGraph)
	}
	for id, n := range g.nodes {
		for _, event := range n.def.Emits {
			if _, exist := n.def.Transitions[event]; !exist {
				return nil, fmt.Errorf("%w: round %s emits %s without a transition",
					ErrInvalidGraph, id, event)
			}
		}
		for event, target := range n.def.Transitions {
			if _, exist := g.nodes[target]; !exist {
				return nil, fmt.Errorf("%w: round %s event %s leads to undeclared round %s",
					ErrInvalidGraph, id, event, target)
			}
		}
		if event, exist := g.timeoutEvent(id); exist && g.timeouts[event] < 0 {
			return nil, fmt.Errorf("%w: negative timeout for event %s", ErrInvalidGraph, event)
		}
	}
	return g, nil
}

// Initial returns the declared initial round.
func (g *Graph) Initial() types.RoundID { return g.initial }

// IsFinal reports whether id is a declared terminal round.
func (g *Graph) IsFinal(id types.RoundID) bool {
	n, exist := g.nodes[id]
	return exist && n.def.Final
}

// Next resolves the transition for (round, event). A missing edge at this
// point means a round emitted an event the table does not cover, which is a
// fatal configuration bug rather than a recoverable condition.
func (g *Graph) Next(id types.RoundID, event Event) (types.RoundID, error) {
	n, exist := g.nodes[id]
	if !exist {
		return "", fmt.Errorf("%w: round %s is not declared", ErrUnknownTransition, id)
	}
	target, exist := n.def.Transitions[event]
	if !exist {
		return "", fmt.Errorf("%w: round %s event %s", ErrUnknownTransition, id, event)
	}
	return target, nil
}

// NewRound instantiates the round id over data.
func (g *Graph) NewRound(id types.RoundID, data *SynchronizedData, logger *zap.Logger) (Round, error) {
	n, exist := g.nodes[id]
	if !exist {
		return nil, fmt.Errorf("%w: round %s is not declared", ErrUnknownTransition, id)
	}
	return n.def.New(data, logger), nil
}

// TimeoutFor returns the timeout event applying to the round, if any. A
// timeout-bearing event applies to a round only when the round has an edge
// for it; rounds without such an edge never time out (the graph decides
// recovery, not the engine).
func (g *Graph) TimeoutFor(id types.RoundID) (Event, time.Duration, bool) {
	event, exist := g.timeoutEvent(id)
	if !exist {
		return "", 0, false
	}
	return event, g.timeouts[event], true
}

func (g *Graph) timeoutEvent(id types.RoundID) (Event, bool) {
	n, exist := g.nodes[id]
	if !exist {
		return "", false
	}
	var (
		found Event
		best  time.Duration
	)
	for event := range n.def.Transitions {
		timeout, bearing := g.timeouts[event]
		if !bearing {
			continue
		}
		// with several timeout-bearing edges the shortest one fires
		if found == "" || timeout < best {
			found, best = event, timeout
		}
	}
	return found, found != ""
}
