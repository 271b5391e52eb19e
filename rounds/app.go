package rounds

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/spacemeshos/agreement/common/types"
)

// App drives one application graph over one synchronized-data lineage. It
// owns the active round instance, applies submitted payloads, evaluates the
// round after every input, performs transitions and swaps in the next round
// seeded with the updated snapshot.
//
// Evaluation is synchronous and deterministic; the mutex only makes the App
// safe for callers that deliver payloads and time ticks from different
// goroutines.
type App struct {
	mu     sync.Mutex
	logger *zap.Logger
	clock  clockwork.Clock
	graph  *Graph

	current   Round
	currentID types.RoundID
	data      *SynchronizedData
	enteredAt time.Time
	final     bool
	seq       uint64
}

// AppOpt configures an App.
type AppOpt func(*App)

// WithAppLogger sets the logger used by the app and its rounds.
func WithAppLogger(logger *zap.Logger) AppOpt {
	return func(a *App) {
		a.logger = logger
	}
}

// WithAppClock overrides the wall clock. Used by the Runner and in tests.
func WithAppClock(clock clockwork.Clock) AppOpt {
	return func(a *App) {
		a.clock = clock
	}
}

// NewApp creates an app over a validated graph. Call Setup before use.
func NewApp(graph *Graph, opts ...AppOpt) *App {
	a := &App{
		logger: zap.NewNop(),
		clock:  clockwork.NewRealClock(),
		graph:  graph,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Setup enters the initial round over data. It can be called again to start
// a fresh lineage, e.g. the next period after a rollover.
func (a *App) Setup(data *SynchronizedData) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	round, err := a.graph.NewRound(a.graph.Initial(), data, a.logger)
	if err != nil {
		return err
	}
	a.data = data
	a.currentID = a.graph.Initial()
	a.current = round
	a.enteredAt = a.clock.Now()
	a.final = false
	a.seq++
	a.logger.Debug("entered initial round", zap.Stringer("round", a.currentID))
	return nil
}

// OnPayload routes a payload into the active round and evaluates it.
// Rejections (wrong type, conflicting resubmission, malformed body) are
// returned to the caller and leave the round waiting; ErrUnknownTransition
// is fatal to the run.
func (a *App) OnPayload(p Payload) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return fmt.Errorf("%w: app is not set up", ErrWrongRound)
	}
	if a.final {
		return fmt.Errorf("%w: run reached terminal round %s", ErrWrongRound, a.currentID)
	}
	if err := a.current.OnPayload(p); err != nil {
		payloadErrors.WithLabelValues(errorLabel(err)).Inc()
		return err
	}
	payloadsReceived.Inc()
	return a.evaluateLocked()
}

// OnTimeout forces the registered timeout event when the active round has
// been running longer than the timeout configured for it. It is a no-op for
// rounds without a timeout-bearing edge and for terminal rounds.
func (a *App) OnTimeout(now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil || a.final {
		return nil
	}
	event, timeout, exist := a.graph.TimeoutFor(a.currentID)
	if !exist {
		return nil
	}
	if now.Sub(a.enteredAt) < timeout {
		return nil
	}
	a.logger.Info("round timed out",
		zap.Stringer("round", a.currentID),
		zap.Stringer("event", event),
		zap.Duration("timeout", timeout),
	)
	timeoutsForced.Inc()
	return a.transitionLocked(a.data, event)
}

func (a *App) evaluateLocked() error {
	updated, event, decided := a.current.EndBlock()
	if !decided {
		return nil
	}
	return a.transitionLocked(updated, event)
}

func (a *App) transitionLocked(data *SynchronizedData, event Event) error {
	next, err := a.graph.Next(a.currentID, event)
	if err != nil {
		// a misconfigured graph must surface, not loop silently
		return err
	}
	round, err := a.graph.NewRound(next, data, a.logger)
	if err != nil {
		return err
	}
	a.logger.Info("transition",
		zap.Stringer("from", a.currentID),
		zap.Stringer("event", event),
		zap.Stringer("to", next),
		zap.Object("data", data),
	)
	transitions.WithLabelValues(event.String()).Inc()
	a.data = data
	a.currentID = next
	a.current = round
	a.enteredAt = a.clock.Now()
	a.final = a.graph.IsFinal(next)
	a.seq++
	return nil
}

// Seq returns a counter incremented on every transition, distinguishing
// re-entries of the same round within a lineage.
func (a *App) Seq() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.seq
}

// CurrentRoundID returns the name of the active round.
func (a *App) CurrentRoundID() types.RoundID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentID
}

// RoundElapsed returns how long the active round has been running.
func (a *App) RoundElapsed(now time.Time) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return now.Sub(a.enteredAt)
}

// IsFinal reports whether the run reached a terminal round.
func (a *App) IsFinal() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.final
}

// Data returns the current synchronized snapshot. Snapshots are immutable,
// so the returned value is safe to hold across transitions.
func (a *App) Data() *SynchronizedData {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.data
}

// Get returns the synchronized value for key, failing fast on missing keys.
func (a *App) Get(key string) ([]byte, error) {
	return a.Data().GetStrict(key)
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, ErrAlreadySubmitted):
		return "already_submitted"
	case errors.Is(err, ErrWrongPayloadType):
		return "wrong_type"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrWrongRound):
		return "wrong_round"
	}
	return "other"
}
