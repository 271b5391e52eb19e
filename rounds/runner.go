package rounds

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/spacemeshos/agreement/common/types"
	"github.com/spacemeshos/agreement/metrics"
)

// RunnerConfig holds the deployment parameters of a session runner.
type RunnerConfig struct {
	// Participants is the fixed size of the participant set.
	Participants int `mapstructure:"participants"`
	// TickInterval bounds how late a forced timeout can fire.
	TickInterval time.Duration `mapstructure:"tick-interval"`
	// PersistedKeys survive a period rollover; all other synchronized keys
	// reset to empty.
	PersistedKeys []string `mapstructure:"persisted-keys"`
	// Periods limits how many periods to run. 0 means run until stopped.
	Periods int `mapstructure:"periods"`
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (cfg *RunnerConfig) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddInt("participants", cfg.Participants)
	encoder.AddDuration("tick interval", cfg.TickInterval)
	encoder.AddInt("periods", cfg.Periods)
	encoder.AddArray("persisted keys", zapcore.ArrayMarshalerFunc(func(encoder zapcore.ArrayEncoder) error {
		for _, key := range cfg.PersistedKeys {
			encoder.AppendString(key)
		}
		return nil
	}))
	return nil
}

// DefaultRunnerConfig returns conservative defaults for a small committee.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Participants: 4,
		TickInterval: time.Second,
	}
}

// PeriodOutput is emitted on the results channel when a period reaches a
// terminal round.
type PeriodOutput struct {
	Period int
	Round  types.RoundID
	Data   *SynchronizedData
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (o *PeriodOutput) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddInt("period", o.Period)
	encoder.AddString("round", o.Round.String())
	if o.Data != nil {
		encoder.AddObject("data", o.Data)
	}
	return nil
}

// Opt configures a Runner.
type Opt func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithWallclock overrides the wall clock. Tests install a fake clock to
// drive timeouts deterministically.
func WithWallclock(clock clockwork.Clock) Opt {
	return func(r *Runner) {
		r.wallclock = clock
	}
}

// WithResultsChan overrides the default result channel with a different one.
func WithResultsChan(c chan PeriodOutput) Opt {
	return func(r *Runner) {
		r.results = c
	}
}

// Runner owns an App and drives it across periods: it consumes submitted
// payloads from a channel, re-checks timeouts once per tick, emits a
// PeriodOutput whenever a terminal round is reached and re-enters the
// initial round with the rolled-over snapshot for the next period.
type Runner struct {
	ctx       context.Context
	cancel    context.CancelFunc
	eg        errgroup.Group
	logger    *zap.Logger
	wallclock clockwork.Clock

	cfg      RunnerConfig
	app      *App
	payloads chan Payload
	results  chan PeriodOutput
	period   int
}

// NewRunner creates a runner over a validated graph.
func NewRunner(graph *Graph, cfg RunnerConfig, opts ...Opt) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		ctx:       ctx,
		cancel:    cancel,
		logger:    zap.NewNop(),
		wallclock: clockwork.NewRealClock(),
		cfg:       cfg,
		payloads:  make(chan Payload, 32),
		results:   make(chan PeriodOutput, 8),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.app = NewApp(graph, WithAppLogger(r.logger), WithAppClock(r.wallclock))
	return r
}

// App exposes the underlying app for read-only state queries.
func (r *Runner) App() *App { return r.app }

// Results delivers one output per completed period.
func (r *Runner) Results() <-chan PeriodOutput { return r.results }

// Submit hands a payload to the session loop. It blocks only when the
// submission buffer is full and fails once the runner is stopped.
func (r *Runner) Submit(p Payload) error {
	select {
	case r.payloads <- p:
		return nil
	case <-r.ctx.Done():
		return r.ctx.Err()
	}
}

// Start enters the initial round and launches the session loop.
func (r *Runner) Start() error {
	if err := r.app.Setup(NewSynchronizedData(r.cfg.Participants)); err != nil {
		return err
	}
	sessionStart.Inc()
	r.logger.Info("started", zap.Inline(&r.cfg))
	r.eg.Go(r.loop)
	return nil
}

func (r *Runner) loop() error {
	ticker := r.wallclock.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return nil
		case p := <-r.payloads:
			round := r.app.CurrentRoundID()
			latency := r.app.RoundElapsed(r.wallclock.Now())
			if err := r.app.OnPayload(p); err != nil {
				if errors.Is(err, ErrUnknownTransition) {
					exitErrors.Inc()
					r.logger.Error("misconfigured graph", zap.Error(err))
					return err
				}
				r.logger.Warn("payload rejected", zap.Inline(&p), zap.Error(err))
				continue
			}
			metrics.ReportPayloadLatency(round.String(), latency)
		case <-ticker.Chan():
			if err := r.app.OnTimeout(r.wallclock.Now()); err != nil {
				exitErrors.Inc()
				r.logger.Error("misconfigured graph", zap.Error(err))
				return err
			}
		}
		if r.app.IsFinal() {
			if done, err := r.finishPeriod(); done || err != nil {
				return err
			}
		}
	}
}

// finishPeriod reports the terminal round and either stops (period limit
// reached) or rolls the synchronized data over into the next period.
func (r *Runner) finishPeriod() (bool, error) {
	out := PeriodOutput{
		Period: r.period,
		Round:  r.app.CurrentRoundID(),
		Data:   r.app.Data(),
	}
	sessionTerminated.Inc()
	r.logger.Info("period finished", zap.Inline(&out))
	select {
	case r.results <- out:
	case <-r.ctx.Done():
		return true, nil
	}
	r.period++
	if r.cfg.Periods > 0 && r.period >= r.cfg.Periods {
		return true, nil
	}
	rolled := r.app.Data().Rollover(r.cfg.PersistedKeys)
	if err := r.app.Setup(rolled); err != nil {
		return true, err
	}
	sessionStart.Inc()
	return false, nil
}

// Stop cancels the session loop and waits for it to exit.
func (r *Runner) Stop() {
	r.cancel()
	if err := r.eg.Wait(); err != nil {
		r.logger.Warn("session loop failed", zap.Error(err))
	}
	close(r.results)
	r.logger.Info("stopped")
}
