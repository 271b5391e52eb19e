// Command oracle runs a local simulation of the oracle application graph:
// a fixed set of in-process participants submits stub payloads round after
// round until the period reaches the terminal round. It exists to exercise
// the engine end to end and to expose its metrics; real deployments replace
// the stub behaviours with external ones.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/spacemeshos/agreement/broker"
	"github.com/spacemeshos/agreement/common/types"
	"github.com/spacemeshos/agreement/config"
	"github.com/spacemeshos/agreement/metrics"
	"github.com/spacemeshos/agreement/oracle"
	"github.com/spacemeshos/agreement/rounds"
)

const pollInterval = 50 * time.Millisecond

func main() {
	if err := cmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func cmd() *cobra.Command {
	var configPath string
	c := &cobra.Command{
		Use:           "oracle",
		Short:         "run a local simulation of the oracle agreement graph",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(c *cobra.Command, args []string) error {
			vip := viper.New()
			cfg, err := config.LoadConfig(configPath, vip)
			if err != nil {
				return err
			}
			applyFlags(c, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(c.Context(), cfg)
		},
	}
	c.Flags().StringVarP(&configPath, "config", "c", "", "path to the config file")
	c.Flags().Int("participants", 0, "size of the participant set")
	c.Flags().Duration("round-timeout", 0, "per-round timeout before the engine forces a timeout event")
	c.Flags().Int("periods", 1, "number of periods to run, 0 to run until interrupted")
	c.Flags().String("log-level", "", "minimal log level (debug, info, warn, error)")
	c.Flags().Bool("metrics", false, "expose prometheus metrics")
	c.Flags().Int("metrics-port", 0, "port for the metrics endpoint")
	return c
}

func applyFlags(c *cobra.Command, cfg *config.Config) {
	if c.Flags().Changed("participants") {
		cfg.Rounds.Participants, _ = c.Flags().GetInt("participants")
	}
	if c.Flags().Changed("round-timeout") {
		cfg.RoundTimeout, _ = c.Flags().GetDuration("round-timeout")
	}
	if c.Flags().Changed("periods") {
		cfg.Rounds.Periods, _ = c.Flags().GetInt("periods")
	}
	if c.Flags().Changed("log-level") {
		cfg.LogLevel, _ = c.Flags().GetString("log-level")
	}
	if c.Flags().Changed("metrics") {
		cfg.CollectMetrics, _ = c.Flags().GetBool("metrics")
	}
	if c.Flags().Changed("metrics-port") {
		cfg.MetricsPort, _ = c.Flags().GetInt("metrics-port")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	participants, err := cfg.ParticipantSet()
	if err != nil {
		return err
	}
	if len(participants) == 0 {
		participants = simulatedParticipants(cfg.Rounds.Participants)
	}

	graph, err := oracle.NewGraph(cfg.RoundTimeout)
	if err != nil {
		return err
	}
	runner := rounds.NewRunner(graph, cfg.Rounds, rounds.WithLogger(logger.Named("rounds")))
	boundary, err := broker.New(runner,
		broker.WithLogger(logger.Named("broker")),
		broker.WithParticipants(participants),
	)
	if err != nil {
		return err
	}
	if cfg.CollectMetrics {
		srv := metrics.StartServer(logger.Named("metrics"), cfg.MetricsPort)
		defer srv.Shutdown(context.Background())
	}

	if err := runner.Start(); err != nil {
		return err
	}
	defer runner.Stop()
	go behave(ctx, logger.Named("behaviour"), boundary, participants)

	for {
		select {
		case <-ctx.Done():
			return nil
		case out, open := <-runner.Results():
			if !open {
				return nil
			}
			logger.Info("period finished", zap.Inline(&out))
			if cfg.Rounds.Periods > 0 && out.Period == cfg.Rounds.Periods-1 {
				return nil
			}
		}
	}
}

// behave is the stub behaviour layer: every participant submits the same
// payload for whichever round is active, then waits for the round to change.
func behave(ctx context.Context, logger *zap.Logger, boundary *broker.Broker, participants types.Participants) {
	payloads := map[types.RoundID]struct {
		ptype string
		body  string
	}{
		oracle.ObservationRoundID:      {oracle.ObservationPayload, `{"value": 32, "timestamp": 1660000000}`},
		oracle.EstimationRoundID:       {oracle.EstimationPayload, `{"estimates": [32]}`},
		oracle.OutlierDetectionRoundID: {oracle.OutlierDetectionPayload, `{"status": true}`},
	}
	var last types.RoundID
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval):
		}
		active := boundary.CurrentRoundID()
		if active == last || boundary.IsFinal() {
			continue
		}
		payload, exist := payloads[active]
		if !exist {
			continue
		}
		for _, id := range participants {
			if err := boundary.Submit(active, id, payload.ptype, []byte(payload.body)); err != nil {
				logger.Debug("submission rejected", zap.Stringer("round", active), zap.Error(err))
			}
		}
		last = active
	}
}

// simulatedParticipants derives a deterministic membership for local runs.
func simulatedParticipants(n int) types.Participants {
	participants := make(types.Participants, n)
	for i := range participants {
		var seed [8]byte
		binary.LittleEndian.PutUint64(seed[:], uint64(i)+1)
		participants[i] = types.BytesToNodeID(seed[:])
	}
	return participants
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
