package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"stakewatch/internal/chain"
	"stakewatch/internal/config"
	"stakewatch/internal/monitor"
	"stakewatch/internal/stake"
	"stakewatch/internal/storage"
	"stakewatch/internal/storage/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "stakewatch",
		Short:        "Stake movement monitor for subtensor chains",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the chain head and classify stake movements",
		RunE:  runWatch,
	}

	watchCmd.Flags().String("sidecar", "", "sidecar decode service URL")
	watchCmd.Flags().String("substrate", "", "substrate node RPC URL (registration fallback)")
	watchCmd.Flags().Uint32("max-netuid", 128, "highest subnet id scanned for registrations")
	watchCmd.Flags().Duration("interval", 12*time.Second, "head polling interval")
	watchCmd.Flags().String("out", "./data/stake_movements.jsonl", "output JSONL path")
	watchCmd.Flags().String("pg-dsn", "", "optional Postgres DSN")
	watchCmd.Flags().Duration("reg-ttl", 5*time.Minute, "registration memo TTL")
	watchCmd.Flags().Duration("reg-timeout", 10*time.Second, "registration query timeout")
	watchCmd.Flags().Bool("skip-same-subnet", false, "drop same-subnet move/transfer records")
	watchCmd.Flags().Bool("merge-duplicates", true, "merge records differing only by amount")
	watchCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	watchCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	watchCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(watchCmd)
	root.AddCommand(newScanCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadWatch(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, err := buildPipeline(ctx, logger, pipelineOptions{
		SidecarURL:     cfg.SidecarURL,
		SubstrateURL:   cfg.SubstrateURL,
		MaxNetuid:      cfg.MaxNetuid,
		RegTTL:         cfg.RegTTL,
		RegTimeout:     cfg.RegTimeout,
		SkipSameSubnet: cfg.SkipSameSubnet,
		Out:            cfg.Out,
		PGDSN:          cfg.PGDSN,
	})
	if err != nil {
		return err
	}
	defer pipeline.close()

	runner := monitor.NewRunner(monitor.RunConfig{
		MaxRetries:      cfg.MaxRetries,
		RetryBackoff:    cfg.RetryBackoff,
		MergeDuplicates: cfg.MergeDuplicates,
	}, pipeline.chain, pipeline.aggregator, pipeline.sink, logger)
	if pipeline.store != nil {
		runner.UseState(pipeline.store, "watch")
	}

	logger.Info("watch configured",
		zap.String("sidecar", cfg.SidecarURL),
		zap.Bool("registration_fallback", cfg.SubstrateURL != ""),
		zap.Duration("interval", cfg.Interval),
		zap.String("out", cfg.Out),
		zap.Bool("postgres", cfg.PGDSN != ""),
	)

	if err := runner.Watch(ctx, cfg.Interval); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

type pipelineOptions struct {
	SidecarURL     string
	SubstrateURL   string
	MaxNetuid      uint16
	RegTTL         time.Duration
	RegTimeout     time.Duration
	SkipSameSubnet bool
	Out            string
	PGDSN          string
}

type pipeline struct {
	chain      *chain.Client
	aggregator *stake.Aggregator
	sink       storage.Storage
	store      *postgres.Store
}

func (p *pipeline) close() {
	if p.store != nil {
		p.store.Close()
	}
}

// buildPipeline wires the chain client, registration fallback, aggregator,
// and storage sinks shared by the watch and scan commands.
func buildPipeline(ctx context.Context, logger *zap.Logger, opts pipelineOptions) (*pipeline, error) {
	if opts.SidecarURL == "" {
		return nil, fmt.Errorf("sidecar url is required")
	}

	chainClient, err := chain.NewClient(chain.ClientConfig{BaseURL: opts.SidecarURL})
	if err != nil {
		return nil, err
	}

	var regs stake.RegistrationSource
	if opts.SubstrateURL != "" {
		source, err := chain.NewSubstrateRegistrations(chain.RegistrationsConfig{
			URL:       opts.SubstrateURL,
			MaxNetuid: opts.MaxNetuid,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect substrate: %w", err)
		}
		regs = stake.NewRegistrationCache(source, stake.RegistrationCacheConfig{
			TTL:          opts.RegTTL,
			QueryTimeout: opts.RegTimeout,
		}, logger)
	} else {
		logger.Warn("no substrate url, registration fallback disabled")
	}

	aggregator := stake.NewAggregator(stake.AggregatorConfig{
		SkipSameSubnetMoves: opts.SkipSameSubnet,
	}, regs, logger)

	sinks := storage.Multi{}
	if opts.Out != "" {
		sinks = append(sinks, storage.NewJsonlStorage(opts.Out))
	}

	p := &pipeline{chain: chainClient, aggregator: aggregator}
	if opts.PGDSN != "" {
		store, err := postgres.NewStore(ctx, opts.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		p.store = store
		sinks = append(sinks, store)
	}
	if len(sinks) == 0 {
		return nil, fmt.Errorf("at least one of --out or --pg-dsn is required")
	}
	p.sink = sinks

	return p, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
