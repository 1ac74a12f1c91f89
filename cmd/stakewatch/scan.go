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

	"stakewatch/internal/config"
	"stakewatch/internal/monitor"
)

func newScanCommand() *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a historical block range for stake movements",
		RunE:  runScan,
	}

	scanCmd.Flags().String("sidecar", "", "sidecar decode service URL")
	scanCmd.Flags().String("substrate", "", "substrate node RPC URL (registration fallback)")
	scanCmd.Flags().Uint32("max-netuid", 128, "highest subnet id scanned for registrations")
	scanCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	scanCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	scanCmd.Flags().Uint64("batch-size", 100, "blocks per batch")
	scanCmd.Flags().Int("workers", 4, "concurrent block workers per batch")
	scanCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	scanCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	scanCmd.Flags().String("out", "./data/stake_movements.jsonl", "output JSONL path")
	scanCmd.Flags().String("pg-dsn", "", "optional Postgres DSN")
	scanCmd.Flags().Duration("reg-ttl", 5*time.Minute, "registration memo TTL")
	scanCmd.Flags().Duration("reg-timeout", 10*time.Second, "registration query timeout")
	scanCmd.Flags().Bool("skip-same-subnet", false, "drop same-subnet move/transfer records")
	scanCmd.Flags().Bool("merge-duplicates", false, "merge records differing only by amount")
	scanCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	scanCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	scanCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	return scanCmd
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadScan(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}

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
		FromBlock:         cfg.FromBlock,
		ToBlock:           cfg.ToBlock,
		BatchSize:         cfg.BatchSize,
		Workers:           cfg.Workers,
		CheckpointPath:    cfg.Checkpoint,
		CheckpointEnabled: cfg.CheckpointEnabled,
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff,
		MergeDuplicates:   cfg.MergeDuplicates,
	}, pipeline.chain, pipeline.aggregator, pipeline.sink, logger)

	logger.Info("scan start",
		zap.String("sidecar", cfg.SidecarURL),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.Int("workers", cfg.Workers),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.String("checkpoint", cfg.Checkpoint),
	)

	return runner.Run(ctx)
}
