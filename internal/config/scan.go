package config

import (
	"time"

	"github.com/spf13/pflag"
)

// ScanConfig holds configuration for the historical scan command.
type ScanConfig struct {
	SidecarURL        string
	SubstrateURL      string
	MaxNetuid         uint16
	FromBlock         uint64
	ToBlock           uint64
	BatchSize         uint64
	Workers           int
	Checkpoint        string
	CheckpointEnabled bool
	Out               string
	PGDSN             string
	RegTTL            time.Duration
	RegTimeout        time.Duration
	SkipSameSubnet    bool
	MergeDuplicates   bool
	MaxRetries        int
	RetryBackoff      time.Duration
	LogLevel          string
}

// LoadScan merges config file, environment variables, and flags into
// ScanConfig.
func LoadScan(cfgFile string, flags *pflag.FlagSet) (ScanConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"batch-size":         100,
		"workers":            4,
		"checkpoint":         "./data/checkpoint.json",
		"checkpoint-enabled": true,
		"out":                "./data/stake_movements.jsonl",
		"max-netuid":         128,
		"reg-ttl":            5 * time.Minute,
		"reg-timeout":        10 * time.Second,
		"max-retries":        5,
		"retry-backoff":      500 * time.Millisecond,
		"log-level":          "info",
	})
	if err != nil {
		return ScanConfig{}, err
	}

	return ScanConfig{
		SidecarURL:        v.GetString("sidecar"),
		SubstrateURL:      v.GetString("substrate"),
		MaxNetuid:         uint16(v.GetUint32("max-netuid")),
		FromBlock:         v.GetUint64("from"),
		ToBlock:           v.GetUint64("to"),
		BatchSize:         v.GetUint64("batch-size"),
		Workers:           v.GetInt("workers"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		Out:               v.GetString("out"),
		PGDSN:             v.GetString("pg-dsn"),
		RegTTL:            v.GetDuration("reg-ttl"),
		RegTimeout:        v.GetDuration("reg-timeout"),
		SkipSameSubnet:    v.GetBool("skip-same-subnet"),
		MergeDuplicates:   v.GetBool("merge-duplicates"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		LogLevel:          v.GetString("log-level"),
	}, nil
}
