package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// WatchConfig holds configuration for the realtime watch command.
type WatchConfig struct {
	SidecarURL      string
	SubstrateURL    string
	MaxNetuid       uint16
	Interval        time.Duration
	Out             string
	PGDSN           string
	RegTTL          time.Duration
	RegTimeout      time.Duration
	SkipSameSubnet  bool
	MergeDuplicates bool
	MaxRetries      int
	RetryBackoff    time.Duration
	LogLevel        string
}

// LoadWatch merges config file, environment variables, and flags into
// WatchConfig.
func LoadWatch(cfgFile string, flags *pflag.FlagSet) (WatchConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"interval":         12 * time.Second,
		"out":              "./data/stake_movements.jsonl",
		"max-netuid":       128,
		"reg-ttl":          5 * time.Minute,
		"reg-timeout":      10 * time.Second,
		"merge-duplicates": true,
		"max-retries":      5,
		"retry-backoff":    500 * time.Millisecond,
		"log-level":        "info",
	})
	if err != nil {
		return WatchConfig{}, err
	}

	return WatchConfig{
		SidecarURL:      v.GetString("sidecar"),
		SubstrateURL:    v.GetString("substrate"),
		MaxNetuid:       uint16(v.GetUint32("max-netuid")),
		Interval:        v.GetDuration("interval"),
		Out:             v.GetString("out"),
		PGDSN:           v.GetString("pg-dsn"),
		RegTTL:          v.GetDuration("reg-ttl"),
		RegTimeout:      v.GetDuration("reg-timeout"),
		SkipSameSubnet:  v.GetBool("skip-same-subnet"),
		MergeDuplicates: v.GetBool("merge-duplicates"),
		MaxRetries:      v.GetInt("max-retries"),
		RetryBackoff:    v.GetDuration("retry-backoff"),
		LogLevel:        v.GetString("log-level"),
	}, nil
}

func newViper(cfgFile string, flags *pflag.FlagSet, defaults map[string]interface{}) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("STAKEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return v, nil
}
