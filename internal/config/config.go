// Package config handles loading and validation of introspect.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/introspect-labs/introspect/pkg/types"
)

// Load reads and parses introspect.yaml from the given directory.
func Load(dir string) (*types.Config, error) {
	path := filepath.Join(dir, "introspect.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg types.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *types.Config) {
	if cfg.Stream.Name == "" {
		cfg.Stream.Name = "events"
	}
	if cfg.Relay.BatchSize <= 0 {
		cfg.Relay.BatchSize = 100
	}
	if cfg.Relay.MaxAttempts <= 0 {
		cfg.Relay.MaxAttempts = 8
	}
	if cfg.Guard.FailureThreshold <= 0 {
		cfg.Guard.FailureThreshold = 5
	}
	if cfg.Guard.HalfOpenMaxTrials <= 0 {
		cfg.Guard.HalfOpenMaxTrials = 3
	}
	if cfg.Guard.RetryMaxAttempts <= 0 {
		cfg.Guard.RetryMaxAttempts = 3
	}
	if cfg.Analysis.Group == "" {
		cfg.Analysis.Group = "analysis-worker"
	}
	if cfg.Analysis.Consumers <= 0 {
		cfg.Analysis.Consumers = 2
	}
	if cfg.Profile.Group == "" {
		cfg.Profile.Group = "profile-storage"
	}
}

func validate(cfg *types.Config) error {
	switch cfg.Storage.Driver {
	case "postgres":
		if cfg.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required when driver is postgres")
		}
	case "memory":
	case "":
		return fmt.Errorf("storage.driver is required")
	default:
		return fmt.Errorf("unknown storage.driver %q", cfg.Storage.Driver)
	}

	switch cfg.Stream.Driver {
	case "redis":
		if cfg.Stream.Redis == nil || cfg.Stream.Redis.Addr == "" {
			return fmt.Errorf("stream.redis.addr is required when driver is redis")
		}
	case "sqs":
		if cfg.Stream.SQS == nil || len(cfg.Stream.SQS.GroupQueues) == 0 {
			return fmt.Errorf("stream.sqs.groupQueues is required when driver is sqs")
		}
	case "memory":
	case "":
		return fmt.Errorf("stream.driver is required")
	default:
		return fmt.Errorf("unknown stream.driver %q", cfg.Stream.Driver)
	}

	for _, d := range []struct{ name, val string }{
		{"stream.visibilityTimeout", cfg.Stream.VisibilityTimeout},
		{"relay.pollInterval", cfg.Relay.PollInterval},
		{"relay.baseBackoff", cfg.Relay.BaseBackoff},
		{"relay.maxBackoff", cfg.Relay.MaxBackoff},
		{"guard.openTimeout", cfg.Guard.OpenTimeout},
		{"guard.retryBaseDelay", cfg.Guard.RetryBaseDelay},
		{"guard.retryMaxDelay", cfg.Guard.RetryMaxDelay},
		{"analysis.instantTimeout", cfg.Analysis.InstantTimeout},
		{"analysis.deepTimeout", cfg.Analysis.DeepTimeout},
		{"shutdown.drainTimeout", cfg.Shutdown.DrainTimeout},
	} {
		if err := checkDuration(d.name, d.val); err != nil {
			return err
		}
	}

	if len(cfg.Analysis.Tiers) == 0 {
		return fmt.Errorf("at least one analysis tier is required")
	}
	seen := map[string]bool{}
	for i, tier := range cfg.Analysis.Tiers {
		if tier.Label == "" {
			return fmt.Errorf("analysis.tiers[%d].label is required", i)
		}
		if seen[tier.Label] {
			return fmt.Errorf("duplicate tier label %q", tier.Label)
		}
		seen[tier.Label] = true
	}

	for i, a := range cfg.Alerts {
		switch a.Type {
		case types.AlertConsole:
		case types.AlertWebhook:
			if a.URL == "" {
				return fmt.Errorf("alerts[%d]: webhook URL required", i)
			}
		case types.AlertFile:
			if a.Path == "" {
				return fmt.Errorf("alerts[%d]: file path required", i)
			}
		default:
			return fmt.Errorf("alerts[%d]: unknown alert type %q", i, a.Type)
		}
	}

	return nil
}

func checkDuration(name, val string) error {
	if val == "" {
		return nil
	}
	if _, err := time.ParseDuration(val); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
