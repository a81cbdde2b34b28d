package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/introspect-labs/introspect/pkg/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "introspect.yaml"), []byte(content), 0o644))
	return dir
}

const minimalConfig = `storage:
  driver: memory
stream:
  driver: memory
analysis:
  tiers:
    - label: primary
      endpoint: http://localhost:8801/v1/analyze
`

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "events", cfg.Stream.Name)
	assert.Equal(t, 100, cfg.Relay.BatchSize)
	assert.Equal(t, 8, cfg.Relay.MaxAttempts)
	assert.Equal(t, 5, cfg.Guard.FailureThreshold)
	assert.Equal(t, 3, cfg.Guard.HalfOpenMaxTrials)
	assert.Equal(t, 3, cfg.Guard.RetryMaxAttempts)
	assert.Equal(t, "analysis-worker", cfg.Analysis.Group)
	assert.Equal(t, 2, cfg.Analysis.Consumers)
	assert.Equal(t, "profile-storage", cfg.Profile.Group)
}

func TestLoad_FullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `storage:
  driver: postgres
  dsn: postgres://localhost/introspect
stream:
  driver: redis
  visibilityTimeout: 45s
  redis:
    addr: localhost:6379
    keyPrefix: "introspect:"
relay:
  pollInterval: 250ms
  maxAttempts: 5
guard:
  failureThreshold: 7
  openTimeout: 30s
analysis:
  consumers: 4
  instantTimeout: 2s
  deepTimeout: 90s
  tiers:
    - label: primary
      endpoint: http://localhost:8801/v1/analyze
      model: coach-large
    - label: local
      endpoint: http://localhost:8803/v1/analyze
profile:
  enabled: true
alerts:
  - type: console
  - type: webhook
    url: https://hooks.example.com/introspect
`))
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "45s", cfg.Stream.VisibilityTimeout)
	assert.Equal(t, 5, cfg.Relay.MaxAttempts)
	assert.Equal(t, 7, cfg.Guard.FailureThreshold)
	assert.Equal(t, 4, cfg.Analysis.Consumers)
	assert.Len(t, cfg.Analysis.Tiers, 2)
	assert.True(t, cfg.Profile.Enabled)
	assert.Len(t, cfg.Alerts, 2)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing storage driver",
			content: `stream:
  driver: memory
analysis:
  tiers:
    - label: primary
      endpoint: http://x
`,
			wantErr: "storage.driver is required",
		},
		{
			name: "postgres without dsn",
			content: `storage:
  driver: postgres
stream:
  driver: memory
analysis:
  tiers:
    - label: primary
      endpoint: http://x
`,
			wantErr: "storage.dsn is required",
		},
		{
			name: "redis without addr",
			content: `storage:
  driver: memory
stream:
  driver: redis
analysis:
  tiers:
    - label: primary
      endpoint: http://x
`,
			wantErr: "stream.redis.addr is required",
		},
		{
			name: "no tiers",
			content: `storage:
  driver: memory
stream:
  driver: memory
analysis:
  tiers: []
`,
			wantErr: "at least one analysis tier",
		},
		{
			name: "duplicate tier labels",
			content: `storage:
  driver: memory
stream:
  driver: memory
analysis:
  tiers:
    - label: primary
      endpoint: http://x
    - label: primary
      endpoint: http://y
`,
			wantErr: "duplicate tier label",
		},
		{
			name: "bad duration",
			content: `storage:
  driver: memory
stream:
  driver: memory
relay:
  pollInterval: soon
analysis:
  tiers:
    - label: primary
      endpoint: http://x
`,
			wantErr: "relay.pollInterval",
		},
		{
			name: "webhook without url",
			content: minimalConfig + `alerts:
  - type: webhook
`,
			wantErr: "webhook URL required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseDurationDefault(t *testing.T) {
	assert.Equal(t, time.Second, types.ParseDurationDefault("1s", 0))
	assert.Equal(t, 500*time.Millisecond, types.ParseDurationDefault("", 500*time.Millisecond))
	assert.Equal(t, 500*time.Millisecond, types.ParseDurationDefault("garbage", 500*time.Millisecond))
	assert.Equal(t, 500*time.Millisecond, types.ParseDurationDefault("-1s", 500*time.Millisecond))
}
