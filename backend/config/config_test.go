package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSyncIsValid(t *testing.T) {
	require.NoError(t, DefaultSync().Validate())
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *SyncConfig)
	}{
		{"position interval too small", func(c *SyncConfig) { c.PositionUpdateIntervalMs = 40 }},
		{"position interval too large", func(c *SyncConfig) { c.PositionUpdateIntervalMs = 6000 }},
		{"throttle min equals interval", func(c *SyncConfig) { c.PositionThrottleMinMs = c.PositionUpdateIntervalMs }},
		{"outbox limit too small", func(c *SyncConfig) { c.OutboxSizeLimit = 50; c.OutboxCleanupBatch = 10 }},
		{"cleanup batch equals limit", func(c *SyncConfig) { c.OutboxSizeLimit = 100; c.OutboxCleanupBatch = 100 }},
		{"dedup window zero", func(c *SyncConfig) { c.OperationDedupWindowSec = 0 }},
		{"result ttl shorter than window", func(c *SyncConfig) { c.OperationDedupWindowSec = 300; c.OperationResultTTLSec = 200 }},
		{"timeout not above ping", func(c *SyncConfig) { c.ClientPingIntervalSec = 30; c.ClientTimeoutSec = 30 }},
		{"zero batch size", func(c *SyncConfig) { c.MaxEventBatchSize = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultSync()
			tc.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidSyncConfig)
		})
	}
}

func TestValidateReportsEveryViolation(t *testing.T) {
	c := DefaultSync()
	c.PositionUpdateIntervalMs = 40
	c.OutboxSizeLimit = 5
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSITION_UPDATE_INTERVAL_MS")
	assert.Contains(t, err.Error(), "OUTBOX_SIZE_LIMIT")
}

func TestLoadFromFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "musicboxConfig.yaml")
	yaml := "running:\n  port: 6000\nsync:\n  outbox_size_limit: 200\n  outbox_cleanup_batch: 20\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("POSITION_UPDATE_INTERVAL_MS", "1000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.Running.Port)
	assert.Equal(t, 200, cfg.Sync.OutboxSizeLimit)
	assert.Equal(t, 20, cfg.Sync.OutboxCleanupBatch)
	assert.Equal(t, 1000, cfg.Sync.PositionUpdateIntervalMs)
	assert.Equal(t, 300, cfg.Sync.OperationDedupWindowSec)
	assert.Equal(t, 60, cfg.Sync.ClientTimeoutSec)
	assert.Equal(t, 400, cfg.Sync.PositionThrottleMinMs)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "musicboxConfig.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sync:\n  operation_dedup_window_sec: 900\n"), 0o600))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidSyncConfig)
}
