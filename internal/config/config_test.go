package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HendryAvila/membank/internal/memory"
	"github.com/HendryAvila/membank/internal/recall"
)

func writeConfig(t *testing.T, body string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "data_dir: "+dir+"\n"+
		"memory:\n"+
		"  budget_mb: 64\n"+
		"  strict_mode: true\n"+
		"recall:\n"+
		"  half_life: 72h\n"+
		"  risk_threshold: 0.6\n"+
		"log:\n"+
		"  level: debug\n"+
		"  format: console\n", 0o600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, int64(64), cfg.Memory.BudgetMB)
	assert.True(t, cfg.Memory.StrictMode)
	assert.Equal(t, 72*time.Hour, cfg.Recall.HalfLife.Duration())
	assert.InDelta(t, 0.6, cfg.Recall.RiskThreshold, 1e-9)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)

	// Unset fields fall back to defaults.
	assert.InDelta(t, memory.DefaultSuccessThreshold, cfg.Memory.SuccessThreshold, 1e-9)
	assert.Equal(t, recall.DefaultPatternTTL, cfg.Recall.PatternTTL.Duration())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "memory:\n  budget_mb: 64\n", 0o600)
	t.Setenv("MEMBANK_MEMORY_BUDGET_MB", "128")
	t.Setenv("MEMBANK_RECALL_PATTERN_TTL", "30s")
	t.Setenv("MEMBANK_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(128), cfg.Memory.BudgetMB)
	assert.Equal(t, 30*time.Second, cfg.Recall.PatternTTL.Duration())
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_DefaultPathMayBeAbsent(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dataDir := t.TempDir()
	t.Setenv("MEMBANK_DATA_DIR", dataDir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, memory.DefaultBudgetBytes>>20, cfg.Memory.BudgetMB)
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_RejectsInsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not enforced on windows")
	}
	path := writeConfig(t, "memory:\n  budget_mb: 64\n", 0o644)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"encryption without passphrase", "memory:\n  encryption: true\n", "Passphrase"},
		{"threshold above one", "memory:\n  success_threshold: 1.5\n", "SuccessThreshold"},
		{"negative budget", "memory:\n  budget_mb: -1\n", "BudgetMB"},
		{"bad log format", "log:\n  format: xml\n", "log format"},
		{"bad metrics addr", "metrics:\n  addr: nope\n", "Addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body, 0o600))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_EncryptionWithPassphrase(t *testing.T) {
	path := writeConfig(t, "memory:\n  encryption: true\n", 0o600)
	t.Setenv("MEMBANK_MEMORY_PASSPHRASE", "correct horse")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Memory.Passphrase.IsSet())

	opts := cfg.MemoryOptions("demo", zap.NewNop())
	assert.True(t, opts.Encryption)
	assert.Equal(t, []byte("correct horse"), opts.Passphrase)
}

func TestSecret_Redacted(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.NotContains(t, fmt.Sprintf("%v %s %#v", s, s, s), "hunter2")
	assert.Equal(t, "hunter2", s.Value())

	var empty Secret
	assert.False(t, empty.IsSet())
	assert.Equal(t, "", empty.String())
}

func TestDuration_RejectsNegative(t *testing.T) {
	var d Duration
	assert.Error(t, d.UnmarshalText([]byte("-5m")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())
}

func TestOptions(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/var/lib/membank"
	cfg.Memory.BudgetMB = 2

	mo := cfg.MemoryOptions("api", nil)
	assert.Equal(t, "api", mo.Project)
	assert.Equal(t, "/var/lib/membank", mo.DataDir)
	assert.Equal(t, int64(2<<20), mo.BudgetBytes)
	assert.Nil(t, mo.Passphrase)

	ro := cfg.RecallOptions(nil)
	assert.Equal(t, recall.DefaultHalfLife, ro.HalfLife)
	assert.InDelta(t, recall.DefaultRiskThreshold, ro.RiskThreshold, 1e-9)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "memory.budget_mb", envKey("MEMBANK_MEMORY_BUDGET_MB"))
	assert.Equal(t, "recall.half_life", envKey("MEMBANK_RECALL_HALF_LIFE"))
	assert.Equal(t, "log.format", envKey("MEMBANK_LOG_FORMAT"))
	assert.Equal(t, "data_dir", envKey("MEMBANK_DATA_DIR"))
}
