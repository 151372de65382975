package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/scrypster/metacluster/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	_ = os.Unsetenv("METACLUSTER_MAX_CLUSTERS")
	_ = os.Unsetenv("METACLUSTER_CALL_TIMEOUT")
	_ = os.Unsetenv("METACLUSTER_LLM_PROVIDER")
	_ = os.Unsetenv("METACLUSTER_STORAGE_ENGINE")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Engine.MaxClusters)
	assert.Equal(t, 0.9, cfg.Engine.FuzzyThreshold)
	assert.Equal(t, 45*time.Second, cfg.Engine.CallTimeout)
	assert.Equal(t, 40, cfg.Engine.ProposerBatchSize)
	assert.Equal(t, 0.5, cfg.Engine.ReductionRatio)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "jsonl", cfg.Storage.Engine)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("METACLUSTER_MAX_CLUSTERS", "4")
	t.Setenv("METACLUSTER_FUZZY_THRESHOLD", "0.75")
	t.Setenv("METACLUSTER_CALL_TIMEOUT", "2m")
	t.Setenv("METACLUSTER_SYNTHESIZE_PARENTS", "YES")
	t.Setenv("METACLUSTER_LLM_PROVIDER", "ollama")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Engine.MaxClusters)
	assert.Equal(t, 0.75, cfg.Engine.FuzzyThreshold)
	assert.Equal(t, 2*time.Minute, cfg.Engine.CallTimeout)
	assert.True(t, cfg.Engine.SynthesizeParents)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
}

func TestLoadConfig_UnparseableEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("METACLUSTER_MAX_ROUNDS", "many")
	t.Setenv("METACLUSTER_CALL_TIMEOUT", "soon")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Engine.MaxRounds)
	assert.Equal(t, 45*time.Second, cfg.Engine.CallTimeout)
}

func TestLoadConfig_RejectsOutOfRangeValues(t *testing.T) {
	t.Setenv("METACLUSTER_FUZZY_THRESHOLD", "1.5")
	t.Setenv("METACLUSTER_MAX_CLUSTERS", "0")

	_, err := config.LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fuzzy_threshold")
	assert.Contains(t, err.Error(), "max_clusters")
}

func TestLoadConfigFile_OverlaysEnv(t *testing.T) {
	t.Setenv("METACLUSTER_MAX_ROUNDS", "7")
	_ = os.Unsetenv("METACLUSTER_MAX_CLUSTERS")

	path := filepath.Join(t.TempDir(), "metacluster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine:
  max_clusters: 5
  call_timeout: 10s
storage:
  engine: sqlite
  data_path: /tmp/out
logging:
  level: debug
`), 0o600))

	cfg, err := config.LoadConfigFile(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Engine.MaxClusters)
	assert.Equal(t, 7, cfg.Engine.MaxRounds, "keys absent from the file keep the env value")
	assert.Equal(t, 10*time.Second, cfg.Engine.CallTimeout)
	assert.Equal(t, "sqlite", cfg.Storage.Engine)
	assert.Equal(t, "/tmp/out", cfg.Storage.DataPath)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfigFile_PostgresRequiresDSN(t *testing.T) {
	_ = os.Unsetenv("METACLUSTER_POSTGRES_DSN")

	path := filepath.Join(t.TempDir(), "metacluster.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  engine: postgres\n"), 0o600))

	_, err := config.LoadConfigFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres_dsn")
}

func TestLoadConfigFile_Missing(t *testing.T) {
	_, err := config.LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_UnknownProvider(t *testing.T) {
	t.Setenv("METACLUSTER_LLM_PROVIDER", "carrier-pigeon")
	_, err := config.LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}
