package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("load default config when file doesn't exist", func(t *testing.T) {
		tmpDir := t.TempDir()

		cfg, err := Load(filepath.Join(tmpDir, "nonexistent.json"))

		require.NoError(t, err)
		assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
		assert.Equal(t, 400, cfg.Fillers.ShortDelayMs)
		assert.NotEmpty(t, cfg.DataDir)
	})

	t.Run("load json config", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "callcore.json")

		testConfig := `{
			"llm": {"provider": "anthropic", "model": "claude-sonnet-4"},
			"fillers": {"short_delay_ms": 250},
			"data_dir": "` + tmpDir + `"
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := Load(configPath)

		require.NoError(t, err)
		assert.Equal(t, "anthropic", cfg.LLM.Provider)
		assert.Equal(t, "claude-sonnet-4", cfg.LLM.Model)
		assert.Equal(t, 250, cfg.Fillers.ShortDelayMs)
		assert.Equal(t, 4500, cfg.Fillers.LongDelayMs)
		assert.Equal(t, tmpDir, cfg.DataDir)
		assert.Equal(t, filepath.Join(tmpDir, "transcripts"), cfg.TranscriptDir())
	})

	t.Run("load yaml config", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "callcore.yaml")

		testConfig := "governance:\n  enabled: false\n  interval_ms: 10000\ntools:\n  manifest_path: tools.yaml\n"
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := Load(configPath)

		require.NoError(t, err)
		assert.False(t, cfg.Governance.Enabled)
		assert.Equal(t, 10000, cfg.Governance.IntervalMs)
		assert.Equal(t, "tools.yaml", cfg.Tools.ManifestPath)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "callcore.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"llm": {"model": "from-file"}}`), 0644))

		t.Setenv("CALLCORE_LLM_MODEL", "from-env")
		t.Setenv("CALLCORE_TOOLS_TIMEOUT_MS", "1200")

		cfg, err := Load(configPath)

		require.NoError(t, err)
		assert.Equal(t, "from-env", cfg.LLM.Model)
		assert.Equal(t, 1200, cfg.Tools.TimeoutMs)
	})

	t.Run("invalid file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "callcore.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{not json`), 0644))

		_, err := Load(configPath)
		assert.Error(t, err)
	})
}
