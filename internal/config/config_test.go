package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMissionSettingsVersionStamped(t *testing.T) {
	s := DefaultMissionSettings()
	assert.Equal(t, SettingsVersion, s.SettingsVersion)
	assert.Greater(t, s.MaxConcurrentRequests, 0)
	assert.Equal(t, 0.5, s.HybridAlpha)
}

func TestApplyOverridesUnknownKeyIgnored(t *testing.T) {
	base := DefaultMissionSettings()
	out := ApplyOverrides(base, map[string]any{
		"not_a_real_setting": 123,
	})
	assert.Equal(t, base, out)
}

func TestApplyOverridesTypedFields(t *testing.T) {
	base := DefaultMissionSettings()
	out := ApplyOverrides(base, map[string]any{
		"max_total_iterations": float64(80),
		"hybrid_alpha":         0.75,
		"use_web_search":       false,
		"search_provider":      "bing",
	})
	require.Equal(t, 80, out.MaxTotalIterations)
	assert.Equal(t, 0.75, out.HybridAlpha)
	assert.False(t, out.UseWebSearch)
	assert.Equal(t, "bing", out.SearchProvider)

	assert.Equal(t, base.InitialResearchMaxDepth, out.InitialResearchMaxDepth)
}

func TestLoadWithoutFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, DefaultMissionSettings().MaxConcurrentRequests, cfg.Settings.MaxConcurrentRequests)
}

func TestLoadMissingFilePathIsNotAnError(t *testing.T) {
	cfg, err := Load("/nonexistent/path/maestro.yaml")
	require.NoError(t, err)
	require.NotNil(t, cfg)
}
