package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	cfg.TargetWindowTitle = "Cursor"
	result := cfg.ValidateTiered()
	require.False(t, result.HasFatals(), "default config should not have fatal errors: %v", result.Fatals)
}

func TestValidateTieredMissingWindowTargetIsFatal(t *testing.T) {
	cfg := Default()
	cfg.CaptureMode = CaptureModeWindow
	result := cfg.ValidateTiered()
	require.True(t, result.HasFatals())
}

func TestValidateTieredMonitorModeNegativeIndexIsFatal(t *testing.T) {
	cfg := Default()
	cfg.CaptureMode = CaptureModeMonitor
	cfg.MonitorIndex = -1
	result := cfg.ValidateTiered()
	require.True(t, result.HasFatals())
}

func TestValidateTieredThresholdOutOfRangeIsFatal(t *testing.T) {
	cfg := Default()
	cfg.TargetWindowTitle = "Cursor"
	cfg.Threshold = 1.5
	result := cfg.ValidateTiered()
	require.True(t, result.HasFatals())
}

func TestValidateTieredZeroScaleIsFatal(t *testing.T) {
	cfg := Default()
	cfg.TargetWindowTitle = "Cursor"
	cfg.Scales = []float32{1.0, 0, 0.8}
	result := cfg.ValidateTiered()
	require.True(t, result.HasFatals())
}

func TestValidateTieredUnknownClickMethodIsWarningAndClamped(t *testing.T) {
	cfg := Default()
	cfg.TargetWindowTitle = "Cursor"
	cfg.ClickMethod = ClickMethod("teleport")
	result := cfg.ValidateTiered()
	require.False(t, result.HasFatals())
	assert.NotEmpty(t, result.Warnings)
	assert.Equal(t, ClickMethodMessage, cfg.ClickMethod)
}

func TestValidateTieredLowCaptureTimeoutIsClamped(t *testing.T) {
	cfg := Default()
	cfg.TargetWindowTitle = "Cursor"
	cfg.CaptureTimeoutMs = 10
	result := cfg.ValidateTiered()
	require.False(t, result.HasFatals())
	assert.Equal(t, 500, cfg.CaptureTimeoutMs)
}

func TestSortedScalesDoesNotMutateOriginal(t *testing.T) {
	cfg := Default()
	cfg.Scales = []float32{1.25, 0.8, 1.0}
	sorted := cfg.SortedScales()
	assert.Equal(t, []float32{0.8, 1.0, 1.25}, sorted)
	assert.Equal(t, []float32{1.25, 0.8, 1.0}, cfg.Scales)
}

func TestHasFatalsOnEmptyResult(t *testing.T) {
	r := ValidateResult{}
	assert.False(t, r.HasFatals())
}

func TestLoadParsesYAMLFile(t *testing.T) {
	doc := map[string]any{
		"capture_mode":        "window",
		"target_window_title": "Cursor",
		"threshold":           0.85,
		"scales":              []float32{1.0, 1.25},
		"click_method":        "simulate",
	}
	raw, err := yaml.Marshal(doc)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "clickwatch.yaml")
	require.NoError(t, os.WriteFile(path, raw, 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, CaptureModeWindow, cfg.CaptureMode)
	assert.Equal(t, "Cursor", cfg.TargetWindowTitle)
	assert.Equal(t, float32(0.85), cfg.Threshold)
	assert.Equal(t, ClickMethodSimulate, cfg.ClickMethod)
}

func TestAllErrorsReturnsBoth(t *testing.T) {
	cfg := Default()
	cfg.TargetWindowTitle = "Cursor"
	cfg.Threshold = 2 // fatal
	cfg.ClickMethod = ClickMethod("bogus") // warning
	result := cfg.ValidateTiered()

	all := result.AllErrors()
	assert.GreaterOrEqual(t, len(all), 2)
}
