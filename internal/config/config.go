// Package config defines the Configuration value consumed by the Scan/Click
// Pipeline and loads it via viper with environment-variable overrides. The
// core never persists configuration itself; Load/Save are convenience
// collaborators for the host CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/spf13/viper"

	"github.com/clickwatch/agent/internal/logging"
)

var log = logging.L("config")

// CaptureMode selects whether the backend binds to a window or a monitor.
type CaptureMode string

const (
	CaptureModeWindow  CaptureMode = "window"
	CaptureModeMonitor CaptureMode = "monitor"
)

// ClickMethod selects the non-intrusive click dispatch strategy.
type ClickMethod string

const (
	ClickMethodMessage  ClickMethod = "message"
	ClickMethodSimulate ClickMethod = "simulate"
)

// ScanMode selects whether the scheduler stays active only while a
// whitelisted process is foreground (event) or always (polling).
type ScanMode string

const (
	ScanModeEvent   ScanMode = "event"
	ScanModePolling ScanMode = "polling"
)

// MonitorResolutionPolicy names the strategy for resolving a click target
// HWND in monitor mode. Only one value exists today; the enum exists so a
// future policy can be added without changing the default (see DESIGN.md).
type MonitorResolutionPolicy string

const (
	PolicyRecursiveChildFromPoint MonitorResolutionPolicy = "recursive_child_from_point"
)

// Config is the frozen value supplied on Start/UpdateConfig. Every field is
// a recognized option; unrecognized keys in the backing file are ignored.
type Config struct {
	CaptureMode         CaptureMode `mapstructure:"capture_mode"`
	TargetHWND          uint64      `mapstructure:"target_hwnd"`
	TargetWindowTitle   string      `mapstructure:"target_window_title"`
	TitlePartialMatch   bool        `mapstructure:"title_partial_match"`
	TargetProcess       string      `mapstructure:"target_process"`
	ProcessPartialMatch bool        `mapstructure:"process_partial_match"`
	MonitorIndex        int32       `mapstructure:"monitor_index"`

	FPSMax                    int  `mapstructure:"fps_max"`
	IncludeCursor             bool `mapstructure:"include_cursor"`
	BorderRequired            bool `mapstructure:"border_required"`
	RestoreMinimizedNoActivate bool `mapstructure:"restore_minimized_noactivate"`
	RestoreAfterCapture       bool `mapstructure:"restore_after_capture"`
	CaptureTimeoutMs          int  `mapstructure:"capture_timeout_ms"`
	DirtyRegionMode           bool `mapstructure:"dirty_region_mode"`

	ROIX int `mapstructure:"roi_x"`
	ROIY int `mapstructure:"roi_y"`
	ROIW int `mapstructure:"roi_w"`
	ROIH int `mapstructure:"roi_h"`

	TemplatePaths  []string  `mapstructure:"template_paths"`
	Grayscale      bool      `mapstructure:"grayscale"`
	MultiScale     bool      `mapstructure:"multi_scale"`
	Scales         []float32 `mapstructure:"scales"`
	Threshold      float32   `mapstructure:"threshold"`
	MinDetections  int       `mapstructure:"min_detections"`

	ClickOffsetX             int32                   `mapstructure:"click_offset_x"`
	ClickOffsetY             int32                   `mapstructure:"click_offset_y"`
	ClickMethod              ClickMethod             `mapstructure:"click_method"`
	VerifyWindowBeforeClick  bool                    `mapstructure:"verify_window_before_click"`
	EnhancedWindowFinding    bool                    `mapstructure:"enhanced_window_finding"`
	CooldownS                float64                 `mapstructure:"cooldown_s"`
	MonitorResolutionPolicy  MonitorResolutionPolicy `mapstructure:"monitor_resolution_policy"`

	IntervalMs           int      `mapstructure:"interval_ms"`
	ScanMode             ScanMode `mapstructure:"scan_mode"`
	ActiveScanIntervalMs int      `mapstructure:"active_scan_interval_ms"`
	IdleScanIntervalMs   int      `mapstructure:"idle_scan_interval_ms"`
	HitCooldownMs        int      `mapstructure:"hit_cooldown_ms"`
	MissBackoffMsMax     int      `mapstructure:"miss_backoff_ms_max"`
	ProcessWhitelist     []string `mapstructure:"process_whitelist"`

	EnableMultiScreenPolling bool `mapstructure:"enable_multi_screen_polling"`
	ScreenPollingIntervalMs  int  `mapstructure:"screen_polling_interval_ms"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Default returns the baseline configuration. Host-side persistence layers
// start from this and overlay user choices.
func Default() *Config {
	return &Config{
		CaptureMode:          CaptureModeWindow,
		FPSMax:               15,
		CaptureTimeoutMs:     2000,
		TemplatePaths:        nil,
		Scales:               []float32{1.0, 1.25, 0.8},
		Threshold:            0.9,
		MinDetections:        1,
		ClickMethod:          ClickMethodMessage,
		MonitorResolutionPolicy: PolicyRecursiveChildFromPoint,
		CooldownS:            2,
		IntervalMs:           250,
		ScanMode:             ScanModePolling,
		ActiveScanIntervalMs: 250,
		IdleScanIntervalMs:   2000,
		HitCooldownMs:        2000,
		MissBackoffMsMax:     8000,
		LogLevel:             "info",
		LogFormat:            "text",
	}
}

// SortedScales returns a copy of Scales sorted ascending, used when
// computing the template signature so equivalent configs hash identically
// regardless of declaration order.
func (c *Config) SortedScales() []float32 {
	out := make([]float32, len(c.Scales))
	copy(out, c.Scales)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Load reads configuration from cfgFile (or the platform default path) via
// viper, overlaying environment variables with the CLICKWATCH_ prefix, and
// validates it. Fatal validation errors abort the load.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("clickwatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("CLICKWATCH")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %w", result.Fatals[0])
	}

	return cfg, nil
}

// Save persists cfg as YAML at the platform default location.
func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

// SaveTo persists cfg as YAML at cfgFile, or the platform default when empty.
func SaveTo(cfg *Config, cfgFile string) error {
	v := viper.New()
	v.Set("capture_mode", string(cfg.CaptureMode))
	v.Set("target_hwnd", cfg.TargetHWND)
	v.Set("target_window_title", cfg.TargetWindowTitle)
	v.Set("target_process", cfg.TargetProcess)
	v.Set("monitor_index", cfg.MonitorIndex)
	v.Set("fps_max", cfg.FPSMax)
	v.Set("template_paths", cfg.TemplatePaths)
	v.Set("scales", cfg.Scales)
	v.Set("threshold", cfg.Threshold)
	v.Set("min_detections", cfg.MinDetections)
	v.Set("click_method", string(cfg.ClickMethod))
	v.Set("cooldown_s", cfg.CooldownS)
	v.Set("scan_mode", string(cfg.ScanMode))
	v.Set("interval_ms", cfg.IntervalMs)
	v.Set("log_level", cfg.LogLevel)
	v.Set("log_format", cfg.LogFormat)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "clickwatch.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := v.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	return os.Chmod(cfgPath, 0600)
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "ClickWatch")
	default:
		return "/etc/clickwatch"
	}
}
