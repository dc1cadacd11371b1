package config

import "fmt"

// ValidateResult splits validation problems into Fatals (abort Start or
// UpdateConfig) and Warnings (logged, startup proceeds), per §6's rule that
// the core validates only a small set of fields strictly.
type ValidateResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any fatal validation error was found.
func (r ValidateResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings, for callers that just want
// to log everything found.
func (r ValidateResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

// ValidateTiered checks the fields §6 calls out as core-validated. Anything
// outside that list (click offsets, process whitelist contents, and so on)
// is accepted as given; the host is responsible for those defaults.
func (c *Config) ValidateTiered() ValidateResult {
	var r ValidateResult

	if c.IntervalMs < 1 {
		r.Fatals = append(r.Fatals, fmt.Errorf("interval_ms %d must be >= 1", c.IntervalMs))
	}

	if c.FPSMax < 1 || c.FPSMax > 60 {
		r.Fatals = append(r.Fatals, fmt.Errorf("fps_max %d must be in [1,60]", c.FPSMax))
	}

	if c.Threshold < 0 || c.Threshold > 1 {
		r.Fatals = append(r.Fatals, fmt.Errorf("threshold %f must be in [0,1]", c.Threshold))
	}

	if c.MinDetections < 1 {
		r.Fatals = append(r.Fatals, fmt.Errorf("min_detections %d must be >= 1", c.MinDetections))
	}

	for _, s := range c.Scales {
		if s <= 0 {
			r.Fatals = append(r.Fatals, fmt.Errorf("scales entry %f must be > 0", s))
		}
	}

	switch c.CaptureMode {
	case CaptureModeWindow:
		hasTarget := c.TargetHWND > 0 || c.TargetWindowTitle != "" || c.TargetProcess != ""
		if !hasTarget {
			r.Fatals = append(r.Fatals, fmt.Errorf("window mode requires one of target_hwnd, target_window_title, target_process"))
		}
	case CaptureModeMonitor:
		if c.MonitorIndex < 0 {
			r.Fatals = append(r.Fatals, fmt.Errorf("monitor_index %d must be >= 0", c.MonitorIndex))
		}
	default:
		r.Fatals = append(r.Fatals, fmt.Errorf("capture_mode %q must be %q or %q", c.CaptureMode, CaptureModeWindow, CaptureModeMonitor))
	}

	if c.ClickMethod != ClickMethodMessage && c.ClickMethod != ClickMethodSimulate {
		r.Warnings = append(r.Warnings, fmt.Errorf("click_method %q is not recognized, defaulting to %q", c.ClickMethod, ClickMethodMessage))
		c.ClickMethod = ClickMethodMessage
	}

	if c.ScanMode != ScanModeEvent && c.ScanMode != ScanModePolling {
		r.Warnings = append(r.Warnings, fmt.Errorf("scan_mode %q is not recognized, defaulting to %q", c.ScanMode, ScanModePolling))
		c.ScanMode = ScanModePolling
	}

	if c.CaptureTimeoutMs < 500 {
		r.Warnings = append(r.Warnings, fmt.Errorf("capture_timeout_ms %d is below the recommended minimum 500, clamping", c.CaptureTimeoutMs))
		c.CaptureTimeoutMs = 500
	}

	if c.CooldownS < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("cooldown_s %f must be >= 0, clamping to 0", c.CooldownS))
		c.CooldownS = 0
	}

	if c.HitCooldownMs < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("hit_cooldown_ms %d must be >= 0, clamping to 0", c.HitCooldownMs))
		c.HitCooldownMs = 0
	}

	if c.MissBackoffMsMax < c.ActiveScanIntervalMs {
		r.Warnings = append(r.Warnings, fmt.Errorf("miss_backoff_ms_max %d is below active_scan_interval_ms %d, clamping up", c.MissBackoffMsMax, c.ActiveScanIntervalMs))
		c.MissBackoffMsMax = c.ActiveScanIntervalMs
	}

	if c.LogLevel != "" && !validLogLevels[c.LogLevel] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not recognized", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	return r
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}
