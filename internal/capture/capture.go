// Package capture owns the Capture Backend (§4.1): a WGC session bound to
// either a target window or a monitor, producing BGR frames of the target's
// content size with strict row-pitch handling, frame-pool recreation on
// size change, minimized-window reanimation without activation, and session
// health tracking.
package capture

import (
	"errors"
	"time"

	"github.com/clickwatch/agent/internal/logging"
)

var log = logging.L("capture")

// Backend is the Capture Backend contract from §4.1, operation names kept
// close to the spec's verbs.
type Backend interface {
	// OpenWindow resolves target (an HWND, a window title, or a process
	// executable basename/path) to a valid HWND and records it as the
	// capture target; the session is created and started by the first
	// CaptureFrame.
	OpenWindow(target WindowTarget) error
	// OpenMonitor resolves a 0-based monitor index and records it as the
	// capture target; the session is created and started by the first
	// CaptureFrame.
	OpenMonitor(index int) error
	// Configure may be called at any time; if a session is open it is
	// closed and reopened with the new parameters.
	Configure(cfg Config)
	// CaptureFrame returns the most recent frame, or nil on transient
	// failure. The caller may retry.
	CaptureFrame(restoreAfterCapture bool) (*Frame, error)
	// Stats reports capture session counters and health.
	Stats() Stats
	// Close is idempotent. Re-minimizes the window per the rules in §4.1.
	Close() error
}

// WindowTarget names a window to resolve, by exactly one of its fields.
type WindowTarget struct {
	HWND                uint64
	Title               string
	TitlePartialMatch   bool
	Process             string
	ProcessPartialMatch bool
}

// Config carries the subset of Configuration (§3) the Capture Backend
// consumes directly.
type Config struct {
	FPSMax                     int
	IncludeCursor              bool
	BorderRequired             bool
	RestoreMinimizedNoActivate bool
	RestoreAfterCapture        bool
	CaptureTimeout             time.Duration
	// DirtyRegionMode is an opaque toggle passed through to the frame pool
	// creation call; nothing else derives behavior from it (Open Question,
	// SPEC_FULL.md §5).
	DirtyRegionMode bool
}

// ContentSize is the pixel dimensions of the buffer WGC delivers, which may
// differ from a window's client-rect size under DPI scaling.
type ContentSize struct {
	Width  int
	Height int
}

// Frame is a short-lived value valid until the next CaptureFrame call or
// session close.
type Frame struct {
	// BGR holds packed BGR pixels, row-major, Stride bytes per row. Stride
	// may exceed Width*3; callers MUST index by Stride, never Width*3.
	BGR    []byte
	Width  int
	Height int
	Stride int
	// ContentSize is the content size observed when this frame was
	// extracted, included so callers can detect a mid-stream change.
	ContentSize ContentSize
	// MonotonicTimestamp is a monotonic clock reading at extraction time.
	MonotonicTimestamp time.Duration
}

// SessionState mirrors the Capture Session lifecycle in §3:
// Created → Started → Healthy ⇄ Degraded → Closed.
type SessionState string

const (
	SessionCreated  SessionState = "created"
	SessionStarted  SessionState = "started"
	SessionHealthy  SessionState = "healthy"
	SessionDegraded SessionState = "degraded"
	SessionClosed   SessionState = "closed"
)

// Stats is the return value of get_stats in §4.1.
type Stats struct {
	FrameCount      uint64
	Elapsed         time.Duration
	TargetFPS       int
	ActualFPS       float64
	ContentSize     ContentSize
	SessionHealthy  bool
	SessionState    SessionState
	WasMinimized    bool
	RecoveryAttempts int
}

// Sentinel error kinds, mirroring the error taxonomy in §7.
var (
	// ErrCaptureUnavailable means the WGC library is missing or session
	// creation was refused. Non-recoverable for this Start; no
	// PrintWindow-style fallback is ever attempted.
	ErrCaptureUnavailable = errors.New("capture: WGC session unavailable")
	// ErrTargetGone means the HWND is no longer a window or the monitor
	// was unplugged.
	ErrTargetGone = errors.New("capture: target window or monitor is gone")
	// ErrMonitorOutOfRange is returned by OpenMonitor with a diagnostic
	// naming the valid range.
	ErrMonitorOutOfRange = errors.New("capture: monitor index out of range")
	// ErrNotAWindow is returned by OpenWindow when the resolved handle is
	// not a window.
	ErrNotAWindow = errors.New("capture: resolved handle is not a window")
	// ErrUnsupportedPlatform is returned by the non-Windows stub backend;
	// the core has no non-Windows capture backend (explicit non-goal, §1).
	ErrUnsupportedPlatform = errors.New("capture: unsupported platform")
)

const (
	// framePoolBufferCount double-buffers the WGC frame pool so the
	// producer callback firing before the consumer drains the previous
	// frame never stalls the capture thread (original_source/capture/
	// wgc_backend.py).
	framePoolBufferCount = 2

	// healthCheckInterval is the cadence of the lightweight health probe
	// described in §4.1.
	healthCheckInterval = 5 * time.Second
	// staleFrameTimeout is how long without a new frame before a session
	// is considered unhealthy.
	staleFrameTimeout = 10 * time.Second
	// degradedThreshold is the number of consecutive health-check
	// failures before a session is marked Degraded.
	degradedThreshold = 3

	// minimizedRestoreSettle is the sleep after a successful no-activate
	// restore, giving the compositor time to present the now-visible
	// window before the next frame is sampled.
	minimizedRestoreSettle = 120 * time.Millisecond
)

// MonitorInfo describes one enumerated display.
type MonitorInfo struct {
	Index     int
	Name      string
	Width     int
	Height    int
	X         int
	Y         int
	IsPrimary bool
}

// NewBackend constructs the platform Capture Backend.
func NewBackend() Backend {
	return newPlatformBackend()
}
