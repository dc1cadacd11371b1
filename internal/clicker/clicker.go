// Package clicker implements non-intrusive click dispatch (§4.3's "Click
// dispatch" subsection): PostMessage/SendMessageTimeout in window mode,
// recursive child-window-from-point resolution in monitor mode, and the
// SendInput-based `simulate` alternate dispatch strategy.
package clicker

import (
	"errors"

	"github.com/clickwatch/agent/internal/logging"
)

var log = logging.L("clicker")

// Method selects the dispatch strategy, mirroring Configuration's
// click_method enum (§3).
type Method string

const (
	MethodMessage  Method = "message"
	MethodSimulate Method = "simulate"
)

// Request is everything a dispatch needs to compute and deliver one click.
// Coordinates are always supplied in capture-content pixel space; the
// Dispatcher performs the content->client or screen->client conversion
// itself so callers never need platform knowledge.
type Request struct {
	// WindowMode selects the window-mode path (content->client scaling,
	// dispatch straight to HWND) vs monitor-mode (screen coords, recursive
	// child-from-point resolution).
	WindowMode bool

	// HWND is the bound target window, used directly in window mode.
	HWND uint64

	// ContentX/ContentY is the click point in capture-content pixel space.
	ContentX, ContentY int
	// ContentW/ContentH is the content size the point was computed
	// against, needed for window-mode content->client scaling.
	ContentW, ContentH int

	Method                  Method
	EnhancedWindowFinding   bool
	VerifyWindowBeforeClick bool
}

// Dispatcher delivers one non-intrusive click per Request.
type Dispatcher interface {
	Click(req Request) error
}

// Sentinel errors, per §7's taxonomy.
var (
	// ErrWindowGone means the window-mode target HWND is no longer valid.
	ErrWindowGone = errors.New("clicker: target window is gone")
	// ErrNoClickableWindow means monitor-mode point resolution found no
	// visible, enabled child window at the click point.
	ErrNoClickableWindow = errors.New("clicker: no clickable window at point")
	// ErrDispatchTimedOut means SendMessageTimeout's SMTO_ABORTIFHUNG
	// timeout elapsed without a reply — the target is hung.
	ErrDispatchTimedOut = errors.New("clicker: dispatch timed out, target appears hung")
	// ErrUnsupportedPlatform is returned by the non-Windows stub.
	ErrUnsupportedPlatform = errors.New("clicker: unsupported platform")
)

// NewDispatcher constructs the platform Dispatcher.
func NewDispatcher() Dispatcher {
	return newPlatformDispatcher()
}
