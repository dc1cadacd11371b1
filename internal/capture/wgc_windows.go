//go:build windows

package capture

import (
	"fmt"
	"sync"
	"syscall"
	"time"
	"unsafe"
)

// user32/kernel32 procs needed for window resolution, minimized-window
// reanimation, and the content-size/session plumbing around WGC. The
// non-intrusive click dispatch equivalents live in internal/clicker; this
// file only uses the read-side (IsIconic, GetClientRect) and the
// no-activate restore sequence from §4.1.
var (
	user32   = syscall.NewLazyDLL("user32.dll")
	kernel32 = syscall.NewLazyDLL("kernel32.dll")

	procIsWindow        = user32.NewProc("IsWindow")
	procIsIconic        = user32.NewProc("IsIconic")
	procShowWindow       = user32.NewProc("ShowWindow")
	procShowWindowAsync  = user32.NewProc("ShowWindowAsync")
	procSetWindowPos     = user32.NewProc("SetWindowPos")
	procGetClientRect    = user32.NewProc("GetClientRect")
	procFindWindowW      = user32.NewProc("FindWindowW")
	procGetWindowTextW   = user32.NewProc("GetWindowTextW")
	procEnumWindows      = user32.NewProc("EnumWindows")
	procGetWindowThreadProcessId = user32.NewProc("GetWindowThreadProcessId")
	procIsWindowVisible  = user32.NewProc("IsWindowVisible")

	procQueryPerformanceCounter   = kernel32.NewProc("QueryPerformanceCounter")
	procQueryPerformanceFrequency = kernel32.NewProc("QueryPerformanceFrequency")
)

const (
	swHide            = 0
	swShowNoActivate  = 4
	swMinimize        = 6
	swShowNaDefault   = 8 // SW_SHOWNA
	swRestore         = 9

	swpNoActivate = 0x0010
	swpNoMove     = 0x0002
	swpNoSize     = 0x0001
	swpNoZOrder   = 0x0004

	hwndTop = 0
)

type rect struct {
	Left, Top, Right, Bottom int32
}

// wgcBackend implements Backend using a pure-syscall Windows Graphics
// Capture session. Falls back to ErrCaptureUnavailable (never a
// PrintWindow-style capture) when WGC activation fails.
type wgcBackend struct {
	mu sync.Mutex

	mode   bindMode
	hwnd   uintptr
	hmon   uintptr
	config Config

	session *wgcSession
	state   SessionState

	wasMinimized bool

	frameCount       uint64
	startedAt        time.Time
	lastFrameAt      time.Time
	lastHealthCheck  time.Time
	consecutiveFails int
	recoveryAttempts int
}

type bindMode int

const (
	bindNone bindMode = iota
	bindWindow
	bindMonitor
)

func newPlatformBackend() Backend {
	return &wgcBackend{state: SessionCreated}
}

// resolveWindow implements the HWND / title / process resolution order
// from §4.1's open_window contract.
func resolveWindow(target WindowTarget) (uintptr, error) {
	if target.HWND != 0 {
		hwnd := uintptr(target.HWND)
		ok, _, _ := procIsWindow.Call(hwnd)
		if ok == 0 {
			return 0, ErrNotAWindow
		}
		return hwnd, nil
	}

	if target.Title != "" {
		if hwnd := findWindowByTitle(target.Title, target.TitlePartialMatch); hwnd != 0 {
			return hwnd, nil
		}
		return 0, fmt.Errorf("%w: no window titled %q", ErrNotAWindow, target.Title)
	}

	if target.Process != "" {
		hwnd, err := findWindowByProcess(target.Process, target.ProcessPartialMatch)
		if err != nil {
			return 0, err
		}
		return hwnd, nil
	}

	return 0, fmt.Errorf("%w: no target specified", ErrNotAWindow)
}

func findWindowByTitle(title string, partial bool) uintptr {
	var found uintptr
	cb := syscall.NewCallback(func(hwnd uintptr, lparam uintptr) uintptr {
		buf := make([]uint16, 512)
		n, _, _ := procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
		if n == 0 {
			return 1
		}
		text := syscall.UTF16ToString(buf[:n])
		if (partial && containsFold(text, title)) || (!partial && text == title) {
			found = hwnd
			return 0 // stop enumeration
		}
		return 1
	})
	procEnumWindows.Call(cb, 0)
	return found
}

func containsFold(haystack, needle string) bool {
	hl, nl := toLowerASCII(haystack), toLowerASCII(needle)
	return indexOf(hl, nl) >= 0
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}

func indexOf(haystack, needle string) int {
	if len(needle) == 0 {
		return 0
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

// findWindowByProcess resolves target to the first top-level window owned
// by a process whose executable basename matches, via gopsutil process
// enumeration (process.go) joined against EnumWindows' owning PID.
func findWindowByProcess(target string, partial bool) (uintptr, error) {
	pids, err := processPIDsByExecutable(target, partial)
	if err != nil {
		return 0, err
	}
	if len(pids) == 0 {
		return 0, fmt.Errorf("%w: no running process matches %q", ErrNotAWindow, target)
	}

	var found uintptr
	cb := syscall.NewCallback(func(hwnd uintptr, lparam uintptr) uintptr {
		visible, _, _ := procIsWindowVisible.Call(hwnd)
		if visible == 0 {
			return 1
		}
		var pid uint32
		procGetWindowThreadProcessId.Call(hwnd, uintptr(unsafe.Pointer(&pid)))
		if pids[pid] {
			found = hwnd
			return 0
		}
		return 1
	})
	procEnumWindows.Call(cb, 0)

	if found == 0 {
		return 0, fmt.Errorf("%w: process %q has no visible top-level window", ErrNotAWindow, target)
	}
	return found, nil
}

func (b *wgcBackend) OpenWindow(target WindowTarget) error {
	hwnd, err := resolveWindow(target)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.mode = bindWindow
	b.hwnd = hwnd
	b.hmon = 0
	b.state = SessionCreated
	return nil
}

func (b *wgcBackend) OpenMonitor(index int) error {
	monitors, err := ListMonitors()
	if err != nil {
		return err
	}
	if index < 0 || index >= len(monitors) {
		return fmt.Errorf("%w: index %d, valid range [0,%d)", ErrMonitorOutOfRange, index, len(monitors))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.mode = bindMonitor
	b.hmon = monitorHandle(monitors[index])
	b.hwnd = 0
	b.state = SessionCreated
	return nil
}

func (b *wgcBackend) Configure(cfg Config) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.config = cfg
	if b.session != nil {
		b.closeSessionLocked()
		b.openSessionLocked()
	}
}

// CaptureFrame implements §4.1's capture_frame, including minimized-window
// reanimation and the row-pitch-correct extraction contract.
func (b *wgcBackend) CaptureFrame(restoreAfterCapture bool) (*Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		if err := b.openSessionLocked(); err != nil {
			return nil, err
		}
	}

	if b.mode == bindWindow && b.config.RestoreMinimizedNoActivate {
		if iconic, _, _ := procIsIconic.Call(b.hwnd); iconic != 0 {
			b.wasMinimized = true
			if restoreWindowNoActivate(b.hwnd) {
				time.Sleep(minimizedRestoreSettle)
			}
		}
	}

	b.runHealthCheckLocked()

	frame, err := b.session.nextFrame(b.config.CaptureTimeout)
	if err != nil {
		b.consecutiveFails++
		if b.consecutiveFails >= degradedThreshold {
			b.state = SessionDegraded
			if b.recoverLocked() {
				b.consecutiveFails = 0
			}
		}
		return nil, nil
	}
	b.consecutiveFails = 0
	b.state = SessionHealthy

	minInterval := time.Second / time.Duration(maxInt(b.config.FPSMax, 1))
	if !b.lastFrameAt.IsZero() && frame.capturedAt.Sub(b.lastFrameAt) < minInterval {
		return nil, nil
	}
	b.lastFrameAt = frame.capturedAt
	b.frameCount++

	if restoreAfterCapture && b.wasMinimized && b.mode == bindWindow {
		procShowWindowAsync.Call(b.hwnd, swMinimize)
	}

	return &Frame{
		BGR:                 frame.bgr,
		Width:               frame.width,
		Height:              frame.height,
		Stride:              frame.stride,
		ContentSize:         ContentSize{Width: frame.width, Height: frame.height},
		MonotonicTimestamp:  monotonicNow(),
	}, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (b *wgcBackend) runHealthCheckLocked() {
	now := time.Now()
	if now.Sub(b.lastHealthCheck) < healthCheckInterval {
		return
	}
	b.lastHealthCheck = now

	if b.mode == bindWindow {
		if ok, _, _ := procIsWindow.Call(b.hwnd); ok == 0 {
			b.state = SessionDegraded
			return
		}
	}
	if !b.startedAt.IsZero() && !b.lastFrameAt.IsZero() && now.Sub(b.lastFrameAt) > staleFrameTimeout {
		b.state = SessionDegraded
	}
}

// recoverLocked attempts the single in-place recovery §4.1 allows: stop and
// start with the same parameters.
func (b *wgcBackend) recoverLocked() bool {
	b.recoveryAttempts++
	b.closeSessionLocked()
	if err := b.openSessionLocked(); err != nil {
		log.Warn("capture session recovery failed", "error", err)
		return false
	}
	log.Info("capture session recovered")
	return true
}

func (b *wgcBackend) openSessionLocked() error {
	sess, err := newWGCSession(b.mode, b.hwnd, b.hmon, b.config)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	b.session = sess
	b.state = SessionStarted
	b.startedAt = time.Now()
	b.consecutiveFails = 0
	return nil
}

func (b *wgcBackend) closeSessionLocked() {
	if b.session != nil {
		b.session.close()
		b.session = nil
	}
}

func (b *wgcBackend) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	var actualFPS float64
	if elapsed := time.Since(b.startedAt); elapsed > 0 {
		actualFPS = float64(b.frameCount) / elapsed.Seconds()
	}

	cs := ContentSize{}
	if b.session != nil {
		cs = ContentSize{Width: b.session.width, Height: b.session.height}
	}

	return Stats{
		FrameCount:       b.frameCount,
		Elapsed:          time.Since(b.startedAt),
		TargetFPS:        b.config.FPSMax,
		ActualFPS:        actualFPS,
		ContentSize:      cs,
		SessionHealthy:   b.state == SessionHealthy || b.state == SessionStarted,
		SessionState:     b.state,
		WasMinimized:     b.wasMinimized,
		RecoveryAttempts: b.recoveryAttempts,
	}
}

// Close is idempotent; re-minimizes iff restore_minimized was requested,
// the window was minimized when opened, and restore_after_capture is set.
func (b *wgcBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closeSessionLocked()
	if b.state == SessionClosed {
		return nil
	}

	if b.mode == bindWindow && b.config.RestoreMinimizedNoActivate && b.wasMinimized && b.config.RestoreAfterCapture {
		procShowWindowAsync.Call(b.hwnd, swMinimize)
	}

	b.state = SessionClosed
	return nil
}

// restoreWindowNoActivate restores an iconic window via the sequence §4.1
// specifies: async-show-noactivate → sync-show-noactivate →
// set-window-pos(no-activate+show) → restore. Returns true if any step
// reported success.
func restoreWindowNoActivate(hwnd uintptr) bool {
	ok, _, _ := procShowWindowAsync.Call(hwnd, swShowNoActivate)
	if ok != 0 {
		return true
	}
	ok, _, _ = procShowWindow.Call(hwnd, swShowNoActivate)
	if ok != 0 {
		return true
	}
	ok, _, _ = procSetWindowPos.Call(hwnd, hwndTop, 0, 0, 0, 0,
		swpNoMove|swpNoSize|swpNoZOrder|swpNoActivate)
	if ok != 0 {
		return true
	}
	ok, _, _ = procShowWindow.Call(hwnd, swRestore)
	return ok != 0
}

func monotonicNow() time.Duration {
	var counter, freq int64
	procQueryPerformanceCounter.Call(uintptr(unsafe.Pointer(&counter)))
	procQueryPerformanceFrequency.Call(uintptr(unsafe.Pointer(&freq)))
	if freq == 0 {
		return 0
	}
	return time.Duration(counter) * time.Second / time.Duration(freq)
}
