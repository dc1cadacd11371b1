//go:build windows

package clicker

import (
	"fmt"
	"syscall"
	"unsafe"
)

var (
	user32 = syscall.NewLazyDLL("user32.dll")

	procSendMessageTimeout    = user32.NewProc("SendMessageTimeoutW")
	procGetClientRect         = user32.NewProc("GetClientRect")
	procIsWindow              = user32.NewProc("IsWindow")
	procIsWindowEnabled       = user32.NewProc("IsWindowEnabled")
	procIsWindowVisible       = user32.NewProc("IsWindowVisible")
	procWindowFromPoint       = user32.NewProc("WindowFromPoint")
	procChildWindowFromPointEx = user32.NewProc("ChildWindowFromPointEx")
	procScreenToClient        = user32.NewProc("ScreenToClient")
	procClientToScreen        = user32.NewProc("ClientToScreen")
	procSetCursorPos          = user32.NewProc("SetCursorPos")
	procGetCursorPos          = user32.NewProc("GetCursorPos")
	procSendInput             = user32.NewProc("SendInput")
)

const (
	wmLButtonDown = 0x0201
	wmLButtonUp   = 0x0202

	smtoAbortIfHung = 0x0002
	dispatchTimeoutMs = 200

	cwpSkipInvisible = 0x0001
	cwpSkipDisabled  = 0x0002
	cwpSkipTransparent = 0x0004
)

type point struct{ X, Y int32 }

type rect struct{ Left, Top, Right, Bottom int32 }

type platformDispatcher struct{}

func newPlatformDispatcher() Dispatcher {
	return &platformDispatcher{}
}

func (d *platformDispatcher) Click(req Request) error {
	var hwnd uintptr
	var clientX, clientY int32

	if req.WindowMode {
		hwnd = uintptr(req.HWND)
		if ok, _, _ := procIsWindow.Call(hwnd); ok == 0 {
			return ErrWindowGone
		}

		var cr rect
		if _, _, _ = procGetClientRect.Call(hwnd, uintptr(unsafe.Pointer(&cr))); cr.Right == 0 && cr.Bottom == 0 {
			return ErrWindowGone
		}
		clientW, clientH := int(cr.Right-cr.Left), int(cr.Bottom-cr.Top)

		// content -> client scaling compensates for DPI and non-1:1
		// content rendering (§4.3's window-mode click-dispatch contract).
		cx, cy := req.ContentX, req.ContentY
		if req.ContentW > 0 && req.ContentH > 0 {
			cx = cx * clientW / req.ContentW
			cy = cy * clientH / req.ContentH
		}
		clientX, clientY = int32(cx), int32(cy)
	} else {
		resolved, x, y, err := resolveClickTarget(int32(req.ContentX), int32(req.ContentY), req.EnhancedWindowFinding)
		if err != nil {
			return err
		}
		if req.VerifyWindowBeforeClick {
			if enabled, _, _ := procIsWindowEnabled.Call(resolved); enabled == 0 {
				return ErrNoClickableWindow
			}
		}
		hwnd = resolved
		clientX, clientY = x, y
	}

	switch req.Method {
	case MethodSimulate:
		screenX, screenY := clientToScreen(hwnd, clientX, clientY)
		return dispatchSimulate(screenX, screenY)
	default:
		return dispatchMessage(hwnd, clientX, clientY)
	}
}

// clientToScreen converts hwnd-client-relative coordinates to absolute
// screen coordinates, required because dispatchSimulate's SetCursorPos/
// SendInput operate in screen space while Click resolves clientX/clientY
// relative to the target window.
func clientToScreen(hwnd uintptr, clientX, clientY int32) (int32, int32) {
	pt := point{X: clientX, Y: clientY}
	procClientToScreen.Call(hwnd, uintptr(unsafe.Pointer(&pt)))
	return pt.X, pt.Y
}

// dispatchMessage posts WM_LBUTTONDOWN then WM_LBUTTONUP via
// SendMessageTimeout with SMTO_ABORTIFHUNG, never activating or
// foregrounding the target.
func dispatchMessage(hwnd uintptr, clientX, clientY int32) error {
	lparam := uintptr(uint32(clientX)) | uintptr(uint32(clientY))<<16

	if err := sendTimeout(hwnd, wmLButtonDown, 0x0001, lparam); err != nil {
		return err
	}
	if err := sendTimeout(hwnd, wmLButtonUp, 0, lparam); err != nil {
		return err
	}
	return nil
}

func sendTimeout(hwnd uintptr, msg, wparam uintptr, lparam uintptr) error {
	var result uintptr
	ret, _, _ := procSendMessageTimeout.Call(
		hwnd, msg, wparam, lparam,
		uintptr(smtoAbortIfHung), uintptr(dispatchTimeoutMs),
		uintptr(unsafe.Pointer(&result)),
	)
	if ret == 0 {
		return fmt.Errorf("%w: hwnd=%#x msg=%#x", ErrDispatchTimedOut, hwnd, msg)
	}
	return nil
}

// resolveClickTarget implements monitor-mode target resolution: recursive
// child-window-from-point, skipping invisible/disabled/transparent
// children, with an enhanced_window_finding fallback probe against the
// plain window-from-point result.
func resolveClickTarget(screenX, screenY int32, enhanced bool) (hwnd uintptr, clientX, clientY int32, err error) {
	pt := point{X: screenX, Y: screenY}

	top, _, _ := procWindowFromPoint.Call(uintptr(uint32(pt.X)) | uintptr(uint32(pt.Y))<<32)
	if top == 0 {
		return 0, 0, 0, ErrNoClickableWindow
	}

	deepest := recursiveChildFromPoint(top, pt)

	if enhanced {
		if !isVisibleAndEnabled(deepest) && isVisibleAndEnabled(top) {
			deepest = top
		}
	}

	cpt := pt
	procScreenToClient.Call(deepest, uintptr(unsafe.Pointer(&cpt)))
	return deepest, cpt.X, cpt.Y, nil
}

// isVisibleAndEnabled reports whether hwnd passes the "visible and enabled"
// eligibility check enhanced_window_finding applies to its candidate click
// target (§3.3).
func isVisibleAndEnabled(hwnd uintptr) bool {
	visible, _, _ := procIsWindowVisible.Call(hwnd)
	if visible == 0 {
		return false
	}
	enabled, _, _ := procIsWindowEnabled.Call(hwnd)
	return enabled != 0
}

// recursiveChildFromPoint descends via ChildWindowFromPointEx until no
// deeper child is found at the point, or the point maps outside the
// current window's client area.
func recursiveChildFromPoint(hwnd uintptr, screenPt point) uintptr {
	current := hwnd
	for i := 0; i < 64; i++ { // hard depth bound against a malformed tree
		clientPt := screenPt
		procScreenToClient.Call(current, uintptr(unsafe.Pointer(&clientPt)))

		packedPt := uintptr(uint32(clientPt.X)) | uintptr(uint32(clientPt.Y))<<32
		child, _, _ := procChildWindowFromPointEx.Call(
			current, packedPt,
			uintptr(cwpSkipInvisible|cwpSkipDisabled|cwpSkipTransparent),
		)
		if child == 0 || child == current {
			return current
		}
		current = child
	}
	return current
}
