//go:build windows

package clicker

import "testing"

// The desktop window's client origin coincides with the screen origin, so
// clientToScreen against hwnd 0 (desktop) is an identity transform. This
// guards against Click silently reverting to passing client-relative
// coordinates straight to dispatchSimulate's screen-space SetCursorPos.
func TestClientToScreenIdentityForDesktopWindow(t *testing.T) {
	x, y := clientToScreen(0, 100, 50)
	if x != 100 || y != 50 {
		t.Fatalf("clientToScreen(0, 100, 50) = (%d, %d), want (100, 50)", x, y)
	}
}
