//go:build !windows

package dpi

import "testing"

func TestSetPerMonitorV2IsNoopOffWindows(t *testing.T) {
	if err := SetPerMonitorV2(); err != nil {
		t.Fatalf("SetPerMonitorV2() = %v, want nil", err)
	}
}
