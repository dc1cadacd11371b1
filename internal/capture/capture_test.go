package capture

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBackendReturnsNonNil(t *testing.T) {
	b := NewBackend()
	require.NotNil(t, b)
}

func TestSessionStateLifecycleValues(t *testing.T) {
	// Guards against a typo silently breaking the Created -> Started ->
	// Healthy/Degraded -> Closed progression health checks compare against.
	assert.NotEqual(t, SessionCreated, SessionStarted)
	assert.NotEqual(t, SessionStarted, SessionHealthy)
	assert.NotEqual(t, SessionHealthy, SessionDegraded)
	assert.NotEqual(t, SessionDegraded, SessionClosed)
}

func TestSentinelErrorsAreDistinct(t *testing.T) {
	errs := []error{
		ErrCaptureUnavailable,
		ErrTargetGone,
		ErrMonitorOutOfRange,
		ErrNotAWindow,
		ErrUnsupportedPlatform,
	}
	for i, a := range errs {
		for j, b := range errs {
			if i == j {
				continue
			}
			assert.False(t, errors.Is(a, b), "sentinel %d should not match %d", i, j)
		}
	}
}

func TestMonitorInfoZeroValue(t *testing.T) {
	var m MonitorInfo
	assert.Equal(t, 0, m.Index)
	assert.False(t, m.IsPrimary)
}

func TestConfigCarriesCaptureTimeout(t *testing.T) {
	cfg := Config{
		FPSMax:         10,
		CaptureTimeout: 500 * time.Millisecond,
	}
	assert.Equal(t, 500*time.Millisecond, cfg.CaptureTimeout)
	assert.Equal(t, 10, cfg.FPSMax)
}

func TestStatsZeroValueReportsUnhealthy(t *testing.T) {
	var s Stats
	assert.False(t, s.SessionHealthy)
	assert.Zero(t, s.FrameCount)
}

func TestWindowTargetExactlyOneFieldSet(t *testing.T) {
	byHWND := WindowTarget{HWND: 12345}
	byTitle := WindowTarget{Title: "Visual Studio Code"}
	byProcess := WindowTarget{Process: "Code.exe"}

	assert.NotZero(t, byHWND.HWND)
	assert.Empty(t, byHWND.Title)

	assert.NotEmpty(t, byTitle.Title)
	assert.Zero(t, byTitle.HWND)

	assert.NotEmpty(t, byProcess.Process)
	assert.Zero(t, byProcess.HWND)
}
