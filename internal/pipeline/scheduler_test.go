package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func baseOptions() SchedulerOptions {
	return SchedulerOptions{
		ActiveScanInterval: 250 * time.Millisecond,
		IdleScanInterval:   2 * time.Second,
		HitCooldown:        2 * time.Second,
		MissBackoffMax:     8 * time.Second,
		ScanMode:           ScanModePolling,
	}
}

func TestPollingModeStartsActive(t *testing.T) {
	s := NewScheduler(baseOptions())
	now := time.Now()
	assert.Equal(t, 250*time.Millisecond, s.NextDelay(now))
}

func TestEventModeStartsInactiveUntilWhitelistedForeground(t *testing.T) {
	opts := baseOptions()
	opts.ScanMode = ScanModeEvent
	opts.ProcessWhitelist = []string{"cursor.exe"}
	s := NewScheduler(opts)

	now := time.Now()
	assert.Equal(t, opts.IdleScanInterval, s.NextDelay(now))

	s.OnForegroundChange("notepad.exe")
	assert.Equal(t, opts.IdleScanInterval, s.NextDelay(now))

	s.OnForegroundChange("cursor.exe")
	assert.Equal(t, opts.ActiveScanInterval, s.NextDelay(now))
}

func TestNextDelayReturnsCooldownRemainderAfterHit(t *testing.T) {
	s := NewScheduler(baseOptions())
	now := time.Now()
	s.OnHit(now)

	delay := s.NextDelay(now.Add(500 * time.Millisecond))
	assert.InDelta(t, float64(1500*time.Millisecond), float64(delay), float64(5*time.Millisecond))
}

func TestNextDelayExponentialBackoffClampsToMax(t *testing.T) {
	s := NewScheduler(baseOptions())
	now := time.Now()

	for i := 0; i < 30; i++ {
		s.OnMiss(now)
	}

	delay := s.NextDelay(now)
	assert.Equal(t, 8*time.Second, delay)
}

func TestNextDelayGrowsWithMissCount(t *testing.T) {
	s := NewScheduler(baseOptions())
	now := time.Now()

	first := s.NextDelay(now)
	s.OnMiss(now)
	second := s.NextDelay(now)
	s.OnMiss(now)
	third := s.NextDelay(now)

	assert.True(t, second >= first)
	assert.True(t, third >= second)
}

func TestOnMissDuringCooldownDoesNotIncrementBackoff(t *testing.T) {
	s := NewScheduler(baseOptions())
	now := time.Now()
	s.OnHit(now)

	s.OnMiss(now.Add(100 * time.Millisecond)) // still within 2s cooldown
	assert.Equal(t, 0, s.missCount)
}
