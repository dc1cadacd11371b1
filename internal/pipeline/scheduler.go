// Package pipeline implements the Scan/Click Pipeline (§4.3): the per-tick
// algorithm orchestrating capture, match, gate, and click dispatch, and the
// adaptive scheduler that paces ticks between a cooldown, idle, and
// exponential-miss-backoff state.
package pipeline

import "time"

// Scheduler tracks the adaptive scan cadence state machine described in
// §4.3: hit/miss streak, foreground-driven activity, and the next-delay
// formula.
type Scheduler struct {
	active              bool
	missCount           int
	lastHitAt           time.Time
	lastForegroundProc  string

	activeScanInterval time.Duration
	idleScanInterval   time.Duration
	hitCooldown        time.Duration
	missBackoffMax     time.Duration
	scanMode           ScanMode
	processWhitelist   map[string]bool
}

// ScanMode mirrors Configuration's scan_mode enum (§3).
type ScanMode string

const (
	ScanModeEvent   ScanMode = "event"
	ScanModePolling ScanMode = "polling"
)

// SchedulerOptions configures a new Scheduler from Configuration fields.
type SchedulerOptions struct {
	ActiveScanInterval time.Duration
	IdleScanInterval   time.Duration
	HitCooldown        time.Duration
	MissBackoffMax     time.Duration
	ScanMode           ScanMode
	ProcessWhitelist   []string
}

// NewScheduler builds a Scheduler. In event mode it starts inactive,
// matching the source's behavior of waiting for the first foreground_change
// before scanning actively; in polling mode it starts active.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	whitelist := make(map[string]bool, len(opts.ProcessWhitelist))
	for _, p := range opts.ProcessWhitelist {
		whitelist[p] = true
	}
	return &Scheduler{
		activeScanInterval: opts.ActiveScanInterval,
		idleScanInterval:   opts.IdleScanInterval,
		hitCooldown:        opts.HitCooldown,
		missBackoffMax:     opts.MissBackoffMax,
		scanMode:           opts.ScanMode,
		processWhitelist:   whitelist,
		// Polling mode has no foreground signal to wait for; it is always
		// considered active (§4.3's foreground_change rule only applies a
		// whitelist gate in event mode).
		active: opts.ScanMode == ScanModePolling,
	}
}

// OnHit resets the miss streak and records the hit time.
func (s *Scheduler) OnHit(now time.Time) {
	s.missCount = 0
	s.lastHitAt = now
}

// OnMiss increments the miss streak, unless still within hit cooldown —
// misses during cooldown don't count toward backoff since a click was just
// dispatched and cooldown alone already governs the next opportunity.
func (s *Scheduler) OnMiss(now time.Time) {
	if !now.Before(s.lastHitAt.Add(s.hitCooldown)) {
		s.missCount++
	}
}

// OnForegroundChange updates scheduler activity per §4.3: polling mode is
// always active; event mode is active only while the named process is
// whitelisted.
func (s *Scheduler) OnForegroundChange(processName string) {
	s.lastForegroundProc = processName
	if s.scanMode == ScanModePolling {
		s.active = true
		return
	}
	s.active = s.processWhitelist[processName]
}

// NextDelay implements next_delay_ms() (§4.3) exactly: cooldown remainder
// first, then idle interval if inactive, then exponential miss backoff
// clamped to [active_scan_interval, miss_backoff_ms_max].
func (s *Scheduler) NextDelay(now time.Time) time.Duration {
	if remaining := s.lastHitAt.Add(s.hitCooldown).Sub(now); remaining > 0 {
		return remaining
	}
	if !s.active {
		return s.idleScanInterval
	}

	shift := s.missCount
	if shift > 16 {
		shift = 16
	}
	delay := s.activeScanInterval * time.Duration(1<<uint(shift))
	if delay < s.activeScanInterval {
		delay = s.activeScanInterval
	}
	if delay > s.missBackoffMax {
		delay = s.missBackoffMax
	}
	return delay
}
