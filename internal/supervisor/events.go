package supervisor

import (
	"encoding/json"
	"time"

	"github.com/clickwatch/agent/internal/ipc"
)

// recvLoop reads Status/Hit/Log envelopes off conn until it errors (worker
// exited, pipe closed). Status is coalesced (§4.4: "only the newest is
// kept"); Hit and Log are queued and never dropped on this side — a slow
// host front-end may rate-limit what it displays, but the Supervisor layer
// preserves every one until DrainHits/DrainLogs is called.
func (h *Host) recvLoop(conn *ipc.Conn, exited <-chan struct{}) {
	for {
		env, err := conn.Recv()
		if err != nil {
			log.Debug("event loop ended", "error", err)
			return
		}

		switch env.Type {
		case ipc.TypeStatus:
			var st ipc.Status
			if jerr := json.Unmarshal(env.Payload, &st); jerr != nil {
				log.Warn("malformed status payload", "error", jerr)
				continue
			}
			h.setStatus(st)

		case ipc.TypeHit:
			var hit ipc.Hit
			if jerr := json.Unmarshal(env.Payload, &hit); jerr != nil {
				log.Warn("malformed hit payload", "error", jerr)
				continue
			}
			h.eventMu.Lock()
			h.hits = append(h.hits, hit)
			h.eventMu.Unlock()

		case ipc.TypeLog:
			var line ipc.LogLine
			if jerr := json.Unmarshal(env.Payload, &line); jerr != nil {
				log.Warn("malformed log payload", "error", jerr)
				continue
			}
			h.eventMu.Lock()
			h.logs = append(h.logs, line)
			h.eventMu.Unlock()

		default:
			log.Warn("unrecognized event type", "type", env.Type)
		}
	}
}

// setStatus overwrites the last-known status unless the incoming one is
// stale — consumers should ignore any Status older than the one most
// recently applied (§5's ordering guarantee), and a worker restart after a
// crash could otherwise deliver an out-of-order "reconfiguring" status
// racing the crash's synthetic one.
func (h *Host) setStatus(st ipc.Status) {
	h.eventMu.Lock()
	defer h.eventMu.Unlock()
	if st.TimestampMs < h.status.TimestampMs {
		return
	}
	h.status = st
}

// PollStatus returns the most recently applied Status.
func (h *Host) PollStatus() ipc.Status {
	h.eventMu.Lock()
	defer h.eventMu.Unlock()
	return h.status
}

// DrainHits returns and clears every Hit queued since the last drain.
func (h *Host) DrainHits() []ipc.Hit {
	h.eventMu.Lock()
	defer h.eventMu.Unlock()
	if len(h.hits) == 0 {
		return nil
	}
	out := h.hits
	h.hits = nil
	return out
}

// DrainLogs returns and clears every LogLine queued since the last drain.
func (h *Host) DrainLogs() []ipc.LogLine {
	h.eventMu.Lock()
	defer h.eventMu.Unlock()
	if len(h.logs) == 0 {
		return nil
	}
	out := h.logs
	h.logs = nil
	return out
}

// MarkPolled records that the host's main loop serviced the event queues at
// now. The watchdog (RunWatchdog) compares against this to detect a wedged
// host loop — a wedged worker is already distinguishable via Status/crash
// detection, this covers the other direction.
func (h *Host) MarkPolled(now time.Time) {
	h.mu.Lock()
	h.lastPolledAt = now
	h.mu.Unlock()
}

// Stats is a snapshot of Host state for diagnostics/logging.
type Stats struct {
	Spawned       bool
	Running       bool
	WorkerPID     int
	ScanCount     uint64
	LastError     string
	LastStatusAge time.Duration
	PollLatency   time.Duration
}

// Stats reports the current Host state as of now.
func (h *Host) Stats(now time.Time) Stats {
	h.mu.Lock()
	spawned := h.proc != nil
	running := h.running
	pid := 0
	if h.proc != nil {
		pid = h.proc.Pid()
	}
	pollLatency := now.Sub(h.lastPolledAt)
	h.mu.Unlock()

	h.eventMu.Lock()
	st := h.status
	h.eventMu.Unlock()

	return Stats{
		Spawned:       spawned,
		Running:       running,
		WorkerPID:     pid,
		ScanCount:     st.ScanCount,
		LastError:     st.Error,
		LastStatusAge: now.Sub(time.UnixMilli(st.TimestampMs)),
		PollLatency:   pollLatency,
	}
}

// RunWatchdog logs a warning every watchdogInterval that the host's poll
// loop has gone more than 2x watchdogInterval without calling MarkPolled —
// the "gui_responsiveness_manager" supplemented feature (SPEC_FULL.md
// §3.5): a wedged host, not a wedged worker. Returns when stop is closed.
func (h *Host) RunWatchdog(stop <-chan struct{}) {
	ticker := time.NewTicker(h.watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			h.mu.Lock()
			age := now.Sub(h.lastPolledAt)
			h.mu.Unlock()
			if age > 2*h.watchdogInterval {
				log.Warn("host poll loop appears unresponsive", "sinceLastPoll", age)
			}
		}
	}
}
