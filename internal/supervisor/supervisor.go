// Package supervisor implements the Scanner Supervisor (§4.4): spawning a
// worker process per active scan, the Cmd/Status/Hit/Log queue protocol over
// stdin/stdout via internal/ipc, crash detection, and the supplemented
// host-responsiveness watchdog (SPEC_FULL.md §3.5).
package supervisor

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/clickwatch/agent/internal/config"
	"github.com/clickwatch/agent/internal/ipc"
	"github.com/clickwatch/agent/internal/logging"
)

var log = logging.L("supervisor")

// SessionKeyEnvVar is the environment variable the Supervisor passes the
// spawned worker its HMAC session key through, generated fresh per spawn.
const SessionKeyEnvVar = "CLICKWATCH_IPC_KEY"

const (
	// stopGraceTimeout is how long Stop waits for a graceful loop exit
	// before escalating to a kill (§4.4).
	stopGraceTimeout = 5 * time.Second
	// killGraceTimeout is how long Stop waits after a kill is sent before
	// giving up and reporting ErrStopTimedOut.
	killGraceTimeout = 2 * time.Second
	// exitGraceTimeout bounds how long Exit waits for the worker to drain
	// pending commands and return from main on its own.
	exitGraceTimeout = 2 * time.Second
)

// workerProcess is the subset of *exec.Cmd's running-process behavior the
// Host needs, extracted so tests can substitute a fake process without
// actually spawning one.
type workerProcess interface {
	Wait() error
	Kill() error
	Pid() int
}

// spawnFunc starts a worker process and returns a handle to it plus its
// stdin (for Cmd) and stdout (for Status/Hit/Log) pipes. sessionKey is
// passed through so the spawned worker can be configured with the same
// HMAC key the Host's Conns use.
type spawnFunc func(exePath string, args []string, sessionKey []byte) (workerProcess, io.WriteCloser, io.ReadCloser, error)

// Host manages the lifecycle of one worker process: spawn, command
// dispatch, event polling, crash detection.
type Host struct {
	exePath    string
	workerArgs []string
	spawn      spawnFunc

	watchdogInterval time.Duration

	mu         sync.Mutex
	proc       workerProcess
	cmdConn    *ipc.Conn
	eventConn  *ipc.Conn
	running    bool // host's intent: is a scan loop supposed to be active
	exitedCh   chan struct{}
	lastPolledAt time.Time

	eventMu sync.Mutex
	status  ipc.Status
	hits    []ipc.Hit
	logs    []ipc.LogLine
}

// NewHost builds a Host that spawns exePath with workerArgs (the agent
// passes the sibling clickwatch-worker binary with no extra arguments).
func NewHost(exePath string, workerArgs []string) *Host {
	return &Host{
		exePath:          exePath,
		workerArgs:       workerArgs,
		spawn:            defaultSpawn,
		watchdogInterval: 2 * time.Second,
		lastPolledAt:     time.Now(),
	}
}

func defaultSpawn(exePath string, args []string, sessionKey []byte) (workerProcess, io.WriteCloser, io.ReadCloser, error) {
	cmd := exec.Command(exePath, args...)
	cmd.Env = append(os.Environ(), SessionKeyEnvVar+"="+hex.EncodeToString(sessionKey))

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("supervisor: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("supervisor: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, nil, fmt.Errorf("supervisor: start worker: %w", err)
	}
	if err := assignToJobObject(cmd.Process.Pid); err != nil {
		log.Warn("worker not bound to job object, orphan risk on host crash", "error", err)
	}
	return &execProcess{cmd: cmd}, stdin, stdout, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Wait() error { return p.cmd.Wait() }
func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}
func (p *execProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Spawned reports whether a worker process is currently running.
func (h *Host) Spawned() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.proc != nil
}

func (h *Host) spawnLocked() error {
	if h.proc != nil {
		return ErrAlreadySpawned
	}

	sessionKey, err := ipc.GenerateSessionKey()
	if err != nil {
		return err
	}

	proc, stdin, stdout, err := h.spawn(h.exePath, h.workerArgs, sessionKey)
	if err != nil {
		return err
	}

	cmdConn := ipc.NewHalfConn(nil, stdin, stdin)
	cmdConn.SetSessionKey(sessionKey)
	eventConn := ipc.NewHalfConn(stdout, nil, stdout)
	eventConn.SetSessionKey(sessionKey)

	h.proc = proc
	h.cmdConn = cmdConn
	h.eventConn = eventConn
	h.exitedCh = make(chan struct{})

	go h.recvLoop(h.eventConn, h.exitedCh)
	go h.watchExit(proc, h.exitedCh)

	log.Info("worker spawned", "pid", proc.Pid())
	return nil
}

func (h *Host) watchExit(proc workerProcess, exited chan struct{}) {
	err := proc.Wait()
	close(exited)

	h.mu.Lock()
	wasRunning := h.running
	h.running = false
	h.mu.Unlock()

	if wasRunning {
		log.Warn("worker process exited unexpectedly", "error", err)
		h.setStatus(ipc.Status{
			Running:     false,
			Error:       ErrWorkerCrashed.Error(),
			TimestampMs: time.Now().UnixMilli(),
		})
	}
}

// Start spawns the worker process if needed and sends Start(cfg). Per
// §4.4's command semantics Start is idempotent: calling it again while
// already running is a no-op forwarded straight to the worker, which
// applies the same idempotence.
func (h *Host) Start(cfg config.Config) error {
	h.mu.Lock()
	if h.proc == nil {
		if err := h.spawnLocked(); err != nil {
			h.mu.Unlock()
			return err
		}
	}
	h.running = true
	conn := h.cmdConn
	h.mu.Unlock()

	return conn.SendTyped(newMessageID(), ipc.TypeCmdStart, ipc.CmdStart{Config: cfg})
}

// UpdateConfig forwards a config change; the worker rebuilds its Capture
// Backend and reloads templates if the signature changed (§4.4).
func (h *Host) UpdateConfig(cfg config.Config) error {
	h.mu.Lock()
	conn := h.cmdConn
	h.mu.Unlock()
	if conn == nil {
		return ErrNotSpawned
	}
	return conn.SendTyped(newMessageID(), ipc.TypeCmdUpdateConfig, ipc.CmdUpdateConfig{Config: cfg})
}

// Stop requests the scan loop exit, escalating to a process kill if the
// worker doesn't exit within the grace periods in §4.4.
func (h *Host) Stop() error {
	return h.stopWithTimeouts(stopGraceTimeout, killGraceTimeout)
}

func (h *Host) stopWithTimeouts(firstGrace, secondGrace time.Duration) error {
	h.mu.Lock()
	conn := h.cmdConn
	proc := h.proc
	exited := h.exitedCh
	h.running = false
	h.mu.Unlock()

	if conn == nil || proc == nil {
		return ErrNotSpawned
	}
	if err := conn.SendTyped(newMessageID(), ipc.TypeCmdStop, nil); err != nil {
		return err
	}

	return h.waitOrKill(proc, exited, firstGrace, secondGrace)
}

// Exit requests the worker drain pending commands and return from main,
// then joins it, escalating to a kill if it overstays exitGraceTimeout.
func (h *Host) Exit() error {
	h.mu.Lock()
	conn := h.cmdConn
	proc := h.proc
	exited := h.exitedCh
	h.running = false
	h.mu.Unlock()

	if conn == nil || proc == nil {
		return ErrNotSpawned
	}
	if err := conn.SendTyped(newMessageID(), ipc.TypeCmdExit, nil); err != nil {
		return err
	}

	return h.waitOrKill(proc, exited, exitGraceTimeout, killGraceTimeout)
}

func (h *Host) waitOrKill(proc workerProcess, exited chan struct{}, firstGrace, secondGrace time.Duration) error {
	select {
	case <-exited:
		return nil
	case <-time.After(firstGrace):
	}

	log.Warn("worker did not exit within grace period, killing", "pid", proc.Pid())
	if err := proc.Kill(); err != nil {
		log.Warn("failed to kill worker", "pid", proc.Pid(), "error", err)
	}

	select {
	case <-exited:
		return nil
	case <-time.After(secondGrace):
		return ErrStopTimedOut
	}
}

var messageIDCounter = newIDGenerator()

func newMessageID() string { return messageIDCounter.next() }
