// Command clickwatch-worker is the Scanner Worker process (§4.4): spawned
// fresh per active scan by clickwatch-agent, it owns exactly one Capture
// Backend, Template Matcher Set, and Clicker Dispatcher, driven by the
// adaptive scheduler over stdin (Cmd) / stdout (Status, Hit, Log).
package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/clickwatch/agent/internal/capture"
	"github.com/clickwatch/agent/internal/clicker"
	"github.com/clickwatch/agent/internal/config"
	"github.com/clickwatch/agent/internal/dpi"
	"github.com/clickwatch/agent/internal/ipc"
	"github.com/clickwatch/agent/internal/logging"
	"github.com/clickwatch/agent/internal/matcher"
	"github.com/clickwatch/agent/internal/pipeline"
	"github.com/clickwatch/agent/internal/supervisor"
)

var log = logging.L("worker")

func main() {
	logging.Init("json", "info", os.Stderr)

	if err := dpi.SetPerMonitorV2(); err != nil {
		log.Warn("per-monitor-v2 DPI awareness unavailable, continuing", "error", err)
	}

	keyHex := os.Getenv(supervisor.SessionKeyEnvVar)
	sessionKey, err := hex.DecodeString(keyHex)
	if err != nil || len(sessionKey) == 0 {
		fmt.Fprintln(os.Stderr, "clickwatch-worker: missing or malformed session key")
		os.Exit(1)
	}

	cmdConn := ipc.NewHalfConn(os.Stdin, nil, os.Stdin)
	cmdConn.SetSessionKey(sessionKey)
	eventConn := ipc.NewHalfConn(nil, os.Stdout, os.Stdout)
	eventConn.SetSessionKey(sessionKey)

	w := &worker{cmdConn: cmdConn, eventConn: eventConn}
	w.run()
}

// worker owns the single Pipeline a Scanner Worker process runs for its
// lifetime; a config change tears down and rebuilds backend/templates
// in place rather than respawning (§4.4's UpdateConfig semantics).
type worker struct {
	cmdConn   *ipc.Conn
	eventConn *ipc.Conn

	cfg       config.Config
	backend   capture.Backend
	templates *matcher.Set
	dispatch  clicker.Dispatcher
	pipe      *pipeline.Pipeline
}

func (w *worker) run() {
	cmds := make(chan *ipc.Envelope)
	go func() {
		defer close(cmds)
		for {
			env, err := w.cmdConn.Recv()
			if err != nil {
				log.Info("command stream closed", "error", err)
				return
			}
			cmds <- env
		}
	}()

	var nextTick <-chan time.Time
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		select {
		case env, ok := <-cmds:
			if !ok {
				return
			}
			if w.handleCmd(env) {
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			if w.pipe != nil && w.pipe.Running() {
				timer.Reset(0)
				nextTick = timer.C
			} else {
				nextTick = nil
			}

		case <-nextTick:
			outcome := w.pipe.Tick(time.Now())
			w.emitOutcome(outcome)
			if w.pipe.Running() {
				timer.Reset(w.pipe.NextDelay(time.Now()))
			} else {
				nextTick = nil
			}
		}
	}
}

// handleCmd applies one Cmd envelope, returning true if the worker should
// exit its main loop (CmdExit).
func (w *worker) handleCmd(env *ipc.Envelope) bool {
	switch env.Type {
	case ipc.TypeCmdStart:
		var cmd ipc.CmdStart
		if err := json.Unmarshal(env.Payload, &cmd); err != nil {
			w.emitLog("error", "malformed cmd_start: "+err.Error())
			return false
		}
		w.start(cmd.Config)

	case ipc.TypeCmdUpdateConfig:
		var cmd ipc.CmdUpdateConfig
		if err := json.Unmarshal(env.Payload, &cmd); err != nil {
			w.emitLog("error", "malformed cmd_update_config: "+err.Error())
			return false
		}
		w.updateConfig(cmd.Config)

	case ipc.TypeCmdStop:
		if w.pipe != nil {
			w.pipe.Stop()
		}

	case ipc.TypeCmdExit:
		if w.pipe != nil {
			w.pipe.Stop()
		}
		if w.backend != nil {
			_ = w.backend.Close()
		}
		return true

	default:
		w.emitLog("warn", "unrecognized command type: "+env.Type)
	}
	return false
}

// start builds the Capture Backend, Template Matcher Set, and Clicker
// Dispatcher for cfg and begins ticking. Idempotent: a Start while already
// running with the same config just keeps the existing Pipeline (§4.4).
func (w *worker) start(cfg config.Config) {
	if w.pipe != nil && w.pipe.Running() {
		w.cfg = cfg
		return
	}

	if err := w.rebuild(cfg); err != nil {
		w.emitLog("error", "failed to start scan loop: "+err.Error())
		w.emitStatus(ipc.Status{Running: false, Error: err.Error(), TimestampMs: time.Now().UnixMilli()})
		return
	}

	w.cfg = cfg
	w.pipe = pipeline.New(cfg, w.backend, w.dispatch, w.templates)
	log.Info("scan loop started", "captureMode", string(cfg.CaptureMode))
}

// updateConfig tears down and rebuilds the Capture Backend, reloading
// templates only if the signature changed (§4.4's UpdateConfig rule).
func (w *worker) updateConfig(cfg config.Config) {
	oldSig := ""
	if w.templates != nil {
		oldSig = w.templates.Signature()
	}
	newSig := matcher.Signature(matcher.Options{
		Paths:      cfg.TemplatePaths,
		Grayscale:  cfg.Grayscale,
		MultiScale: cfg.MultiScale,
		Scales:     cfg.SortedScales(),
	})

	if w.backend != nil {
		_ = w.backend.Close()
	}
	w.backend = capture.NewBackend()
	if err := w.openTarget(cfg); err != nil {
		w.emitLog("error", "failed to rebind capture target: "+err.Error())
		return
	}
	w.backend.Configure(backendConfig(cfg))

	if newSig != oldSig {
		set, err := loadTemplates(cfg)
		if err != nil {
			w.emitLog("error", "failed to reload templates: "+err.Error())
		} else {
			w.templates = set
		}
	}

	w.cfg = cfg
	w.pipe = pipeline.New(cfg, w.backend, w.dispatch, w.templates)
}

func (w *worker) rebuild(cfg config.Config) error {
	w.backend = capture.NewBackend()
	if err := w.openTarget(cfg); err != nil {
		return err
	}
	w.backend.Configure(backendConfig(cfg))

	set, err := loadTemplates(cfg)
	if err != nil {
		return err
	}
	w.templates = set
	w.dispatch = clicker.NewDispatcher()
	return nil
}

func (w *worker) openTarget(cfg config.Config) error {
	if cfg.CaptureMode == config.CaptureModeMonitor {
		return w.backend.OpenMonitor(int(cfg.MonitorIndex))
	}
	return w.backend.OpenWindow(capture.WindowTarget{
		HWND:                cfg.TargetHWND,
		Title:               cfg.TargetWindowTitle,
		TitlePartialMatch:   cfg.TitlePartialMatch,
		Process:             cfg.TargetProcess,
		ProcessPartialMatch: cfg.ProcessPartialMatch,
	})
}

func backendConfig(cfg config.Config) capture.Config {
	return capture.Config{
		FPSMax:                     cfg.FPSMax,
		IncludeCursor:              cfg.IncludeCursor,
		BorderRequired:             cfg.BorderRequired,
		RestoreMinimizedNoActivate: cfg.RestoreMinimizedNoActivate,
		RestoreAfterCapture:        cfg.RestoreAfterCapture,
		CaptureTimeout:             time.Duration(cfg.CaptureTimeoutMs) * time.Millisecond,
		DirtyRegionMode:            cfg.DirtyRegionMode,
	}
}

func loadTemplates(cfg config.Config) (*matcher.Set, error) {
	return matcher.Load(matcher.Options{
		Paths:      cfg.TemplatePaths,
		Grayscale:  cfg.Grayscale,
		MultiScale: cfg.MultiScale,
		Scales:     cfg.SortedScales(),
	})
}

func (w *worker) emitOutcome(outcome pipeline.TickOutcome) {
	st := ipc.Status{
		Running:     w.pipe.Running(),
		ScanCount:   w.pipe.ScanCount(),
		LastScore:   outcome.Score,
		TimestampMs: time.Now().UnixMilli(),
	}
	if outcome.Err != nil {
		st.Error = outcome.Err.Error()
	}
	w.emitStatus(st)

	if outcome.Clicked {
		w.emitHit(ipc.Hit{
			Score:       outcome.Score,
			X:           outcome.ClickScreenX,
			Y:           outcome.ClickScreenY,
			TimestampMs: time.Now().UnixMilli(),
		})
	}
}

func (w *worker) emitStatus(st ipc.Status) {
	if err := w.eventConn.SendTyped("status", ipc.TypeStatus, st); err != nil {
		log.Error("failed to send status", "error", err)
	}
}

func (w *worker) emitHit(hit ipc.Hit) {
	if err := w.eventConn.SendTyped("hit", ipc.TypeHit, hit); err != nil {
		log.Error("failed to send hit", "error", err)
	}
}

func (w *worker) emitLog(level, message string) {
	log.Warn(message)
	line := ipc.LogLine{Level: level, Message: message, TimestampMs: time.Now().UnixMilli()}
	if err := w.eventConn.SendTyped("log", ipc.TypeLog, line); err != nil {
		log.Error("failed to send log line", "error", err)
	}
}
