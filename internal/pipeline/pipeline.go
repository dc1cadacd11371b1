package pipeline

import (
	"time"

	"github.com/clickwatch/agent/internal/capture"
	"github.com/clickwatch/agent/internal/clicker"
	"github.com/clickwatch/agent/internal/config"
	"github.com/clickwatch/agent/internal/logging"
	"github.com/clickwatch/agent/internal/matcher"
)

var log = logging.L("pipeline")

// Pipeline holds the Scanner Worker's per-process state (§3: consecutive
// hits, next_click_allowed_at, scan_count, running) plus the components it
// orchestrates each tick.
type Pipeline struct {
	backend    capture.Backend
	dispatcher clicker.Dispatcher
	templates  *matcher.Set

	cfg       config.Config
	scheduler *Scheduler

	consecutiveHits    int
	nextClickAllowedAt time.Time
	scanCount          uint64
	running            bool

	pollingMonitor     int
	lastScreenPollAt   time.Time
}

// TickOutcome is the per-tick result a caller (the worker main loop, or a
// test) inspects to decide what Status/Hit/Log messages to emit.
// ClickScreenX/ClickScreenY hold the click point in capture-content
// coordinates (ROI and click offsets applied); in window mode they are not
// translated to screen coordinates.
type TickOutcome struct {
	Score           float64
	ConsecutiveHits int
	Clicked         bool
	ClickScreenX    int
	ClickScreenY    int
	Err             *TickError
}

// New builds a Pipeline bound to backend/dispatcher/templates, all already
// constructed and configured by the caller (the worker entrypoint).
func New(cfg config.Config, backend capture.Backend, dispatcher clicker.Dispatcher, templates *matcher.Set) *Pipeline {
	return &Pipeline{
		backend:    backend,
		dispatcher: dispatcher,
		templates:  templates,
		cfg:        cfg,
		scheduler: NewScheduler(SchedulerOptions{
			ActiveScanInterval: time.Duration(cfg.ActiveScanIntervalMs) * time.Millisecond,
			IdleScanInterval:   time.Duration(cfg.IdleScanIntervalMs) * time.Millisecond,
			HitCooldown:        time.Duration(cfg.HitCooldownMs) * time.Millisecond,
			MissBackoffMax:     time.Duration(cfg.MissBackoffMsMax) * time.Millisecond,
			ScanMode:           ScanMode(cfg.ScanMode),
			ProcessWhitelist:   cfg.ProcessWhitelist,
		}),
		running: true,
	}
}

// Running reports whether the scan loop should keep iterating.
func (p *Pipeline) Running() bool { return p.running }

// Stop requests the scan loop exit at the next iteration boundary (§5's
// cancellation contract).
func (p *Pipeline) Stop() { p.running = false }

// ScanCount returns how many ticks have completed.
func (p *Pipeline) ScanCount() uint64 { return p.scanCount }

// NextDelay returns how long the worker main loop should sleep before the
// next tick, per the adaptive scheduler.
func (p *Pipeline) NextDelay(now time.Time) time.Duration {
	return p.scheduler.NextDelay(now)
}

// OnForegroundChange forwards a foreground-window change to the scheduler.
func (p *Pipeline) OnForegroundChange(processName string) {
	p.scheduler.OnForegroundChange(processName)
}

// Tick runs one iteration of the per-tick algorithm: multi-screen polling
// advance, capture, ROI crop, match, hit/cooldown gating and click dispatch.
// Template reloading and Status emission are left to the caller.
func (p *Pipeline) Tick(now time.Time) TickOutcome {
	p.scanCount++

	p.advanceMultiScreenPolling(now)

	frame, err := p.backend.CaptureFrame(p.cfg.RestoreAfterCapture)
	if err != nil {
		return TickOutcome{Err: newTickError(KindCaptureUnavailable, err)}
	}
	if frame == nil {
		// Transient miss: no frame this tick, scheduler alone decides delay.
		return TickOutcome{}
	}

	sub, roiLeft, roiTop := cropROI(frame, p.cfg.ROIX, p.cfg.ROIY, p.cfg.ROIW, p.cfg.ROIH)
	subImg := toMatcherImage(sub, p.cfg.Grayscale)

	result, err := p.templates.Match(subImg)
	if err != nil {
		return TickOutcome{Err: newTickError(KindMatcherSkip, err)}
	}

	outcome := TickOutcome{Score: result.Score}

	if result.Score >= float64(p.cfg.Threshold) {
		p.consecutiveHits++
		p.scheduler.OnHit(now)
	} else {
		p.consecutiveHits = 0
		p.scheduler.OnMiss(now)
	}
	outcome.ConsecutiveHits = p.consecutiveHits

	gated := p.consecutiveHits >= p.cfg.MinDetections && !now.Before(p.nextClickAllowedAt)
	if !gated {
		return outcome
	}

	contentX := roiLeft + result.X + result.W/2 + int(p.cfg.ClickOffsetX)
	contentY := roiTop + result.Y + result.H/2 + int(p.cfg.ClickOffsetY)

	req := clicker.Request{
		WindowMode:              p.cfg.CaptureMode == config.CaptureModeWindow,
		HWND:                    p.cfg.TargetHWND,
		ContentX:                contentX,
		ContentY:                contentY,
		ContentW:                frame.ContentSize.Width,
		ContentH:                frame.ContentSize.Height,
		Method:                  clicker.Method(p.cfg.ClickMethod),
		EnhancedWindowFinding:   p.cfg.EnhancedWindowFinding,
		VerifyWindowBeforeClick: p.cfg.VerifyWindowBeforeClick,
	}

	if err := p.dispatcher.Click(req); err != nil {
		log.Warn("click dispatch failed", "error", err)
		p.consecutiveHits = 0
		outcome.Err = newTickError(KindClickDispatch, err)
		return outcome
	}

	if p.templates != nil && result.Template != "" {
		p.templates.RecordHit(result.Template)
	}

	p.nextClickAllowedAt = now.Add(time.Duration(p.cfg.CooldownS * float64(time.Second)))
	p.consecutiveHits = 0
	outcome.Clicked = true
	outcome.ClickScreenX = contentX
	outcome.ClickScreenY = contentY
	return outcome
}

// advanceMultiScreenPolling implements §4.3 step 2: when
// enable_multi_screen_polling is set and capture_mode is monitor, advance
// the polling monitor cursor once screen_polling_interval_ms has elapsed
// and rebind the capture backend.
func (p *Pipeline) advanceMultiScreenPolling(now time.Time) {
	if !p.cfg.EnableMultiScreenPolling || p.cfg.CaptureMode != config.CaptureModeMonitor {
		return
	}
	interval := time.Duration(p.cfg.ScreenPollingIntervalMs) * time.Millisecond
	if !p.lastScreenPollAt.IsZero() && now.Sub(p.lastScreenPollAt) < interval {
		return
	}
	p.lastScreenPollAt = now
	p.pollingMonitor++
	if err := p.backend.OpenMonitor(p.pollingMonitor); err != nil {
		// Out of range; wrap back to the first monitor next tick.
		p.pollingMonitor = 0
		log.Debug("multi-screen polling wrapped", "error", err)
	}
}

// cropROI clips (x,y,w,h) to the frame bounds, or returns the whole frame
// when w or h is 0, per §4.3 step 4.
func cropROI(frame *capture.Frame, x, y, w, h int) (*capture.Frame, int, int) {
	if w <= 0 || h <= 0 {
		return frame, 0, 0
	}
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	if x > frame.Width {
		x = frame.Width
	}
	if y > frame.Height {
		y = frame.Height
	}
	if x+w > frame.Width {
		w = frame.Width - x
	}
	if y+h > frame.Height {
		h = frame.Height - y
	}

	const bpp = 3 // packed BGR
	srcStride := frame.Stride
	dstStride := w * bpp
	out := make([]byte, dstStride*h)

	for row := 0; row < h; row++ {
		srcStart := (y+row)*srcStride + x*bpp
		srcEnd := srcStart + dstStride
		if srcEnd > len(frame.BGR) {
			break
		}
		dstStart := row * dstStride
		copy(out[dstStart:dstStart+dstStride], frame.BGR[srcStart:srcEnd])
	}

	cropped := &capture.Frame{
		BGR:         out,
		Width:       w,
		Height:      h,
		Stride:      dstStride,
		ContentSize: frame.ContentSize,
	}
	return cropped, x, y
}

// toMatcherImage converts a (possibly ROI-cropped) BGR Frame into a
// matcher.Image, converting to grayscale iff requested and the frame isn't
// already gray (§4.3 step 5).
func toMatcherImage(frame *capture.Frame, grayscale bool) matcher.Image {
	if !grayscale {
		return matcher.Image{
			Pixels:   frame.BGR,
			Width:    frame.Width,
			Height:   frame.Height,
			Stride:   frame.Stride,
			Channels: 3,
		}
	}

	gray := make([]byte, frame.Width*frame.Height)
	for y := 0; y < frame.Height; y++ {
		rowOff := y * frame.Stride
		for x := 0; x < frame.Width; x++ {
			b := frame.BGR[rowOff+x*3+0]
			g := frame.BGR[rowOff+x*3+1]
			r := frame.BGR[rowOff+x*3+2]
			// Standard luma weighting, matching the matcher's own
			// grayscale conversion for decoded templates.
			gray[y*frame.Width+x] = byte((299*int(r) + 587*int(g) + 114*int(b)) / 1000)
		}
	}
	return matcher.Image{
		Pixels:   gray,
		Width:    frame.Width,
		Height:   frame.Height,
		Stride:   frame.Width,
		Channels: 1,
	}
}
