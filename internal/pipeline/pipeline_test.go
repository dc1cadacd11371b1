package pipeline

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clickwatch/agent/internal/capture"
	"github.com/clickwatch/agent/internal/clicker"
	"github.com/clickwatch/agent/internal/config"
	"github.com/clickwatch/agent/internal/matcher"
)

// fakeBackend is a capture.Backend test double returning a fixed frame.
type fakeBackend struct {
	frame   *capture.Frame
	err     error
	monitor int
}

func (f *fakeBackend) OpenWindow(capture.WindowTarget) error { return nil }
func (f *fakeBackend) OpenMonitor(index int) error {
	f.monitor = index
	return nil
}
func (f *fakeBackend) Configure(capture.Config) {}
func (f *fakeBackend) CaptureFrame(bool) (*capture.Frame, error) {
	return f.frame, f.err
}
func (f *fakeBackend) Stats() capture.Stats { return capture.Stats{} }
func (f *fakeBackend) Close() error         { return nil }

// fakeDispatcher is a clicker.Dispatcher test double recording the last
// request and optionally failing.
type fakeDispatcher struct {
	calls []clicker.Request
	err   error
}

func (f *fakeDispatcher) Click(req clicker.Request) error {
	f.calls = append(f.calls, req)
	return f.err
}

// solidFrame builds a w x h BGR frame filled with bg, with a pw x ph patch
// of fg at (px, py), matching matcher_test.go's grayImage helper shape.
func solidFrame(w, h int, bg, fg [3]byte, px, py, pw, ph int) *capture.Frame {
	stride := w * 3
	buf := make([]byte, stride*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := y*stride + x*3
			c := bg
			if x >= px && x < px+pw && y >= py && y < py+ph {
				c = fg
			}
			buf[off+0] = c[0]
			buf[off+1] = c[1]
			buf[off+2] = c[2]
		}
	}
	return &capture.Frame{
		BGR:         buf,
		Width:       w,
		Height:      h,
		Stride:      stride,
		ContentSize: capture.ContentSize{Width: w, Height: h},
	}
}

// checkerPixel returns an alternating black/white value, used to build a
// non-constant pattern: a constant-color template has zero variance and
// the matcher's NCC defines that as an automatic non-match (see
// internal/matcher/ncc.go's tNorm==0 guard), so "does this patch match"
// tests need a template with real structure, not a solid color.
func checkerPixel(x, y int) byte {
	if (x+y)%2 == 0 {
		return 0
	}
	return 255
}

// writeCheckerboardPNG writes a w x h checkerboard PNG template to dir and
// returns its path, for feeding into matcher.Load.
func writeCheckerboardPNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := checkerPixel(x, y)
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

// checkerFrame builds a w x h BGR frame filled with a constant background,
// with the same checkerboard pattern writeCheckerboardPNG encodes embedded
// at (px, py), so the exact-match location is pixel-identical to the
// loaded template.
func checkerFrame(w, h int, bg [3]byte, px, py, pw, ph int) *capture.Frame {
	frame := solidFrame(w, h, bg, bg, 0, 0, 0, 0)
	for y := 0; y < ph; y++ {
		for x := 0; x < pw; x++ {
			v := checkerPixel(x, y)
			off := (py+y)*frame.Stride + (px+x)*3
			frame.BGR[off+0] = v
			frame.BGR[off+1] = v
			frame.BGR[off+2] = v
		}
	}
	return frame
}

func baseConfig() config.Config {
	cfg := config.Default()
	cfg.CaptureMode = config.CaptureModeWindow
	cfg.Grayscale = false
	cfg.Threshold = 0.9
	cfg.MinDetections = 1
	cfg.CooldownS = 2
	cfg.ClickMethod = config.ClickMethodMessage
	return cfg
}

func TestTickSubThresholdScoreResetsHitStreak(t *testing.T) {
	dir := t.TempDir()
	// Template is a checkerboard; frame is entirely constant black with no
	// embedded pattern anywhere, so the best score stays far below threshold.
	path := writeCheckerboardPNG(t, dir, "tmpl.png", 4, 4)
	set, err := matcher.Load(matcher.Options{Paths: []string{path}})
	require.NoError(t, err)

	backend := &fakeBackend{frame: solidFrame(20, 20, [3]byte{0, 0, 0}, [3]byte{0, 0, 0}, 0, 0, 0, 0)}
	dispatcher := &fakeDispatcher{}

	cfg := baseConfig()
	p := New(cfg, backend, dispatcher, set)

	outcome := p.Tick(time.Now())
	assert.False(t, outcome.Clicked)
	assert.Equal(t, 0, outcome.ConsecutiveHits)
	assert.Equal(t, 0, p.consecutiveHits)
}

func TestTickAtThresholdScoreIncrementsStreakAndClicksWhenGated(t *testing.T) {
	dir := t.TempDir()
	path := writeCheckerboardPNG(t, dir, "tmpl.png", 4, 4)
	set, err := matcher.Load(matcher.Options{Paths: []string{path}})
	require.NoError(t, err)

	// Frame matches the template exactly at (8,8): perfect correlation.
	frame := checkerFrame(20, 20, [3]byte{10, 10, 10}, 8, 8, 4, 4)
	backend := &fakeBackend{frame: frame}
	dispatcher := &fakeDispatcher{}

	cfg := baseConfig()
	cfg.Threshold = 0.99
	cfg.MinDetections = 1
	p := New(cfg, backend, dispatcher, set)

	outcome := p.Tick(time.Now())
	require.Nil(t, outcome.Err)
	assert.Equal(t, 1, outcome.ConsecutiveHits)
	assert.True(t, outcome.Clicked)
	require.Len(t, dispatcher.calls, 1)
	assert.Equal(t, 0, p.consecutiveHits, "consecutive hits resets after a click")
}

func TestTickRequiresMinDetectionsBeforeClicking(t *testing.T) {
	dir := t.TempDir()
	path := writeCheckerboardPNG(t, dir, "tmpl.png", 4, 4)
	set, err := matcher.Load(matcher.Options{Paths: []string{path}})
	require.NoError(t, err)

	frame := checkerFrame(20, 20, [3]byte{10, 10, 10}, 8, 8, 4, 4)
	backend := &fakeBackend{frame: frame}
	dispatcher := &fakeDispatcher{}

	cfg := baseConfig()
	cfg.Threshold = 0.99
	cfg.MinDetections = 3
	p := New(cfg, backend, dispatcher, set)

	now := time.Now()
	first := p.Tick(now)
	assert.False(t, first.Clicked)
	assert.Equal(t, 1, first.ConsecutiveHits)

	second := p.Tick(now)
	assert.False(t, second.Clicked)
	assert.Equal(t, 2, second.ConsecutiveHits)

	third := p.Tick(now)
	assert.True(t, third.Clicked)
	assert.Equal(t, 3, third.ConsecutiveHits)
	assert.Len(t, dispatcher.calls, 1)
}

func TestTickDoesNotClickBeforeCooldownElapses(t *testing.T) {
	dir := t.TempDir()
	path := writeCheckerboardPNG(t, dir, "tmpl.png", 4, 4)
	set, err := matcher.Load(matcher.Options{Paths: []string{path}})
	require.NoError(t, err)

	frame := checkerFrame(20, 20, [3]byte{10, 10, 10}, 8, 8, 4, 4)
	backend := &fakeBackend{frame: frame}
	dispatcher := &fakeDispatcher{}

	cfg := baseConfig()
	cfg.Threshold = 0.99
	cfg.MinDetections = 1
	cfg.CooldownS = 5
	p := New(cfg, backend, dispatcher, set)

	now := time.Now()
	first := p.Tick(now)
	require.True(t, first.Clicked)
	require.Len(t, dispatcher.calls, 1)

	// Immediately after: streak restarts at 1 but cooldown still blocks
	// dispatch even once min_detections is satisfied again.
	second := p.Tick(now.Add(1 * time.Second))
	assert.False(t, second.Clicked)
	assert.Len(t, dispatcher.calls, 1)

	third := p.Tick(now.Add(6 * time.Second))
	assert.True(t, third.Clicked)
	assert.Len(t, dispatcher.calls, 2)
}

func TestTickPropagatesClickDispatchError(t *testing.T) {
	dir := t.TempDir()
	path := writeCheckerboardPNG(t, dir, "tmpl.png", 4, 4)
	set, err := matcher.Load(matcher.Options{Paths: []string{path}})
	require.NoError(t, err)

	frame := checkerFrame(20, 20, [3]byte{10, 10, 10}, 8, 8, 4, 4)
	backend := &fakeBackend{frame: frame}
	dispatcher := &fakeDispatcher{err: clicker.ErrWindowGone}

	cfg := baseConfig()
	cfg.Threshold = 0.99
	cfg.MinDetections = 1
	p := New(cfg, backend, dispatcher, set)

	outcome := p.Tick(time.Now())
	require.NotNil(t, outcome.Err)
	assert.Equal(t, KindClickDispatch, outcome.Err.Kind)
	assert.True(t, errors.Is(outcome.Err, clicker.ErrWindowGone))
	assert.False(t, outcome.Clicked)
	assert.Equal(t, 0, p.consecutiveHits)
}

func TestTickReturnsCaptureUnavailableError(t *testing.T) {
	set, err := matcher.Load(matcher.Options{})
	require.NoError(t, err)

	backend := &fakeBackend{err: capture.ErrCaptureUnavailable}
	dispatcher := &fakeDispatcher{}

	cfg := baseConfig()
	p := New(cfg, backend, dispatcher, set)

	outcome := p.Tick(time.Now())
	require.NotNil(t, outcome.Err)
	assert.Equal(t, KindCaptureUnavailable, outcome.Err.Kind)
}

func TestTickNilFrameIsATransientMissNotAnError(t *testing.T) {
	set, err := matcher.Load(matcher.Options{})
	require.NoError(t, err)

	backend := &fakeBackend{frame: nil, err: nil}
	dispatcher := &fakeDispatcher{}

	cfg := baseConfig()
	p := New(cfg, backend, dispatcher, set)

	outcome := p.Tick(time.Now())
	assert.Nil(t, outcome.Err)
	assert.False(t, outcome.Clicked)
}

func TestAdvanceMultiScreenPollingRebindsMonitorOnInterval(t *testing.T) {
	set, err := matcher.Load(matcher.Options{})
	require.NoError(t, err)

	backend := &fakeBackend{frame: solidFrame(4, 4, [3]byte{0, 0, 0}, [3]byte{0, 0, 0}, 0, 0, 0, 0)}
	dispatcher := &fakeDispatcher{}

	cfg := baseConfig()
	cfg.CaptureMode = config.CaptureModeMonitor
	cfg.EnableMultiScreenPolling = true
	cfg.ScreenPollingIntervalMs = 1000
	p := New(cfg, backend, dispatcher, set)

	now := time.Now()
	p.Tick(now)
	assert.Equal(t, 1, backend.monitor, "first tick has no prior poll time, so it binds monitor 1 immediately")

	p.Tick(now.Add(500 * time.Millisecond))
	assert.Equal(t, 1, backend.monitor, "no rebind before the polling interval elapses")

	p.Tick(now.Add(1500 * time.Millisecond))
	assert.Equal(t, 2, backend.monitor, "rebinds after the polling interval elapses")
}

func TestRunningAndStopToggleRunState(t *testing.T) {
	set, err := matcher.Load(matcher.Options{})
	require.NoError(t, err)
	p := New(baseConfig(), &fakeBackend{}, &fakeDispatcher{}, set)

	assert.True(t, p.Running())
	p.Stop()
	assert.False(t, p.Running())
}

func TestCropROIClipsToFrameBounds(t *testing.T) {
	frame := solidFrame(10, 10, [3]byte{1, 2, 3}, [3]byte{1, 2, 3}, 0, 0, 0, 0)
	cropped, left, top := cropROI(frame, 5, 5, 20, 20)
	assert.Equal(t, 5, left)
	assert.Equal(t, 5, top)
	assert.Equal(t, 5, cropped.Width)
	assert.Equal(t, 5, cropped.Height)
}

func TestCropROIHonorsXOffsetInPixelContent(t *testing.T) {
	// fg square occupies columns [4,10), rows [0,10) of a 10x10 frame; an
	// ROI starting at x=4 must contain only fg pixels, not a row-only slice
	// that still starts at column 0.
	frame := solidFrame(10, 10, [3]byte{1, 2, 3}, [3]byte{9, 9, 9}, 4, 0, 6, 10)
	cropped, left, top := cropROI(frame, 4, 0, 6, 10)
	assert.Equal(t, 4, left)
	assert.Equal(t, 0, top)
	assert.Equal(t, 6, cropped.Width)
	assert.Equal(t, 10, cropped.Height)

	for row := 0; row < cropped.Height; row++ {
		for col := 0; col < cropped.Width; col++ {
			off := row*cropped.Stride + col*3
			assert.Equal(t, byte(9), cropped.BGR[off], "row %d col %d", row, col)
			assert.Equal(t, byte(9), cropped.BGR[off+1], "row %d col %d", row, col)
			assert.Equal(t, byte(9), cropped.BGR[off+2], "row %d col %d", row, col)
		}
	}
}

func TestCropROIZeroSizeReturnsWholeFrame(t *testing.T) {
	frame := solidFrame(10, 10, [3]byte{1, 2, 3}, [3]byte{1, 2, 3}, 0, 0, 0, 0)
	cropped, left, top := cropROI(frame, 5, 5, 0, 0)
	assert.Equal(t, 0, left)
	assert.Equal(t, 0, top)
	assert.Same(t, frame, cropped)
}

func TestToMatcherImageGrayscaleConversionDimensions(t *testing.T) {
	frame := solidFrame(6, 4, [3]byte{10, 20, 30}, [3]byte{10, 20, 30}, 0, 0, 0, 0)
	img := toMatcherImage(frame, true)
	assert.Equal(t, 1, img.Channels)
	assert.Equal(t, 6, img.Width)
	assert.Equal(t, 4, img.Height)
	assert.Len(t, img.Pixels, 6*4)
}

func TestToMatcherImageColorPassesThroughBGR(t *testing.T) {
	frame := solidFrame(6, 4, [3]byte{10, 20, 30}, [3]byte{10, 20, 30}, 0, 0, 0, 0)
	img := toMatcherImage(frame, false)
	assert.Equal(t, 3, img.Channels)
	assert.Equal(t, frame.BGR, img.Pixels)
}
