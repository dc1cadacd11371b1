package matcher

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// grayImage builds a flat Image filled with value, with a brighter wxh
// rectangle at (px,py) so templates have something distinctive to find.
func grayImage(w, h int, base byte, px, py, pw, ph int, spot byte) Image {
	stride := w
	pix := make([]byte, stride*h)
	for i := range pix {
		pix[i] = base
	}
	for y := py; y < py+ph && y < h; y++ {
		for x := px; x < px+pw && x < w; x++ {
			pix[y*stride+x] = spot
		}
	}
	return Image{Pixels: pix, Width: w, Height: h, Stride: stride, Channels: 1}
}

func TestSignatureStableAcrossPathAndScaleOrder(t *testing.T) {
	a := Signature(Options{Paths: []string{"b.png", "a.png"}, Scales: []float32{1.25, 1.0}})
	b := Signature(Options{Paths: []string{"a.png", "b.png"}, Scales: []float32{1.0, 1.25}})
	assert.Equal(t, a, b)
}

func TestSignatureChangesWithGrayscaleFlag(t *testing.T) {
	a := Signature(Options{Paths: []string{"a.png"}, Grayscale: true})
	b := Signature(Options{Paths: []string{"a.png"}, Grayscale: false})
	assert.NotEqual(t, a, b)
}

func TestLoadSkipsMissingFiles(t *testing.T) {
	set, err := Load(Options{Paths: []string{"/nonexistent/path/button.png"}})
	require.NoError(t, err)
	assert.Equal(t, 0, set.Len())
}

func TestMatchOnEmptySetReturnsZeroResult(t *testing.T) {
	set := &Set{}
	result, err := set.Match(grayImage(10, 10, 0, 0, 0, 0, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, Result{Score: 0.0, X: 0, Y: 0, W: 0, H: 0}, result)
}

func TestMatchSkipsTemplateLargerThanSubImage(t *testing.T) {
	set := &Set{templates: []Template{
		{Name: "big", Img: grayImage(50, 50, 10, 0, 0, 0, 0, 0)},
	}}
	result, err := set.Match(grayImage(10, 10, 10, 0, 0, 0, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.Score)
}

func TestMatchFindsExactTemplateLocation(t *testing.T) {
	template := grayImage(8, 8, 50, 1, 1, 6, 6, 200)
	sub := grayImage(40, 30, 50, 19, 13, 6, 6, 200)

	set := &Set{templates: []Template{{Name: "button", Img: template}}}
	result, err := set.Match(sub)
	require.NoError(t, err)

	assert.Equal(t, 18, result.X)
	assert.Equal(t, 12, result.Y)
	assert.Greater(t, result.Score, 0.9)
}

func TestMatchTieBreaksByInsertionOrder(t *testing.T) {
	// Two identical templates; the first one inserted should win ties.
	template := grayImage(4, 4, 220, 0, 0, 4, 4, 220)
	sub := grayImage(20, 20, 40, 8, 8, 4, 4, 220)

	set := &Set{templates: []Template{
		{Name: "first", Img: template},
		{Name: "second", Img: template},
	}}
	result, err := set.Match(sub)
	require.NoError(t, err)
	assert.Equal(t, "first", result.Template)
}

func TestMatchPanicsOnChannelMismatch(t *testing.T) {
	gray := grayImage(4, 4, 100, 0, 0, 0, 0, 0)
	bgr := Image{Pixels: make([]byte, 4*4*3), Width: 4, Height: 4, Stride: 12, Channels: 3}

	set := &Set{templates: []Template{{Name: "t", Img: gray}}}
	assert.Panics(t, func() {
		set.Match(bgr)
	})
}

func TestHitCountsTracksRecordedHits(t *testing.T) {
	set := &Set{}
	set.RecordHit("approve_button")
	set.RecordHit("approve_button")
	set.RecordHit("retry_button")

	counts := set.HitCounts()
	assert.Equal(t, uint64(2), counts["approve_button"])
	assert.Equal(t, uint64(1), counts["retry_button"])
}

func TestResizeSkipsNonPositiveAndTooSmallScales(t *testing.T) {
	img := grayImage(10, 10, 100, 0, 0, 0, 0, 0)

	_, ok := resize(img, 0)
	assert.False(t, ok)

	_, ok = resize(img, -1)
	assert.False(t, ok)

	_, ok = resize(img, 0.1) // 10*0.1 = 1px, below the 2px floor
	assert.False(t, ok)
}

func TestResizeIdentityScaleReturnsSameDimensions(t *testing.T) {
	img := grayImage(12, 8, 100, 0, 0, 0, 0, 0)
	scaled, ok := resize(img, 1.0)
	require.True(t, ok)
	assert.Equal(t, img.Width, scaled.Width)
	assert.Equal(t, img.Height, scaled.Height)
}

func TestResizeUpscalesDimensions(t *testing.T) {
	img := grayImage(10, 10, 100, 0, 0, 0, 0, 0)
	scaled, ok := resize(img, 1.25)
	require.True(t, ok)
	assert.Equal(t, 12, scaled.Width)
	assert.Equal(t, 12, scaled.Height)
}

func TestLoadDecodesRealPNGFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "template.png")
	writeSolidPNG(t, path, 8, 8)

	set, err := Load(Options{Paths: []string{path}, Grayscale: true})
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())
	assert.Equal(t, 8, set.templates[0].Img.Width)
}

// writeSolidPNG writes a minimal valid solid-color PNG for decode tests.
func writeSolidPNG(t *testing.T, path string, w, h int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 128, G: 128, B: 128, A: 255})
		}
	}
	require.NoError(t, png.Encode(f, img))
}
