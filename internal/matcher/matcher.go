// Package matcher implements the Template Matcher (§4.2): signature-cached
// template loading, multi-scale resize, and normalized cross-correlation
// against a caller-supplied sub-image.
package matcher

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/clickwatch/agent/internal/logging"
)

var log = logging.L("matcher")

// Image is a decoded template or sub-image: grayscale (Channels=1) or BGR
// (Channels=3) packed pixels, row-major, Stride bytes per row.
type Image struct {
	Pixels   []byte
	Width    int
	Height   int
	Stride   int
	Channels int
}

// Template is one named template at one scale.
type Template struct {
	Name  string
	Scale float32
	Img   Image
}

// Set is the shared immutable Template Set (§3): loaded once per signature,
// reused across scan ticks.
type Set struct {
	signature string
	templates []Template

	hits sync.Map // name -> *uint64
}

// Options selects how templates are loaded, mirroring the Configuration
// fields the matcher consumes (§3).
type Options struct {
	Paths      []string
	Grayscale  bool
	MultiScale bool
	Scales     []float32
}

// Signature computes the cache key from (sorted_paths, grayscale_flag,
// multi_scale_flag, scales_sorted), per §4.2's loading contract.
func Signature(opts Options) string {
	paths := append([]string(nil), opts.Paths...)
	sort.Strings(paths)

	scales := append([]float32(nil), opts.Scales...)
	sort.Slice(scales, func(i, j int) bool { return scales[i] < scales[j] })

	h := sha256.New()
	for _, p := range paths {
		fmt.Fprintf(h, "path:%s\n", p)
	}
	fmt.Fprintf(h, "gray:%v\n", opts.Grayscale)
	fmt.Fprintf(h, "multi:%v\n", opts.MultiScale)
	for _, s := range scales {
		fmt.Fprintf(h, "scale:%f\n", s)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Load builds a Set from opts. Missing files are logged and skipped; if
// every path is missing, the returned Set is empty (Match then reports the
// empty-set result). Paths are read as bytes first so a non-ASCII path that
// the platform's file-open path might mangle as a string still resolves —
// os.ReadFile takes the path as given, the decode step never touches the
// filesystem again.
func Load(opts Options) (*Set, error) {
	sig := Signature(opts)
	s := &Set{signature: sig}

	scales := opts.Scales
	if !opts.MultiScale || len(scales) == 0 {
		scales = []float32{1.0}
	}

	for _, path := range opts.Paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Warn("template file missing, skipped", "path", path, "error", err)
			continue
		}

		img, _, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			// also try explicit decoders in case the registered format
			// sniff failed on an unusual header
			if i2, perr := png.Decode(bytes.NewReader(raw)); perr == nil {
				img = i2
			} else if i3, jerr := jpeg.Decode(bytes.NewReader(raw)); jerr == nil {
				img = i3
			} else {
				log.Warn("template file failed to decode, skipped", "path", path, "error", err)
				continue
			}
		}

		base := toImage(img, opts.Grayscale)

		for _, scale := range scales {
			scaled, ok := resize(base, scale)
			if !ok {
				continue
			}
			s.templates = append(s.templates, Template{
				Name:  path,
				Scale: scale,
				Img:   scaled,
			})
		}
	}

	return s, nil
}

// Signature returns the cache key this Set was built from.
func (s *Set) Signature() string { return s.signature }

// Len reports how many (template, scale) pairs are loaded.
func (s *Set) Len() int { return len(s.templates) }

// HitCounts returns, per template name, how many times RecordHit has been
// called. Purely diagnostic — informational only (SPEC_FULL.md §3.2), it
// does not feed back into matching or thresholds.
func (s *Set) HitCounts() map[string]uint64 {
	out := make(map[string]uint64)
	s.hits.Range(func(k, v any) bool {
		out[k.(string)] = atomic.LoadUint64(v.(*uint64))
		return true
	})
	return out
}

// RecordHit increments the diagnostic hit counter for a template name.
func (s *Set) RecordHit(name string) {
	v, _ := s.hits.LoadOrStore(name, new(uint64))
	atomic.AddUint64(v.(*uint64), 1)
}

// Result is the best match across every template/scale in the Set.
type Result struct {
	Score     float64
	X, Y      int
	W, H      int
	Template  string
}

// Match finds the best normalized-cross-correlation match of any template
// in the Set inside sub. Ties are broken by template insertion order. An
// empty Set, or a Set where every template is larger than sub, yields
// (0.0, (0,0), (0,0)) per §4.2's edge case.
func (s *Set) Match(sub Image) (Result, error) {
	best := Result{}
	found := false

	for _, t := range s.templates {
		if t.Img.Channels != sub.Channels {
			panic(fmt.Sprintf("matcher: dtype mismatch, template channels=%d sub channels=%d", t.Img.Channels, sub.Channels))
		}
		if t.Img.Width > sub.Width || t.Img.Height > sub.Height || t.Img.Width < 1 || t.Img.Height < 1 {
			continue
		}

		score, x, y := ncc(sub, t.Img)
		if !found || score > best.Score {
			best = Result{Score: score, X: x, Y: y, W: t.Img.Width, H: t.Img.Height, Template: t.Name}
			found = true
		}
	}

	if !found {
		return Result{Score: 0.0, X: 0, Y: 0, W: 0, H: 0}, nil
	}
	return best, nil
}
