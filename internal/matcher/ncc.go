package matcher

import "math"

// ncc computes normalized cross-correlation of template t against every
// position it fits inside sub, returning the best score and its top-left
// position in sub's coordinate space. Brute-force O(positions * template
// pixels); the sub-images and templates this package handles are small
// (button crops, not full frames), so this stays well within budget per
// scan tick.
func ncc(sub, t Image) (float64, int, int) {
	bestScore := math.Inf(-1)
	bestX, bestY := 0, 0

	maxX := sub.Width - t.Width
	maxY := sub.Height - t.Height

	tMean, tNorm := templateStats(t)
	if tNorm == 0 {
		return 0, 0, 0
	}

	for y := 0; y <= maxY; y++ {
		for x := 0; x <= maxX; x++ {
			score := nccAt(sub, t, x, y, tMean, tNorm)
			if score > bestScore {
				bestScore = score
				bestX, bestY = x, y
			}
		}
	}

	if math.IsInf(bestScore, -1) {
		return 0, 0, 0
	}
	return bestScore, bestX, bestY
}

func templateStats(t Image) (mean float64, norm float64) {
	n := t.Width * t.Height * t.Channels
	var sum float64
	for y := 0; y < t.Height; y++ {
		row := t.Pixels[y*t.Stride : y*t.Stride+t.Width*t.Channels]
		for _, v := range row {
			sum += float64(v)
		}
	}
	mean = sum / float64(n)

	var sq float64
	for y := 0; y < t.Height; y++ {
		row := t.Pixels[y*t.Stride : y*t.Stride+t.Width*t.Channels]
		for _, v := range row {
			d := float64(v) - mean
			sq += d * d
		}
	}
	return mean, math.Sqrt(sq)
}

// nccAt computes the zero-mean normalized cross-correlation between t and
// the sub-region of sub anchored at (x0,y0).
func nccAt(sub, t Image, x0, y0 int, tMean, tNorm float64) float64 {
	rowBytes := t.Width * t.Channels

	var subSum float64
	for y := 0; y < t.Height; y++ {
		srcOff := (y0+y)*sub.Stride + x0*sub.Channels
		row := sub.Pixels[srcOff : srcOff+rowBytes]
		for _, v := range row {
			subSum += float64(v)
		}
	}
	n := float64(t.Width * t.Height * t.Channels)
	subMean := subSum / n

	var num, subSq float64
	for y := 0; y < t.Height; y++ {
		subOff := (y0+y)*sub.Stride + x0*sub.Channels
		tOff := y * t.Stride
		subRow := sub.Pixels[subOff : subOff+rowBytes]
		tRow := t.Pixels[tOff : tOff+rowBytes]
		for i := range subRow {
			sv := float64(subRow[i]) - subMean
			tv := float64(tRow[i]) - tMean
			num += sv * tv
			subSq += sv * sv
		}
	}

	subNorm := math.Sqrt(subSq)
	if subNorm == 0 || tNorm == 0 {
		return 0
	}
	return num / (subNorm * tNorm)
}
