package matcher

import (
	"image"

	stddraw "golang.org/x/image/draw"
)

// toImage flattens a decoded image.Image into the packed Image
// representation the matcher works with: grayscale (1 channel) or BGR (3
// channels) per config, caller-independent of the source's native layout.
func toImage(src image.Image, grayscale bool) Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	if grayscale {
		gray := image.NewGray(image.Rect(0, 0, w, h))
		stddraw.Draw(gray, gray.Bounds(), src, b.Min, stddraw.Src)
		return Image{Pixels: gray.Pix, Width: w, Height: h, Stride: gray.Stride, Channels: 1}
	}

	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	stddraw.Draw(rgba, rgba.Bounds(), src, b.Min, stddraw.Src)

	stride := w * 3
	bgr := make([]byte, stride*h)
	for y := 0; y < h; y++ {
		srcOff := y * rgba.Stride
		dstOff := y * stride
		for x := 0; x < w; x++ {
			r := rgba.Pix[srcOff+x*4+0]
			g := rgba.Pix[srcOff+x*4+1]
			bl := rgba.Pix[srcOff+x*4+2]
			bgr[dstOff+x*3+0] = bl
			bgr[dstOff+x*3+1] = g
			bgr[dstOff+x*3+2] = r
		}
	}
	return Image{Pixels: bgr, Width: w, Height: h, Stride: stride, Channels: 3}
}

// resize scales img by factor using an area-interpolation-equivalent
// scaler (golang.org/x/image/draw's CatmullRom, the closest high-quality
// scaler the library offers to OpenCV's INTER_AREA for downscaling, with
// BiLinear for upscaling). Scales <= 0 and resulting dimensions < 2px are
// skipped per §4.2.
func resize(img Image, factor float32) (Image, bool) {
	if factor <= 0 {
		return Image{}, false
	}
	if factor == 1.0 {
		return img, true
	}

	newW := int(float32(img.Width) * factor)
	newH := int(float32(img.Height) * factor)
	if newW < 2 || newH < 2 {
		return Image{}, false
	}

	scaler := stddraw.BiLinear
	if factor < 1.0 {
		scaler = stddraw.CatmullRom
	}

	if img.Channels == 1 {
		src := &image.Gray{Pix: img.Pixels, Stride: img.Stride, Rect: image.Rect(0, 0, img.Width, img.Height)}
		dst := image.NewGray(image.Rect(0, 0, newW, newH))
		scaler.Scale(dst, dst.Bounds(), src, src.Bounds(), stddraw.Over, nil)
		return Image{Pixels: dst.Pix, Width: newW, Height: newH, Stride: dst.Stride, Channels: 1}, true
	}

	srcRGBA := bgrToRGBA(img)
	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	scaler.Scale(dst, dst.Bounds(), srcRGBA, srcRGBA.Bounds(), stddraw.Over, nil)

	stride := newW * 3
	out := make([]byte, stride*newH)
	for y := 0; y < newH; y++ {
		srcOff := y * dst.Stride
		dstOff := y * stride
		for x := 0; x < newW; x++ {
			r := dst.Pix[srcOff+x*4+0]
			g := dst.Pix[srcOff+x*4+1]
			bl := dst.Pix[srcOff+x*4+2]
			out[dstOff+x*3+0] = bl
			out[dstOff+x*3+1] = g
			out[dstOff+x*3+2] = r
		}
	}
	return Image{Pixels: out, Width: newW, Height: newH, Stride: stride, Channels: 3}, true
}

func bgrToRGBA(img Image) *image.RGBA {
	rgba := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		srcOff := y * img.Stride
		dstOff := y * rgba.Stride
		for x := 0; x < img.Width; x++ {
			bl := img.Pixels[srcOff+x*3+0]
			g := img.Pixels[srcOff+x*3+1]
			r := img.Pixels[srcOff+x*3+2]
			rgba.Pix[dstOff+x*4+0] = r
			rgba.Pix[dstOff+x*4+1] = g
			rgba.Pix[dstOff+x*4+2] = bl
			rgba.Pix[dstOff+x*4+3] = 255
		}
	}
	return rgba
}
