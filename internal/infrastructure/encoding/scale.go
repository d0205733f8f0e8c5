package encoding

import (
	"image"

	"deskbridge/internal/core/domain"

	"github.com/nfnt/resize"
)

// Scale resizes frame to target with Lanczos resampling. Frames already at
// the target size are returned as is.
func Scale(frame *image.RGBA, target image.Point) *image.RGBA {
	if frame.Bounds().Size() == target {
		return frame
	}
	return resize.Resize(uint(target.X), uint(target.Y), frame, resize.Lanczos3).(*image.RGBA)
}

// OutputSize works out the encoded frame size. Zero width or height in cfg
// keeps the native dimension (scaled to preserve aspect when the other one
// is set), then the preset's height cap applies. Both sides end up even.
func OutputSize(native image.Point, cfg domain.StreamConfig, preset domain.QualityPreset) image.Point {
	if native.X <= 0 || native.Y <= 0 {
		return image.Point{}
	}

	w, h := cfg.Width, cfg.Height
	switch {
	case w == 0 && h == 0:
		w, h = native.X, native.Y
	case w == 0:
		w = h * native.X / native.Y
	case h == 0:
		h = w * native.Y / native.X
	}

	if maxH := preset.MaxHeight(); maxH > 0 && h > maxH {
		w = w * maxH / h
		h = maxH
	}

	return image.Point{X: even(w), Y: even(h)}
}

func even(v int) int {
	v &^= 1
	if v < 2 {
		return 2
	}
	return v
}
