package domain

import "image"

type ScreenInfo struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	X           int     `json:"x"`
	Y           int     `json:"y"`
	IsPrimary   bool    `json:"is_primary"`
	ScaleFactor float64 `json:"scale_factor"`
}

func (s ScreenInfo) Bounds() image.Rectangle {
	return image.Rect(s.X, s.Y, s.X+s.Width, s.Y+s.Height)
}

// DesktopBounds is the union of all display rectangles.
func DesktopBounds(screens []ScreenInfo) image.Rectangle {
	var r image.Rectangle
	for _, s := range screens {
		r = r.Union(s.Bounds())
	}
	return r
}
