package capture

import (
	"fmt"
	"image"
	"sync"
	"time"

	"deskbridge/internal/core/domain"

	"github.com/kbinani/screenshot"
)

// DisplaySource is the host display facility. The default implementation
// wraps kbinani/screenshot.
type DisplaySource interface {
	NumActiveDisplays() int
	GetDisplayBounds(index int) image.Rectangle
	CaptureRect(rect image.Rectangle) (*image.RGBA, error)
}

type screenshotSource struct{}

func (screenshotSource) NumActiveDisplays() int { return screenshot.NumActiveDisplays() }

func (screenshotSource) GetDisplayBounds(index int) image.Rectangle {
	return screenshot.GetDisplayBounds(index)
}

func (screenshotSource) CaptureRect(rect image.Rectangle) (*image.RGBA, error) {
	return screenshot.CaptureRect(rect)
}

// ScreenCapturer enumerates displays and grabs frames from them. Display
// enumeration is cached for cacheTTL because input validation asks for the
// desktop bounds on every event.
type ScreenCapturer struct {
	source   DisplaySource
	cacheTTL time.Duration

	mu        sync.Mutex
	screens   []domain.ScreenInfo
	fetchedAt time.Time
	now       func() time.Time
}

func NewScreenCapturer(cacheTTL time.Duration) *ScreenCapturer {
	return NewScreenCapturerWithSource(screenshotSource{}, cacheTTL)
}

func NewScreenCapturerWithSource(source DisplaySource, cacheTTL time.Duration) *ScreenCapturer {
	return &ScreenCapturer{
		source:   source,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// Screens returns the available displays. A display whose bounds start at
// the origin is reported as primary.
func (c *ScreenCapturer) Screens() ([]domain.ScreenInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.screens != nil && c.now().Sub(c.fetchedAt) < c.cacheTTL {
		return cloneScreens(c.screens), nil
	}

	n := c.source.NumActiveDisplays()
	if n <= 0 {
		return nil, fmt.Errorf("no active displays")
	}

	screens := make([]domain.ScreenInfo, n)
	for i := 0; i < n; i++ {
		bounds := c.source.GetDisplayBounds(i)
		screens[i] = domain.ScreenInfo{
			ID:          i,
			Name:        fmt.Sprintf("Display %d", i+1),
			Width:       bounds.Dx(),
			Height:      bounds.Dy(),
			X:           bounds.Min.X,
			Y:           bounds.Min.Y,
			IsPrimary:   bounds.Min == image.Point{},
			ScaleFactor: 1.0,
		}
	}

	c.screens = screens
	c.fetchedAt = c.now()
	return cloneScreens(screens), nil
}

// Capture grabs one frame of the display at screenIndex.
func (c *ScreenCapturer) Capture(screenIndex int) (*image.RGBA, error) {
	n := c.source.NumActiveDisplays()
	if screenIndex < 0 || screenIndex >= n {
		return nil, fmt.Errorf("invalid screen index %d (%d displays)", screenIndex, n)
	}
	img, err := c.source.CaptureRect(c.source.GetDisplayBounds(screenIndex))
	if err != nil {
		return nil, fmt.Errorf("capturing display %d: %w", screenIndex, err)
	}
	return img, nil
}

// Invalidate drops the cached display list.
func (c *ScreenCapturer) Invalidate() {
	c.mu.Lock()
	c.screens = nil
	c.mu.Unlock()
}

func cloneScreens(screens []domain.ScreenInfo) []domain.ScreenInfo {
	out := make([]domain.ScreenInfo, len(screens))
	copy(out, screens)
	return out
}
