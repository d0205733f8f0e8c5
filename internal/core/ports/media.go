package ports

import (
	"image"
	"io"
	"time"

	"deskbridge/internal/core/domain"
)

// ScreenCapturer is the host screen-capture facility, addressed by display index.
type ScreenCapturer interface {
	Screens() ([]domain.ScreenInfo, error)
	Capture(screenIndex int) (*image.RGBA, error)
}

// Encoder output may come from a shared pool; callers hand it back once
// the frame is written.
type Encoder interface {
	io.Closer
	Encode(frame *image.RGBA) ([]byte, error)
}

type EncoderFactory interface {
	NewEncoder(codec domain.VideoCodec, size image.Point, framerate, bitrateKbps int) (Encoder, error)
	Supports(codec domain.VideoCodec) bool
}

// Streamer captures, encodes and sends one session's screen.
type Streamer interface {
	ApplyConfig(cfg domain.StreamConfig) error
	SelectScreen(index int)
	Start() error
	// Stop halts capture and waits for the in-flight frame to finish.
	Stop()
	Running() bool
	Stats() domain.StreamStats
}

type StreamerFactory interface {
	NewStreamer(sessionID domain.SessionID, cfg domain.StreamConfig, sink VideoSink, feedback FeedbackSource) (Streamer, error)
}

// QualityAdvisor picks the next effective preset from link feedback.
type QualityAdvisor interface {
	Next(current, ceiling domain.QualityPreset, feedback domain.LinkFeedback, sinceLastSwitch time.Duration) (domain.QualityPreset, bool)
}
