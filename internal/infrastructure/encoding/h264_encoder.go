//go:build cgo

package encoding

import (
	"bytes"
	"image"

	"deskbridge/internal/core/domain"
	"deskbridge/internal/core/ports"

	"github.com/gen2brain/x264-go"
)

// H264Encoder wraps libx264 tuned for low latency baseline output.
type H264Encoder struct {
	buffer   *bytes.Buffer
	encoder  *x264.Encoder
	realSize image.Point
}

func newH264Encoder(size image.Point, framerate, bitrateKbps int) (ports.Encoder, error) {
	profile := "3.1"
	if size.Y > 720 {
		profile = "4.1"
	}
	realSize, err := findBestSizeForH264Profile(profile, size)
	if err != nil {
		return nil, err
	}

	buffer := bytes.NewBuffer(make([]byte, 0))
	opts := x264.Options{
		Width:     realSize.X,
		Height:    realSize.Y,
		FrameRate: framerate,
		Tune:      "zerolatency",
		Preset:    "veryfast",
		Profile:   "baseline",
		LogLevel:  x264.LogWarning,
	}
	encoder, err := x264.NewEncoder(buffer, &opts)
	if err != nil {
		return nil, err
	}
	return &H264Encoder{
		buffer:   buffer,
		encoder:  encoder,
		realSize: realSize,
	}, nil
}

// Encode encodes one frame into Annex B NAL units. Frames not matching the
// level size are scaled first.
func (e *H264Encoder) Encode(frame *image.RGBA) ([]byte, error) {
	if err := e.encoder.Encode(Scale(frame, e.realSize)); err != nil {
		return nil, err
	}
	if err := e.encoder.Flush(); err != nil {
		return nil, err
	}
	payload := framePool.Get(e.buffer.Len())
	copy(payload, e.buffer.Bytes())
	e.buffer.Reset()
	return payload, nil
}

func (e *H264Encoder) Close() error {
	return e.encoder.Close()
}

func init() {
	Register(domain.CodecH264, newH264Encoder)
}
