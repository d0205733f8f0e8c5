package encoding

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"deskbridge/internal/core/domain"
	"deskbridge/internal/core/ports"
	"deskbridge/pkg/optimize"

	"go.uber.org/zap"
)

var ErrCodecNotSupported = errors.New("codec not supported by this build")

// framePool backs encoder output. A 1080p keyframe fits well under 1MiB.
var framePool = optimize.NewBufferPool(64<<10, 4<<20)

// ReleaseFrame returns a payload from Encode once it has been written out.
func ReleaseFrame(payload []byte) {
	framePool.Put(payload)
}

// Factory builds an encoder for frames of the given size.
type Factory func(size image.Point, framerate, bitrateKbps int) (ports.Encoder, error)

// Encoders register themselves from init so each one can sit behind its own
// build constraint.
var (
	registryMu         sync.RWMutex
	registeredEncoders = make(map[domain.VideoCodec]Factory, 2)
)

// Register makes a codec available to every Service.
func Register(codec domain.VideoCodec, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registeredEncoders[codec] = factory
}

func lookup(codec domain.VideoCodec) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registeredEncoders[codec]
	return f, ok
}

// Service creates encoder instances from the registry.
type Service struct {
	logger *zap.SugaredLogger
}

func NewService(logger *zap.SugaredLogger) *Service {
	return &Service{logger: logger}
}

func (s *Service) NewEncoder(codec domain.VideoCodec, size image.Point, framerate, bitrateKbps int) (ports.Encoder, error) {
	factory, found := lookup(codec)
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrCodecNotSupported, codec)
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", size.X, size.Y)
	}

	enc, err := factory(size, framerate, bitrateKbps)
	if err != nil {
		return nil, fmt.Errorf("initialising %s encoder: %w", codec, err)
	}

	s.logger.Debugw("Encoder created",
		"codec", codec,
		"width", size.X,
		"height", size.Y,
		"framerate", framerate,
		"bitrate_kbps", bitrateKbps,
	)
	return enc, nil
}

func (s *Service) Supports(codec domain.VideoCodec) bool {
	_, found := lookup(codec)
	return found
}
