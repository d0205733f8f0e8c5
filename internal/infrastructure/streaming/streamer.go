package streaming

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"deskbridge/internal/core/domain"
	"deskbridge/internal/core/ports"
	"deskbridge/internal/infrastructure/encoding"

	"go.uber.org/zap"
)

// Config tunes every streamer built by a Factory.
type Config struct {
	StatsInterval   time.Duration
	AdaptiveQuality bool
}

// Factory builds one ScreenStreamer per session.
type Factory struct {
	capturer ports.ScreenCapturer
	encoders ports.EncoderFactory
	advisor  ports.QualityAdvisor
	config   Config
	logger   *zap.SugaredLogger
}

func NewFactory(
	capturer ports.ScreenCapturer,
	encoders ports.EncoderFactory,
	advisor ports.QualityAdvisor,
	config Config,
	logger *zap.SugaredLogger,
) *Factory {
	if config.StatsInterval <= 0 {
		config.StatsInterval = time.Second
	}
	return &Factory{
		capturer: capturer,
		encoders: encoders,
		advisor:  advisor,
		config:   config,
		logger:   logger,
	}
}

func (f *Factory) NewStreamer(
	sessionID domain.SessionID,
	cfg domain.StreamConfig,
	sink ports.VideoSink,
	feedback ports.FeedbackSource,
) (ports.Streamer, error) {
	s := &ScreenStreamer{
		sessionID: sessionID,
		capturer:  f.capturer,
		encoders:  f.encoders,
		advisor:   f.advisor,
		sink:      sink,
		feedback:  feedback,
		config:    f.config,
		logger:    f.logger.With("session_id", sessionID),
	}
	if err := s.ApplyConfig(cfg); err != nil {
		return nil, err
	}
	s.screenIndex = cfg.ScreenIndex
	return s, nil
}

// encoderKey identifies the parameters an encoder was built with.
type encoderKey struct {
	codec     domain.VideoCodec
	size      image.Point
	framerate int
	bitrate   int
}

// ScreenStreamer runs the capture, scale, encode and send loop for one
// session. Counters live on the streamer so they survive stop and start.
type ScreenStreamer struct {
	sessionID domain.SessionID
	capturer  ports.ScreenCapturer
	encoders  ports.EncoderFactory
	advisor   ports.QualityAdvisor
	sink      ports.VideoSink
	feedback  ports.FeedbackSource
	config    Config
	logger    *zap.SugaredLogger

	mu          sync.Mutex
	cfg         domain.StreamConfig
	screenIndex int
	effective   domain.QualityPreset
	lastSwitch  time.Time
	running     bool
	stop        chan struct{}
	done        chan struct{}

	// owned by the loop goroutine, or by Start before the loop exists
	encoder    ports.Encoder
	encoderCfg encoderKey

	framesSent    atomic.Uint64
	bytesSent     atomic.Uint64
	framesDropped atomic.Uint64

	window statsWindow
}

func (s *ScreenStreamer) ApplyConfig(cfg domain.StreamConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if s.sink != nil && cfg.Codec != s.sink.Codec() {
		return fmt.Errorf("codec change from %s to %s requires renegotiation", s.sink.Codec(), cfg.Codec)
	}
	if !s.encoders.Supports(cfg.Codec) {
		return fmt.Errorf("%w: %s", encoding.ErrCodecNotSupported, cfg.Codec)
	}

	s.mu.Lock()
	s.cfg = cfg
	s.effective = cfg.Quality.Resolve()
	s.mu.Unlock()
	return nil
}

func (s *ScreenStreamer) SelectScreen(index int) {
	s.mu.Lock()
	s.screenIndex = index
	s.mu.Unlock()
}

// Start grabs and sends the first frame synchronously so capture and
// encoder failures reach the caller, then hands off to the loop.
func (s *ScreenStreamer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if err := s.sendFrame(s.screenIndex, s.cfg, s.effective); err != nil {
		s.closeEncoder()
		return err
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true
	s.window.reset(time.Now(), s.framesSent.Load(), s.bytesSent.Load())
	if s.lastSwitch.IsZero() {
		s.lastSwitch = time.Now()
	}

	go s.run(s.stop, s.done)

	s.logger.Infow("Screen streaming started",
		"screen_index", s.screenIndex,
		"codec", s.cfg.Codec,
		"framerate", s.cfg.Framerate,
		"quality", s.effective,
	)
	return nil
}

// Stop signals the loop and waits for the frame in flight to finish.
func (s *ScreenStreamer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stop, done := s.stop, s.done
	s.running = false
	s.mu.Unlock()

	close(stop)
	<-done

	s.closeEncoder()
	s.window.reset(time.Now(), s.framesSent.Load(), s.bytesSent.Load())
	s.logger.Infow("Screen streaming stopped",
		"frames_sent", s.framesSent.Load(),
		"frames_dropped", s.framesDropped.Load(),
	)
}

func (s *ScreenStreamer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *ScreenStreamer) Stats() domain.StreamStats {
	s.mu.Lock()
	effective := s.effective
	s.mu.Unlock()

	live := s.window.snapshot()
	fb := s.linkFeedback()

	return domain.StreamStats{
		FramesSent:       s.framesSent.Load(),
		FramesReceived:   fb.FramesReceived,
		BytesSent:        s.bytesSent.Load(),
		BytesReceived:    fb.BytesReceived,
		FramesDropped:    s.framesDropped.Load(),
		CurrentFPS:       live.fps,
		CurrentBitrate:   live.bitrateKbps,
		AverageLatency:   live.latencyMs + float64(fb.RoundTrip/2)/float64(time.Millisecond),
		PacketLoss:       fb.PacketLoss,
		EffectiveQuality: effective,
		UpdatedAt:        time.Now(),
	}
}

func (s *ScreenStreamer) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	statsTicker := time.NewTicker(s.config.StatsInterval)
	defer statsTicker.Stop()

	timer := time.NewTimer(0)
	defer timer.Stop()

	var lastErr string
	for {
		select {
		case <-stop:
			return
		case now := <-statsTicker.C:
			s.window.roll(now, s.framesSent.Load(), s.bytesSent.Load())
			s.adaptQuality()
		case <-timer.C:
			s.mu.Lock()
			index, cfg, preset := s.screenIndex, s.cfg, s.effective
			s.mu.Unlock()

			startedAt := time.Now()
			if err := s.sendFrame(index, cfg, preset); err != nil {
				s.framesDropped.Add(1)
				if err.Error() != lastErr {
					s.logger.Warnw("Frame dropped", "screen_index", index, "error", err)
					lastErr = err.Error()
				}
			} else {
				lastErr = ""
			}

			delta := time.Second / time.Duration(cfg.Framerate)
			wait := delta - time.Since(startedAt)
			if wait < 0 {
				wait = 0
			}
			timer.Reset(wait)
		}
	}
}

var errEmptyPayload = errors.New("encoder produced no output")

// sendFrame captures, scales, encodes and writes a single frame.
func (s *ScreenStreamer) sendFrame(index int, cfg domain.StreamConfig, preset domain.QualityPreset) error {
	startedAt := time.Now()

	frame, err := s.capturer.Capture(index)
	if err != nil {
		return err
	}

	size := encoding.OutputSize(frame.Bounds().Size(), cfg, preset)
	enc, err := s.encoderFor(encoderKey{
		codec:     cfg.Codec,
		size:      size,
		framerate: cfg.Framerate,
		bitrate:   cfg.BitrateForPreset(preset),
	})
	if err != nil {
		return err
	}

	payload, err := enc.Encode(encoding.Scale(frame, size))
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	if len(payload) == 0 {
		return errEmptyPayload
	}
	// the sink packetizes synchronously, so the buffer is free once it returns
	defer encoding.ReleaseFrame(payload)

	if err := s.sink.WriteFrame(payload, time.Second/time.Duration(cfg.Framerate)); err != nil {
		return fmt.Errorf("writing sample: %w", err)
	}

	s.framesSent.Add(1)
	s.bytesSent.Add(uint64(len(payload)))
	s.window.observeLatency(time.Since(startedAt))
	return nil
}

// encoderFor returns the current encoder, rebuilding it when the codec,
// output size, framerate or bitrate moved.
func (s *ScreenStreamer) encoderFor(key encoderKey) (ports.Encoder, error) {
	if s.encoder != nil && s.encoderCfg == key {
		return s.encoder, nil
	}
	s.closeEncoder()

	enc, err := s.encoders.NewEncoder(key.codec, key.size, key.framerate, key.bitrate)
	if err != nil {
		return nil, err
	}
	s.encoder = enc
	s.encoderCfg = key
	s.logger.Debugw("Encoder configured",
		"codec", key.codec,
		"width", key.size.X,
		"height", key.size.Y,
		"bitrate_kbps", key.bitrate,
	)
	return enc, nil
}

func (s *ScreenStreamer) closeEncoder() {
	if s.encoder == nil {
		return
	}
	if err := s.encoder.Close(); err != nil {
		s.logger.Debugw("Encoder close failed", "error", err)
	}
	s.encoder = nil
	s.encoderCfg = encoderKey{}
}

// adaptQuality moves the effective preset one step when link feedback
// warrants it. An explicit bitrate pins the stream.
func (s *ScreenStreamer) adaptQuality() {
	if !s.config.AdaptiveQuality || s.advisor == nil {
		return
	}

	fb := s.linkFeedback()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Bitrate != nil {
		return
	}

	ceiling := s.cfg.Quality.Resolve()
	next, changed := s.advisor.Next(s.effective, ceiling, fb, time.Since(s.lastSwitch))
	if !changed {
		return
	}

	s.logger.Infow("Adaptive quality switch",
		"from", s.effective,
		"to", next,
		"packet_loss", fb.PacketLoss,
		"rtt_ms", fb.RoundTrip.Milliseconds(),
	)
	s.effective = next
	s.lastSwitch = time.Now()
}

func (s *ScreenStreamer) linkFeedback() domain.LinkFeedback {
	if s.feedback == nil {
		return domain.LinkFeedback{}
	}
	return s.feedback.Feedback()
}
