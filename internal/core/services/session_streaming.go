package services

import (
	"context"
	"fmt"
	"time"

	"deskbridge/internal/core/domain"
	"deskbridge/pkg/tracing"
)

func (s *sessionService) ListScreens(ctx context.Context) ([]domain.ScreenInfo, error) {
	screens, err := s.deps.Capturer.Screens()
	if err != nil {
		return nil, wrapKind(domain.ErrCapture, err)
	}
	return screens, nil
}

// StartStreaming builds the session's streamer on first use and reuses it
// afterwards, so counters survive a stop and start cycle.
func (s *sessionService) StartStreaming(ctx context.Context, id domain.SessionID, screenIndex *int, cfg *domain.StreamConfig) error {
	ctx, span := tracing.StartSpan(ctx, "session.start_streaming")
	defer span.End()
	defer tracing.MeasureDuration(ctx, time.Now(), "session.start_streaming")
	tracing.AddSpanAttributes(ctx, tracing.SessionIDKey.String(string(id)))

	sess, err := s.lookup(id)
	if err != nil {
		return err
	}

	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if cfg.Codec != sess.codec {
			return fmt.Errorf("%w: codec change from %s to %s requires renegotiation", domain.ErrCapture, sess.codec, cfg.Codec)
		}
	}

	sess.metaMu.Lock()
	index := sess.screenIndex
	streamCfg := sess.streamConfig
	sess.metaMu.Unlock()
	if cfg != nil {
		streamCfg = *cfg
		index = cfg.ScreenIndex
	}
	if screenIndex != nil {
		index = *screenIndex
	}
	if err := s.checkScreenIndex(index); err != nil {
		return err
	}
	streamCfg.ScreenIndex = index

	sess.metaMu.Lock()
	sess.streamConfig = streamCfg
	sess.screenIndex = index
	sess.metaMu.Unlock()

	sess.streamMu.Lock()
	defer sess.streamMu.Unlock()

	if sess.closed {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}

	if sess.streamer == nil {
		sess.connMu.Lock()
		sink := sess.conn.VideoSink()
		sess.connMu.Unlock()

		streamer, err := s.deps.Streamers.NewStreamer(sess.id, streamCfg, sink, sess.conn)
		if err != nil {
			tracing.RecordError(ctx, err)
			return wrapKind(domain.ErrCapture, err)
		}
		sess.streamer = streamer
	} else if cfg != nil {
		if err := sess.streamer.ApplyConfig(streamCfg); err != nil {
			return wrapKind(domain.ErrCapture, err)
		}
	}

	sess.streamer.SelectScreen(index)
	if err := sess.streamer.Start(); err != nil {
		tracing.RecordError(ctx, err)
		return wrapKind(domain.ErrCapture, err)
	}

	sess.metaMu.Lock()
	sess.streaming = true
	sess.metaMu.Unlock()

	tracing.AddSpanAttributes(ctx,
		tracing.QualityKey.String(streamCfg.Quality.String()),
		tracing.BitrateKey.Int(streamCfg.EffectiveBitrateKbps()),
	)

	s.logger.Infow("Streaming started",
		"session_id", id,
		"screen_index", index,
		"codec", streamCfg.Codec,
		"quality", streamCfg.Quality.String(),
		"bitrate_kbps", streamCfg.EffectiveBitrateKbps(),
	)
	return nil
}

// StopStreaming halts capture but keeps the streamer for later starts.
func (s *sessionService) StopStreaming(ctx context.Context, id domain.SessionID) error {
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}

	var live *domain.StreamStats
	sess.streamMu.Lock()
	if sess.streamer != nil {
		sess.streamer.Stop()
		st := sess.streamer.Stats()
		live = &st
	}
	sess.streamMu.Unlock()

	sess.metaMu.Lock()
	sess.streaming = false
	if live != nil {
		sess.stats = sess.stats.Merge(*live)
	}
	sess.metaMu.Unlock()

	s.logger.Infow("Streaming stopped", "session_id", id)
	return nil
}

func (s *sessionService) GetStats(ctx context.Context, id domain.SessionID) (*domain.StreamStats, error) {
	ctx, span := tracing.StartSpan(ctx, "session.get_stats")
	defer span.End()

	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	var live *domain.StreamStats
	sess.streamMu.Lock()
	if sess.streamer != nil {
		st := sess.streamer.Stats()
		live = &st
	}
	sess.streamMu.Unlock()

	sess.metaMu.Lock()
	if live != nil {
		sess.stats = sess.stats.Merge(*live)
	}
	stats := sess.stats
	sess.metaMu.Unlock()

	s.deps.Metrics.StreamStats(id, stats)
	tracing.AddSpanAttributes(ctx,
		tracing.SessionIDKey.String(string(id)),
		tracing.QualityKey.String(string(stats.EffectiveQuality)),
		tracing.BitrateKey.Float64(stats.CurrentBitrate),
		tracing.LatencyKey.Float64(stats.AverageLatency),
		tracing.PacketLossKey.Float64(stats.PacketLoss),
	)
	return &stats, nil
}

func (s *sessionService) checkScreenIndex(index int) error {
	if index < 0 {
		return fmt.Errorf("%w: invalid screen index %d", domain.ErrCapture, index)
	}
	screens, err := s.deps.Capturer.Screens()
	if err != nil {
		return wrapKind(domain.ErrCapture, err)
	}
	if index >= len(screens) {
		return fmt.Errorf("%w: screen index %d out of range (%d screens)", domain.ErrCapture, index, len(screens))
	}
	return nil
}
