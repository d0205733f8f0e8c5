package monitoring

import (
	"context"
	"time"

	"deskbridge/internal/core/ports"

	"go.uber.org/zap"
)

// StatsPoller refreshes stream statistics of every streaming session on a
// fixed interval. GetStats is what feeds the metrics collector.
type StatsPoller struct {
	sessions ports.SessionService
	interval time.Duration
	logger   *zap.SugaredLogger
}

func NewStatsPoller(sessions ports.SessionService, interval time.Duration, logger *zap.SugaredLogger) *StatsPoller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &StatsPoller{
		sessions: sessions,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks until ctx is done.
func (p *StatsPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *StatsPoller) poll(ctx context.Context) {
	snapshots, err := p.sessions.List(ctx)
	if err != nil {
		p.logger.Warnw("failed to list sessions for stats", "error", err)
		return
	}
	for _, snap := range snapshots {
		if !snap.Streaming {
			continue
		}
		// the session may close between List and GetStats
		if _, err := p.sessions.GetStats(ctx, snap.ID); err != nil {
			p.logger.Debugw("failed to refresh stream stats", "session_id", snap.ID, "error", err)
		}
	}
}
