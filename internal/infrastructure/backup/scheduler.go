package backup

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"deskbridge/internal/core/domain"
	"deskbridge/internal/core/ports"
	"deskbridge/pkg/backup"

	"go.uber.org/zap"
)

// Scheduler snapshots the connection catalog on an interval and keeps the
// newest few snapshots.
type Scheduler struct {
	backups  *backup.BackupService
	repo     ports.ConnectionRepository
	interval time.Duration
	keep     int
	logger   *zap.SugaredLogger
}

type Config struct {
	Interval time.Duration
	Keep     int
}

func NewScheduler(
	backups *backup.BackupService,
	repo ports.ConnectionRepository,
	cfg Config,
	logger *zap.SugaredLogger,
) *Scheduler {
	return &Scheduler{
		backups:  backups,
		repo:     repo,
		interval: cfg.Interval,
		keep:     cfg.Keep,
		logger:   logger,
	}
}

// Run snapshots every interval until ctx is done, then takes a final one
// so a clean shutdown loses nothing.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runBackup(ctx)
		case <-ctx.Done():
			s.runBackup(context.WithoutCancel(ctx))
			return
		}
	}
}

func (s *Scheduler) runBackup(ctx context.Context) {
	name, count, err := s.Snapshot(ctx)
	if err != nil {
		s.logger.Errorw("Connection catalog backup failed", "error", err)
		return
	}
	s.logger.Debugw("Connection catalog backed up", "backup_name", name, "connections", count)

	removed, err := s.backups.Prune(ctx, s.keep)
	if err != nil {
		s.logger.Warnw("Failed to prune old backups", "error", err)
	}
	for _, n := range removed {
		s.logger.Debugw("Deleted old backup", "backup_name", n)
	}
}

// Snapshot writes the current catalog and returns the snapshot name and the
// number of entries in it.
func (s *Scheduler) Snapshot(ctx context.Context) (string, int, error) {
	conns, err := s.repo.List(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("failed to list connections: %w", err)
	}

	records := make([]domain.ConnectionRecord, 0, len(conns))
	for _, c := range conns {
		records = append(records, domain.RecordOf(c))
	}

	name, err := s.backups.CreateBackup(ctx, records, map[string]string{
		"connections": strconv.Itoa(len(records)),
	})
	if err != nil {
		return "", 0, err
	}
	return name, len(records), nil
}
