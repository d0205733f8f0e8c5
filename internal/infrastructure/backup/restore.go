package backup

import (
	"context"
	"errors"
	"fmt"

	"deskbridge/internal/core/domain"
	"deskbridge/internal/core/ports"
	"deskbridge/pkg/backup"

	"go.uber.org/zap"
)

type RestoreOptions struct {
	// ResetStatus marks every restored entry Disconnected. Live states do
	// not survive a restart.
	ResetStatus bool
}

// RestoreLatest replays the newest snapshot into repo. Entries whose id is
// already present are left untouched. It returns how many records the
// snapshot held; no snapshot at all is not an error.
func RestoreLatest(
	ctx context.Context,
	backups *backup.BackupService,
	repo ports.ConnectionRepository,
	opts RestoreOptions,
	logger *zap.SugaredLogger,
) (int, error) {
	name, err := backups.LatestBackup(ctx)
	if errors.Is(err, backup.ErrNoBackups) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to find latest backup: %w", err)
	}

	var records []domain.ConnectionRecord
	if _, err := backups.RestoreBackup(ctx, name, &records); err != nil {
		return 0, err
	}

	restored := 0
	for _, rec := range records {
		conn, err := rec.Connection()
		if err != nil {
			logger.Warnw("Skipping unreadable backup record",
				"backup_name", name,
				"type", rec.Type,
				"error", err,
			)
			continue
		}
		if opts.ResetStatus {
			conn = conn.WithStatus(domain.Disconnected)
		}
		if err := repo.Add(ctx, conn); err != nil {
			return restored, fmt.Errorf("failed to restore connection %s: %w", conn.ID(), err)
		}
		restored++
	}

	logger.Infow("Connection catalog restored", "backup_name", name, "connections", restored)
	return restored, nil
}
