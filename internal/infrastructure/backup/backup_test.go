package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"deskbridge/internal/core/domain"
	"deskbridge/internal/infrastructure/repositories/memory"
	"deskbridge/pkg/backup"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newBackups(t *testing.T) (*backup.BackupService, string) {
	t.Helper()
	dir := t.TempDir()
	storage, err := backup.NewFileStorage(dir)
	require.NoError(t, err)
	return backup.NewBackupService(storage, "1"), dir
}

func TestSnapshotThenRestore(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t).Sugar()
	backups, _ := newBackups(t)

	source := memory.NewMemoryConnectionRepository()
	ssh := domain.SSHConnection{SessionID: "ssh_box_22", Host: "box", Port: 22, State: domain.Connected}
	vpn := domain.VPNConnection{ConfigID: "vpn_home", Provider: "home", State: domain.ConnectionFailed("auth")}
	require.NoError(t, source.Add(ctx, ssh))
	require.NoError(t, source.Add(ctx, vpn))

	s := NewScheduler(backups, source, Config{Interval: time.Hour, Keep: 3}, logger)
	_, count, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	target := memory.NewMemoryConnectionRepository()
	n, err := RestoreLatest(ctx, backups, target, RestoreOptions{ResetStatus: true}, logger)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := target.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "ssh_box_22", all[0].ID())
	assert.Equal(t, domain.Disconnected, all[0].Status())
	assert.Equal(t, domain.Disconnected, all[1].Status())
}

func TestRestoreLatest_KeepsStatusWhenAsked(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t).Sugar()
	backups, _ := newBackups(t)

	source := memory.NewMemoryConnectionRepository()
	require.NoError(t, source.Add(ctx, domain.RDPConnection{ConfigID: "rdp_desk_3389", Host: "desk", Port: 3389, State: domain.Connecting}))
	_, _, err := NewScheduler(backups, source, Config{Interval: time.Hour, Keep: 1}, logger).Snapshot(ctx)
	require.NoError(t, err)

	target := memory.NewMemoryConnectionRepository()
	_, err = RestoreLatest(ctx, backups, target, RestoreOptions{}, logger)
	require.NoError(t, err)

	got, err := target.Get(ctx, "rdp_desk_3389")
	require.NoError(t, err)
	assert.Equal(t, domain.Connecting, got.Status())
}

func TestRestoreLatest_NoBackups(t *testing.T) {
	backups, _ := newBackups(t)
	n, err := RestoreLatest(context.Background(), backups, memory.NewMemoryConnectionRepository(), RestoreOptions{}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestScheduler_RunPrunesAndSnapshotsOnStop(t *testing.T) {
	backups, dir := newBackups(t)
	repo := memory.NewMemoryConnectionRepository()
	require.NoError(t, repo.Add(context.Background(), domain.FTPConnection{SiteID: "ftp_files", Host: "files", Protocol: "FTP", State: domain.Disconnected}))

	s := NewScheduler(backups, repo, Config{Interval: 5 * time.Millisecond, Keep: 2}, zaptest.NewLogger(t).Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		names, _ := backups.ListBackups(context.Background())
		return len(names) >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(entries), 3)
	for _, e := range entries {
		assert.Equal(t, ".json", filepath.Ext(e.Name()))
	}
}
