package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

var ErrNoBackups = errors.New("no backups found")

const (
	namePrefix = "backup-"
	nameSuffix = ".json"
	timeLayout = "20060102-150405.000"
)

// Snapshot is the stored envelope. Payload holds the caller's data as JSON.
type Snapshot struct {
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Payload   json.RawMessage   `json:"payload"`
}

// Storage defines interface for backup storage
type Storage interface {
	Save(ctx context.Context, name string, data io.Reader) error
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// BackupService writes and reads timestamped snapshots. Names sort in
// creation order.
type BackupService struct {
	storage Storage
	version string
	now     func() time.Time
}

func NewBackupService(storage Storage, version string) *BackupService {
	return &BackupService{
		storage: storage,
		version: version,
		now:     time.Now,
	}
}

// CreateBackup stores payload and returns the snapshot name.
func (bs *BackupService) CreateBackup(ctx context.Context, payload interface{}, metadata map[string]string) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal backup payload: %w", err)
	}

	snap := Snapshot{
		Version:   bs.version,
		Timestamp: bs.now().UTC(),
		Metadata:  metadata,
		Payload:   raw,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to marshal backup: %w", err)
	}

	name := namePrefix + snap.Timestamp.Format(timeLayout) + nameSuffix
	if err := bs.storage.Save(ctx, name, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to save backup: %w", err)
	}
	return name, nil
}

// RestoreBackup loads the named snapshot and decodes its payload into v.
func (bs *BackupService) RestoreBackup(ctx context.Context, name string, v interface{}) (*Snapshot, error) {
	reader, err := bs.storage.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load backup: %w", err)
	}
	defer reader.Close()

	var snap Snapshot
	if err := json.NewDecoder(reader).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode backup %s: %w", name, err)
	}
	if snap.Version == "" {
		return nil, fmt.Errorf("invalid backup %s: missing version", name)
	}
	if v != nil {
		if err := json.Unmarshal(snap.Payload, v); err != nil {
			return nil, fmt.Errorf("failed to decode backup payload: %w", err)
		}
	}
	return &snap, nil
}

// ListBackups returns snapshot names, oldest first.
func (bs *BackupService) ListBackups(ctx context.Context) ([]string, error) {
	names, err := bs.storage.List(ctx, namePrefix)
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		if strings.HasSuffix(n, nameSuffix) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (bs *BackupService) LatestBackup(ctx context.Context) (string, error) {
	names, err := bs.ListBackups(ctx)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", ErrNoBackups
	}
	return names[len(names)-1], nil
}

// Prune deletes all but the newest keep snapshots.
func (bs *BackupService) Prune(ctx context.Context, keep int) ([]string, error) {
	names, err := bs.ListBackups(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) <= keep {
		return nil, nil
	}

	var removed []string
	for _, n := range names[:len(names)-keep] {
		if err := bs.DeleteBackup(ctx, n); err != nil {
			return removed, err
		}
		removed = append(removed, n)
	}
	return removed, nil
}

func (bs *BackupService) DeleteBackup(ctx context.Context, name string) error {
	if err := bs.storage.Delete(ctx, name); err != nil {
		return fmt.Errorf("failed to delete backup %s: %w", name, err)
	}
	return nil
}
