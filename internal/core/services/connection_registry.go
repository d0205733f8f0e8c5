package services

import (
	"context"
	"fmt"
	"strings"

	"deskbridge/internal/core/domain"
	"deskbridge/internal/core/ports"

	"go.uber.org/zap"
)

type connectionRegistry struct {
	repo   ports.ConnectionRepository
	logger *zap.SugaredLogger
}

func NewConnectionRegistry(repo ports.ConnectionRepository, logger *zap.SugaredLogger) ports.ConnectionRegistry {
	return &connectionRegistry{repo: repo, logger: logger}
}

// Add catalogs a new entry in the Disconnected state and returns its
// display name.
func (r *connectionRegistry) Add(ctx context.Context, connType string, host string, port uint16) (string, error) {
	kind, err := domain.ParseConnectionKind(connType)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrInputValidation, err)
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "", fmt.Errorf("%w: host is required", domain.ErrInputValidation)
	}

	conn, err := domain.NewRemoteConnection(kind, host, port)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrInputValidation, err)
	}
	if err := r.repo.Add(ctx, conn); err != nil {
		return "", fmt.Errorf("failed to add connection: %w", err)
	}

	r.logger.Infow("Connection added", "connection_id", conn.ID(), "type", kind, "host", host)
	return conn.Name(), nil
}

func (r *connectionRegistry) List(ctx context.Context) ([]domain.RemoteConnection, error) {
	return r.repo.List(ctx)
}

func (r *connectionRegistry) ListConnected(ctx context.Context) ([]domain.RemoteConnection, error) {
	all, err := r.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	connected := make([]domain.RemoteConnection, 0, len(all))
	for _, c := range all {
		if c.Status().State == domain.StateConnected {
			connected = append(connected, c)
		}
	}
	return connected, nil
}

func (r *connectionRegistry) UpdateStatus(ctx context.Context, id string, status domain.ConnectionStatus) error {
	conn, err := r.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := r.repo.Update(ctx, conn.WithStatus(status)); err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}
	r.logger.Infow("Connection status updated", "connection_id", id, "state", status.State)
	return nil
}

func (r *connectionRegistry) Remove(ctx context.Context, id string) error {
	if err := r.repo.Remove(ctx, id); err != nil {
		return err
	}
	r.logger.Infow("Connection removed", "connection_id", id)
	return nil
}
