package ports

import (
	"context"

	"deskbridge/internal/core/domain"
)

type ConnectionRepository interface {
	Add(ctx context.Context, conn domain.RemoteConnection) error
	Get(ctx context.Context, id string) (domain.RemoteConnection, error)
	List(ctx context.Context) ([]domain.RemoteConnection, error)
	Update(ctx context.Context, conn domain.RemoteConnection) error
	Remove(ctx context.Context, id string) error
}
