package memory

import (
	"context"
	"fmt"
	"sync"

	"deskbridge/internal/core/domain"
	"deskbridge/internal/core/ports"
)

// MemoryConnectionRepository keeps connections in insertion order.
type MemoryConnectionRepository struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]domain.RemoteConnection
}

func NewMemoryConnectionRepository() ports.ConnectionRepository {
	return &MemoryConnectionRepository{
		byID: make(map[string]domain.RemoteConnection),
	}
}

// Add is a no-op when an entry with the same id already exists.
func (r *MemoryConnectionRepository) Add(ctx context.Context, conn domain.RemoteConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[conn.ID()]; exists {
		return nil
	}
	r.byID[conn.ID()] = conn
	r.order = append(r.order, conn.ID())
	return nil
}

func (r *MemoryConnectionRepository) Get(ctx context.Context, id string) (domain.RemoteConnection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.byID[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, id)
	}
	return conn, nil
}

func (r *MemoryConnectionRepository) List(ctx context.Context) ([]domain.RemoteConnection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.RemoteConnection, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.byID[id])
	}
	return result, nil
}

func (r *MemoryConnectionRepository) Update(ctx context.Context, conn domain.RemoteConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[conn.ID()]; !exists {
		return fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, conn.ID())
	}
	r.byID[conn.ID()] = conn
	return nil
}

func (r *MemoryConnectionRepository) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[id]; !exists {
		return fmt.Errorf("%w: %s", domain.ErrConnectionNotFound, id)
	}
	delete(r.byID, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}
