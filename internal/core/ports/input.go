package ports

import (
	"context"

	"deskbridge/internal/core/domain"
)

// InputInjector is the host-level synthetic input facility.
type InputInjector interface {
	Inject(ctx context.Context, event domain.InputEvent) error
}
