package services

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"deskbridge/internal/core/domain"
	"deskbridge/internal/core/ports"
)

// InputController gates and serializes synthetic input for one session.
type InputController struct {
	enabled  atomic.Bool
	mu       sync.Mutex
	injector ports.InputInjector
}

func NewInputController(injector ports.InputInjector) *InputController {
	return &InputController{injector: injector}
}

func (c *InputController) Enabled() bool {
	return c.enabled.Load()
}

func (c *InputController) SetEnabled(enabled bool) {
	c.enabled.Store(enabled)
}

// Execute validates the event against desktop and injects it. Validation
// failures wrap ErrInputValidation, injection failures ErrInputExecution.
func (c *InputController) Execute(ctx context.Context, event domain.InputEvent, desktop image.Rectangle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled.Load() {
		return domain.ErrInputDisabled
	}
	if err := event.Validate(desktop); err != nil {
		return err
	}
	if err := c.injector.Inject(ctx, event); err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrInputExecution, event.Kind(), err)
	}
	return nil
}
