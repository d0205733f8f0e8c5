package input

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"deskbridge/internal/core/domain"
	"deskbridge/internal/core/ports"

	"go.uber.org/zap"
)

const (
	BackendXdotool = "xdotool"
	BackendLog     = "log"
)

type Config struct {
	Backend        string
	Display        string
	Binary         string
	CommandTimeout time.Duration
}

// NewInjector builds the injector named by cfg.Backend.
func NewInjector(cfg Config, logger *zap.SugaredLogger) (ports.InputInjector, error) {
	switch cfg.Backend {
	case BackendXdotool, "":
		binary := cfg.Binary
		if binary == "" {
			binary = "xdotool"
		}
		path, err := exec.LookPath(binary)
		if err != nil {
			return nil, fmt.Errorf("input backend %s: %w", BackendXdotool, err)
		}
		logger.Infow("Using xdotool input backend", "binary", path, "display", cfg.Display)
		return NewXdotoolInjector(path, cfg.Display, cfg.CommandTimeout, logger), nil
	case BackendLog:
		logger.Warnw("Input events will be logged, not injected")
		return NewLogInjector(logger), nil
	default:
		return nil, fmt.Errorf("unknown input backend %q", cfg.Backend)
	}
}

// LogInjector records events without touching the host.
type LogInjector struct {
	logger *zap.SugaredLogger
}

func NewLogInjector(logger *zap.SugaredLogger) *LogInjector {
	return &LogInjector{logger: logger}
}

func (l *LogInjector) Inject(ctx context.Context, event domain.InputEvent) error {
	l.logger.Infow("Input event", "kind", event.Kind(), "event", domain.EnvelopeOf(event))
	return nil
}
