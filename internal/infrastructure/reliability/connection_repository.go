package reliability

import (
	"context"
	"errors"
	"time"

	"deskbridge/internal/core/domain"
	"deskbridge/internal/core/ports"
	"deskbridge/pkg/circuitbreaker"
	"deskbridge/pkg/retry"

	"go.uber.org/zap"
)

// ConnectionRepository guards a remote ConnectionRepository with retries
// and a circuit breaker. Lookups that miss are answers, not outages: they
// are neither retried nor counted against the breaker.
type ConnectionRepository struct {
	repo    ports.ConnectionRepository
	retry   retry.Config
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

func isOutage(err error) bool {
	return !errors.Is(err, domain.ErrConnectionNotFound) &&
		!errors.Is(err, domain.ErrInputValidation) &&
		!errors.Is(err, domain.ErrUnknownConnectionType)
}

func NewConnectionRepository(
	repo ports.ConnectionRepository,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *ConnectionRepository {
	cbConfig.IsFailure = isOutage
	retryConfig.NonRetryableErrors = append(retryConfig.NonRetryableErrors,
		domain.ErrConnectionNotFound,
		domain.ErrInputValidation,
		domain.ErrUnknownConnectionType,
		circuitbreaker.ErrOpen,
	)
	if retryConfig.OnRetry == nil {
		retryConfig.OnRetry = func(attempt int, err error, delay time.Duration) {
			logger.Debugw("Retrying connection repository call",
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
		}
	}

	w := &ConnectionRepository{
		repo:    repo,
		retry:   retryConfig,
		breaker: circuitbreaker.New(cbConfig),
		logger:  logger,
	}
	w.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("Connection repository circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})
	return w
}

func (w *ConnectionRepository) Add(ctx context.Context, conn domain.RemoteConnection) error {
	return retry.Retry(ctx, w.retry, func() error {
		return w.breaker.Execute(ctx, func() error {
			return w.repo.Add(ctx, conn)
		})
	})
}

func (w *ConnectionRepository) Get(ctx context.Context, id string) (domain.RemoteConnection, error) {
	return retry.RetryWithResult(ctx, w.retry, func() (domain.RemoteConnection, error) {
		return circuitbreaker.Call(ctx, w.breaker, func() (domain.RemoteConnection, error) {
			return w.repo.Get(ctx, id)
		})
	})
}

func (w *ConnectionRepository) List(ctx context.Context) ([]domain.RemoteConnection, error) {
	return retry.RetryWithResult(ctx, w.retry, func() ([]domain.RemoteConnection, error) {
		return circuitbreaker.Call(ctx, w.breaker, func() ([]domain.RemoteConnection, error) {
			return w.repo.List(ctx)
		})
	})
}

func (w *ConnectionRepository) Update(ctx context.Context, conn domain.RemoteConnection) error {
	return retry.Retry(ctx, w.retry, func() error {
		return w.breaker.Execute(ctx, func() error {
			return w.repo.Update(ctx, conn)
		})
	})
}

func (w *ConnectionRepository) Remove(ctx context.Context, id string) error {
	return retry.Retry(ctx, w.retry, func() error {
		return w.breaker.Execute(ctx, func() error {
			return w.repo.Remove(ctx, id)
		})
	})
}

// BreakerState exposes the breaker for health reporting.
func (w *ConnectionRepository) BreakerState() circuitbreaker.State {
	return w.breaker.GetState()
}
