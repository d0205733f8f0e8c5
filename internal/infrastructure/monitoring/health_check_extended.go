package monitoring

import (
	"context"
	"time"

	"deskbridge/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client *redis.Client, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddRepositoryCheck verifies the connection inventory can be read.
func (h *HealthChecker) AddRepositoryCheck(repo ports.ConnectionRepository, interval, timeout time.Duration) {
	h.AddCheck("connection_repository", func(ctx context.Context) (bool, error) {
		if _, err := repo.List(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddCaptureCheck verifies at least one display can be enumerated.
func (h *HealthChecker) AddCaptureCheck(capturer ports.ScreenCapturer, interval, timeout time.Duration) {
	h.AddCheck("capture", func(ctx context.Context) (bool, error) {
		screens, err := capturer.Screens()
		if err != nil {
			return false, err
		}
		return len(screens) > 0, nil
	}, interval, timeout)
}

// IsReady checks if the service is ready to accept traffic
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	status := h.CheckAll(ctx)
	return status.Status == "healthy"
}
