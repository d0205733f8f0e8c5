package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"deskbridge/pkg/cache"
	"deskbridge/pkg/config"
	apperrors "deskbridge/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long a client's limiter survives without requests.
const limiterIdleTTL = 10 * time.Minute

// rateLimiterStore stores per-key (for example, per IP) rate limiters.
// Idle limiters expire so the store does not grow with every address seen.
type rateLimiterStore struct {
	limiters  *cache.Cache[string, *rate.Limiter]
	rate      rate.Limit
	burstSize int
}

func newRateLimiterStore(r rate.Limit, burst int) *rateLimiterStore {
	return &rateLimiterStore{
		limiters:  cache.New[string, *rate.Limiter](limiterIdleTTL, true),
		rate:      r,
		burstSize: burst,
	}
}

func (s *rateLimiterStore) getLimiter(key string) *rate.Limiter {
	return s.limiters.GetOrCreate(key, func() *rate.Limiter {
		return rate.NewLimiter(s.rate, s.burstSize)
	})
}

// clientIP extracts the IP part from the request's remote address.
func clientIP(r *http.Request) string {
	// Try X-Forwarded-For first (behind proxies); the client is the left-most entry
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NewHTTPRateLimitMiddleware returns Gin middleware that applies simple IP-based rate limiting.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	rps := cfg.RateLimiting.HTTP.RequestsPerSecond
	burst := cfg.RateLimiting.HTTP.Burst

	store := newRateLimiterStore(rate.Limit(rps), burst)

	var globalSem chan struct{}
	if cfg.RateLimiting.HTTP.MaxConcurrent > 0 {
		globalSem = make(chan struct{}, cfg.RateLimiting.HTTP.MaxConcurrent)
	}

	return func(c *gin.Context) {
		// Global concurrent requests throttling
		if globalSem != nil {
			select {
			case globalSem <- struct{}{}:
				defer func() { <-globalSem }()
			default:
				abortWithAppError(c, apperrors.NewServiceUnavailableError("too many concurrent requests"))
				return
			}
		}

		ip := clientIP(c.Request)
		limiter := store.getLimiter(ip)
		if !limiter.Allow() {
			retryAfter := time.Duration(float64(time.Second) / float64(store.rate))
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			abortWithAppError(c, apperrors.NewRateLimitError())
			return
		}
		c.Next()
	}
}



// abortWithAppError renders appErr directly. Rate limiting runs before the
// error handler would see the request.
func abortWithAppError(c *gin.Context, appErr *apperrors.AppError) {
	c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	})
}
