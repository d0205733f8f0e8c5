package http

import (
	"net/http"
	"testing"
	"time"

	"deskbridge/internal/infrastructure/monitoring"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name        string
		status      monitoring.HealthStatus
		readyCode   int
		readyStatus string
	}{
		{
			name:        "ready",
			status:      monitoring.HealthStatus{Status: "healthy", Checks: map[string]string{"redis": "healthy"}},
			readyCode:   http.StatusOK,
			readyStatus: "ready",
		},
		{
			name:        "dependency down",
			status:      monitoring.HealthStatus{Status: "unhealthy", Checks: map[string]string{"redis": "connection refused"}},
			readyCode:   http.StatusServiceUnavailable,
			readyStatus: "not_ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter()
			NewHealthHandler(stubHealth{status: tt.status}, time.Now().Add(-time.Minute)).SetupRoutes(router)

			w := doRequest(router, http.MethodGet, "/health", "")
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "healthy", decodeBody(t, w)["status"])

			w = doRequest(router, http.MethodGet, "/ready", "")
			require.Equal(t, tt.readyCode, w.Code)
			body := decodeBody(t, w)
			assert.Equal(t, tt.readyStatus, body["status"])
			assert.Len(t, body["dependencies"], 1)
		})
	}
}
