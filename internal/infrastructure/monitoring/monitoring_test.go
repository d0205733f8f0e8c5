package monitoring

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"deskbridge/internal/core/domain"
	"deskbridge/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zaptest"
)

func TestPrometheusCollector_SessionLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.SessionCreated()
	c.SessionCreated()
	c.SessionClosed(3 * time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.sessionsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionsClosed))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionsActive))
}

func TestPrometheusCollector_OperationResults(t *testing.T) {
	c := NewPrometheusCollector(prometheus.NewRegistry())

	c.SignalingOperation("create_offer", nil)
	c.SignalingOperation("create_offer", errors.New("boom"))
	c.InputEvent(domain.KindMouseMove, nil)
	c.KeyExchange(nil)
	c.KeyExchange(domain.ErrCrypto)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.signalingOps.WithLabelValues("create_offer", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.signalingOps.WithLabelValues("create_offer", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.inputEvents.WithLabelValues("mouse_move", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.keyExchanges.WithLabelValues("error")))
}

func TestPrometheusCollector_StreamStatsDeltas(t *testing.T) {
	c := NewPrometheusCollector(prometheus.NewRegistry())

	c.StreamStats("s1", domain.StreamStats{FramesSent: 10, BytesSent: 1000, CurrentBitrate: 2500, EffectiveQuality: domain.QualityMedium})
	c.StreamStats("s1", domain.StreamStats{FramesSent: 25, BytesSent: 2600, CurrentBitrate: 2000, EffectiveQuality: domain.QualityLow})
	// a repeated reading adds nothing
	c.StreamStats("s1", domain.StreamStats{FramesSent: 25, BytesSent: 2600, CurrentBitrate: 2000, EffectiveQuality: domain.QualityLow})
	c.StreamStats("s2", domain.StreamStats{FramesSent: 5, BytesSent: 100})

	assert.Equal(t, 30.0, testutil.ToFloat64(c.framesSent))
	assert.Equal(t, 2700.0, testutil.ToFloat64(c.bytesSent))
	assert.Equal(t, 2000.0, testutil.ToFloat64(c.streamBitrate.WithLabelValues("s1", "Low")))
	// the stale quality label was removed
	assert.Equal(t, 2, testutil.CollectAndCount(c.streamBitrate))

	c.ForgetSession("s1")
	assert.Equal(t, 1, testutil.CollectAndCount(c.streamBitrate))
	assert.Equal(t, 1, testutil.CollectAndCount(c.streamFPS))
}

func TestHealthChecker_CheckAll(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("ok", func(ctx context.Context) (bool, error) { return true, nil }, 0, time.Second)
	assert.True(t, h.IsReady(context.Background()))

	h.AddCheck("down", func(ctx context.Context) (bool, error) { return false, errors.New("connection refused") }, 0, time.Second)
	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["ok"])
	assert.Equal(t, "connection refused", status.Checks["down"])
}

func TestHealthChecker_TimeoutApplied(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("slow", func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}, 0, 20*time.Millisecond)

	start := time.Now()
	status := h.CheckAll(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "unhealthy", status.Status)
}

type fakeCapturer struct {
	screens []domain.ScreenInfo
	err     error
}

func (f *fakeCapturer) Screens() ([]domain.ScreenInfo, error) { return f.screens, f.err }

func (f *fakeCapturer) Capture(int) (*image.RGBA, error) { return nil, errors.New("unused") }

type fakeRepo struct {
	ports.ConnectionRepository
	err error
}

func (f *fakeRepo) List(context.Context) ([]domain.RemoteConnection, error) { return nil, f.err }

func TestHealthChecker_DependencyChecks(t *testing.T) {
	h := NewHealthChecker()
	h.AddCaptureCheck(&fakeCapturer{screens: []domain.ScreenInfo{{ID: 0, Name: "Display 1"}}}, 0, time.Second)
	h.AddRepositoryCheck(&fakeRepo{}, 0, time.Second)
	assert.True(t, h.IsReady(context.Background()))

	h = NewHealthChecker()
	h.AddCaptureCheck(&fakeCapturer{}, 0, time.Second)
	h.AddRepositoryCheck(&fakeRepo{err: errors.New("redis down")}, 0, time.Second)
	status := h.CheckAll(context.Background())
	assert.Equal(t, "check failed", status.Checks["capture"])
	assert.Equal(t, "redis down", status.Checks["connection_repository"])
}

type sessionsMock struct {
	ports.SessionService
	mock.Mock
}

func (m *sessionsMock) List(ctx context.Context) ([]*domain.SessionSnapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*domain.SessionSnapshot), args.Error(1)
}

func (m *sessionsMock) GetStats(ctx context.Context, id domain.SessionID) (*domain.StreamStats, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.StreamStats), args.Error(1)
}

func TestStatsPoller_PollsStreamingSessionsOnly(t *testing.T) {
	sessions := &sessionsMock{}
	sessions.On("List", mock.Anything).Return([]*domain.SessionSnapshot{
		{ID: "streaming", Streaming: true},
		{ID: "idle"},
		{ID: "gone", Streaming: true},
	}, nil)
	sessions.On("GetStats", mock.Anything, domain.SessionID("streaming")).Return(&domain.StreamStats{}, nil)
	sessions.On("GetStats", mock.Anything, domain.SessionID("gone")).Return(nil, domain.ErrSessionNotFound)

	p := NewStatsPoller(sessions, time.Second, zaptest.NewLogger(t).Sugar())
	p.poll(context.Background())

	sessions.AssertExpectations(t)
	sessions.AssertNotCalled(t, "GetStats", mock.Anything, domain.SessionID("idle"))
}

func TestStatsPoller_RunStopsWithContext(t *testing.T) {
	listed := make(chan struct{}, 16)
	sessions := &sessionsMock{}
	sessions.On("List", mock.Anything).Return([]*domain.SessionSnapshot{}, nil).Run(func(mock.Arguments) {
		select {
		case listed <- struct{}{}:
		default:
		}
	})

	p := NewStatsPoller(sessions, 5*time.Millisecond, zaptest.NewLogger(t).Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	select {
	case <-listed:
	case <-time.After(time.Second):
		t.Fatal("poller never listed sessions")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestRegisterSocketGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	open := 3
	gauge := RegisterSocketGauge(reg, func() int { return open })

	assert.Equal(t, 3.0, testutil.ToFloat64(gauge))
	open = 1
	assert.Equal(t, 1.0, testutil.ToFloat64(gauge))
}
