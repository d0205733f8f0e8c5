package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"deskbridge/internal/core/domain"
	"deskbridge/internal/infrastructure/events"
	"deskbridge/internal/infrastructure/middleware"
	apperrors "deskbridge/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// MockSessionService for signaling tests
type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) Create(ctx context.Context, peerID domain.PeerID, ice []domain.ICEServer, cfg *domain.StreamConfig) (*domain.SessionSnapshot, error) {
	args := m.Called(ctx, peerID, ice, cfg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SessionSnapshot), args.Error(1)
}

func (m *MockSessionService) Get(ctx context.Context, id domain.SessionID) (*domain.SessionSnapshot, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SessionSnapshot), args.Error(1)
}

func (m *MockSessionService) List(ctx context.Context) ([]*domain.SessionSnapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.SessionSnapshot), args.Error(1)
}

func (m *MockSessionService) Close(ctx context.Context, id domain.SessionID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockSessionService) CreateOffer(ctx context.Context, id domain.SessionID) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockSessionService) CreateAnswer(ctx context.Context, id domain.SessionID, remoteSDP, answerSDP *string) (string, error) {
	args := m.Called(ctx, id, remoteSDP, answerSDP)
	return args.String(0), args.Error(1)
}

func (m *MockSessionService) SetRemoteDescription(ctx context.Context, id domain.SessionID, sdp string, t domain.SDPType) error {
	return m.Called(ctx, id, sdp, t).Error(0)
}

func (m *MockSessionService) AddIceCandidate(ctx context.Context, id domain.SessionID, c domain.IceCandidate) error {
	return m.Called(ctx, id, c).Error(0)
}

func (m *MockSessionService) ListScreens(ctx context.Context) ([]domain.ScreenInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ScreenInfo), args.Error(1)
}

func (m *MockSessionService) StartStreaming(ctx context.Context, id domain.SessionID, screen *int, cfg *domain.StreamConfig) error {
	return m.Called(ctx, id, screen, cfg).Error(0)
}

func (m *MockSessionService) StopStreaming(ctx context.Context, id domain.SessionID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockSessionService) GetStats(ctx context.Context, id domain.SessionID) (*domain.StreamStats, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.StreamStats), args.Error(1)
}

func (m *MockSessionService) GenerateKeypair(ctx context.Context, id domain.SessionID) ([]byte, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockSessionService) ExchangeKeys(ctx context.Context, id domain.SessionID, key []byte) error {
	return m.Called(ctx, id, key).Error(0)
}

func (m *MockSessionService) KeyFingerprint(ctx context.Context, id domain.SessionID) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockSessionService) SetInputEnabled(ctx context.Context, id domain.SessionID, enabled bool) error {
	return m.Called(ctx, id, enabled).Error(0)
}

func (m *MockSessionService) ExecuteInput(ctx context.Context, id domain.SessionID, ev domain.InputEvent) error {
	return m.Called(ctx, id, ev).Error(0)
}

func (m *MockSessionService) ExecuteInputJSON(ctx context.Context, id domain.SessionID, raw []byte) (domain.InputEvent, error) {
	args := m.Called(ctx, id, string(raw))
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(domain.InputEvent), args.Error(1)
}

type testServer struct {
	sessions *MockSessionService
	hub      *events.Hub
	ws       *WebSocketServer
	http     *httptest.Server
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t).Sugar()

	sessions := &MockSessionService{}
	hub := events.NewHub(16, logger)
	ws := NewWebSocketServer(sessions, hub, cfg, logger)

	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(logger))
	router.GET("/ws/sessions/:id", ws.Handle)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{sessions: sessions, hub: hub, ws: ws, http: srv}
}

func (ts *testServer) dial(t *testing.T, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws/sessions/" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PingInterval = time.Second
	cfg.PongTimeout = 5 * time.Second
	cfg.WriteTimeout = time.Second
	return cfg
}

func readMessage(t *testing.T, conn *websocket.Conn) OutboundMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var raw struct {
		Type    string              `json:"type"`
		Payload json.RawMessage     `json:"payload"`
		Message string              `json:"message"`
		Code    apperrors.ErrorCode `json:"code"`
	}
	require.NoError(t, conn.ReadJSON(&raw))
	return OutboundMessage{Type: raw.Type, Payload: raw.Payload, Message: raw.Message, Code: raw.Code}
}

func snapshot(id string) *domain.SessionSnapshot {
	return &domain.SessionSnapshot{ID: domain.SessionID(id), Status: domain.StatusCreated}
}

func TestWebSocket_UnknownSessionRejectedBeforeUpgrade(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ts.sessions.On("Get", mock.Anything, domain.SessionID("missing")).
		Return(nil, fmt.Errorf("%w: missing", domain.ErrSessionNotFound))

	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws/sessions/missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocket_OfferProducesAnswer(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ts.sessions.On("Get", mock.Anything, domain.SessionID("s1")).Return(snapshot("s1"), nil)
	ts.sessions.On("CreateAnswer", mock.Anything, domain.SessionID("s1"),
		mock.MatchedBy(func(sdp *string) bool { return sdp != nil && *sdp == "v=0 offer" }),
		(*string)(nil)).Return("v=0 answer", nil)

	conn := ts.dial(t, "s1")
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":    "offer",
		"payload": map[string]string{"sdp": "v=0 offer"},
	}))

	msg := readMessage(t, conn)
	assert.Equal(t, MessageAnswer, msg.Type)
	var payload SDPPayload
	require.NoError(t, json.Unmarshal(msg.Payload.(json.RawMessage), &payload))
	assert.Equal(t, "v=0 answer", payload.SDP)
}

func TestWebSocket_RequestOfferAndRemoteCandidate(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ts.sessions.On("Get", mock.Anything, domain.SessionID("s1")).Return(snapshot("s1"), nil)
	ts.sessions.On("CreateOffer", mock.Anything, domain.SessionID("s1")).Return("v=0 offer", nil)
	added := make(chan struct{})
	ts.sessions.On("AddIceCandidate", mock.Anything, domain.SessionID("s1"),
		mock.MatchedBy(func(c domain.IceCandidate) bool {
			return c.Candidate == "candidate:1" && c.SDPMid != nil && *c.SDPMid == "0"
		})).Return(nil).Run(func(mock.Arguments) { close(added) })

	conn := ts.dial(t, "s1")
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "request_offer"}))
	msg := readMessage(t, conn)
	assert.Equal(t, MessageOffer, msg.Type)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":    "ice_candidate",
		"payload": map[string]interface{}{"candidate": "candidate:1", "sdp_mid": "0", "sdp_mline_index": 0},
	}))

	select {
	case <-added:
	case <-time.After(2 * time.Second):
		t.Fatal("candidate not forwarded")
	}
	ts.sessions.AssertExpectations(t)
}

func TestWebSocket_ForwardsSessionEvents(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ts.sessions.On("Get", mock.Anything, domain.SessionID("s1")).Return(snapshot("s1"), nil)

	conn := ts.dial(t, "s1")
	require.Eventually(t, func() bool { return ts.hub.SubscriberCount("s1") == 1 }, 2*time.Second, 10*time.Millisecond)

	ts.hub.Publish(domain.SessionEvent{
		Type:      domain.EventLocalCandidate,
		SessionID: "s1",
		Candidate: &domain.IceCandidate{Candidate: "candidate:host"},
	})
	msg := readMessage(t, conn)
	assert.Equal(t, MessageLocalCandidate, msg.Type)
	assert.Contains(t, string(msg.Payload.(json.RawMessage)), "candidate:host")

	ts.hub.Publish(domain.SessionEvent{Type: domain.EventStatusChanged, SessionID: "s1", Status: domain.StatusConnected})
	msg = readMessage(t, conn)
	assert.Equal(t, MessageStatus, msg.Type)
	assert.Contains(t, string(msg.Payload.(json.RawMessage)), "connected")

	ts.hub.Publish(domain.SessionEvent{Type: domain.EventSessionClosed, SessionID: "s1"})
	msg = readMessage(t, conn)
	assert.Equal(t, MessageClosed, msg.Type)

	assert.Eventually(t, func() bool { return ts.ws.ConnectionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_ErrorsAreReported(t *testing.T) {
	ts := newTestServer(t, testConfig())
	ts.sessions.On("Get", mock.Anything, domain.SessionID("s1")).Return(snapshot("s1"), nil)
	ts.sessions.On("CreateAnswer", mock.Anything, domain.SessionID("s1"), (*string)(nil), mock.Anything).
		Return("", fmt.Errorf("%w: answer without offer", domain.ErrTransport))

	conn := ts.dial(t, "s1")

	tests := []struct {
		name string
		msg  map[string]interface{}
		code apperrors.ErrorCode
	}{
		{name: "unknown type", msg: map[string]interface{}{"type": "join_stream"}, code: apperrors.ErrCodeInvalidInput},
		{name: "missing type", msg: map[string]interface{}{}, code: apperrors.ErrCodeInvalidInput},
		{name: "missing payload", msg: map[string]interface{}{"type": "offer"}, code: apperrors.ErrCodeInvalidInput},
		{name: "empty candidate", msg: map[string]interface{}{"type": "ice_candidate", "payload": map[string]string{}}, code: apperrors.ErrCodeInvalidInput},
		{name: "transport failure", msg: map[string]interface{}{"type": "answer", "payload": map[string]string{"sdp": "v=0"}}, code: apperrors.ErrCodeTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, conn.WriteJSON(tt.msg))
			msg := readMessage(t, conn)
			assert.Equal(t, MessageError, msg.Type)
			assert.Equal(t, tt.code, msg.Code)
			assert.NotEmpty(t, msg.Message)
		})
	}
}

func TestWebSocket_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.MessagesPerSecond = 0.001
	cfg.MessageBurst = 1
	ts := newTestServer(t, cfg)
	ts.sessions.On("Get", mock.Anything, domain.SessionID("s1")).Return(snapshot("s1"), nil)
	ts.sessions.On("CreateOffer", mock.Anything, domain.SessionID("s1")).Return("v=0 offer", nil)

	conn := ts.dial(t, "s1")
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "request_offer"}))
	assert.Equal(t, MessageOffer, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "request_offer"}))
	msg := readMessage(t, conn)
	assert.Equal(t, MessageError, msg.Type)
	assert.Equal(t, apperrors.ErrCodeRateLimit, msg.Code)
}

func TestCheckOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://console.example.com"}
	ws := NewWebSocketServer(nil, nil, cfg, zaptest.NewLogger(t).Sugar())

	req := httptest.NewRequest(http.MethodGet, "/ws/sessions/s1", nil)
	assert.True(t, ws.checkOrigin(req))

	req.Header.Set("Origin", "https://console.example.com")
	assert.True(t, ws.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, ws.checkOrigin(req))
}
