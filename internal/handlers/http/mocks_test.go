package http

import (
	"context"

	"deskbridge/internal/core/domain"
	"deskbridge/internal/infrastructure/monitoring"

	"github.com/stretchr/testify/mock"
)

type mockSessionService struct {
	mock.Mock
}

func (m *mockSessionService) Create(ctx context.Context, peerID domain.PeerID, iceServers []domain.ICEServer, cfg *domain.StreamConfig) (*domain.SessionSnapshot, error) {
	args := m.Called(ctx, peerID, iceServers, cfg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SessionSnapshot), args.Error(1)
}

func (m *mockSessionService) Get(ctx context.Context, id domain.SessionID) (*domain.SessionSnapshot, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SessionSnapshot), args.Error(1)
}

func (m *mockSessionService) List(ctx context.Context) ([]*domain.SessionSnapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.SessionSnapshot), args.Error(1)
}

func (m *mockSessionService) Close(ctx context.Context, id domain.SessionID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockSessionService) CreateOffer(ctx context.Context, id domain.SessionID) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *mockSessionService) CreateAnswer(ctx context.Context, id domain.SessionID, remoteSDP, answerSDP *string) (string, error) {
	args := m.Called(ctx, id, remoteSDP, answerSDP)
	return args.String(0), args.Error(1)
}

func (m *mockSessionService) SetRemoteDescription(ctx context.Context, id domain.SessionID, sdp string, sdpType domain.SDPType) error {
	return m.Called(ctx, id, sdp, sdpType).Error(0)
}

func (m *mockSessionService) AddIceCandidate(ctx context.Context, id domain.SessionID, candidate domain.IceCandidate) error {
	return m.Called(ctx, id, candidate).Error(0)
}

func (m *mockSessionService) ListScreens(ctx context.Context) ([]domain.ScreenInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ScreenInfo), args.Error(1)
}

func (m *mockSessionService) StartStreaming(ctx context.Context, id domain.SessionID, screenIndex *int, cfg *domain.StreamConfig) error {
	return m.Called(ctx, id, screenIndex, cfg).Error(0)
}

func (m *mockSessionService) StopStreaming(ctx context.Context, id domain.SessionID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockSessionService) GetStats(ctx context.Context, id domain.SessionID) (*domain.StreamStats, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.StreamStats), args.Error(1)
}

func (m *mockSessionService) GenerateKeypair(ctx context.Context, id domain.SessionID) ([]byte, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *mockSessionService) ExchangeKeys(ctx context.Context, id domain.SessionID, peerPublicKey []byte) error {
	return m.Called(ctx, id, peerPublicKey).Error(0)
}

func (m *mockSessionService) KeyFingerprint(ctx context.Context, id domain.SessionID) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *mockSessionService) SetInputEnabled(ctx context.Context, id domain.SessionID, enabled bool) error {
	return m.Called(ctx, id, enabled).Error(0)
}

func (m *mockSessionService) ExecuteInput(ctx context.Context, id domain.SessionID, event domain.InputEvent) error {
	return m.Called(ctx, id, event).Error(0)
}

func (m *mockSessionService) ExecuteInputJSON(ctx context.Context, id domain.SessionID, raw []byte) (domain.InputEvent, error) {
	args := m.Called(ctx, id, string(raw))
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(domain.InputEvent), args.Error(1)
}

type mockConnectionRegistry struct {
	mock.Mock
}

func (m *mockConnectionRegistry) Add(ctx context.Context, connType string, host string, port uint16) (string, error) {
	args := m.Called(ctx, connType, host, port)
	return args.String(0), args.Error(1)
}

func (m *mockConnectionRegistry) List(ctx context.Context) ([]domain.RemoteConnection, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RemoteConnection), args.Error(1)
}

func (m *mockConnectionRegistry) ListConnected(ctx context.Context) ([]domain.RemoteConnection, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RemoteConnection), args.Error(1)
}

func (m *mockConnectionRegistry) UpdateStatus(ctx context.Context, id string, status domain.ConnectionStatus) error {
	return m.Called(ctx, id, status).Error(0)
}

func (m *mockConnectionRegistry) Remove(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type stubHealth struct {
	status monitoring.HealthStatus
}

func (s stubHealth) CheckAll(context.Context) monitoring.HealthStatus {
	return s.status
}
