package ports

import (
	"context"
	"time"

	"deskbridge/internal/core/domain"
)

type SessionService interface {
	Create(ctx context.Context, peerID domain.PeerID, iceServers []domain.ICEServer, cfg *domain.StreamConfig) (*domain.SessionSnapshot, error)
	Get(ctx context.Context, id domain.SessionID) (*domain.SessionSnapshot, error)
	List(ctx context.Context) ([]*domain.SessionSnapshot, error)
	Close(ctx context.Context, id domain.SessionID) error

	CreateOffer(ctx context.Context, id domain.SessionID) (string, error)
	CreateAnswer(ctx context.Context, id domain.SessionID, remoteSDP, answerSDP *string) (string, error)
	SetRemoteDescription(ctx context.Context, id domain.SessionID, sdp string, sdpType domain.SDPType) error
	AddIceCandidate(ctx context.Context, id domain.SessionID, candidate domain.IceCandidate) error

	ListScreens(ctx context.Context) ([]domain.ScreenInfo, error)
	StartStreaming(ctx context.Context, id domain.SessionID, screenIndex *int, cfg *domain.StreamConfig) error
	StopStreaming(ctx context.Context, id domain.SessionID) error
	GetStats(ctx context.Context, id domain.SessionID) (*domain.StreamStats, error)

	GenerateKeypair(ctx context.Context, id domain.SessionID) ([]byte, error)
	ExchangeKeys(ctx context.Context, id domain.SessionID, peerPublicKey []byte) error
	KeyFingerprint(ctx context.Context, id domain.SessionID) (string, error)

	SetInputEnabled(ctx context.Context, id domain.SessionID, enabled bool) error
	ExecuteInput(ctx context.Context, id domain.SessionID, event domain.InputEvent) error
	// ExecuteInputJSON decodes the event after the session and permission
	// checks and returns it when decoding succeeded.
	ExecuteInputJSON(ctx context.Context, id domain.SessionID, raw []byte) (domain.InputEvent, error)
}

type ConnectionRegistry interface {
	Add(ctx context.Context, connType string, host string, port uint16) (string, error)
	List(ctx context.Context) ([]domain.RemoteConnection, error)
	ListConnected(ctx context.Context) ([]domain.RemoteConnection, error)
	UpdateStatus(ctx context.Context, id string, status domain.ConnectionStatus) error
	Remove(ctx context.Context, id string) error
}

type SessionEventPublisher interface {
	Publish(event domain.SessionEvent)
}

type SessionEventSubscriber interface {
	Subscribe(id domain.SessionID) (<-chan domain.SessionEvent, func())
}

type SessionMetrics interface {
	SessionCreated()
	SessionClosed(lifetime time.Duration)
	SignalingOperation(operation string, err error)
	InputEvent(kind domain.InputKind, err error)
	KeyExchange(err error)
	StreamStats(id domain.SessionID, stats domain.StreamStats)
	ForgetSession(id domain.SessionID)
}
