package ports

import (
	"context"
	"time"

	"deskbridge/internal/core/domain"
)

// TransportHandlers are invoked from transport goroutines; they must not block.
type TransportHandlers struct {
	OnLocalCandidate func(domain.IceCandidate)
	OnStateChange    func(domain.SessionStatus)
	OnControlMessage func([]byte)
}

type TransportOptions struct {
	SessionID  domain.SessionID
	ICEServers []domain.ICEServer
	Codec      domain.VideoCodec
	Handlers   TransportHandlers
}

type TransportFactory interface {
	NewTransport(ctx context.Context, opts TransportOptions) (PeerTransport, error)
}

// PeerTransport owns one peer-to-peer connection.
type PeerTransport interface {
	CreateOffer(ctx context.Context) (string, error)
	// AcceptOffer applies a remote offer and returns the local answer.
	AcceptOffer(ctx context.Context, offerSDP string) (string, error)
	SetRemoteDescription(ctx context.Context, sdp string, sdpType domain.SDPType) error
	AddICECandidate(ctx context.Context, candidate domain.IceCandidate) error
	VideoSink() VideoSink
	FeedbackSource
	Close() error
}

// VideoSink implementations must not retain data after WriteFrame returns.
type VideoSink interface {
	Codec() domain.VideoCodec
	WriteFrame(data []byte, duration time.Duration) error
}

type FeedbackSource interface {
	Feedback() domain.LinkFeedback
}
