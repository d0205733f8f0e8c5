package services

import (
	"context"
	"image"
	"time"

	"deskbridge/internal/core/domain"
	"deskbridge/internal/core/ports"

	"github.com/stretchr/testify/mock"
)

type mockTransportFactory struct {
	mock.Mock
	handlers ports.TransportHandlers
}

func (m *mockTransportFactory) NewTransport(ctx context.Context, opts ports.TransportOptions) (ports.PeerTransport, error) {
	m.handlers = opts.Handlers
	args := m.Called(ctx, opts.SessionID, opts.Codec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.PeerTransport), args.Error(1)
}

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) CreateOffer(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockTransport) AcceptOffer(ctx context.Context, offerSDP string) (string, error) {
	args := m.Called(ctx, offerSDP)
	return args.String(0), args.Error(1)
}

func (m *mockTransport) SetRemoteDescription(ctx context.Context, sdp string, sdpType domain.SDPType) error {
	args := m.Called(ctx, sdp, sdpType)
	return args.Error(0)
}

func (m *mockTransport) AddICECandidate(ctx context.Context, candidate domain.IceCandidate) error {
	args := m.Called(ctx, candidate)
	return args.Error(0)
}

func (m *mockTransport) VideoSink() ports.VideoSink {
	return nopSink{}
}

func (m *mockTransport) Feedback() domain.LinkFeedback {
	return domain.LinkFeedback{}
}

func (m *mockTransport) Close() error {
	args := m.Called()
	return args.Error(0)
}

type nopSink struct{}

func (nopSink) Codec() domain.VideoCodec               { return domain.CodecH264 }
func (nopSink) WriteFrame([]byte, time.Duration) error { return nil }

type mockStreamerFactory struct {
	mock.Mock
}

func (m *mockStreamerFactory) NewStreamer(id domain.SessionID, cfg domain.StreamConfig, sink ports.VideoSink, fb ports.FeedbackSource) (ports.Streamer, error) {
	args := m.Called(id, cfg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.Streamer), args.Error(1)
}

type mockStreamer struct {
	mock.Mock
}

func (m *mockStreamer) ApplyConfig(cfg domain.StreamConfig) error {
	args := m.Called(cfg)
	return args.Error(0)
}

func (m *mockStreamer) SelectScreen(index int) {
	m.Called(index)
}

func (m *mockStreamer) Start() error {
	args := m.Called()
	return args.Error(0)
}

func (m *mockStreamer) Stop() {
	m.Called()
}

func (m *mockStreamer) Running() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *mockStreamer) Stats() domain.StreamStats {
	args := m.Called()
	return args.Get(0).(domain.StreamStats)
}

type mockCapturer struct {
	mock.Mock
}

func (m *mockCapturer) Screens() ([]domain.ScreenInfo, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ScreenInfo), args.Error(1)
}

func (m *mockCapturer) Capture(screenIndex int) (*image.RGBA, error) {
	args := m.Called(screenIndex)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*image.RGBA), args.Error(1)
}

type mockInjector struct {
	mock.Mock
}

func (m *mockInjector) Inject(ctx context.Context, event domain.InputEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type mockChannelFactory struct {
	channel ports.SecureChannel
}

func (f *mockChannelFactory) NewChannel(domain.SessionID) ports.SecureChannel {
	return f.channel
}

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) GenerateKeypair() ([]byte, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *mockChannel) Exchange(peer []byte) error {
	args := m.Called(peer)
	return args.Error(0)
}

func (m *mockChannel) Ready() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *mockChannel) Seal(plaintext []byte) ([]byte, error) {
	args := m.Called(plaintext)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *mockChannel) Open(frame []byte) ([]byte, error) {
	args := m.Called(frame)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *mockChannel) Fingerprint() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

type mockConnectionRepo struct {
	mock.Mock
}

func (m *mockConnectionRepo) Add(ctx context.Context, conn domain.RemoteConnection) error {
	args := m.Called(ctx, conn)
	return args.Error(0)
}

func (m *mockConnectionRepo) Get(ctx context.Context, id string) (domain.RemoteConnection, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(domain.RemoteConnection), args.Error(1)
}

func (m *mockConnectionRepo) List(ctx context.Context) ([]domain.RemoteConnection, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RemoteConnection), args.Error(1)
}

func (m *mockConnectionRepo) Update(ctx context.Context, conn domain.RemoteConnection) error {
	args := m.Called(ctx, conn)
	return args.Error(0)
}

func (m *mockConnectionRepo) Remove(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
