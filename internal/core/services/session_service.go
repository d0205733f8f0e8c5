package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"deskbridge/internal/core/domain"
	"deskbridge/internal/core/ports"
	"deskbridge/pkg/tracing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type SessionServiceConfig struct {
	DefaultICEServers   []domain.ICEServer
	DefaultStreamConfig domain.StreamConfig
}

// SessionDependencies are the host and transport facilities a session is
// built from. Events and Metrics may be nil.
type SessionDependencies struct {
	Transports ports.TransportFactory
	Streamers  ports.StreamerFactory
	Capturer   ports.ScreenCapturer
	Injector   ports.InputInjector
	Channels   ports.SecureChannelFactory
	Events     ports.SessionEventPublisher
	Metrics    ports.SessionMetrics
}

type sessionService struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*remoteSession

	deps   SessionDependencies
	cfg    SessionServiceConfig
	logger *zap.SugaredLogger
	now    func() time.Time
}

// remoteSession is the aggregate behind one session id. Each sub-resource
// has its own lock; metaMu only guards the plain fields and is never held
// while calling into a sub-resource.
type remoteSession struct {
	id        domain.SessionID
	peerID    domain.PeerID
	createdAt time.Time
	codec     domain.VideoCodec

	metaMu          sync.Mutex
	status          domain.SessionStatus
	localSDP        *string
	remoteSDP       *string
	iceCandidates   []domain.IceCandidate
	streaming       bool
	encryptionReady bool
	stats           domain.StreamStats
	streamConfig    domain.StreamConfig
	screenIndex     int

	connMu sync.Mutex
	conn   ports.PeerTransport

	streamMu sync.Mutex
	streamer ports.Streamer
	closed   bool // set by Close; no streamer starts afterwards

	input *InputController

	channelMu sync.Mutex
	channel   ports.SecureChannel
}

func NewSessionService(deps SessionDependencies, cfg SessionServiceConfig, logger *zap.SugaredLogger) ports.SessionService {
	if deps.Events == nil {
		deps.Events = noopPublisher{}
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	return &sessionService{
		sessions: make(map[domain.SessionID]*remoteSession),
		deps:     deps,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *sessionService) Create(ctx context.Context, peerID domain.PeerID, iceServers []domain.ICEServer, cfg *domain.StreamConfig) (*domain.SessionSnapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "session.create")
	defer span.End()

	if strings.TrimSpace(string(peerID)) == "" {
		return nil, fmt.Errorf("%w: peer_id is required", domain.ErrInputValidation)
	}

	streamCfg := s.cfg.DefaultStreamConfig
	if cfg != nil {
		streamCfg = *cfg
	}
	if err := streamCfg.Validate(); err != nil {
		return nil, err
	}
	if len(iceServers) == 0 {
		iceServers = s.cfg.DefaultICEServers
	}

	sess := &remoteSession{
		id:           domain.SessionID(uuid.New().String()),
		peerID:       peerID,
		createdAt:    s.now(),
		codec:        streamCfg.Codec,
		status:       domain.StatusCreated,
		streamConfig: streamCfg,
		screenIndex:  streamCfg.ScreenIndex,
		input:        NewInputController(s.deps.Injector),
	}
	tracing.AddSpanAttributes(ctx, tracing.SessionIDKey.String(string(sess.id)))

	conn, err := s.deps.Transports.NewTransport(ctx, ports.TransportOptions{
		SessionID:  sess.id,
		ICEServers: iceServers,
		Codec:      streamCfg.Codec,
		Handlers: ports.TransportHandlers{
			OnLocalCandidate: func(c domain.IceCandidate) { s.onLocalCandidate(sess, c) },
			OnStateChange:    func(st domain.SessionStatus) { s.onTransportState(sess, st) },
			OnControlMessage: func(data []byte) { s.onControlMessage(sess, data) },
		},
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, wrapKind(domain.ErrTransport, err)
	}
	sess.conn = conn
	sess.channel = s.deps.Channels.NewChannel(sess.id)

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	s.deps.Metrics.SessionCreated()
	s.logger.Infow("Session created",
		"session_id", sess.id,
		"peer_id", peerID,
		"codec", streamCfg.Codec,
		"ice_servers", len(iceServers),
	)

	return s.snapshot(sess), nil
}

func (s *sessionService) Get(ctx context.Context, id domain.SessionID) (*domain.SessionSnapshot, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.snapshot(sess), nil
}

func (s *sessionService) List(ctx context.Context) ([]*domain.SessionSnapshot, error) {
	s.mu.RLock()
	sessions := make([]*remoteSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].createdAt.Before(sessions[j].createdAt)
	})

	snapshots := make([]*domain.SessionSnapshot, 0, len(sessions))
	for _, sess := range sessions {
		snapshots = append(snapshots, s.snapshot(sess))
	}
	return snapshots, nil
}

// Close removes the session first so no new operation can reach it, then
// tears it down. Teardown failures are logged, not returned.
func (s *sessionService) Close(ctx context.Context, id domain.SessionID) error {
	ctx, span := tracing.StartSpan(ctx, "session.close")
	defer span.End()
	tracing.AddSpanAttributes(ctx, tracing.SessionIDKey.String(string(id)))

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}

	sess.streamMu.Lock()
	sess.closed = true
	if sess.streamer != nil {
		sess.streamer.Stop()
	}
	sess.streamMu.Unlock()

	sess.connMu.Lock()
	if err := sess.conn.Close(); err != nil {
		s.logger.Warnw("Failed to close transport", "session_id", id, "error", err)
	}
	sess.connMu.Unlock()

	sess.input.SetEnabled(false)

	sess.metaMu.Lock()
	sess.streaming = false
	if next, err := sess.status.Transition(domain.StatusDisconnected); err == nil {
		sess.status = next
	}
	sess.metaMu.Unlock()

	lifetime := s.now().Sub(sess.createdAt)
	s.deps.Metrics.SessionClosed(lifetime)
	s.deps.Metrics.ForgetSession(id)
	s.deps.Events.Publish(domain.SessionEvent{
		Type:      domain.EventSessionClosed,
		SessionID: id,
		Status:    domain.StatusDisconnected,
		Timestamp: s.now(),
	})
	s.logger.Infow("Session closed", "session_id", id, "lifetime", lifetime)
	return nil
}

func (s *sessionService) lookup(id domain.SessionID) (*remoteSession, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	return sess, nil
}

func (s *sessionService) snapshot(sess *remoteSession) *domain.SessionSnapshot {
	inputEnabled := sess.input.Enabled()

	sess.metaMu.Lock()
	defer sess.metaMu.Unlock()

	snap := &domain.SessionSnapshot{
		ID:              sess.id,
		PeerID:          sess.peerID,
		Status:          sess.status,
		CreatedAt:       sess.createdAt,
		Duration:        s.now().Sub(sess.createdAt),
		LocalSDP:        copyString(sess.localSDP),
		RemoteSDP:       copyString(sess.remoteSDP),
		IceCandidates:   append([]domain.IceCandidate{}, sess.iceCandidates...),
		Streaming:       sess.streaming,
		InputEnabled:    inputEnabled,
		EncryptionReady: sess.encryptionReady,
		Stats:           sess.stats,
		StreamConfig:    sess.streamConfig,
		ScreenIndex:     sess.screenIndex,
	}
	return snap
}

// setStatus applies a transition and publishes it. Illegal transitions are
// logged and ignored.
func (s *sessionService) setStatus(sess *remoteSession, next domain.SessionStatus) {
	sess.metaMu.Lock()
	prev := sess.status
	updated, err := prev.Transition(next)
	sess.status = updated
	sess.metaMu.Unlock()

	if err != nil {
		s.logger.Warnw("Rejected session status change", "session_id", sess.id, "error", err)
		return
	}
	if prev == updated {
		return
	}
	s.deps.Events.Publish(domain.SessionEvent{
		Type:      domain.EventStatusChanged,
		SessionID: sess.id,
		Status:    updated,
		Timestamp: s.now(),
	})
	s.logger.Debugw("Session status changed", "session_id", sess.id, "from", prev, "to", updated)
}

func (s *sessionService) onLocalCandidate(sess *remoteSession, candidate domain.IceCandidate) {
	s.deps.Events.Publish(domain.SessionEvent{
		Type:      domain.EventLocalCandidate,
		SessionID: sess.id,
		Candidate: &candidate,
		Timestamp: s.now(),
	})
}

func (s *sessionService) onTransportState(sess *remoteSession, status domain.SessionStatus) {
	if _, err := s.lookup(sess.id); err != nil {
		return
	}
	s.setStatus(sess, status)
}

// wrapKind tags err with kind unless it already carries it.
func wrapKind(kind, err error) error {
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

func copyString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

type noopPublisher struct{}

func (noopPublisher) Publish(domain.SessionEvent) {}

type noopMetrics struct{}

func (noopMetrics) SessionCreated()                                  {}
func (noopMetrics) SessionClosed(time.Duration)                      {}
func (noopMetrics) SignalingOperation(string, error)                 {}
func (noopMetrics) InputEvent(domain.InputKind, error)               {}
func (noopMetrics) KeyExchange(error)                                {}
func (noopMetrics) StreamStats(domain.SessionID, domain.StreamStats) {}
func (noopMetrics) ForgetSession(domain.SessionID)                   {}
