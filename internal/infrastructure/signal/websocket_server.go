package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"deskbridge/internal/core/domain"
	"deskbridge/internal/core/ports"
	apperrors "deskbridge/pkg/errors"
	"deskbridge/pkg/tracing"
	"deskbridge/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Config struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	MessagesPerSecond float64
	MessageBurst      int
	MaxMessageBytes   int64
	AllowedOrigins    []string
}

func DefaultConfig() Config {
	return Config{
		PingInterval:      30 * time.Second,
		PongTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		MessagesPerSecond: 20,
		MessageBurst:      40,
		MaxMessageBytes:   64 * 1024,
	}
}

// WebSocketServer carries trickle ICE and offer/answer exchange for one
// session per socket, and pushes local candidates and status changes back.
type WebSocketServer struct {
	sessions ports.SessionService
	events   ports.SessionEventSubscriber
	config   Config
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	connections map[domain.SessionID]int

	logger *zap.SugaredLogger
}

type SignalMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OutboundMessage is everything the server writes to the socket.
type OutboundMessage struct {
	Type    string              `json:"type"`
	Payload interface{}         `json:"payload,omitempty"`
	Message string              `json:"message,omitempty"`
	Code    apperrors.ErrorCode `json:"code,omitempty"`
}

type SDPPayload struct {
	SDP string `json:"sdp"`
}

type StatusPayload struct {
	Status domain.SessionStatus `json:"status"`
}

const (
	MessageOffer          = "offer"
	MessageAnswer         = "answer"
	MessageICECandidate   = "ice_candidate"
	MessageRequestOffer   = "request_offer"
	MessageLocalCandidate = "local_candidate"
	MessageStatus         = "status"
	MessageClosed         = "closed"
	MessageError          = "error"
)

// maxEchoedType caps how much of an unknown message type is sent back.
const maxEchoedType = 32

func NewWebSocketServer(
	sessions ports.SessionService,
	events ports.SessionEventSubscriber,
	config Config,
	logger *zap.SugaredLogger,
) *WebSocketServer {
	s := &WebSocketServer{
		sessions:    sessions,
		events:      events,
		config:      config,
		connections: make(map[domain.SessionID]int),
		logger:      logger,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	return s
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Handle serves GET /ws/sessions/:id.
func (s *WebSocketServer) Handle(c *gin.Context) {
	id := domain.SessionID(c.Param("id"))
	if _, err := s.sessions.Get(c.Request.Context(), id); err != nil {
		c.Error(apperrors.FromDomain(err))
		c.Abort()
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "session_id", id, "error", err)
		return
	}

	s.serve(id, conn)
}

// client owns the write side of one socket. gorilla allows one writer, so
// every outbound message goes through send.
type client struct {
	conn *websocket.Conn
	send chan OutboundMessage
	done chan struct{}
	once sync.Once
}

func (cl *client) enqueue(msg OutboundMessage) bool {
	select {
	case <-cl.done:
		return false
	case cl.send <- msg:
		return true
	}
}

func (cl *client) shutdown() {
	cl.once.Do(func() { close(cl.done) })
}

func (s *WebSocketServer) serve(id domain.SessionID, conn *websocket.Conn) {
	s.mu.Lock()
	s.connections[id]++
	s.mu.Unlock()

	cl := &client{
		conn: conn,
		send: make(chan OutboundMessage, 32),
		done: make(chan struct{}),
	}

	events, unsubscribe := s.events.Subscribe(id)

	s.logger.Infow("signaling socket opened", "session_id", id, "remote_addr", conn.RemoteAddr().String())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(id, cl)
	}()
	go s.forwardEvents(cl, events)

	s.readPump(id, cl)

	cl.shutdown()
	unsubscribe()
	<-writerDone
	conn.Close()

	s.mu.Lock()
	s.connections[id]--
	if s.connections[id] <= 0 {
		delete(s.connections, id)
	}
	s.mu.Unlock()

	s.logger.Infow("signaling socket closed", "session_id", id)
}

func (s *WebSocketServer) readPump(id domain.SessionID, cl *client) {
	conn := cl.conn
	if s.config.MaxMessageBytes > 0 {
		conn.SetReadLimit(s.config.MaxMessageBytes)
	}
	conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
		return nil
	})

	limiter := rate.NewLimiter(rate.Limit(s.config.MessagesPerSecond), s.config.MessageBurst)

	for {
		var msg SignalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading signaling message", "session_id", id, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))

		if s.config.MessagesPerSecond > 0 && !limiter.Allow() {
			limited := apperrors.NewRateLimitError()
			cl.enqueue(OutboundMessage{Type: MessageError, Code: limited.Code, Message: limited.Message})
			continue
		}

		ctx, span := tracing.TraceSignalingMessage(context.Background(), msg.Type, string(id))
		reply, err := s.handleMessage(ctx, id, msg)
		if err != nil {
			tracing.RecordError(ctx, err)
		}
		span.End()
		if err != nil {
			s.logger.Infow("error handling signaling message", "session_id", id, "type", msg.Type, "error", err)
			cl.enqueue(OutboundMessage{Type: MessageError, Code: apperrors.FromDomain(err).Code, Message: err.Error()})
			if errors.Is(err, domain.ErrSessionNotFound) {
				return
			}
			continue
		}
		if reply != nil {
			cl.enqueue(*reply)
		}
	}
}

func (s *WebSocketServer) writePump(id domain.SessionID, cl *client) {
	pingTicker := time.NewTicker(s.config.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-cl.done:
			s.drain(cl)
			cl.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			cl.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := cl.conn.WriteJSON(msg); err != nil {
				s.logger.Infow("error writing signaling message", "session_id", id, "error", err)
				cl.shutdown()
				cl.conn.Close()
				return
			}
		case <-pingTicker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "session_id", id, "error", err)
				cl.shutdown()
				cl.conn.Close()
				return
			}
		}
	}
}

// drain flushes queued messages before the close frame.
func (s *WebSocketServer) drain(cl *client) {
	for {
		select {
		case msg := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := cl.conn.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *WebSocketServer) forwardEvents(cl *client, events <-chan domain.SessionEvent) {
	for ev := range events {
		switch ev.Type {
		case domain.EventLocalCandidate:
			if ev.Candidate != nil {
				cl.enqueue(OutboundMessage{Type: MessageLocalCandidate, Payload: ev.Candidate})
			}
		case domain.EventStatusChanged:
			cl.enqueue(OutboundMessage{Type: MessageStatus, Payload: StatusPayload{Status: ev.Status}})
		case domain.EventSessionClosed:
			cl.enqueue(OutboundMessage{Type: MessageClosed})
			cl.shutdown()
			// unblock the reader so serve can return
			cl.conn.SetReadDeadline(time.Now())
			return
		}
	}
}

func (s *WebSocketServer) handleMessage(ctx context.Context, id domain.SessionID, msg SignalMessage) (*OutboundMessage, error) {
	switch msg.Type {
	case "":
		return nil, fmt.Errorf("%w: message type is required", domain.ErrInputValidation)
	case MessageOffer:
		var payload SDPPayload
		if err := decodePayload(msg, &payload); err != nil {
			return nil, err
		}
		answer, err := s.sessions.CreateAnswer(ctx, id, &payload.SDP, nil)
		if err != nil {
			return nil, err
		}
		return &OutboundMessage{Type: MessageAnswer, Payload: SDPPayload{SDP: answer}}, nil
	case MessageAnswer:
		var payload SDPPayload
		if err := decodePayload(msg, &payload); err != nil {
			return nil, err
		}
		_, err := s.sessions.CreateAnswer(ctx, id, nil, &payload.SDP)
		return nil, err
	case MessageICECandidate:
		var candidate domain.IceCandidate
		if err := decodePayload(msg, &candidate); err != nil {
			return nil, err
		}
		if candidate.Candidate == "" {
			return nil, fmt.Errorf("%w: ICE candidate is required", domain.ErrInputValidation)
		}
		return nil, s.sessions.AddIceCandidate(ctx, id, candidate)
	case MessageRequestOffer:
		offer, err := s.sessions.CreateOffer(ctx, id)
		if err != nil {
			return nil, err
		}
		return &OutboundMessage{Type: MessageOffer, Payload: SDPPayload{SDP: offer}}, nil
	default:
		return nil, fmt.Errorf("%w: unknown message type: %s", domain.ErrInputValidation, utils.Truncate(msg.Type, maxEchoedType))
	}
}

func decodePayload(msg SignalMessage, v interface{}) error {
	if len(msg.Payload) == 0 {
		return fmt.Errorf("%w: %s payload is required", domain.ErrInputValidation, msg.Type)
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("%w: invalid %s payload: %v", domain.ErrInputValidation, msg.Type, err)
	}
	return nil
}

// ConnectionCount reports open sockets across all sessions.
func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, n := range s.connections {
		total += n
	}
	return total
}
