package http

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"

	"deskbridge/internal/core/domain"
	"deskbridge/internal/core/ports"
	"deskbridge/internal/core/services"
	"deskbridge/internal/infrastructure/middleware"
	apperrors "deskbridge/pkg/errors"
	"deskbridge/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxInputEventBytes bounds a single input event body; text events carry at
// most 4096 bytes of payload.
const maxInputEventBytes = 16 * 1024

type SessionHandler struct {
	sessions      ports.SessionService
	enforceScopes bool
	logger        *zap.SugaredLogger
}

// NewSessionHandler builds the session API. enforceScopes must only be set
// when the routes sit behind AuthMiddleware.
func NewSessionHandler(sessions ports.SessionService, enforceScopes bool, logger *zap.SugaredLogger) *SessionHandler {
	return &SessionHandler{
		sessions:      sessions,
		enforceScopes: enforceScopes,
		logger:        logger,
	}
}

func (h *SessionHandler) scope(name string) gin.HandlerFunc {
	if !h.enforceScopes {
		return func(c *gin.Context) { c.Next() }
	}
	return middleware.RequireScope(name)
}

// SetupRoutes mounts the session API on api. Key material and input require
// the control scope.
func (h *SessionHandler) SetupRoutes(api gin.IRouter) {
	control := h.scope(services.ScopeControl)
	viewer := h.scope(services.ScopeSessions)

	api.GET("/screens", viewer, h.ListScreens)

	sessions := api.Group("/sessions", viewer)
	{
		sessions.POST("", h.CreateSession)
		sessions.GET("", h.ListSessions)
		sessions.GET("/:id", h.GetSession)
		sessions.DELETE("/:id", h.CloseSession)

		sessions.POST("/:id/offer", h.CreateOffer)
		sessions.POST("/:id/answer", h.CreateAnswer)
		sessions.POST("/:id/remote-description", h.SetRemoteDescription)
		sessions.POST("/:id/ice-candidates", h.AddIceCandidate)

		sessions.POST("/:id/streaming/start", h.StartStreaming)
		sessions.POST("/:id/streaming/stop", h.StopStreaming)
		sessions.GET("/:id/stats", h.GetStats)

		sessions.POST("/:id/keys", control, h.GenerateKeypair)
		sessions.POST("/:id/keys/exchange", control, h.ExchangeKeys)
		sessions.GET("/:id/keys/fingerprint", h.KeyFingerprint)

		sessions.POST("/:id/input", control, h.ExecuteInput)
		sessions.PUT("/:id/input/enabled", control, h.SetInputEnabled)
	}
}

type CreateSessionRequest struct {
	PeerID       domain.PeerID        `json:"peer_id" binding:"required"`
	ICEServers   []domain.ICEServer   `json:"ice_servers"`
	StreamConfig *domain.StreamConfig `json:"stream_config"`
}

type AnswerRequest struct {
	RemoteSDP *string `json:"remote_sdp"`
	AnswerSDP *string `json:"answer_sdp"`
}

type RemoteDescriptionRequest struct {
	SDP  string `json:"sdp" binding:"required"`
	Type string `json:"type" binding:"required"`
}

type StartStreamingRequest struct {
	ScreenIndex  *int                 `json:"screen_index"`
	StreamConfig *domain.StreamConfig `json:"stream_config"`
}

type PublicKeyRequest struct {
	PublicKey string `json:"public_key" binding:"required"`
}

type InputEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type SDPResponse struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func sessionID(c *gin.Context) domain.SessionID {
	return domain.SessionID(c.Param("id"))
}

func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format: " + err.Error()))
		return
	}

	if err := validation.ValidatePeerID(string(req.PeerID)); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}
	for _, server := range req.ICEServers {
		if len(server.URLs) == 0 {
			c.Error(apperrors.NewInvalidInputError("ice server urls must not be empty"))
			return
		}
		for _, u := range server.URLs {
			if err := validation.ValidateICEServerURL(u); err != nil {
				c.Error(apperrors.NewInvalidInputError(err.Error()))
				return
			}
		}
	}

	snapshot, err := h.sessions.Create(c.Request.Context(), req.PeerID, req.ICEServers, req.StreamConfig)
	if err != nil {
		c.Error(apperrors.FromDomain(err))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session": snapshot,
	})
}

func (h *SessionHandler) ListSessions(c *gin.Context) {
	sessions, err := h.sessions.List(c.Request.Context())
	if err != nil {
		c.Error(apperrors.FromDomain(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	snapshot, err := h.sessions.Get(c.Request.Context(), sessionID(c))
	if err != nil {
		c.Error(apperrors.FromDomain(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session": snapshot,
	})
}

func (h *SessionHandler) CloseSession(c *gin.Context) {
	id := sessionID(c)
	if err := h.sessions.Close(c.Request.Context(), id); err != nil {
		c.Error(apperrors.FromDomain(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": id,
		"status":     "closed",
	})
}

func (h *SessionHandler) CreateOffer(c *gin.Context) {
	offer, err := h.sessions.CreateOffer(c.Request.Context(), sessionID(c))
	if err != nil {
		c.Error(apperrors.FromDomain(err))
		return
	}

	c.JSON(http.StatusOK, SDPResponse{Type: string(domain.SDPTypeOffer), SDP: offer})
}

func (h *SessionHandler) CreateAnswer(c *gin.Context) {
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format: " + err.Error()))
		return
	}

	answer, err := h.sessions.CreateAnswer(c.Request.Context(), sessionID(c), req.RemoteSDP, req.AnswerSDP)
	if err != nil {
		c.Error(apperrors.FromDomain(err))
		return
	}

	c.JSON(http.StatusOK, SDPResponse{Type: string(domain.SDPTypeAnswer), SDP: answer})
}

func (h *SessionHandler) SetRemoteDescription(c *gin.Context) {
	var req RemoteDescriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format: " + err.Error()))
		return
	}

	sdpType, err := domain.ParseSDPType(req.Type)
	if err != nil {
		c.Error(apperrors.FromDomain(err))
		return
	}

	id := sessionID(c)
	if err := h.sessions.SetRemoteDescription(c.Request.Context(), id, req.SDP, sdpType); err != nil {
		c.Error(apperrors.FromDomain(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": id,
		"status":     "applied",
	})
}

func (h *SessionHandler) AddIceCandidate(c *gin.Context) {
	var candidate domain.IceCandidate
	if err := c.ShouldBindJSON(&candidate); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format: " + err.Error()))
		return
	}
	if candidate.Candidate == "" {
		c.Error(apperrors.NewInvalidInputError("candidate is required"))
		return
	}

	id := sessionID(c)
	if err := h.sessions.AddIceCandidate(c.Request.Context(), id, candidate); err != nil {
		c.Error(apperrors.FromDomain(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": id,
		"status":     "added",
	})
}

func (h *SessionHandler) ListScreens(c *gin.Context) {
	screens, err := h.sessions.ListScreens(c.Request.Context())
	if err != nil {
		c.Error(apperrors.FromDomain(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"screens": screens,
	})
}

func (h *SessionHandler) StartStreaming(c *gin.Context) {
	var req StartStreamingRequest
	// the body is optional; an empty one keeps the session's configuration
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.Error(apperrors.NewInvalidInputError("invalid request format: " + err.Error()))
		return
	}

	id := sessionID(c)
	if err := h.sessions.StartStreaming(c.Request.Context(), id, req.ScreenIndex, req.StreamConfig); err != nil {
		c.Error(apperrors.FromDomain(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": id,
		"streaming":  true,
	})
}

func (h *SessionHandler) StopStreaming(c *gin.Context) {
	id := sessionID(c)
	if err := h.sessions.StopStreaming(c.Request.Context(), id); err != nil {
		c.Error(apperrors.FromDomain(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": id,
		"streaming":  false,
	})
}

func (h *SessionHandler) GetStats(c *gin.Context) {
	stats, err := h.sessions.GetStats(c.Request.Context(), sessionID(c))
	if err != nil {
		c.Error(apperrors.FromDomain(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stats": stats,
	})
}

func (h *SessionHandler) GenerateKeypair(c *gin.Context) {
	publicKey, err := h.sessions.GenerateKeypair(c.Request.Context(), sessionID(c))
	if err != nil {
		c.Error(apperrors.FromDomain(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"public_key": base64.StdEncoding.EncodeToString(publicKey),
	})
}

func (h *SessionHandler) ExchangeKeys(c *gin.Context) {
	var req PublicKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format: " + err.Error()))
		return
	}

	peerKey, err := base64.StdEncoding.DecodeString(req.PublicKey)
	if err != nil {
		c.Error(apperrors.NewInvalidInputError("public_key must be standard base64"))
		return
	}

	id := sessionID(c)
	if err := h.sessions.ExchangeKeys(c.Request.Context(), id, peerKey); err != nil {
		c.Error(apperrors.FromDomain(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":       id,
		"encryption_ready": true,
	})
}

func (h *SessionHandler) KeyFingerprint(c *gin.Context) {
	fingerprint, err := h.sessions.KeyFingerprint(c.Request.Context(), sessionID(c))
	if err != nil {
		c.Error(apperrors.FromDomain(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"fingerprint": fingerprint,
	})
}

func (h *SessionHandler) ExecuteInput(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxInputEventBytes+1))
	if err != nil {
		c.Error(apperrors.NewInvalidInputError("failed to read request body"))
		return
	}
	if len(body) > maxInputEventBytes {
		c.Error(apperrors.NewInvalidInputError("input event too large"))
		return
	}

	id := sessionID(c)
	event, err := h.sessions.ExecuteInputJSON(c.Request.Context(), id, body)
	if err != nil {
		h.logger.Debugw("input event rejected", "session_id", id, "error", err)
		c.Error(apperrors.FromDomain(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": id,
		"kind":       event.Kind(),
		"event":      domain.EnvelopeOf(event),
		"status":     "executed",
	})
}

func (h *SessionHandler) SetInputEnabled(c *gin.Context) {
	var req InputEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format: " + err.Error()))
		return
	}

	id := sessionID(c)
	if err := h.sessions.SetInputEnabled(c.Request.Context(), id, *req.Enabled); err != nil {
		c.Error(apperrors.FromDomain(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":    id,
		"input_enabled": *req.Enabled,
	})
}
