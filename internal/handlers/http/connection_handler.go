package http

import (
	"net/http"
	"strconv"
	"strings"

	"deskbridge/internal/core/domain"
	"deskbridge/internal/core/ports"
	apperrors "deskbridge/pkg/errors"
	"deskbridge/pkg/validation"

	"github.com/gin-gonic/gin"
)

type ConnectionHandler struct {
	registry ports.ConnectionRegistry
}

func NewConnectionHandler(registry ports.ConnectionRegistry) *ConnectionHandler {
	return &ConnectionHandler{
		registry: registry,
	}
}

func (h *ConnectionHandler) SetupRoutes(api gin.IRouter) {
	connections := api.Group("/connections")
	{
		connections.POST("", h.AddConnection)
		connections.GET("", h.ListConnections)
		connections.PUT("/:id/status", h.UpdateStatus)
		connections.DELETE("/:id", h.RemoveConnection)
	}
}

type AddConnectionRequest struct {
	Type string `json:"type" binding:"required"`
	Host string `json:"host" binding:"required,max=253"`
	Port uint16 `json:"port"`
}

type UpdateStatusRequest struct {
	Status *domain.ConnectionStatus `json:"status" binding:"required"`
}

func (h *ConnectionHandler) AddConnection(c *gin.Context) {
	var req AddConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format: " + err.Error()))
		return
	}

	kind, err := domain.ParseConnectionKind(req.Type)
	if err != nil {
		c.Error(apperrors.FromDomain(err))
		return
	}
	// RDP and SSH entries name a reachable endpoint; VPN and FTP hosts are
	// free-form provider or site labels.
	if kind == domain.ConnectionRDP || kind == domain.ConnectionSSH {
		if err := validation.ValidateHost(req.Host); err != nil {
			c.Error(apperrors.NewInvalidInputError(err.Error()))
			return
		}
		if err := validation.ValidatePort(int(req.Port)); err != nil {
			c.Error(apperrors.NewInvalidInputError(err.Error()))
			return
		}
	}

	name, err := h.registry.Add(c.Request.Context(), req.Type, strings.TrimSpace(req.Host), req.Port)
	if err != nil {
		c.Error(apperrors.FromDomain(err))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"name": name,
	})
}

func (h *ConnectionHandler) ListConnections(c *gin.Context) {
	connectedOnly := false
	if raw := c.Query("connected"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.Error(apperrors.NewInvalidInputError("connected must be a boolean"))
			return
		}
		connectedOnly = v
	}

	var (
		conns []domain.RemoteConnection
		err   error
	)
	if connectedOnly {
		conns, err = h.registry.ListConnected(c.Request.Context())
	} else {
		conns, err = h.registry.List(c.Request.Context())
	}
	if err != nil {
		c.Error(apperrors.FromDomain(err))
		return
	}

	records := make([]domain.ConnectionRecord, 0, len(conns))
	for _, conn := range conns {
		records = append(records, domain.RecordOf(conn))
	}

	c.JSON(http.StatusOK, gin.H{
		"connections": records,
		"count":       len(records),
	})
}

func (h *ConnectionHandler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format: " + err.Error()))
		return
	}

	id := c.Param("id")
	if err := h.registry.UpdateStatus(c.Request.Context(), id, *req.Status); err != nil {
		c.Error(apperrors.FromDomain(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":     id,
		"status": req.Status,
	})
}

func (h *ConnectionHandler) RemoveConnection(c *gin.Context) {
	id := c.Param("id")
	if err := h.registry.Remove(c.Request.Context(), id); err != nil {
		c.Error(apperrors.FromDomain(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":     id,
		"status": "removed",
	})
}
