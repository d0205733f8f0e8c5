package http

import (
	"errors"
	"net/http"
	"strings"

	"deskbridge/internal/core/domain"
	"deskbridge/internal/core/services"
	apperrors "deskbridge/pkg/errors"
	"deskbridge/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// operatorNamespace scopes operator ids so the same name always maps to
// the same id across token issues.
var operatorNamespace = uuid.MustParse("6f0d7c7e-3b8a-4d52-9a57-5f1c1a8e2d40")

type AuthHandler struct {
	authService services.AuthService
}

func NewAuthHandler(authService services.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

// SetupRoutes registers the token endpoints. They must stay outside the
// auth gate.
func (h *AuthHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/token", h.IssueToken)
		api.POST("/refresh", h.RefreshToken)
	}
}

type TokenRequest struct {
	APIKey   string   `json:"api_key" binding:"required,max=512"`
	Operator string   `json:"operator" binding:"required,max=50"`
	Scopes   []string `json:"scopes"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required,max=2048"`
}

type TokenResponse struct {
	OperatorID   domain.OperatorID `json:"operator_id"`
	Operator     string            `json:"operator"`
	Scopes       []string          `json:"scopes"`
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token,omitempty"`
	ExpiresIn    int               `json:"expires_in"`
}

func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	req.Operator = strings.TrimSpace(req.Operator)
	if err := validation.ValidateOperatorName(req.Operator); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}
	for _, scope := range req.Scopes {
		if scope != services.ScopeSessions && scope != services.ScopeControl {
			c.Error(apperrors.NewInvalidInputError("unknown scope: " + scope))
			return
		}
	}

	operator := domain.Operator{
		ID:   domain.OperatorID(uuid.NewSHA1(operatorNamespace, []byte(req.Operator)).String()),
		Name: req.Operator,
	}

	access, refresh, err := h.authService.IssueTokens(req.APIKey, operator, req.Scopes)
	if err != nil {
		if errors.Is(err, services.ErrInvalidAPIKey) {
			c.Error(apperrors.NewUnauthorizedError("invalid api key"))
			return
		}
		c.Error(apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to generate token", http.StatusInternalServerError))
		return
	}

	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = services.DefaultScopes
	}

	c.JSON(http.StatusOK, TokenResponse{
		OperatorID:   operator.ID,
		Operator:     operator.Name,
		Scopes:       scopes,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(h.authService.AccessTokenTTL().Seconds()),
	})
}

func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	claims, err := h.authService.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		c.Error(apperrors.NewUnauthorizedError("invalid refresh token"))
		return
	}

	operator := domain.Operator{ID: claims.OperatorID, Name: claims.Name}
	access, err := h.authService.GenerateToken(operator, claims.Scopes)
	if err != nil {
		c.Error(apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to generate token", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, TokenResponse{
		OperatorID:  operator.ID,
		Operator:    operator.Name,
		Scopes:      claims.Scopes,
		AccessToken: access,
		ExpiresIn:   int(h.authService.AccessTokenTTL().Seconds()),
	})
}
