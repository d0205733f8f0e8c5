package middleware

import (
	"net/http"
	"strings"

	"deskbridge/internal/core/services"
	"deskbridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	ContextOperatorID   = "operator_id"
	ContextOperatorName = "operator_name"
	ContextScopes       = "scopes"
	ContextClaims       = "claims"
)

// bearerToken reads the Authorization header, falling back to the
// access_token query parameter since browsers cannot set headers on a
// websocket upgrade.
func bearerToken(c *gin.Context) (string, bool) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := c.Query("access_token"); token != "" {
		return token, true
	}
	return "", false
}

func attachClaims(c *gin.Context, claims *services.Claims) {
	c.Set(ContextOperatorID, claims.OperatorID)
	c.Set(ContextOperatorName, claims.Name)
	c.Set(ContextScopes, claims.Scopes)
	c.Set(ContextClaims, claims)
	ctx := services.WithOperator(c.Request.Context(), claims.OperatorID)
	ctx = logger.WithOperatorID(ctx, string(claims.OperatorID))
	c.Request = c.Request.WithContext(ctx)
}

// AuthMiddleware validates the operator JWT and rejects the request otherwise.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "UNAUTHORIZED",
				"message": "authorization header required",
			})
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "UNAUTHORIZED",
				"message": err.Error(),
			})
			c.Abort()
			return
		}

		attachClaims(c, claims)
		c.Next()
	}
}

// OptionalAuthMiddleware attaches the operator when a valid token is
// present and lets anonymous requests through.
func OptionalAuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.Next()
			return
		}
		if claims, err := authService.ValidateToken(token); err == nil {
			attachClaims(c, claims)
		}
		c.Next()
	}
}

// RequireScope must run after AuthMiddleware.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get(ContextClaims)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "UNAUTHORIZED",
				"message": "operator not authenticated",
			})
			c.Abort()
			return
		}

		claims, ok := value.(*services.Claims)
		if !ok || !claims.HasScope(scope) {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "FORBIDDEN",
				"message": "missing scope: " + scope,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
