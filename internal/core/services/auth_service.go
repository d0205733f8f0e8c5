package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"deskbridge/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token expired")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidAPIKey = errors.New("invalid api key")
)

// Scopes carried by operator tokens.
const (
	ScopeSessions = "sessions"
	ScopeControl  = "control"
)

var DefaultScopes = []string{ScopeSessions, ScopeControl}

type AuthService interface {
	IssueTokens(apiKey string, operator domain.Operator, scopes []string) (access, refresh string, err error)
	GenerateToken(operator domain.Operator, scopes []string) (string, error)
	GenerateRefreshToken(operator domain.Operator, scopes []string) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	ValidateRefreshToken(tokenString string) (*Claims, error)
	GetOperatorFromContext(ctx context.Context) (domain.OperatorID, error)
	AccessTokenTTL() time.Duration
}

type Claims struct {
	OperatorID domain.OperatorID `json:"operator_id"`
	Name       string            `json:"name"`
	Scopes     []string          `json:"scopes"`
	Refresh    bool              `json:"refresh,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type operatorContextKey struct{}

// WithOperator stores the authenticated operator id on ctx.
func WithOperator(ctx context.Context, id domain.OperatorID) context.Context {
	return context.WithValue(ctx, operatorContextKey{}, id)
}

type authService struct {
	jwtSecret       []byte
	apiKey          []byte
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
}

func NewAuthService(
	jwtSecret string,
	apiKey string,
	accessTokenTTL time.Duration,
	refreshTokenTTL time.Duration,
) AuthService {
	return &authService{
		jwtSecret:       []byte(jwtSecret),
		apiKey:          []byte(apiKey),
		accessTokenTTL:  accessTokenTTL,
		refreshTokenTTL: refreshTokenTTL,
	}
}

func (s *authService) AccessTokenTTL() time.Duration {
	return s.accessTokenTTL
}

// IssueTokens exchanges the deployment api key for an operator token pair.
func (s *authService) IssueTokens(apiKey string, operator domain.Operator, scopes []string) (string, string, error) {
	if len(s.apiKey) == 0 || subtle.ConstantTimeCompare([]byte(apiKey), s.apiKey) != 1 {
		return "", "", ErrInvalidAPIKey
	}
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	access, err := s.GenerateToken(operator, scopes)
	if err != nil {
		return "", "", err
	}
	refresh, err := s.GenerateRefreshToken(operator, scopes)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (s *authService) GenerateToken(operator domain.Operator, scopes []string) (string, error) {
	return s.sign(operator, scopes, false, s.accessTokenTTL)
}

func (s *authService) GenerateRefreshToken(operator domain.Operator, scopes []string) (string, error) {
	return s.sign(operator, scopes, true, s.refreshTokenTTL)
}

func (s *authService) sign(operator domain.Operator, scopes []string, refresh bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		OperatorID: operator.ID,
		Name:       operator.Name,
		Scopes:     scopes,
		Refresh:    refresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(operator.ID),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

// ValidateToken accepts access tokens only.
func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Refresh {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *authService) ValidateRefreshToken(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if !claims.Refresh {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *authService) GetOperatorFromContext(ctx context.Context) (domain.OperatorID, error) {
	id, ok := ctx.Value(operatorContextKey{}).(domain.OperatorID)
	if !ok || id == "" {
		return "", ErrUnauthorized
	}
	return id, nil
}
