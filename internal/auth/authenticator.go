package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stemsplit/api/internal/config"
)

// Identity headers exchanged with the gateway
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"
)

var (
	ErrMissingToken   = errors.New("missing authorization header")
	ErrMalformedToken = errors.New("invalid authorization header format")
	ErrInvalidToken   = errors.New("invalid or expired token")
	ErrNotConfigured  = errors.New("authentication not configured")
)

// Identity is the authenticated caller
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// TokenVerifier checks a raw bearer token
type TokenVerifier interface {
	Verify(tokenString string) (*Identity, error)
}

// Authenticator tries each verifier in order; the first success wins.
type Authenticator struct {
	verifiers []TokenVerifier
}

func NewAuthenticator(verifiers ...TokenVerifier) *Authenticator {
	return &Authenticator{verifiers: verifiers}
}

// NewFromConfig builds the JWKS verifier when an issuer is configured,
// falling back to HMAC tokens signed with the shared secret.
func NewFromConfig(ctx context.Context, cfg config.AuthConfig) (*Authenticator, error) {
	var verifiers []TokenVerifier
	if cfg.Issuer != "" {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		jwks, err := NewJWKSVerifier(ctx, cfg.Issuer, cfg.ClientID)
		if err != nil {
			return nil, err
		}
		verifiers = append(verifiers, jwks)
		log.Info().Str("issuer", cfg.Issuer).Msg("JWKS token verification enabled")
	}
	if cfg.JWTSecret != "" {
		verifiers = append(verifiers, NewHMACVerifier(cfg.JWTSecret))
	}
	return NewAuthenticator(verifiers...), nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", ErrMalformedToken
	}
	return parts[1], nil
}

// Authenticate verifies an Authorization header value.
func (a *Authenticator) Authenticate(header string) (*Identity, error) {
	token, err := BearerToken(header)
	if err != nil {
		return nil, err
	}
	if len(a.verifiers) == 0 {
		return nil, ErrNotConfigured
	}
	for _, v := range a.verifiers {
		if id, err := v.Verify(token); err == nil {
			return id, nil
		}
	}
	return nil, ErrInvalidToken
}
