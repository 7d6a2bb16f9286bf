package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsplit/api/internal/config"
)

type verifierFunc func(string) (*Identity, error)

func (f verifierFunc) Verify(token string) (*Identity, error) { return f(token) }

func TestHMACVerifier_RoundTrip(t *testing.T) {
	v := NewHMACVerifier("secret")
	token, err := v.Sign("user-1", "a@b.c", time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.Equal(t, "a@b.c", id.Email)

	_, err = NewHMACVerifier("other").Verify(token)
	assert.Error(t, err)
}

func TestHMACVerifier_Rejects(t *testing.T) {
	v := NewHMACVerifier("secret")

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, HMACClaims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	token, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.Verify(token)
	assert.Error(t, err)

	anonymous, err := jwt.NewWithClaims(jwt.SigningMethodHS256, HMACClaims{}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.Verify(anonymous)
	assert.Error(t, err)

	_, err = v.Verify("not.a.token")
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	tok, err := BearerToken("Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	tok, err = BearerToken("bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = BearerToken("")
	assert.ErrorIs(t, err, ErrMissingToken)
	_, err = BearerToken("Basic abc")
	assert.ErrorIs(t, err, ErrMalformedToken)
	_, err = BearerToken("Bearer")
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestAuthenticator_FallsThroughVerifiers(t *testing.T) {
	reject := verifierFunc(func(string) (*Identity, error) { return nil, errors.New("no") })
	accept := verifierFunc(func(tok string) (*Identity, error) { return &Identity{UserID: tok}, nil })

	id, err := NewAuthenticator(reject, accept).Authenticate("Bearer u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)

	_, err = NewAuthenticator(reject).Authenticate("Bearer u1")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewAuthenticator().Authenticate("Bearer u1")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNewFromConfig_HMACOnly(t *testing.T) {
	a, err := NewFromConfig(context.Background(), config.AuthConfig{JWTSecret: "s3cret"})
	require.NoError(t, err)

	token, err := NewHMACVerifier("s3cret").Sign("user-9", "", time.Hour)
	require.NoError(t, err)
	id, err := a.Authenticate("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "user-9", id.UserID)
}
