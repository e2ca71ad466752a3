package auth_test

import (
	"testing"
	"time"

	"checkout-service/common/auth"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestUserID_ValidAccessToken(t *testing.T) {
	v := auth.NewTokenVerifier("s3cret")
	tok := sign(t, "s3cret", jwt.MapClaims{"sub": "user-1", "typ": "access", "exp": time.Now().Add(time.Hour).Unix()})

	id, err := v.UserID(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id)
}

func TestUserID_Rejects(t *testing.T) {
	v := auth.NewTokenVerifier("s3cret")

	cases := map[string]string{
		"wrong secret": sign(t, "other", jwt.MapClaims{"sub": "user-1", "typ": "access"}),
		"expired":      sign(t, "s3cret", jwt.MapClaims{"sub": "user-1", "typ": "access", "exp": time.Now().Add(-time.Hour).Unix()}),
		"refresh type": sign(t, "s3cret", jwt.MapClaims{"sub": "user-1", "typ": "refresh"}),
		"no subject":   sign(t, "s3cret", jwt.MapClaims{"typ": "access"}),
		"garbage":      "not-a-jwt",
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.UserID(tok)
			assert.Error(t, err)
		})
	}
}

func TestVerifierWithoutSecret(t *testing.T) {
	v := auth.NewTokenVerifier("  ")
	assert.False(t, v.Enabled())
	_, err := v.ParseAndValidateToken("x", "")
	assert.ErrorIs(t, err, auth.ErrSecretNotConfigured)
}
