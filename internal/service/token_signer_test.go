package service

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/account-api/internal/models"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestTokenSignerRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	signer := NewTokenSigner("account-api", fixedClock(now))

	token, err := signer.Sign(&models.RefreshClaims{UserID: "u1", RegisteredClaims: signer.Registered("u1", time.Hour)}, "secret")
	require.NoError(t, err)

	var claims models.RefreshClaims
	require.NoError(t, signer.Verify(token, "secret", &claims))
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, now.Add(time.Hour), claims.ExpiresAt.Time)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenSignerUniqueIDs(t *testing.T) {
	signer := NewTokenSigner("", fixedClock(time.Unix(1_700_000_000, 0)))
	a, err := signer.Sign(&models.RefreshClaims{UserID: "u1", RegisteredClaims: signer.Registered("u1", time.Hour)}, "secret")
	require.NoError(t, err)
	b, err := signer.Sign(&models.RefreshClaims{UserID: "u1", RegisteredClaims: signer.Registered("u1", time.Hour)}, "secret")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestTokenSignerClassifiesFailures(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	signer := NewTokenSigner("account-api", fixedClock(now))
	token, err := signer.Sign(&models.RefreshClaims{UserID: "u1", RegisteredClaims: signer.Registered("u1", time.Minute)}, "secret")
	require.NoError(t, err)

	err = signer.Verify(token, "other-secret", &models.RefreshClaims{})
	assert.ErrorIs(t, err, ErrTokenSignatureInvalid)

	err = signer.Verify("not-a-token", "secret", &models.RefreshClaims{})
	assert.ErrorIs(t, err, ErrTokenMalformed)

	err = signer.Verify("", "secret", &models.RefreshClaims{})
	assert.ErrorIs(t, err, ErrTokenMalformed)

	later := NewTokenSigner("account-api", fixedClock(now.Add(2*time.Minute)))
	err = later.Verify(token, "secret", &models.RefreshClaims{})
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestTokenSignerRejectsOtherAlgorithms(t *testing.T) {
	signer := NewTokenSigner("", nil)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &models.RefreshClaims{
		UserID:           "u1",
		RegisteredClaims: signer.Registered("u1", time.Hour),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(unsigned, "."))

	err = signer.Verify(unsigned, "secret", &models.RefreshClaims{})
	assert.ErrorIs(t, err, ErrTokenSignatureInvalid)
}

func TestTokenSignerZeroTTLIsExpired(t *testing.T) {
	signer := NewTokenSigner("", nil)
	token, err := signer.Sign(&models.RefreshClaims{UserID: "u1", RegisteredClaims: signer.Registered("u1", 0)}, "secret")
	require.NoError(t, err)

	err = signer.Verify(token, "secret", &models.RefreshClaims{})
	assert.ErrorIs(t, err, ErrTokenExpired)
}
