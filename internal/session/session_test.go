package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestNormalize(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	s := &Session{AccessToken: "tok", ExpiresIn: 3600}
	s.Normalize(now)
	assert.Equal(t, now.Add(time.Hour).Unix(), s.ExpiresAt)

	// Explicit expires_at wins over expires_in
	s = &Session{AccessToken: "tok", ExpiresIn: 3600, ExpiresAt: 42}
	s.Normalize(now)
	assert.Equal(t, int64(42), s.ExpiresAt)
}

func TestExpiryFromPayload(t *testing.T) {
	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	s := &Session{AccessToken: "opaque", ExpiresAt: expiry.Unix()}
	assert.True(t, s.Expiry().Equal(expiry))
}

func TestExpiryFallsBackToJWTClaim(t *testing.T) {
	expiry := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	s := &Session{AccessToken: signedToken(t, jwt.MapClaims{
		"sub": "user-123",
		"exp": expiry.Unix(),
	})}

	assert.True(t, s.Expiry().Equal(expiry))
}

func TestExpiryUnparseableToken(t *testing.T) {
	s := &Session{AccessToken: "not-a-jwt"}
	assert.True(t, s.Expiry().IsZero())
}

func TestSubject(t *testing.T) {
	s := &Session{AccessToken: signedToken(t, jwt.MapClaims{"sub": "user-123"})}
	assert.Equal(t, "user-123", s.Subject())

	s = &Session{AccessToken: "garbage"}
	assert.Empty(t, s.Subject())
}

func TestExpiresWithin(t *testing.T) {
	now := time.Now()

	fresh := &Session{AccessToken: "tok", ExpiresAt: now.Add(time.Hour).Unix()}
	assert.False(t, fresh.ExpiresWithin(now, 30*time.Second))

	closing := &Session{AccessToken: "tok", ExpiresAt: now.Add(10 * time.Second).Unix()}
	assert.True(t, closing.ExpiresWithin(now, 30*time.Second))

	expired := &Session{AccessToken: "tok", ExpiresAt: now.Add(-time.Minute).Unix()}
	assert.True(t, expired.ExpiresWithin(now, 0))

	// No discoverable expiry is treated as expired
	unknown := &Session{AccessToken: "opaque"}
	assert.True(t, unknown.ExpiresWithin(now, 0))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := &Session{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "bearer",
		ExpiresAt:    1234567890,
		User:         &User{ID: "user-123", Email: "user@example.com"},
	}

	encoded, err := s.Encode()
	require.NoError(t, err)

	got, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, s.AccessToken, got.AccessToken)
	assert.Equal(t, s.RefreshToken, got.RefreshToken)
	assert.Equal(t, s.ExpiresAt, got.ExpiresAt)
	require.NotNil(t, got.User)
	assert.Equal(t, "user@example.com", got.User.Email)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	_, err := Decode("not json")
	assert.Error(t, err)

	_, err = Decode(`{"refresh_token":"only"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no access token")
}
