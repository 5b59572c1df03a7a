package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User is the provider-owned identity record. It is fetched by re-validating
// a session with the provider and is never constructed or mutated locally.
type User struct {
	ID               string         `json:"id"`
	Aud              string         `json:"aud,omitempty"`
	Role             string         `json:"role,omitempty"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	LastSignInAt     *time.Time     `json:"last_sign_in_at,omitempty"`
	CreatedAt        *time.Time     `json:"created_at,omitempty"`
	UpdatedAt        *time.Time     `json:"updated_at,omitempty"`
	AppMetadata      map[string]any `json:"app_metadata,omitempty"`
	UserMetadata     map[string]any `json:"user_metadata,omitempty"`
}

// Session is the provider-issued token bundle. The tokens are opaque; the
// only field authgate interprets is the expiry, used for change detection
// and refresh scheduling.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"` // unix seconds
	User         *User  `json:"user,omitempty"`
}

// Normalize fills ExpiresAt when the provider only sent a relative
// expires_in, anchored at now. Called once when a session is received.
func (s *Session) Normalize(now time.Time) {
	if s.ExpiresAt == 0 && s.ExpiresIn > 0 {
		s.ExpiresAt = now.Add(time.Duration(s.ExpiresIn) * time.Second).Unix()
	}
}

// Expiry returns the session expiry. When the provider payload carried no
// explicit expiry, it falls back to the access token's exp claim, parsed
// WITHOUT signature verification. That value is good enough for change
// detection and refresh scheduling but must never gate access control;
// trusted decisions go through provider verification instead.
func (s *Session) Expiry() time.Time {
	if s.ExpiresAt > 0 {
		return time.Unix(s.ExpiresAt, 0)
	}
	return unverifiedClaimTime(s.AccessToken, func(c jwt.MapClaims) (*jwt.NumericDate, error) {
		return c.GetExpirationTime()
	})
}

// Subject returns the access token's sub claim, unverified. Logging only.
func (s *Session) Subject() string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, claims); err != nil {
		return ""
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}

// ExpiresWithin reports whether the session expires before now+margin.
// Sessions with no discoverable expiry are treated as expired.
func (s *Session) ExpiresWithin(now time.Time, margin time.Duration) bool {
	expiry := s.Expiry()
	if expiry.IsZero() {
		return true
	}
	return !expiry.After(now.Add(margin))
}

// Encode serializes the session for cookie storage.
func (s *Session) Encode() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode session: %w", err)
	}
	return string(data), nil
}

// Decode parses a session previously produced by Encode. A session without
// an access token is malformed.
func Decode(data string) (*Session, error) {
	var s Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if s.AccessToken == "" {
		return nil, fmt.Errorf("session has no access token")
	}
	return &s, nil
}

func unverifiedClaimTime(token string, get func(jwt.MapClaims) (*jwt.NumericDate, error)) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	date, err := get(claims)
	if err != nil || date == nil {
		return time.Time{}
	}
	return date.Time
}
