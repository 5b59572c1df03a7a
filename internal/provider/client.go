// Package provider implements the REST client for the external auth service.
// All identity state is owned by the service; this client only moves
// provider-issued records across the wire.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Aecotyle/authgate/internal/log"
	"github.com/Aecotyle/authgate/internal/session"
	"github.com/Aecotyle/authgate/internal/urlutil"
)

// maxResponseBytes bounds provider response bodies.
const maxResponseBytes = 1 << 20

// Client talks to a GoTrue-compatible auth API. It is constructed once at
// startup and is safe for concurrent use.
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
}

// NewClient creates a provider client for the service at baseURL. The anon
// key accompanies every request; timeout bounds each round-trip.
func NewClient(baseURL, anonKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		anonKey: anonKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SignUpResult is the outcome of a sign-up request. When the service
// auto-confirms new users it returns a full session; otherwise only the
// pending user record, and the session stays nil until email confirmation.
type SignUpResult struct {
	Session *session.Session
	User    *session.User
}

// SignInWithPassword exchanges email/password credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*session.Session, error) {
	body := map[string]string{"email": email, "password": password}

	var s session.Session
	if err := c.do(ctx, http.MethodPost, "token", url.Values{"grant_type": {"password"}}, body, "", &s); err != nil {
		return nil, err
	}
	s.Normalize(time.Now())
	return &s, nil
}

// SignUp registers a new user. emailRedirectTo is where the confirmation
// email should send the browser; callers route it through the gateway's
// server-side confirm handler.
func (c *Client) SignUp(ctx context.Context, email, password, emailRedirectTo string) (*SignUpResult, error) {
	query := url.Values{}
	if emailRedirectTo != "" {
		query.Set("redirect_to", emailRedirectTo)
	}
	body := map[string]string{"email": email, "password": password}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "signup", query, body, "", &raw); err != nil {
		return nil, err
	}

	// The response is either a session (auto-confirm enabled) or a bare
	// user record awaiting confirmation.
	var s session.Session
	if err := json.Unmarshal(raw, &s); err == nil && s.AccessToken != "" {
		s.Normalize(time.Now())
		return &SignUpResult{Session: &s, User: s.User}, nil
	}

	var u session.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("failed to decode signup response: %w", err)
	}
	return &SignUpResult{User: &u}, nil
}

// RefreshSession redeems a refresh token for a renewed session.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*session.Session, error) {
	body := map[string]string{"refresh_token": refreshToken}

	var s session.Session
	if err := c.do(ctx, http.MethodPost, "token", url.Values{"grant_type": {"refresh_token"}}, body, "", &s); err != nil {
		return nil, err
	}
	s.Normalize(time.Now())
	return &s, nil
}

// ExchangeCode completes the PKCE flow after an OAuth callback, trading the
// authorization code plus the original verifier for a session.
func (c *Client) ExchangeCode(ctx context.Context, authCode, codeVerifier string) (*session.Session, error) {
	body := map[string]string{"auth_code": authCode, "code_verifier": codeVerifier}

	var s session.Session
	if err := c.do(ctx, http.MethodPost, "token", url.Values{"grant_type": {"pkce"}}, body, "", &s); err != nil {
		return nil, err
	}
	s.Normalize(time.Now())
	return &s, nil
}

// VerifyTokenHash redeems an email confirmation token hash for a session.
// verifyType mirrors the provider's verification types ("email", "recovery",
// "invite", ...).
func (c *Client) VerifyTokenHash(ctx context.Context, tokenHash, verifyType string) (*session.Session, error) {
	body := map[string]string{"token_hash": tokenHash, "type": verifyType}

	var s session.Session
	if err := c.do(ctx, http.MethodPost, "verify", nil, body, "", &s); err != nil {
		return nil, err
	}
	s.Normalize(time.Now())
	return &s, nil
}

// GetUser re-validates an access token against the service and returns the
// identity it belongs to. This is the authoritative check: a cached session
// is not trusted for access control until this call succeeds.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*session.User, error) {
	var u session.User
	if err := c.do(ctx, http.MethodGet, "user", nil, nil, accessToken, &u); err != nil {
		return nil, err
	}
	if u.ID == "" {
		return nil, fmt.Errorf("auth service returned an empty user")
	}
	return &u, nil
}

// SignOut revokes the session behind accessToken. Revocation failures are
// not fatal to local logout; callers clear the cookie regardless.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "logout", nil, nil, accessToken, nil)
}

// AuthorizeURL builds the service's external-OAuth authorization URL for the
// named upstream provider (e.g. "github"). The service handles the upstream
// handshake and calls back to redirectTo with a PKCE authorization code.
func (c *Client) AuthorizeURL(providerName, redirectTo, codeChallenge string) (string, error) {
	authorize, err := urlutil.JoinPath(c.baseURL, "auth", "v1", "authorize")
	if err != nil {
		return "", fmt.Errorf("invalid auth service URL: %w", err)
	}

	u, err := url.Parse(authorize)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("provider", providerName)
	q.Set("redirect_to", redirectTo)
	if codeChallenge != "" {
		q.Set("code_challenge", codeChallenge)
		q.Set("code_challenge_method", "s256")
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// do executes one API round-trip. The anon key is always attached; the
// bearer token defaults to the anon key when no user token applies.
func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body any, accessToken string, out any) error {
	target, err := urlutil.JoinPath(c.baseURL, "auth", "v1", endpoint)
	if err != nil {
		return fmt.Errorf("invalid auth service URL: %w", err)
	}
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	bearer := accessToken
	if bearer == "" {
		bearer = c.anonKey
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth service request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read auth service response: %w", err)
	}

	if resp.StatusCode >= 400 {
		perr := parseError(resp.StatusCode, data)
		log.LogDebugWithFields("provider", "Auth service rejected request", map[string]any{
			"endpoint": endpoint,
			"status":   resp.StatusCode,
			"code":     perr.ErrorCode,
		})
		return perr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode auth service response: %w", err)
	}
	return nil
}
