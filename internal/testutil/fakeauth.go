// Package testutil provides test doubles shared across package tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/Aecotyle/authgate/internal/session"
)

// FakeAuthService is an in-memory stand-in for the external auth API. It
// implements just enough of the token, user, signup, verify and logout
// endpoints for gateway tests, and counts verification round-trips so tests
// can assert when the network was (not) hit.
type FakeAuthService struct {
	Server *httptest.Server

	mu           sync.Mutex
	userHits     int
	tokenHits    int
	autoConfirm  bool
	nextID       int
	passwords    map[string]string           // email -> password
	accessTokens map[string]*session.User    // access token -> user
	refreshables map[string]string           // refresh token -> email
	authCodes    map[string]string           // auth code -> expected verifier
	codeUsers    map[string]string           // auth code -> email
	tokenHashes  map[string]string           // token hash -> email

	signupRedirect string // redirect_to of the most recent signup
}

// NewFakeAuthService starts the fake. Callers own Close.
func NewFakeAuthService() *FakeAuthService {
	f := &FakeAuthService{
		passwords:    make(map[string]string),
		accessTokens: make(map[string]*session.User),
		refreshables: make(map[string]string),
		authCodes:    make(map[string]string),
		codeUsers:    make(map[string]string),
		tokenHashes:  make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", f.handleToken)
	mux.HandleFunc("GET /auth/v1/user", f.handleUser)
	mux.HandleFunc("POST /auth/v1/signup", f.handleSignup)
	mux.HandleFunc("POST /auth/v1/verify", f.handleVerify)
	mux.HandleFunc("POST /auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	f.Server = httptest.NewServer(mux)
	return f
}

// URL returns the fake service's base URL.
func (f *FakeAuthService) URL() string { return f.Server.URL }

// Close shuts the fake down.
func (f *FakeAuthService) Close() { f.Server.Close() }

// SetAutoConfirm makes signups return a full session instead of a pending user.
func (f *FakeAuthService) SetAutoConfirm(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autoConfirm = v
}

// AddUser registers a password credential.
func (f *FakeAuthService) AddUser(email, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passwords[email] = password
}

// AddAuthCode registers a PKCE authorization code for email, redeemable only
// with the matching verifier.
func (f *FakeAuthService) AddAuthCode(code, verifier, email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCodes[code] = verifier
	f.codeUsers[code] = email
}

// SignupRedirect returns the redirect_to of the most recent signup request.
func (f *FakeAuthService) SignupRedirect() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signupRedirect
}

// AddTokenHash registers an email confirmation token hash.
func (f *FakeAuthService) AddTokenHash(hash, email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenHashes[hash] = email
}

// IssueSession mints a valid session for email, as if the user had signed in.
func (f *FakeAuthService) IssueSession(email string) *session.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issueSessionLocked(email, time.Hour)
}

// IssueExpiredSession mints a session whose expiry is already in the past.
// Its access token is NOT registered as valid: verification fails for it,
// exactly like a revoked token.
func (f *FakeAuthService) IssueExpiredSession(email string) *session.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.issueSessionLocked(email, -time.Hour)
	delete(f.accessTokens, s.AccessToken)
	return s
}

// RevokeToken invalidates an access token.
func (f *FakeAuthService) RevokeToken(accessToken string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.accessTokens, accessToken)
}

// UserHits reports verification calls observed on GET /auth/v1/user.
func (f *FakeAuthService) UserHits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userHits
}

// TokenHits reports calls observed on the token endpoint.
func (f *FakeAuthService) TokenHits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenHits
}

func (f *FakeAuthService) issueSessionLocked(email string, ttl time.Duration) *session.Session {
	f.nextID++
	user := &session.User{
		ID:    fmt.Sprintf("user-%d", f.nextID),
		Email: email,
		Role:  "authenticated",
	}
	s := &session.Session{
		AccessToken:  fmt.Sprintf("access-%d", f.nextID),
		RefreshToken: fmt.Sprintf("refresh-%d", f.nextID),
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(ttl).Unix(),
		User:         user,
	}
	f.accessTokens[s.AccessToken] = user
	f.refreshables[s.RefreshToken] = email
	return s
}

func (f *FakeAuthService) handleToken(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenHits++

	var body struct {
		Email        string `json:"email"`
		Password     string `json:"password"`
		RefreshToken string `json:"refresh_token"`
		AuthCode     string `json:"auth_code"`
		CodeVerifier string `json:"code_verifier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAuthError(w, http.StatusBadRequest, "bad_json", "could not decode body")
		return
	}

	switch r.URL.Query().Get("grant_type") {
	case "password":
		if f.passwords[body.Email] == "" || f.passwords[body.Email] != body.Password {
			writeAuthError(w, http.StatusBadRequest, "invalid_credentials", "Invalid login credentials")
			return
		}
		writeJSON(w, f.issueSessionLocked(body.Email, time.Hour))

	case "refresh_token":
		email, ok := f.refreshables[body.RefreshToken]
		if !ok {
			writeAuthError(w, http.StatusBadRequest, "refresh_token_not_found", "Invalid Refresh Token")
			return
		}
		delete(f.refreshables, body.RefreshToken)
		writeJSON(w, f.issueSessionLocked(email, time.Hour))

	case "pkce":
		verifier, ok := f.authCodes[body.AuthCode]
		if !ok || verifier != body.CodeVerifier {
			writeAuthError(w, http.StatusBadRequest, "bad_code_verifier", "invalid flow state")
			return
		}
		email := f.codeUsers[body.AuthCode]
		delete(f.authCodes, body.AuthCode)
		writeJSON(w, f.issueSessionLocked(email, time.Hour))

	default:
		writeAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "unsupported grant type")
	}
}

func (f *FakeAuthService) handleUser(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userHits++

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	user, ok := f.accessTokens[token]
	if !ok {
		writeAuthError(w, http.StatusUnauthorized, "bad_jwt", "invalid JWT")
		return
	}
	writeJSON(w, user)
}

func (f *FakeAuthService) handleSignup(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.signupRedirect = r.URL.Query().Get("redirect_to")

	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" {
		writeAuthError(w, http.StatusBadRequest, "validation_failed", "email is required")
		return
	}

	f.passwords[body.Email] = body.Password

	if f.autoConfirm {
		writeJSON(w, f.issueSessionLocked(body.Email, time.Hour))
		return
	}

	f.nextID++
	writeJSON(w, &session.User{
		ID:    fmt.Sprintf("user-%d", f.nextID),
		Email: body.Email,
	})
}

func (f *FakeAuthService) handleVerify(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var body struct {
		TokenHash string `json:"token_hash"`
		Type      string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAuthError(w, http.StatusBadRequest, "bad_json", "could not decode body")
		return
	}

	email, ok := f.tokenHashes[body.TokenHash]
	if !ok || body.Type == "" {
		writeAuthError(w, http.StatusForbidden, "otp_expired", "Email link is invalid or has expired")
		return
	}
	delete(f.tokenHashes, body.TokenHash)
	writeJSON(w, f.issueSessionLocked(email, time.Hour))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeAuthError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":       status,
		"error_code": code,
		"msg":        msg,
	})
}
