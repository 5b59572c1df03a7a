// Package reqauth binds provider credentials to a single request/response
// pair and resolves trusted sessions fail-closed.
package reqauth

import (
	"context"
	"net/http"
	"time"

	"github.com/Aecotyle/authgate/internal/cookie"
	"github.com/Aecotyle/authgate/internal/crypto"
	"github.com/Aecotyle/authgate/internal/log"
	"github.com/Aecotyle/authgate/internal/provider"
	"github.com/Aecotyle/authgate/internal/session"
	"golang.org/x/sync/singleflight"
)

// sessionCookieMaxAge is how long the credential cookie is kept by the
// browser. Token lifetime is enforced by the provider, not the cookie.
const sessionCookieMaxAge = 30 * 24 * time.Hour

// refreshMargin renews sessions slightly before the access token lapses so
// verification doesn't race the expiry.
const refreshMargin = 30 * time.Second

// Loader builds request-scoped Auth values. Constructed once at startup.
type Loader struct {
	provider   *provider.Client
	encryptor  crypto.Encryptor
	cookieName string
	onRenew    func(*session.Session)
	verify     singleflight.Group
	now        func() time.Time
}

// NewLoader creates a Loader. onRenew, if non-nil, is invoked whenever a
// session is transparently refreshed during resolution, so interested
// parties (the session-change broker) can observe the new expiry.
func NewLoader(client *provider.Client, encryptor crypto.Encryptor, cookieName string, onRenew func(*session.Session)) *Loader {
	return &Loader{
		provider:   client,
		encryptor:  encryptor,
		cookieName: cookieName,
		onRenew:    onRenew,
		now:        time.Now,
	}
}

// Auth is the per-request credential bag. It lives for the duration of one
// request and is discarded after; it never mutates cookies outside its own
// request/response pair.
type Auth struct {
	loader *Loader
	w      http.ResponseWriter
	r      *http.Request

	loaded bool
	cached *session.Session

	// resolved memoizes Resolve for the request; reset by cookie writes.
	resolved *Resolution
}

// Resolution is the outcome of trusted session resolution. Either both
// fields are set (authenticated) or both are nil; no partial-trust state
// is ever exposed.
type Resolution struct {
	User    *session.User
	Session *session.Session
}

// Authenticated reports whether this resolution may gate access control.
func (r Resolution) Authenticated() bool {
	return r.User != nil && r.Session != nil
}

var unauthenticated = Resolution{}

// Bind attaches a fresh Auth to the given request/response pair.
func (l *Loader) Bind(w http.ResponseWriter, r *http.Request) *Auth {
	return &Auth{loader: l, w: w, r: r}
}

// Session returns the cached session claim from the credential cookie, or
// nil when the cookie is absent, tampered or undecodable. The returned
// session has NOT been checked against the provider; treat it as a hint,
// not as proof of identity.
func (a *Auth) Session() *session.Session {
	if a.loaded {
		return a.cached
	}
	a.loaded = true

	value, err := cookie.Get(a.r, a.loader.cookieName)
	if err != nil {
		return nil
	}

	plaintext, err := a.loader.encryptor.Decrypt(value)
	if err != nil {
		log.LogDebug("Discarding undecryptable session cookie: %v", err)
		a.ClearSession()
		return nil
	}

	s, err := session.Decode(plaintext)
	if err != nil {
		log.LogDebug("Discarding malformed session cookie: %v", err)
		a.ClearSession()
		return nil
	}

	a.cached = s
	return s
}

// SetSession writes the session onto the current response as an encrypted
// cookie scoped to the root path.
func (a *Auth) SetSession(s *session.Session) error {
	plaintext, err := s.Encode()
	if err != nil {
		return err
	}
	encrypted, err := a.loader.encryptor.Encrypt(plaintext)
	if err != nil {
		return err
	}

	cookie.SetSession(a.w, a.loader.cookieName, encrypted, sessionCookieMaxAge)
	a.loaded = true
	a.cached = s
	a.resolved = nil
	return nil
}

// ClearSession expires the credential cookie on the current response.
func (a *Auth) ClearSession() {
	cookie.ClearSession(a.w, a.loader.cookieName)
	a.loaded = true
	a.cached = nil
	a.resolved = nil
}

// Resolve turns the cached claim into a trusted resolution. Policy:
//
//  1. No cached session: unauthenticated, without any provider round-trip.
//  2. Session about to lapse with a refresh token: renew it first; the
//     renewed credential is written back onto this response.
//  3. Re-validate the access token against the provider. Any failure,
//     whatever its cause, yields the same unauthenticated outcome as an
//     absent cookie.
//
// The result is memoized for the lifetime of the request; cookie writes
// reset the memo.
func (a *Auth) Resolve(ctx context.Context) Resolution {
	if a.resolved != nil {
		return *a.resolved
	}
	res := a.resolve(ctx)
	a.resolved = &res
	return res
}

func (a *Auth) resolve(ctx context.Context) Resolution {
	s := a.Session()
	if s == nil {
		return unauthenticated
	}

	now := a.loader.now()
	if s.ExpiresWithin(now, refreshMargin) {
		renewed := a.refresh(ctx, s)
		if renewed == nil {
			return unauthenticated
		}
		s = renewed
	}

	user, err := a.loader.verifyToken(ctx, s.AccessToken)
	if err != nil {
		if provider.IsAuthError(err) {
			log.LogDebugWithFields("reqauth", "Session rejected by provider", map[string]any{
				"subject": s.Subject(),
			})
			a.ClearSession()
		} else {
			log.LogWarnWithFields("reqauth", "Session verification unavailable, failing closed", map[string]any{
				"error": err.Error(),
			})
		}
		return unauthenticated
	}

	return Resolution{User: user, Session: s}
}

func (a *Auth) refresh(ctx context.Context, s *session.Session) *session.Session {
	if s.RefreshToken == "" {
		a.ClearSession()
		return nil
	}

	renewed, err := a.loader.provider.RefreshSession(ctx, s.RefreshToken)
	if err != nil {
		if provider.IsAuthError(err) {
			log.LogDebugWithFields("reqauth", "Refresh token rejected by provider", map[string]any{
				"subject": s.Subject(),
			})
			a.ClearSession()
		} else {
			log.LogWarnWithFields("reqauth", "Session refresh unavailable, failing closed", map[string]any{
				"error": err.Error(),
			})
		}
		return nil
	}

	if err := a.SetSession(renewed); err != nil {
		log.LogError("Failed to write renewed session cookie: %v", err)
		return nil
	}

	if a.loader.onRenew != nil {
		a.loader.onRenew(renewed)
	}
	return renewed
}

// verifyToken deduplicates concurrent verification calls for the same token.
func (l *Loader) verifyToken(ctx context.Context, accessToken string) (*session.User, error) {
	v, err, _ := l.verify.Do(accessToken, func() (any, error) {
		return l.provider.GetUser(ctx, accessToken)
	})
	if err != nil {
		return nil, err
	}
	return v.(*session.User), nil
}

type contextKey string

const authKey contextKey = "reqauth.auth"

// WithAuth adds the request-scoped Auth to the context
func WithAuth(ctx context.Context, a *Auth) context.Context {
	return context.WithValue(ctx, authKey, a)
}

// FromContext retrieves the request-scoped Auth from context
func FromContext(ctx context.Context) (*Auth, bool) {
	a, ok := ctx.Value(authKey).(*Auth)
	return a, ok
}
