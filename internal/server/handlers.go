package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Aecotyle/authgate/internal/authwatch"
	"github.com/Aecotyle/authgate/internal/config"
	"github.com/Aecotyle/authgate/internal/cookie"
	"github.com/Aecotyle/authgate/internal/crypto"
	jsonwriter "github.com/Aecotyle/authgate/internal/json"
	"github.com/Aecotyle/authgate/internal/log"
	"github.com/Aecotyle/authgate/internal/provider"
	"github.com/Aecotyle/authgate/internal/reqauth"
	"github.com/Aecotyle/authgate/internal/session"
	"github.com/Aecotyle/authgate/internal/sse"
	"github.com/Aecotyle/authgate/internal/urlutil"
	"golang.org/x/oauth2"
)

// oauthProviders are the third-party identity providers offered on the
// login page.
var oauthProviders = []string{"github", "google"}

var errNoCredentialLoader = errors.New("no credential loader bound to request")

// AuthHandlers provides the browser-facing auth flow handlers
type AuthHandlers struct {
	client      *provider.Client
	cfg         config.Config
	broker      *authwatch.Broker
	encryptor   crypto.Encryptor
	stateSigner crypto.TokenSigner
}

// NewAuthHandlers creates new auth handlers with dependency injection
func NewAuthHandlers(client *provider.Client, cfg config.Config, broker *authwatch.Broker, encryptor crypto.Encryptor) *AuthHandlers {
	return &AuthHandlers{
		client:      client,
		cfg:         cfg,
		broker:      broker,
		encryptor:   encryptor,
		stateSigner: crypto.NewTokenSigner([]byte(cfg.EncryptionKey), 10*time.Minute),
	}
}

// oauthState carries flow context through the OAuth redirect round-trip,
// signed so the callback can trust it. The nonce makes every issued state
// unique.
type oauthState struct {
	Provider string `json:"provider"`
	Next     string `json:"next,omitempty"`
	Nonce    string `json:"nonce"`
}

// sanitizeNext keeps redirect targets local to this gateway. Anything that
// is not a same-site absolute path falls back to the given default.
func sanitizeNext(next, fallback string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		return fallback
	}
	return next
}

// establishSession writes the session cookie and announces the change.
func (h *AuthHandlers) establishSession(r *http.Request, s *session.Session, event string) error {
	auth, ok := reqauth.FromContext(r.Context())
	if !ok {
		return errNoCredentialLoader
	}
	if err := auth.SetSession(s); err != nil {
		return err
	}
	h.broker.Publish(authwatch.Notification{Event: event, Expiry: s.Expiry()})
	return nil
}

// HomeHandler serves the public landing page
func (h *AuthHandlers) HomeHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := HomePageData{
		LoginPath:    h.cfg.LoginPath,
		PrivatePath:  h.cfg.ProtectedPrefix,
		LogoutAction: LogoutActionPath,
	}
	if auth, ok := reqauth.FromContext(r.Context()); ok {
		if res := auth.Resolve(r.Context()); res.Authenticated() {
			data.Authenticated = true
			data.Email = res.User.Email
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := homePageTemplate.Execute(w, data); err != nil {
		log.LogError("Failed to render home page: %v", err)
	}
}

// LoginPageHandler serves the login and signup form
func (h *AuthHandlers) LoginPageHandler(w http.ResponseWriter, r *http.Request) {
	data := LoginPageData{
		Providers:      oauthProviders,
		LoginAction:    LoginActionPath,
		SignupAction:   SignupActionPath,
		ProviderAction: ProviderActionPath,
	}
	switch r.URL.Query().Get("message") {
	case "check_email":
		data.Message = "Check your email for a confirmation link."
		data.MessageType = "success"
	case "signed_out":
		data.Message = "You have been signed out."
		data.MessageType = "success"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := loginPageTemplate.Execute(w, data); err != nil {
		log.LogError("Failed to render login page: %v", err)
	}
}

// LoginHandler handles password sign-in form submissions
func (h *AuthHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, h.cfg.ErrorPath, http.StatusSeeOther)
		return
	}
	email := r.PostFormValue("email")
	password := r.PostFormValue("password")

	sess, err := h.client.SignInWithPassword(r.Context(), email, password)
	if err != nil {
		log.LogWarnWithFields("auth", "password sign-in failed", map[string]any{
			"error": err.Error(),
		})
		http.Redirect(w, r, h.cfg.ErrorPath, http.StatusSeeOther)
		return
	}

	if err := h.establishSession(r, sess, authwatch.EventSignedIn); err != nil {
		log.LogError("Failed to persist session: %v", err)
		http.Redirect(w, r, h.cfg.ErrorPath, http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, h.cfg.ProtectedPrefix, http.StatusSeeOther)
}

// SignupHandler handles signup form submissions. The confirmation email
// links back to this gateway's confirm endpoint rather than straight to the
// auth service, so the token exchange happens server side.
func (h *AuthHandlers) SignupHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, h.cfg.ErrorPath, http.StatusSeeOther)
		return
	}
	email := r.PostFormValue("email")
	password := r.PostFormValue("password")

	// An optional next rides along in the confirmation link so the user
	// lands where they started after following the email.
	next := sanitizeNext(r.PostFormValue("next"), "")
	confirmURL, err := urlutil.ConfirmLink(h.cfg.BaseURL, next)
	if err != nil {
		log.LogError("Failed to build confirmation link: %v", err)
		http.Redirect(w, r, h.cfg.ErrorPath, http.StatusSeeOther)
		return
	}

	result, err := h.client.SignUp(r.Context(), email, password, confirmURL)
	if err != nil {
		log.LogWarnWithFields("auth", "signup failed", map[string]any{
			"error": err.Error(),
		})
		http.Redirect(w, r, h.cfg.ErrorPath, http.StatusSeeOther)
		return
	}

	// Auto-confirm setups hand back a session immediately; otherwise the
	// user has to follow the emailed confirmation link first.
	if result.Session != nil {
		if err := h.establishSession(r, result.Session, authwatch.EventSignedIn); err != nil {
			log.LogError("Failed to persist session: %v", err)
			http.Redirect(w, r, h.cfg.ErrorPath, http.StatusSeeOther)
			return
		}
		http.Redirect(w, r, h.cfg.ProtectedPrefix, http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, h.cfg.LoginPath+"?message=check_email", http.StatusSeeOther)
}

// SignInProviderHandler starts a PKCE OAuth flow with a third-party identity
// provider. The code verifier rides in an encrypted short-lived cookie until
// the callback.
func (h *AuthHandlers) SignInProviderHandler(w http.ResponseWriter, r *http.Request) {
	providerName := r.PathValue("provider")
	if providerName == "" {
		http.Redirect(w, r, h.cfg.ErrorPath, http.StatusSeeOther)
		return
	}

	verifier := oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)

	sealed, err := h.encryptor.Encrypt(verifier)
	if err != nil {
		log.LogError("Failed to encrypt code verifier: %v", err)
		http.Redirect(w, r, h.cfg.ErrorPath, http.StatusSeeOther)
		return
	}
	cookie.SetVerifier(w, sealed)

	nonce, err := crypto.GenerateSecureToken()
	if err != nil {
		log.LogError("Failed to generate state nonce: %v", err)
		http.Redirect(w, r, h.cfg.ErrorPath, http.StatusSeeOther)
		return
	}
	state, err := h.stateSigner.Sign(oauthState{
		Provider: providerName,
		Next:     sanitizeNext(r.URL.Query().Get("next"), ""),
		Nonce:    nonce,
	})
	if err != nil {
		log.LogError("Failed to sign OAuth state: %v", err)
		http.Redirect(w, r, h.cfg.ErrorPath, http.StatusSeeOther)
		return
	}

	callback := urlutil.MustJoinPath(h.cfg.BaseURL, CallbackPath)
	callback += "?state=" + url.QueryEscape(state)

	authorizeURL, err := h.client.AuthorizeURL(providerName, callback, challenge)
	if err != nil {
		log.LogError("Failed to build authorize URL: %v", err)
		http.Redirect(w, r, h.cfg.ErrorPath, http.StatusSeeOther)
		return
	}

	log.LogDebugWithFields("auth", "redirecting to identity provider", map[string]any{
		"provider": providerName,
	})
	http.Redirect(w, r, authorizeURL, http.StatusSeeOther)
}

// CallbackHandler completes the PKCE OAuth flow by exchanging the auth code
// plus the cookie-borne verifier for a session.
func (h *AuthHandlers) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	// Providers report user denials and config problems as error params.
	// All of them end the flow the same way.
	if query.Get("error") != "" {
		log.LogWarnWithFields("auth", "oauth callback returned an error", map[string]any{
			"error":             query.Get("error"),
			"error_description": query.Get("error_description"),
		})
		cookie.ClearVerifier(w)
		http.Redirect(w, r, h.cfg.ErrorPath, http.StatusSeeOther)
		return
	}

	code := query.Get("code")
	if code == "" {
		http.Redirect(w, r, h.cfg.ErrorPath, http.StatusSeeOther)
		return
	}

	sealed, err := cookie.GetVerifier(r)
	if err != nil {
		log.LogWarn("OAuth callback without a verifier cookie")
		http.Redirect(w, r, h.cfg.ErrorPath, http.StatusSeeOther)
		return
	}
	verifier, err := h.encryptor.Decrypt(sealed)
	if err != nil {
		log.LogWarn("Failed to decrypt code verifier: %v", err)
		cookie.ClearVerifier(w)
		http.Redirect(w, r, h.cfg.ErrorPath, http.StatusSeeOther)
		return
	}
	cookie.ClearVerifier(w)

	sess, err := h.client.ExchangeCode(r.Context(), code, verifier)
	if err != nil {
		log.LogWarnWithFields("auth", "code exchange failed", map[string]any{
			"error": err.Error(),
		})
		http.Redirect(w, r, h.cfg.ErrorPath, http.StatusSeeOther)
		return
	}

	if err := h.establishSession(r, sess, authwatch.EventSignedIn); err != nil {
		log.LogError("Failed to persist session: %v", err)
		http.Redirect(w, r, h.cfg.ErrorPath, http.StatusSeeOther)
		return
	}

	// The signed state decides where the user lands. A missing or
	// tampered state only costs the custom destination.
	next := h.cfg.ProtectedPrefix
	if raw := query.Get("state"); raw != "" {
		var state oauthState
		if err := h.stateSigner.Verify(raw, &state); err != nil {
			log.LogWarn("Invalid OAuth state, using default destination: %v", err)
		} else if state.Next != "" {
			next = sanitizeNext(state.Next, h.cfg.ProtectedPrefix)
		}
	}
	http.Redirect(w, r, next, http.StatusSeeOther)
}

// ConfirmHandler verifies email confirmation links. The signup email points
// here so the one-time token hash is exchanged server side and never leaks
// into browser history beyond this request.
func (h *AuthHandlers) ConfirmHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	tokenHash := query.Get("token_hash")
	verifyType := query.Get("type")
	next := sanitizeNext(query.Get("next"), h.cfg.ProtectedPrefix)

	if tokenHash == "" || verifyType == "" {
		http.Redirect(w, r, h.cfg.ErrorPath, http.StatusSeeOther)
		return
	}

	sess, err := h.client.VerifyTokenHash(r.Context(), tokenHash, verifyType)
	if err != nil {
		log.LogWarnWithFields("auth", "token hash verification failed", map[string]any{
			"type":  verifyType,
			"error": err.Error(),
		})
		http.Redirect(w, r, h.cfg.ErrorPath, http.StatusSeeOther)
		return
	}

	if err := h.establishSession(r, sess, authwatch.EventSignedIn); err != nil {
		log.LogError("Failed to persist session: %v", err)
		http.Redirect(w, r, h.cfg.ErrorPath, http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, next, http.StatusSeeOther)
}

// LogoutHandler revokes the session upstream on a best-effort basis, always
// clears the local cookie, and announces the sign-out.
func (h *AuthHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	auth, ok := reqauth.FromContext(r.Context())
	if ok {
		if sess := auth.Session(); sess != nil {
			if err := h.client.SignOut(r.Context(), sess.AccessToken); err != nil {
				log.LogDebugWithFields("auth", "upstream sign-out failed", map[string]any{
					"error": err.Error(),
				})
			}
		}
		auth.ClearSession()
	} else {
		cookie.ClearSession(w, h.cfg.SessionCookie)
	}

	h.broker.Publish(authwatch.Notification{Event: authwatch.EventSignedOut})
	http.Redirect(w, r, h.cfg.LoginPath+"?message=signed_out", http.StatusSeeOther)
}

// ErrorPageHandler serves the auth error page
func (h *AuthHandlers) ErrorPageHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := errorPageTemplate.Execute(w, ErrorPageData{LoginPath: h.cfg.LoginPath}); err != nil {
		log.LogError("Failed to render error page: %v", err)
	}
}

// PrivateHandler serves the protected page. The route guard already turned
// away anonymous visitors; the handler re-checks so it stays safe even if
// mounted without the guard.
func (h *AuthHandlers) PrivateHandler(w http.ResponseWriter, r *http.Request) {
	auth, ok := reqauth.FromContext(r.Context())
	if !ok {
		http.Redirect(w, r, h.cfg.LoginPath, http.StatusSeeOther)
		return
	}
	res := auth.Resolve(r.Context())
	if !res.Authenticated() {
		http.Redirect(w, r, h.cfg.LoginPath, http.StatusSeeOther)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := PrivatePageData{Email: res.User.Email, LogoutAction: LogoutActionPath}
	if err := privatePageTemplate.Execute(w, data); err != nil {
		log.LogError("Failed to render private page: %v", err)
	}
}

// SessionStatus is the JSON shape returned by the session endpoint.
type SessionStatus struct {
	Authenticated bool   `json:"authenticated"`
	Email         string `json:"email,omitempty"`
	ExpiresAt     int64  `json:"expires_at,omitempty"`
}

// SessionHandler reports the verified session state as JSON, for client
// scripts that need to know who is signed in without parsing HTML.
func (h *AuthHandlers) SessionHandler(w http.ResponseWriter, r *http.Request) {
	auth, ok := reqauth.FromContext(r.Context())
	if !ok {
		jsonwriter.WriteInternalServerError(w, "Internal server error")
		return
	}

	res := auth.Resolve(r.Context())
	status := SessionStatus{Authenticated: res.Authenticated()}
	if res.Authenticated() {
		status.Email = res.User.Email
		if exp := res.Session.Expiry(); !exp.IsZero() {
			status.ExpiresAt = exp.Unix()
		}
	}

	if err := jsonwriter.Write(w, status); err != nil {
		log.LogError("Failed to encode session status: %v", err)
	}
}

// InvalidationEvent is the SSE payload telling the browser to reload
// auth-dependent data.
type InvalidationEvent struct {
	Dependency string    `json:"dependency"`
	Event      string    `json:"event"`
	Expiry     time.Time `json:"expiry,omitzero"`
}

// EventsHandler streams cache invalidations over SSE so browser tabs can
// react to sign-ins and sign-outs without polling. Each connection gets its
// own watcher, so notifications that do not change the session expiry never
// reach the browser.
func (h *AuthHandlers) EventsHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	invalidations := make(chan InvalidationEvent, 8)
	watcher := authwatch.NewWatcher(h.broker, authwatch.DefaultDependency, func(dep string, n authwatch.Notification) {
		select {
		case invalidations <- InvalidationEvent{Dependency: dep, Event: n.Event, Expiry: n.Expiry}:
		default:
			// Slow consumer; the next change will catch it up.
		}
	})
	defer watcher.Close()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-watcher.Done():
			return
		case ev := <-invalidations:
			if err := sse.WriteMessage(w, flusher, ev); err != nil {
				log.LogDebug("SSE write failed, dropping subscriber: %v", err)
				return
			}
		case <-keepalive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
