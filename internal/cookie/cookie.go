package cookie

import (
	"net/http"
	"time"

	"github.com/Aecotyle/authgate/internal/envutil"
	"github.com/Aecotyle/authgate/internal/log"
)

// VerifierCookie holds the PKCE code verifier between the redirect to the
// auth service and the OAuth callback.
const VerifierCookie = "ag-code-verifier"

// verifierTTL bounds how long an OAuth round-trip may take.
const verifierTTL = 10 * time.Minute

// SetSession sets the credential cookie. Always scoped to the root path so
// the session stays valid across all routes, and only ever written onto the
// current response.
func SetSession(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	secure := !envutil.IsDev()
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge.Seconds()),
	})

	log.LogTraceWithFields("cookie", "Session cookie set", map[string]any{
		"maxAge":   maxAge.String(),
		"secure":   secure,
		"sameSite": "Lax",
	})
}

// SetVerifier sets the short-lived PKCE verifier cookie.
func SetVerifier(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     VerifierCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   !envutil.IsDev(),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(verifierTTL.Seconds()),
	})
}

// Clear removes a cookie by setting MaxAge to -1
func Clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:   name,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}

// ClearSession removes the credential cookie
func ClearSession(w http.ResponseWriter, name string) {
	Clear(w, name)
	log.LogTraceWithFields("cookie", "Session cookie cleared", nil)
}

// ClearVerifier removes the PKCE verifier cookie
func ClearVerifier(w http.ResponseWriter) {
	Clear(w, VerifierCookie)
}

// Get retrieves a cookie value from the request
func Get(r *http.Request, name string) (string, error) {
	cookie, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

// GetVerifier retrieves the PKCE verifier cookie value
func GetVerifier(r *http.Request) (string, error) {
	return Get(r, VerifierCookie)
}
