package server

import (
	"net/http"
	"strings"

	"github.com/Aecotyle/authgate/internal/log"
	"github.com/Aecotyle/authgate/internal/reqauth"
)

// GuardDecision is the outcome of evaluating a request path against the
// guard rules.
type GuardDecision struct {
	Allow    bool
	Redirect string
}

// GuardRules describes the path layout the guard enforces.
type GuardRules struct {
	// ProtectedPrefix is the subtree that requires a verified session.
	ProtectedPrefix string
	// LoginPath is the page unauthenticated visitors are sent to, and the
	// page authenticated visitors are sent away from.
	LoginPath string
	// HomePath is where authenticated visitors land when they hit the
	// login path.
	HomePath string
}

// pathUnder reports whether path is prefix itself or a descendant of it.
// "/privateer" is not under "/private".
func pathUnder(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}

// EvaluateGuard applies the guard decision table to a single request path.
// It is pure so the same inputs always produce the same decision.
func EvaluateGuard(rules GuardRules, path string, authenticated bool) GuardDecision {
	if !authenticated && pathUnder(path, rules.ProtectedPrefix) {
		return GuardDecision{Redirect: rules.LoginPath}
	}
	// Exact match only: callback, confirm and logout handlers live under
	// the login path and must stay reachable while signed in.
	if authenticated && path == rules.LoginPath {
		return GuardDecision{Redirect: rules.HomePath}
	}
	return GuardDecision{Allow: true}
}

// NewGuardMiddleware resolves the trusted session state once per request and
// redirects according to the guard rules. Resolution failures count as
// unauthenticated.
func NewGuardMiddleware(rules GuardRules) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth, ok := reqauth.FromContext(r.Context())
			if !ok {
				log.LogWarnWithFields("guard", "no credential loader bound, failing closed", map[string]any{
					"path": r.URL.Path,
				})
				http.Redirect(w, r, rules.LoginPath, http.StatusSeeOther)
				return
			}

			res := auth.Resolve(r.Context())
			decision := EvaluateGuard(rules, r.URL.Path, res.Authenticated())
			if !decision.Allow {
				http.Redirect(w, r, decision.Redirect, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
