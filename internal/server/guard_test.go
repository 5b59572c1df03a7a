package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func defaultRules() GuardRules {
	return GuardRules{
		ProtectedPrefix: "/private",
		LoginPath:       "/auth",
		HomePath:        "/private",
	}
}

func TestEvaluateGuard(t *testing.T) {
	tests := []struct {
		name          string
		path          string
		authenticated bool
		wantAllow     bool
		wantRedirect  string
	}{
		{
			name:          "anonymous visitor on protected page redirects to login",
			path:          "/private/orders",
			authenticated: false,
			wantRedirect:  "/auth",
		},
		{
			name:          "anonymous visitor on protected root redirects to login",
			path:          "/private",
			authenticated: false,
			wantRedirect:  "/auth",
		},
		{
			name:          "authenticated visitor on login page redirects home",
			path:          "/auth",
			authenticated: true,
			wantRedirect:  "/private",
		},
		{
			name:          "authenticated visitor on protected page passes",
			path:          "/private/orders",
			authenticated: true,
			wantAllow:     true,
		},
		{
			name:          "anonymous visitor on public page passes",
			path:          "/about",
			authenticated: false,
			wantAllow:     true,
		},
		{
			name:          "authenticated visitor on public page passes",
			path:          "/about",
			authenticated: true,
			wantAllow:     true,
		},
		{
			name:          "prefix match requires a path boundary",
			path:          "/privateer",
			authenticated: false,
			wantAllow:     true,
		},
		{
			name:          "anonymous visitor on login page passes",
			path:          "/auth",
			authenticated: false,
			wantAllow:     true,
		},
		{
			name:          "login subpaths stay reachable while signed in",
			path:          "/auth/callback",
			authenticated: true,
			wantAllow:     true,
		},
	}

	rules := defaultRules()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateGuard(rules, tt.path, tt.authenticated)
			assert.Equal(t, tt.wantAllow, got.Allow)
			assert.Equal(t, tt.wantRedirect, got.Redirect)
		})
	}
}

func TestEvaluateGuardDeterministic(t *testing.T) {
	rules := defaultRules()
	first := EvaluateGuard(rules, "/private/reports", false)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, EvaluateGuard(rules, "/private/reports", false))
	}
}

func TestPathUnder(t *testing.T) {
	assert.True(t, pathUnder("/private", "/private"))
	assert.True(t, pathUnder("/private/a/b", "/private"))
	assert.False(t, pathUnder("/privateer", "/private"))
	assert.False(t, pathUnder("/", "/private"))
	assert.False(t, pathUnder("/priv", "/private"))
}
