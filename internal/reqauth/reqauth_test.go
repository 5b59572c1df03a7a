package reqauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Aecotyle/authgate/internal/crypto"
	"github.com/Aecotyle/authgate/internal/provider"
	"github.com/Aecotyle/authgate/internal/session"
	"github.com/Aecotyle/authgate/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cookieName = "ag-auth-token"

func newTestLoader(t *testing.T, onRenew func(*session.Session)) (*Loader, *testutil.FakeAuthService) {
	t.Helper()

	fake := testutil.NewFakeAuthService()
	t.Cleanup(fake.Close)

	encryptor, err := crypto.NewEncryptor([]byte(strings.Repeat("k", 32)))
	require.NoError(t, err)

	client := provider.NewClient(fake.URL(), "anon-key", 5*time.Second)
	return NewLoader(client, encryptor, cookieName, onRenew), fake
}

func requestWithSession(t *testing.T, l *Loader, s *session.Session) (*Auth, *httptest.ResponseRecorder) {
	t.Helper()

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/private", nil)

	if s != nil {
		seed := httptest.NewRecorder()
		a := l.Bind(seed, r)
		require.NoError(t, a.SetSession(s))
		for _, c := range seed.Result().Cookies() {
			if c.Name == cookieName {
				r.AddCookie(c)
			}
		}
	}

	return l.Bind(w, r), w
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == cookieName {
			return c
		}
	}
	return nil
}

func TestResolveNoCookieSkipsVerification(t *testing.T) {
	loader, fake := newTestLoader(t, nil)
	auth, _ := requestWithSession(t, loader, nil)

	res := auth.Resolve(context.Background())

	assert.False(t, res.Authenticated())
	assert.Nil(t, res.User)
	assert.Nil(t, res.Session)
	assert.Zero(t, fake.UserHits(), "no verification round-trip without a cached claim")
}

func TestResolveValidSession(t *testing.T) {
	loader, fake := newTestLoader(t, nil)
	auth, _ := requestWithSession(t, loader, fake.IssueSession("user@example.com"))

	res := auth.Resolve(context.Background())

	require.True(t, res.Authenticated())
	assert.Equal(t, "user@example.com", res.User.Email)
	assert.NotEmpty(t, res.Session.AccessToken)
	assert.Equal(t, 1, fake.UserHits())
}

func TestResolveTamperedCookieEqualsNoCookie(t *testing.T) {
	loader, fake := newTestLoader(t, nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/private", nil)
	r.AddCookie(&http.Cookie{Name: cookieName, Value: "tampered-garbage"})
	auth := loader.Bind(w, r)

	res := auth.Resolve(context.Background())

	assert.False(t, res.Authenticated())
	assert.Zero(t, fake.UserHits())

	// Bad cookie is cleared on this response
	cleared := sessionCookie(t, w)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)
}

func TestResolveRevokedTokenEqualsNoCookie(t *testing.T) {
	loader, fake := newTestLoader(t, nil)
	s := fake.IssueSession("user@example.com")
	fake.RevokeToken(s.AccessToken)

	auth, w := requestWithSession(t, loader, s)
	res := auth.Resolve(context.Background())

	assert.False(t, res.Authenticated())
	assert.Nil(t, res.User)

	cleared := sessionCookie(t, w)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)
}

func TestResolveRefreshesExpiredSession(t *testing.T) {
	var renewed *session.Session
	loader, fake := newTestLoader(t, func(s *session.Session) { renewed = s })

	expired := fake.IssueExpiredSession("user@example.com")
	auth, w := requestWithSession(t, loader, expired)

	res := auth.Resolve(context.Background())

	require.True(t, res.Authenticated())
	assert.NotEqual(t, expired.AccessToken, res.Session.AccessToken)

	require.NotNil(t, renewed, "renewal must be observable")
	assert.Equal(t, res.Session.AccessToken, renewed.AccessToken)

	// Renewed credential written back, root-scoped
	c := sessionCookie(t, w)
	require.NotNil(t, c)
	assert.Equal(t, "/", c.Path)
	assert.Positive(t, c.MaxAge)
}

func TestResolveExpiredWithoutRefreshToken(t *testing.T) {
	loader, fake := newTestLoader(t, nil)
	expired := fake.IssueExpiredSession("user@example.com")
	expired.RefreshToken = ""

	auth, w := requestWithSession(t, loader, expired)
	res := auth.Resolve(context.Background())

	assert.False(t, res.Authenticated())
	assert.Zero(t, fake.UserHits())

	cleared := sessionCookie(t, w)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)
}

func TestResolveFailedRefreshFailsClosed(t *testing.T) {
	loader, fake := newTestLoader(t, nil)
	expired := fake.IssueExpiredSession("user@example.com")
	expired.RefreshToken = "refresh-unknown"

	auth, _ := requestWithSession(t, loader, expired)
	res := auth.Resolve(context.Background())

	assert.False(t, res.Authenticated())
}

func TestResolveMemoizedPerRequest(t *testing.T) {
	loader, fake := newTestLoader(t, nil)
	auth, _ := requestWithSession(t, loader, fake.IssueSession("user@example.com"))

	first := auth.Resolve(context.Background())
	second := auth.Resolve(context.Background())

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.UserHits(), "repeat resolutions reuse the verified result")
}

func TestSessionDoesNotHitProvider(t *testing.T) {
	loader, fake := newTestLoader(t, nil)
	auth, _ := requestWithSession(t, loader, fake.IssueSession("user@example.com"))

	s := auth.Session()
	require.NotNil(t, s)
	assert.Zero(t, fake.UserHits(), "reading the cached claim must be local")
}

func TestSetSessionRootScoped(t *testing.T) {
	loader, fake := newTestLoader(t, nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/auth", nil)
	auth := loader.Bind(w, r)

	require.NoError(t, auth.SetSession(fake.IssueSession("user@example.com")))

	c := sessionCookie(t, w)
	require.NotNil(t, c)
	assert.Equal(t, "/", c.Path)
	assert.True(t, c.HttpOnly)
	assert.NotContains(t, c.Value, "access-", "tokens must not be visible in the cookie")
}

func TestContextRoundTrip(t *testing.T) {
	loader, _ := newTestLoader(t, nil)
	auth := loader.Bind(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	ctx := WithAuth(context.Background(), auth)
	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, auth, got)

	_, ok = FromContext(context.Background())
	assert.False(t, ok)
}
