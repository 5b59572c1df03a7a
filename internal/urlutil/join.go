package urlutil

import (
	"net/url"
	"path"
	"strings"
)

// JoinPath safely joins URL paths, handling trailing and leading slashes correctly
func JoinPath(base string, paths ...string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	allPaths := append([]string{u.Path}, paths...)
	u.Path = path.Join(allPaths...)

	// Preserve trailing slash if the last path component had one
	if len(paths) > 0 && strings.HasSuffix(paths[len(paths)-1], "/") {
		u.Path += "/"
	}

	return u.String(), nil
}

// MustJoinPath is like JoinPath but panics on error (for use with known-good URLs)
func MustJoinPath(base string, paths ...string) string {
	result, err := JoinPath(base, paths...)
	if err != nil {
		panic(err)
	}
	return result
}

// ConfirmLink builds the gateway's email confirmation endpoint URL, handed
// to the auth service as the signup redirect target. The provider's default
// confirmation links land on its own client-side redirect; mail templates
// are pointed here instead, appending token_hash and type, so the token is
// exchanged on the server before the browser ever renders a page. An
// optional next carries the post-confirmation destination.
func ConfirmLink(baseURL, next string) (string, error) {
	confirmURL, err := JoinPath(baseURL, "auth", "confirm")
	if err != nil {
		return "", err
	}

	u, err := url.Parse(confirmURL)
	if err != nil {
		return "", err
	}

	if next != "" {
		q := u.Query()
		q.Set("next", next)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}
