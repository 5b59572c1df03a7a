package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error is an error response from the auth service.
type Error struct {
	Status    int    `json:"-"`
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"msg,omitempty"`

	// Some endpoints use OAuth-style error fields instead of msg.
	OAuthError       string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.ErrorDescription
	}
	if msg == "" {
		msg = e.OAuthError
	}
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.ErrorCode != "" {
		return fmt.Sprintf("auth service error (status %d, code %s): %s", e.Status, e.ErrorCode, msg)
	}
	return fmt.Sprintf("auth service error (status %d): %s", e.Status, msg)
}

// IsAuthError reports whether err is a provider rejection (4xx), as opposed
// to a transport failure or a provider-side fault. Both resolve to
// "unauthenticated", but a rejection is definitive: credential cookies are
// cleared only for rejections, never for transient faults.
func IsAuthError(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Status >= 400 && perr.Status < 500
	}
	return false
}

func parseError(status int, body []byte) *Error {
	perr := &Error{Status: status}
	// Body may not be JSON at all; the status alone is still meaningful.
	_ = json.Unmarshal(body, perr)
	return perr
}
