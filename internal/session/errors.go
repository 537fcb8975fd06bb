package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionExpired means the response lacked the user marker; the account
	// cookies have been cleared and a forced re-login may be attempted.
	ErrSessionExpired = errors.New("session expired")
	// ErrLoginFailed means the login form was rejected by the tracker.
	ErrLoginFailed = errors.New("login failed")
)

// TransportError wraps network failures, timeouts and non-success statuses.
type TransportError struct {
	Method     string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Method, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
