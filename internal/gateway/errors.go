package gateway

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated is returned when a call needs a credential and none is
// available, either because the user never logged in or because a refresh
// failed and the session ended.
var ErrUnauthenticated = errors.New("unauthenticated")

// ErrLoginRejected is returned by Login when the backend refuses the
// email/password pair.
var ErrLoginRejected = errors.New("login rejected")

// RefreshError reports a failed refresh cycle. It is terminal for the session
// and matches ErrUnauthenticated via errors.Is.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() []error {
	return []error{ErrUnauthenticated, e.Err}
}

// TransientError wraps a network-level failure or timeout. The caller decides
// whether to retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// StatusError is a non-2xx response surfaced to a caller that expected
// success.
type StatusError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// maxErrorBody bounds how much of a response body is kept in a StatusError.
const maxErrorBody = 512

func newStatusError(call Call, resp *Response) *StatusError {
	body := string(resp.Body)
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &StatusError{
		StatusCode: resp.StatusCode,
		Method:     call.Method,
		Path:       call.Path,
		Body:       body,
	}
}
