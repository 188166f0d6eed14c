// Package resilience wraps calls to external services (speech-to-text APIs,
// LLM endpoints, object storage) with retry and circuit breaking.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
)

// TransientError marks a failure that may succeed on a later attempt.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError marks err as retryable. statusCode is 0 for non-HTTP failures.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

var transientMessages = []string{
	"connection reset by peer",
	"broken pipe",
	"i/o timeout",
	"tls handshake timeout",
	"no such host",
	"temporary failure in name resolution",
	"server closed idle connection",
	"unexpected eof",
}

// IsTransient reports whether err is worth retrying: an explicit
// TransientError, a network timeout, a refused or reset connection, or a
// message that matches a known flaky-network pattern.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	for _, errno := range []syscall.Errno{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED} {
		if errors.Is(err, errno) {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientMessages {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether an HTTP status is worth retrying.
func IsTransientHTTPStatus(code int) bool {
	switch code {
	case 408, 425, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// StatusError converts a non-2xx response into an error, marking it
// transient when the status allows a retry. body is truncated for logging.
func StatusError(service string, code int, body []byte) error {
	const maxBody = 512
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > maxBody {
		snippet = snippet[:maxBody] + "..."
	}
	err := eris.Errorf("%s: unexpected status %d: %s", service, code, snippet)
	if IsTransientHTTPStatus(code) {
		return NewTransientError(err, code)
	}
	return err
}
