package notaryapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

var (
	ErrUnauthorized = errors.New("notaryapi: unauthorized")
	ErrForbidden    = errors.New("notaryapi: forbidden")
	ErrNotFound     = errors.New("notaryapi: not found")
	ErrConflict     = errors.New("notaryapi: conflict")
	ErrServer       = errors.New("notaryapi: server error")

	// ErrIdleTimeout is wrapped by a TransportError when a stream stays
	// silent longer than the configured idle timeout.
	ErrIdleTimeout = errors.New("notaryapi: stream idle timeout")
)

// StatusError captures non-2xx responses. errors.Is matches it against the
// status sentinels above.
type StatusError struct {
	StatusCode int
	URL        string
	Message    string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("notaryapi: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Message)
	}
	return fmt.Sprintf("notaryapi: unexpected status %d from %s", e.StatusCode, e.URL)
}

func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

func (e *StatusError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return target == ErrUnauthorized
	case http.StatusForbidden:
		return target == ErrForbidden
	case http.StatusNotFound:
		return target == ErrNotFound
	case http.StatusConflict:
		return target == ErrConflict
	default:
		return target == ErrServer
	}
}

// TransportError reports a network failure or an interrupted stream.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("notaryapi: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a stream segment that could not be decoded. The
// segment is skipped and decoding continues.
type ProtocolError struct {
	Reason  string
	Segment string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("notaryapi: protocol error (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("notaryapi: protocol error (%s)", e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

const maxMessageRunes = 200

// errorMessage extracts a human message from an error body: the "error" or
// "message" JSON field when present, else the trimmed text.
func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	text := strings.TrimSpace(string(body))
	if strings.HasPrefix(text, "<") {
		return ""
	}
	if utf8.RuneCountInString(text) > maxMessageRunes {
		text = string([]rune(text)[:maxMessageRunes])
	}
	return text
}
