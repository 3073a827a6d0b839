package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"notary-chat/internal/integrations/notaryapi"
)

type ErrorCode string

const (
	ErrorAuthRequired ErrorCode = "AUTH_REQUIRED"
	ErrorForbidden    ErrorCode = "FORBIDDEN"
	ErrorNotFound     ErrorCode = "NOT_FOUND"
	ErrorConflict     ErrorCode = "CONFLICT"
	ErrorTransport    ErrorCode = "TRANSPORT_ERROR"
	ErrorProtocol     ErrorCode = "PROTOCOL_ERROR"
	ErrorServer       ErrorCode = "SERVER_ERROR"
	ErrorInvalidInput ErrorCode = "INVALID_INPUT"
	ErrorSendInFlight ErrorCode = "SEND_IN_FLIGHT"
	ErrorInternal     ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrorInternal.
func CodeOf(err error) ErrorCode {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Code
	}
	return ErrorInternal
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// classify converts a transport failure into an *Error tagged with the
// operation that issued it.
func classify(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var ue *Error
	if errors.As(err, &ue) {
		return ue
	}

	var pe *notaryapi.ProtocolError
	if errors.As(err, &pe) {
		return newError(ErrorProtocol, op+"_"+pe.Reason, err)
	}
	if errors.Is(err, notaryapi.ErrIdleTimeout) {
		return newError(ErrorTransport, op+"_idle_timeout", err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrorTransport, op+"_canceled", err)
	}
	if notaryapi.IsTransport(err) {
		return newError(ErrorTransport, op+"_network", err)
	}

	var sc httpStatusCoder
	if errors.As(err, &sc) {
		switch code := sc.HTTPStatusCode(); {
		case code == http.StatusUnauthorized:
			return newError(ErrorAuthRequired, op+"_unauthorized", err)
		case code == http.StatusForbidden:
			return newError(ErrorForbidden, op+"_forbidden", err)
		case code == http.StatusNotFound:
			return newError(ErrorNotFound, op+"_not_found", err)
		case code == http.StatusConflict:
			return newError(ErrorConflict, op+"_conflict", err)
		default:
			return newError(ErrorServer, fmt.Sprintf("%s_status_%d", op, code), err)
		}
	}
	if errors.Is(err, notaryapi.ErrUnauthorized) {
		return newError(ErrorAuthRequired, op+"_unauthorized", err)
	}
	return newError(ErrorInternal, op+"_failed", err)
}
