// Package gwerr implements the gateway's error taxonomy (spec.md §7): a
// small set of typed errors, each carrying the HTTP status it maps to. The
// quota guard and the job queue return them, and the auth middleware takes
// its 401 status from KindUnauthorized; the other layers report failures
// through their own types (auth.ErrUnauthorized, UpstreamHTTPError, the
// dispatcher's error-tagged Result).
package gwerr

import (
	"errors"
	"net/http"
)

// Kind identifies which row of spec.md §7's error table an error belongs to.
type Kind int

const (
	KindUnauthorized Kind = iota
	KindForbidden
	KindTooManyRequests
	KindBadRequest
	KindConflict
	KindNotFound
	KindGatewayTimeout
	KindBadGateway
	KindServiceUnavailable
	// KindUpstream carries a status code propagated verbatim from the
	// upstream server's JSON error response.
	KindUpstream
)

// Error is a typed gateway error carrying the HTTP status it maps to.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	// Body is the raw upstream error body, set only for KindUpstream errors,
	// so it can be recorded verbatim in the Request.response_body column.
	Body any
}

func (e *Error) Error() string {
	return e.Message
}

// New builds an Error for one of the fixed-status kinds.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Status: statusFor(kind), Message: message}
}

// Upstream builds an Error carrying a status propagated from the upstream server.
func Upstream(status int, message string, body any) *Error {
	return &Error{Kind: KindUpstream, Status: status, Message: message, Body: body}
}

func statusFor(kind Kind) int {
	switch kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	case KindBadRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindGatewayTimeout:
		return http.StatusGatewayTimeout
	case KindBadGateway:
		return http.StatusBadGateway
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// As extracts a *Error from err, if any layer in its chain produced one.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
