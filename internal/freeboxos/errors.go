package freeboxos

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for the freeboxos package.
//
// Every failure surfaced by the Executor or SessionManager wraps exactly one
// of these sentinels, so callers can branch with errors.Is.
var (
	// ErrAuthorizationRejected is returned when the gateway refuses the
	// initial app authorization request.
	ErrAuthorizationRejected = errors.New("freeboxos: app authorization rejected")

	// ErrAuthorizationRefused is returned when the user denied, cancelled or
	// let the authorization request time out, or when a stored app token has
	// been revoked. A fresh bootstrap is required.
	ErrAuthorizationRefused = errors.New("freeboxos: authorization refused")

	// ErrNoSession is returned when no session token could be obtained.
	ErrNoSession = errors.New("freeboxos: no session obtainable")

	// ErrRetriesExhausted is returned when a call kept failing until its
	// retry budget ran out.
	ErrRetriesExhausted = errors.New("freeboxos: retries exhausted")

	// ErrInsufficientRights is returned when the app lacks a permission
	// required by the call.
	ErrInsufficientRights = errors.New("freeboxos: insufficient rights")

	// ErrNotUpdated is returned when the requested value has not changed
	// since the previous poll. It is never retried.
	ErrNotUpdated = errors.New("freeboxos: data not updated")

	// ErrRetryLater is returned when the gateway is overloaded and the
	// caller asked for a strict answer.
	ErrRetryLater = errors.New("freeboxos: gateway busy, retry later")

	// ErrProtocol is returned for replies that break the gateway contract:
	// unknown error codes, unknown authorization statuses or an
	// inconsistent challenge state.
	ErrProtocol = errors.New("freeboxos: protocol violation")

	// ErrUnexpectedStatus is returned by the transport for a non-2xx HTTP
	// status whose body is not a gateway reply.
	ErrUnexpectedStatus = errors.New("freeboxos: unexpected http status")

	// ErrInvalidReply is returned when a reply body cannot be decoded.
	ErrInvalidReply = errors.New("freeboxos: invalid reply")

	// ErrNoToken is returned when a session renewal is attempted without an
	// app token on file.
	ErrNoToken = errors.New("freeboxos: no app token")

	// ErrClosed is returned for calls submitted to, or still queued in, a
	// closed Executor.
	ErrClosed = errors.New("freeboxos: executor closed")
)

// APIError describes a failed gateway exchange.
//
// Kind is one of the package sentinels and is returned by Unwrap, so
// errors.Is(err, ErrInsufficientRights) works on a wrapped *APIError.
type APIError struct {
	Kind         error
	StatusCode   int
	Code         string
	Msg          string
	MissingRight string
	AuthStatus   AuthorizationStatus
	Retries      int
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())

	var details []string
	if e.Code != "" {
		details = append(details, "code="+e.Code)
	}
	if e.MissingRight != "" {
		details = append(details, "missing_right="+e.MissingRight)
	}
	if e.AuthStatus != "" {
		details = append(details, "status="+string(e.AuthStatus))
	}
	if e.StatusCode != 0 {
		details = append(details, fmt.Sprintf("http=%d", e.StatusCode))
	}
	if e.Retries > 0 {
		details = append(details, fmt.Sprintf("retries=%d", e.Retries))
	}
	if len(details) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(details, " "))
		b.WriteString(")")
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	return b.String()
}

func (e *APIError) Unwrap() error {
	return e.Kind
}

// newAPIError builds an APIError from a decoded reply.
func newAPIError(kind error, res *Result, reply *Reply) *APIError {
	e := &APIError{Kind: kind}
	if res != nil {
		e.StatusCode = res.StatusCode
	}
	if reply != nil {
		e.Code = reply.ErrorCode
		e.Msg = reply.Msg
		e.MissingRight = reply.MissingRight
	}
	return e
}
