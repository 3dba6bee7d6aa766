package freeboxos

import "fmt"

// AuthorizationStatus is the state of an app authorization request.
type AuthorizationStatus string

// Authorization statuses reported by GET login/authorize/{track_id}.
const (
	StatusPending  AuthorizationStatus = "pending"
	StatusTimeout  AuthorizationStatus = "timeout"
	StatusGranted  AuthorizationStatus = "granted"
	StatusDenied   AuthorizationStatus = "denied"
	StatusCanceled AuthorizationStatus = "canceled"
)

// ParseAuthorizationStatus maps a gateway status string to the closed set
// of statuses. Any other value is a protocol violation.
func ParseAuthorizationStatus(s string) (AuthorizationStatus, error) {
	switch st := AuthorizationStatus(s); st {
	case StatusPending, StatusTimeout, StatusGranted, StatusDenied, StatusCanceled:
		return st, nil
	default:
		return "", &APIError{
			Kind: ErrProtocol,
			Msg:  fmt.Sprintf("unknown authorization status %q", s),
		}
	}
}

// Terminal reports whether the status ends the grant wait with a refusal.
func (s AuthorizationStatus) Terminal() bool {
	switch s {
	case StatusTimeout, StatusDenied, StatusCanceled:
		return true
	default:
		return false
	}
}
