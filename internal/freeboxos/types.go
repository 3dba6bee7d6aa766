package freeboxos

import (
	"encoding/json"
	"fmt"
)

// Method is an HTTP method accepted by the gateway API.
type Method string

// Methods used against the gateway.
const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
	MethodPatch  Method = "PATCH"
)

// HeaderAppAuth carries the app token (session opening) or the session
// token (every other authenticated call).
const HeaderAppAuth = "X-Fbx-App-Auth"

// RetryPolicy selects how the Executor reacts to recoverable failures.
// It is chosen per call: non-idempotent writes use NoRetry.
type RetryPolicy int

const (
	// NoRetry surfaces the first definitive outcome.
	NoRetry RetryPolicy = iota

	// AutoRetry retries transient failures with a fixed delay.
	AutoRetry
)

// String returns the policy name used in logs.
func (p RetryPolicy) String() string {
	switch p {
	case NoRetry:
		return "no_retry"
	case AutoRetry:
		return "auto_retry"
	default:
		return fmt.Sprintf("retry_policy(%d)", int(p))
	}
}

// AuthInfo is the long-lived result of an app authorization.
// It is persisted by the caller across restarts.
type AuthInfo struct {
	AppToken string `json:"app_token"`
	TrackID  int64  `json:"track_id"`
}

// IsZero reports whether the record is unusable for skipping authorization.
func (a AuthInfo) IsZero() bool {
	return a.AppToken == "" || a.AppToken == "null" || a.TrackID == 0
}

// Credentials are the session-scoped values held by the CredentialStore.
//
// SessionToken is valid only while Challenge is the current gateway
// challenge.
type Credentials struct {
	Token        string
	SessionToken string
	TrackID      int64
	Challenge    string
}

// AuthInfo returns the persistable part of the credentials.
func (c Credentials) AuthInfo() AuthInfo {
	return AuthInfo{AppToken: c.Token, TrackID: c.TrackID}
}

// Result is the normalised outcome of one transport call.
type Result struct {
	StatusCode int
	Data       json.RawMessage
}

// Reply decodes the gateway envelope carried by the result.
func (r *Result) Reply() (*Reply, error) {
	if r == nil || len(r.Data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidReply)
	}
	var reply Reply
	if err := json.Unmarshal(r.Data, &reply); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidReply, err)
	}
	return &reply, nil
}

// Decode unmarshals the envelope's result field into v.
func (r *Result) Decode(v any) error {
	reply, err := r.Reply()
	if err != nil {
		return err
	}
	return reply.Decode(v)
}

// Reply is the JSON envelope returned by every gateway endpoint.
type Reply struct {
	Success      bool            `json:"success"`
	ErrorCode    string          `json:"error_code,omitempty"`
	Msg          string          `json:"msg,omitempty"`
	UID          string          `json:"uid,omitempty"`
	MissingRight string          `json:"missing_right,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
}

// Decode unmarshals the result field into v.
func (r *Reply) Decode(v any) error {
	if len(r.Result) == 0 || string(r.Result) == "null" {
		return fmt.Errorf("%w: missing result", ErrInvalidReply)
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidReply, err)
	}
	return nil
}

// Overloaded reports whether the reply is the gateway's retry_later answer.
func (r *Reply) Overloaded() bool {
	return !r.Success && r.ErrorCode == codeRetryLater
}

// challenge extracts result.challenge, if present.
func (r *Reply) challenge() string {
	if len(r.Result) == 0 {
		return ""
	}
	var body struct {
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(r.Result, &body); err != nil {
		return ""
	}
	return body.Challenge
}

// Gateway error codes interpreted by the Executor.
const (
	codeAuthRequired       = "auth_required"
	codeInsufficientRights = "insufficient_rights"
	codeRetryLater         = "retry_later"
	codeNotUpdated         = "not_updated"
)

// AppInfo identifies this application to the gateway.
type AppInfo struct {
	ID         string `json:"app_id"`
	Name       string `json:"app_name"`
	Version    string `json:"app_version"`
	DeviceName string `json:"device_name"`
}

// DefaultAppInfo returns the identity registered by the bridge.
func DefaultAppInfo() AppInfo {
	return AppInfo{
		ID:         "gl.fbx-bridge",
		Name:       "Gray Logic Freebox Bridge",
		Version:    "1.0",
		DeviceName: "server",
	}
}

// Logger is the logging interface used by this package.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// nopLogger discards everything.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func loggerOrNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}

// redact returns a short prefix of a secret for debug logs.
func redact(secret string) string {
	const keep = 4
	if len(secret) <= keep {
		return "****"
	}
	return secret[:keep] + "****"
}
