package freeboxos

import (
	"context"
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // HMAC-SHA1 is mandated by the gateway protocol
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Session protocol constants.
const (
	// grantPollInterval is the delay between two authorization status polls.
	grantPollInterval = 2 * time.Second

	// sessionRetryDelay is the delay between two session opening attempts.
	sessionRetryDelay = 2 * time.Second

	// maxSessionRetries bounds session opening retries after the first attempt.
	maxSessionRetries = 30
)

// SessionConfig holds configuration for creating a SessionManager.
type SessionConfig struct {
	// BaseURL is the versioned API root, e.g. "http://mafreebox.freebox.fr/api/v8".
	BaseURL string

	// App identifies this application to the gateway.
	App AppInfo

	// Transport performs the gateway calls.
	Transport Transport

	// Store receives the credentials. A new store is created if nil.
	Store *CredentialStore

	// Logger is optional.
	Logger Logger
}

// SessionManager turns a long-lived app token into session credentials.
//
// It owns the CredentialStore and is the only component that writes to it.
//
// Thread Safety: All methods are safe for concurrent use. Establish and
// Renew are serialised against each other.
type SessionManager struct {
	baseURL   string
	app       AppInfo
	transport Transport
	store     *CredentialStore
	logger    Logger
	sleep     func(ctx context.Context, d time.Duration) error

	mu sync.Mutex
}

// NewSessionManager creates a session manager.
func NewSessionManager(cfg SessionConfig) *SessionManager {
	store := cfg.Store
	if store == nil {
		store = NewCredentialStore()
	}
	return &SessionManager{
		baseURL:   cfg.BaseURL,
		app:       cfg.App,
		transport: cfg.Transport,
		store:     store,
		logger:    loggerOrNop(cfg.Logger),
		sleep:     sleepContext,
	}
}

// Store returns the credential store written by this manager.
func (m *SessionManager) Store() *CredentialStore {
	return m.store
}

// Establish yields valid session credentials.
//
// With no usable token or track id it runs the bootstrap path: authorize,
// wait for the user to grant access on the box, then open a session. With
// existing credentials it reads the current challenge from the
// authorization status of trackID and opens a session directly.
//
// Parameters:
//   - ctx: Bounds the whole exchange, including the unbounded grant wait
//   - token: Stored app token, may be empty
//   - trackID: Stored track id, may be 0
//
// Returns:
//   - Credentials: Stored in the CredentialStore on success
//   - error: ErrAuthorizationRejected, ErrAuthorizationRefused, ErrNoSession,
//     ErrProtocol or a transport error
func (m *SessionManager) Establish(ctx context.Context, token string, trackID int64) (Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if (AuthInfo{AppToken: token, TrackID: trackID}).IsZero() {
		info, err := m.Authorize(ctx)
		if err != nil {
			return Credentials{}, err
		}
		token, trackID = info.AppToken, info.TrackID
	}

	challenge, err := m.AwaitGrant(ctx, trackID)
	if err != nil {
		return Credentials{}, err
	}

	sessionToken, challenge, err := m.OpenSession(ctx, token, challenge)
	if err != nil {
		return Credentials{}, err
	}

	creds := Credentials{
		Token:        token,
		SessionToken: sessionToken,
		TrackID:      trackID,
		Challenge:    challenge,
	}
	m.store.set(creds)
	m.logger.Info("freebox session established", "track_id", trackID)
	return creds, nil
}

// Renew opens a new session for the stored app token using a challenge
// reported by the gateway. Authorization and grant are skipped.
func (m *SessionManager) Renew(ctx context.Context, challenge string) (Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.store.Get()
	if current.Token == "" {
		return Credentials{}, ErrNoToken
	}

	sessionToken, challenge, err := m.OpenSession(ctx, current.Token, challenge)
	if err != nil {
		return Credentials{}, err
	}

	creds := Credentials{
		Token:        current.Token,
		SessionToken: sessionToken,
		TrackID:      current.TrackID,
		Challenge:    challenge,
	}
	m.store.set(creds)
	m.logger.Debug("freebox session renewed", "session", redact(sessionToken))
	return creds, nil
}

// Authorize requests a new app token. The user must then accept the
// request on the box.
func (m *SessionManager) Authorize(ctx context.Context) (AuthInfo, error) {
	res, err := m.transport.Do(ctx, MethodPost, m.baseURL+"/login/authorize/", nil, m.app)
	if err != nil {
		return AuthInfo{}, fmt.Errorf("authorize: %w", err)
	}
	reply, err := res.Reply()
	if err != nil {
		return AuthInfo{}, fmt.Errorf("authorize: %w", err)
	}
	if !reply.Success {
		return AuthInfo{}, newAPIError(ErrAuthorizationRejected, res, reply)
	}

	var info AuthInfo
	if err := reply.Decode(&info); err != nil || info.IsZero() {
		return AuthInfo{}, &APIError{
			Kind:       ErrAuthorizationRejected,
			StatusCode: res.StatusCode,
			Msg:        "reply carries no app token",
		}
	}

	m.logger.Info("freebox app authorization requested", "track_id", info.TrackID)
	return info, nil
}

// AwaitGrant polls the authorization status of trackID until it is
// granted, and returns the current challenge.
//
// A pending status is polled again every two seconds with no bound on
// attempts; ctx is the only way to give up.
func (m *SessionManager) AwaitGrant(ctx context.Context, trackID int64) (string, error) {
	url := fmt.Sprintf("%s/login/authorize/%d", m.baseURL, trackID)

	for {
		res, err := m.transport.Do(ctx, MethodGet, url, nil, nil)
		if err != nil {
			return "", fmt.Errorf("authorization status: %w", err)
		}
		reply, err := res.Reply()
		if err != nil {
			return "", fmt.Errorf("authorization status: %w", err)
		}

		if !reply.Success {
			if reply.ErrorCode == codeRetryLater {
				if err := m.sleep(ctx, grantPollInterval); err != nil {
					return "", err
				}
				continue
			}
			return "", newAPIError(ErrAuthorizationRefused, res, reply)
		}

		var body struct {
			Status    string `json:"status"`
			Challenge string `json:"challenge"`
		}
		if err := reply.Decode(&body); err != nil {
			return "", &APIError{Kind: ErrAuthorizationRefused, StatusCode: res.StatusCode, AuthStatus: StatusDenied}
		}

		status, err := ParseAuthorizationStatus(body.Status)
		if err != nil {
			return "", err
		}

		switch {
		case status == StatusGranted:
			if body.Challenge == "" {
				return "", &APIError{Kind: ErrProtocol, AuthStatus: status, Msg: "granted without challenge"}
			}
			return body.Challenge, nil
		case status == StatusPending:
			m.logger.Warn("freebox authorization pending: accept the request on the box front panel",
				"track_id", trackID)
			if err := m.sleep(ctx, grantPollInterval); err != nil {
				return "", err
			}
		case status.Terminal():
			return "", &APIError{Kind: ErrAuthorizationRefused, StatusCode: res.StatusCode, AuthStatus: status}
		}
	}
}

// OpenSession exchanges the app token and a challenge for a session token.
//
// A failed attempt carries a new challenge which is used for the next
// attempt. After the first attempt and maxSessionRetries retries, two
// seconds apart, ErrNoSession is returned.
//
// Returns the session token and the challenge it was obtained with.
func (m *SessionManager) OpenSession(ctx context.Context, token, challenge string) (string, string, error) {
	if token == "" || challenge == "" {
		return "", "", &APIError{Kind: ErrNoSession, Msg: "token and challenge are required"}
	}

	url := m.baseURL + "/login/session"
	headers := map[string]string{HeaderAppAuth: token}

	for retries := 0; ; retries++ {
		body := map[string]string{
			"app_id":      m.app.ID,
			"app_version": m.app.Version,
			"password":    Password(token, challenge),
		}

		res, err := m.transport.Do(ctx, MethodPost, url, headers, body)
		if err != nil {
			return "", "", fmt.Errorf("open session: %w", err)
		}
		reply, err := res.Reply()
		if err != nil {
			return "", "", fmt.Errorf("open session: %w", err)
		}

		if reply.Success {
			var session struct {
				SessionToken string          `json:"session_token"`
				Permissions  map[string]bool `json:"permissions"`
			}
			if err := reply.Decode(&session); err != nil || session.SessionToken == "" {
				return "", "", &APIError{Kind: ErrNoSession, StatusCode: res.StatusCode, Msg: "reply carries no session token"}
			}
			m.logPermissions(session.Permissions)
			return session.SessionToken, challenge, nil
		}

		if retries >= maxSessionRetries {
			apiErr := newAPIError(ErrNoSession, res, reply)
			apiErr.Retries = retries
			return "", "", apiErr
		}
		if next := reply.challenge(); next != "" {
			challenge = next
		}

		m.logger.Debug("freebox session refused, retrying",
			"code", reply.ErrorCode,
			"attempt", retries+1)
		if err := m.sleep(ctx, sessionRetryDelay); err != nil {
			return "", "", err
		}
	}
}

func (m *SessionManager) logPermissions(perms map[string]bool) {
	var missing []string
	for name, granted := range perms {
		if !granted {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		m.logger.Debug("freebox session opened with restricted permissions", "missing", missing)
	}
}

// Password computes the session password: hex(HMAC-SHA1(key=token, message=challenge)).
func Password(token, challenge string) string {
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(challenge))
	return hex.EncodeToString(mac.Sum(nil))
}

// isRefusal reports whether err means the app token is no longer accepted.
func isRefusal(err error) bool {
	return errors.Is(err, ErrAuthorizationRefused)
}
