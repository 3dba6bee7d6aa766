// Package freeboxos implements the authentication and session protocol of a
// Freebox home gateway, and the authenticated request pipeline that every
// higher-level call goes through.
//
// Trust is established in two phases:
//
//  1. App authorization: the bridge asks the box for an app token and the
//     user accepts the request on the box front panel. The resulting
//     (app_token, track_id) pair is long-lived and persisted by the caller.
//  2. Session opening: the app token is combined with a server-issued
//     challenge (hex HMAC-SHA1) to obtain a short-lived session token.
//
// The Executor serialises all gateway calls through a single FIFO queue
// drained by one worker goroutine. At most one call is in flight at a time,
// because two concurrent session renewals would invalidate each other.
// Each submitted call owns its own result channel, so a caller always
// receives the outcome of its own call.
//
// Usage:
//
//	transport := freeboxos.NewHTTPTransport(freeboxos.HTTPTransportConfig{Timeout: 10 * time.Second})
//	api, err := freeboxos.DiscoverAPI(ctx, transport, "mafreebox.freebox.fr", logger)
//	session := freeboxos.NewSessionManager(freeboxos.SessionConfig{
//	    BaseURL:   api.BaseURL,
//	    App:       freeboxos.DefaultAppInfo(),
//	    Transport: transport,
//	})
//	exec := freeboxos.NewExecutor(freeboxos.ExecutorConfig{Transport: transport, Session: session})
//	defer exec.Close()
//
//	creds, err := exec.Authenticate(ctx, stored)
//	res, err := exec.Request(ctx, freeboxos.MethodGet, api.BaseURL+"/home/nodes", nil, freeboxos.AutoRetry)
//
// Protocol delays (2s retries, 2s grant polling, 5s overload back-off) are
// fixed constants of the gateway protocol and are not configurable.
//
// Thread Safety:
//   - Executor, SessionManager and CredentialStore are safe for concurrent use.
//   - Gateway calls are never executed concurrently by the Executor.
package freeboxos
