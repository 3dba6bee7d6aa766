package freeboxos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Request pipeline constants.
const (
	// requestRetryDelay is the delay before a retried attempt.
	requestRetryDelay = 2 * time.Second

	// maxRequestRetries bounds retries of soft failures and failed renewals
	// under AutoRetry.
	maxRequestRetries = 3
)

// ExecutorConfig holds configuration for creating an Executor.
type ExecutorConfig struct {
	// Transport performs the gateway calls.
	Transport Transport

	// Session renews the session when the gateway asks for it.
	Session *SessionManager

	// Logger is optional.
	Logger Logger
}

// Stats are cumulative Executor counters.
type Stats struct {
	Requests uint64
	Retries  uint64
	Renewals uint64
	Failures uint64
	Queued   int
}

// Executor runs authenticated gateway calls one at a time.
//
// Calls are queued in submission order and drained by a single worker
// goroutine. Each queued item owns its result channel, so the N-th call
// always resolves with its own outcome.
//
// Thread Safety: All methods are safe for concurrent use.
type Executor struct {
	transport Transport
	session   *SessionManager
	store     *CredentialStore
	logger    Logger
	sleep     func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	queue  []*queueItem
	closed bool
	wake   chan struct{}

	// Executor lifetime. Calls run on ctx, not on the caller's context.
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	requests atomic.Uint64
	retries  atomic.Uint64
	renewals atomic.Uint64
	failures atomic.Uint64
}

// call is one authenticated gateway call.
type call struct {
	method Method
	url    string
	body   any
	policy RetryPolicy
}

type outcome struct {
	result *Result
	creds  Credentials
	err    error
}

type queueItem struct {
	ctx  context.Context
	run  func(ctx context.Context) outcome
	done chan outcome
}

// NewExecutor creates an executor and starts its worker.
// Call Close to stop it.
func NewExecutor(cfg ExecutorConfig) *Executor {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		transport: cfg.Transport,
		session:   cfg.Session,
		store:     cfg.Session.Store(),
		logger:    loggerOrNop(cfg.Logger),
		sleep:     sleepContext,
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go e.worker()
	return e
}

// Close stops the worker. Queued calls fail with ErrClosed and a pending
// retry delay is aborted. Safe to call multiple times.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()

		e.cancel()
		<-e.done
	})
}

// Credentials returns a snapshot of the current session credentials.
func (e *Executor) Credentials() Credentials {
	return e.store.Get()
}

// QueueLength returns the number of calls waiting to start.
func (e *Executor) QueueLength() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Stats returns the executor counters.
func (e *Executor) Stats() Stats {
	return Stats{
		Requests: e.requests.Load(),
		Retries:  e.retries.Load(),
		Renewals: e.renewals.Load(),
		Failures: e.failures.Load(),
		Queued:   e.QueueLength(),
	}
}

// Authenticate establishes session credentials from stored AuthInfo.
//
// It runs through the call queue so it never overlaps a gateway call. If a
// stored app token has been revoked, a new authorization is started, which
// waits for the user to accept it on the box. ctx bounds that wait.
//
// The returned credentials carry the AuthInfo to persist.
func (e *Executor) Authenticate(ctx context.Context, info AuthInfo) (Credentials, error) {
	out, err := e.submit(ctx, func(execCtx context.Context) outcome {
		runCtx, cancel := context.WithCancel(execCtx)
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()

		creds, err := e.session.Establish(runCtx, info.AppToken, info.TrackID)
		if err != nil && isRefusal(err) && !info.IsZero() {
			e.logger.Warn("stored freebox app token refused, starting a new authorization",
				"track_id", info.TrackID,
				"error", err)
			creds, err = e.session.Establish(runCtx, "", 0)
		}
		return outcome{creds: creds, err: e.closedErr(err)}
	})
	if err != nil {
		return Credentials{}, err
	}
	return out.creds, out.err
}

// Request executes one authenticated call.
//
// The call waits for every previously submitted call to finish. ctx only
// bounds that wait: once the call has started it runs to completion and a
// cancelled caller simply does not receive the result.
//
// Returns:
//   - *Result: The gateway reply. Under NoRetry this may be a soft failure
//     or a retry_later reply returned after a two second delay.
//   - error: A wrapped sentinel describing the failure class
func (e *Executor) Request(ctx context.Context, method Method, url string, body any, policy RetryPolicy) (*Result, error) {
	e.requests.Add(1)
	c := call{method: method, url: url, body: body, policy: policy}

	out, err := e.submit(ctx, func(execCtx context.Context) outcome {
		res, err := e.execute(execCtx, c)
		return outcome{result: res, err: e.closedErr(err)}
	})
	if err != nil {
		return nil, err
	}
	if out.err != nil {
		e.failures.Add(1)
		return nil, out.err
	}
	return out.result, nil
}

// submit queues run and waits for its outcome.
func (e *Executor) submit(ctx context.Context, run func(ctx context.Context) outcome) (outcome, error) {
	item := &queueItem{
		ctx:  ctx,
		run:  run,
		done: make(chan outcome, 1),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return outcome{}, ErrClosed
	}
	e.queue = append(e.queue, item)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}

	select {
	case out := <-item.done:
		return out, nil
	case <-ctx.Done():
		return outcome{}, ctx.Err()
	}
}

func (e *Executor) worker() {
	defer close(e.done)

	for {
		if e.ctx.Err() != nil {
			e.drain()
			return
		}

		item := e.next()
		if item == nil {
			select {
			case <-e.wake:
			case <-e.ctx.Done():
			}
			continue
		}

		// A caller that gave up before its turn is skipped.
		if err := item.ctx.Err(); err != nil {
			item.done <- outcome{err: err}
			continue
		}

		item.done <- item.run(e.ctx)
	}
}

func (e *Executor) next() *queueItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return nil
	}
	item := e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]
	return item
}

func (e *Executor) drain() {
	e.mu.Lock()
	items := e.queue
	e.queue = nil
	e.mu.Unlock()

	for _, item := range items {
		item.done <- outcome{err: ErrClosed}
	}
}

// execute runs the attempt loop of one call.
//
// The retry counter is shared by every branch. It bounds soft failures and
// failed renewals; insufficient_rights and retry_later keep retrying under
// AutoRetry for as long as the executor runs.
func (e *Executor) execute(ctx context.Context, c call) (*Result, error) {
	retries := 0

	for {
		creds := e.store.Get()
		var headers map[string]string
		if creds.SessionToken != "" {
			headers = map[string]string{HeaderAppAuth: creds.SessionToken}
		}

		res, err := e.transport.Do(ctx, c.method, c.url, headers, c.body)
		if err != nil {
			return nil, err
		}
		reply, err := res.Reply()
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", c.method, c.url, err)
		}

		switch reply.ErrorCode {
		case "":
			if reply.Success || c.policy == NoRetry {
				return res, nil
			}
			if retries >= maxRequestRetries {
				apiErr := newAPIError(ErrRetriesExhausted, res, reply)
				apiErr.Retries = retries
				return nil, apiErr
			}

		case codeAuthRequired:
			challenge := reply.challenge()
			if challenge == "" || challenge == creds.Challenge {
				apiErr := newAPIError(ErrProtocol, res, reply)
				apiErr.Msg = "auth_required with unchanged challenge"
				return nil, apiErr
			}

			e.renewals.Add(1)
			if _, err := e.session.Renew(ctx, challenge); err != nil {
				if ctx.Err() != nil || c.policy == NoRetry || retries >= maxRequestRetries {
					return nil, fmt.Errorf("renewing session: %w", err)
				}
				e.logger.Warn("freebox session renewal failed, retrying",
					"url", c.url,
					"error", err)
				break
			}
			// Resubmit the same call at once with the new session.
			continue

		case codeInsufficientRights:
			if c.policy == NoRetry {
				return nil, newAPIError(ErrInsufficientRights, res, reply)
			}
			e.logger.Warn("freebox app lacks a permission, waiting for it to be granted",
				"missing_right", reply.MissingRight,
				"url", c.url)

		case codeRetryLater:
			if c.policy == NoRetry {
				if err := e.sleep(ctx, requestRetryDelay); err != nil {
					return nil, err
				}
				return res, nil
			}

		case codeNotUpdated:
			return nil, newAPIError(ErrNotUpdated, res, reply)

		default:
			return nil, newAPIError(ErrProtocol, res, reply)
		}

		retries++
		e.retries.Add(1)
		e.logger.Debug("retrying freebox call",
			"method", c.method,
			"url", c.url,
			"code", reply.ErrorCode,
			"retry", retries)
		if err := e.sleep(ctx, requestRetryDelay); err != nil {
			return nil, err
		}
	}
}

// closedErr maps the cancellation of the executor lifetime to ErrClosed.
func (e *Executor) closedErr(err error) error {
	if err != nil && e.ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return ErrClosed
	}
	return err
}
