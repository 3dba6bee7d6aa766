package freeboxos

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"
)

// Transport constants.
const (
	// overloadDelay is applied before surfacing a 5xx gateway status.
	overloadDelay = 5 * time.Second

	// maxBodySize bounds the size of a gateway reply.
	maxBodySize = 4 << 20

	// defaultUserAgent is browser-like; some firmware versions reject
	// unknown agents.
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) Chrome/59.0.3071.115"

	contentTypeJSON = "application/json; charset=utf-8"
)

// retryLaterBody is the synthetic reply returned for gateway overload.
var retryLaterBody = json.RawMessage(`{"success":false,"error_code":"retry_later","msg":"gateway overloaded"}`)

// Transport performs one HTTP call against the gateway.
//
// Implementations return the parsed body for any gateway reply, including
// non-2xx replies that carry a JSON envelope. Gateway overload (5xx) is
// reported as a synthetic retry_later reply after a fixed delay.
type Transport interface {
	Do(ctx context.Context, method Method, url string, headers map[string]string, body any) (*Result, error)
}

// HTTPTransportConfig configures an HTTPTransport.
type HTTPTransportConfig struct {
	// Timeout bounds one HTTP exchange. Default: 10 seconds.
	Timeout time.Duration

	// CAFile is an optional PEM bundle used to verify the box HTTPS
	// certificate.
	CAFile string

	// MinInterval is the minimum gap between two calls. 0 disables pacing.
	MinInterval time.Duration

	// UserAgent overrides the default browser-like agent.
	UserAgent string

	// Logger is optional.
	Logger Logger
}

// HTTPTransport is the net/http implementation of Transport.
type HTTPTransport struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	logger    Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewHTTPTransport creates a transport from cfg.
//
// Returns an error if the CA file cannot be read or holds no certificate.
func NewHTTPTransport(cfg HTTPTransportConfig) (*HTTPTransport, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA file %s: no certificates found", cfg.CAFile)
		}
		base.TLSClientConfig = &tls.Config{
			RootCAs:    pool,
			MinVersion: tls.VersionTLS12,
		}
	}

	t := &HTTPTransport{
		client:    &http.Client{Timeout: timeout, Transport: base},
		userAgent: cfg.UserAgent,
		logger:    loggerOrNop(cfg.Logger),
		sleep:     sleepContext,
	}
	if t.userAgent == "" {
		t.userAgent = defaultUserAgent
	}
	if cfg.MinInterval > 0 {
		t.limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}
	return t, nil
}

// Do performs the call and normalises the reply.
func (t *HTTPTransport) Do(ctx context.Context, method Method, url string, headers map[string]string, body any) (*Result, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, string(method), url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", t.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		t.logger.Warn("gateway overloaded, backing off",
			"status", resp.StatusCode,
			"url", url,
			"delay", overloadDelay)
		if err := t.sleep(ctx, overloadDelay); err != nil {
			return nil, err
		}
		return &Result{StatusCode: resp.StatusCode, Data: retryLaterBody}, nil
	}

	if len(data) > 0 && json.Valid(data) {
		return &Result{StatusCode: resp.StatusCode, Data: data}, nil
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: %s %s: non-JSON body", ErrInvalidReply, method, url)
	}
	return nil, &APIError{
		Kind:       ErrUnexpectedStatus,
		StatusCode: resp.StatusCode,
		Msg:        fmt.Sprintf("%s %s", method, url),
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
