package home

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/nerrad567/gray-logic-freebox/internal/freeboxos"
)

// Requester issues authenticated calls to the gateway.
// *freeboxos.Executor satisfies it.
type Requester interface {
	Request(ctx context.Context, method freeboxos.Method, url string, body any, policy freeboxos.RetryPolicy) (*freeboxos.Result, error)
}

// Logger is the logging interface used by this package.
type Logger = freeboxos.Logger

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Client reads and writes home-automation resources under an API base URL.
type Client struct {
	req     Requester
	baseURL string
	logger  Logger
}

// NewClient creates a Client.
//
// Parameters:
//   - req: Authenticated requester, normally the freeboxos Executor
//   - baseURL: Versioned API base URL, e.g. "http://mafreebox.freebox.fr/api/v8"
//   - logger: Optional logger (nil discards)
func NewClient(req Requester, baseURL string, logger Logger) *Client {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Client{req: req, baseURL: strings.TrimSuffix(baseURL, "/"), logger: logger}
}

// Nodes lists every home node. Transient failures are retried.
//
// Returns:
//   - []Node: The nodes known to the box
//   - error: ErrNoNodes when the box does not answer a successful list
func (c *Client) Nodes(ctx context.Context) ([]Node, error) {
	res, err := c.req.Request(ctx, freeboxos.MethodGet, c.baseURL+"/home/nodes", nil, freeboxos.AutoRetry)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoNodes, err)
	}
	reply, err := res.Reply()
	if err != nil || res.StatusCode != http.StatusOK || !reply.Success {
		return nil, ErrNoNodes
	}
	var nodes []Node
	if err := reply.Decode(&nodes); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoNodes, err)
	}
	return nodes, nil
}

// Endpoint reads the current value of one endpoint.
//
// Under NoRetry an overloaded box yields freeboxos.ErrRetryLater rather than
// the stale reply.
func (c *Client) Endpoint(ctx context.Context, nodeID, endpointID int, policy freeboxos.RetryPolicy) (*EndpointValue, error) {
	res, err := c.req.Request(ctx, freeboxos.MethodGet, c.endpointURL(nodeID, endpointID), nil, policy)
	if err != nil {
		return nil, err
	}
	return endpointValue(res)
}

// SetEndpoint writes payload to one endpoint. Writes are never retried.
//
// The returned value is empty when the box acknowledges without a result.
func (c *Client) SetEndpoint(ctx context.Context, nodeID, endpointID int, payload any) (*EndpointValue, error) {
	res, err := c.req.Request(ctx, freeboxos.MethodPut, c.endpointURL(nodeID, endpointID), payload, freeboxos.NoRetry)
	if err != nil {
		return nil, err
	}
	return endpointValue(res)
}

func (c *Client) endpointURL(nodeID, endpointID int) string {
	return fmt.Sprintf("%s/home/endpoints/%d/%d", c.baseURL, nodeID, endpointID)
}

func endpointValue(res *freeboxos.Result) (*EndpointValue, error) {
	reply, err := res.Reply()
	if err != nil {
		return nil, err
	}
	if reply.Overloaded() {
		return nil, freeboxos.ErrRetryLater
	}
	if !reply.Success {
		return nil, fmt.Errorf("%w: %s", ErrRejected, reply.ErrorCode)
	}
	value := &EndpointValue{}
	if len(reply.Result) == 0 || string(reply.Result) == "null" {
		return value, nil
	}
	if err := reply.Decode(value); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnexpectedValue, err)
	}
	return value, nil
}
