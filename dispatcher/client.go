package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/isdmx/runbox/execservice"
)

// maxResponseBytes bounds how much of a downstream body is read.
const maxResponseBytes = 8 << 20

var (
	// ErrCallTimeout means the Execution Service did not answer within the
	// call timeout.
	ErrCallTimeout = errors.New("execution service call timed out")
	// ErrUnavailable means the Execution Service could not be reached.
	ErrUnavailable = errors.New("execution service unavailable")
)

// DownstreamResponse is what the Execution Service answered.
type DownstreamResponse struct {
	Status int
	Body   []byte
}

// Caller forwards one submission to the Execution Service.
type Caller interface {
	Call(ctx context.Context, code string) (*DownstreamResponse, error)
	HasSecret() bool
}

// ExecutionClient posts submissions to the Execution Service with the shared
// secret attached. It never retries.
type ExecutionClient struct {
	url    string
	secret string
	client *http.Client
}

// ExecutionClientOption configures an ExecutionClient
type ExecutionClientOption func(*ExecutionClient)

// WithHTTPClient replaces the underlying HTTP client. Its Timeout is
// overwritten with the call timeout.
func WithHTTPClient(client *http.Client) ExecutionClientOption {
	return func(c *ExecutionClient) {
		c.client = client
	}
}

// NewExecutionClient returns a client for the /execute endpoint at url.
func NewExecutionClient(url, secret string, timeout time.Duration, opts ...ExecutionClientOption) *ExecutionClient {
	c := &ExecutionClient{
		url:    url,
		secret: secret,
		client: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.client.Timeout = timeout
	return c
}

// HasSecret reports whether a shared secret is configured.
func (c *ExecutionClient) HasSecret() bool {
	return c.secret != ""
}

// Call posts code and returns the downstream status and body.
func (c *ExecutionClient) Call(ctx context.Context, code string) (*DownstreamResponse, error) {
	payload, err := json.Marshal(execservice.ExecuteRequest{Code: code})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(execservice.SecretHeader, c.secret)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyTransportError(err)
	}
	return &DownstreamResponse{Status: resp.StatusCode, Body: body}, nil
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ErrCallTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
