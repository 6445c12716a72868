package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"toolgate/internal/catalog"
	"toolgate/pkg/logging"

	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// HTTPClient reaches a backend over streamable HTTP: one POST per request,
// pooled connections, no notification stream.
type HTTPClient struct {
	baseClient
	id      string
	url     string
	headers map[string]string
}

// NewHTTPClient creates a streamable HTTP client.
func NewHTTPClient(id, url string, headers map[string]string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseClient: baseClient{timeout: timeout},
		id:         id,
		url:        url,
		headers:    headers,
	}
}

// Initialize performs the protocol handshake.
func (c *HTTPClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	logging.Debug("HTTPClient", "Connecting %s to %s", c.id, c.url)

	var opts []mcptransport.StreamableHTTPCOption
	if len(c.headers) > 0 {
		opts = append(opts, mcptransport.WithHTTPHeaders(c.headers))
	}

	mcpClient, err := client.NewStreamableHttpClient(c.url, opts...)
	if err != nil {
		return fmt.Errorf("failed to create HTTP client for %s: %w", c.id, err)
	}

	initCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, initializeTimeout)
		defer cancel()
	}

	if _, err := mcpClient.Initialize(initCtx, initializeRequest()); err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to initialize protocol for %s: %w", c.id, err)
	}

	c.client = mcpClient
	c.connected = true
	return nil
}

// Close drops the pooled connections.
func (c *HTTPClient) Close() error {
	return c.closeClient()
}

// ListTools returns all tools the backend advertises.
func (c *HTTPClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return c.listTools(ctx)
}

// CallTool executes one tool on the backend.
func (c *HTTPClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return c.callTool(ctx, name, args)
}

// Ping checks the backend is responsive.
func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.ping(ctx)
}

// Kind reports the HTTP transport.
func (c *HTTPClient) Kind() catalog.TransportKind {
	return catalog.TransportHTTP
}

// Healthy reports whether the client is initialized.
func (c *HTTPClient) Healthy() bool {
	return c.healthy()
}

// URL returns the backend base URL.
func (c *HTTPClient) URL() string {
	return c.url
}

// Retryable classifies a send failure: timeouts and transport-level network
// errors may be retried by a caller that chooses to, protocol rejections
// may not. The router itself never retries; this feeds callers behind the
// gateway (and tests) that need the distinction.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
