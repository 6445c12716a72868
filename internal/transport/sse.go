package transport

import (
	"context"
	"fmt"
	"time"

	"toolgate/internal/catalog"
	"toolgate/pkg/logging"

	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// SSEClient reaches a backend through a persistent event stream. Requests
// go out as POSTs to the inbox URL the stream's first event announces;
// responses come back as stream events paired by id. The mcp-go transport
// refuses to post before the stream is open.
type SSEClient struct {
	baseClient
	id      string
	url     string
	headers map[string]string

	notifyFn func(method string, params map[string]interface{})
}

// NewSSEClient creates an SSE client.
func NewSSEClient(id, url string, headers map[string]string, timeout time.Duration) *SSEClient {
	return &SSEClient{
		baseClient: baseClient{timeout: timeout},
		id:         id,
		url:        url,
		headers:    headers,
	}
}

// SubscribeNotifications registers a handler for server-initiated messages.
// Must be called before Initialize.
func (c *SSEClient) SubscribeNotifications(fn func(method string, params map[string]interface{})) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifyFn = fn
}

// Initialize opens the stream, waits for the endpoint event, and performs
// the protocol handshake.
func (c *SSEClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	logging.Debug("SSEClient", "Opening stream for %s at %s", c.id, c.url)

	var opts []mcptransport.ClientOption
	if len(c.headers) > 0 {
		opts = append(opts, mcptransport.WithHeaders(c.headers))
	}

	mcpClient, err := client.NewSSEMCPClient(c.url, opts...)
	if err != nil {
		return fmt.Errorf("failed to create SSE client for %s: %w", c.id, err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to open SSE stream for %s: %w", c.id, err)
	}

	if c.notifyFn != nil {
		notifyFn := c.notifyFn
		mcpClient.OnNotification(func(notification mcp.JSONRPCNotification) {
			notifyFn(notification.Method, notification.Params.AdditionalFields)
		})
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

// Close drops the stream; pending sends unblock with an error.
func (c *SSEClient) Close() error {
	return c.closeClient()
}

// ListTools returns all tools the backend advertises.
func (c *SSEClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return c.listTools(ctx)
}

// CallTool executes one tool on the backend.
func (c *SSEClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return c.callTool(ctx, name, args)
}

// Ping checks the backend is responsive.
func (c *SSEClient) Ping(ctx context.Context) error {
	return c.ping(ctx)
}

// Kind reports the SSE transport.
func (c *SSEClient) Kind() catalog.TransportKind {
	return catalog.TransportSSE
}

// Healthy reports whether the stream is believed open.
func (c *SSEClient) Healthy() bool {
	return c.healthy()
}
