package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"toolgate/internal/catalog"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// DefaultTimeout bounds every send when the caller's context carries no
// deadline.
const DefaultTimeout = 30 * time.Second

// initializeTimeout bounds the protocol handshake.
const initializeTimeout = 10 * time.Second

// clientName identifies the gateway to backends during the handshake.
const clientName = "toolgate"

// ErrNotConnected is returned for operations on a client that has not been
// initialized or has been closed.
var ErrNotConnected = errors.New("client not connected")

// ErrTerminated is returned when the backend went away under a pending
// operation (child exit, stream disconnect).
var ErrTerminated = errors.New("backend terminated")

// Client is the uniform per-backend connection contract.
type Client interface {
	// Initialize establishes the connection and performs the protocol
	// handshake. It is safe to call on an already-initialized client.
	Initialize(ctx context.Context) error
	// Close terminates the underlying resource and unblocks pending sends.
	Close() error
	// ListTools returns all tools the backend advertises.
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	// CallTool executes one tool and returns its result.
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
	// Ping checks that the backend is responsive.
	Ping(ctx context.Context) error
	// Kind reports the transport variant.
	Kind() catalog.TransportKind
	// Healthy reports whether the underlying connection is believed open.
	Healthy() bool
}

// Compile-time interface compliance checks.
var (
	_ Client = (*StdioClient)(nil)
	_ Client = (*HTTPClient)(nil)
	_ Client = (*SSEClient)(nil)
)

// New builds the client matching the catalog spec. Credentials are the
// already-resolved values for the backend's required keys; the child
// transport injects them into the subprocess environment, the HTTP and SSE
// transports leave header construction to the catalog.
func New(id string, spec *catalog.ServerSpec, credentials map[string]string) (Client, error) {
	switch spec.Transport {
	case catalog.TransportChild:
		env := make(map[string]string, len(spec.Environment)+len(credentials))
		for k, v := range spec.Environment {
			env[k] = v
		}
		for k, v := range credentials {
			env[k] = v
		}
		return NewStdioClient(id, spec.Command, spec.Args, spec.WorkingDir, env), nil
	case catalog.TransportHTTP:
		return NewHTTPClient(id, spec.URL, spec.Headers, specTimeout(spec)), nil
	case catalog.TransportSSE:
		return NewSSEClient(id, spec.URL, spec.Headers, specTimeout(spec)), nil
	default:
		return nil, fmt.Errorf("unknown transport %q for backend %s", spec.Transport, id)
	}
}

func specTimeout(spec *catalog.ServerSpec) time.Duration {
	if spec.TimeoutSeconds > 0 {
		return time.Duration(spec.TimeoutSeconds) * time.Second
	}
	return DefaultTimeout
}

// baseClient provides the protocol operations shared by all transports.
type baseClient struct {
	client    client.MCPClient
	mu        sync.RWMutex
	connected bool
	timeout   time.Duration
}

// checkConnected verifies the client is usable. Caller must hold at least a
// read lock on mu.
func (b *baseClient) checkConnected() error {
	if !b.connected || b.client == nil {
		return ErrNotConnected
	}
	return nil
}

// withTimeout applies the transport default when the caller's context has
// no deadline.
func (b *baseClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	timeout := b.timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (b *baseClient) closeClient() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected || b.client == nil {
		return nil
	}

	err := b.client.Close()
	b.connected = false
	b.client = nil
	return err
}

func (b *baseClient) listTools(ctx context.Context) ([]mcp.Tool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkConnected(); err != nil {
		return nil, err
	}

	opCtx, cancel := b.withTimeout(ctx)
	defer cancel()

	result, err := b.client.ListTools(opCtx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	return result.Tools, nil
}

func (b *baseClient) callTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkConnected(); err != nil {
		return nil, err
	}

	opCtx, cancel := b.withTimeout(ctx)
	defer cancel()

	result, err := b.client.CallTool(opCtx, mcp.CallToolRequest{
		Params: struct {
			Name      string    `json:"name"`
			Arguments any       `json:"arguments,omitempty"`
			Meta      *mcp.Meta `json:"_meta,omitempty"`
		}{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call tool %s: %w", name, err)
	}
	return result, nil
}

func (b *baseClient) ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := b.checkConnected(); err != nil {
		return err
	}

	opCtx, cancel := b.withTimeout(ctx)
	defer cancel()

	return b.client.Ping(opCtx)
}

func (b *baseClient) healthy() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected && b.client != nil
}

// initializeRequest builds the handshake request common to all transports.
func initializeRequest() mcp.InitializeRequest {
	return mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: "2024-11-05",
			ClientInfo: mcp.Implementation{
				Name:    clientName,
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	}
}

// ResultJSON renders a tool result as a raw JSON document so the router can
// rewrite and forward it without re-interpreting backend output.
func ResultJSON(result *mcp.CallToolResult) (json.RawMessage, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return data, nil
}
