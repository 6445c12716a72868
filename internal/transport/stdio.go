package transport

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync/atomic"

	"toolgate/internal/catalog"
	"toolgate/pkg/logging"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// stderrTailSize bounds the diagnostics kept per child process.
const stderrTailSize = 64 * 1024

// StdioClient runs a backend as a child process speaking line-delimited
// JSON-RPC on stdin/stdout. Stderr is captured to a ring buffer and never
// parsed.
type StdioClient struct {
	baseClient
	id         string
	command    string
	args       []string
	workingDir string
	env        map[string]string

	stderr   *ringBuffer
	exited   atomic.Bool
	lastExit atomic.Value // error
}

// NewStdioClient creates a child-process client. The environment passed in
// is the complete child environment extension: catalog environment plus
// injected credentials. The ambient process environment is inherited by the
// runtime, never consulted here.
func NewStdioClient(id, command string, args []string, workingDir string, env map[string]string) *StdioClient {
	return &StdioClient{
		baseClient: baseClient{timeout: DefaultTimeout},
		id:         id,
		command:    command,
		args:       args,
		workingDir: workingDir,
		env:        env,
		stderr:     newRingBuffer(stderrTailSize),
	}
}

// Initialize spawns the child and performs the protocol handshake.
func (c *StdioClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	logging.Debug("StdioClient", "Spawning %s: %s %v", c.id, c.command, c.args)

	var envStrings []string
	for k, v := range c.env {
		envStrings = append(envStrings, fmt.Sprintf("%s=%s", k, v))
	}

	var mcpClient *client.Client
	if c.workingDir != "" {
		workingDir := c.workingDir
		stdioTransport := transport.NewStdioWithOptions(c.command, envStrings, c.args,
			transport.WithCommandFunc(func(ctx context.Context, command string, env []string, args []string) (*exec.Cmd, error) {
				cmd := exec.CommandContext(ctx, command, args...)
				cmd.Env = env
				cmd.Dir = workingDir
				return cmd, nil
			}))
		mcpClient = client.NewClient(stdioTransport)
		if err := mcpClient.Start(ctx); err != nil {
			return fmt.Errorf("failed to start child for %s: %w", c.id, err)
		}
	} else {
		var err error
		mcpClient, err = client.NewStdioMCPClient(c.command, envStrings, c.args...)
		if err != nil {
			return fmt.Errorf("failed to spawn child for %s: %w", c.id, err)
		}
	}

	initCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, initializeTimeout)
		defer cancel()
	}

	if _, err := mcpClient.Initialize(initCtx, initializeRequest()); err != nil {
		logging.Error("StdioClient", err, "Handshake failed for %s", c.id)
		if closeErr := mcpClient.Close(); closeErr != nil {
			logging.Debug("StdioClient", "Error closing failed client for %s: %v", c.id, closeErr)
		}
		return fmt.Errorf("failed to initialize protocol for %s: %w", c.id, err)
	}

	c.client = mcpClient
	c.connected = true
	c.exited.Store(false)

	if stderr, ok := client.GetStderr(mcpClient); ok {
		go c.drainStderr(stderr)
	}

	logging.Debug("StdioClient", "Child %s ready", c.id)
	return nil
}

// drainStderr copies child stderr into the ring buffer. EOF means the child
// went away; the client is marked terminated so pending and future sends
// fail fast.
func (c *StdioClient) drainStderr(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			c.stderr.Write(buf[:n])
		}
		if err != nil {
			c.exited.Store(true)
			c.lastExit.Store(fmt.Errorf("%w: child %s exited", ErrTerminated, c.id))
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			if tail := c.stderr.Tail(); len(tail) > 0 {
				logging.Debug("StdioClient", "Child %s stderr tail: %s", c.id, string(tail))
			}
			return
		}
	}
}

// Close terminates the child process.
func (c *StdioClient) Close() error {
	return c.closeClient()
}

// ListTools returns all tools the child advertises.
func (c *StdioClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return c.listTools(ctx)
}

// CallTool executes one tool on the child.
func (c *StdioClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return c.callTool(ctx, name, args)
}

// Ping checks the child is responsive.
func (c *StdioClient) Ping(ctx context.Context) error {
	return c.ping(ctx)
}

// Kind reports the child-process transport.
func (c *StdioClient) Kind() catalog.TransportKind {
	return catalog.TransportChild
}

// Healthy reports whether the child process is still believed alive.
func (c *StdioClient) Healthy() bool {
	return c.healthy() && !c.exited.Load()
}

// StderrTail returns the most recent child stderr output for diagnostics.
func (c *StdioClient) StderrTail() []byte {
	return c.stderr.Tail()
}
