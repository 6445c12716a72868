// Package transporttest provides a scriptable in-memory transport.Client
// for tests across the gateway packages.
package transporttest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"toolgate/internal/catalog"
	"toolgate/internal/transport"

	"github.com/mark3labs/mcp-go/mcp"
)

// FakeClient implements transport.Client against in-memory tool tables.
type FakeClient struct {
	ID            string
	TransportKind catalog.TransportKind

	mu    sync.Mutex
	tools []mcp.Tool
	// callResults maps tool name to the raw JSON result returned for it.
	callResults map[string]json.RawMessage
	// callErrs maps tool name to a forced error.
	callErrs map[string]error

	InitErr error
	healthy atomic.Bool

	InitCalls  atomic.Int32
	ListCalls  atomic.Int32
	CloseCalls atomic.Int32

	// LastCallName and LastCallArgs record the most recent CallTool.
	LastCallName string
	LastCallArgs map[string]interface{}

	// ListDelay, when set, blocks ListTools until released. Used to test
	// discovery deduplication.
	ListDelay chan struct{}
}

// NewFakeClient creates a healthy fake with no tools.
func NewFakeClient(id string) *FakeClient {
	f := &FakeClient{
		ID:            id,
		TransportKind: catalog.TransportChild,
		callResults:   make(map[string]json.RawMessage),
		callErrs:      make(map[string]error),
	}
	return f
}

// SetTools replaces the advertised tool list.
func (f *FakeClient) SetTools(tools ...mcp.Tool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tools = tools
}

// SetCallResult scripts the JSON result for one tool.
func (f *FakeClient) SetCallResult(name string, result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callResults[name] = json.RawMessage(result)
}

// SetCallErr scripts a failure for one tool.
func (f *FakeClient) SetCallErr(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callErrs[name] = err
}

func (f *FakeClient) Initialize(ctx context.Context) error {
	f.InitCalls.Add(1)
	if f.InitErr != nil {
		return f.InitErr
	}
	f.healthy.Store(true)
	return nil
}

func (f *FakeClient) Close() error {
	f.CloseCalls.Add(1)
	f.healthy.Store(false)
	return nil
}

func (f *FakeClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	f.ListCalls.Add(1)
	if f.ListDelay != nil {
		select {
		case <-f.ListDelay:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !f.healthy.Load() {
		return nil, transport.ErrNotConnected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]mcp.Tool, len(f.tools))
	copy(out, f.tools)
	return out, nil
}

func (f *FakeClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	if !f.healthy.Load() {
		return nil, transport.ErrNotConnected
	}
	f.mu.Lock()
	f.LastCallName = name
	f.LastCallArgs = args
	err := f.callErrs[name]
	raw, ok := f.callResults[name]
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("fake backend %s has no tool %s", f.ID, name)
	}

	var result mcp.CallToolResult
	if jsonErr := json.Unmarshal(raw, &result); jsonErr != nil {
		// Scripts may provide bare payloads; wrap them as text content.
		result = *mcp.NewToolResultText(string(raw))
	}
	return &result, nil
}

func (f *FakeClient) Ping(ctx context.Context) error {
	if !f.healthy.Load() {
		return transport.ErrNotConnected
	}
	return nil
}

func (f *FakeClient) Kind() catalog.TransportKind {
	return f.TransportKind
}

func (f *FakeClient) Healthy() bool {
	return f.healthy.Load()
}

// SetHealthy forces the health flag, simulating a dead child or dropped
// stream.
func (f *FakeClient) SetHealthy(healthy bool) {
	f.healthy.Store(healthy)
}

var _ transport.Client = (*FakeClient)(nil)
