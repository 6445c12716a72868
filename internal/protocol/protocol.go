package protocol

import (
	"encoding/json"

	"github.com/viant/jsonrpc"
)

// Method names the gateway understands locally. Any other method is either
// forwarded to a backend (when namespaced) or rejected with MethodNotFound.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodPing        = "ping"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
)

// ProtocolVersion is the MCP protocol revision the gateway answers
// initialize with.
const ProtocolVersion = "2024-11-05"

// Request is the inbound JSON-RPC request envelope.
type Request = jsonrpc.Request

// RequestID is the opaque JSON-RPC id type. Ids issued by callers are
// preserved verbatim; ids seen by backends are always gateway-generated.
type RequestID = jsonrpc.RequestId

// Response is the outbound JSON-RPC envelope. Exactly one of Result and
// Error is set.
type Response struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      RequestID       `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpc.Error  `json:"error,omitempty"`
}

// ParseRequest decodes and validates a single JSON-RPC request. The id is
// optional on the wire: notifications carry none.
func ParseRequest(data []byte) (*Request, *Error) {
	var raw struct {
		Jsonrpc string          `json:"jsonrpc"`
		ID      RequestID       `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, NewError(KindInvalidRequest, "malformed JSON-RPC request: %v", err)
	}
	if raw.Jsonrpc != jsonrpc.Version {
		return nil, NewError(KindInvalidRequest, "unsupported jsonrpc version %q", raw.Jsonrpc)
	}
	if raw.Method == "" {
		return nil, NewError(KindInvalidRequest, "missing method")
	}
	return &Request{
		Jsonrpc: raw.Jsonrpc,
		Id:      raw.ID,
		Method:  raw.Method,
		Params:  raw.Params,
	}, nil
}

// NewResult builds a success response carrying the marshaled result value.
func NewResult(id RequestID, result interface{}) *Response {
	data, err := json.Marshal(result)
	if err != nil {
		return NewErrorResponse(id, NewError(KindInternal, "failed to encode result"))
	}
	return &Response{
		Jsonrpc: jsonrpc.Version,
		ID:      id,
		Result:  data,
	}
}

// NewRawResult builds a success response from an already-encoded result.
func NewRawResult(id RequestID, result json.RawMessage) *Response {
	return &Response{
		Jsonrpc: jsonrpc.Version,
		ID:      id,
		Result:  result,
	}
}

// NewErrorResponse builds an error response for the given gateway error.
func NewErrorResponse(id RequestID, gwErr *Error) *Response {
	return &Response{
		Jsonrpc: jsonrpc.Version,
		ID:      id,
		Error:   gwErr.Wire(),
	}
}

// CallParams is the parameter shape of a tools/call request.
type CallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// ToolDef is the wire form of an advertised tool. The input schema is an
// opaque blob preserved verbatim from the owning backend.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListToolsResult is the result shape of a tools/list response.
type ListToolsResult struct {
	Tools []ToolDef `json:"tools"`
}

// InitializeParams is the subset of the client's initialize params the
// gateway captures.
type InitializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
	ClientInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
}

// InitializeResult is the gateway's local initialize answer.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
}

// ServerCapabilities advertises what the gateway itself supports.
type ServerCapabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability flags tool support with change notifications.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ServerInfo identifies the gateway to clients.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
