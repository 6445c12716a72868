package router

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"toolgate/internal/inventory"
	"toolgate/internal/lifecycle"
	"toolgate/internal/pathmap"
	"toolgate/internal/protocol"
	"toolgate/internal/registry"
	"toolgate/internal/transport"
	"toolgate/pkg/logging"
)

// ServerName identifies the gateway in initialize answers and the manifest.
const ServerName = "toolgate"

// ServerVersion is the gateway version advertised to clients.
const ServerVersion = "1.0.0"

// Router dispatches one request at a time; concurrency comes from the
// callers.
type Router struct {
	registry    *registry.Registry
	inventory   *inventory.Cache
	credentials credentialChecker
	lifecycle   activityTracker
	translator  *pathmap.Translator
}

// credentialChecker is the slice of the credential store the router needs.
type credentialChecker interface {
	Missing(keys []string) []string
}

// activityTracker is the slice of the lifecycle manager the router needs.
type activityTracker interface {
	Touch(backendID, clientID string)
}

// New wires the router to its collaborators.
func New(reg *registry.Registry, inv *inventory.Cache, creds credentialChecker, lc *lifecycle.Manager, translator *pathmap.Translator) *Router {
	var tracker activityTracker
	if lc != nil {
		tracker = lc
	}
	return &Router{
		registry:    reg,
		inventory:   inv,
		credentials: creds,
		lifecycle:   tracker,
		translator:  translator,
	}
}

// Handle answers one JSON-RPC request. Notifications (no id on the wire)
// yield a nil response. clientID names the SSE session issuing the request;
// it is empty for inline POST callers.
func (r *Router) Handle(ctx context.Context, clientID string, req *protocol.Request) *protocol.Response {
	resp := r.dispatch(ctx, clientID, req)
	if req.Id == nil {
		return nil
	}
	return resp
}

// dispatch routes one request by method.
func (r *Router) dispatch(ctx context.Context, clientID string, req *protocol.Request) *protocol.Response {
	switch req.Method {
	case protocol.MethodInitialize:
		return r.handleInitialize(req)
	case protocol.MethodInitialized:
		// Client acknowledgment; nothing to answer.
		return nil
	case protocol.MethodPing:
		return protocol.NewResult(req.Id, struct{}{})
	case protocol.MethodToolsList:
		return r.handleToolsList(ctx, req)
	case protocol.MethodToolsCall:
		return r.handleToolsCall(ctx, clientID, req)
	default:
		if strings.Contains(req.Method, ":") {
			return r.forwardNamespacedMethod(ctx, clientID, req)
		}
		return protocol.NewErrorResponse(req.Id,
			protocol.NewError(protocol.KindMethodNotFound, "method %q is not supported by the gateway", req.Method))
	}
}

// handleInitialize answers locally; backends are never touched.
func (r *Router) handleInitialize(req *protocol.Request) *protocol.Response {
	return protocol.NewResult(req.Id, protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities: protocol.ServerCapabilities{
			Tools: &protocol.ToolsCapability{ListChanged: true},
		},
		ServerInfo: protocol.ServerInfo{
			Name:    ServerName,
			Version: ServerVersion,
		},
	})
}

// handleToolsList returns the filtered union of every backend's tools.
func (r *Router) handleToolsList(ctx context.Context, req *protocol.Request) *protocol.Response {
	return protocol.NewResult(req.Id, protocol.ListToolsResult{Tools: r.ListTools(ctx)})
}

// ListTools computes the advertised tool set: one entry per cached tool of
// every backend whose required credential keys are all present at this
// instant. A stale entry for a running backend is refreshed in place;
// backends that are not running keep their tools listed only while fresh.
func (r *Router) ListTools(ctx context.Context) []protocol.ToolDef {
	defs := []protocol.ToolDef{}
	for _, backend := range r.registry.List() {
		if missing := r.credentials.Missing(backend.Spec.RequiredKeys); len(missing) > 0 {
			logging.Debug("Router", "Filtering tools of %s: missing keys %v", backend.ID, missing)
			continue
		}

		if !r.inventory.Fresh(backend.ID) && backend.State() == registry.StateRunning {
			if client, err := backend.Client(); err == nil {
				if _, err := r.inventory.Discover(ctx, backend.ID, client); err != nil {
					logging.Warn("Router", "Refresh failed for %s: %v", backend.ID, err)
				}
			}
		}
		if !r.inventory.Fresh(backend.ID) {
			continue
		}

		tools, _, _ := r.inventory.Get(backend.ID)
		for _, tool := range tools {
			defs = append(defs, protocol.ToolDef{
				Name:        tool.Namespaced(),
				Description: tool.Description,
				InputSchema: tool.InputSchema,
			})
		}
	}
	return defs
}

// handleToolsCall runs the dispatch pipeline. Each failure produces the
// specified gateway error with the caller's id preserved.
func (r *Router) handleToolsCall(ctx context.Context, clientID string, req *protocol.Request) *protocol.Response {
	var params protocol.CallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return protocol.NewErrorResponse(req.Id,
			protocol.NewError(protocol.KindInvalidParams, "invalid tools/call params: %v", err))
	}

	backendID, toolName, ok := inventory.SplitName(params.Name)
	if !ok {
		return protocol.NewErrorResponse(req.Id,
			protocol.NewError(protocol.KindInvalidParams, "tool name %q is not of the form <backend>:<tool>", params.Name))
	}

	backend, found := r.registry.Get(backendID)
	if !found {
		return protocol.NewErrorResponse(req.Id,
			protocol.NewError(protocol.KindUnknownTool, "no backend registered for tool %s", params.Name))
	}

	// The inventory answers authoritatively only while fresh; a stale or
	// absent entry means the backend must be started and rediscovered.
	needDiscovery := !r.inventory.Fresh(backendID) || backend.State() != registry.StateRunning
	if !needDiscovery {
		if _, ok := r.inventory.Lookup(backendID, toolName); !ok {
			return protocol.NewErrorResponse(req.Id,
				protocol.NewError(protocol.KindUnknownTool, "backend %s does not provide tool %s", backendID, toolName))
		}
	}

	if missing := r.credentials.Missing(backend.Spec.RequiredKeys); len(missing) > 0 {
		return protocol.NewErrorResponse(req.Id, protocol.NewMissingCredentials(params.Name, missing))
	}

	if r.lifecycle != nil {
		r.lifecycle.Touch(backendID, clientID)
	}

	if err := r.registry.EnsureRunning(ctx, backendID); err != nil {
		return protocol.NewErrorResponse(req.Id,
			protocol.WrapError(protocol.KindBackendUnavailable, err, "backend %s failed to start: %v", backendID, shortCause(err)))
	}

	client, err := backend.Client()
	if err != nil {
		return protocol.NewErrorResponse(req.Id,
			protocol.NewError(protocol.KindBackendUnavailable, "backend %s is not serving requests", backendID))
	}

	if needDiscovery {
		if _, err := r.inventory.Discover(ctx, backendID, client); err != nil {
			return protocol.NewErrorResponse(req.Id,
				protocol.WrapError(protocol.KindBackendUnavailable, err, "backend %s discovery failed: %v", backendID, shortCause(err)))
		}
		if _, ok := r.inventory.Lookup(backendID, toolName); !ok {
			return protocol.NewErrorResponse(req.Id,
				protocol.NewError(protocol.KindUnknownTool, "backend %s does not provide tool %s", backendID, toolName))
		}
	}

	args := r.translator.RewriteArguments(toolName, params.Arguments)

	// The backend sees the original tool name and a fresh gateway-issued
	// id; the caller's id never crosses the boundary.
	result, err := client.CallTool(ctx, toolName, args)
	if err != nil {
		return protocol.NewErrorResponse(req.Id, r.classifyCallError(backendID, err))
	}

	raw, err := transport.ResultJSON(result)
	if err != nil {
		return protocol.NewErrorResponse(req.Id,
			protocol.NewError(protocol.KindInternal, "backend %s returned an unencodable result", backendID))
	}

	return protocol.NewRawResult(req.Id, r.rewriteResultPaths(raw))
}

// classifyCallError maps a transport failure onto the error taxonomy.
func (r *Router) classifyCallError(backendID string, err error) *protocol.Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		// The pending id was purged by the transport when the deadline hit.
		return protocol.WrapError(protocol.KindBackendTimeout, err, "backend %s timed out", backendID)
	case errors.Is(err, transport.ErrTerminated), errors.Is(err, transport.ErrNotConnected):
		return protocol.WrapError(protocol.KindBackendTerminated, err, "backend %s terminated while the call was pending", backendID)
	case errors.Is(err, context.Canceled):
		return protocol.WrapError(protocol.KindBackendTerminated, err, "call to backend %s was cancelled", backendID)
	default:
		return protocol.WrapError(protocol.KindInternal, err, "backend %s error: %v", backendID, shortCause(err))
	}
}

// rewriteResultPaths walks the result document and translates path-like
// string fields back into the client's view. Anything that does not parse
// as a JSON tree passes through verbatim.
func (r *Router) rewriteResultPaths(raw json.RawMessage) json.RawMessage {
	var tree interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return raw
	}
	rewritten := r.translator.RewriteResponse(tree)
	out, err := json.Marshal(rewritten)
	if err != nil {
		return raw
	}
	return out
}

// forwardNamespacedMethod handles methods of the form <backend>:<method>.
// Only the protocol operations a backend transport exposes are routable.
func (r *Router) forwardNamespacedMethod(ctx context.Context, clientID string, req *protocol.Request) *protocol.Response {
	backendID, method, ok := inventory.SplitName(req.Method)
	if !ok {
		return protocol.NewErrorResponse(req.Id,
			protocol.NewError(protocol.KindMethodNotFound, "method %q is not supported by the gateway", req.Method))
	}

	backend, found := r.registry.Get(backendID)
	if !found {
		return protocol.NewErrorResponse(req.Id,
			protocol.NewError(protocol.KindMethodNotFound, "no backend %s for method %s", backendID, req.Method))
	}

	if missing := r.credentials.Missing(backend.Spec.RequiredKeys); len(missing) > 0 {
		return protocol.NewErrorResponse(req.Id, protocol.NewMissingCredentials(req.Method, missing))
	}

	if r.lifecycle != nil {
		r.lifecycle.Touch(backendID, clientID)
	}

	if err := r.registry.EnsureRunning(ctx, backendID); err != nil {
		return protocol.NewErrorResponse(req.Id,
			protocol.WrapError(protocol.KindBackendUnavailable, err, "backend %s failed to start: %v", backendID, shortCause(err)))
	}

	client, err := backend.Client()
	if err != nil {
		return protocol.NewErrorResponse(req.Id,
			protocol.NewError(protocol.KindBackendUnavailable, "backend %s is not serving requests", backendID))
	}

	switch method {
	case protocol.MethodPing:
		if err := client.Ping(ctx); err != nil {
			return protocol.NewErrorResponse(req.Id, r.classifyCallError(backendID, err))
		}
		return protocol.NewResult(req.Id, struct{}{})
	case protocol.MethodToolsList:
		tools, err := r.inventory.Discover(ctx, backendID, client)
		if err != nil {
			return protocol.NewErrorResponse(req.Id, r.classifyCallError(backendID, err))
		}
		defs := make([]protocol.ToolDef, 0, len(tools))
		for _, tool := range tools {
			defs = append(defs, protocol.ToolDef{
				Name:        tool.Namespaced(),
				Description: tool.Description,
				InputSchema: tool.InputSchema,
			})
		}
		return protocol.NewResult(req.Id, protocol.ListToolsResult{Tools: defs})
	default:
		return protocol.NewErrorResponse(req.Id,
			protocol.NewError(protocol.KindMethodNotFound, "backend %s does not route method %q", backendID, method))
	}
}

// shortCause trims an error chain to its final, human-sized cause.
func shortCause(err error) string {
	msg := err.Error()
	if idx := strings.LastIndex(msg, ": "); idx >= 0 && idx+2 < len(msg) {
		return msg[idx+2:]
	}
	return msg
}
