package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"toolgate/internal/protocol"
	"toolgate/internal/registry"
	"toolgate/internal/router"
	"toolgate/pkg/logging"
)

// handleMCP splits the shared prefix between the stream and the inbox.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleStream(w, r)
	case http.MethodPost:
		s.handleInbox(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleStream serves GET /mcp: the long-lived SSE response.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sess := newSession(r.Context())
	s.sessions.add(sess)
	defer func() {
		sess.close()
		s.sessions.remove(sess.id)
		// Release every backend claim this client held; idle backends get
		// their reap deadline armed.
		if s.lifecycle != nil {
			s.lifecycle.Disconnect(sess.id)
		}
		logging.Info("Gateway", "Client %s disconnected", logging.TruncateSessionID(sess.id))
	}()

	logging.Info("Gateway", "Client %s connected", logging.TruncateSessionID(sess.id))

	// First frame: where to POST. The session_id parameter makes the inbox
	// URL self-correlating for clients that use it.
	fmt.Fprintf(w, "event: endpoint\ndata: %s?session_id=%s\n\n", mcpPath, sess.id)
	// Second frame: the session identity itself.
	fmt.Fprintf(w, "event: session\ndata: %s\n\n", sess.id)
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sess.ctx.Done():
			// Closed server-side (shutdown); unblock the handler so the
			// drain can complete.
			return
		case frame := <-sess.frames:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ":keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleInbox serves POST /mcp: one JSON-RPC request per call.
func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 10<<20))
	if err != nil {
		writeJSONResponse(w, protocol.NewErrorResponse(nil,
			protocol.NewError(protocol.KindInvalidRequest, "failed to read request body")))
		return
	}

	req, gwErr := protocol.ParseRequest(body)
	if gwErr != nil {
		writeJSONResponse(w, protocol.NewErrorResponse(nil, gwErr))
		return
	}

	// Correlation target: the explicitly named session when given, else the
	// most recently opened still-open stream.
	target, haveTarget := s.correlate(r)

	clientID := ""
	dispatchCtx := r.Context()
	if haveTarget {
		clientID = target.id
		// In-flight work is cancelled when the stream's client disconnects,
		// not when this POST returns.
		dispatchCtx = target.ctx
	}

	if req.Method == protocol.MethodInitialize {
		var params protocol.InitializeParams
		if err := json.Unmarshal(req.Params, &params); err == nil && haveTarget {
			target.setProtocolVersion(params.ProtocolVersion)
		}
	}

	resp := s.router.Handle(dispatchCtx, clientID, req)
	if resp == nil {
		// Notification: nothing to deliver.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if haveTarget {
		frame, err := json.Marshal(resp)
		if err != nil {
			writeJSONResponse(w, protocol.NewErrorResponse(req.Id,
				protocol.NewError(protocol.KindInternal, "failed to encode response")))
			return
		}
		if target.send(frame) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		// The stream died between correlation and delivery; fall through to
		// an inline answer.
	}

	writeJSONResponse(w, resp)
}

// correlate picks the stream a POST belongs to.
func (s *Server) correlate(r *http.Request) (*session, bool) {
	if id := r.Header.Get("X-Session-ID"); id != "" {
		if sess, ok := s.sessions.get(id); ok {
			return sess, true
		}
	}
	if id := r.URL.Query().Get("session_id"); id != "" {
		if sess, ok := s.sessions.get(id); ok {
			return sess, true
		}
	}
	return s.sessions.newest()
}

func writeJSONResponse(w http.ResponseWriter, resp *protocol.Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Debug("Gateway", "Failed to write inline response: %v", err)
	}
}

// handleHealth serves GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	backends := s.registry.List()
	running := 0
	for _, b := range backends {
		if b.State() == registry.StateRunning {
			running++
		}
	}

	writeJSON(w, map[string]interface{}{
		"status":          s.monitor.Overall(),
		"backendsTotal":   len(backends),
		"backendsRunning": running,
		"openSessions":    s.sessions.count(),
	})
}

// handleServices serves GET /health/services with per-backend detail.
func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := s.monitor.Results()
	services := make(map[string]interface{}, len(s.registry.List()))
	for _, b := range s.registry.List() {
		entry := map[string]interface{}{
			"state":     string(b.State()),
			"transport": string(b.Spec.Transport),
		}
		if err := b.LastError(); err != nil {
			entry["lastError"] = err.Error()
		}
		if s.lifecycle != nil {
			entry["activeClients"] = s.lifecycle.ActiveClients(b.ID)
			if lastUsed, ok := s.lifecycle.LastUsed(b.ID); ok {
				entry["lastUsed"] = lastUsed
			}
		}
		if check, ok := checks[b.ID]; ok {
			entry["health"] = check
		}
		services[b.ID] = entry
	}

	writeJSON(w, map[string]interface{}{
		"status":   s.monitor.Overall(),
		"services": services,
	})
}

// handleManifest serves the discovery manifest: identity, endpoint, and the
// currently advertised (credential-filtered) tools.
func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]interface{}{
		"name":     router.ServerName,
		"version":  router.ServerVersion,
		"endpoint": s.Endpoint(),
		"capabilities": map[string]interface{}{
			"tools": true,
		},
		"tools": s.router.ListTools(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Gateway", "Failed to write JSON response: %v", err)
	}
}
