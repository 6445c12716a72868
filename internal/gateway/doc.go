// Package gateway is the front SSE/HTTP endpoint clients connect to.
//
// GET /mcp opens the event stream: an endpoint event announcing the POST
// inbox, a session event carrying a fresh opaque id, then data frames and
// keepalive comments. POST /mcp accepts one JSON-RPC request and answers
// 204 after writing the response onto the correlated stream, or inline when
// no stream is open.
//
// Correlation is by most-recently-opened still-open stream. That is a
// heuristic inherited from the protocol's common deployments, not a
// contract. Clients that need precision send the X-Session-ID header (or
// the session_id query parameter baked into the announced inbox URL), which
// selects the exact stream.
//
// Both endpoints check one pre-shared key, passed as X-API-Key or ?api_key.
package gateway
