// Package router dispatches client JSON-RPC requests across the backends.
//
// initialize and ping are answered locally; tools/list returns the
// credential-filtered union of every backend's namespaced tools; tools/call
// resolves the namespaced name (split on the FIRST colon), gates on
// credential availability, lazily starts and discovers the owning backend,
// translates path arguments both ways, and forwards with a gateway-issued
// id while the caller's id is preserved on the reply. The router never
// retries: every failure maps to exactly one gateway error and surfaces.
package router
