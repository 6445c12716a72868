// Package transport connects the gateway to its backends.
//
// One Client interface, three implementations: a child process speaking
// line-delimited JSON-RPC on stdio, a streamable HTTP endpoint, and an SSE
// stream with a companion POST inbox. All three wrap the mcp-go client,
// which owns the wire mechanics shared by every transport: requests carry
// gateway-issued ids, responses are paired to pending sends strictly by id,
// unknown ids are dropped, writes to a single backend never interleave, and
// a closed transport unblocks every pending send with an error.
//
// The stdio client additionally drains the child's stderr into a bounded
// ring buffer for diagnostics; stderr is never parsed for semantics.
package transport
