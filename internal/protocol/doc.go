// Package protocol defines the JSON-RPC 2.0 surface of the gateway.
//
// The front endpoint speaks raw JSON-RPC: requests are parsed into
// jsonrpc.Request values (github.com/viant/jsonrpc), responses are emitted
// through the Response envelope defined here so that success frames never
// carry an error member and vice versa. The package also owns the gateway's
// error taxonomy: every failure a caller can observe maps to exactly one
// Kind and one wire code.
package protocol
