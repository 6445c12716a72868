package protocol

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/jsonrpc"
)

func TestKindCodes(t *testing.T) {
	tests := []struct {
		kind Kind
		code int
	}{
		{KindInvalidRequest, -32600},
		{KindMethodNotFound, -32601},
		{KindInvalidParams, -32602},
		{KindUnknownTool, -32603},
		{KindMissingCredentials, -32603},
		{KindBackendUnavailable, -32603},
		{KindBackendTimeout, -32603},
		{KindBackendTerminated, -32603},
		{KindInternal, -32603},
		{KindAuthFailure, -32001},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.code, tt.kind.Code())
		})
	}
}

func TestWrapErrorPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapError(KindBackendTerminated, cause, "backend %s terminated", "fs")

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "BackendTerminated")
	assert.Contains(t, err.Error(), "fs")
}

func TestAsError(t *testing.T) {
	gw := NewError(KindUnknownTool, "no such tool")
	assert.Same(t, gw, AsError(fmt.Errorf("routed: %w", gw)))

	// Unexpected defects must not leak their message to the wire.
	got := AsError(errors.New("nil pointer dereference at router.go:42"))
	assert.Equal(t, KindInternal, got.Kind)
	assert.NotContains(t, got.Message, "router.go")
}

func TestNewMissingCredentials(t *testing.T) {
	err := NewMissingCredentials("brave:search", []string{"BRAVE"})

	assert.Equal(t, KindMissingCredentials, err.Kind)
	assert.Contains(t, err.Message, "MISSING_API_KEYS")

	data, ok := err.Data.(MissingCredentialsData)
	require.True(t, ok)
	assert.Equal(t, []string{"BRAVE"}, data.MissingKeys)
	assert.Contains(t, data.Remediation, "BRAVE_API_KEY")

	wire := err.Wire()
	assert.Equal(t, jsonrpc.InternalError, wire.Code)
}

func TestEnvKeyHint(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"brave", "BRAVE_API_KEY"},
		{"BRAVE", "BRAVE_API_KEY"},
		{"github-token", "GITHUB_TOKEN_API_KEY"},
		{"my.service", "MY_SERVICE_API_KEY"},
		{"OPENWEATHER_API_KEY", "OPENWEATHER_API_KEY"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, EnvKeyHint(tt.key), "key %q", tt.key)
	}
}
