package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	req, gwErr := ParseRequest([]byte(`{"jsonrpc":"2.0","id":"a","method":"tools/call","params":{"name":"fs:read"}}`))
	require.Nil(t, gwErr)
	assert.Equal(t, "tools/call", req.Method)
	assert.Equal(t, "a", req.Id)
}

func TestParseRequestAcceptsNotifications(t *testing.T) {
	req, gwErr := ParseRequest([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.Nil(t, gwErr)
	assert.Equal(t, "notifications/initialized", req.Method)
	assert.Nil(t, req.Id)
}

func TestParseRequestRejectsBadVersion(t *testing.T) {
	_, gwErr := ParseRequest([]byte(`{"jsonrpc":"1.0","id":1,"method":"ping"}`))
	require.NotNil(t, gwErr)
	assert.Equal(t, KindInvalidRequest, gwErr.Kind)
}

func TestParseRequestRejectsMalformedJSON(t *testing.T) {
	_, gwErr := ParseRequest([]byte(`{"jsonrpc":`))
	require.NotNil(t, gwErr)
	assert.Equal(t, KindInvalidRequest, gwErr.Kind)
}

func TestNewResultOmitsErrorMember(t *testing.T) {
	resp := NewResult("a", map[string]bool{"ok": true})
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"a","result":{"ok":true}}`, string(data))
	assert.NotContains(t, string(data), "error")
}

func TestNewErrorResponseOmitsResultMember(t *testing.T) {
	resp := NewErrorResponse(7, NewError(KindMethodNotFound, "no such method"))
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "error")
	assert.NotContains(t, decoded, "result")
}

func TestCallerIDPreservedVerbatim(t *testing.T) {
	// Ids may be strings or numbers; both round-trip untouched.
	for _, id := range []RequestID{"a", float64(42)} {
		resp := NewResult(id, struct{}{})
		data, err := json.Marshal(resp)
		require.NoError(t, err)

		var decoded struct {
			ID interface{} `json:"id"`
		}
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, id, decoded.ID)
	}
}
