package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"toolgate/internal/catalog"
	"toolgate/internal/credential"
	"toolgate/internal/health"
	"toolgate/internal/inventory"
	"toolgate/internal/lifecycle"
	"toolgate/internal/pathmap"
	"toolgate/internal/registry"
	"toolgate/internal/router"
	"toolgate/internal/transport"
	"toolgate/internal/transport/transporttest"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gatewayFixture struct {
	server   *Server
	ts       *httptest.Server
	registry *registry.Registry
	life     *lifecycle.Manager
	client   *transporttest.FakeClient
}

func newGatewayFixture(t *testing.T, apiKey string) *gatewayFixture {
	t.Helper()

	creds := credential.NewStore()
	reg := registry.New(creds, registry.HostInfo{OS: "linux"})

	fake := transporttest.NewFakeClient("fs")
	fake.SetTools(mcp.Tool{Name: "read", RawInputSchema: json.RawMessage(`{"type":"object"}`)})
	fake.SetCallResult("read", `{"content":[{"type":"text","text":"ok"}]}`)
	reg.SetClientFactory(func(id string, spec *catalog.ServerSpec, c map[string]string) (transport.Client, error) {
		return fake, nil
	})
	require.NoError(t, reg.Add("fs", &catalog.ServerSpec{Transport: catalog.TransportChild, Command: "fs-server"}, false))

	inv := inventory.NewCache("")
	life := lifecycle.NewManager(time.Hour, nil)
	rt := router.New(reg, inv, creds, life, pathmap.NewTranslator(nil))
	monitor := health.NewMonitor(reg, time.Minute)

	srv := NewServer(Config{Host: "localhost", Port: 0, APIKey: apiKey}, rt, reg, life, monitor)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &gatewayFixture{server: srv, ts: ts, registry: reg, life: life, client: fake}
}

// openStream connects an SSE client and returns the announced session id
// plus a channel of decoded data frames.
func (f *gatewayFixture) openStream(t *testing.T, apiKey string) (sessionID string, frames <-chan string, closeStream func()) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, f.ts.URL+"/mcp", nil)
	require.NoError(t, err)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	require.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	reader := bufio.NewReader(resp.Body)

	event, data := readEvent(t, reader)
	require.Equal(t, "endpoint", event)
	require.True(t, strings.HasPrefix(data, "/mcp?session_id="), "endpoint frame %q", data)

	event, data = readEvent(t, reader)
	require.Equal(t, "session", event)
	sessionID = data
	require.NotEmpty(t, sessionID)

	ch := make(chan string, 16)
	go func() {
		defer close(ch)
		for {
			event, data := readEventLoose(reader)
			if event == "" && data == "" {
				return
			}
			if data != "" && event == "" {
				ch <- data
			}
		}
	}()

	return sessionID, ch, func() { resp.Body.Close() }
}

// readEvent parses one SSE block, failing the test on stream errors.
func readEvent(t *testing.T, r *bufio.Reader) (event, data string) {
	t.Helper()
	event, data = readEventLoose(r)
	require.False(t, event == "" && data == "", "stream closed unexpectedly")
	return event, data
}

// readEventLoose parses one SSE block; comments are skipped. Returns empty
// strings once the stream closes.
func readEventLoose(r *bufio.Reader) (event, data string) {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", ""
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if event != "" || data != "" {
				return event, data
			}
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func (f *gatewayFixture) post(t *testing.T, apiKey, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.ts.URL+"/mcp", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func TestAuthRejectsMissingKey(t *testing.T) {
	f := newGatewayFixture(t, "secret")

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		req, _ := http.NewRequest(method, f.ts.URL+"/mcp", strings.NewReader("{}"))
		resp, err := f.ts.Client().Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		var body struct {
			Error struct {
				Code int `json:"code"`
			} `json:"error"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, -32001, body.Error.Code)
		resp.Body.Close()
	}
}

func TestAuthAcceptsQueryParameter(t *testing.T) {
	f := newGatewayFixture(t, "secret")

	resp, err := f.ts.Client().Post(f.ts.URL+"/mcp?api_key=secret", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "inline dispatch with no open stream")
}

func TestStreamAnnouncesEndpointAndSession(t *testing.T) {
	f := newGatewayFixture(t, "")

	sessionID, _, closeStream := f.openStream(t, "")
	defer closeStream()

	assert.NotEmpty(t, sessionID)
	assert.Equal(t, 1, f.server.OpenSessions())
}

func TestPostDispatchesToStream(t *testing.T) {
	f := newGatewayFixture(t, "")

	_, frames, closeStream := f.openStream(t, "")
	defer closeStream()

	resp := f.post(t, "", `{"jsonrpc":"2.0","id":"a","method":"tools/call","params":{"name":"fs:read","arguments":{"path":"/tmp/x"}}}`, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	select {
	case frame := <-frames:
		var decoded struct {
			Jsonrpc string          `json:"jsonrpc"`
			ID      interface{}     `json:"id"`
			Result  json.RawMessage `json:"result"`
		}
		require.NoError(t, json.Unmarshal([]byte(frame), &decoded))
		assert.Equal(t, "2.0", decoded.Jsonrpc)
		assert.Equal(t, "a", decoded.ID)
		assert.NotEmpty(t, decoded.Result)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered on the stream")
	}
}

func TestPostWithoutStreamAnswersInline(t *testing.T) {
	f := newGatewayFixture(t, "")

	resp := f.post(t, "", `{"jsonrpc":"2.0","id":7,"method":"ping"}`, nil)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	var decoded struct {
		ID     interface{}     `json:"id"`
		Result json.RawMessage `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, float64(7), decoded.ID)
}

func TestPostMalformedBodyAnswersInlineError(t *testing.T) {
	f := newGatewayFixture(t, "")

	resp := f.post(t, "", `{"jsonrpc":`, nil)
	defer resp.Body.Close()

	var decoded struct {
		Error struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, -32600, decoded.Error.Code)
}

func TestFramesAreFIFOPerClient(t *testing.T) {
	f := newGatewayFixture(t, "")

	_, frames, closeStream := f.openStream(t, "")
	defer closeStream()

	for i := 0; i < 5; i++ {
		resp := f.post(t, "", fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"ping"}`, i), nil)
		resp.Body.Close()
	}

	for i := 0; i < 5; i++ {
		select {
		case frame := <-frames:
			var decoded struct {
				ID float64 `json:"id"`
			}
			require.NoError(t, json.Unmarshal([]byte(frame), &decoded))
			assert.Equal(t, float64(i), decoded.ID, "frames must arrive in hand-off order")
		case <-time.After(2 * time.Second):
			t.Fatalf("frame %d never arrived", i)
		}
	}
}

func TestExplicitSessionHeaderTargetsStream(t *testing.T) {
	f := newGatewayFixture(t, "")

	firstID, firstFrames, closeFirst := f.openStream(t, "")
	defer closeFirst()
	_, secondFrames, closeSecond := f.openStream(t, "")
	defer closeSecond()

	// Without a header the newest stream wins; the header overrides it.
	resp := f.post(t, "", `{"jsonrpc":"2.0","id":"x","method":"ping"}`, map[string]string{"X-Session-ID": firstID})
	resp.Body.Close()

	select {
	case <-firstFrames:
	case <-time.After(2 * time.Second):
		t.Fatal("explicitly addressed stream did not receive the frame")
	}
	select {
	case <-secondFrames:
		t.Fatal("unaddressed stream must not receive the frame")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMostRecentStreamWins(t *testing.T) {
	f := newGatewayFixture(t, "")

	_, firstFrames, closeFirst := f.openStream(t, "")
	defer closeFirst()
	_, secondFrames, closeSecond := f.openStream(t, "")
	defer closeSecond()

	resp := f.post(t, "", `{"jsonrpc":"2.0","id":"y","method":"ping"}`, nil)
	resp.Body.Close()

	select {
	case <-secondFrames:
	case <-time.After(2 * time.Second):
		t.Fatal("most recently opened stream did not receive the frame")
	}
	select {
	case <-firstFrames:
		t.Fatal("older stream must not receive the frame")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDisconnectReleasesLifecycleClaims(t *testing.T) {
	f := newGatewayFixture(t, "")

	_, _, closeStream := f.openStream(t, "")

	resp := f.post(t, "", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"fs:read","arguments":{}}}`, nil)
	resp.Body.Close()
	require.Eventually(t, func() bool { return f.life.ActiveClients("fs") == 1 }, 2*time.Second, 10*time.Millisecond)

	closeStream()

	require.Eventually(t, func() bool { return f.life.ActiveClients("fs") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHealthEndpoint(t *testing.T) {
	f := newGatewayFixture(t, "secret")

	// Health endpoints are not behind the API key.
	resp, err := f.ts.Client().Get(f.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body, "status")
	assert.Contains(t, body, "backendsTotal")
}

func TestServicesEndpoint(t *testing.T) {
	f := newGatewayFixture(t, "")
	require.NoError(t, f.registry.Start(context.Background(), "fs"))

	resp, err := f.ts.Client().Get(f.ts.URL + "/health/services")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Status   string                            `json:"status"`
		Services map[string]map[string]interface{} `json:"services"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Contains(t, body.Services, "fs")
	assert.Equal(t, "running", body.Services["fs"]["state"])
}

func TestManifestEndpoint(t *testing.T) {
	f := newGatewayFixture(t, "")

	// Make the tool discoverable first.
	resp := f.post(t, "", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"fs:read","arguments":{}}}`, nil)
	resp.Body.Close()

	mresp, err := f.ts.Client().Get(f.ts.URL + "/.well-known/mcp-manifest.json")
	require.NoError(t, err)
	defer mresp.Body.Close()

	var manifest struct {
		Name     string `json:"name"`
		Endpoint string `json:"endpoint"`
		Tools    []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	require.NoError(t, json.NewDecoder(mresp.Body).Decode(&manifest))
	assert.Equal(t, "toolgate", manifest.Name)
	assert.Contains(t, manifest.Endpoint, "/mcp")
	require.Len(t, manifest.Tools, 1)
	assert.Equal(t, "fs:read", manifest.Tools[0].Name)
}

func TestInitializeCapturesProtocolVersion(t *testing.T) {
	f := newGatewayFixture(t, "")

	sessionID, frames, closeStream := f.openStream(t, "")
	defer closeStream()

	resp := f.post(t, "", `{"jsonrpc":"2.0","id":0,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"agent","version":"1"}}}`, nil)
	resp.Body.Close()

	select {
	case <-frames:
	case <-time.After(2 * time.Second):
		t.Fatal("initialize response never arrived")
	}

	sess, ok := f.server.sessions.get(sessionID)
	require.True(t, ok)
	assert.Equal(t, "2024-11-05", sess.protocolVersion())
}
