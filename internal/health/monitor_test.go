package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"toolgate/internal/catalog"
	"toolgate/internal/credential"
	"toolgate/internal/registry"
	"toolgate/internal/transport"
	"toolgate/internal/transport/transporttest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		rt     time.Duration
		status Status
	}{
		{50 * time.Millisecond, StatusHealthy},
		{999 * time.Millisecond, StatusHealthy},
		{time.Second, StatusDegraded},
		{1500 * time.Millisecond, StatusDegraded},
		{2 * time.Second, StatusDegraded},
		{2001 * time.Millisecond, StatusUnhealthy},
		{3 * time.Second, StatusUnhealthy},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, Classify(tt.rt), "rt %s", tt.rt)
	}
}

func newRegistryWithFake(t *testing.T, id string, spec *catalog.ServerSpec) (*registry.Registry, *transporttest.FakeClient) {
	t.Helper()
	fake := transporttest.NewFakeClient(id)
	fake.TransportKind = spec.Transport

	reg := registry.New(credential.NewStore(), registry.HostInfo{OS: "linux"})
	reg.SetClientFactory(func(_ string, _ *catalog.ServerSpec, _ map[string]string) (transport.Client, error) {
		return fake, nil
	})
	require.NoError(t, reg.Add(id, spec, false))
	return reg, fake
}

func TestChildProbe(t *testing.T) {
	spec := &catalog.ServerSpec{Transport: catalog.TransportChild, Command: "srv"}
	reg, fake := newRegistryWithFake(t, "fs", spec)
	require.NoError(t, reg.Start(context.Background(), "fs"))

	m := NewMonitor(reg, time.Minute)
	m.sweep(context.Background())

	check := m.Results()["fs"]
	assert.Equal(t, StatusHealthy, check.Status)
	assert.Zero(t, check.ResponseTime)
	assert.Equal(t, StatusHealthy, m.Overall())

	// A dead child is a transport closure: unhealthy, and the backend
	// transitions to Failed so the next routed call lazily restarts it.
	fake.SetHealthy(false)
	m.sweep(context.Background())
	assert.Equal(t, StatusUnhealthy, m.Results()["fs"].Status)
	assert.Equal(t, StatusUnhealthy, m.Overall())

	b, _ := reg.Get("fs")
	assert.Equal(t, registry.StateFailed, b.State())
}

func TestHTTPProbeStatuses(t *testing.T) {
	var delay time.Duration
	var code int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		time.Sleep(delay)
		w.WriteHeader(code)
	}))
	defer srv.Close()

	spec := &catalog.ServerSpec{Transport: catalog.TransportHTTP, URL: srv.URL}
	reg, _ := newRegistryWithFake(t, "api", spec)
	require.NoError(t, reg.Start(context.Background(), "api"))

	m := NewMonitor(reg, time.Minute)

	code = http.StatusOK
	delay = 0
	m.sweep(context.Background())
	assert.Equal(t, StatusHealthy, m.Results()["api"].Status)

	code = http.StatusOK
	delay = 1100 * time.Millisecond
	m.sweep(context.Background())
	assert.Equal(t, StatusDegraded, m.Results()["api"].Status)

	code = http.StatusInternalServerError
	delay = 0
	m.sweep(context.Background())
	check := m.Results()["api"]
	assert.Equal(t, StatusUnhealthy, check.Status)
	assert.Contains(t, check.Error, "500")

	b, _ := reg.Get("api")
	assert.Equal(t, registry.StateRunning, b.State(), "probe failures never stop backends")
}

func TestNonRunningBackendIsUnknown(t *testing.T) {
	spec := &catalog.ServerSpec{Transport: catalog.TransportChild, Command: "srv"}
	reg, _ := newRegistryWithFake(t, "fs", spec)

	m := NewMonitor(reg, time.Minute)
	m.sweep(context.Background())

	assert.Equal(t, StatusUnknown, m.Results()["fs"].Status)
	assert.Equal(t, StatusHealthy, m.Overall(), "unknown backends do not degrade the overall status")
}

func TestOverallIsWorstObserved(t *testing.T) {
	m := NewMonitor(registry.New(credential.NewStore(), registry.HostInfo{}), time.Minute)

	m.mu.Lock()
	m.results["a"] = Check{Status: StatusHealthy}
	m.results["b"] = Check{Status: StatusDegraded}
	m.mu.Unlock()
	assert.Equal(t, StatusDegraded, m.Overall())

	m.mu.Lock()
	m.results["c"] = Check{Status: StatusUnhealthy}
	m.mu.Unlock()
	assert.Equal(t, StatusUnhealthy, m.Overall())
}
