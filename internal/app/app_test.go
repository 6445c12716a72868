package app

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"toolgate/internal/catalog"
	"toolgate/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *catalog.Config {
	t.Helper()
	dir := t.TempDir()
	return &catalog.Config{
		Gateway: catalog.GatewayConfig{
			Host:           "localhost",
			Port:           0,
			CredentialFile: filepath.Join(dir, "credentials.env"),
			InventoryFile:  filepath.Join(dir, "inventory.json"),
		},
		Servers: map[string]*catalog.ServerSpec{
			"fs": {Transport: catalog.TransportChild, Command: "fs-server", RequiredKeys: []string{"FS_KEY"}},
			"brave": {
				Transport:    catalog.TransportHTTP,
				URL:          "http://localhost:1",
				RequiredKeys: []string{"BRAVE", "FS_KEY"},
			},
		},
	}
}

func TestNewWiresEverySubsystem(t *testing.T) {
	a, err := New(testConfig(t))
	require.NoError(t, err)

	assert.NotNil(t, a.Credentials)
	assert.NotNil(t, a.Registry)
	assert.NotNil(t, a.Inventory)
	assert.NotNil(t, a.Lifecycle)
	assert.NotNil(t, a.Router)
	assert.NotNil(t, a.Monitor)
	assert.NotNil(t, a.Gateway)

	b, ok := a.Registry.Get("fs")
	require.True(t, ok)
	assert.Equal(t, registry.StateUnstarted, b.State())
	assert.False(t, b.AutoStart)
}

func TestAutoStartFlagFromCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gateway.AutoStartServers = []string{"fs"}

	a, err := New(cfg)
	require.NoError(t, err)

	fs, _ := a.Registry.Get("fs")
	brave, _ := a.Registry.Get("brave")
	assert.True(t, fs.AutoStart)
	assert.False(t, brave.AutoStart)
}

func TestStartServesAndStops(t *testing.T) {
	a, err := New(testConfig(t))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() { _ = a.Stop(ctx) })

	addr := a.Gateway.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, a.Stop(ctx))

	// The listener is gone after shutdown.
	client := &http.Client{Timeout: 500 * time.Millisecond}
	_, err = client.Get("http://" + addr + "/health")
	assert.Error(t, err)
}

func TestAllRequiredKeysDeduplicates(t *testing.T) {
	keys := allRequiredKeys(testConfig(t))
	assert.ElementsMatch(t, []string{"FS_KEY", "BRAVE"}, keys)
}

func TestVolumeMappings(t *testing.T) {
	cfg := testConfig(t)
	cfg.Servers["fs"].Volumes = []catalog.VolumeMapping{
		{HostPath: `C:\Data`, ContainerPath: "/data"},
	}

	mappings := volumeMappings(cfg)
	require.Len(t, mappings, 1)
	assert.Equal(t, `C:\Data`, mappings[0].HostPrefix)
	assert.Equal(t, "/data", mappings[0].ContainerPrefix)
}
