package catalog

// TransportKind selects how the gateway reaches a backend.
type TransportKind string

const (
	// TransportChild runs the backend as a child process speaking
	// line-delimited JSON-RPC on stdio.
	TransportChild TransportKind = "child"
	// TransportHTTP posts each request to the backend base URL.
	TransportHTTP TransportKind = "http"
	// TransportSSE holds a persistent event stream open and posts requests
	// to the companion inbox URL.
	TransportSSE TransportKind = "sse"
)

// Capability flags a backend can declare in the catalog.
const (
	CapabilityRequiresDisplay     = "requires-display"
	CapabilityRequiresWindowsHost = "requires-windows-host"
)

// Config is the top-level gateway configuration.
type Config struct {
	Gateway GatewayConfig          `json:"gateway" yaml:"gateway"`
	Servers map[string]*ServerSpec `json:"servers" yaml:"servers"`
}

// GatewayConfig configures the front endpoint and global behavior.
type GatewayConfig struct {
	APIKey           string   `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	Host             string   `json:"host,omitempty" yaml:"host,omitempty"`
	Port             int      `json:"port,omitempty" yaml:"port,omitempty"`
	AutoStartServers []string `json:"autoStartServers,omitempty" yaml:"autoStartServers,omitempty"`

	// IdleMinutes overrides the default two-hour idle reap window.
	IdleMinutes int `json:"idleMinutes,omitempty" yaml:"idleMinutes,omitempty"`

	// CredentialFile points at the key-value credential file. Values are
	// read already decrypted; encryption at rest is a collaborator concern.
	CredentialFile string `json:"credentialFile,omitempty" yaml:"credentialFile,omitempty"`

	// InventoryFile points at the persisted tool inventory artifact.
	InventoryFile string `json:"inventoryFile,omitempty" yaml:"inventoryFile,omitempty"`
}

// VolumeMapping declares one host path visible inside a child backend.
type VolumeMapping struct {
	HostPath      string `json:"hostPath" yaml:"hostPath"`
	ContainerPath string `json:"containerPath" yaml:"containerPath"`
}

// ServerSpec describes one backend: identity lives in the Servers map key,
// everything else here.
type ServerSpec struct {
	Transport TransportKind `json:"transport" yaml:"transport"`

	// Child-process transport.
	Command     string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args        []string          `json:"args,omitempty" yaml:"args,omitempty"`
	WorkingDir  string            `json:"workingDir,omitempty" yaml:"workingDir,omitempty"`
	Environment map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
	Volumes     []VolumeMapping   `json:"volumes,omitempty" yaml:"volumes,omitempty"`

	// HTTP and SSE transports.
	URL            string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers        map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	TimeoutSeconds int               `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds,omitempty"`

	// RequiredKeys are credential key names every tool of this backend
	// inherits.
	RequiredKeys []string `json:"requiredKeys,omitempty" yaml:"requiredKeys,omitempty"`

	// Capabilities are declared host requirements, e.g. requires-display.
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
}

// HasCapability reports whether the spec declares the given capability.
func (s *ServerSpec) HasCapability(name string) bool {
	for _, c := range s.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// AutoStart reports whether the given backend id is configured for
// startup-time launch and discovery.
func (c *Config) AutoStart(id string) bool {
	for _, name := range c.Gateway.AutoStartServers {
		if name == id {
			return true
		}
	}
	return false
}
