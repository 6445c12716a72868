package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"toolgate/pkg/logging"

	"gopkg.in/yaml.v3"
)

// DefaultConfigDir returns the user configuration directory for the gateway.
func DefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "toolgate")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".toolgate"
	}
	return filepath.Join(home, ".config", "toolgate")
}

// DefaultConfigPath returns the default gateway config file location.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads the gateway configuration from path. JSON is canonical; files
// ending in .yaml or .yml are parsed as YAML. Invalid server entries are
// dropped with a warning so the remaining catalog stays usable.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config %s: %w", path, err)
		}
	}

	applyDefaults(&cfg, path)

	for id, spec := range cfg.Servers {
		if errs := ValidateServer(id, spec); errs.HasErrors() {
			logging.Warn("Catalog", "Dropping invalid server %s: %s", id, errs.Summary())
			delete(cfg.Servers, id)
		}
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config, path string) {
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "localhost"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 8080
	}
	dir := filepath.Dir(path)
	if cfg.Gateway.CredentialFile == "" {
		cfg.Gateway.CredentialFile = filepath.Join(dir, "credentials.env")
	}
	if cfg.Gateway.InventoryFile == "" {
		cfg.Gateway.InventoryFile = filepath.Join(dir, "inventory.json")
	}
	if cfg.Servers == nil {
		cfg.Servers = make(map[string]*ServerSpec)
	}
}

// ValidationErrors collects every problem found in one definition.
type ValidationErrors []ValidationError

// ValidationError describes a single invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Add appends a field error.
func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, ValidationError{Field: field, Message: message})
}

// HasErrors reports whether any problem was collected.
func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

// Summary joins all collected problems into one line.
func (v ValidationErrors) Summary() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

// ValidateServer checks a server definition for structural problems.
func ValidateServer(id string, spec *ServerSpec) ValidationErrors {
	var errs ValidationErrors

	if id == "" {
		errs.Add("id", "is required")
	}
	if strings.Contains(id, ":") {
		// The first colon of a namespaced name is the backend separator, so
		// ids themselves must not contain one.
		errs.Add("id", "must not contain ':'")
	}

	switch spec.Transport {
	case TransportChild:
		if spec.Command == "" {
			errs.Add("command", "is required for child transport")
		}
		if spec.URL != "" {
			errs.Add("url", "cannot be set for child transport")
		}
	case TransportHTTP, TransportSSE:
		if spec.URL == "" {
			errs.Add("url", fmt.Sprintf("is required for %s transport", spec.Transport))
		}
		if spec.Command != "" {
			errs.Add("command", fmt.Sprintf("cannot be set for %s transport", spec.Transport))
		}
	case "":
		errs.Add("transport", "is required")
	default:
		errs.Add("transport", fmt.Sprintf("unknown transport %q", spec.Transport))
	}

	if spec.TimeoutSeconds < 0 {
		errs.Add("timeoutSeconds", "must not be negative")
	}

	return errs
}

// Save writes the configuration back to path as indented JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return os.Rename(tmp, path)
}
