package registry

import (
	"context"
	"fmt"
	"sync"

	"toolgate/internal/catalog"
	"toolgate/internal/credential"
	"toolgate/internal/transport"
	"toolgate/pkg/logging"
)

// HostInfo describes the host the gateway runs on, captured once at
// bootstrap so capability gating never reads the ambient environment.
type HostInfo struct {
	OS         string
	HasDisplay bool
}

// Registry holds all backend records, indexed by id.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]*Backend

	credentials *credential.Store
	host        HostInfo
	stateCb     StateChangeCallback
	factory     ClientFactory
}

// New creates an empty registry.
func New(credentials *credential.Store, host HostInfo) *Registry {
	return &Registry{
		backends:    make(map[string]*Backend),
		credentials: credentials,
		host:        host,
		factory:     transport.New,
	}
}

// SetClientFactory substitutes how transports are built. Intended for
// tests; must be called before any backend starts.
func (r *Registry) SetClientFactory(factory ClientFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factory = factory
}

// OnStateChange registers the callback fired on every backend transition.
// Must be set before backends are added.
func (r *Registry) OnStateChange(cb StateChangeCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stateCb = cb
}

// Add registers a backend in Unstarted state.
func (r *Registry) Add(id string, spec *catalog.ServerSpec, autoStart bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[id]; exists {
		return fmt.Errorf("backend %s already registered", id)
	}

	r.backends[id] = &Backend{
		ID:        id,
		Spec:      spec,
		AutoStart: autoStart,
		state:     StateUnstarted,
		stateCb:   r.stateCb,
	}
	logging.Info("Registry", "Registered backend %s (%s)", id, spec.Transport)
	return nil
}

// Remove stops and deletes a backend.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	backend, exists := r.backends[id]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("backend %s not found", id)
	}
	delete(r.backends, id)
	r.mu.Unlock()

	backend.lifecycleMu.Lock()
	backend.stop()
	backend.lifecycleMu.Unlock()

	logging.Info("Registry", "Removed backend %s", id)
	return nil
}

// Get returns the backend record for id.
func (r *Registry) Get(id string) (*Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[id]
	return b, ok
}

// List returns a snapshot of all backend records.
func (r *Registry) List() []*Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Backend, 0, len(r.backends))
	for _, b := range r.backends {
		out = append(out, b)
	}
	return out
}

// Start brings a backend to Running, serialized per backend. A concurrent
// Start or Stop in flight blocks the caller until it settles; starting an
// already-running backend is a no-op.
func (r *Registry) Start(ctx context.Context, id string) error {
	backend, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("backend %s not found", id)
	}

	if err := r.checkCapabilities(backend); err != nil {
		return err
	}

	backend.lifecycleMu.Lock()
	defer backend.lifecycleMu.Unlock()

	return backend.start(ctx, r.factory, r.resolveCredentials(backend))
}

// Stop tears a backend down to Stopped. The catalog entry stays so the
// backend can be restarted on demand.
func (r *Registry) Stop(id string) error {
	backend, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("backend %s not found", id)
	}

	backend.lifecycleMu.Lock()
	defer backend.lifecycleMu.Unlock()

	backend.stop()
	return nil
}

// EnsureRunning performs the lazy start: callers arriving while another
// start or stop is in progress wait on the per-backend mutex and then
// proceed against the settled state, restarting if needed.
func (r *Registry) EnsureRunning(ctx context.Context, id string) error {
	backend, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("backend %s not found", id)
	}

	if backend.State() == StateRunning {
		if client, err := backend.Client(); err == nil && client.Healthy() {
			return nil
		}
	}

	if err := r.checkCapabilities(backend); err != nil {
		return err
	}

	backend.lifecycleMu.Lock()
	defer backend.lifecycleMu.Unlock()

	// Re-check under the lock: a concurrent caller may have started it.
	if backend.State() == StateRunning {
		if client, err := backend.Client(); err == nil && client.Healthy() {
			return nil
		}
		// The handle is dead; tear down before restarting.
		backend.stop()
	}

	return backend.start(ctx, r.factory, r.resolveCredentials(backend))
}

// MarkFailed records an asynchronous backend failure.
func (r *Registry) MarkFailed(id string, err error) {
	if backend, ok := r.Get(id); ok {
		backend.markFailed(err)
	}
}

// resolveCredentials snapshots the values for the backend's required keys.
func (r *Registry) resolveCredentials(b *Backend) map[string]string {
	out := make(map[string]string, len(b.Spec.RequiredKeys))
	for _, key := range b.Spec.RequiredKeys {
		if v, ok := r.credentials.Get(key); ok {
			out[key] = v
		}
	}
	return out
}

// checkCapabilities gates startup on declared host requirements.
func (r *Registry) checkCapabilities(b *Backend) error {
	if b.Spec.HasCapability(catalog.CapabilityRequiresWindowsHost) && r.host.OS != "windows" {
		return fmt.Errorf("backend %s requires a windows host (running on %s)", b.ID, r.host.OS)
	}
	if b.Spec.HasCapability(catalog.CapabilityRequiresDisplay) && !r.host.HasDisplay {
		return fmt.Errorf("backend %s requires a display", b.ID)
	}
	return nil
}
