package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"toolgate/internal/catalog"
	"toolgate/internal/transport"
	"toolgate/pkg/logging"
)

// stopGrace bounds how long a polite teardown may take before the handle is
// abandoned to the runtime.
const stopGrace = 5 * time.Second

// Backend is one aggregated server and its transport state.
type Backend struct {
	ID        string
	Spec      *catalog.ServerSpec
	AutoStart bool

	// lifecycleMu serializes Start/Stop including their I/O. Callers that
	// arrive during a start or stop block here and proceed against the
	// settled state.
	lifecycleMu sync.Mutex

	// mu guards the fields below.
	mu      sync.RWMutex
	state   State
	lastErr error
	client  transport.Client

	stateCb StateChangeCallback
}

// State returns the current lifecycle state.
func (b *Backend) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// LastError returns the most recent failure, if any.
func (b *Backend) LastError() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastErr
}

// Client returns the live transport handle. Only a Running backend serves
// requests.
func (b *Backend) Client() (transport.Client, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state != StateRunning || b.client == nil {
		return nil, fmt.Errorf("backend %s is not running (state %s)", b.ID, b.state)
	}
	return b.client, nil
}

// setState applies a transition, records the error, and fires the callback
// outside the lock. Illegal transitions are a programming defect and are
// logged, not applied.
func (b *Backend) setState(to State, err error) {
	b.mu.Lock()
	from := b.state
	if from == to {
		b.lastErr = err
		b.mu.Unlock()
		return
	}
	if !CanTransition(from, to) {
		b.mu.Unlock()
		logging.Error("Registry", nil, "Illegal state transition %s -> %s for %s", from, to, b.ID)
		return
	}
	b.state = to
	b.lastErr = err
	cb := b.stateCb
	b.mu.Unlock()

	logging.Debug("Registry", "Backend %s: %s -> %s", b.ID, from, to)
	if cb != nil {
		cb(b.ID, from, to, err)
	}
}

// ClientFactory builds a transport for one backend. The registry defaults
// to transport.New; tests substitute fakes.
type ClientFactory func(id string, spec *catalog.ServerSpec, credentials map[string]string) (transport.Client, error)

// start brings the backend to Running. Caller holds lifecycleMu.
func (b *Backend) start(ctx context.Context, factory ClientFactory, credentials map[string]string) error {
	if b.State() == StateRunning {
		return nil
	}

	b.setState(StateStarting, nil)

	client, err := factory(b.ID, b.Spec, credentials)
	if err != nil {
		b.setState(StateFailed, err)
		return fmt.Errorf("failed to build transport for %s: %w", b.ID, err)
	}

	if err := client.Initialize(ctx); err != nil {
		b.setState(StateFailed, err)
		return fmt.Errorf("failed to start backend %s: %w", b.ID, err)
	}

	b.mu.Lock()
	b.client = client
	b.mu.Unlock()
	b.setState(StateRunning, nil)

	logging.Info("Registry", "Backend %s started", b.ID)
	return nil
}

// stop tears the backend down to Stopped. Caller holds lifecycleMu.
func (b *Backend) stop() {
	state := b.State()
	if state != StateRunning {
		return
	}

	b.setState(StateStopping, nil)

	b.mu.Lock()
	client := b.client
	b.client = nil
	b.mu.Unlock()

	if client != nil {
		// Polite close first; a child that ignores it is abandoned after
		// the grace window rather than blocking the registry.
		done := make(chan error, 1)
		go func() { done <- client.Close() }()
		select {
		case err := <-done:
			if err != nil {
				logging.Warn("Registry", "Error closing transport for %s: %v", b.ID, err)
			}
		case <-time.After(stopGrace):
			logging.Warn("Registry", "Backend %s did not close within %s, abandoning handle", b.ID, stopGrace)
		}
	}

	b.setState(StateStopped, nil)
	logging.Info("Registry", "Backend %s stopped", b.ID)
}

// markFailed records an asynchronous failure (e.g. child exit observed by
// the health monitor) and drops the dead handle.
func (b *Backend) markFailed(err error) {
	b.mu.Lock()
	client := b.client
	b.client = nil
	b.mu.Unlock()

	if client != nil {
		if closeErr := client.Close(); closeErr != nil {
			logging.Debug("Registry", "Error closing failed transport for %s: %v", b.ID, closeErr)
		}
	}
	b.setState(StateFailed, err)
}
