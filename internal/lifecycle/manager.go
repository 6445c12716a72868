package lifecycle

import (
	"context"
	"sync"
	"time"

	"toolgate/pkg/logging"
)

// DefaultIdleWindow is how long a backend may sit unused with no active
// clients before it is stopped.
const DefaultIdleWindow = 2 * time.Hour

// DefaultSweepInterval is the fallback cadence of the scheduler when no
// deadline is armed.
const DefaultSweepInterval = 5 * time.Minute

// ReapFunc stops an idle backend and invalidates whatever depends on it.
type ReapFunc func(id string)

type record struct {
	lastUsed time.Time
	clients  map[string]struct{}
	deadline time.Time // zero when no reap is scheduled
}

// Manager tracks per-backend activity and owns every reap deadline.
type Manager struct {
	mu      sync.Mutex
	records map[string]*record

	idleWindow time.Duration
	sweepEvery time.Duration
	reap       ReapFunc
	now        func() time.Time
	wake       chan struct{}
}

// NewManager creates a lifecycle manager. The reap callback is invoked
// outside the manager lock.
func NewManager(idleWindow time.Duration, reap ReapFunc) *Manager {
	if idleWindow <= 0 {
		idleWindow = DefaultIdleWindow
	}
	return &Manager{
		records:    make(map[string]*record),
		idleWindow: idleWindow,
		sweepEvery: DefaultSweepInterval,
		reap:       reap,
		now:        time.Now,
		wake:       make(chan struct{}, 1),
	}
}

// Register starts tracking a backend. A backend with no clients is already
// idle, so its deadline is armed immediately.
func (m *Manager) Register(id string) {
	m.mu.Lock()
	if _, exists := m.records[id]; !exists {
		now := m.now()
		m.records[id] = &record{
			lastUsed: now,
			clients:  make(map[string]struct{}),
			deadline: now.Add(m.idleWindow),
		}
	}
	m.mu.Unlock()
	m.poke()
}

// Unregister drops tracking for a stopped or removed backend.
func (m *Manager) Unregister(id string) {
	m.mu.Lock()
	delete(m.records, id)
	m.mu.Unlock()
}

// Touch records a routed request: the backend was just used by the client,
// so any pending reap is cancelled.
func (m *Manager) Touch(backendID, clientID string) {
	m.mu.Lock()
	rec, exists := m.records[backendID]
	if !exists {
		rec = &record{clients: make(map[string]struct{})}
		m.records[backendID] = rec
	}
	rec.lastUsed = m.now()
	if clientID != "" {
		rec.clients[clientID] = struct{}{}
	}
	rec.deadline = time.Time{}
	m.mu.Unlock()
}

// Disconnect releases every claim the client holds. Backends left with no
// active clients get a deadline armed at lastUsed + idleWindow.
func (m *Manager) Disconnect(clientID string) {
	m.mu.Lock()
	for id, rec := range m.records {
		if _, held := rec.clients[clientID]; !held {
			continue
		}
		delete(rec.clients, clientID)
		if len(rec.clients) == 0 {
			rec.deadline = rec.lastUsed.Add(m.idleWindow)
			logging.Debug("Lifecycle", "Backend %s idle, reap scheduled", id)
		}
	}
	m.mu.Unlock()
	m.poke()
}

// ActiveClients returns how many clients currently claim the backend.
func (m *Manager) ActiveClients(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, exists := m.records[id]; exists {
		return len(rec.clients)
	}
	return 0
}

// LastUsed returns the most recent activity timestamp for the backend.
func (m *Manager) LastUsed(id string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, exists := m.records[id]; exists {
		return rec.lastUsed, true
	}
	return time.Time{}, false
}

// Run is the scheduler loop. One goroutine owns every deadline: it sleeps
// until the earliest one (or the sweep interval) and reaps whatever is due
// and still idle when it wakes.
func (m *Manager) Run(ctx context.Context) {
	for {
		wait := m.nextWait()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-m.wake:
			timer.Stop()
		case <-timer.C:
			m.reapDue()
		}
	}
}

// nextWait computes how long the scheduler may sleep.
func (m *Manager) nextWait() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	wait := m.sweepEvery
	now := m.now()
	for _, rec := range m.records {
		if rec.deadline.IsZero() {
			continue
		}
		until := rec.deadline.Sub(now)
		if until < wait {
			wait = until
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// reapDue collects every backend whose deadline passed while still idle and
// hands them to the reap callback outside the lock.
func (m *Manager) reapDue() {
	now := m.now()

	m.mu.Lock()
	var due []string
	for id, rec := range m.records {
		if rec.deadline.IsZero() || len(rec.clients) > 0 {
			continue
		}
		if !now.Before(rec.deadline) {
			due = append(due, id)
			rec.deadline = time.Time{}
		}
	}
	m.mu.Unlock()

	for _, id := range due {
		logging.Info("Lifecycle", "Reaping idle backend %s", id)
		if m.reap != nil {
			m.reap(id)
		}
	}
}

// poke wakes the scheduler so it can re-arm to a changed earliest deadline.
func (m *Manager) poke() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
