package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reapRecorder struct {
	mu     sync.Mutex
	reaped []string
}

func (r *reapRecorder) reap(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reaped = append(r.reaped, id)
}

func (r *reapRecorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.reaped))
	copy(out, r.reaped)
	return out
}

func TestIdleBackendIsReaped(t *testing.T) {
	rec := &reapRecorder{}
	m := NewManager(20*time.Millisecond, rec.reap)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.Register("scratch")

	require.Eventually(t, func() bool {
		return len(rec.get()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"scratch"}, rec.get())
}

func TestActivityCancelsPendingReap(t *testing.T) {
	rec := &reapRecorder{}
	m := NewManager(30*time.Millisecond, rec.reap)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.Register("fs")
	// Keep touching inside the idle window; the deadline must keep being
	// cancelled.
	for i := 0; i < 5; i++ {
		time.Sleep(10 * time.Millisecond)
		m.Touch("fs", "client-1")
	}

	assert.Empty(t, rec.get(), "an active backend must never be reaped")
}

func TestBackendWithActiveClientIsNotReaped(t *testing.T) {
	rec := &reapRecorder{}
	m := NewManager(20*time.Millisecond, rec.reap)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.Register("fs")
	m.Touch("fs", "client-1")

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, rec.get(), "a claimed backend must not be reaped")
}

func TestDisconnectSchedulesReap(t *testing.T) {
	rec := &reapRecorder{}
	m := NewManager(20*time.Millisecond, rec.reap)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.Register("fs")
	m.Touch("fs", "client-1")
	time.Sleep(40 * time.Millisecond)
	require.Empty(t, rec.get())

	m.Disconnect("client-1")

	require.Eventually(t, func() bool {
		return len(rec.get()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDisconnectOnlyReleasesOwnClaims(t *testing.T) {
	rec := &reapRecorder{}
	m := NewManager(20*time.Millisecond, rec.reap)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.Register("fs")
	m.Touch("fs", "client-1")
	m.Touch("fs", "client-2")

	m.Disconnect("client-1")
	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, rec.get(), "client-2 still claims the backend")

	m.Disconnect("client-2")
	require.Eventually(t, func() bool {
		return len(rec.get()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestUnregisterStopsTracking(t *testing.T) {
	rec := &reapRecorder{}
	m := NewManager(20*time.Millisecond, rec.reap)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.Register("fs")
	m.Unregister("fs")

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, rec.get())
	assert.Equal(t, 0, m.ActiveClients("fs"))
}

func TestLastUsed(t *testing.T) {
	m := NewManager(time.Hour, nil)

	_, ok := m.LastUsed("fs")
	assert.False(t, ok)

	before := time.Now()
	m.Touch("fs", "c")
	got, ok := m.LastUsed("fs")
	require.True(t, ok)
	assert.False(t, got.Before(before))
	assert.Equal(t, 1, m.ActiveClients("fs"))
}
