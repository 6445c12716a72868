package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// frameBuffer bounds how many responses may queue per client before the
// writer applies backpressure.
const frameBuffer = 64

// session is one connected SSE client.
type session struct {
	id       string
	openedAt time.Time

	// frames carries encoded JSON-RPC responses to the stream writer in
	// hand-off order.
	frames chan []byte

	// ctx is cancelled when the client disconnects; in-flight requests
	// dispatched for this session observe it.
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	protocolVer string
	closed      bool
}

func newSession(parent context.Context) *session {
	ctx, cancel := context.WithCancel(parent)
	return &session{
		id:       uuid.NewString(),
		openedAt: time.Now(),
		frames:   make(chan []byte, frameBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// setProtocolVersion records the version negotiated by the client's
// initialize.
func (s *session) setProtocolVersion(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protocolVer = v
}

// protocolVersion returns the negotiated version, empty before initialize.
func (s *session) protocolVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolVer
}

// send queues one frame for the stream writer. Returns false once the
// session is closed.
func (s *session) send(frame []byte) bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return false
	}
	select {
	case s.frames <- frame:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// close cancels in-flight work and marks the session dead.
func (s *session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// sessionRegistry tracks open streams in opening order.
type sessionRegistry struct {
	mu      sync.Mutex
	byID    map[string]*session
	ordered []*session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{
		byID: make(map[string]*session),
	}
}

func (r *sessionRegistry) add(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[s.id] = s
	r.ordered = append(r.ordered, s)
}

func (r *sessionRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	for i, s := range r.ordered {
		if s.id == id {
			r.ordered = append(r.ordered[:i], r.ordered[i+1:]...)
			break
		}
	}
}

// get returns the session with the given id, if still open.
func (r *sessionRegistry) get(id string) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok || s.isClosed() {
		return nil, false
	}
	return s, true
}

// newest returns the most recently opened still-open session.
func (r *sessionRegistry) newest() (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.ordered) - 1; i >= 0; i-- {
		if !r.ordered[i].isClosed() {
			return r.ordered[i], true
		}
	}
	return nil, false
}

// closeAll terminates every open session.
func (r *sessionRegistry) closeAll() {
	r.mu.Lock()
	sessions := make([]*session, len(r.ordered))
	copy(sessions, r.ordered)
	r.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

func (r *sessionRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
