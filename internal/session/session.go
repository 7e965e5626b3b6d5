package session

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kingrea/director/internal/story"
)

// Session is the handle for one server-side story session. Identity and
// creation inputs never change; the story state is swapped whole by the
// controller after each successful operation.
type Session struct {
	id        string
	mode      story.Mode
	strategy  story.Strategy
	premise   string
	createdAt time.Time

	gate   *semaphore.Weighted
	busy   atomic.Bool
	closed atomic.Bool

	mu        sync.RWMutex
	state     story.State
	lastStep  story.Step
	updatedAt time.Time
}

// Snapshot is a consistent copy of a session for display.
type Snapshot struct {
	ID        string
	Mode      story.Mode
	Strategy  story.Strategy
	Premise   string
	State     story.State
	LastStep  story.Step
	CreatedAt time.Time
	UpdatedAt time.Time
	Busy      bool
}

func newSession(id string, mode story.Mode, strategy story.Strategy, premise string, created time.Time) *Session {
	return &Session{
		id:        id,
		mode:      mode,
		strategy:  strategy,
		premise:   premise,
		createdAt: created,
		updatedAt: created,
		gate:      semaphore.NewWeighted(1),
	}
}

// ID returns the server-issued identifier.
func (s *Session) ID() string { return s.id }

// Mode returns the narrative style the session was created with.
func (s *Session) Mode() story.Mode { return s.mode }

// Strategy returns how the session is driven.
func (s *Session) Strategy() story.Strategy { return s.strategy }

// Premise returns the text the session was created from.
func (s *Session) Premise() string { return s.premise }

// State returns a copy of the current story state.
func (s *Session) State() story.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// LastStep returns the most recent step that succeeded, or "".
func (s *Session) LastStep() story.Step {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastStep
}

// Busy reports whether an operation is in flight.
func (s *Session) Busy() bool {
	return s.busy.Load()
}

// Closed reports whether the session was deleted.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Snapshot copies everything a view needs in one read.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:        s.id,
		Mode:      s.mode,
		Strategy:  s.strategy,
		Premise:   s.premise,
		State:     s.state.Clone(),
		LastStep:  s.lastStep,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
		Busy:      s.busy.Load(),
	}
}

func (s *Session) tryAcquire() bool {
	if !s.gate.TryAcquire(1) {
		return false
	}
	s.busy.Store(true)
	return true
}

func (s *Session) release() {
	s.busy.Store(false)
	s.gate.Release(1)
}

func (s *Session) swap(state story.State, last story.Step, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.lastStep = last
	s.updatedAt = at
}
