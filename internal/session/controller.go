// Package session owns the story-session lifecycle: creating and deleting the
// remote session, dispatching generation steps in manual or automatic mode,
// folding each response into the story state and mirroring every successful
// transition to durable storage.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kingrea/director/internal/logging"
	"github.com/kingrea/director/internal/service"
	"github.com/kingrea/director/internal/store"
	"github.com/kingrea/director/internal/story"
)

// Service is the generation service as the controller uses it.
type Service interface {
	CreateSession(ctx context.Context, mode story.Mode, premise string) (service.Created, error)
	RunStep(ctx context.Context, sessionID string, step story.Step) (story.Patch, error)
	GenerateFull(ctx context.Context, sessionID string) (story.Patch, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Store persists the active session record.
type Store interface {
	Save(ctx context.Context, rec store.Record) error
	Load(ctx context.Context) (store.Record, bool, error)
	Clear(ctx context.Context) error
}

// Journal receives human-readable milestones. *logbook.Logbook satisfies it.
type Journal interface {
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopJournal struct{}

func (nopJournal) Info(string, ...any)  {}
func (nopJournal) Warn(string, ...any)  {}
func (nopJournal) Error(string, ...any) {}

// CreateRequest carries the inputs for a new session.
type CreateRequest struct {
	Mode     story.Mode
	Premise  string
	Strategy story.Strategy
}

// Controller tracks which session is active and runs every operation on it.
type Controller struct {
	svc     Service
	store   Store
	logger  *zap.Logger
	journal Journal
	clock   func() time.Time

	mu       sync.Mutex
	active   *Session
	creating bool
	draft    string
}

// Option customizes the controller.
type Option func(*Controller)

// WithLogger attaches the debug logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		c.logger = logging.OrNop(logger)
	}
}

// WithJournal attaches the human-readable journal.
func WithJournal(journal Journal) Option {
	return func(c *Controller) {
		if journal != nil {
			c.journal = journal
		}
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// New wires a controller to the generation service and the session store.
func New(svc Service, st Store, opts ...Option) (*Controller, error) {
	if svc == nil {
		return nil, fmt.Errorf("session: generation service is required")
	}
	if st == nil {
		return nil, fmt.Errorf("session: store is required")
	}
	c := &Controller{
		svc:     svc,
		store:   st,
		logger:  zap.NewNop(),
		journal: nopJournal{},
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Active returns the live session, or nil.
func (c *Controller) Active() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Draft returns the premise typed for the next session.
func (c *Controller) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// SetDraft records the premise input.
func (c *Controller) SetDraft(premise string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = premise
}

// Create opens a new session. The premise is checked before any network
// call. In auto strategy one full run follows immediately, even when the
// first save failed; if it fails the live session is returned together with
// the error.
func (c *Controller) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	const op = "create session"
	premise := strings.TrimSpace(req.Premise)
	if premise == "" {
		return nil, &ValidationError{Field: "premise", Reason: "must not be empty"}
	}
	strategy, err := story.ParseStrategy(string(req.Strategy))
	if err != nil {
		return nil, &ValidationError{Field: "strategy", Reason: "must be manual or auto"}
	}
	mode := story.NormalizeMode(string(req.Mode))

	c.mu.Lock()
	switch {
	case c.active != nil:
		c.mu.Unlock()
		return nil, precondition(op, ErrSessionActive)
	case c.creating:
		c.mu.Unlock()
		return nil, precondition(op, ErrBusy)
	}
	c.creating = true
	c.mu.Unlock()

	created, err := c.svc.CreateSession(ctx, mode, premise)
	if err != nil {
		c.mu.Lock()
		c.creating = false
		c.mu.Unlock()
		c.logger.Warn("create session failed", zap.String("mode", string(mode)), zap.Error(err))
		c.journal.Error("Could not create a %s session: %v", mode, err)
		return nil, err
	}

	now := c.clock()
	s := newSession(created.SessionID, mode, strategy, premise, now)
	s.state = story.Replace(created.State)

	c.mu.Lock()
	c.creating = false
	c.active = s
	persistErr := c.persistLocked(ctx, s)
	c.mu.Unlock()

	c.logger.Info("session created",
		zap.String("session_id", s.id),
		zap.String("mode", string(mode)),
		zap.String("strategy", string(strategy)),
	)
	c.journal.Info("Created %s session %s (%s)", mode, s.id, strategy)
	if strategy != story.StrategyAuto {
		return s, persistErr
	}
	// The full run saves again, so it also repairs a failed first save.
	if _, err := c.Regenerate(ctx, s); err != nil {
		if persistErr != nil {
			return s, errors.Join(persistErr, err)
		}
		return s, err
	}
	return s, nil
}

// RunStep runs one generation step. Any step may run at any time. On failure
// the state is left exactly as it was.
func (c *Controller) RunStep(ctx context.Context, s *Session, step story.Step) (story.State, error) {
	op := "run step " + string(step)
	if !step.Valid() {
		return stateOf(s), &ValidationError{Field: "step", Reason: fmt.Sprintf("unknown step %q", step)}
	}
	if err := c.acquire(op, s); err != nil {
		return stateOf(s), err
	}
	defer s.release()
	return c.runStepLocked(ctx, s, step)
}

// Regenerate requests the whole story in one round trip and replaces the
// state wholesale, superseding any earlier partial results.
func (c *Controller) Regenerate(ctx context.Context, s *Session) (story.State, error) {
	const op = "generate full story"
	if err := c.acquire(op, s); err != nil {
		return stateOf(s), err
	}
	defer s.release()

	started := c.clock()
	patch, err := c.svc.GenerateFull(ctx, s.id)
	if err != nil {
		c.logger.Warn("full run failed", zap.String("session_id", s.id), zap.Error(err))
		c.journal.Error("Full story failed: %v", err)
		return s.State(), err
	}
	next := story.Replace(patch)
	last := lastCompleted(next)
	state, err := c.commit(ctx, op, s, next, last)
	if err == nil {
		c.logger.Info("full run finished",
			zap.String("session_id", s.id),
			zap.Duration("elapsed", c.clock().Sub(started)),
			zap.Int("scenes", len(next.Scenes)),
		)
		c.journal.Info("Generated the full story (%d scenes)", len(next.Scenes))
	}
	return state, err
}

// RunChain runs every step in sequence order through single-step requests,
// persisting after each, and stops at the first failure. The session stays
// busy for the whole chain.
func (c *Controller) RunChain(ctx context.Context, s *Session) (story.State, error) {
	const op = "run all steps"
	if err := c.acquire(op, s); err != nil {
		return stateOf(s), err
	}
	defer s.release()

	state := s.State()
	for _, step := range story.Steps() {
		if err := ctx.Err(); err != nil {
			return state, fmt.Errorf("session: chain stopped before %s: %w", step, err)
		}
		next, err := c.runStepLocked(ctx, s, step)
		if err != nil {
			return next, fmt.Errorf("session: chain stopped at %s: %w", step, err)
		}
		state = next
	}
	return state, nil
}

// NextStep suggests the step after the last one that succeeded. ok is false
// once dialogue has run.
func (c *Controller) NextStep(s *Session) (story.Step, bool) {
	if s == nil {
		return story.StepCharacter, true
	}
	return s.LastStep().Next()
}

// Destroy deletes the session. Local state, the persisted mirror and the
// premise draft are always cleared; the remote delete is best effort and its
// failure is only logged. Destroying nil or a stale handle is a no-op. The
// returned error reports a local store failure only.
func (c *Controller) Destroy(ctx context.Context, s *Session) error {
	c.mu.Lock()
	if s == nil || c.active != s {
		c.mu.Unlock()
		return nil
	}
	c.active = nil
	c.draft = ""
	s.closed.Store(true)
	clearErr := c.store.Clear(ctx)
	c.mu.Unlock()

	if err := c.svc.DeleteSession(ctx, s.id); err != nil {
		c.logger.Warn("remote delete failed", zap.String("session_id", s.id), zap.Error(err))
		c.journal.Warn("Session %s removed locally; remote delete failed: %v", s.id, err)
	} else {
		c.journal.Info("Deleted session %s", s.id)
	}
	if clearErr != nil {
		c.logger.Error("clear persisted session failed", zap.Error(clearErr))
		return fmt.Errorf("session: clear persisted session: %w", clearErr)
	}
	return nil
}

// Restore reactivates the persisted session without contacting the service.
// A corrupt record is logged, cleared and treated as no session.
func (c *Controller) Restore(ctx context.Context) (*Session, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return c.active, true, nil
	}
	rec, ok, err := c.store.Load(ctx)
	if err != nil {
		if errors.Is(err, store.ErrCorruptRecord) {
			c.logger.Warn("discarding corrupt persisted session", zap.Error(err))
			c.journal.Warn("Saved session could not be read and was discarded")
			if clearErr := c.store.Clear(ctx); clearErr != nil {
				c.logger.Warn("clear corrupt session failed", zap.Error(clearErr))
			}
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("session: restore: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	strategy, err := story.ParseStrategy(string(rec.Meta.Strategy))
	if err != nil {
		strategy = story.StrategyManual
	}
	created := rec.Meta.CreatedAt
	if created.IsZero() {
		created = c.clock()
	}
	s := newSession(rec.SessionID, story.NormalizeMode(string(rec.Meta.Mode)), strategy, rec.Meta.Premise, created)
	s.state = rec.State.Clone()
	s.lastStep = rec.Meta.LastStep
	if !s.lastStep.Valid() {
		s.lastStep = lastCompleted(s.state)
	}
	if !rec.Meta.UpdatedAt.IsZero() {
		s.updatedAt = rec.Meta.UpdatedAt
	}
	c.active = s
	c.logger.Info("session restored", zap.String("session_id", s.id))
	c.journal.Info("Resumed session %s", s.id)
	return s, true, nil
}

func (c *Controller) runStepLocked(ctx context.Context, s *Session, step story.Step) (story.State, error) {
	op := "run step " + string(step)
	patch, err := c.svc.RunStep(ctx, s.id, step)
	if err != nil {
		c.logger.Warn("step failed", zap.String("session_id", s.id), zap.String("step", string(step)), zap.Error(err))
		c.journal.Error("%s failed: %v", step.FriendlyName(), err)
		return s.State(), err
	}
	if !slices.Contains(patch.Fields(), step) {
		c.logger.Warn("step response carried no result for its step",
			zap.String("session_id", s.id),
			zap.String("step", string(step)),
		)
		c.journal.Warn("%s came back empty; earlier text kept", step.FriendlyName())
	}
	state, err := c.commit(ctx, op, s, story.Merge(s.State(), patch), step)
	if err == nil {
		c.journal.Info("%s ready", step.FriendlyName())
	}
	return state, err
}

// acquire checks that s is the active session and takes its gate.
func (c *Controller) acquire(op string, s *Session) error {
	if s == nil {
		return precondition(op, ErrNoSession)
	}
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	switch {
	case active == nil:
		return precondition(op, ErrNoSession)
	case active != s:
		return precondition(op, ErrStaleSession)
	}
	if !s.tryAcquire() {
		return precondition(op, ErrBusy)
	}
	return nil
}

// commit swaps in the new state and persists it. A session deleted while the
// request was in flight keeps its old state and nothing is written.
func (c *Controller) commit(ctx context.Context, op string, s *Session, next story.State, last story.Step) (story.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != s {
		return s.State(), precondition(op, ErrStaleSession)
	}
	s.swap(next, last, c.clock())
	if err := c.persistLocked(ctx, s); err != nil {
		return s.State(), err
	}
	return s.State(), nil
}

func (c *Controller) persistLocked(ctx context.Context, s *Session) error {
	snap := s.Snapshot()
	rec := store.Record{
		SessionID: snap.ID,
		State:     snap.State,
		Meta: store.Meta{
			Mode:      snap.Mode,
			Strategy:  snap.Strategy,
			Premise:   snap.Premise,
			LastStep:  snap.LastStep,
			CreatedAt: snap.CreatedAt,
			UpdatedAt: snap.UpdatedAt,
		},
	}
	if err := c.store.Save(ctx, rec); err != nil {
		c.logger.Error("persist session failed", zap.String("session_id", s.id), zap.Error(err))
		c.journal.Warn("Could not save session %s: %v", s.id, err)
		return fmt.Errorf("session: persist: %w", err)
	}
	return nil
}

func stateOf(s *Session) story.State {
	if s == nil {
		return story.State{}
	}
	return s.State()
}

func lastCompleted(state story.State) story.Step {
	done := state.Completed()
	if len(done) == 0 {
		return ""
	}
	return done[len(done)-1]
}
