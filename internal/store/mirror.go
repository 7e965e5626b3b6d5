package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kingrea/director/internal/story"
)

// Well-known slot keys. The session id and state are required for a restore;
// the meta slot is optional.
const (
	KeySessionID   = "director.session_id"
	KeyStoryState  = "director.story_state"
	KeySessionMeta = "director.session_meta"
)

// ErrCorruptRecord is returned when the persisted state cannot be decoded.
var ErrCorruptRecord = errors.New("store: persisted session state is corrupt")

// Meta is the optional description of a persisted session.
type Meta struct {
	Mode      story.Mode     `json:"mode,omitempty"`
	Strategy  story.Strategy `json:"strategy,omitempty"`
	Premise   string         `json:"premise,omitempty"`
	LastStep  story.Step     `json:"last_step,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
	UpdatedAt time.Time      `json:"updated_at,omitempty"`
}

// Record is everything mirrored for the active session.
type Record struct {
	SessionID string
	State     story.State
	Meta      Meta
}

// Mirror persists the active session record into Slots.
type Mirror struct {
	slots Slots
}

// NewMirror wraps slots.
func NewMirror(slots Slots) *Mirror {
	return &Mirror{slots: slots}
}

// Save writes the session id, state and meta in one Put.
func (m *Mirror) Save(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.SessionID) == "" {
		return fmt.Errorf("store: session id is required")
	}
	state, err := json.Marshal(rec.State)
	if err != nil {
		return fmt.Errorf("store: encode state: %w", err)
	}
	meta, err := json.Marshal(rec.Meta)
	if err != nil {
		return fmt.Errorf("store: encode meta: %w", err)
	}
	return m.slots.Put(ctx,
		Entry{Key: KeyStoryState, Value: string(state)},
		Entry{Key: KeySessionMeta, Value: string(meta)},
		Entry{Key: KeySessionID, Value: rec.SessionID},
	)
}

// Load reads the persisted record. ok is false when either required slot is
// missing. A state that fails to decode returns ErrCorruptRecord.
func (m *Mirror) Load(ctx context.Context) (Record, bool, error) {
	id, ok, err := m.slots.Get(ctx, KeySessionID)
	if err != nil || !ok || strings.TrimSpace(id) == "" {
		return Record{}, false, err
	}
	rawState, ok, err := m.slots.Get(ctx, KeyStoryState)
	if err != nil || !ok {
		return Record{}, false, err
	}
	rec := Record{SessionID: id}
	if err := json.Unmarshal([]byte(rawState), &rec.State); err != nil {
		return Record{}, false, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if rawMeta, ok, err := m.slots.Get(ctx, KeySessionMeta); err == nil && ok {
		var meta Meta
		if json.Unmarshal([]byte(rawMeta), &meta) == nil {
			rec.Meta = meta
		}
	}
	return rec, true, nil
}

// Clear removes every slot the mirror owns.
func (m *Mirror) Clear(ctx context.Context) error {
	return m.slots.Delete(ctx, KeySessionID, KeyStoryState, KeySessionMeta)
}
