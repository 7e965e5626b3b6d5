package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/director/internal/story"
)

func openBackends(t *testing.T) map[string]Slots {
	t.Helper()
	backends := map[string]Slots{}
	for _, name := range []string{BackendSQLite, BackendFile} {
		slots, err := Open(name, t.TempDir())
		require.NoError(t, err, name)
		t.Cleanup(func() { _ = slots.Close() })
		backends[name] = slots
	}
	return backends
}

func TestSlotsPutGetDelete(t *testing.T) {
	ctx := context.Background()
	for name, slots := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := slots.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, slots.Put(ctx, Entry{Key: "a", Value: "1"}, Entry{Key: "b", Value: "2"}))
			require.NoError(t, slots.Put(ctx, Entry{Key: "a", Value: "3"}))

			value, ok, err := slots.Get(ctx, "a")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "3", value)

			require.NoError(t, slots.Delete(ctx, "a", "never-written"))
			_, ok, err = slots.Get(ctx, "a")
			require.NoError(t, err)
			assert.False(t, ok)

			value, ok, err = slots.Get(ctx, "b")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "2", value)
		})
	}
}

func TestSlotsRejectEmptyKey(t *testing.T) {
	ctx := context.Background()
	for name, slots := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			err := slots.Put(ctx, Entry{Key: "ok", Value: "x"}, Entry{Key: " ", Value: "y"})
			require.Error(t, err)
			_, ok, err := slots.Get(ctx, "ok")
			require.NoError(t, err)
			assert.False(t, ok, "a rejected put must not write any entry")
		})
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("redis", t.TempDir())
	require.Error(t, err)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "director.db")
	first, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, Entry{Key: KeySessionID, Value: "abc"}))
	require.NoError(t, first.Close())

	second, err := OpenSQLite(path)
	require.NoError(t, err)
	defer second.Close()
	value, ok, err := second.Get(ctx, KeySessionID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", value)
}

func TestFileSlotsRemovesEmptyDocument(t *testing.T) {
	ctx := context.Background()
	slots, err := NewFileSlots(filepath.Join(t.TempDir(), "slots.json"))
	require.NoError(t, err)
	require.NoError(t, slots.Put(ctx, Entry{Key: "k", Value: "v"}))
	_, err = os.Stat(slots.Path())
	require.NoError(t, err)

	require.NoError(t, slots.Delete(ctx, "k"))
	_, err = os.Stat(slots.Path())
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestMirrorRoundTrip(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := Record{
		SessionID: "sess-1",
		State: story.State{
			CharacterSheet: "Mara, a lighthouse keeper",
			Outline:        "Beat 1: storm",
			Scenes:         []string{"Scene one", "Scene two"},
			Dialogues:      []string{"MARA: Hold the light."},
		},
		Meta: Meta{
			Mode:      "cinematic",
			Strategy:  story.StrategyAuto,
			Premise:   "A keeper alone in a storm",
			LastStep:  story.StepDialogue,
			CreatedAt: created,
			UpdatedAt: created.Add(time.Minute),
		},
	}
	for name, slots := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			mirror := NewMirror(slots)
			require.NoError(t, mirror.Save(ctx, rec))

			got, ok, err := mirror.Load(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			if diff := cmp.Diff(rec, got); diff != "" {
				t.Fatalf("record mismatch (-want +got):\n%s", diff)
			}

			require.NoError(t, mirror.Clear(ctx))
			_, ok, err = mirror.Load(ctx)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestMirrorLoadNeedsBothRequiredSlots(t *testing.T) {
	ctx := context.Background()
	for name, slots := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			mirror := NewMirror(slots)
			require.NoError(t, slots.Put(ctx, Entry{Key: KeySessionID, Value: "orphan"}))
			_, ok, err := mirror.Load(ctx)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, slots.Delete(ctx, KeySessionID))
			require.NoError(t, slots.Put(ctx, Entry{Key: KeyStoryState, Value: `{"outline":"x"}`}))
			_, ok, err = mirror.Load(ctx)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestMirrorWithoutMetaSlot(t *testing.T) {
	ctx := context.Background()
	slots, err := NewFileSlots(filepath.Join(t.TempDir(), "slots.json"))
	require.NoError(t, err)
	require.NoError(t, slots.Put(ctx,
		Entry{Key: KeySessionID, Value: "legacy"},
		Entry{Key: KeyStoryState, Value: `{"character_sheet":"Ada"}`},
	))
	rec, ok, err := NewMirror(slots).Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "legacy", rec.SessionID)
	assert.Equal(t, "Ada", rec.State.CharacterSheet)
	assert.Equal(t, Meta{}, rec.Meta)
}

func TestMirrorCorruptState(t *testing.T) {
	ctx := context.Background()
	slots, err := NewFileSlots(filepath.Join(t.TempDir(), "slots.json"))
	require.NoError(t, err)
	require.NoError(t, slots.Put(ctx,
		Entry{Key: KeySessionID, Value: "broken"},
		Entry{Key: KeyStoryState, Value: `{"scenes":`},
	))
	_, ok, err := NewMirror(slots).Load(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestFileSlotsRecoverFromCorruptDocument(t *testing.T) {
	ctx := context.Background()
	slots, err := NewFileSlots(filepath.Join(t.TempDir(), "slots.json"))
	require.NoError(t, err)
	truncated := `{"director.session_id":"S1","director.story_state":`
	require.NoError(t, os.WriteFile(slots.Path(), []byte(truncated), 0o644))

	_, _, err = slots.Get(ctx, KeySessionID)
	assert.ErrorIs(t, err, ErrCorruptRecord)

	mirror := NewMirror(slots)
	_, ok, err := mirror.Load(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrCorruptRecord)

	require.NoError(t, mirror.Clear(ctx))
	_, err = os.Stat(slots.Path())
	assert.True(t, errors.Is(err, os.ErrNotExist))

	require.NoError(t, os.WriteFile(slots.Path(), []byte(truncated), 0o644))
	rec := Record{SessionID: "S2", State: story.State{CharacterSheet: "Mara"}}
	require.NoError(t, mirror.Save(ctx, rec))
	got, ok, err := mirror.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "S2", got.SessionID)
	assert.Equal(t, "Mara", got.State.CharacterSheet)
}

func TestMirrorSaveRequiresSessionID(t *testing.T) {
	slots, err := NewFileSlots(filepath.Join(t.TempDir(), "slots.json"))
	require.NoError(t, err)
	err = NewMirror(slots).Save(context.Background(), Record{})
	require.Error(t, err)
}
