package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/director/internal/story"
)

// fakeGenerator mimics the generation service closely enough for the CLI.
type fakeGenerator struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeGenerator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/session":
		_, _ = io.WriteString(w, `{"session_id":"abc","state":{}}`)
	case r.Method == http.MethodPost && r.URL.Path == "/session/abc/step":
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch req["step"] {
		case "character":
			_, _ = io.WriteString(w, `{"character_sheet":"Mara keeps the light."}`)
		case "outline":
			_, _ = io.WriteString(w, `{"outline_text":"A bottle washes ashore.\n\nMara rows out."}`)
		case "scenes":
			_, _ = io.WriteString(w, `{"scenes":"The bottle glints on the rocks."}`)
		default:
			_, _ = io.WriteString(w, `{"dialogue":"MARA: What's this?"}`)
		}
	case r.Method == http.MethodPost && r.URL.Path == "/session/abc/generate":
		_, _ = io.WriteString(w, `{"state":{"character_sheet":"Regenerated.","scenes":["One."]}}`)
	case r.Method == http.MethodGet && r.URL.Path == "/session/abc":
		_, _ = io.WriteString(w, `{"character_sheet":"Remote copy."}`)
	case r.Method == http.MethodDelete && r.URL.Path == "/session/abc":
		f.mu.Lock()
		f.deleted = append(f.deleted, "abc")
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"detail":"no such route"}`)
	}
}

func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--dir", dir}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	if rt != nil {
		rt.Close()
		rt = nil
	}
	return out.String(), err
}

func TestCLISessionLifecycle(t *testing.T) {
	gen := &fakeGenerator{}
	srv := httptest.NewServer(gen)
	defer srv.Close()
	t.Setenv("DIRECTOR_SERVICE_URL", srv.URL)
	dir := t.TempDir()

	out, err := runCLI(t, dir, "new", "--mode", "Novel", "A", "lighthouse", "keeper")
	require.NoError(t, err)
	assert.Contains(t, out, "Session abc (novel, manual)")

	_, err = runCLI(t, dir, "new", "another")
	require.Error(t, err, "a second session needs the first deleted")

	out, err = runCLI(t, dir, "step", "character")
	require.NoError(t, err)
	assert.Contains(t, out, "Mara keeps the light.")

	out, err = runCLI(t, dir, "next")
	require.NoError(t, err)
	assert.Contains(t, out, "Running Outline")
	assert.Contains(t, out, "1. A bottle washes ashore.")
	assert.Contains(t, out, "2. Mara rows out.")

	out, err = runCLI(t, dir, "chain")
	require.NoError(t, err)
	assert.Contains(t, out, "[1] MARA: What's this?")

	out, err = runCLI(t, dir, "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Session:  abc")
	assert.NotContains(t, out, "Next:", "every step has run")

	out, err = runCLI(t, dir, "show", "--remote")
	require.NoError(t, err)
	assert.Contains(t, out, "Remote copy.")

	out, err = runCLI(t, dir, "export", "--format", "html", "--out", "-")
	require.NoError(t, err)
	assert.Contains(t, out, `<section class="page">`)

	out, err = runCLI(t, dir, "full")
	require.NoError(t, err)
	assert.Contains(t, out, "Regenerated.")
	assert.NotContains(t, out, "Mara rows out.", "a full run replaces earlier results")

	_, err = runCLI(t, dir, "delete")
	require.NoError(t, err)
	assert.Equal(t, []string{"abc"}, gen.deleted)

	_, err = runCLI(t, dir, "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no active session")
}

func TestCLIExportToFile(t *testing.T) {
	srv := httptest.NewServer(&fakeGenerator{})
	defer srv.Close()
	t.Setenv("DIRECTOR_SERVICE_URL", srv.URL)
	t.Setenv("DIRECTOR_STORAGE_BACKEND", "file")
	dir := t.TempDir()

	_, err := runCLI(t, dir, "new", "--strategy", "auto", "Storm")
	require.NoError(t, err)
	target := filepath.Join(dir, "out", "story.md")
	out, err := runCLI(t, dir, "export", "--format", "md", "--out", target)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+target)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# Storm\n"))
	assert.Contains(t, string(data), "Regenerated.")
}

func TestCLISpeakRequiresNarration(t *testing.T) {
	srv := httptest.NewServer(&fakeGenerator{})
	defer srv.Close()
	t.Setenv("DIRECTOR_SERVICE_URL", srv.URL)
	t.Setenv("DIRECTOR_NARRATION_URL", "")
	_, err := runCLI(t, t.TempDir(), "speak", "character")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "narration is off")
}

func TestPickText(t *testing.T) {
	state := story.State{
		CharacterSheet: "Mara.",
		Scenes:         []string{"One.", "Two."},
		Dialogues:      []string{"  "},
	}
	cases := []struct {
		step    story.Step
		index   int
		label   string
		wantErr bool
	}{
		{story.StepCharacter, 1, "Character Sheet", false},
		{story.StepOutline, 1, "", true},
		{story.StepScenes, 2, "Scene 2", false},
		{story.StepScenes, 3, "", true},
		{story.StepDialogue, 1, "", true},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s-%d", tc.step, tc.index), func(t *testing.T) {
			label, _, err := pickText(state, tc.step, tc.index)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.label, label)
		})
	}
}
