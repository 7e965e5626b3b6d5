package narration

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func verifyNoLeaks(t *testing.T) {
	goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

type stubSpeaker struct {
	audio       string
	contentType string
	err         error
	block       chan struct{}
	texts       chan string
}

func (s *stubSpeaker) Speak(ctx context.Context, text string) (io.ReadCloser, string, error) {
	if s.texts != nil {
		s.texts <- text
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}
	if s.err != nil {
		return nil, "", s.err
	}
	return io.NopCloser(strings.NewReader(s.audio)), s.contentType, nil
}

func fixedClock() time.Time {
	return time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
}

func TestNarrateWritesAudioAndNotifies(t *testing.T) {
	defer verifyNoLeaks(t)
	dir := filepath.Join(t.TempDir(), "audio")
	results := make(chan Result, 1)
	n := New(&stubSpeaker{audio: "ID3-bytes", contentType: "audio/mpeg"}, dir,
		WithLogger(zaptest.NewLogger(t)),
		WithNotify(func(r Result) { results <- r }),
		WithClock(fixedClock),
	)
	defer n.Close()

	require.True(t, n.Narrate("Scene 1", "The storm rolls in."))
	n.Wait()

	res := <-results
	require.NoError(t, res.Err)
	assert.Equal(t, "Scene 1", res.Label)
	assert.Equal(t, filepath.Join(dir, "20260601T080000-001-scene-1.mp3"), res.Path)
	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "ID3-bytes", string(data))
}

func TestNarrateDoesNotBlockTheCaller(t *testing.T) {
	defer verifyNoLeaks(t)
	speaker := &stubSpeaker{block: make(chan struct{}), texts: make(chan string, 1)}
	results := make(chan Result, 1)
	n := New(speaker, t.TempDir(), WithNotify(func(r Result) { results <- r }))

	require.True(t, n.Narrate("outline", "Beat 1"))
	assert.Equal(t, "Beat 1", <-speaker.texts)

	n.Close()
	res := <-results
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.False(t, n.Narrate("outline", "again"), "a closed narrator refuses work")
}

func TestNarrateFailureIsReportedNotRaised(t *testing.T) {
	defer verifyNoLeaks(t)
	results := make(chan Result, 1)
	n := New(&stubSpeaker{err: errors.New("sidecar down")}, t.TempDir(), WithNotify(func(r Result) { results <- r }))
	defer n.Close()
	require.True(t, n.Narrate("dialogue", "MARA: hello"))
	n.Wait()
	res := <-results
	require.Error(t, res.Err)
	assert.Empty(t, res.Path)
}

type panickingSpeaker struct{}

func (panickingSpeaker) Speak(context.Context, string) (io.ReadCloser, string, error) {
	panic("voice model crashed")
}

func TestNarratePanicBecomesFailedResult(t *testing.T) {
	defer verifyNoLeaks(t)
	results := make(chan Result, 1)
	n := New(panickingSpeaker{}, t.TempDir(), WithNotify(func(r Result) { results <- r }))
	require.True(t, n.Narrate("scene", "The storm"))
	require.NotPanics(t, n.Close)

	res := <-results
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "voice model crashed")
	assert.Equal(t, "scene", res.Label)
}

func TestDisabledNarrator(t *testing.T) {
	n := New(SpeakerFor("", "", 0), t.TempDir())
	assert.False(t, n.Enabled())
	assert.False(t, n.Narrate("scene", "text"))
	n.Close()

	enabled := New(&stubSpeaker{}, t.TempDir())
	defer enabled.Close()
	assert.False(t, enabled.Narrate("scene", "   "), "blank text is never sent")
}

func TestHTTPSpeaker(t *testing.T) {
	defer verifyNoLeaks(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req["text"] == "" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = io.WriteString(w, `{"detail":"text is required"}`)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = io.WriteString(w, req["voice"]+":"+req["text"])
	}))
	defer srv.Close()

	speaker := NewHTTPSpeaker(srv.URL, "alloy", time.Second)
	stream, contentType, err := speaker.Speak(context.Background(), "hello")
	require.NoError(t, err)
	body, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.NoError(t, stream.Close())
	assert.Equal(t, "alloy:hello", string(body))
	assert.Equal(t, ".wav", extensionFor(contentType))

	_, _, err = speaker.Speak(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "text is required")
}

func TestSlugAndExtension(t *testing.T) {
	assert.Equal(t, "character-sheet", slug("Character Sheet"))
	assert.Equal(t, "scene-3", slug("  Scene #3 "))
	assert.Equal(t, "text", slug("!!!"))
	assert.Equal(t, ".mp3", extensionFor("audio/mpeg; charset=binary"))
	assert.Equal(t, ".audio", extensionFor(""))
}
