package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kingrea/director/internal/config"
	"github.com/kingrea/director/internal/story"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := New(Settings{BaseURL: srv.URL + "/"},
		WithLogger(zaptest.NewLogger(t)),
		WithRequestIDs(func() string { return "req-1" }),
	)
	require.NoError(t, err)
	return client
}

func TestCreateSessionSendsPremiseAndParsesState(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/session", r.URL.Path)
		assert.Equal(t, "req-1", r.Header.Get(RequestIDHeader))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "novel", req["story_mode"])
		assert.Equal(t, "A lighthouse keeper finds a message in a bottle", req["initial_character_description"])
		_, _ = io.WriteString(w, `{"session_id":"S1","state":{"id":"S1","character_sheet":"","outline_text":""}}`)
	})

	created, err := client.CreateSession(context.Background(), "novel", "A lighthouse keeper finds a message in a bottle")
	require.NoError(t, err)
	assert.Equal(t, "S1", created.SessionID)
	assert.Equal(t, story.State{}, story.Replace(created.State))
}

func TestCreateSessionRequiresID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"state":{}}`)
	})
	_, err := client.CreateSession(context.Background(), "comic", "x")
	svcErr, ok := AsServiceError(err)
	require.True(t, ok)
	assert.Contains(t, svcErr.Detail, "session_id")
}

func TestRunStepPostsStepAndNormalizes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/session/abc%2F1/step", r.URL.EscapedPath())
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "outline", req["step"])
		_, _ = io.WriteString(w, `{"status":"ok","full_state":{"outline_text":"Beat 1: a storm"}}`)
	})

	patch, err := client.RunStep(context.Background(), "abc/1", story.StepOutline)
	require.NoError(t, err)
	require.NotNil(t, patch.Outline)
	assert.Equal(t, "Beat 1: a storm", *patch.Outline)
	assert.Nil(t, patch.CharacterSheet)
}

func TestGenerateFullAcceptsRawState(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/session/S1/generate", r.URL.Path)
		assert.Empty(t, r.Header.Get("Content-Type"))
		_, _ = io.WriteString(w, `{"character_sheet":"Mara","outline":"o","scenes":["s1","s2"],"dialogue":"MARA: hi"}`)
	})

	patch, err := client.GenerateFull(context.Background(), "S1")
	require.NoError(t, err)
	got := story.Replace(patch)
	assert.Equal(t, story.State{
		CharacterSheet: "Mara",
		Outline:        "o",
		Scenes:         []string{"s1", "s2"},
		Dialogues:      []string{"MARA: hi"},
	}, got)
}

func TestNonSuccessBecomesServiceError(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		detail string
	}{
		{"string detail", http.StatusBadRequest, `{"detail":"Outline missing; generate outline first"}`, "Outline missing; generate outline first"},
		{"structured detail", http.StatusUnprocessableEntity, `{"detail": [ {"loc": ["body","step"], "msg": "required"} ]}`, `[{"loc":["body","step"],"msg":"required"}]`},
		{"no detail", http.StatusInternalServerError, `{}`, ""},
		{"plain text", http.StatusBadGateway, "upstream down", "upstream down"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			})
			_, err := client.RunStep(context.Background(), "S1", story.StepScenes)
			svcErr, ok := AsServiceError(err)
			require.True(t, ok, "expected ServiceError, got %v", err)
			assert.Equal(t, tc.status, svcErr.Status)
			assert.Equal(t, tc.detail, svcErr.Detail)
			assert.False(t, svcErr.IsTransport())
		})
	}
}

func TestMalformedBodyIsTransportError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `["not","a","state"]`)
	})
	_, err := client.RunStep(context.Background(), "S1", story.StepCharacter)
	svcErr, ok := AsServiceError(err)
	require.True(t, ok)
	assert.True(t, svcErr.IsTransport())
	assert.Equal(t, GenericDetail, svcErr.Detail)
	assert.ErrorIs(t, err, story.ErrMalformedState)
}

func TestUnreachableServiceIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := New(Settings{BaseURL: url, Timeout: time.Second})
	require.NoError(t, err)
	_, err = client.GenerateFull(context.Background(), "S1")
	svcErr, ok := AsServiceError(err)
	require.True(t, ok)
	assert.True(t, svcErr.IsTransport())
	assert.NotNil(t, svcErr.Err)
}

func TestOversizedBodyIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"outline":"`+strings.Repeat("x", 64)+`"}`)
	}))
	defer srv.Close()
	client, err := New(Settings{BaseURL: srv.URL, MaxBodyBytes: 16})
	require.NoError(t, err)
	_, err = client.FetchSession(context.Background(), "S1")
	svcErr, ok := AsServiceError(err)
	require.True(t, ok)
	assert.True(t, svcErr.IsTransport())
}

func TestDeleteSessionIgnoresBody(t *testing.T) {
	var called atomic.Bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/session/S1", r.URL.Path)
		_, _ = io.WriteString(w, "deleted")
	})
	require.NoError(t, client.DeleteSession(context.Background(), "S1"))
	assert.True(t, called.Load())
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(Settings{BaseURL: "::nope"})
	require.Error(t, err)
}

func TestSettingsFromConfig(t *testing.T) {
	settings := SettingsFromConfig(nil)
	assert.Equal(t, DefaultBaseURL, settings.BaseURL)
	assert.Equal(t, DefaultTimeout, settings.Timeout)

	cfg := &config.Config{Project: config.ProjectConfig{
		Service: config.ServiceConfig{URL: "https://gen.example.com/", Timeout: 5 * time.Second},
	}}
	settings = SettingsFromConfig(cfg)
	assert.Equal(t, "https://gen.example.com", settings.BaseURL)
	assert.Equal(t, 5*time.Second, settings.Timeout)
	assert.Equal(t, DefaultMaxBodyBytes, settings.MaxBodyBytes)
}
