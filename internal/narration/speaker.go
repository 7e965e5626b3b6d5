// Package narration reads story text aloud through an HTTP text-to-speech
// sidecar. Narration is a side channel: nothing here ever touches story state.
package narration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultTimeout bounds one synthesis request.
const DefaultTimeout = 60 * time.Second

// Speaker turns text into an audio stream. The caller closes the stream.
type Speaker interface {
	Speak(ctx context.Context, text string) (io.ReadCloser, string, error)
}

// HTTPSpeaker posts {text, voice} to the sidecar and returns the response body.
type HTTPSpeaker struct {
	url   string
	voice string
	http  *http.Client
}

// NewHTTPSpeaker returns a speaker for url, or nil when url is empty.
func NewHTTPSpeaker(url, voice string, timeout time.Duration) *HTTPSpeaker {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPSpeaker{url: url, voice: strings.TrimSpace(voice), http: &http.Client{Timeout: timeout}}
}

// SpeakerFor returns an HTTP speaker, or a nil Speaker when url is empty so
// New builds a disabled narrator.
func SpeakerFor(url, voice string, timeout time.Duration) Speaker {
	if sp := NewHTTPSpeaker(url, voice, timeout); sp != nil {
		return sp
	}
	return nil
}

type speakRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// Speak returns the audio stream and its content type.
func (s *HTTPSpeaker) Speak(ctx context.Context, text string) (io.ReadCloser, string, error) {
	payload, err := json.Marshal(speakRequest{Text: text, Voice: s.voice})
	if err != nil {
		return nil, "", fmt.Errorf("narration: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return nil, "", fmt.Errorf("narration: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("narration: call sidecar: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if detail := gjson.GetBytes(body, "detail"); detail.Type == gjson.String {
			return nil, "", fmt.Errorf("narration: sidecar %d: %s", resp.StatusCode, detail.String())
		}
		return nil, "", fmt.Errorf("narration: sidecar %d", resp.StatusCode)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}
