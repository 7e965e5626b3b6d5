// Package service is the HTTP client for the remote generation service. Every
// state-bearing response is normalized through story.Normalize here, so the
// rest of the program never sees field aliases or wrapper objects.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kingrea/director/internal/logging"
	"github.com/kingrea/director/internal/story"
)

const tracerName = "github.com/kingrea/director/internal/service"

// RequestIDHeader carries a per-request id the service can log.
const RequestIDHeader = "X-Request-ID"

// Created is the result of a successful session creation.
type Created struct {
	SessionID string
	State     story.Patch
}

type createRequest struct {
	StoryMode string `json:"story_mode"`
	Premise   string `json:"initial_character_description"`
}

type stepRequest struct {
	Step story.Step `json:"step"`
}

// Client talks to the generation service.
type Client struct {
	settings Settings
	http     *http.Client
	logger   *zap.Logger
	tracer   trace.Tracer
	newID    func() string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. Its Timeout is left alone.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithLogger attaches a debug logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logging.OrNop(logger)
	}
}

// WithRequestIDs overrides how X-Request-ID values are generated.
func WithRequestIDs(fn func() string) Option {
	return func(c *Client) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// WithTracerProvider uses tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// New builds a client for settings.
func New(settings Settings, opts ...Option) (*Client, error) {
	settings.normalize()
	parsed, err := url.Parse(settings.BaseURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("service: invalid base url %q", settings.BaseURL)
	}
	c := &Client{
		settings: settings,
		http:     &http.Client{Timeout: settings.Timeout},
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(tracerName),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// BaseURL returns the service root the client targets.
func (c *Client) BaseURL() string {
	return c.settings.BaseURL
}

// CreateSession opens a remote session and returns its id and initial state.
func (c *Client) CreateSession(ctx context.Context, mode story.Mode, premise string) (Created, error) {
	const op = "create session"
	body, err := c.do(ctx, op, http.MethodPost, "/session", createRequest{
		StoryMode: string(mode),
		Premise:   premise,
	})
	if err != nil {
		return Created{}, err
	}
	id := strings.TrimSpace(gjson.GetBytes(body, "session_id").String())
	if id == "" {
		return Created{}, &ServiceError{Op: op, Detail: "response did not include a session_id"}
	}
	patch, err := normalize(op, body)
	if err != nil {
		return Created{}, err
	}
	return Created{SessionID: id, State: patch}, nil
}

// RunStep asks the service to generate one step for the session.
func (c *Client) RunStep(ctx context.Context, sessionID string, step story.Step) (story.Patch, error) {
	op := "run step " + string(step)
	body, err := c.do(ctx, op, http.MethodPost, sessionPath(sessionID, "step"), stepRequest{Step: step})
	if err != nil {
		return story.Patch{}, err
	}
	return normalize(op, body)
}

// GenerateFull asks the service for a complete story in one round trip.
func (c *Client) GenerateFull(ctx context.Context, sessionID string) (story.Patch, error) {
	const op = "generate full story"
	body, err := c.do(ctx, op, http.MethodPost, sessionPath(sessionID, "generate"), nil)
	if err != nil {
		return story.Patch{}, err
	}
	return normalize(op, body)
}

// FetchSession reads the service's current view of the session.
func (c *Client) FetchSession(ctx context.Context, sessionID string) (story.Patch, error) {
	const op = "fetch session"
	body, err := c.do(ctx, op, http.MethodGet, sessionPath(sessionID, ""), nil)
	if err != nil {
		return story.Patch{}, err
	}
	return normalize(op, body)
}

// DeleteSession removes the remote session. The response body is ignored.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := c.do(ctx, "delete session", http.MethodDelete, sessionPath(sessionID, ""), nil)
	return err
}

func sessionPath(id, action string) string {
	path := "/session/" + url.PathEscape(id)
	if action != "" {
		path += "/" + action
	}
	return path
}

func normalize(op string, body []byte) (story.Patch, error) {
	patch, err := story.Normalize(body)
	if err != nil {
		return story.Patch{}, transportError(op, err)
	}
	return patch, nil
}

// do performs one request and returns the body of a 2xx response. Every other
// outcome is a *ServiceError.
func (c *Client) do(ctx context.Context, op, method, path string, payload any) ([]byte, error) {
	requestID := c.newID()
	ctx, span := c.tracer.Start(ctx, "service."+strings.ReplaceAll(op, " ", "_"),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
			attribute.String("director.request_id", requestID),
		),
	)
	defer span.End()

	body, status, err := c.roundTrip(ctx, op, method, path, payload, requestID)
	if status > 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op)
		c.logger.Warn("service call failed",
			zap.String("op", op),
			zap.String("request_id", requestID),
			zap.Int("status", status),
			zap.Error(err),
		)
		return nil, err
	}
	c.logger.Debug("service call",
		zap.String("op", op),
		zap.String("request_id", requestID),
		zap.Int("status", status),
		zap.Int("bytes", len(body)),
	)
	return body, nil
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, payload any, requestID string) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, transportError(op, fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.settings.BaseURL+path, reader)
	if err != nil {
		return nil, 0, transportError(op, fmt.Errorf("build request: %w", err))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, transportError(op, err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, c.settings.MaxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, 0, transportError(op, fmt.Errorf("read response: %w", err))
	}
	if int64(len(body)) > c.settings.MaxBodyBytes {
		return nil, 0, transportError(op, errors.New("response exceeds size limit"))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, statusError(op, resp.StatusCode, body)
	}
	return body, resp.StatusCode, nil
}
