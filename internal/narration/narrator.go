package narration

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/kingrea/director/internal/logging"
)

// Result reports one finished narration.
type Result struct {
	Label string
	Path  string
	Err   error
}

// Narrator dispatches speak requests in the background and saves the audio.
type Narrator struct {
	speaker Speaker
	dir     string
	logger  *zap.Logger
	notify  func(Result)
	clock   func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup
	seq    atomic.Int64

	mu     sync.Mutex
	closed bool
}

// Option customizes a Narrator.
type Option func(*Narrator)

// WithLogger attaches the debug logger.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Narrator) {
		n.logger = logging.OrNop(logger)
	}
}

// WithNotify registers a callback run on the worker goroutine after each
// narration finishes.
func WithNotify(fn func(Result)) Option {
	return func(n *Narrator) {
		n.notify = fn
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(n *Narrator) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// New creates a narrator writing audio into dir. A nil speaker disables it.
func New(speaker Speaker, dir string, opts ...Option) *Narrator {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Narrator{
		speaker: speaker,
		dir:     dir,
		logger:  zap.NewNop(),
		clock:   time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Enabled reports whether a sidecar is configured.
func (n *Narrator) Enabled() bool {
	return n != nil && n.speaker != nil
}

// Narrate starts reading text aloud and returns immediately. It reports false
// when nothing was started: narration is off, the text is blank, or the
// narrator is closed.
func (n *Narrator) Narrate(label, text string) bool {
	if !n.Enabled() || strings.TrimSpace(text) == "" {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return false
	}
	seq := n.seq.Add(1)
	n.wg.Go(func() {
		res := n.speakRecovered(label, text, seq)
		if res.Err != nil {
			n.logger.Warn("narration failed", zap.String("label", label), zap.Error(res.Err))
		} else {
			n.logger.Debug("narration saved", zap.String("label", label), zap.String("path", res.Path))
		}
		if n.notify != nil {
			n.notify(res)
		}
	})
	return true
}

// Wait blocks until every started narration has finished.
func (n *Narrator) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}

// Close cancels in-flight requests, refuses new ones and waits for workers.
func (n *Narrator) Close() {
	if n == nil {
		return
	}
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.cancel()
	n.wg.Wait()
}

// speakRecovered turns a panicking speaker into a failed Result so the
// notify callback still fires once per narration.
func (n *Narrator) speakRecovered(label, text string, seq int64) Result {
	var (
		res     Result
		catcher panics.Catcher
	)
	catcher.Try(func() { res = n.speak(label, text, seq) })
	if r := catcher.Recovered(); r != nil {
		return Result{Label: label, Err: fmt.Errorf("narration: speaker panicked: %w", r.AsError())}
	}
	return res
}

func (n *Narrator) speak(label, text string, seq int64) Result {
	res := Result{Label: label}
	stream, contentType, err := n.speaker.Speak(n.ctx, text)
	if err != nil {
		res.Err = err
		return res
	}
	defer stream.Close()

	if err := os.MkdirAll(n.dir, 0o755); err != nil {
		res.Err = fmt.Errorf("narration: ensure audio dir: %w", err)
		return res
	}
	name := fmt.Sprintf("%s-%03d-%s%s",
		n.clock().UTC().Format("20060102T150405"),
		seq,
		slug(label),
		extensionFor(contentType),
	)
	path := filepath.Join(n.dir, name)
	file, err := os.Create(path)
	if err != nil {
		res.Err = fmt.Errorf("narration: create %s: %w", name, err)
		return res
	}
	if _, err := io.Copy(file, stream); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		res.Err = fmt.Errorf("narration: write %s: %w", name, err)
		return res
	}
	if err := file.Close(); err != nil {
		res.Err = fmt.Errorf("narration: close %s: %w", name, err)
		return res
	}
	res.Path = path
	return res
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".audio"
	}
	switch mediaType {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/aac":
		return ".aac"
	default:
		return ".audio"
	}
}

func slug(label string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(label) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "text"
	}
	return out
}
