// internal/tui/app.go
//
// This is the main TUI application using Bubbletea.
// Bubbletea uses "The Elm Architecture":
// - Model: the state of your application
// - Update: a function that handles messages and updates the model
// - View: a function that renders the model as a string
//
// The app has two working screens. Setup collects a mode, a strategy and a
// premise; story shows the live session and dispatches generation steps.
// Every call to the session controller runs inside a tea.Cmd so the UI never
// blocks on the network.

package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"go.uber.org/zap"

	"github.com/kingrea/director/internal/config"
	"github.com/kingrea/director/internal/logbook"
	"github.com/kingrea/director/internal/logging"
	"github.com/kingrea/director/internal/narration"
	"github.com/kingrea/director/internal/service"
	"github.com/kingrea/director/internal/session"
	"github.com/kingrea/director/internal/story"
)

// appState tracks which screen we're on
type appState int

const (
	stateSetup appState = iota
	stateStory
	statePreview
)

// setupFocus is the setup widget receiving keys.
type setupFocus int

const (
	focusModes setupFocus = iota
	focusPremise
)

// AppOption customizes the App.
type AppOption func(*App)

// WithLogbook attaches the journal shown in the log panel.
func WithLogbook(lb *logbook.Logbook) AppOption {
	return func(a *App) {
		a.logbook = lb
	}
}

// WithLogger attaches the debug logger.
func WithLogger(logger *zap.Logger) AppOption {
	return func(a *App) {
		a.logger = logging.OrNop(logger)
	}
}

// WithNarrator enables read-aloud. results must receive every Result the
// narrator reports, typically through narration.WithNotify.
func WithNarrator(n *narration.Narrator, results <-chan narration.Result) AppOption {
	return func(a *App) {
		a.narrator = n
		a.narrations = results
	}
}

// WithContext sets the parent context for service calls.
func WithContext(ctx context.Context) AppOption {
	return func(a *App) {
		if ctx != nil {
			a.parent = ctx
		}
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) AppOption {
	return func(a *App) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithMarkdownRenderer overrides how the export preview is styled.
func WithMarkdownRenderer(render func(markdown string, width int) (string, error)) AppOption {
	return func(a *App) {
		if render != nil {
			a.renderMarkdown = render
		}
	}
}

// App is the main application model
type App struct {
	state      appState
	config     *config.Config
	controller *session.Controller
	logbook    *logbook.Logbook
	logger     *zap.Logger
	narrator   *narration.Narrator
	narrations <-chan narration.Result

	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
	clock  func() time.Time

	renderMarkdown func(markdown string, width int) (string, error)

	// Setup screen
	modeMenu list.Model
	premise  textarea.Model
	strategy story.Strategy
	focus    setupFocus

	// Story screen
	session  *session.Session
	viewport viewport.Model
	preview  viewport.Model
	spinner  spinner.Model
	focused  int

	busy      bool
	busyLabel string
	statusMsg string
	errMsg    string

	width  int
	height int
}

// modeItem is one entry in the narrative mode selector.
// It implements the list.Item interface required by bubbles/list.
type modeItem struct {
	mode story.Mode
}

func (i modeItem) Title() string { return titleCase(string(i.mode)) }
func (i modeItem) Description() string {
	return modeDescriptions[i.mode]
}
func (i modeItem) FilterValue() string { return string(i.mode) }

var modeDescriptions = map[story.Mode]string{
	"cinematic": "Widescreen scenes, camera-ready beats",
	"comic":     "Panels, captions and punchy lines",
	"novel":     "Long-form prose with interior voice",
}

// NewApp creates a new App instance
func NewApp(cfg *config.Config, controller *session.Controller, opts ...AppOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("tui: config is required")
	}
	if controller == nil {
		return nil, fmt.Errorf("tui: session controller is required")
	}

	modeMenu := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	modeMenu.Title = "Narrative Mode"
	modeMenu.SetShowStatusBar(false)
	modeMenu.SetFilteringEnabled(false)
	modeMenu.SetShowHelp(false)

	premise := textarea.New()
	premise.Placeholder = "A lighthouse keeper finds a message in a bottle..."
	premise.CharLimit = 4000
	premise.ShowLineNumbers = false
	premise.SetHeight(6)
	premise.SetValue(controller.Draft())

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	app := &App{
		state:      stateSetup,
		config:     cfg,
		controller: controller,
		logger:     zap.NewNop(),
		parent:     context.Background(),
		clock:      time.Now,
		modeMenu:   modeMenu,
		premise:    premise,
		strategy:   cfg.DefaultStrategy(),
		viewport:   viewport.New(80, 20),
		preview:    viewport.New(80, 20),
		spinner:    sp,
	}
	app.renderMarkdown = app.glamourRender
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	app.ctx, app.cancel = context.WithCancel(app.parent)
	app.refreshModeMenu(cfg.DefaultMode())
	app.setFocus(focusModes)
	return app, nil
}

// ConfigChangedMsg carries a reloaded configuration into the program.
type ConfigChangedMsg struct {
	Config config.Config
}

// ConfigErrorMsg reports a configuration reload failure.
type ConfigErrorMsg struct {
	Err error
}

func (a *App) refreshModeMenu(selected story.Mode) {
	modes := a.config.Modes()
	items := make([]list.Item, len(modes))
	idx := 0
	for i, mode := range modes {
		items[i] = modeItem{mode: mode}
		if mode == selected {
			idx = i
		}
	}
	a.modeMenu.SetItems(items)
	if len(items) > 0 {
		a.modeMenu.Select(idx)
	}
}

func (a *App) selectedMode() story.Mode {
	if item, ok := a.modeMenu.SelectedItem().(modeItem); ok {
		return item.mode
	}
	return a.config.DefaultMode()
}

func (a *App) setFocus(f setupFocus) {
	a.focus = f
	if f == focusPremise {
		a.premise.Focus()
		return
	}
	a.premise.Blur()
}

func (a *App) logInfo(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Info(format, args...)
}

func (a *App) logWarn(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Warn(format, args...)
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return a.restoreSession()
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.resize(msg.Width, msg.Height)
		return a, nil

	case spinner.TickMsg:
		if !a.busy {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case restoredMsg:
		return a.handleRestored(msg)

	case sessionCreatedMsg:
		return a.handleCreated(msg)

	case storyUpdatedMsg:
		return a.handleStoryUpdated(msg)

	case sessionDeletedMsg:
		return a.handleDeleted(msg)

	case exportedMsg:
		if msg.err != nil {
			a.setError(msg.err)
			return a, nil
		}
		a.errMsg = ""
		a.statusMsg = fmt.Sprintf("Exported to %s", msg.path)
		a.logInfo("Exported story to %s", msg.path)
		return a, nil

	case previewMsg:
		if msg.err != nil {
			a.setError(msg.err)
			return a, nil
		}
		a.preview.SetContent(msg.content)
		a.preview.GotoTop()
		a.state = statePreview
		return a, nil

	case narrationDoneMsg:
		if msg.result.Err != nil {
			a.errMsg = fmt.Sprintf("Narration failed for %s: %v", msg.result.Label, msg.result.Err)
			a.logWarn("Narration of %s failed: %v", msg.result.Label, msg.result.Err)
			return a, nil
		}
		a.statusMsg = fmt.Sprintf("Narrated %s → %s", msg.result.Label, msg.result.Path)
		return a, nil

	case ConfigChangedMsg:
		current := a.selectedMode()
		a.config.Project = msg.Config.Project
		a.refreshModeMenu(current)
		a.statusMsg = "Configuration reloaded"
		return a, nil

	case ConfigErrorMsg:
		a.errMsg = fmt.Sprintf("Configuration not reloaded: %v", msg.Err)
		return a, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return a, a.quit()
		}
		switch a.state {
		case stateSetup:
			return a.updateSetup(msg)
		case stateStory:
			return a.updateStory(msg)
		case statePreview:
			return a.updatePreview(msg)
		}
	}
	return a, nil
}

func (a *App) quit() tea.Cmd {
	a.cancel()
	return tea.Quit
}

func (a *App) resize(width, height int) {
	a.width = width
	a.height = height
	contentWidth := max(20, width-4)
	bodyHeight := max(5, height-logPanelHeight-8)
	a.modeMenu.SetSize(contentWidth, max(6, bodyHeight-a.premise.Height()-4))
	a.premise.SetWidth(contentWidth)
	a.viewport.Width = contentWidth
	a.viewport.Height = bodyHeight
	a.preview.Width = contentWidth
	a.preview.Height = bodyHeight
	if a.session != nil {
		a.refreshStory()
	}
}

func (a *App) updateSetup(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "tab", "shift+tab":
		if a.focus == focusModes {
			a.setFocus(focusPremise)
		} else {
			a.setFocus(focusModes)
		}
		return a, nil
	case "ctrl+t":
		if a.strategy == story.StrategyAuto {
			a.strategy = story.StrategyManual
		} else {
			a.strategy = story.StrategyAuto
		}
		return a, nil
	case "ctrl+s":
		return a.createSession()
	}

	if a.focus == focusModes {
		switch msg.String() {
		case "q":
			return a, a.quit()
		case "enter":
			a.setFocus(focusPremise)
			return a, nil
		}
		var cmd tea.Cmd
		a.modeMenu, cmd = a.modeMenu.Update(msg)
		return a, cmd
	}

	if msg.String() == "esc" {
		a.setFocus(focusModes)
		return a, nil
	}
	before := a.premise.Value()
	var cmd tea.Cmd
	a.premise, cmd = a.premise.Update(msg)
	if value := a.premise.Value(); value != before {
		a.controller.SetDraft(value)
	}
	return a, cmd
}

func (a *App) createSession() (tea.Model, tea.Cmd) {
	if a.busy {
		return a, nil
	}
	premise := strings.TrimSpace(a.premise.Value())
	if premise == "" {
		a.errMsg = "Write a premise before creating a session"
		return a, nil
	}
	mode := a.selectedMode()
	if err := a.config.SetDefaults(mode, a.strategy); err != nil {
		a.logger.Warn("persist selector defaults failed", zap.Error(err))
	}
	a.errMsg = ""
	label := "Creating session"
	if a.strategy == story.StrategyAuto {
		label = "Creating session and generating the full story"
	}
	return a, tea.Batch(a.startBusy(label), a.createCmd(session.CreateRequest{
		Mode:     mode,
		Premise:  premise,
		Strategy: a.strategy,
	}))
}

func (a *App) updateStory(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "q":
		return a, a.quit()
	case "d":
		return a, a.destroyCmd()
	case "[":
		a.moveFocus(-1)
		return a, nil
	case "]":
		a.moveFocus(1)
		return a, nil
	case "s":
		return a, a.narrateFocused()
	case "e":
		return a, a.exportCmd(exportMarkdown)
	case "E":
		return a, a.exportCmd(exportHTML)
	case "p":
		return a, a.previewCmd()
	}

	if dispatch := a.dispatchFor(key); dispatch != nil {
		if a.isBusy() {
			a.statusMsg = fmt.Sprintf("Still working: %s", a.busyLabel)
			return a, nil
		}
		return a, dispatch()
	}

	var cmd tea.Cmd
	a.viewport, cmd = a.viewport.Update(msg)
	return a, cmd
}

// dispatchFor maps a key to the generation request it starts, if any.
func (a *App) dispatchFor(key string) func() tea.Cmd {
	steps := story.Steps()
	switch key {
	case "1", "2", "3", "4":
		step := steps[int(key[0]-'1')]
		return func() tea.Cmd { return a.runStep(step) }
	case "n":
		return func() tea.Cmd {
			step, ok := a.controller.NextStep(a.session)
			if !ok {
				a.statusMsg = "Every step has run; press f to regenerate the whole story"
				return nil
			}
			return a.runStep(step)
		}
	case "c":
		return func() tea.Cmd {
			return tea.Batch(a.startBusy("Running every step"), a.chainCmd())
		}
	case "f":
		return func() tea.Cmd {
			return tea.Batch(a.startBusy("Generating the full story"), a.regenerateCmd())
		}
	}
	return nil
}

func (a *App) runStep(step story.Step) tea.Cmd {
	return tea.Batch(a.startBusy(fmt.Sprintf("Generating %s", strings.ToLower(step.FriendlyName()))), a.stepCmd(step))
}

func (a *App) updatePreview(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q", "p":
		a.state = stateStory
		return a, nil
	}
	var cmd tea.Cmd
	a.preview, cmd = a.preview.Update(msg)
	return a, cmd
}

func (a *App) isBusy() bool {
	return a.busy || (a.session != nil && a.session.Busy())
}

func (a *App) startBusy(label string) tea.Cmd {
	a.busy = true
	a.busyLabel = label
	a.statusMsg = ""
	return a.spinner.Tick
}

func (a *App) stopBusy() {
	a.busy = false
	a.busyLabel = ""
}

func (a *App) handleRestored(msg restoredMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		a.setError(msg.err)
		return a, nil
	}
	if msg.session == nil {
		return a, nil
	}
	a.session = msg.session
	a.state = stateStory
	a.focused = 0
	a.refreshStory()
	a.statusMsg = fmt.Sprintf("Resumed session %s", msg.session.ID())
	return a, nil
}

func (a *App) handleCreated(msg sessionCreatedMsg) (tea.Model, tea.Cmd) {
	a.stopBusy()
	if msg.session != nil {
		a.session = msg.session
		a.state = stateStory
		a.focused = 0
		a.refreshStory()
		a.statusMsg = fmt.Sprintf("Session %s ready", msg.session.ID())
	}
	if msg.err != nil {
		a.setError(msg.err)
	} else {
		a.errMsg = ""
	}
	return a, nil
}

func (a *App) handleStoryUpdated(msg storyUpdatedMsg) (tea.Model, tea.Cmd) {
	if msg.session != a.session {
		// The session was deleted while the request was in flight.
		return a, nil
	}
	a.stopBusy()
	a.refreshStory()
	if msg.err != nil {
		a.setError(msg.err)
		return a, nil
	}
	a.errMsg = ""
	a.statusMsg = msg.done
	return a, nil
}

func (a *App) handleDeleted(msg sessionDeletedMsg) (tea.Model, tea.Cmd) {
	a.stopBusy()
	a.session = nil
	a.state = stateSetup
	a.focused = 0
	a.premise.Reset()
	a.viewport.SetContent("")
	a.setFocus(focusPremise)
	if msg.err != nil {
		a.setError(msg.err)
		return a, nil
	}
	a.errMsg = ""
	a.statusMsg = "Session deleted"
	return a, nil
}

func (a *App) moveFocus(delta int) {
	sections := sectionsOf(a.currentState())
	if len(sections) == 0 {
		a.focused = 0
		return
	}
	a.focused = (a.focused + delta + len(sections)) % len(sections)
	a.refreshStory()
}

func (a *App) narrateFocused() tea.Cmd {
	if !a.narrator.Enabled() {
		a.statusMsg = "Narration is off; set narration.url in .director/config.yaml"
		return nil
	}
	sections := sectionsOf(a.currentState())
	if len(sections) == 0 {
		a.statusMsg = "Nothing to narrate yet"
		return nil
	}
	sec := sections[min(a.focused, len(sections)-1)]
	if !a.narrator.Narrate(sec.label, sec.text) {
		a.statusMsg = fmt.Sprintf("Could not narrate %s", sec.label)
		return nil
	}
	a.statusMsg = fmt.Sprintf("Narrating %s...", sec.label)
	return a.waitForNarration()
}

func (a *App) currentState() story.State {
	if a.session == nil {
		return story.State{}
	}
	return a.session.State()
}

func (a *App) setError(err error) {
	a.errMsg = describeError(err)
	a.logger.Debug("ui error", zap.Error(err))
}

func (a *App) glamourRender(markdown string, width int) (string, error) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(max(20, width)),
	)
	if err != nil {
		return "", err
	}
	return renderer.Render(markdown)
}

// describeError turns controller and service failures into status text.
func describeError(err error) string {
	var validation *session.ValidationError
	switch {
	case errors.As(err, &validation):
		return fmt.Sprintf("Invalid %s: %s", validation.Field, validation.Reason)
	case errors.Is(err, session.ErrBusy):
		return "Another request is still running"
	case errors.Is(err, session.ErrNoSession), errors.Is(err, session.ErrStaleSession):
		return "No active session; create one first"
	case errors.Is(err, session.ErrSessionActive):
		return "Delete the current session before starting another"
	case errors.Is(err, context.Canceled):
		return "Request cancelled"
	}
	if svcErr, ok := service.AsServiceError(err); ok {
		if svcErr.IsTransport() {
			return fmt.Sprintf("Service unreachable (%s): %s", svcErr.Op, svcErr.Detail)
		}
		return fmt.Sprintf("Service error %d (%s): %s", svcErr.Status, svcErr.Op, svcErr.Detail)
	}
	return err.Error()
}

func titleCase(value string) string {
	if value == "" {
		return value
	}
	return strings.ToUpper(value[:1]) + value[1:]
}
