package tui

import (
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/director/internal/export"
	"github.com/kingrea/director/internal/narration"
	"github.com/kingrea/director/internal/session"
	"github.com/kingrea/director/internal/story"
)

type restoredMsg struct {
	session *session.Session
	err     error
}

type sessionCreatedMsg struct {
	session *session.Session
	err     error
}

// storyUpdatedMsg reports a finished step, chain or full run. done is the
// status line shown on success.
type storyUpdatedMsg struct {
	session *session.Session
	done    string
	err     error
}

type sessionDeletedMsg struct {
	err error
}

type exportedMsg struct {
	path string
	err  error
}

type previewMsg struct {
	content string
	err     error
}

type narrationDoneMsg struct {
	result narration.Result
}

const (
	exportMarkdown = export.FormatMarkdown
	exportHTML     = export.FormatHTML
)

func (a *App) restoreSession() tea.Cmd {
	ctrl := a.controller
	ctx := a.ctx
	return func() tea.Msg {
		s, _, err := ctrl.Restore(ctx)
		return restoredMsg{session: s, err: err}
	}
}

func (a *App) createCmd(req session.CreateRequest) tea.Cmd {
	ctrl := a.controller
	ctx := a.ctx
	return func() tea.Msg {
		s, err := ctrl.Create(ctx, req)
		return sessionCreatedMsg{session: s, err: err}
	}
}

func (a *App) stepCmd(step story.Step) tea.Cmd {
	ctrl := a.controller
	ctx := a.ctx
	s := a.session
	return func() tea.Msg {
		_, err := ctrl.RunStep(ctx, s, step)
		return storyUpdatedMsg{session: s, done: fmt.Sprintf("%s ready", step.FriendlyName()), err: err}
	}
}

func (a *App) chainCmd() tea.Cmd {
	ctrl := a.controller
	ctx := a.ctx
	s := a.session
	return func() tea.Msg {
		_, err := ctrl.RunChain(ctx, s)
		return storyUpdatedMsg{session: s, done: "Every step finished", err: err}
	}
}

func (a *App) regenerateCmd() tea.Cmd {
	ctrl := a.controller
	ctx := a.ctx
	s := a.session
	return func() tea.Msg {
		_, err := ctrl.Regenerate(ctx, s)
		return storyUpdatedMsg{session: s, done: "Full story generated", err: err}
	}
}

func (a *App) destroyCmd() tea.Cmd {
	ctrl := a.controller
	ctx := a.ctx
	s := a.session
	return func() tea.Msg {
		return sessionDeletedMsg{err: ctrl.Destroy(ctx, s)}
	}
}

func (a *App) document() export.Document {
	s := a.session
	meta := export.Meta{GeneratedAt: a.clock()}
	if s != nil {
		meta.Mode = s.Mode()
		meta.Premise = s.Premise()
		meta.SessionID = s.ID()
	}
	return export.Render(meta, a.currentState())
}

func (a *App) exportCmd(format export.Format) tea.Cmd {
	if a.session == nil {
		return nil
	}
	doc := a.document()
	dir := a.config.ExportsDir()
	name := fmt.Sprintf("%s-%s%s", doc.Meta.GeneratedAt.UTC().Format("20060102T150405"), a.session.ID(), format.Extension())
	return func() tea.Msg {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return exportedMsg{err: fmt.Errorf("export: ensure %s: %w", dir, err)}
		}
		path := filepath.Join(dir, name)
		file, err := os.Create(path)
		if err != nil {
			return exportedMsg{err: fmt.Errorf("export: create %s: %w", path, err)}
		}
		if err := export.Write(file, doc, format); err != nil {
			_ = file.Close()
			return exportedMsg{err: err}
		}
		if err := file.Close(); err != nil {
			return exportedMsg{err: fmt.Errorf("export: close %s: %w", path, err)}
		}
		return exportedMsg{path: path}
	}
}

func (a *App) previewCmd() tea.Cmd {
	if a.session == nil {
		return nil
	}
	markdown := export.Markdown(a.document())
	render := a.renderMarkdown
	width := a.preview.Width
	return func() tea.Msg {
		out, err := render(markdown, width)
		if err != nil {
			return previewMsg{err: fmt.Errorf("preview: %w", err)}
		}
		return previewMsg{content: out}
	}
}

// waitForNarration delivers the next narration result. One wait is issued
// per started narration.
func (a *App) waitForNarration() tea.Cmd {
	results := a.narrations
	if results == nil {
		return nil
	}
	return func() tea.Msg {
		res, ok := <-results
		if !ok {
			return nil
		}
		return narrationDoneMsg{result: res}
	}
}
