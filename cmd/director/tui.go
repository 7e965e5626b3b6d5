package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/kingrea/director/internal/config"
	"github.com/kingrea/director/internal/narration"
	"github.com/kingrea/director/internal/tui"
)

// runTUI opens the terminal UI and blocks until the user quits.
func runTUI(ctx context.Context, r *runtime) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan narration.Result, 8)
	narrator := narration.New(
		narration.SpeakerFor(r.cfg.NarrationURL(), r.cfg.NarrationVoice(), 0),
		r.cfg.AudioDir(),
		narration.WithLogger(r.logger.Named("narration")),
		narration.WithNotify(func(res narration.Result) {
			select {
			case results <- res:
			default:
				r.logger.Warn("narration result dropped", zap.String("label", res.Label))
			}
		}),
	)
	defer narrator.Close()

	app, err := tui.NewApp(r.cfg, r.controller,
		tui.WithContext(ctx),
		tui.WithLogger(r.logger.Named("tui")),
		tui.WithLogbook(r.journal),
		tui.WithNarrator(narrator, results),
	)
	if err != nil {
		return err
	}

	// tea.WithAltScreen uses the alternate screen buffer (like vim does)
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))

	// The watcher reloads its own copy so the UI goroutine is the only
	// reader of r.cfg.
	watched, err := config.NewConfig(r.cfg.ProjectDir)
	if err == nil {
		var watcher *config.Watcher
		watcher, err = config.NewWatcher(watched)
		if err == nil {
			go func() {
				_ = watcher.Run(ctx,
					func(c config.Config) { p.Send(tui.ConfigChangedMsg{Config: c}) },
					func(err error) { p.Send(tui.ConfigErrorMsg{Err: err}) },
				)
			}()
		}
	}
	if err != nil {
		r.logger.Warn("config watcher disabled", zap.Error(err))
	}

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("running TUI: %w", err)
	}
	return nil
}
