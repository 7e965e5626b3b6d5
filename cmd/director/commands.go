package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kingrea/director/internal/export"
	"github.com/kingrea/director/internal/narration"
	"github.com/kingrea/director/internal/session"
	"github.com/kingrea/director/internal/story"
)

var (
	newMode     string
	newStrategy string
	showRemote  bool
	exportFmt   string
	exportOut   string
)

var newCmd = &cobra.Command{
	Use:   "new PREMISE...",
	Short: "Start a session from a premise",
	Long: `Creates a remote session for the premise. With --strategy auto the whole
story is generated right away; otherwise run the steps yourself.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if s, ok, err := rt.controller.Restore(ctx); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("session %s is still active; run `director delete` first", s.ID())
		}
		mode := rt.cfg.DefaultMode()
		if cmd.Flags().Changed("mode") {
			mode = story.NormalizeMode(newMode)
		}
		strategy := rt.cfg.DefaultStrategy()
		if cmd.Flags().Changed("strategy") {
			parsed, err := story.ParseStrategy(newStrategy)
			if err != nil {
				return err
			}
			strategy = parsed
		}
		s, err := rt.controller.Create(ctx, session.CreateRequest{
			Mode:     mode,
			Premise:  strings.Join(args, " "),
			Strategy: strategy,
		})
		if s != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s (%s, %s)\n", s.ID(), s.Mode(), s.Strategy())
			if strategy == story.StrategyAuto {
				printState(cmd.OutOrStdout(), s.State())
			}
		}
		return err
	},
}

var stepCmd = &cobra.Command{
	Use:       "step STEP",
	Short:     "Run one step: character, outline, scenes or dialogue",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"character", "outline", "scenes", "dialogue"},
	RunE: func(cmd *cobra.Command, args []string) error {
		step, err := story.ParseStep(args[0])
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session.Session) error {
			state, err := rt.controller.RunStep(ctx, s, step)
			printStep(cmd.OutOrStdout(), state, step)
			return err
		})
	},
}

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Run the step after the last one that succeeded",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session.Session) error {
			step, ok := rt.controller.NextStep(s)
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Every step has run. Use `director full` to regenerate the story.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Running %s...\n", step.FriendlyName())
			state, err := rt.controller.RunStep(ctx, s, step)
			printStep(cmd.OutOrStdout(), state, step)
			return err
		})
	},
}

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Run every step in order, stopping at the first failure",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session.Session) error {
			state, err := rt.controller.RunChain(ctx, s)
			printState(cmd.OutOrStdout(), state)
			return err
		})
	},
}

var fullCmd = &cobra.Command{
	Use:   "full",
	Short: "Regenerate the whole story in one request",
	Long:  "Requests the complete story at once. The result replaces everything generated so far.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session.Session) error {
			state, err := rt.controller.Regenerate(ctx, s)
			printState(cmd.OutOrStdout(), state)
			return err
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session.Session) error {
			out := cmd.OutOrStdout()
			snap := s.Snapshot()
			fmt.Fprintf(out, "Session:  %s\n", snap.ID)
			fmt.Fprintf(out, "Mode:     %s (%s)\n", snap.Mode, snap.Strategy)
			fmt.Fprintf(out, "Premise:  %s\n", snap.Premise)
			fmt.Fprintf(out, "Created:  %s\n", humanize.Time(snap.CreatedAt))
			fmt.Fprintf(out, "Saved:    %s\n", humanize.Time(snap.UpdatedAt))
			if next, ok := rt.controller.NextStep(s); ok {
				fmt.Fprintf(out, "Next:     %s\n", next)
			}
			fmt.Fprintln(out)
			if !showRemote {
				printState(out, snap.State)
				return nil
			}
			patch, err := rt.client.FetchSession(ctx, snap.ID)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "Remote view:")
			printState(out, story.Replace(patch))
			return nil
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the story as a paginated Markdown or HTML document",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := export.ParseFormat(exportFmt)
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session.Session) error {
			now := time.Now()
			doc := export.Render(export.Meta{
				Mode:        s.Mode(),
				Premise:     s.Premise(),
				SessionID:   s.ID(),
				GeneratedAt: now,
			}, s.State())
			if exportOut == "-" {
				return export.Write(cmd.OutOrStdout(), doc, format)
			}
			path := exportOut
			if path == "" {
				path = filepath.Join(rt.cfg.ExportsDir(), fmt.Sprintf("%s-%s%s", now.UTC().Format("20060102T150405"), s.ID(), format.Extension()))
			}
			if err := writeExport(path, doc, format); err != nil {
				return err
			}
			rt.journal.Info("Exported story to %s", path)
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d pages)\n", path, len(doc.Pages))
			return nil
		})
	},
}

var speakCmd = &cobra.Command{
	Use:   "speak FIELD [INDEX]",
	Short: "Read a part of the story aloud through the narration sidecar",
	Long: `FIELD is character, outline, scenes or dialogue. INDEX picks one scene or
dialogue line, counting from 1 (default 1). The audio lands in .director/audio.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		step, err := story.ParseStep(args[0])
		if err != nil {
			return err
		}
		index := 1
		if len(args) == 2 {
			index, err = strconv.Atoi(args[1])
			if err != nil || index < 1 {
				return fmt.Errorf("index must be a positive number, got %q", args[1])
			}
		}
		speaker := narration.SpeakerFor(rt.cfg.NarrationURL(), rt.cfg.NarrationVoice(), 0)
		if speaker == nil {
			return errors.New("narration is off; set narration.url in .director/config.yaml or DIRECTOR_NARRATION_URL")
		}
		return withSession(cmd, func(ctx context.Context, s *session.Session) error {
			label, text, err := pickText(s.State(), step, index)
			if err != nil {
				return err
			}
			var result narration.Result
			narrator := narration.New(speaker, rt.cfg.AudioDir(),
				narration.WithLogger(rt.logger.Named("narration")),
				narration.WithNotify(func(r narration.Result) { result = r }),
			)
			defer narrator.Close()
			if !narrator.Narrate(label, text) {
				return fmt.Errorf("could not narrate %s", label)
			}
			narrator.Wait()
			if result.Err != nil {
				return result.Err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Narrated %s → %s\n", label, result.Path)
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the active session locally and on the service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *session.Session) error {
			if err := rt.controller.Destroy(ctx, s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", s.ID())
			return nil
		})
	},
}

func init() {
	newCmd.Flags().StringVar(&newMode, "mode", "", "narrative mode, e.g. cinematic, comic or novel")
	newCmd.Flags().StringVar(&newStrategy, "strategy", "", "manual or auto")
	showCmd.Flags().BoolVar(&showRemote, "remote", false, "print the service's copy of the story instead of the saved one")
	exportCmd.Flags().StringVar(&exportFmt, "format", "md", "md or html")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output path, or - for stdout (default: .director/exports)")
}

// withSession restores the persisted session and runs fn with it.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session.Session) error) error {
	ctx := cmd.Context()
	s, ok, err := rt.controller.Restore(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("no active session; start one with `director new`")
	}
	return fn(ctx, s)
}

// pickText returns the label and text for one field of state.
func pickText(state story.State, step story.Step, index int) (string, string, error) {
	var list []string
	switch step {
	case story.StepCharacter:
		return step.FriendlyName(), state.CharacterSheet, requireText(step, state.CharacterSheet)
	case story.StepOutline:
		return step.FriendlyName(), state.Outline, requireText(step, state.Outline)
	case story.StepScenes:
		list = state.Scenes
	case story.StepDialogue:
		list = state.Dialogues
	}
	if index > len(list) {
		return "", "", fmt.Errorf("%s has %d entries, no #%d", step, len(list), index)
	}
	label := fmt.Sprintf("%s %d", strings.TrimSuffix(step.FriendlyName(), "s"), index)
	return label, list[index-1], requireText(step, list[index-1])
}

func requireText(step story.Step, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%s has not been generated yet", step)
	}
	return nil
}

func writeExport(path string, doc export.Document, format export.Format) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("export: ensure %s: %w", filepath.Dir(path), err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", path, err)
	}
	if err := export.Write(file, doc, format); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func printStep(w io.Writer, state story.State, step story.Step) {
	if !state.Has(step) {
		fmt.Fprintf(w, "%s: (empty)\n", step.FriendlyName())
		return
	}
	printSection(w, state, step)
}

func printState(w io.Writer, state story.State) {
	if state.IsEmpty() {
		fmt.Fprintln(w, "Nothing has been generated yet.")
		return
	}
	for _, step := range state.Completed() {
		printSection(w, state, step)
	}
}

func printSection(w io.Writer, state story.State, step story.Step) {
	fmt.Fprintf(w, "== %s ==\n", step.FriendlyName())
	switch step {
	case story.StepCharacter:
		fmt.Fprintf(w, "%s\n\n", state.CharacterSheet)
	case story.StepOutline:
		for i, beat := range story.Beats(state.Outline) {
			fmt.Fprintf(w, "%d. %s\n", i+1, beat)
		}
		fmt.Fprintln(w)
	case story.StepScenes:
		for i, scene := range state.Scenes {
			fmt.Fprintf(w, "[%d] %s\n\n", i+1, scene)
		}
	case story.StepDialogue:
		for i, line := range state.Dialogues {
			fmt.Fprintf(w, "[%d] %s\n\n", i+1, line)
		}
	}
}
