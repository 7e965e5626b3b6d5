// cmd/director/main.go
//
// This is the entry point for the director CLI.
// Running `director` with no arguments opens the terminal UI in the current
// project; the subcommands drive the same session controller from scripts.
//
// Flow:
// 1. Resolve the project directory and create .director/ if needed
// 2. Load config.yaml plus DIRECTOR_* environment overrides
// 3. Open the debug log, the journal, the slot store and the service client
// 4. Hand the session controller to the TUI or to a subcommand

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kingrea/director/internal/config"
	"github.com/kingrea/director/internal/logbook"
	"github.com/kingrea/director/internal/logging"
	"github.com/kingrea/director/internal/service"
	"github.com/kingrea/director/internal/session"
	"github.com/kingrea/director/internal/store"
)

var (
	// Global flags
	projectDir string
	verbose    bool

	rt *runtime
)

// runtime bundles everything a command needs. It is built once per process
// in PersistentPreRunE and released by main.
type runtime struct {
	cfg        *config.Config
	logger     *zap.Logger
	journal    *logbook.Logbook
	slots      store.Slots
	client     *service.Client
	controller *session.Controller
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "director",
	Short: "director - progressive story generation",
	Long: `director drives a remote story-generation service one step at a time.

A session starts from a premise and a narrative mode. Its story is built in
four steps (character sheet, outline, scenes, dialogue) that you run one by
one, all in a chain, or in a single full generation. The session is saved in
.director/ after every change and picked up again on the next run.

Run without arguments to open the terminal UI.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		rt, err = openRuntime(projectDir, verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if rt != nil && rt.logger != nil {
			_ = rt.logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTUI(cmd.Context(), rt)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectDir, "dir", "", "project directory (default: current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "write debug entries to .director/logs/director.log")

	rootCmd.AddCommand(
		newCmd,
		stepCmd,
		nextCmd,
		chainCmd,
		fullCmd,
		showCmd,
		exportCmd,
		speakCmd,
		deleteCmd,
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if rt != nil {
		rt.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func openRuntime(dir string, debug bool) (*runtime, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		dir = cwd
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve project directory: %w", err)
	}
	if err := config.InitDirectorDir(dir); err != nil {
		return nil, fmt.Errorf("initialize .director directory: %w", err)
	}
	cfg, err := config.NewConfig(dir)
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel()
	if debug {
		level = "debug"
	}
	logger, err := logging.New(dir, level)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	r := &runtime{cfg: cfg, logger: logger}
	r.journal, err = logbook.New(filepath.Join(cfg.LogsDir(), logbook.FileName))
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}
	r.slots, err = store.Open(cfg.StorageBackend(), cfg.StateDir())
	if err != nil {
		r.Close()
		return nil, err
	}
	r.client, err = service.New(service.SettingsFromConfig(cfg), service.WithLogger(logger.Named("service")))
	if err != nil {
		r.Close()
		return nil, err
	}
	r.controller, err = session.New(r.client, store.NewMirror(r.slots),
		session.WithLogger(logger.Named("session")),
		session.WithJournal(r.journal),
	)
	if err != nil {
		r.Close()
		return nil, err
	}
	logger.Debug("runtime ready",
		zap.String("project", dir),
		zap.String("service", r.client.BaseURL()),
		zap.String("storage", cfg.StorageBackend()),
	)
	return r, nil
}

// Close releases the store and flushes the logger.
func (r *runtime) Close() {
	if r.slots != nil {
		if err := r.slots.Close(); err != nil {
			r.logger.Warn("close store", zap.Error(err))
		}
		r.slots = nil
	}
	if r.logger != nil {
		_ = r.logger.Sync()
	}
}
