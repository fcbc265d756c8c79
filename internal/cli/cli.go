// Package cli implements the command-line interface for shab-cache.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eunmann/shab-cache/internal/config"
	"github.com/eunmann/shab-cache/pkg/logging"
	"github.com/eunmann/shab-cache/pkg/store"
)

// ExitLockHeld is the exit status when the data directory lock could not be
// taken in time (EX_TEMPFAIL).
const ExitLockHeld = 75

// Run executes the CLI with the given arguments.
func Run(args []string) error {
	if args == nil {
		args = []string{}
	}
	root := newRootCmd(os.Stdout, os.Stderr)
	root.SetArgs(args)
	err := root.Execute()
	if errors.Is(err, store.ErrLockTimeout) {
		return fmt.Errorf("could not acquire lock, another refresh process might be running: %w", err)
	}
	return err
}

// ExitCode maps an error returned by Run to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, store.ErrLockTimeout):
		return ExitLockHeld
	default:
		return 1
	}
}

// app carries the global flags and the loaded configuration to the commands.
type app struct {
	configPath string
	envFiles   []string
	debug      bool
	human      bool

	cfg *config.Config
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "shab-cache",
		Short:         "Incremental cache of SHAB commercial register publications",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return errors.New("usage: shab-cache <command> [flags]\ncommands: refresh, reconcile, fetch-day, export, serve")
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Root() == cmd {
				return nil
			}
			return a.load()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML config file (default: $SHAB_CONFIG)")
	pf.StringSliceVar(&a.envFiles, "env-file", nil, ".env files to load (default: .env)")
	pf.BoolVar(&a.debug, "debug", false, "enable debug logging")
	pf.BoolVar(&a.human, "human", false, "human-readable console logs")

	root.AddCommand(
		newRefreshCmd(a),
		newReconcileCmd(a),
		newFetchDayCmd(a),
		newExportCmd(a),
		newServeCmd(a),
	)
	return root
}

func (a *app) load() error {
	if err := config.LoadDotEnv(a.envFiles...); err != nil {
		return err
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.debug {
		cfg.Debug = true
	}
	if a.human {
		cfg.Human = true
	}
	logging.Init(cfg.Debug, cfg.Human)
	a.cfg = cfg
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
