package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jaunis/xivo-stat/internal/config"
	"github.com/jaunis/xivo-stat/internal/db"
	"github.com/jaunis/xivo-stat/internal/lock"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = ""
)

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command line in args and returns the exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(&app{stdout: stdout})
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

// app is the state shared by the subcommands once configuration
// has been loaded.
type app struct {
	stdout io.Writer
	cfg    config.Config
	logger zerolog.Logger
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "xivo-stat",
		Short: "Periodic agent statistics for XiVO call centers",
		Long: `xivo-stat imports the Asterisk queue_log and computes, for every
agent and every period, the time spent logged in, paused and in
wrapup.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = newLogger(a.stdout, cfg.LogLevel, cfg.LogFormat)
			return nil
		},
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newFillDBCmd(a),
		newCleanDBCmd(a),
		newImportCmd(a),
		newVersionCmd(),
	)
	return root
}

// newLogger builds the process logger. An unknown level is
// reported and replaced by info.
func newLogger(w io.Writer, level, format string) zerolog.Logger {
	out := w
	if format != "json" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
	}
	logger := zerolog.New(out).With().Timestamp().Logger()

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		logger.Warn().Str("level", level).
			Msg("unknown log level, using info")
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

// withStore runs fn holding the lock at lockPath and with the
// database open. Both are released when fn returns.
func (a *app) withStore(lockPath string, fn func(*db.DB) error) error {
	l, err := lock.Acquire(lockPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := l.Release(); err != nil {
			a.logger.Warn().Err(err).Msg("releasing lock")
		}
	}()

	database, err := db.OpenDriver(a.cfg.DBDriver, a.cfg.DBSource())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()
	return fn(database)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		// Printing the version needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(),
				"xivo-stat %s (commit %s, built %s)\n",
				version, commit, buildDate)
		},
	}
}
