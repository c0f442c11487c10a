package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jaunis/xivo-stat/internal/db"
	"github.com/jaunis/xivo-stat/internal/queuelog"
)

const watcherDebounce = 500 * time.Millisecond

// importLockPath keeps importers of the same data dir apart
// without blocking fill_db.
func importLockPath(lockPath string) string {
	return lockPath + ".import"
}

func newImportCmd(a *app) *cobra.Command {
	var (
		file     string
		follow   bool
		debounce time.Duration
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import the Asterisk queue_log file",
		Long: `import copies new queue_log lines into the database, resuming
from where the previous import stopped. With --follow it keeps
importing as the file grows until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if follow && debounce <= 0 {
				return fmt.Errorf(
					"invalid --debounce %s: must be positive", debounce,
				)
			}
			if file == "" {
				file = a.cfg.QueueLogPath
			}
			lockPath := importLockPath(a.cfg.LockPath)
			return a.withStore(lockPath, func(store *db.DB) error {
				imp := queuelog.NewImporter(store, a.logger)
				if follow {
					return imp.Follow(cmd.Context(), file, debounce)
				}
				res, err := imp.Import(cmd.Context(), file)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout,
					"Imported %d events from %s (%d skipped).\n",
					res.Imported, res.Path, res.Skipped)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "",
		"queue_log file to import (default from config)")
	cmd.Flags().BoolVar(&follow, "follow", false,
		"Keep importing as the file changes")
	cmd.Flags().DurationVar(&debounce, "debounce", watcherDebounce,
		"Quiet time after a change before importing")
	return cmd
}
