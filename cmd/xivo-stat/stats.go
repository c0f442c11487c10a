package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jaunis/xivo-stat/internal/core"
	"github.com/jaunis/xivo-stat/internal/db"
	"github.com/jaunis/xivo-stat/internal/metrics"
	"github.com/jaunis/xivo-stat/internal/timeutil"
)

// fillRange is the range requested on the fill_db command line.
// A zero start means it is picked from what is already stored.
type fillRange struct {
	start time.Time
	end   time.Time
}

// parseFillRange validates --start and --end. An empty end means
// now, to the second.
func parseFillRange(
	startFlag, endFlag string, loc *time.Location, now time.Time,
) (fillRange, error) {
	var r fillRange
	var err error
	if endFlag != "" {
		if r.end, err = timeutil.ParseCLI(endFlag, loc); err != nil {
			return r, err
		}
	} else {
		r.end = now.In(loc).Truncate(time.Second)
	}
	if startFlag != "" {
		if r.start, err = timeutil.ParseCLI(startFlag, loc); err != nil {
			return r, err
		}
	}
	return r, nil
}

func newFillDBCmd(a *app) *cobra.Command {
	var startFlag, endFlag string
	cmd := &cobra.Command{
		Use:   "fill_db",
		Short: "Compute and store agent periodic statistics",
		Long: `fill_db computes login, pause and wrapup time per agent and period
for [start, end] and replaces whatever was stored from start on.
Without --start it resumes from the last stored period.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loc, err := a.cfg.Location()
			if err != nil {
				return err
			}
			r, err := parseFillRange(startFlag, endFlag, loc, time.Now())
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			return a.withStore(a.cfg.LockPath, func(store *db.DB) error {
				u := core.NewUpdater(store, a.cfg.Granularity, a.logger)
				if r.start.IsZero() {
					if r.start, err = u.DefaultStart(ctx, r.end); err != nil {
						return err
					}
				}
				res, err := u.UpdateDB(ctx, r.start, r.end)
				if err != nil {
					return err
				}
				a.writeMetrics(res)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&startFlag, "start", "",
		"First period to compute, YYYY-MM-DDTHH:MM:SS")
	cmd.Flags().StringVar(&endFlag, "end", "",
		"End of the computed range, YYYY-MM-DDTHH:MM:SS (default now)")
	return cmd
}

// writeMetrics exports res when a metrics file is configured. A
// failure is logged and does not fail the run.
func (a *app) writeMetrics(res core.Result) {
	if a.cfg.MetricsFile == "" {
		return
	}
	m := metrics.NewRun()
	m.Observe(res)
	if err := m.WriteFile(a.cfg.MetricsFile); err != nil {
		a.logger.Warn().Err(err).Str("file", a.cfg.MetricsFile).
			Msg("exporting run metrics")
	}
}

func newCleanDBCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clean_db",
		Short: "Delete all agent periodic statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(a.cfg.LockPath, func(store *db.DB) error {
				u := core.NewUpdater(store, a.cfg.Granularity, a.logger)
				n, err := u.CleanDB(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "Deleted %d statistics rows.\n", n)
				return nil
			})
		},
	}
}
