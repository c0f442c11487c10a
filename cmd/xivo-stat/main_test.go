package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaunis/xivo-stat/internal/agentstat"
	"github.com/jaunis/xivo-stat/internal/config"
	"github.com/jaunis/xivo-stat/internal/db"
	"github.com/jaunis/xivo-stat/internal/lock"
)

// 2012-01-01 UTC: login 08:00, pause 08:30-08:45, wrapup of 30s
// at 09:10, logoff 10:00.
const queueLog = `1325404800|NONE|NONE|Agent/1001|AGENTLOGIN|SIP/abc
1325406600|NONE|NONE|Agent/1001|PAUSEALL|
1325407500|NONE|NONE|Agent/1001|UNPAUSEALL|
1325409000|1325408970.1|q1|Agent/1001|WRAPUPSTART|30
1325412000|NONE|NONE|Agent/1001|AGENTLOGOFF|SIP/abc|7200
`

// testEnv points the configuration at a fresh data dir.
func testEnv(t *testing.T) string {
	t.Helper()
	for _, k := range []string{
		config.EnvDBDriver, config.EnvDSN, config.EnvLockFile,
		config.EnvPeriod, config.EnvLogLevel, config.EnvQueueLog,
		config.EnvMetricsFile,
	} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	t.Setenv(config.EnvDataDir, dir)
	t.Setenv(config.EnvLogFormat, "json")
	t.Setenv(config.EnvTimezone, "UTC")
	return dir
}

func runCmd(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func dt(h, m int) time.Time {
	return time.Date(2012, 1, 1, h, m, 0, 0, time.UTC)
}

func TestVersion(t *testing.T) {
	code, out, _ := runCmd(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "xivo-stat dev (commit unknown")
}

func TestUnknownCommand(t *testing.T) {
	testEnv(t)
	code, _, errOut := runCmd(t, "fill")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "unknown command")
}

func TestFillDBRejectsMalformedDatetime(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"start with space", []string{"--start", "2012-01-01 08:00:00"}},
		{"start without seconds", []string{"--start", "2012-01-01T08:00"}},
		{"end date only", []string{"--end", "2012-01-01"}},
		{"end out of range", []string{"--end", "2012-13-01T00:00:00"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := testEnv(t)
			code, _, errOut := runCmd(t,
				append([]string{"fill_db"}, tt.args...)...)
			assert.Equal(t, 1, code)
			assert.Contains(t, errOut, "not a valid datetime")
			assert.NoFileExists(t, filepath.Join(dir, "stat.db"))
		})
	}
}

func TestFillDBLocked(t *testing.T) {
	dir := testEnv(t)
	l, err := lock.Acquire(filepath.Join(dir, "xivo-stat.pid"))
	require.NoError(t, err)
	defer l.Release()

	for _, cmd := range []string{"fill_db", "clean_db"} {
		code, _, errOut := runCmd(t, cmd)
		assert.Equal(t, 1, code, cmd)
		assert.Equal(t, "xivo-stat is already running\n", errOut, cmd)
	}
}

func TestImportDoesNotTakeRunLock(t *testing.T) {
	dir := testEnv(t)
	log := filepath.Join(dir, "queue_log")
	require.NoError(t, os.WriteFile(log, []byte(queueLog), 0o644))

	l, err := lock.Acquire(filepath.Join(dir, "xivo-stat.pid"))
	require.NoError(t, err)
	defer l.Release()

	code, out, errOut := runCmd(t, "import", "--file", log)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Imported 5 events")
}

func TestImportFollowRejectsNonPositiveDebounce(t *testing.T) {
	dir := testEnv(t)
	log := filepath.Join(dir, "queue_log")
	require.NoError(t, os.WriteFile(log, []byte(queueLog), 0o644))

	for _, d := range []string{"0", "-1s"} {
		code, _, errOut := runCmd(t,
			"import", "--file", log, "--follow", "--debounce", d)
		assert.Equal(t, 1, code, d)
		assert.Contains(t, errOut, "must be positive", d)
	}
	assert.NoFileExists(t, filepath.Join(dir, "stat.db"))
}

func TestImportFillAndClean(t *testing.T) {
	dir := testEnv(t)
	log := filepath.Join(dir, "queue_log")
	require.NoError(t, os.WriteFile(log, []byte(queueLog), 0o644))
	metricsFile := filepath.Join(dir, "metrics", "xivo_stat.prom")
	t.Setenv(config.EnvMetricsFile, metricsFile)

	code, out, errOut := runCmd(t, "import", "--file", log)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Imported 5 events")

	code, _, errOut = runCmd(t, "fill_db",
		"--start", "2012-01-01T08:00:00",
		"--end", "2012-01-01T11:00:00")
	require.Equal(t, 0, code, errOut)
	assert.FileExists(t, metricsFile)

	stored := openStats(t, dir)
	agent := agentstat.AgentID(1)
	want := agentstat.Statistics{
		dt(8, 0): {agent: {
			agentstat.LoginTime: time.Hour,
			agentstat.PauseTime: 15 * time.Minute,
		}},
		dt(9, 0): {agent: {
			agentstat.LoginTime:  time.Hour,
			agentstat.WrapupTime: 30 * time.Second,
		}},
	}
	if diff := cmp.Diff(want, stored); diff != "" {
		t.Errorf("stored statistics mismatch (-want +got):\n%s", diff)
	}

	// A rerun over the same range replaces rather than adds.
	code, _, errOut = runCmd(t, "fill_db",
		"--start", "2012-01-01T08:30:00",
		"--end", "2012-01-01T11:00:00")
	require.Equal(t, 0, code, errOut)
	if diff := cmp.Diff(want, openStats(t, dir)); diff != "" {
		t.Errorf("statistics after rerun (-want +got):\n%s", diff)
	}

	code, out, errOut = runCmd(t, "clean_db")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Deleted 2 statistics rows.")
	assert.Empty(t, openStats(t, dir))
	pid, err := os.ReadFile(filepath.Join(dir, "xivo-stat.pid"))
	require.NoError(t, err)
	assert.Empty(t, pid, "released lock keeps an empty pid file")
}

func openStats(t *testing.T, dir string) agentstat.Statistics {
	t.Helper()
	d, err := db.Open(filepath.Join(dir, "stat.db"))
	require.NoError(t, err)
	defer d.Close()
	stats, err := d.PeriodicStats(context.Background(), dt(0, 0), dt(23, 0))
	require.NoError(t, err)
	return stats
}

func TestParseFillRange(t *testing.T) {
	now := time.Date(2012, 1, 1, 12, 34, 56, 789, time.UTC)
	tests := []struct {
		name       string
		start, end string
		want       fillRange
	}{
		{
			name: "defaults",
			want: fillRange{end: time.Date(2012, 1, 1, 12, 34, 56, 0, time.UTC)},
		},
		{
			name:  "both given",
			start: "2012-01-01T08:00:00",
			end:   "2012-01-01T11:00:00",
			want:  fillRange{start: dt(8, 0), end: dt(11, 0)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFillRange(tt.start, tt.end, time.UTC, now)
			require.NoError(t, err)
			assert.True(t, tt.want.start.Equal(got.start), "start %v", got.start)
			assert.True(t, tt.want.end.Equal(got.end), "end %v", got.end)
		})
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
		warns bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"warn", zerolog.WarnLevel, false},
		{"", zerolog.InfoLevel, true},
		{"loud", zerolog.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newLogger(&buf, tt.level, "json")
			assert.Equal(t, tt.want, logger.GetLevel())
			if tt.warns {
				assert.Contains(t, buf.String(), "unknown log level")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}
