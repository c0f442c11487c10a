package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaunis/xivo-stat/internal/core"
)

func testResult() core.Result {
	return core.Result{
		RunID:    "run",
		Start:    time.Date(2012, 1, 1, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2012, 1, 2, 0, 0, 0, 0, time.UTC),
		Removed:  3,
		Periods:  24,
		Agents:   5,
		Duration: 1500 * time.Millisecond,
	}
}

func TestObserve(t *testing.T) {
	r := NewRun()
	r.Observe(testResult())

	assert.Equal(t, 24.0, testutil.ToFloat64(r.periods))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.agents))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.removed))
	assert.Equal(t, 1.5, testutil.ToFloat64(r.duration))
	assert.Equal(t, 1325376000.0, testutil.ToFloat64(r.rangeStart))
	assert.Positive(t, testutil.ToFloat64(r.lastSuccess))

	n, err := testutil.GatherAndCount(r.Registry())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "textfile", "xivo_stat.prom")
	r := NewRun()
	r.Observe(testResult())

	require.NoError(t, r.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text,
		"xivo_stat_fill_db_periods_written 24"), text)
	assert.Contains(t, text, "# TYPE xivo_stat_fill_db_agents gauge")
}
