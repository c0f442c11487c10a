package agentstat

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ActivityType labels what an agent was doing during a duration.
type ActivityType string

const (
	LoginTime  ActivityType = "login_time"
	PauseTime  ActivityType = "pause_time"
	WrapupTime ActivityType = "wrapup_time"
)

// AgentID identifies a call-center agent.
type AgentID int64

// AgentStats holds one agent's durations within a period.
type AgentStats map[ActivityType]time.Duration

// PeriodStats holds every active agent's durations within a
// period. Agents without activity have no entry.
type PeriodStats map[AgentID]AgentStats

// Statistics maps period start to the per-agent durations of
// that period. Keys are UTC instants.
type Statistics map[time.Time]PeriodStats

// Add accumulates d under (agent, activity). Entries are created
// on first write; non-positive durations are ignored so that the
// structure never holds zero entries.
func (ps PeriodStats) Add(
	agent AgentID, activity ActivityType, d time.Duration,
) {
	if d <= 0 {
		return
	}
	as, ok := ps[agent]
	if !ok {
		as = make(AgentStats)
		ps[agent] = as
	}
	as[activity] += d
}

// Clone returns a deep copy.
func (ps PeriodStats) Clone() PeriodStats {
	out := make(PeriodStats, len(ps))
	for agent, as := range ps {
		c := make(AgentStats, len(as))
		for act, d := range as {
			c[act] = d
		}
		out[agent] = c
	}
	return out
}

// Agents returns the agent IDs in ascending order.
func (ps PeriodStats) Agents() []AgentID {
	ids := make([]AgentID, 0, len(ps))
	for id := range ps {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Get returns the recorded duration, zero when absent.
func (s Statistics) Get(
	period time.Time, agent AgentID, activity ActivityType,
) time.Duration {
	return s[periodKey(period)][agent][activity]
}

// Add accumulates d under (period, agent, activity), creating the
// period on first write.
func (s Statistics) Add(
	period time.Time, agent AgentID,
	activity ActivityType, d time.Duration,
) {
	if d <= 0 {
		return
	}
	key := periodKey(period)
	ps, ok := s[key]
	if !ok {
		ps = make(PeriodStats)
		s[key] = ps
	}
	ps.Add(agent, activity, d)
}

// Periods returns the period keys in chronological order.
func (s Statistics) Periods() []time.Time {
	keys := make([]time.Time, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, time.Time.Compare)
	return keys
}

// StatKey addresses a single duration in a Statistics.
type StatKey struct {
	Period   time.Time
	Agent    AgentID
	Activity ActivityType
}

func (k StatKey) String() string {
	return fmt.Sprintf(
		"%s/agent %d/%s",
		k.Period.Format(time.RFC3339), k.Agent, k.Activity,
	)
}

func compareKeys(a, b StatKey) int {
	if c := a.Period.Compare(b.Period); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Agent, b.Agent); c != 0 {
		return c
	}
	return cmp.Compare(a.Activity, b.Activity)
}

// ConflictingStatisticsError reports keys present in both inputs
// of a merge. Conflicts are sorted by period, agent, activity.
type ConflictingStatisticsError struct {
	Conflicts []StatKey
}

func (e *ConflictingStatisticsError) Error() string {
	keys := make([]string, len(e.Conflicts))
	for i, k := range e.Conflicts {
		keys[i] = k.String()
	}
	return fmt.Sprintf(
		"conflicting statistics for %d key(s): %s",
		len(keys), strings.Join(keys, ", "),
	)
}

// Merge combines a and b into a new Statistics holding every
// entry of both. Neither input is modified, and empty or zero
// entries are left out. A key present in both inputs is rejected
// with *ConflictingStatisticsError.
func Merge(a, b Statistics) (Statistics, error) {
	out := make(Statistics, max(len(a), len(b)))
	var conflicts []StatKey
	for _, in := range [...]Statistics{a, b} {
		for period, ps := range in {
			key := periodKey(period)
			for agent, as := range ps {
				for act, d := range as {
					if d <= 0 {
						continue
					}
					if _, dup := out[key][agent][act]; dup {
						conflicts = append(conflicts, StatKey{
							Period:   key,
							Agent:    agent,
							Activity: act,
						})
						continue
					}
					out.Add(key, agent, act, d)
				}
			}
		}
	}
	if len(conflicts) > 0 {
		slices.SortFunc(conflicts, compareKeys)
		return nil, &ConflictingStatisticsError{Conflicts: conflicts}
	}
	return out, nil
}

// MergeAll folds Merge over sets, left to right.
func MergeAll(sets ...Statistics) (Statistics, error) {
	out := make(Statistics)
	for _, s := range sets {
		merged, err := Merge(out, s)
		if err != nil {
			return nil, err
		}
		out = merged
	}
	return out, nil
}
