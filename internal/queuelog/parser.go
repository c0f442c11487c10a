// Package queuelog imports the Asterisk queue_log file into the
// statistics database.
package queuelog

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/jaunis/xivo-stat/internal/db"
)

// ErrMalformedLine is wrapped by every line parsing failure.
var ErrMalformedLine = errors.New("malformed queue_log line")

// textTimeLayouts are the non-epoch time formats accepted in the
// first field, interpreted as UTC.
var textTimeLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05.999999",
	time.RFC3339Nano,
}

// ParseLine parses one queue_log line. Both the pipe-delimited
// format Asterisk writes
//
//	1325408400|1325408399.12|q1|Agent/1001|CONNECT|3|1325408399.1|2
//
// and JSON objects with the same field names as the queue_log
// table are accepted.
func ParseLine(line string) (db.QueueLogEntry, error) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "{") {
		return parseJSON(line)
	}
	return parsePipe(line)
}

func parsePipe(line string) (db.QueueLogEntry, error) {
	fields := strings.SplitN(line, "|", 10)
	if len(fields) < 5 {
		return db.QueueLogEntry{}, fmt.Errorf(
			"%w: want at least 5 fields, got %d",
			ErrMalformedLine, len(fields),
		)
	}
	ts, err := parseTime(fields[0])
	if err != nil {
		return db.QueueLogEntry{}, err
	}
	e := db.QueueLogEntry{
		Time:   ts,
		CallID: fields[1],
		Queue:  fields[2],
		Agent:  fields[3],
		Event:  fields[4],
	}
	if e.Event == "" {
		return db.QueueLogEntry{}, fmt.Errorf(
			"%w: empty event", ErrMalformedLine,
		)
	}
	copy(e.Data[:], fields[5:])
	return e, nil
}

func parseJSON(line string) (db.QueueLogEntry, error) {
	if !gjson.Valid(line) {
		return db.QueueLogEntry{}, fmt.Errorf(
			"%w: invalid JSON", ErrMalformedLine,
		)
	}
	res := gjson.GetMany(line,
		"time", "callid", "queuename", "queue", "agent", "event",
	)
	timeField, callID, queueName, queue, agent, event :=
		res[0], res[1], res[2], res[3], res[4], res[5]

	var ts time.Time
	var err error
	switch timeField.Type {
	case gjson.Number:
		ts, err = epochTime(timeField.Float())
	case gjson.String:
		ts, err = parseTime(timeField.Str)
	default:
		err = fmt.Errorf("%w: missing time", ErrMalformedLine)
	}
	if err != nil {
		return db.QueueLogEntry{}, err
	}
	if event.Str == "" {
		return db.QueueLogEntry{}, fmt.Errorf(
			"%w: empty event", ErrMalformedLine,
		)
	}

	e := db.QueueLogEntry{
		Time:   ts,
		CallID: callID.String(),
		Queue:  queueName.String(),
		Agent:  agent.String(),
		Event:  event.Str,
	}
	if e.Queue == "" {
		e.Queue = queue.String()
	}

	if data := gjson.Get(line, "data"); data.IsArray() {
		for i, v := range data.Array() {
			if i >= len(e.Data) {
				break
			}
			e.Data[i] = v.String()
		}
		return e, nil
	}
	for i := range e.Data {
		e.Data[i] = gjson.Get(line, "data"+strconv.Itoa(i+1)).String()
	}
	return e, nil
}

// parseTime reads an epoch (optionally fractional) or one of
// textTimeLayouts.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return epochTime(f)
	}
	for _, layout := range textTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf(
		"%w: unparseable time %q", ErrMalformedLine, s,
	)
}

func epochTime(f float64) (time.Time, error) {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, fmt.Errorf(
			"%w: invalid epoch %v", ErrMalformedLine, f,
		)
	}
	sec, frac := math.Modf(f)
	// Microsecond precision, as stored.
	usec := math.Round(frac * 1e6)
	return time.Unix(int64(sec), int64(usec)*1e3).UTC(), nil
}
