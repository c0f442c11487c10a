// Package timeutil formats and parses the timestamps stored in the
// database and accepted on the command line.
package timeutil

import (
	"fmt"
	"regexp"
	"time"
)

// DBLayout is the fixed-width UTC layout used for stored times.
// Fixed width keeps lexical and chronological order identical.
const DBLayout = "2006-01-02T15:04:05.000000Z"

// CLILayout is the datetime layout accepted by --start and --end.
const CLILayout = "2006-01-02T15:04:05"

var cliPattern = regexp.MustCompile(
	`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}$`,
)

// FormatDB returns t in DBLayout.
func FormatDB(t time.Time) string {
	return t.UTC().Format(DBLayout)
}

// ParseDB parses a stored time. RFC3339 values written by other
// tools are accepted too.
func ParseDB(s string) (time.Time, error) {
	t, err := time.Parse(DBLayout, s)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}

// ParseCLI parses a YYYY-MM-DDTHH:MM:SS value in loc.
func ParseCLI(value string, loc *time.Location) (time.Time, error) {
	if !cliPattern.MatchString(value) {
		return time.Time{}, fmt.Errorf(
			"%s is not a valid datetime format (want %s)",
			value, "YYYY-MM-DDTHH:MM:SS",
		)
	}
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(CLILayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf(
			"%s is not a valid datetime: %w", value, err,
		)
	}
	return t, nil
}
