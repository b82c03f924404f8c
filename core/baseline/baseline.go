// Package baseline resolves the comparison point a run is checked
// against: either a directory of prior records, or a trailing window
// of the same log directory excluding the run under test.
package baseline

import (
	"time"

	"github.com/regatehq/regate/core/aggregate"
	"github.com/regatehq/regate/core/store"
)

// Result is the resolved baseline. Present is false when no baseline
// records were found; callers must treat that as non-fatal.
type Result struct {
	Summary aggregate.Summary
	Present bool
}

// FromDirectory aggregates every record found in dir with no date
// filter — the "last green run on main" artifact pattern.
func FromDirectory(dir string) (Result, error) {
	records, err := store.ReadWindow(dir, time.Time{}, farFuture())
	if err != nil {
		return Result{}, err
	}
	if len(records) == 0 {
		return Result{}, nil
	}
	return Result{Summary: aggregate.Compute(records), Present: true}, nil
}

// FromTrailingWindow reads records in logDir whose UTC date falls in
// [now-days, now) excluding any record belonging to excludeRunID (the
// run currently being checked).
func FromTrailingWindow(logDir string, days int, excludeRunID string, now time.Time) (Result, error) {
	end := now.UTC()
	start := end.AddDate(0, 0, -days)

	records, err := store.ReadWindow(logDir, start, end)
	if err != nil {
		return Result{}, err
	}

	var filtered []store.Record
	for _, r := range records {
		if r.RunID == excludeRunID {
			continue
		}
		filtered = append(filtered, r)
	}
	if len(filtered) == 0 {
		return Result{}, nil
	}
	return Result{Summary: aggregate.Compute(filtered), Present: true}, nil
}

func farFuture() time.Time {
	return time.Now().UTC().AddDate(100, 0, 0)
}
