package runrecord

import "time"

// snapshotTimestampLayout renders UTC times with dashes instead of colons
// so the directory names stay portable, e.g. "2026-07-31T12-00-00-UTC".
// Lexicographic order matches chronological order.
const snapshotTimestampLayout = "2006-01-02T15-04-05-MST"

// FormatSnapshotTimestamp renders t (expected to be in UTC) as a
// submissions/<timestamp>/ directory name.
func FormatSnapshotTimestamp(t time.Time) string {
	return t.UTC().Format(snapshotTimestampLayout)
}

// ParseSnapshotTimestamp parses a directory name produced by
// FormatSnapshotTimestamp back into a time.Time.
func ParseSnapshotTimestamp(name string) (time.Time, error) {
	return time.Parse(snapshotTimestampLayout, name)
}
