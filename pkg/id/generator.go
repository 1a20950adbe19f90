// Package id generates run identifiers.
package id

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const runLayout = "20060102T150405"

// Generate generates a new unique ID.
func Generate() string {
	return uuid.New().String()
}

// GenerateShort generates a shorter unique ID (first 8 chars of UUID).
func GenerateShort() string {
	return uuid.New().String()[:8]
}

// Run returns a run ID that sorts by start time, e.g. 20261019T093000-1f3a9c2e.
func Run() string {
	return RunAt(time.Now())
}

// RunAt is Run with an explicit start time.
func RunAt(t time.Time) string {
	return t.UTC().Format(runLayout) + "-" + GenerateShort()
}

// RunTime extracts the start time encoded in a run ID.
func RunTime(runID string) (time.Time, bool) {
	stamp, suffix, ok := strings.Cut(runID, "-")
	if !ok || len(suffix) != 8 {
		return time.Time{}, false
	}
	t, err := time.Parse(runLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
