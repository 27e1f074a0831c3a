// Package timeutil normalizes timestamps crossing the catalog boundary.
//
// Two boundary functions keep the rest of the system timezone-clean:
// ToUTC converts every inbound timestamp before it is stored or compared,
// and AtBoundary renders stored instants for outbound DTOs. Everything in
// between computes in UTC only.
package timeutil

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// approachLayouts is the layered parse order for upstream ephemeris
// timestamps. The close-approach feed emits "2029-Apr-13 21:46"; the
// remaining layouts cover seconds-bearing, date-only, numeric-month and
// ISO-like variants seen in older feed snapshots.
var approachLayouts = []string{
	"2006-Jan-02 15:04",
	"2006-Jan-02 15:04:05",
	"2006-Jan-02",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// ToUTC normalizes t to UTC. The zero time passes through unchanged so
// optional timestamps stay recognizably unset.
func ToUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// AtBoundary renders t for outbound DTOs: RFC 3339 in UTC.
func AtBoundary(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Sleep pauses for d or until ctx is done, whichever comes first. It is
// the suspension point used for inter-batch delays and worker pacing.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ParseApproachTime parses an upstream close-approach timestamp, trying
// each supported layout in order. Month abbreviations are the English
// ones regardless of process locale; Go's time parsing has no locale
// dependence. The result is always UTC.
//
// Malformed input returns an error; callers drop the record rather than
// fabricate an instant.
func ParseApproachTime(s string) (time.Time, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("empty approach time")
	}
	for _, layout := range approachLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable approach time: %q", trimmed)
}
