// Package calendarevent defines the CalendarEvent entity and the
// planner-ownership identification scheme: a summary-prefix family plus
// a "workout:<discipline>" tag line in the description, since the
// calendar collaborator exposes no extended-property channel.
package calendarevent

import (
	"fmt"
	"strings"
	"time"

	"github.com/wellforge/fitcadence/internal/domain/health"
)

// Origin distinguishes events this system owns from ones it must never
// mutate.
type Origin string

const (
	OriginPlanned  Origin = "planned"
	OriginExternal Origin = "external"
)

const (
	// PrefixPlanned marks an event as an as-yet-unreconciled planner
	// creation.
	PrefixPlanned = "[AI Workout]"
	// PrefixDone marks a planner-owned event the reconciler matched to a
	// completed activity.
	PrefixDone = "[✓ Done]"
	// PrefixMissed marks a planner-owned event with no matching activity.
	PrefixMissed = "[✗ Missed]"
)

// Event is an entry in the remote calendar.
type Event struct {
	ExternalID  string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	Tags        []string
	Origin      Origin
}

// tagPrefix returns the "workout:<discipline>" description tag line for d.
func tagPrefix(d health.Discipline) string {
	return fmt.Sprintf("workout:%s", d)
}

// IsPlannerOwned reports whether e was created by this system, identified
// by its summary prefix family, or failing that by Origin == OriginPlanned.
func IsPlannerOwned(e Event) bool {
	for _, p := range []string{PrefixPlanned, PrefixDone, PrefixMissed} {
		if strings.HasPrefix(e.Summary, p) {
			return true
		}
	}
	return e.Origin == OriginPlanned
}

// Discipline extracts the discipline tag from a planner-owned event's
// description. Returns ok=false if no recognizable tag line is present.
func Discipline(e Event) (health.Discipline, bool) {
	for _, line := range strings.Split(e.Description, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "workout:") {
			return health.Discipline(strings.TrimPrefix(line, "workout:")), true
		}
	}
	return "", false
}

// SlotKey is the stable (date, discipline) identity used to find an
// existing planned event for a slot before an external_id is known.
type SlotKey struct {
	Date       time.Time
	Discipline health.Discipline
}

// Key derives a planner-owned event's slot key from its start time and
// discipline tag. The date is the start's wall-clock date anchored to
// UTC midnight so keys compare equal (and hash equal as map keys) even
// when one event carries a fixed-offset location and the other an IANA
// zone.
func Key(e Event) (SlotKey, bool) {
	d, ok := Discipline(e)
	if !ok {
		return SlotKey{}, false
	}
	y, m, day := e.Start.Date()
	return SlotKey{Date: time.Date(y, m, day, 0, 0, 0, 0, time.UTC), Discipline: d}, true
}

// NewPlanned builds a fresh planner-owned Event with the summary/tag
// scheme described in the package doc.
func NewPlanned(discipline health.Discipline, titleA string, description string, start, end time.Time) Event {
	desc := description + "\n" + tagPrefix(discipline)
	return Event{
		Summary:     fmt.Sprintf("%s %s: %s", PrefixPlanned, discipline, titleA),
		Description: desc,
		Start:       start,
		End:         end,
		Tags:        []string{fmt.Sprintf("workout:%s", discipline)},
		Origin:      OriginPlanned,
	}
}

// WithCompletionPrefix returns a copy of e with its summary's ownership
// prefix swapped for a completion marker. The description is never
// touched, keeping round-trip parsing unambiguous.
func WithCompletionPrefix(e Event, done bool) Event {
	out := e
	rest := strings.TrimPrefix(e.Summary, PrefixPlanned)
	rest = strings.TrimPrefix(rest, PrefixDone)
	rest = strings.TrimPrefix(rest, PrefixMissed)
	prefix := PrefixMissed
	if done {
		prefix = PrefixDone
	}
	out.Summary = prefix + rest
	return out
}

// MatchesProtectedKeyword reports whether e's summary or tags contain any
// of the configured protected keywords (case-insensitive substring match).
func MatchesProtectedKeyword(e Event, keywords []string) bool {
	summary := strings.ToLower(e.Summary)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(summary, kw) {
			return true
		}
		for _, tag := range e.Tags {
			if strings.Contains(strings.ToLower(tag), kw) {
				return true
			}
		}
	}
	return false
}
