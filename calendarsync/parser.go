// Package calendarsync keeps the lesson ledger and the tutor's Google
// Calendar in agreement. The calendar is the source of truth for events
// it owns; locally created lessons are mirrored out but never deleted by
// a sync pass.
package calendarsync

import (
	"regexp"
	"strings"
	"time"

	calendar "google.golang.org/api/calendar/v3"
)

// lessonTitlePattern picks lesson events out of an otherwise mixed
// calendar. Accepted prefixes: "Ripetizioni <name>", "Lesson <name>",
// "Lesson: <name>", case-insensitive.
var lessonTitlePattern = regexp.MustCompile(`(?i)^(ripetizioni|lesson:?)\s+(.+)$`)

// LessonCandidate is a calendar event reduced to the fields the
// reconciler cares about.
type LessonCandidate struct {
	EventID     string
	StudentName string
	Start       time.Time
	End         time.Time
	Description string
}

// ParseLessonEvent extracts a lesson candidate from a calendar event.
// Returns nil for events that are not lessons: non-matching titles,
// all-day events, or events with unusable timestamps.
func ParseLessonEvent(event *calendar.Event) *LessonCandidate {
	if event == nil || event.Status == "cancelled" {
		return nil
	}
	match := lessonTitlePattern.FindStringSubmatch(strings.TrimSpace(event.Summary))
	if match == nil {
		return nil
	}
	name := NormalizeName(match[2])
	if name == "" {
		return nil
	}

	// All-day events carry Date instead of DateTime and cannot price a
	// lesson; skip them.
	if event.Start == nil || event.End == nil || event.Start.DateTime == "" || event.End.DateTime == "" {
		return nil
	}
	start, err := time.Parse(time.RFC3339, event.Start.DateTime)
	if err != nil {
		return nil
	}
	end, err := time.Parse(time.RFC3339, event.End.DateTime)
	if err != nil {
		return nil
	}
	// Zero-length events are legal, only an inverted range is unusable.
	if end.Before(start) {
		return nil
	}

	return &LessonCandidate{
		EventID:     event.Id,
		StudentName: name,
		Start:       start.UTC(),
		End:         end.UTC(),
		Description: event.Description,
	}
}

// NormalizeName trims, collapses whitespace and capitalizes each token,
// so "  mario   rossi " and "Mario Rossi" refer to the same student.
func NormalizeName(raw string) string {
	tokens := strings.Fields(raw)
	for i, token := range tokens {
		runes := []rune(strings.ToLower(token))
		if len(runes) > 0 {
			runes[0] = []rune(strings.ToUpper(string(runes[0])))[0]
		}
		tokens[i] = string(runes)
	}
	return strings.Join(tokens, " ")
}

// SplitFullName separates a normalized full name into first and last
// parts. Everything but the final token is the first name; a single
// token yields an empty last name.
func SplitFullName(fullName string) (first, last string) {
	tokens := strings.Fields(fullName)
	switch len(tokens) {
	case 0:
		return "", ""
	case 1:
		return tokens[0], ""
	default:
		return strings.Join(tokens[:len(tokens)-1], " "), tokens[len(tokens)-1]
	}
}
