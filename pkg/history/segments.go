// Package history reconstructs per-field value segments from an entity's
// change log and evaluates WAS, WAS NOT and CHANGED predicates against them.
//
// Segments are never cached: they are a pure fold over the sorted events,
// recomputed whenever a predicate needs them.
package history

import (
	"sort"
	"time"
)

// Change is one field transition inside an event.
type Change struct {
	Field string `json:"field"`
	From  any    `json:"from"`
	To    any    `json:"to"`
}

// Event is an entry of the append-only change log.
type Event struct {
	At      time.Time `json:"at"`
	Actor   string    `json:"actor"`
	Changes []Change  `json:"changes"`
}

// Initial is the earliest known state of a field.
type Initial struct {
	Value any
	At    time.Time
	Actor string
}

// Log is the history attached to a row.
type Log struct {
	CreatedAt time.Time      `json:"createdAt"`
	CreatedBy string         `json:"createdBy,omitempty"`
	Initial   map[string]any `json:"initial,omitempty"`
	Events    []Event        `json:"events,omitempty"`
}

// Segment is a time-bounded run of a single field value. End is nil for the
// current value. ChangedAt is nil for the initial segment.
type Segment struct {
	Field     string     `json:"field"`
	Value     any        `json:"value"`
	Start     time.Time  `json:"start"`
	End       *time.Time `json:"end"`
	Actor     string     `json:"actor,omitempty"`
	ChangedAt *time.Time `json:"changedAt,omitempty"`
}

// Open reports whether the segment is the current value.
func (s Segment) Open() bool { return s.End == nil }

// EndOr returns the segment end, or now for the open segment.
func (s Segment) EndOr(now time.Time) time.Time {
	if s.End == nil {
		return now
	}
	return *s.End
}

// BuildSegments folds events into the ordered segment list for field.
// Every change touching field closes the open segment at the event time and
// opens a new one, so N changes yield N+1 contiguous segments. The caller's
// slice is not reordered.
func BuildSegments(field string, initial Initial, events []Event) []Segment {
	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].At.Before(sorted[j].At)
	})

	segments := []Segment{{
		Field: field,
		Value: initial.Value,
		Start: initial.At,
		Actor: initial.Actor,
	}}
	for _, ev := range sorted {
		for _, ch := range ev.Changes {
			if ch.Field != field {
				continue
			}
			at := ev.At
			segments[len(segments)-1].End = &at
			segments = append(segments, Segment{
				Field:     field,
				Value:     ch.To,
				Start:     at,
				Actor:     ev.Actor,
				ChangedAt: &at,
			})
		}
	}
	return segments
}

// Segments builds the segment list for field from the log. The initial value
// comes from Initial, else from the first recorded change's From, else from
// current (a field that never changed).
func (l *Log) Segments(field string, current any) []Segment {
	if l == nil {
		return BuildSegments(field, Initial{Value: current}, nil)
	}

	initial := Initial{At: l.CreatedAt, Actor: l.CreatedBy}
	if v, ok := l.Initial[field]; ok {
		initial.Value = v
	} else if ch, ok := l.firstChange(field); ok {
		initial.Value = ch.From
	} else {
		initial.Value = current
	}
	return BuildSegments(field, initial, l.Events)
}

func (l *Log) firstChange(field string) (Change, bool) {
	var (
		first Change
		at    time.Time
		found bool
	)
	for _, ev := range l.Events {
		for _, ch := range ev.Changes {
			if ch.Field == field && (!found || ev.At.Before(at)) {
				first, at, found = ch, ev.At, true
				break
			}
		}
	}
	return first, found
}

// Without returns a copy of the log with every trace of fields removed:
// their initial values and their changes. Events left with no changes are
// dropped. The receiver is not modified.
func (l *Log) Without(fields ...string) *Log {
	if l == nil || len(fields) == 0 {
		return l
	}
	drop := make(map[string]bool, len(fields))
	for _, f := range fields {
		drop[f] = true
	}

	out := &Log{CreatedAt: l.CreatedAt, CreatedBy: l.CreatedBy}
	if len(l.Initial) > 0 {
		out.Initial = make(map[string]any, len(l.Initial))
		for k, v := range l.Initial {
			if !drop[k] {
				out.Initial[k] = v
			}
		}
	}
	for _, ev := range l.Events {
		var kept []Change
		for _, ch := range ev.Changes {
			if !drop[ch.Field] {
				kept = append(kept, ch)
			}
		}
		if len(kept) == 0 {
			continue
		}
		out.Events = append(out.Events, Event{At: ev.At, Actor: ev.Actor, Changes: kept})
	}
	return out
}
