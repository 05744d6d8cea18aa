package history

import (
	"time"

	"github.com/knesgoda/outpaged-opql/pkg/value"
)

type Verb string

const (
	VerbWas     Verb = "WAS"
	VerbWasNot  Verb = "WAS NOT"
	VerbChanged Verb = "CHANGED"
)

// Window is a closed interval [Start, End].
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t lies inside the window, bounds included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Query is a resolved history predicate. Nil From, To and By are absent
// clauses; a nil During means no time restriction.
type Query struct {
	Field  string
	Verb   Verb
	Value  any
	From   any
	To     any
	By     any
	During *Window
}

// Transition is the boundary between two consecutive segments.
type Transition struct {
	Field     string    `json:"field"`
	From      any       `json:"from"`
	To        any       `json:"to"`
	Actor     string    `json:"actor,omitempty"`
	ChangedAt time.Time `json:"changedAt"`
}

// Match is the evidence for one history predicate. WAS and WAS NOT fill
// Segments, CHANGED fills Transitions.
type Match struct {
	Field       string       `json:"field"`
	Verb        Verb         `json:"verb"`
	Matched     bool         `json:"matched"`
	Segments    []Segment    `json:"segments,omitempty"`
	Transitions []Transition `json:"transitions,omitempty"`
}

// Evaluate tests q against segments. now closes the open segment.
//
// WAS NOT matches when any segment overlapping the window holds a different
// value; an entity that was both X and Y during the window matches both
// WAS X and WAS NOT X.
func Evaluate(q Query, segments []Segment, now time.Time) Match {
	m := Match{Field: q.Field, Verb: q.Verb}

	switch q.Verb {
	case VerbWas, VerbWasNot:
		want := q.Verb == VerbWas
		for _, s := range segments {
			if !overlaps(s, q.During, now) {
				continue
			}
			if value.Equal(s.Value, q.Value) == want {
				m.Segments = append(m.Segments, s)
			}
		}
		m.Matched = len(m.Segments) > 0
	case VerbChanged:
		for _, t := range Transitions(segments) {
			if q.From != nil && !value.Equal(t.From, q.From) {
				continue
			}
			if q.To != nil && !value.Equal(t.To, q.To) {
				continue
			}
			if q.By != nil && !value.Equal(t.Actor, q.By) {
				continue
			}
			if q.During != nil && !q.During.Contains(t.ChangedAt) {
				continue
			}
			m.Transitions = append(m.Transitions, t)
		}
		m.Matched = len(m.Transitions) > 0
	}
	return m
}

// Transitions lists the boundaries of consecutive segments.
func Transitions(segments []Segment) []Transition {
	if len(segments) < 2 {
		return nil
	}
	out := make([]Transition, 0, len(segments)-1)
	for i := 1; i < len(segments); i++ {
		prev, next := segments[i-1], segments[i]
		at := next.Start
		if next.ChangedAt != nil {
			at = *next.ChangedAt
		}
		out = append(out, Transition{
			Field:     next.Field,
			From:      prev.Value,
			To:        next.Value,
			Actor:     next.Actor,
			ChangedAt: at,
		})
	}
	return out
}

func overlaps(s Segment, w *Window, now time.Time) bool {
	if w == nil {
		return true
	}
	return !s.Start.After(w.End) && !s.EndOr(now).Before(w.Start)
}
