package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func statusLog() *Log {
	return &Log{
		CreatedAt: day(1),
		CreatedBy: "user:ana",
		Initial:   map[string]any{"status": "Open"},
		Events: []Event{
			// out of order on purpose
			{At: day(10), Actor: "user:ben", Changes: []Change{{Field: "status", From: "In Progress", To: "Review"}}},
			{At: day(5), Actor: "user:ana", Changes: []Change{
				{Field: "status", From: "Open", To: "In Progress"},
				{Field: "assignee", From: nil, To: "user:ana"},
			}},
			{At: day(12), Actor: "user:cy", Changes: []Change{{Field: "priority", From: 2.0, To: 1.0}}},
		},
	}
}

func TestBuildSegments_Contiguous(t *testing.T) {
	log := statusLog()
	segments := log.Segments("status", "Review")
	require.Len(t, segments, 3)

	assert.Equal(t, []any{"Open", "In Progress", "Review"}, []any{segments[0].Value, segments[1].Value, segments[2].Value})
	assert.Equal(t, day(1), segments[0].Start)
	assert.Nil(t, segments[0].ChangedAt)

	open := 0
	for i, s := range segments {
		if s.Open() {
			open++
		}
		if i > 0 {
			require.NotNil(t, segments[i-1].End)
			assert.Equal(t, s.Start, *segments[i-1].End)
			assert.Equal(t, s.Start, *s.ChangedAt)
		}
	}
	assert.Equal(t, 1, open)
	assert.True(t, segments[2].Open())
	assert.Equal(t, "user:ben", segments[2].Actor)

	// the caller's log keeps its order
	assert.Equal(t, day(10), log.Events[0].At)
}

func TestBuildSegments_EventCountInvariant(t *testing.T) {
	for n := 0; n < 6; n++ {
		events := make([]Event, n)
		for i := range events {
			events[i] = Event{At: day(i + 2), Changes: []Change{{Field: "f", To: float64(i)}}}
		}
		segments := BuildSegments("f", Initial{Value: "start", At: day(1)}, events)
		require.Len(t, segments, n+1)

		open := 0
		for _, s := range segments {
			if s.Open() {
				open++
			}
		}
		assert.Equal(t, 1, open)
	}
}

func TestLog_InitialFallbacks(t *testing.T) {
	log := statusLog()

	assignee := log.Segments("assignee", "user:ana")
	require.Len(t, assignee, 2)
	assert.Nil(t, assignee[0].Value)

	title := log.Segments("title", "Ship it")
	require.Len(t, title, 1)
	assert.Equal(t, "Ship it", title[0].Value)

	var none *Log
	assert.Len(t, none.Segments("status", "Open"), 1)
}

func TestLog_Without(t *testing.T) {
	log := statusLog()

	stripped := log.Without("status")
	assert.NotContains(t, stripped.Initial, "status")
	require.Len(t, stripped.Events, 2)
	for _, ev := range stripped.Events {
		for _, ch := range ev.Changes {
			assert.NotEqual(t, "status", ch.Field)
		}
	}
	assert.Equal(t, "assignee", stripped.Events[0].Changes[0].Field)
	assert.Equal(t, "priority", stripped.Events[1].Changes[0].Field)

	// the source log keeps its status history
	assert.Equal(t, "Open", log.Initial["status"])
	assert.Len(t, log.Segments("status", "Review"), 3)

	assert.Same(t, log, log.Without())
	var none *Log
	assert.Nil(t, none.Without("status"))
}

func TestEvaluate_WasDuring(t *testing.T) {
	segments := statusLog().Segments("status", nil)
	now := day(20)

	m := Evaluate(Query{Field: "status", Verb: VerbWas, Value: "In Progress", During: &Window{Start: day(1), End: day(11)}}, segments, now)
	assert.True(t, m.Matched)
	require.Len(t, m.Segments, 1)
	assert.Equal(t, day(5), m.Segments[0].Start)

	m = Evaluate(Query{Field: "status", Verb: VerbWas, Value: "In Progress", During: &Window{Start: day(11), End: day(15)}}, segments, now)
	assert.False(t, m.Matched)

	m = Evaluate(Query{Field: "status", Verb: VerbWas, Value: "Cancelled"}, segments, now)
	assert.False(t, m.Matched)
	assert.Empty(t, m.Segments)

	// closed window: touching the boundary counts
	m = Evaluate(Query{Field: "status", Verb: VerbWas, Value: "Review", During: &Window{Start: day(2), End: day(10)}}, segments, now)
	assert.True(t, m.Matched)
}

func TestEvaluate_WasNot(t *testing.T) {
	segments := statusLog().Segments("status", nil)
	now := day(20)

	// In Progress and Review both overlap this window
	m := Evaluate(Query{Field: "status", Verb: VerbWasNot, Value: "In Progress", During: &Window{Start: day(6), End: day(11)}}, segments, now)
	assert.True(t, m.Matched)
	require.Len(t, m.Segments, 1)
	assert.Equal(t, "Review", m.Segments[0].Value)

	m = Evaluate(Query{Field: "status", Verb: VerbWasNot, Value: "In Progress", During: &Window{Start: day(6), End: day(8)}}, segments, now)
	assert.False(t, m.Matched)
}

func TestEvaluate_Changed(t *testing.T) {
	segments := statusLog().Segments("status", nil)
	now := day(20)

	m := Evaluate(Query{Field: "status", Verb: VerbChanged, From: "In Progress", To: "Review", By: "user:ben"}, segments, now)
	assert.True(t, m.Matched)
	require.Len(t, m.Transitions, 1)
	assert.Equal(t, day(10), m.Transitions[0].ChangedAt)

	m = Evaluate(Query{Field: "status", Verb: VerbChanged, From: "In Progress", To: "Review", By: "user:ana"}, segments, now)
	assert.False(t, m.Matched)

	m = Evaluate(Query{Field: "status", Verb: VerbChanged}, segments, now)
	assert.Len(t, m.Transitions, 2)

	m = Evaluate(Query{Field: "status", Verb: VerbChanged, During: &Window{Start: day(10), End: day(10)}}, segments, now)
	require.Len(t, m.Transitions, 1)
	assert.Equal(t, "Review", m.Transitions[0].To)

	m = Evaluate(Query{Field: "status", Verb: VerbChanged, To: "Done"}, segments, now)
	assert.False(t, m.Matched)
}
