package engine

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knesgoda/outpaged-opql/pkg/history"
	"github.com/knesgoda/outpaged-opql/pkg/opql"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

var (
	admin  = Principal{PrincipalID: "user:root", WorkspaceID: "ws1", AllowAll: true}
	member = Principal{PrincipalID: "user:ana", WorkspaceID: "ws1", Permissions: []string{"search.execute"}}
)

func fixtureRows() []Row {
	return []Row{
		{
			EntityID: "t1", EntityType: "task", WorkspaceID: "ws1", Score: 0.9,
			Values: map[string]any{
				"title":    "Fix login bug", "snippet": "login fails on safari", "status": "Review",
				"priority": "high", "assignee": "user:ana", "labels": []any{"bug", "ui"},
				"points":   3.0, "project_id": "p1", "created_at": "2024-01-01", "due_at": "2024-02-01",
			},
			History: &history.Log{
				CreatedAt: day(1),
				Initial:   map[string]any{"status": "Open"},
				Events: []history.Event{
					{At: day(5), Actor: "user:ana", Changes: []history.Change{{Field: "status", From: "Open", To: "In Progress"}}},
					{At: day(10), Actor: "user:ben", Changes: []history.Change{{Field: "status", From: "In Progress", To: "Review"}}},
				},
			},
		},
		{
			EntityID: "t2", EntityType: "task", WorkspaceID: "ws1", Score: 0.5,
			Values: map[string]any{
				"title":    "Write docs", "snippet": "onboarding guide", "status": "Open",
				"priority": "low", "assignee": "user:ben", "labels": []any{"docs"},
				"points":   1.0, "project_id": "p1", "created_at": "2024-01-03",
			},
			History: &history.Log{
				CreatedAt: day(2),
				Initial:   map[string]any{"snippet": "draft outline", "title": "Docs"},
				Events: []history.Event{
					{At: day(6), Actor: "user:ben", Changes: []history.Change{
						{Field: "snippet", From: "draft outline", To: "onboarding guide"},
						{Field: "title", From: "Docs", To: "Write docs"},
					}},
					{At: day(8), Actor: "user:ben", Changes: []history.Change{{Field: "snippet", From: "onboarding guide", To: "onboarding guide v2"}}},
				},
			},
			Access: Access{Fields: map[string]string{"snippet": "search.snippet.read"}},
		},
		{
			EntityID: "t3", EntityType: "task", WorkspaceID: "ws1", Score: 0.7,
			Values: map[string]any{
				"title":  "Audit comments", "status": "Done", "priority": "high", "assignee": nil,
				"labels": []any{}, "points": 5.0, "project_id": "p2", "created_at": "2024-01-04",
			},
			Access: Access{Required: []string{"search.comments.read"}},
		},
		{
			EntityID: "x1", EntityType: "task", WorkspaceID: "ws2", Score: 1,
			Values: map[string]any{"title": "Other tenant", "status": "Open", "priority": "high"},
		},
		{
			EntityID: "p1", EntityType: "project", WorkspaceID: "ws1",
			Values: map[string]any{"title": "Website", "key": "WEB", "lead": "user:ana"},
		},
		{
			EntityID: "p2", EntityType: "project", WorkspaceID: "ws1",
			Values: map[string]any{"title": "Mobile", "key": "MOB"},
		},
	}
}

func newTestEngine() *Engine {
	return New(WithClock(func() time.Time { return day(20) }))
}

func run(t *testing.T, p Principal, query string) *Result {
	t.Helper()
	res, err := newTestEngine().Execute(Request{WorkspaceID: "ws1", Principal: p, Query: query}, fixtureRows())
	require.NoError(t, err, query)
	return res
}

func TestExecute_WorkspaceIsolation(t *testing.T) {
	res := run(t, admin, "FIND tasks")
	assert.Equal(t, []string{"t1", "t3", "t2"}, res.IDs())
	assert.Equal(t, 3, res.Total)

	// a principal from another workspace sees nothing, without an error
	outsider := Principal{PrincipalID: "user:eve", WorkspaceID: "ws2", AllowAll: true}
	res, err := newTestEngine().Execute(Request{WorkspaceID: "ws1", Principal: outsider, Query: "FIND tasks"}, fixtureRows())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Total)
	assert.Empty(t, res.Rows)
}

func TestExecute_PermissionFiltering(t *testing.T) {
	res := run(t, member, "FIND tasks")
	assert.Equal(t, []string{"t1", "t2"}, res.IDs())

	t2 := res.Rows[1]
	assert.Equal(t, MaskedValue, t2.Values["snippet"])
	assert.Equal(t, []string{"snippet"}, t2.Masked)
	assert.Equal(t, "Write docs", t2.Values["title"])
	assert.Equal(t, "login fails on safari", res.Rows[0].Values["snippet"])

	// masked values never match
	assert.Equal(t, 0, run(t, member, "FIND tasks WHERE snippet ~ onboarding").Total)
	assert.Equal(t, []string{"t2"}, run(t, admin, "FIND tasks WHERE snippet ~ onboarding").IDs())

	wildcard := Principal{PrincipalID: "user:ana", WorkspaceID: "ws1", Permissions: []string{"search.*"}}
	res = run(t, wildcard, "FIND tasks")
	assert.Equal(t, []string{"t1", "t3", "t2"}, res.IDs())
	assert.Equal(t, "onboarding guide", res.Rows[2].Values["snippet"])
	assert.Empty(t, res.Rows[2].Masked)
}

func TestExecute_MaskedHistoryNotReturned(t *testing.T) {
	res := run(t, member, "FIND tasks")
	require.Equal(t, []string{"t1", "t2"}, res.IDs())

	t2 := res.Rows[1]
	require.NotNil(t, t2.History)
	assert.NotContains(t, t2.History.Initial, "snippet")
	assert.Equal(t, "Docs", t2.History.Initial["title"])
	require.Len(t, t2.History.Events, 1)
	assert.Equal(t, []history.Change{{Field: "title", From: "Docs", To: "Write docs"}}, t2.History.Events[0].Changes)

	out, err := json.Marshal(res)
	require.NoError(t, err)
	for _, secret := range []string{"draft outline", "onboarding guide"} {
		assert.NotContains(t, string(out), secret)
	}

	// the caller's rows keep their full history
	full := run(t, admin, "FIND tasks WHERE id = t2")
	require.Len(t, full.Rows, 1)
	assert.Len(t, full.Rows[0].History.Events, 2)
	assert.Equal(t, "draft outline", full.Rows[0].History.Initial["snippet"])
}

func TestExecute_HistoryOnMaskedField(t *testing.T) {
	assert.Equal(t, []string{"t2"}, run(t, admin, `FIND tasks WHERE snippet WAS "draft outline"`).IDs())
	assert.Equal(t, 0, run(t, member, `FIND tasks WHERE snippet WAS "draft outline"`).Total)
	assert.Equal(t, 0, run(t, member, `FIND tasks WHERE snippet CHANGED`).Total)

	res := run(t, member, `EXPLAIN FIND tasks WHERE snippet WAS "draft outline" OR title ~ docs`)
	require.Equal(t, []string{"t2"}, res.IDs())
	require.Len(t, res.HistoryScans, 1)
	require.Len(t, res.HistoryScans[0].Matches, 1)
	m := res.HistoryScans[0].Matches[0]
	assert.Equal(t, "snippet", m.Field)
	assert.False(t, m.Matched)
	assert.Empty(t, m.Segments)
	assert.Empty(t, m.Transitions)
}

func TestExecute_DoesNotMutateInput(t *testing.T) {
	rows := fixtureRows()
	_, err := newTestEngine().Execute(Request{WorkspaceID: "ws1", Principal: member, Query: "FIND tasks"}, rows)
	require.NoError(t, err)
	assert.Equal(t, "onboarding guide", rows[1].Values["snippet"])
	assert.Empty(t, rows[1].Masked)
}

func TestExecute_HistoryPredicates(t *testing.T) {
	res := run(t, admin, `FIND tasks WHERE status WAS "In Progress" DURING (2024-01-01, 2024-01-11)`)
	assert.Equal(t, []string{"t1"}, res.IDs())

	assert.Equal(t, 0, run(t, admin, `FIND tasks WHERE status WAS "Cancelled"`).Total)

	res = run(t, admin, `FIND tasks WHERE status CHANGED FROM "In Progress" TO "Review" BY 'user:ben'`)
	assert.Equal(t, []string{"t1"}, res.IDs())
	res = run(t, admin, `FIND tasks WHERE status CHANGED FROM "In Progress" TO "Review" BY 'user:ana'`)
	assert.Equal(t, 0, res.Total)

	// fields that never changed have one segment holding the current value
	assert.Equal(t, []string{"t1", "t3", "t2"}, run(t, admin, `FIND tasks WHERE status WAS NOT "Review"`).IDs())
}

func TestExecute_Explain(t *testing.T) {
	plain := run(t, admin, `FIND tasks WHERE status WAS "In Progress"`)
	explained := run(t, admin, `EXPLAIN FIND tasks WHERE status WAS "In Progress"`)

	assert.Equal(t, plain.IDs(), explained.IDs())
	assert.Nil(t, plain.HistoryScans)
	require.Len(t, explained.HistoryScans, 1)

	scan := explained.HistoryScans[0]
	assert.Equal(t, "t1", scan.EntityID)
	require.Len(t, scan.Matches, 1)
	assert.Equal(t, "status", scan.Matches[0].Field)
	assert.Equal(t, history.VerbWas, scan.Matches[0].Verb)
	require.Len(t, scan.Matches[0].Segments, 1)
	assert.Equal(t, day(5), scan.Matches[0].Segments[0].Start)

	require.NotNil(t, explained.Plan)
	assert.Equal(t, "FIND", explained.Plan.Kind)
	assert.Equal(t, []string{"status"}, explained.Plan.HistoryFields)
	assert.Equal(t, []string{"score DESC", "id ASC"}, explained.Plan.OrderBy)
}

func TestExecute_Ordering(t *testing.T) {
	assert.Equal(t, []string{"t3", "t1", "t2"}, run(t, admin, "FIND tasks ORDER BY points DESC").IDs())
	// nil sorts last in both directions
	assert.Equal(t, []string{"t1", "t2", "t3"}, run(t, admin, "FIND tasks ORDER BY assignee").IDs())
	assert.Equal(t, []string{"t2", "t1", "t3"}, run(t, admin, "FIND tasks ORDER BY assignee DESC").IDs())
	// ties break on entity id
	assert.Equal(t, []string{"t1", "t3", "t2"}, run(t, admin, "FIND tasks ORDER BY priority").IDs())
}

func TestExecute_Paging(t *testing.T) {
	res := run(t, admin, "FIND tasks ORDER BY points LIMIT 1 OFFSET 1")
	assert.Equal(t, []string{"t1"}, res.IDs())
	assert.Equal(t, 3, res.Total)
	assert.True(t, res.HasMore)

	res, err := newTestEngine().Execute(Request{
		WorkspaceID: "ws1", Principal: admin, Query: "FIND tasks ORDER BY points LIMIT 1",
		Page: &Page{Offset: 2, Limit: 1},
	}, fixtureRows())
	require.NoError(t, err)
	assert.Equal(t, []string{"t3"}, res.IDs())
	assert.False(t, res.HasMore)

	assert.Empty(t, run(t, admin, "FIND tasks LIMIT 0").Rows)
	assert.Empty(t, run(t, admin, "FIND tasks OFFSET 10").Rows)

	// a huge limit must not overflow the window end
	res = run(t, admin, "FIND tasks ORDER BY points LIMIT 9223372036854775807 OFFSET 1")
	assert.Equal(t, []string{"t1", "t3"}, res.IDs())
	assert.False(t, res.HasMore)

	res, err = newTestEngine().Execute(Request{
		WorkspaceID: "ws1", Principal: admin, Query: "FIND tasks",
		Page: &Page{Offset: 2, Limit: int(^uint(0) >> 1)},
	}, fixtureRows())
	require.NoError(t, err)
	assert.Len(t, res.Rows, 1)
}

func TestExecute_StatementKinds(t *testing.T) {
	res := run(t, admin, "COUNT tasks WHERE priority = high")
	assert.Equal(t, "COUNT", res.Kind)
	assert.Equal(t, 2, res.Total)
	assert.Nil(t, res.Rows)

	res = run(t, admin, "AGGREGATE tasks GROUP BY priority")
	require.Len(t, res.Groups, 2)
	assert.Equal(t, Group{Key: map[string]any{"priority": "high"}, Count: 2}, res.Groups[0])
	assert.Equal(t, Group{Key: map[string]any{"priority": "low"}, Count: 1}, res.Groups[1])

	res = run(t, admin, "AGGREGATE tasks GROUP BY priority HAVING count > 1")
	require.Len(t, res.Groups, 1)
	assert.Equal(t, "high", res.Groups[0].Key["priority"])

	res = run(t, admin, "AGGREGATE tasks GROUP BY priority ORDER BY priority DESC")
	require.Len(t, res.Groups, 2)
	assert.Equal(t, "low", res.Groups[0].Key["priority"])

	res = run(t, admin, `UPDATE tasks SET status = "Done" WHERE id = t2`)
	assert.Equal(t, []string{"t2"}, res.IDs())
	assert.Equal(t, []Assignment{{Field: "status", Value: "Done"}}, res.Assignments)
}

func TestExecute_Join(t *testing.T) {
	res := run(t, admin, "FIND tasks JOIN projects AS p ON p.id = project_id WHERE p.key = WEB")
	assert.Equal(t, []string{"t1", "t2"}, res.IDs())
	assert.Equal(t, "Website", res.Rows[0].Values["p.title"])

	res = run(t, admin, "FIND tasks JOIN projects AS p ON p.lead = assignee")
	assert.Equal(t, []string{"t1"}, res.IDs())
}

func TestExecute_Operators(t *testing.T) {
	cases := map[string][]string{
		"labels INCLUDES bug":                             {"t1"},
		"labels INCLUDES (bug, ui)":                       {"t1"},
		"labels EXCLUDES bug":                             {"t3", "t2"},
		`title LIKE "fix%"`:                               {"t1"},
		`title LIKE "_rite docs"`:                         {"t2"},
		`title MATCH "docs audit"`:                        {"t3", "t2"},
		`title MATCH "doc"`:                               {},
		"title CONTAINS LOG":                              {"t1"},
		"title !~ log":                                    {"t3", "t2"},
		"points BETWEEN 2 AND 5":                          {"t1", "t3"},
		"points >= 3":                                     {"t1", "t3"},
		"points < 3":                                      {"t2"},
		"created_at BEFORE 2024-01-02":                    {"t1"},
		"created_at AFTER 2024-01-03":                     {"t3"},
		"created_at ON 2024-01-03":                        {"t2"},
		"created_at DURING (2024-01-02, 2024-01-04)":      {"t3", "t2"},
		"assignee IS NULL":                                {"t3"},
		"assignee IS NOT NULL":                            {"t1", "t2"},
		"labels IS EMPTY":                                 {"t3"},
		"due_at EXISTS":                                   {"t1"},
		"due_at NOT EXISTS":                               {"t3", "t2"},
		"status IN (open, done)":                          {"t3", "t2"},
		"status NOT IN (open)":                            {"t1", "t3"},
		"status != open":                                  {"t1", "t3"},
		"NOT (priority = high)":                           {"t2"},
		"priority = high AND points > 3 OR status = open": {"t3", "t2"},
	}
	for where, want := range cases {
		res := run(t, admin, "FIND tasks WHERE "+where)
		assert.Equal(t, want, res.IDs(), where)
	}
}

func TestExecute_ValidationErrors(t *testing.T) {
	queries := map[string]string{
		"FIND widgets":                                           "",
		"FIND tasks WHERE bogus = 1":                             "bogus",
		`FIND tasks WHERE bogus WAS "x"`:                         "bogus",
		"FIND tasks ORDER BY bogus":                              "bogus",
		"AGGREGATE tasks GROUP BY bogus":                         "bogus",
		"UPDATE tasks SET id = x":                                "id",
		"FIND tasks WHERE status BEFORE 2024-01-01":              "status",
		"FIND tasks WHERE created_at BEFORE someday":             "created_at",
		"FIND tasks WHERE q.key = x":                             "q.key",
		"AGGREGATE tasks GROUP BY status HAVING priority = high": "priority",
		"FIND tasks WHERE count > 1":                             "count",
	}
	for query, field := range queries {
		_, err := newTestEngine().Execute(Request{WorkspaceID: "ws1", Principal: admin, Query: query}, fixtureRows())
		var verr *opql.ValidationError
		require.True(t, errors.As(err, &verr), query)
		assert.Equal(t, field, verr.Field, query)
	}

	_, err := newTestEngine().Execute(Request{WorkspaceID: "ws1", Principal: admin, Query: "FIND tasks WHERE ("}, nil)
	var serr *opql.SyntaxError
	assert.True(t, errors.As(err, &serr))
}

func TestExecute_EmptyRowsTotalZero(t *testing.T) {
	queries := []string{
		"FIND tasks",
		"COUNT tasks WHERE status = open",
		"AGGREGATE tasks",
		"AGGREGATE tasks GROUP BY status HAVING count > 0",
		`UPDATE tasks SET status = "Done" WHERE priority = high`,
		`EXPLAIN FIND tasks WHERE status CHANGED TO "Done" DURING (2024-01-01, 2024-02-01)`,
		"FIND tasks JOIN projects AS p ON p.id = project_id ORDER BY p.title DESC LIMIT 5",
	}
	for _, q := range queries {
		res, err := newTestEngine().Execute(Request{WorkspaceID: "ws1", Principal: admin, Query: q}, nil)
		require.NoError(t, err, q)
		assert.Equal(t, 0, res.Total, q)
	}
}

func TestPrincipal_Can(t *testing.T) {
	p := Principal{Permissions: []string{"search.execute", "reports.*"}}
	assert.True(t, p.Can("search.execute"))
	assert.True(t, p.Can("reports.view"))
	assert.False(t, p.Can("search.comments.read"))
	assert.False(t, p.Can("reportsx"))
	assert.True(t, Principal{Permissions: []string{"*"}}.Can("anything"))
	assert.True(t, Principal{AllowAll: true}.Can("anything"))
}

func TestLike(t *testing.T) {
	assert.True(t, like("Fix login bug", "%LOGIN%"))
	assert.True(t, like("abc", "a_c"))
	assert.True(t, like("abc", "%"))
	assert.False(t, like("abc", "a_"))
	assert.False(t, like("abc", "b%"))
}
