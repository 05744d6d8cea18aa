package offline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knesgoda/outpaged-opql/pkg/opql"
)

func TestPlanOfflineQuery_Filters(t *testing.T) {
	plan, err := PlanOfflineQuery(`FIND tasks WHERE project_id = "p1" AND status IN ("Open", "Review") ` +
		`AND labels INCLUDES (bug, ui) AND assignee = "user:ana" AND priority = high AND type = task`)
	require.NoError(t, err)

	assert.True(t, plan.Supported)
	assert.Empty(t, plan.Unsupported)
	assert.Equal(t, "FIND", plan.Kind)
	assert.Equal(t, Filters{
		ProjectID:  "p1",
		Statuses:   []string{"Open", "Review"},
		Labels:     []string{"bug", "ui"},
		Assignees:  []string{"user:ana"},
		Types:      []string{"task"},
		Priorities: []string{"high"},
	}, plan.Filters)
}

func TestPlanOfflineQuery_OnlyTopLevelConjunction(t *testing.T) {
	for _, q := range []string{
		`FIND tasks WHERE status = Open OR priority = high`,
		`FIND tasks WHERE NOT status = Open`,
		`FIND tasks WHERE status != Open AND labels EXCLUDES bug`,
		`FIND tasks WHERE status WAS Open`,
	} {
		plan, err := PlanOfflineQuery(q)
		require.NoError(t, err, q)
		assert.True(t, plan.Filters.Empty(), q)
		assert.True(t, plan.Supported, q)
	}

	// nested ANDs flatten
	plan, err := PlanOfflineQuery(`FIND tasks WHERE (status = Open AND assignee = "user:ben") AND (priority = low OR priority = high)`)
	require.NoError(t, err)
	assert.Equal(t, []string{"Open"}, plan.Filters.Statuses)
	assert.Equal(t, []string{"user:ben"}, plan.Filters.Assignees)
	assert.Empty(t, plan.Filters.Priorities)
}

func TestPlanOfflineQuery_Unsupported(t *testing.T) {
	tests := map[string][]string{
		`FIND tasks JOIN projects AS p ON p.id = project_id WHERE p.key = WEB`: {"join:p"},
		`AGGREGATE tasks GROUP BY status`:                                      {"statement:aggregate", "aggregate:group_by"},
		`AGGREGATE tasks GROUP BY status HAVING count > 1`:                     {"statement:aggregate", "aggregate:group_by", "aggregate:having"},
		`UPDATE tasks SET status = Done WHERE status = Open`:                   {"statement:update"},
		`EXPLAIN AGGREGATE tasks GROUP BY priority`:                            {"statement:aggregate", "aggregate:group_by"},
	}
	for q, want := range tests {
		plan, err := PlanOfflineQuery(q)
		require.NoError(t, err, q)
		assert.Equal(t, want, plan.Unsupported, q)
		assert.False(t, plan.Supported, q)
	}

	// filters still come through for degraded plans
	plan, err := PlanOfflineQuery(`UPDATE tasks SET status = Done WHERE status = Open`)
	require.NoError(t, err)
	assert.Equal(t, []string{"Open"}, plan.Filters.Statuses)
}

func TestPlanOfflineQuery_FreeTextAndErrors(t *testing.T) {
	plan, err := PlanOfflineQuery("login bug")
	require.NoError(t, err)
	assert.Equal(t, "items", plan.Entity)
	assert.True(t, plan.Supported)
	assert.True(t, plan.Filters.Empty())

	_, err = PlanOfflineQuery(`FIND tasks WHERE (status = Open`)
	var syntaxErr *opql.SyntaxError
	assert.ErrorAs(t, err, &syntaxErr)
}
