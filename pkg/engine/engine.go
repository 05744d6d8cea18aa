// Package engine executes parsed OPQL statements against candidate rows.
//
// Execution order is fixed: workspace isolation, permission filtering and
// field masking, joins, predicate evaluation, ordering, paging. Masking
// happens before predicates and ordering run, so a masked value can never
// influence which rows match or where they sort.
package engine

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/knesgoda/outpaged-opql/pkg/history"
	"github.com/knesgoda/outpaged-opql/pkg/opql"
	"github.com/knesgoda/outpaged-opql/pkg/value"
)

// Page overrides a statement's LIMIT/OFFSET. Limit <= 0 means no limit.
type Page struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// Request is one execution. Statement wins over Query when both are set.
type Request struct {
	WorkspaceID string          `json:"workspaceId"`
	Principal   Principal       `json:"principal"`
	Query       string          `json:"query,omitempty"`
	Statement   *opql.Statement `json:"-"`
	// Types restricts candidate rows by EntityType on top of the entity.
	Types   []string `json:"types,omitempty"`
	Explain bool     `json:"explain,omitempty"`
	Page    *Page    `json:"page,omitempty"`
}

// HistoryScan is the history evidence gathered for one returned row.
type HistoryScan struct {
	EntityID string          `json:"entityId"`
	Matches  []history.Match `json:"matches"`
}

// Group is one AGGREGATE bucket.
type Group struct {
	Key   map[string]any `json:"key"`
	Count int            `json:"count"`
}

// Assignment is a validated UPDATE ... SET pair. Applying it is the
// backend's job.
type Assignment struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// Plan describes how a statement runs; returned for EXPLAIN.
type Plan struct {
	Statement     string   `json:"statement"`
	Kind          string   `json:"kind"`
	Entity        string   `json:"entity"`
	Types         []string `json:"types,omitempty"`
	Joins         []string `json:"joins,omitempty"`
	Predicates    []string `json:"predicates,omitempty"`
	HistoryFields []string `json:"historyFields,omitempty"`
	OrderBy       []string `json:"orderBy"`
	Offset        int      `json:"offset"`
	Limit         int      `json:"limit,omitempty"`
}

// Result is the outcome of Execute. Total counts matches (or groups)
// before paging.
type Result struct {
	Kind         string        `json:"kind"`
	Total        int           `json:"total"`
	Rows         []Row         `json:"rows,omitempty"`
	HasMore      bool          `json:"hasMore,omitempty"`
	Groups       []Group       `json:"groups,omitempty"`
	Assignments  []Assignment  `json:"assignments,omitempty"`
	HistoryScans []HistoryScan `json:"historyScans,omitempty"`
	Plan         *Plan         `json:"plan,omitempty"`
}

// IDs returns the entity ids of the result rows in order.
func (r *Result) IDs() []string {
	ids := make([]string, len(r.Rows))
	for i, row := range r.Rows {
		ids[i] = row.EntityID
	}
	return ids
}

// Engine runs statements. It holds no per-query state and is safe for
// concurrent use.
type Engine struct {
	schema       *Schema
	logger       *zap.Logger
	now          func() time.Time
	defaultLimit int
}

type Option func(*Engine)

// WithSchema replaces the default field registry.
func WithSchema(s *Schema) Option {
	return func(e *Engine) { e.schema = s }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock sets the instant that closes open history segments.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithDefaultLimit caps pages when neither the statement nor the request
// sets a limit.
func WithDefaultLimit(n int) Option {
	return func(e *Engine) { e.defaultLimit = n }
}

func New(opts ...Option) *Engine {
	e := &Engine{
		schema: DefaultSchema(),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Schema returns the field registry.
func (e *Engine) Schema() *Schema { return e.schema }

// Validate parses and checks a statement against the schema without
// touching rows.
func (e *Engine) Validate(query string) (*opql.Statement, error) {
	stmt, err := opql.Parse(query)
	if err != nil {
		return nil, err
	}
	if _, err := compile(e.schema, stmt); err != nil {
		return nil, err
	}
	return stmt, nil
}

// Execute runs req against rows. Rows outside the request workspace and
// rows the principal may not see are dropped silently. Only parse and
// validation failures are errors.
func (e *Engine) Execute(req Request, rows []Row) (*Result, error) {
	start := time.Now()

	stmt := req.Statement
	if stmt == nil {
		var err error
		if stmt, err = opql.Parse(req.Query); err != nil {
			return nil, err
		}
	}
	c, err := compile(e.schema, stmt)
	if err != nil {
		return nil, err
	}

	kind := stmt.Effective()
	explain := req.Explain || stmt.Kind == opql.StatementExplain
	res := &Result{Kind: kind.String()}
	if explain {
		res.Plan = e.plan(c, req)
	}

	workspace := req.WorkspaceID
	if workspace == "" {
		workspace = req.Principal.WorkspaceID
	}
	if workspace == "" || (req.Principal.WorkspaceID != "" && req.Principal.WorkspaceID != workspace) {
		return res, nil
	}

	visible := make([]Row, 0, len(rows))
	for _, r := range rows {
		if r.WorkspaceID != workspace || !req.Principal.Visible(r) {
			continue
		}
		visible = append(visible, req.Principal.Project(r))
	}

	candidates := make([]Row, 0, len(visible))
	for _, r := range visible {
		if c.entity.Covers(r.EntityType) && typeAllowed(req.Types, r.EntityType) {
			candidates = append(candidates, r)
		}
	}
	ev := &evaluator{c: c, now: e.now()}
	if len(c.joins) > 0 {
		candidates = c.join(candidates, visible, ev)
	}

	matched := make([]Row, 0, len(candidates))
	for _, r := range candidates {
		if ev.eval(stmt.Where, r) {
			matched = append(matched, r)
		}
	}

	offset, limit := e.window(stmt, req.Page)

	switch kind {
	case opql.StatementCount:
		res.Total = len(matched)
	case opql.StatementAggregate:
		groups := c.aggregate(matched, ev)
		res.Total = len(groups)
		res.Groups, res.HasMore = page(groups, offset, limit)
	default:
		sortRows(matched, c.orderBy)
		res.Total = len(matched)
		res.Rows, res.HasMore = page(matched, offset, limit)
		if kind == opql.StatementUpdate {
			for _, a := range stmt.Set {
				res.Assignments = append(res.Assignments, Assignment{Field: c.fields[a.Field], Value: a.Value.Interface()})
			}
		}
		if explain {
			res.HistoryScans = c.scan(res.Rows, e.now())
		}
	}

	e.logger.Debug("opql executed",
		zap.String("kind", res.Kind),
		zap.String("entity", c.entity.Name),
		zap.Int("candidates", len(candidates)),
		zap.Int("total", res.Total),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func (e *Engine) window(stmt *opql.Statement, p *Page) (offset, limit int) {
	if p != nil {
		return max(p.Offset, 0), p.Limit
	}
	if stmt.Offset != nil {
		offset = *stmt.Offset
	}
	limit = e.defaultLimit
	if stmt.Limit != nil {
		limit = *stmt.Limit
		if limit == 0 {
			return offset, -1
		}
	}
	return offset, limit
}

// page slices items; limit 0 means unlimited and a negative limit yields
// an empty page (LIMIT 0).
func page[T any](items []T, offset, limit int) ([]T, bool) {
	if limit < 0 || offset >= len(items) {
		return nil, false
	}
	end := len(items)
	if limit > 0 && limit < end-offset {
		end = offset + limit
	}
	return items[offset:end], end < len(items)
}

func typeAllowed(types []string, t string) bool {
	if len(types) == 0 {
		return true
	}
	for _, allowed := range types {
		if allowed == t {
			return true
		}
	}
	return false
}

// scan re-evaluates history predicates on the returned rows to collect
// their evidence. Matching already happened, so this cannot change rows.
func (c *compiled) scan(rows []Row, now time.Time) []HistoryScan {
	if len(c.history) == 0 {
		return nil
	}
	var scans []HistoryScan
	for _, r := range rows {
		var matches []history.Match
		ev := &evaluator{c: c, now: now, scans: &matches}
		opql.Walk(c.stmt.Where, func(p opql.Predicate) bool {
			if h, ok := p.(*opql.HistoryPredicate); ok {
				ev.history(h, r)
			}
			return true
		})
		scans = append(scans, HistoryScan{EntityID: r.EntityID, Matches: matches})
	}
	return scans
}

// sortRows orders rows stably. Absent values sort last in either
// direction; remaining ties break on EntityID. Without ORDER BY rows sort
// by Score descending.
func sortRows(rows []Row, orderBy []ordering) {
	keys := orderBy
	if len(keys) == 0 {
		keys = []ordering{{field: ScoreField, desc: true}}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			a, _ := lookup(rows[i], k.field)
			b, _ := lookup(rows[j], k.field)
			if c := compareKeys(a, b, k.desc); c != 0 {
				return c < 0
			}
		}
		return rows[i].EntityID < rows[j].EntityID
	})
}

func compareKeys(a, b any, desc bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	c, ok := value.Compare(a, b)
	if !ok {
		return 0
	}
	if desc {
		return -c
	}
	return c
}
