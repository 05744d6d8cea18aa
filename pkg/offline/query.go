package offline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/knesgoda/outpaged-opql/internal/store"
	"github.com/knesgoda/outpaged-opql/pkg/engine"
	"github.com/knesgoda/outpaged-opql/pkg/opql"
	"github.com/knesgoda/outpaged-opql/pkg/resorank"
	"github.com/knesgoda/outpaged-opql/pkg/value"
)

// ErrBadCursor is returned for a cursor not produced by this package.
var ErrBadCursor = errors.New("invalid cursor")

const cursorPrefix = "offset:"

// FormatCursor encodes a resume offset.
func FormatCursor(offset int) string {
	return cursorPrefix + strconv.Itoa(offset)
}

// ParseCursor decodes a cursor. The empty cursor is the first page.
func ParseCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, ok := strings.CutPrefix(cursor, cursorPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrBadCursor, cursor)
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadCursor, cursor)
	}
	return n, nil
}

// Request is one offline query.
type Request struct {
	Query       string           `json:"query"`
	WorkspaceID string           `json:"workspaceId,omitempty"`
	Principal   engine.Principal `json:"principal"`
	Types       []string         `json:"types,omitempty"`
	Limit       int              `json:"limit,omitempty"`
	Cursor      string           `json:"cursor,omitempty"`
}

// Response is one page of offline results. An empty NextCursor means there
// is nothing after this page.
type Response struct {
	Kind        string         `json:"kind"`
	Supported   bool           `json:"supported"`
	Unsupported []string       `json:"unsupported"`
	Total       int            `json:"total"`
	Items       []engine.Row   `json:"items"`
	Groups      []engine.Group `json:"groups,omitempty"`
	NextCursor  string         `json:"nextCursor,omitempty"`

	// HistoryScans carries EXPLAIN evidence for the returned rows.
	HistoryScans []engine.HistoryScan `json:"historyScans,omitempty"`
}

// ExecuteOfflineQuery runs req against the recorded rows through the same
// engine as the online path. Rows are ranked by the stored order of the
// same query when one was recorded, else by BM25F over the entity's
// searchable fields as the principal sees them.
func (r *Replica) ExecuteOfflineQuery(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	offset, err := ParseCursor(req.Cursor)
	if err != nil {
		return nil, err
	}
	plan, err := PlanOfflineQuery(req.Query)
	if err != nil {
		return nil, err
	}
	stmt := plan.Statement

	workspace := req.WorkspaceID
	if workspace == "" {
		workspace = req.Principal.WorkspaceID
	}

	var rows []engine.Row
	if workspace != "" {
		if rows, err = r.candidates(workspace, plan); err != nil {
			return nil, err
		}
		if err := r.rank(workspace, stmt, req.Principal, rows); err != nil {
			return nil, err
		}
	}

	if req.Cursor == "" && stmt.Offset != nil {
		offset = *stmt.Offset
	}
	page := r.window(req, stmt, offset)

	res, err := r.engine.Execute(engine.Request{
		WorkspaceID: workspace,
		Principal:   req.Principal,
		Statement:   stmt,
		Types:       req.Types,
		Page:        page,
	}, rows)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Kind:        res.Kind,
		Supported:   plan.Supported,
		Unsupported: plan.Unsupported,
		Total:       res.Total,
		Items:       res.Rows,
		Groups:      res.Groups,

		HistoryScans: res.HistoryScans,
	}
	if resp.Items == nil {
		resp.Items = []engine.Row{}
	}
	if res.HasMore {
		resp.NextCursor = FormatCursor(offset + len(res.Rows) + len(res.Groups))
	}

	r.logger.Debug("offline query executed",
		zap.String("workspace", workspace),
		zap.String("kind", resp.Kind),
		zap.Int("candidates", len(rows)),
		zap.Int("total", resp.Total),
		zap.Bool("supported", resp.Supported),
	)
	return resp, nil
}

// window picks the page. The request limit wins, then the statement's
// LIMIT, then the replica default. A bare LIMIT 0 is left to the engine.
func (r *Replica) window(req Request, stmt *opql.Statement, offset int) *engine.Page {
	limit := req.Limit
	if limit <= 0 && stmt.Limit != nil {
		if *stmt.Limit == 0 && req.Cursor == "" {
			return nil
		}
		limit = *stmt.Limit
	}
	if limit <= 0 {
		limit = r.limit
	}
	return &engine.Page{Offset: offset, Limit: limit}
}

// candidates loads the workspace rows, narrowed by the plan filters when
// the statement has no joins. Join partners may be any row, so joined
// statements see the whole workspace.
func (r *Replica) candidates(workspace string, plan Plan) ([]engine.Row, error) {
	records, err := r.store.ListRows(workspace, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load cached rows: %w", err)
	}

	narrow := len(plan.Statement.Joins) == 0 && !plan.Filters.Empty()
	r.mu.RLock()
	allowed := r.index.candidates(workspace, plan.Filters)
	mapper := r.index.mapper
	rows := make([]engine.Row, 0, len(records))
	for _, rec := range records {
		if narrow {
			// rows the index has never seen are kept
			if ord := mapper.get(rowKey(workspace, rec.EntityID)); ord != 0 && !allowed.Contains(ord) {
				continue
			}
		}
		rows = append(rows, rec.Row)
	}
	r.mu.RUnlock()
	return rows, nil
}

// rank sets Score on rows in place. Only values the principal can read
// feed the text score.
func (r *Replica) rank(workspace string, stmt *opql.Statement, p engine.Principal, rows []engine.Row) error {
	snap, err := r.store.LatestSnapshot(workspace, stmt.String())
	switch {
	case err == nil:
		pos := make(map[string]int, len(snap.EntityIDs))
		for i, id := range snap.EntityIDs {
			if _, seen := pos[id]; !seen {
				pos[id] = i
			}
		}
		for i := range rows {
			rows[i].Score = 0
			if at, ok := pos[rows[i].EntityID]; ok {
				rows[i].Score = float64(len(snap.EntityIDs) - at)
			}
		}
		return nil
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("failed to load stored order: %w", err)
	}

	terms := queryTerms(stmt)
	scores := make(map[string]float64)
	if len(terms) > 0 {
		entity, err := r.engine.Schema().Entity(stmt.Entity)
		if err != nil {
			return err
		}
		searchable := entity.SearchableFields()
		scorer := resorank.NewScorer(r.ranking)
		for _, row := range rows {
			if !p.Visible(row) {
				continue
			}
			seen := p.Project(row)
			fields := make(map[string]string, len(searchable))
			for _, f := range searchable {
				if v, ok := seen.Get(f); ok {
					fields[f] = value.AsString(v)
				}
			}
			scorer.IndexFields(row.EntityID, fields)
		}
		for _, hit := range scorer.Search(terms, 0) {
			scores[hit.DocID] = hit.Score
		}
	}
	for i := range rows {
		rows[i].Score = scores[rows[i].EntityID]
	}
	return nil
}

// queryTerms collects the text the statement searches for.
func queryTerms(stmt *opql.Statement) []string {
	var terms []string
	seen := make(map[string]bool)
	opql.Walk(stmt.Where, func(p opql.Predicate) bool {
		c, ok := p.(*opql.Comparison)
		if !ok {
			return true
		}
		switch c.Op {
		case opql.OpMatch, opql.OpContains, opql.OpLike:
		default:
			return true
		}
		for _, v := range c.Values {
			text := strings.NewReplacer("%", " ", "_", " ").Replace(v.Raw)
			for _, t := range resorank.Tokenize(text) {
				if !seen[t] {
					seen[t] = true
					terms = append(terms, t)
				}
			}
		}
		return true
	})
	return terms
}
