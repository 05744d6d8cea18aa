// Package search exposes the call sites the UI panels use. Global search
// and the board, report and dashboard previews share one execution path,
// so for the same query, types and principal they return identically
// ordered rows.
package search

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/knesgoda/outpaged-opql/pkg/engine"
	"github.com/knesgoda/outpaged-opql/pkg/opql/syntax"
)

// Source supplies candidate rows for a workspace. Implementations may
// return rows of other workspaces or types; the engine filters them.
type Source interface {
	Rows(ctx context.Context, workspaceID string, types []string) ([]engine.Row, error)
}

// MemorySource is an in-process Source.
type MemorySource struct {
	mu   sync.RWMutex
	rows []engine.Row
}

func NewMemorySource(rows ...engine.Row) *MemorySource {
	return &MemorySource{rows: rows}
}

// Add appends rows, replacing existing rows with the same workspace and id.
func (m *MemorySource) Add(rows ...engine.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		replaced := false
		for i := range m.rows {
			if m.rows[i].EntityID == r.EntityID && m.rows[i].WorkspaceID == r.WorkspaceID {
				m.rows[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			m.rows = append(m.rows, r)
		}
	}
}

func (m *MemorySource) Rows(_ context.Context, workspaceID string, _ []string) ([]engine.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.Row, 0, len(m.rows))
	for _, r := range m.rows {
		if r.WorkspaceID == workspaceID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Surface names a call site, for logging.
type Surface string

const (
	SurfaceSearch    Surface = "search"
	SurfaceBoard     Surface = "board"
	SurfaceReport    Surface = "report"
	SurfaceDashboard Surface = "dashboard"
)

// PreviewOptions restrict a preview.
type PreviewOptions struct {
	Types []string `json:"types,omitempty"`
	Limit int      `json:"limit,omitempty"`
}

type Service struct {
	engine *engine.Engine
	source Source
	logger *zap.Logger
}

func NewService(e *engine.Engine, src Source, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{engine: e, source: src, logger: logger}
}

// Search runs query for the global search panel. Free text that does not
// open with a statement keyword is searched across items.
func (s *Service) Search(ctx context.Context, query string, types []string, principal engine.Principal, page *engine.Page) (*engine.Result, error) {
	return s.run(ctx, SurfaceSearch, query, types, principal, page)
}

func (s *Service) PreviewBoardQuery(ctx context.Context, query string, opts PreviewOptions, principal engine.Principal) (*engine.Result, error) {
	return s.run(ctx, SurfaceBoard, query, opts.Types, principal, previewPage(opts))
}

func (s *Service) PreviewReportQuery(ctx context.Context, query string, opts PreviewOptions, principal engine.Principal) (*engine.Result, error) {
	return s.run(ctx, SurfaceReport, query, opts.Types, principal, previewPage(opts))
}

func (s *Service) PreviewDashboardQuery(ctx context.Context, query string, opts PreviewOptions, principal engine.Principal) (*engine.Result, error) {
	return s.run(ctx, SurfaceDashboard, query, opts.Types, principal, previewPage(opts))
}

func previewPage(opts PreviewOptions) *engine.Page {
	if opts.Limit <= 0 {
		return nil
	}
	return &engine.Page{Limit: opts.Limit}
}

func (s *Service) run(ctx context.Context, surface Surface, query string, types []string, principal engine.Principal, page *engine.Page) (*engine.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.source.Rows(ctx, principal.WorkspaceID, types)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate rows: %w", err)
	}

	res, err := s.engine.Execute(engine.Request{
		WorkspaceID: principal.WorkspaceID,
		Principal:   principal,
		Query:       Normalize(query),
		Types:       types,
		Page:        page,
	}, rows)
	if err != nil {
		s.logger.Debug("query rejected", zap.String("surface", string(surface)), zap.Error(err))
		return nil, err
	}
	s.logger.Debug("query served",
		zap.String("surface", string(surface)),
		zap.Int("total", res.Total),
		zap.Int("rows", len(res.Rows)),
	)
	return res, nil
}

// Normalize returns query unchanged when it is OPQL, and otherwise turns
// free text into a MATCH over every searchable field of items.
func Normalize(query string) string {
	trimmed := strings.TrimSpace(query)
	tokens := syntax.Scan(trimmed)
	if len(tokens) > 0 {
		head := tokens[0].Keyword()
		for _, kw := range syntax.StatementKeywords {
			if head == kw {
				return trimmed
			}
		}
	}
	if trimmed == "" {
		return "FIND items"
	}
	q := syntax.Quote(trimmed)
	parts := make([]string, len(freeTextFields))
	for i, f := range freeTextFields {
		parts[i] = f + " MATCH " + q
	}
	return "FIND items WHERE " + strings.Join(parts, " OR ")
}

// freeTextFields are the searchable fields of the items entity.
var freeTextFields = func() []string {
	items, err := engine.DefaultSchema().Entity("items")
	if err != nil {
		panic(err)
	}
	return items.SearchableFields()
}()
