package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/knesgoda/outpaged-opql/internal/store"
	"github.com/knesgoda/outpaged-opql/pkg/engine"
	"github.com/knesgoda/outpaged-opql/pkg/offline"
	"github.com/knesgoda/outpaged-opql/pkg/opql/cursor"
	"github.com/knesgoda/outpaged-opql/pkg/search"
)

var (
	completeOffset int

	queryLimit  int
	queryCursor string
	queryTypes  []string
	queryOnline bool

	relatedLimit int
)

var parseCmd = &cobra.Command{
	Use:   "parse <query>",
	Short: "Validate a statement and print its canonical form",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stmt, err := engine.New().Validate(search.Normalize(strings.Join(args, " ")))
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"statement": stmt.String(),
			"kind":      stmt.Effective().String(),
			"entity":    stmt.Entity,
		})
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete <query>",
	Short: "Describe the caret position and list completions",
	Long:  `Completions use the schema plus the enum values of rows recorded for the workspace.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		offset := completeOffset
		if offset < 0 {
			offset = len(text)
		}

		r, st, err := openReplica()
		if err != nil {
			return err
		}
		defer r.Close()

		p := principal()
		var rows []engine.Row
		if p.WorkspaceID != "" {
			records, err := st.ListRows(p.WorkspaceID, nil)
			if err != nil {
				return err
			}
			for _, rec := range records {
				if p.Visible(rec.Row) {
					rows = append(rows, p.Project(rec.Row))
				}
			}
		}

		ctx := cursor.Analyze(text, offset)
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"context":     ctx,
			"suggestions": cursor.Suggest(ctx, search.Vocabulary(engine.DefaultSchema(), rows)),
		})
	},
}

var planCmd = &cobra.Command{
	Use:   "plan <query>",
	Short: "Show the offline filters and unsupported constructs of a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		plan, err := offline.PlanOfflineQuery(strings.Join(args, " "))
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), plan)
	},
}

var recordCmd = &cobra.Command{
	Use:   "record <snapshot.json>...",
	Short: "Merge recorded search responses into the replica",
	Long: `Each file holds one snapshot object or an array of them:
  {"workspaceId": "ws1", "query": "FIND tasks", "rows": [...]}`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var snaps []offline.Snapshot
		for _, path := range args {
			batch, err := readSnapshots(path)
			if err != nil {
				return err
			}
			snaps = append(snaps, batch...)
		}

		r, _, err := openReplica()
		if err != nil {
			return err
		}
		defer r.Close()

		if err := r.Refresh(cmd.Context(), snaps...); err != nil {
			return err
		}
		if err := r.Save(); err != nil {
			return err
		}
		logger.Info("snapshots recorded", zap.Int("count", len(snaps)))
		return printJSON(cmd.OutOrStdout(), map[string]any{"recorded": len(snaps)})
	},
}

func readSnapshots(path string) ([]offline.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var snaps []offline.Snapshot
		if err := json.Unmarshal(data, &snaps); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		return snaps, nil
	}
	var snap offline.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return []offline.Snapshot{snap}, nil
}

var queryCmd = &cobra.Command{
	Use:   "query <query>",
	Short: "Run a query against the replica",
	Long: `By default the query runs through the offline path, which reports the
constructs it only approximates. --online runs the search service over
the same rows instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		r, st, err := openReplica()
		if err != nil {
			return err
		}
		defer r.Close()

		if queryOnline {
			svc := search.NewService(engine.New(engine.WithLogger(logger)), store.NewSource(st), logger)
			var page *engine.Page
			if queryLimit > 0 {
				page = &engine.Page{Limit: queryLimit}
			}
			res, err := svc.Search(cmd.Context(), text, queryTypes, principal(), page)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		}

		resp, err := r.ExecuteOfflineQuery(cmd.Context(), offline.Request{
			Query:     text,
			Principal: principal(),
			Types:     queryTypes,
			Limit:     queryLimit,
			Cursor:    queryCursor,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp)
	},
}

var relatedCmd = &cobra.Command{
	Use:   "related <entity-id>",
	Short: "List recorded rows with the closest embeddings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, _, err := openReplica()
		if err != nil {
			return err
		}
		defer r.Close()

		items, err := r.Related(cmd.Context(), offline.RelatedRequest{
			EntityID:  args[0],
			Principal: principal(),
			Limit:     relatedLimit,
		})
		if err != nil {
			return err
		}
		if items == nil {
			items = []offline.RelatedItem{}
		}
		return printJSON(cmd.OutOrStdout(), items)
	},
}

func init() {
	completeCmd.Flags().IntVar(&completeOffset, "offset", -1, "Caret byte offset (default: end of query)")

	queryCmd.Flags().IntVarP(&queryLimit, "limit", "n", 0, "Page size")
	queryCmd.Flags().StringVar(&queryCursor, "cursor", "", "Cursor from a previous page")
	queryCmd.Flags().StringSliceVar(&queryTypes, "type", nil, "Restrict to entity types")
	queryCmd.Flags().BoolVar(&queryOnline, "online", false, "Run through the search service instead of the offline path")

	relatedCmd.Flags().IntVarP(&relatedLimit, "limit", "n", 10, "Number of neighbours")
}
