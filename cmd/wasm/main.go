//go:build js && wasm

package main

import (
	"context"
	"encoding/json"
	"errors"
	"syscall/js"

	"github.com/hack-pad/hackpadfs"
	"github.com/hack-pad/hackpadfs/indexeddb"
	"github.com/hack-pad/hackpadfs/mem"

	"github.com/knesgoda/outpaged-opql/pkg/engine"
	"github.com/knesgoda/outpaged-opql/pkg/offline"
	"github.com/knesgoda/outpaged-opql/pkg/opql"
	"github.com/knesgoda/outpaged-opql/pkg/opql/cursor"
	"github.com/knesgoda/outpaged-opql/pkg/search"
)

// Version info
const Version = "0.3.0"

// Global state
var (
	validator = engine.New()
	replica   *offline.Replica
)

func main() {
	println("[OPQL] WASM Ready v" + Version)

	// Register exports
	js.Global().Set("OPQL", js.ValueOf(map[string]interface{}{
		"version":             js.FuncOf(getVersion),
		"initialize":          js.FuncOf(initialize),
		"analyze":             js.FuncOf(analyze),
		"suggest":             js.FuncOf(suggest),
		"parse":               js.FuncOf(parse),
		"planOfflineQuery":    js.FuncOf(planOfflineQuery),
		"recordOpqlResponse":  js.FuncOf(recordOpqlResponse),
		"executeOfflineQuery": js.FuncOf(executeOfflineQuery),
		"related":             js.FuncOf(related),
		"saveIndex":           js.FuncOf(saveIndex),
	}))

	select {}
}

func getVersion(this js.Value, args []js.Value) interface{} {
	return Version
}

// initialize opens the IndexedDB-backed replica.
// Args: [dbName string] (defaults to "opql"; "memory" keeps it in memory)
func initialize(this js.Value, args []js.Value) interface{} {
	name := "opql"
	if len(args) > 0 && args[0].String() != "" {
		name = args[0].String()
	}

	var (
		fs  hackpadfs.FS
		err error
	)
	if name == "memory" {
		fs, err = mem.NewFS()
	} else {
		fs, err = indexeddb.NewFS(context.Background(), name, indexeddb.Options{})
	}
	if err != nil {
		return errorResult("failed to create fs: " + err.Error())
	}

	if replica != nil {
		replica.Close()
	}
	replica, err = offline.Open(fs, ".")
	if err != nil {
		replica = nil
		return errorResult("failed to open replica: " + err.Error())
	}

	println("[OPQL] Replica opened:", name)
	return successResult("initialized")
}

// analyze describes the caret position.
// Args: [text string, offset int]
func analyze(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return errorResult("requires 2 args: text (string), offset (int)")
	}
	return jsonResult(cursor.Analyze(args[0].String(), args[1].Int()))
}

// suggest lists completions at the caret. Enum values come from recorded
// rows the principal can see.
// Args: [text string, offset int, principalJSON string?]
func suggest(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return errorResult("requires 2+ args: text (string), offset (int), [principalJSON]")
	}

	var p engine.Principal
	if len(args) > 2 && args[2].String() != "" {
		if err := json.Unmarshal([]byte(args[2].String()), &p); err != nil {
			return errorResult("principal json: " + err.Error())
		}
	}

	var rows []engine.Row
	if replica != nil && p.WorkspaceID != "" {
		resp, err := replica.ExecuteOfflineQuery(context.Background(), offline.Request{
			Query:     "FIND items",
			Principal: p,
			Limit:     1000,
		})
		if err == nil {
			rows = resp.Items
		}
	}

	ctx := cursor.Analyze(args[0].String(), args[1].Int())
	return jsonResult(cursor.Suggest(ctx, search.Vocabulary(validator.Schema(), rows)))
}

// parse validates a query and returns its canonical form, or the error
// with its position.
// Args: [query string]
func parse(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("requires 1 arg: query (string)")
	}
	stmt, err := validator.Validate(search.Normalize(args[0].String()))
	if err != nil {
		var syn *opql.SyntaxError
		var val *opql.ValidationError
		switch {
		case errors.As(err, &syn):
			return jsonResult(map[string]interface{}{"error": syn.Error(), "syntax": syn})
		case errors.As(err, &val):
			return jsonResult(map[string]interface{}{"error": val.Error(), "validation": val})
		}
		return errorResult(err.Error())
	}
	return jsonResult(map[string]interface{}{
		"statement": stmt.String(),
		"kind":      stmt.Effective().String(),
		"entity":    stmt.Entity,
	})
}

// planOfflineQuery: [query string]
func planOfflineQuery(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("requires 1 arg: query (string)")
	}
	plan, err := offline.PlanOfflineQuery(args[0].String())
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(plan)
}

// recordOpqlResponse: [snapshotJSON string]
func recordOpqlResponse(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("requires 1 arg: snapshotJSON (string)")
	}
	if replica == nil {
		return errorResult("replica not initialized")
	}

	var snap offline.Snapshot
	if err := json.Unmarshal([]byte(args[0].String()), &snap); err != nil {
		return errorResult("snapshot json: " + err.Error())
	}
	if err := replica.RecordOpqlResponse(context.Background(), snap); err != nil {
		return errorResult(err.Error())
	}
	return successResult("recorded")
}

// executeOfflineQuery: [requestJSON string]
func executeOfflineQuery(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("requires 1 arg: requestJSON (string)")
	}
	if replica == nil {
		return errorResult("replica not initialized")
	}

	var req offline.Request
	if err := json.Unmarshal([]byte(args[0].String()), &req); err != nil {
		return errorResult("request json: " + err.Error())
	}
	resp, err := replica.ExecuteOfflineQuery(context.Background(), req)
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(resp)
}

// related: [requestJSON string]
// Returns: JSON array of {row, similarity}
func related(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("requires 1 arg: requestJSON (string)")
	}
	if replica == nil {
		return errorResult("replica not initialized")
	}

	var req offline.RelatedRequest
	if err := json.Unmarshal([]byte(args[0].String()), &req); err != nil {
		return errorResult("request json: " + err.Error())
	}
	items, err := replica.Related(context.Background(), req)
	if err != nil {
		return errorResult(err.Error())
	}
	if items == nil {
		items = []offline.RelatedItem{}
	}
	return jsonResult(items)
}

// saveIndex persists the replica to IndexedDB.
func saveIndex(this js.Value, args []js.Value) interface{} {
	if replica == nil {
		return errorResult("replica not initialized")
	}
	if err := replica.Save(); err != nil {
		return errorResult("save failed: " + err.Error())
	}
	return successResult("saved")
}

// Helper: Marshal a result value
func jsonResult(v interface{}) interface{} {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return errorResult("marshal: " + err.Error())
	}
	return string(jsonBytes)
}

// Helper: Create error result
func errorResult(msg string) interface{} {
	result := map[string]interface{}{
		"error": msg,
	}
	jsonBytes, _ := json.Marshal(result)
	return string(jsonBytes)
}

// Helper: Create success result
func successResult(msg string) interface{} {
	result := map[string]interface{}{
		"success": msg,
	}
	jsonBytes, _ := json.Marshal(result)
	return string(jsonBytes)
}
