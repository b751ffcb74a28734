package tool

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// ItemFunc executes one bulk item inside the transaction the executor chose
// for it. A failed Result makes the executor roll that transaction back.
type ItemFunc func(ctx context.Context, tx *sql.Tx, item Args, ec ExecutionContext) Result

// BulkConfig configures a bulk wrapper around a single-item operation.
type BulkConfig struct {
	Name          string
	Description   string
	ItemSchema    json.RawMessage
	Metadata      Metadata
	AtomicDefault bool
	// ConfirmAbove, when positive, requires confirm=true for batches larger
	// than the threshold.
	ConfirmAbove int
}

// BulkTool processes an array of items through a single-item operation, either
// atomically (one transaction, all-or-nothing) or best-effort (one transaction
// per item, mixed outcomes collected).
type BulkTool struct {
	cfg  BulkConfig
	db   *sql.DB
	item ItemFunc
}

func NewBulk(db *sql.DB, cfg BulkConfig, item ItemFunc) *BulkTool {
	return &BulkTool{cfg: cfg, db: db, item: item}
}

func (b *BulkTool) Name() string        { return b.cfg.Name }
func (b *BulkTool) Description() string { return b.cfg.Description }
func (b *BulkTool) Metadata() Metadata  { return b.cfg.Metadata }

func (b *BulkTool) InputSchema() json.RawMessage {
	itemSchema := b.cfg.ItemSchema
	if len(itemSchema) == 0 {
		itemSchema = json.RawMessage(`{"type":"object"}`)
	}
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"items":    map[string]any{"type": "array", "items": json.RawMessage(itemSchema), "description": "items to process"},
			"defaults": map[string]any{"type": "object", "description": "values applied to every item before per-item overrides"},
			"atomic":   map[string]any{"type": "boolean", "description": fmt.Sprintf("all-or-nothing processing (default %v)", b.cfg.AtomicDefault)},
			"confirm":  map[string]any{"type": "boolean"},
		},
		"required": []string{"items"},
	}
	raw, _ := json.Marshal(schema)
	return raw
}

type itemOutcome struct {
	Index int            `json:"index"`
	Ok    bool           `json:"ok"`
	Data  map[string]any `json:"data,omitempty"`
	Error map[string]any `json:"error,omitempty"`
}

func (b *BulkTool) Execute(ctx context.Context, args Args, ec ExecutionContext) Result {
	items, ok := args.Objects("items")
	if !ok {
		return Fail(CodeValidation, "items must be an array of objects")
	}
	if len(items) == 0 {
		return Fail(CodeValidation, "items must not be empty")
	}
	if b.cfg.ConfirmAbove > 0 && len(items) > b.cfg.ConfirmAbove && !args.Bool("confirm", false) {
		return FailWith(CodeConfirmationRequired,
			map[string]any{"requested": len(items), "threshold": b.cfg.ConfirmAbove},
			"%d items exceed the confirmation threshold of %d; repeat the call with confirm=true", len(items), b.cfg.ConfirmAbove)
	}
	defaults := args.Object("defaults")
	atomic := args.Bool("atomic", b.cfg.AtomicDefault)

	merged := make([]Args, len(items))
	for i, item := range items {
		if item == nil {
			// Non-object entry; left nil so the executor fails that index.
			continue
		}
		if defaults != nil {
			merged[i] = defaults.Merge(item)
		} else {
			merged[i] = item.Clone()
		}
	}

	if atomic {
		return b.executeAtomic(ctx, merged, ec)
	}
	return b.executeBestEffort(ctx, merged, ec)
}

// executeAtomic runs every item in one transaction. The first failure returns
// early; the deferred rollback discards all prior effects.
func (b *BulkTool) executeAtomic(ctx context.Context, items []Args, ec ExecutionContext) Result {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return Fail(CodeExecution, "begin transaction: %v", err)
	}
	defer tx.Rollback()

	outcomes := make([]itemOutcome, 0, len(items))
	for i, item := range items {
		if item == nil {
			return FailWith(CodeBulkValidation,
				map[string]any{"index": i},
				"item %d is not an object; no items were applied", i)
		}
		res := b.item(ctx, tx, item, ec)
		if !res.Ok {
			return FailWith(CodeBulkValidation,
				map[string]any{"index": i, "code": string(res.Code)},
				"item %d failed: %s; no items were applied", i, res.Message)
		}
		outcomes = append(outcomes, itemOutcome{Index: i, Ok: true, Data: res.Data})
	}
	if err := tx.Commit(); err != nil {
		return Fail(CodeExecution, "commit: %v", err)
	}
	return Okay(map[string]any{
		"results": outcomes,
		"summary": map[string]any{"requested": len(items), "ok": len(items), "failed": 0},
	})
}

// executeBestEffort gives every item its own transaction and never aborts.
func (b *BulkTool) executeBestEffort(ctx context.Context, items []Args, ec ExecutionContext) Result {
	outcomes := make([]itemOutcome, 0, len(items))
	okCount := 0
	for i, item := range items {
		res := b.runOne(ctx, i, item, ec)
		if res.Ok {
			okCount++
		}
		outcomes = append(outcomes, res)
	}
	return Okay(map[string]any{
		"results": outcomes,
		"summary": map[string]any{"requested": len(items), "ok": okCount, "failed": len(items) - okCount},
	})
}

func (b *BulkTool) runOne(ctx context.Context, index int, item Args, ec ExecutionContext) itemOutcome {
	if item == nil {
		return itemOutcome{Index: index, Error: map[string]any{
			"code": string(CodeValidation), "message": "item is not an object",
		}}
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return itemOutcome{Index: index, Error: map[string]any{
			"code": string(CodeExecution), "message": err.Error(),
		}}
	}
	defer tx.Rollback()

	res := b.item(ctx, tx, item, ec)
	if !res.Ok {
		return itemOutcome{Index: index, Error: map[string]any{
			"code": string(res.Code), "message": res.Message,
		}}
	}
	if err := tx.Commit(); err != nil {
		return itemOutcome{Index: index, Error: map[string]any{
			"code": string(CodeExecution), "message": err.Error(),
		}}
	}
	return itemOutcome{Index: index, Ok: true, Data: res.Data}
}
