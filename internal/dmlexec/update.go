package dmlexec

import (
	"context"

	"pgkv/internal/catalog"
	"pgkv/internal/eval"
)

// UpdateSpec is the parsed form of an UPDATE statement. MatchedPKs names
// the primary keys of rows already selected by the caller's WHERE-clause
// scan (spec §4.6 picks the scan kind; this package only applies the
// mutation and enforces row-level invariants).
type UpdateSpec struct {
	Table      string
	MatchedPKs [][]byte // row-key PK suffixes already matched by WHERE
	Set        map[int]eval.Expr
	CheckExprs []eval.Expr
	Returning  []int
}

type UpdateResult struct {
	RowsAffected int
	Returned     []catalog.Row
}

// Update locks each matched row, evaluates SET expressions against the old
// row (so `SET x = x + 1` reads the pre-update value), re-validates NOT
// NULL/CHECK, and maintains any index whose columns changed (spec §4.8).
func (e *Executor) Update(ctx context.Context, spec UpdateSpec) (UpdateResult, error) {
	schema, err := e.Store.GetTable(ctx, spec.Table)
	if err != nil {
		return UpdateResult{}, err
	}

	result := UpdateResult{}
	for _, pk := range spec.MatchedPKs {
		rowKey := e.NS.RowKey(schema.TableID, pk)
		if err := e.Txn.Lock(ctx, [][]byte{rowKey}); err != nil {
			return UpdateResult{}, err
		}
		raw, ok, err := e.Txn.Get(ctx, rowKey)
		if err != nil {
			return UpdateResult{}, err
		}
		if !ok {
			continue // concurrently deleted since the scan; skip rather than fail
		}
		existing, err := catalog.DecodeRow(raw, schema, nil)
		if err != nil {
			return UpdateResult{}, err
		}
		updated, err := applySet(ctx, schema, existing, nil, spec.Set)
		if err != nil {
			return UpdateResult{}, err
		}
		if err := checkNotNull(schema, updated); err != nil {
			return UpdateResult{}, err
		}
		if err := evalChecks(ctx, schema, updated, spec.CheckExprs); err != nil {
			return UpdateResult{}, err
		}

		newPK, err := pkBytes(schema, updated)
		if err != nil {
			return UpdateResult{}, err
		}
		if string(newPK) != string(pk) {
			// Primary key itself changed: this is a delete-then-insert at the
			// storage level so the row moves to its new key slot.
			if err := e.deleteIndexEntries(ctx, schema, existing, rowKey); err != nil {
				return UpdateResult{}, err
			}
			if err := e.Txn.Delete(ctx, rowKey); err != nil {
				return UpdateResult{}, err
			}
			newKey := e.NS.RowKey(schema.TableID, newPK)
			if err := e.checkUniqueIndexes(ctx, schema, updated); err != nil {
				return UpdateResult{}, err
			}
			if err := e.writeRow(ctx, schema, nil, updated, newKey); err != nil {
				return UpdateResult{}, err
			}
		} else {
			if err := e.checkUniqueIndexes(ctx, schema, updated, pk); err != nil {
				return UpdateResult{}, err
			}
			if err := e.writeRow(ctx, schema, existing, updated, rowKey); err != nil {
				return UpdateResult{}, err
			}
		}

		result.RowsAffected++
		if len(spec.Returning) > 0 {
			result.Returned = append(result.Returned, projectRow(updated, spec.Returning))
		}
	}
	return result, nil
}
