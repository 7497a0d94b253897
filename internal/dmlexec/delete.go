package dmlexec

import (
	"context"

	"pgkv/internal/catalog"
)

// DeleteSpec is the parsed form of a DELETE statement. MatchedPKs names
// the primary keys of rows already selected by the caller's WHERE-clause
// scan, mirroring UpdateSpec.
type DeleteSpec struct {
	Table      string
	MatchedPKs [][]byte
	Returning  []int
}

type DeleteResult struct {
	RowsAffected int
	Returned     []catalog.Row
}

// Delete locks, removes every index entry, then removes the row itself
// (spec §4.8). FK ON DELETE actions on referencing tables are the caller's
// responsibility, applied before the row is actually removed.
func (e *Executor) Delete(ctx context.Context, spec DeleteSpec) (DeleteResult, error) {
	schema, err := e.Store.GetTable(ctx, spec.Table)
	if err != nil {
		return DeleteResult{}, err
	}

	result := DeleteResult{}
	for _, pk := range spec.MatchedPKs {
		rowKey := e.NS.RowKey(schema.TableID, pk)
		if err := e.Txn.Lock(ctx, [][]byte{rowKey}); err != nil {
			return DeleteResult{}, err
		}
		raw, ok, err := e.Txn.Get(ctx, rowKey)
		if err != nil {
			return DeleteResult{}, err
		}
		if !ok {
			continue
		}
		row, err := catalog.DecodeRow(raw, schema, nil)
		if err != nil {
			return DeleteResult{}, err
		}
		if err := e.deleteIndexEntries(ctx, schema, row, rowKey); err != nil {
			return DeleteResult{}, err
		}
		if err := e.Txn.Delete(ctx, rowKey); err != nil {
			return DeleteResult{}, err
		}
		result.RowsAffected++
		if len(spec.Returning) > 0 {
			result.Returned = append(result.Returned, projectRow(row, spec.Returning))
		}
	}
	return result, nil
}
