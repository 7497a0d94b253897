package dmlexec

import (
	"context"

	"pgkv/internal/catalog"
	"pgkv/internal/errs"
	"pgkv/internal/eval"
	"pgkv/internal/keycodec"
	"pgkv/internal/value"
)

// ConflictAction is the ON CONFLICT clause's behavior.
type ConflictAction int

const (
	ConflictError ConflictAction = iota
	ConflictDoNothing
	ConflictDoUpdate
)

// InsertRow is one VALUES tuple, keyed by column index; columns absent
// from the map take their declared default (DefaultExprs) or NULL.
type InsertRow struct {
	Values map[int]value.Value
}

// InsertSpec is the parsed, already type-checked form of an INSERT
// statement. DefaultExprs and SerialCols are resolved once by the caller
// (the statement planner) from the schema's ColumnDef.DefaultExpr/IsSerial
// fields.
type InsertSpec struct {
	Table          string
	Rows           []InsertRow
	DefaultExprs   map[int]eval.Expr // column index -> default expression, for columns with DefaultExpr set
	CheckExprs     []eval.Expr       // compiled schema.CheckExprs, same order
	Conflict       ConflictAction
	ConflictSet    map[int]eval.Expr // DO UPDATE SET column index -> expression (may reference EXCLUDED.*)
	Returning      []int             // column indexes to project into the result, empty means none
}

// InsertResult reports the command tag count and any RETURNING rows.
type InsertResult struct {
	RowsAffected int
	Returned     []catalog.Row
}

// Insert implements spec §4.8's INSERT pipeline: default/SERIAL synthesis,
// NOT NULL/CHECK enforcement, index writes with UniqueViolation, and
// ON CONFLICT DO NOTHING/DO UPDATE SET.
func (e *Executor) Insert(ctx context.Context, spec InsertSpec) (InsertResult, error) {
	schema, err := e.Store.GetTable(ctx, spec.Table)
	if err != nil {
		return InsertResult{}, err
	}

	result := InsertResult{}
	for _, r := range spec.Rows {
		row, err := e.materializeRow(ctx, schema, r, spec.DefaultExprs)
		if err != nil {
			return InsertResult{}, err
		}
		if err := checkNotNull(schema, row); err != nil {
			return InsertResult{}, err
		}
		if err := evalChecks(ctx, schema, row, spec.CheckExprs); err != nil {
			return InsertResult{}, err
		}

		pk, err := pkBytes(schema, row)
		if err != nil {
			return InsertResult{}, err
		}
		rowKey := e.NS.RowKey(schema.TableID, pk)

		_, exists, err := e.Txn.Get(ctx, rowKey)
		if err != nil {
			return InsertResult{}, err
		}
		if exists {
			switch spec.Conflict {
			case ConflictDoNothing:
				continue
			case ConflictDoUpdate:
				existingRaw, _, err := e.Txn.Get(ctx, rowKey)
				if err != nil {
					return InsertResult{}, err
				}
				existing, err := catalog.DecodeRow(existingRaw, schema, nil)
				if err != nil {
					return InsertResult{}, err
				}
				updated, err := applySet(ctx, schema, existing, row, spec.ConflictSet)
				if err != nil {
					return InsertResult{}, err
				}
				if err := checkNotNull(schema, updated); err != nil {
					return InsertResult{}, err
				}
				if err := e.checkUniqueIndexes(ctx, schema, updated, pk); err != nil {
					return InsertResult{}, err
				}
				if err := e.writeRow(ctx, schema, existing, updated, rowKey); err != nil {
					return InsertResult{}, err
				}
				result.RowsAffected++
				if len(spec.Returning) > 0 {
					result.Returned = append(result.Returned, projectRow(updated, spec.Returning))
				}
				continue
			default:
				return InsertResult{}, errs.New(errs.UniqueViolation, "duplicate key value violates unique constraint").WithObject(schema.Name)
			}
		}

		if err := e.checkUniqueIndexes(ctx, schema, row); err != nil {
			return InsertResult{}, err
		}
		if err := e.writeRow(ctx, schema, nil, row, rowKey); err != nil {
			return InsertResult{}, err
		}
		result.RowsAffected++
		if len(spec.Returning) > 0 {
			result.Returned = append(result.Returned, projectRow(row, spec.Returning))
		}
	}
	return result, nil
}

func (e *Executor) materializeRow(ctx context.Context, schema *catalog.TableSchema, r InsertRow, defaultExprs map[int]eval.Expr) (catalog.Row, error) {
	row := make(catalog.Row, len(schema.Columns))
	rc := &rowRC{schema: schema, row: row}
	for i, col := range schema.Columns {
		if v, ok := r.Values[i]; ok {
			row[i] = v
			continue
		}
		if col.IsSerial {
			next, err := e.Store.NextSequenceValue(ctx, schema.TableID, i)
			if err != nil {
				return nil, err
			}
			row[i] = value.Int(int64(next))
			continue
		}
		if expr, ok := defaultExprs[i]; ok {
			v, err := expr.Eval(ctx, rc)
			if err != nil {
				return nil, err
			}
			row[i] = v
			continue
		}
		row[i] = value.Null()
	}
	return row, nil
}

// writeRow persists the row and maintains every index: dropping old index
// entries (if oldRow is non-nil, i.e. this is an UPDATE/ON-CONFLICT-UPDATE
// path) and writing new ones, verifying non-unique indexes need no check
// but unique ones were already validated by checkUniqueIndexes.
func (e *Executor) writeRow(ctx context.Context, schema *catalog.TableSchema, oldRow, newRow catalog.Row, rowKey []byte) error {
	if oldRow != nil {
		if err := e.deleteIndexEntries(ctx, schema, oldRow, rowKey); err != nil {
			return err
		}
	}
	if err := e.putIndexEntries(ctx, schema, newRow, rowKey); err != nil {
		return err
	}
	return e.Txn.Put(ctx, rowKey, catalog.EncodeRow(newRow))
}

func (e *Executor) putIndexEntries(ctx context.Context, schema *catalog.TableSchema, row catalog.Row, rowKey []byte) error {
	pk := pkSuffixOf(rowKey, e.NS, schema.TableID)
	for _, idx := range schema.Indexes {
		keyBytes, anyNull, err := indexKeyBytes(schema, idx, row)
		if err != nil {
			return err
		}
		entryKey := e.NS.IndexEntryKey(schema.TableID, idx.IndexID, keyBytes, indexPKSuffix(idx.Unique, anyNull, pk))
		if err := e.Txn.Put(ctx, entryKey, pk); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) deleteIndexEntries(ctx context.Context, schema *catalog.TableSchema, row catalog.Row, rowKey []byte) error {
	pk := pkSuffixOf(rowKey, e.NS, schema.TableID)
	for _, idx := range schema.Indexes {
		keyBytes, anyNull, err := indexKeyBytes(schema, idx, row)
		if err != nil {
			return err
		}
		entryKey := e.NS.IndexEntryKey(schema.TableID, idx.IndexID, keyBytes, indexPKSuffix(idx.Unique, anyNull, pk))
		if err := e.Txn.Delete(ctx, entryKey); err != nil {
			return err
		}
	}
	return nil
}

// checkUniqueIndexes verifies row doesn't collide with an existing unique
// index entry. ownPK excludes row's own current entry from the check (the
// in-place UPDATE case, where the row being validated already owns one of
// the entries being probed); pass nil for a fresh INSERT.
func (e *Executor) checkUniqueIndexes(ctx context.Context, schema *catalog.TableSchema, row catalog.Row, ownPK ...[]byte) error {
	var own []byte
	if len(ownPK) > 0 {
		own = ownPK[0]
	}
	for _, idx := range schema.Indexes {
		if !idx.Unique {
			continue
		}
		keyBytes, anyNull, err := indexKeyBytes(schema, idx, row)
		if err != nil {
			return err
		}
		if anyNull {
			continue // NULL never conflicts with NULL in a unique index
		}
		probe := e.NS.IndexEntryKey(schema.TableID, idx.IndexID, keyBytes, nil)
		owner, exists, err := e.Txn.Get(ctx, probe)
		if err != nil {
			return err
		}
		if exists && string(owner) != string(own) {
			return errs.New(errs.UniqueViolation, "duplicate key value violates unique constraint %q", idx.Name).WithObject(schema.Name)
		}
	}
	return nil
}

func indexKeyBytes(schema *catalog.TableSchema, idx catalog.IndexDef, row catalog.Row) ([]byte, bool, error) {
	vals := make([]value.Value, len(idx.Columns))
	for i, c := range idx.Columns {
		vals[i] = row[c]
	}
	b, err := keycodec.EncodeKey(vals)
	return b, keycodec.AnyNull(vals), err
}

func pkSuffixOf(rowKey []byte, ns keycodec.Namespace, tableID uint64) []byte {
	prefix := ns.RowPrefix(tableID)
	if len(rowKey) < len(prefix) {
		return nil
	}
	return rowKey[len(prefix):]
}

func indexPKSuffix(unique, anyNull bool, pk []byte) []byte {
	if unique && !anyNull {
		return nil
	}
	return pk
}

func applySet(ctx context.Context, schema *catalog.TableSchema, existing, excludedRow catalog.Row, set map[int]eval.Expr) (catalog.Row, error) {
	updated := make(catalog.Row, len(existing))
	copy(updated, existing)
	rc := &rowRC{schema: schema, row: existing, excluded: excludedRow}
	for col, expr := range set {
		v, err := expr.Eval(ctx, rc)
		if err != nil {
			return nil, err
		}
		updated[col] = v
	}
	return updated, nil
}

func projectRow(row catalog.Row, cols []int) catalog.Row {
	out := make(catalog.Row, len(cols))
	for i, c := range cols {
		out[i] = row[c]
	}
	return out
}
