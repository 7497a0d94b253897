package queryexec

import (
	"context"

	"pgkv/internal/catalog"
	"pgkv/internal/errs"
	"pgkv/internal/eval"
	"pgkv/internal/keycodec"
	"pgkv/internal/kvstore"
	"pgkv/internal/planner"
	"pgkv/internal/value"
)

// TableScan is the leaf source-resolution node for a base table or a
// materialized view's shadow table (spec §4.9 step 1). It carries out
// whatever access method internal/planner chose for it: a full range scan,
// a primary-key point lookup, or an index point/prefix lookup.
type TableScan struct {
	AliasName    string
	Table        *catalog.TableSchema
	NS           keycodec.Namespace
	Txn          kvstore.Txn
	Kind         planner.ScanKind
	IndexID      uint16
	KeyValues    []value.Value // equality values, in Plan.KeyCols order; unused for FullScan
	ForUpdate    bool          // SELECT ... FOR UPDATE locks every row it touches (spec §4.3)
	DefaultExprs map[int]eval.Expr
}

func (t *TableScan) Schema() Schema {
	visible := t.Table.VisibleColumns()
	out := make(Schema, len(visible))
	for i, c := range visible {
		out[i] = ColumnRef{Alias: t.AliasName, Name: t.Table.Columns[c].Name}
	}
	return out
}

func (t *TableScan) Exec(ctx context.Context) ([]eval.Row, error) {
	visible := t.Table.VisibleColumns()
	switch t.Kind {
	case planner.PKPointLookup:
		pk, err := keycodec.EncodeKey(t.KeyValues)
		if err != nil {
			return nil, err
		}
		return t.getOne(ctx, t.NS.RowKey(t.Table.TableID, pk), visible)
	case planner.IndexPointLookup:
		keyBytes, err := keycodec.EncodeKey(t.KeyValues)
		if err != nil {
			return nil, err
		}
		prefix := t.NS.IndexPrefix(t.Table.TableID, t.IndexID, keyBytes)
		kvs, err := t.Txn.Scan(ctx, prefix, prefixEnd(prefix), 0)
		if err != nil {
			return nil, err
		}
		var out []eval.Row
		for _, kv := range kvs {
			rows, err := t.getOne(ctx, t.NS.RowKey(t.Table.TableID, kv.Value), visible)
			if err != nil {
				return nil, err
			}
			out = append(out, rows...)
		}
		return out, nil
	default: // FullScan
		prefix := t.NS.RowPrefix(t.Table.TableID)
		kvs, err := t.Txn.Scan(ctx, prefix, prefixEnd(prefix), 0)
		if err != nil {
			return nil, err
		}
		out := make([]eval.Row, 0, len(kvs))
		for _, kv := range kvs {
			if t.ForUpdate {
				if err := t.Txn.Lock(ctx, [][]byte{kv.Key}); err != nil {
					return nil, err
				}
			}
			row, err := catalog.DecodeRow(kv.Value, t.Table, t.defaultEval())
			if err != nil {
				return nil, err
			}
			out = append(out, projectVisible(row, visible))
		}
		return out, nil
	}
}

func (t *TableScan) getOne(ctx context.Context, rowKey []byte, visible []int) ([]eval.Row, error) {
	if t.ForUpdate {
		if err := t.Txn.Lock(ctx, [][]byte{rowKey}); err != nil {
			return nil, err
		}
	}
	raw, ok, err := t.Txn.Get(ctx, rowKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	row, err := catalog.DecodeRow(raw, t.Table, t.defaultEval())
	if err != nil {
		return nil, err
	}
	return []eval.Row{projectVisible(row, visible)}, nil
}

// defaultEval adapts the caller-supplied per-column default expressions to
// catalog.DecodeRow's callback shape. Defaults are evaluated without access
// to sibling columns of the row being decoded (spec §4.7 defaults are
// constants or constant-folding expressions such as now(), never a
// same-row column reference) — an Open Question resolved this way since
// spec.md does not say otherwise.
func (t *TableScan) defaultEval() func(col catalog.ColumnDef) (value.Value, error) {
	if len(t.DefaultExprs) == 0 {
		return nil
	}
	return func(col catalog.ColumnDef) (value.Value, error) {
		idx := t.Table.ColumnIndex(col.Name)
		expr, ok := t.DefaultExprs[idx]
		if !ok {
			return value.Null(), nil
		}
		return expr.Eval(context.Background(), noColumnRC{})
	}
}

// noColumnRC rejects any column reference, since a default expression
// evaluated at read time has no row to resolve against.
type noColumnRC struct{}

func (noColumnRC) Column(alias, name string) (value.Value, error) {
	return value.Value{}, errs.New(errs.UndefinedColumn, "default expressions may not reference other columns")
}
func (noColumnRC) Outer() eval.RowContext { return nil }

func projectVisible(row catalog.Row, visible []int) eval.Row {
	out := make(eval.Row, len(visible))
	for i, c := range visible {
		out[i] = row[c]
	}
	return out
}
