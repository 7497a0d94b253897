// Package dmlexec executes INSERT/UPDATE/DELETE/COPY/TRUNCATE against the
// catalog and KV transaction (spec §4.8): default/SERIAL synthesis,
// NOT NULL/CHECK/unique/foreign-key enforcement, index maintenance, and
// RETURNING projection.
//
// Grounded on the teacher's internal/apply.Applier for the "walk a list of
// row-shaped operations, stop at the first error, everything happens
// inside one transaction" structure, generalized from applying schema
// diffs to applying individual row mutations.
package dmlexec

import (
	"context"

	"pgkv/internal/catalog"
	"pgkv/internal/errs"
	"pgkv/internal/eval"
	"pgkv/internal/keycodec"
	"pgkv/internal/kvstore"
	"pgkv/internal/value"
)

// Executor carries everything one DML statement needs: the schema store,
// key namespace, and the transaction rows are read from/written to.
type Executor struct {
	Store *catalog.Store
	NS    keycodec.Namespace
	Txn   kvstore.Txn
}

func New(store *catalog.Store, ns keycodec.Namespace, txn kvstore.Txn) *Executor {
	return &Executor{Store: store, NS: ns, Txn: txn}
}

// rowRC adapts a catalog.Row (plus an EXCLUDED row for ON CONFLICT) to
// eval.RowContext so default/CHECK/SET expressions can reference columns
// by name.
type rowRC struct {
	schema    *catalog.TableSchema
	row       catalog.Row
	excluded  catalog.Row
	outer     eval.RowContext
}

func (r *rowRC) Column(alias, name string) (value.Value, error) {
	if alias == "excluded" || alias == "EXCLUDED" {
		idx := r.schema.ColumnIndex(name)
		if idx < 0 || r.excluded == nil {
			return value.Value{}, errs.New(errs.UndefinedColumn, "column %q does not exist", name)
		}
		return r.excluded[idx], nil
	}
	idx := r.schema.ColumnIndex(name)
	if idx < 0 {
		return value.Value{}, errs.New(errs.UndefinedColumn, "column %q does not exist", name).WithObject(r.schema.Name)
	}
	return r.row[idx], nil
}

func (r *rowRC) Outer() eval.RowContext { return r.outer }

func pkBytes(schema *catalog.TableSchema, row catalog.Row) ([]byte, error) {
	vals := make([]value.Value, len(schema.PrimaryKey))
	for i, c := range schema.PrimaryKey {
		vals[i] = row[c]
	}
	return keycodec.EncodeKey(vals)
}

func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// checkNotNull enforces every non-dropped column's NOT NULL constraint
// (spec §4.8).
func checkNotNull(schema *catalog.TableSchema, row catalog.Row) error {
	for i, col := range schema.Columns {
		if col.Dropped || col.Nullable {
			continue
		}
		if row[i].IsNull() {
			return errs.New(errs.NotNullViolation, "null value in column %q violates not-null constraint", col.Name).WithObject(schema.Name)
		}
	}
	return nil
}

// evalChecks evaluates every CHECK expression against row; only a false
// result fails, so a NULL (Unknown) result passes, matching PostgreSQL's
// CHECK semantics. When len(exprs) differs from len(schema.CheckExprs), no
// check is evaluated.
func evalChecks(ctx context.Context, schema *catalog.TableSchema, row catalog.Row, exprs []eval.Expr) error {
	if len(exprs) != len(schema.CheckExprs) {
		return nil
	}
	rc := &rowRC{schema: schema, row: row}
	for i, expr := range exprs {
		v, err := expr.Eval(ctx, rc)
		if err != nil {
			return err
		}
		if v.Kind == value.KindBool && !v.Bool {
			return errs.New(errs.CheckViolation, "new row violates check constraint").WithObject(schema.Name)
		}
	}
	return nil
}
