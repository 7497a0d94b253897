package ddlexec

import (
	"context"

	"pgkv/internal/catalog"
	"pgkv/internal/errs"
)

// CreateView stores the query text verbatim for inlining at reference time
// (spec §4.7). CREATE OR REPLACE overwrites an existing definition;
// otherwise a second CREATE VIEW of the same name is an error.
func (e *Executor) CreateView(ctx context.Context, name, queryText string, orReplace bool) error {
	if !orReplace {
		if _, err := e.Store.GetView(ctx, name); err == nil {
			return errs.New(errs.Internal, "view %q already exists", name).WithObject(name)
		}
	}
	return e.Store.PutView(ctx, &catalog.View{Name: name, QueryText: queryText})
}

func (e *Executor) DropView(ctx context.Context, name string, ifExists bool) error {
	if _, err := e.Store.GetView(ctx, name); err != nil {
		if ifExists && errs.As(err, errs.UndefinedTable) {
			return nil
		}
		return err
	}
	return e.Store.DeleteView(ctx, name)
}

// CreateMaterializedView records the defining query and allocates a shadow
// table shaped by the query's output columns; the view starts unpopulated
// until the first REFRESH (spec §4.7).
func (e *Executor) CreateMaterializedView(ctx context.Context, name, queryText string, outputColumns []catalog.ColumnDef, ifNotExists bool) error {
	if _, err := e.Store.GetMatview(ctx, name); err == nil {
		if ifNotExists {
			return nil
		}
		return errs.New(errs.Internal, "materialized view %q already exists", name).WithObject(name)
	}
	shadow := catalog.ShadowTableName(name)
	if err := e.CreateTable(ctx, CreateTableSpec{Name: shadow, IfNotExists: true, Columns: outputColumns}); err != nil {
		return err
	}
	return e.Store.PutMatview(ctx, &catalog.MaterializedView{Name: name, QueryText: queryText, ShadowTable: shadow})
}

func (e *Executor) DropMaterializedView(ctx context.Context, name string, ifExists bool) error {
	mv, err := e.Store.GetMatview(ctx, name)
	if err != nil {
		if ifExists && errs.As(err, errs.UndefinedTable) {
			return nil
		}
		return err
	}
	if err := e.DropTable(ctx, mv.ShadowTable, true, false); err != nil {
		return err
	}
	return e.Store.DeleteMatview(ctx, name)
}

// RefreshResult carries the rows a caller should materialize into the
// matview's shadow table; Refresh itself only performs the atomic
// replacement, since producing the rows requires re-running the defining
// query through the query executor.
type RefreshResult struct {
	Rows    []catalog.Row
	RefreshedAt int64
}

// RefreshMaterializedView atomically replaces the shadow table's contents
// with newRows and stamps LastRefresh, within the current transaction
// (spec §4.7: REFRESH is all-or-nothing — readers never observe a partially
// replaced matview).
func (e *Executor) RefreshMaterializedView(ctx context.Context, name string, newRows []catalog.Row, commitTS int64) error {
	mv, err := e.Store.GetMatview(ctx, name)
	if err != nil {
		return err
	}
	shadowSchema, err := e.Store.GetTable(ctx, mv.ShadowTable)
	if err != nil {
		return err
	}
	if err := e.deleteRange(ctx, e.NS.RowPrefix(shadowSchema.TableID)); err != nil {
		return err
	}
	for i, row := range newRows {
		encoded := catalog.EncodeRow(row)
		key := e.NS.RowKey(shadowSchema.TableID, rowOrdinalKey(i))
		if err := e.Txn.Put(ctx, key, encoded); err != nil {
			return err
		}
	}
	mv.LastRefresh = commitTS
	return e.Store.PutMatview(ctx, mv)
}

// rowOrdinalKey gives each materialized row a stable synthetic key: a
// matview has no user-declared primary key, only row order from its
// defining query.
func rowOrdinalKey(i int) []byte {
	b := make([]byte, 8)
	n := uint64(i)
	for j := 7; j >= 0; j-- {
		b[j] = byte(n)
		n >>= 8
	}
	return b
}
