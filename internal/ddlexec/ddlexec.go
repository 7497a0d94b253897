// Package ddlexec executes CREATE/ALTER/DROP statements against the
// catalog (spec §4.7): table/column/index/view/materialized-view/
// procedure lifecycle, online ADD COLUMN, and CREATE INDEX backfill.
//
// Grounded on the teacher's internal/apply.Applier, which also takes a
// sequence of schema-change operations and applies each to a live
// database inside one transaction, stopping and surfacing the first
// error — generalized here from "apply a pre-computed migration plan" to
// "execute one DDL statement's catalog/data-plane side effects directly".
package ddlexec

import (
	"context"

	"pgkv/internal/catalog"
	"pgkv/internal/errs"
	"pgkv/internal/keycodec"
	"pgkv/internal/kvstore"
	"pgkv/internal/value"
)

// Executor carries the catalog store and row/index codec context every DDL
// operation needs.
type Executor struct {
	Store *catalog.Store
	NS    keycodec.Namespace
	Txn   kvstore.Txn
}

func New(store *catalog.Store, ns keycodec.Namespace, txn kvstore.Txn) *Executor {
	return &Executor{Store: store, NS: ns, Txn: txn}
}

// CreateTableSpec is the parsed form of a CREATE TABLE statement.
type CreateTableSpec struct {
	Name        string
	IfNotExists bool
	Columns     []catalog.ColumnDef
	PrimaryKey  []int
	ForeignKeys []catalog.FKDef
	CheckExprs  []string
}

// CreateTable allocates a table_id and writes the schema record (spec
// §4.7). IF NOT EXISTS makes it a no-op when the table is already present.
func (e *Executor) CreateTable(ctx context.Context, spec CreateTableSpec) error {
	exists, err := e.Store.TableExists(ctx, spec.Name)
	if err != nil {
		return err
	}
	if exists {
		if spec.IfNotExists {
			return nil
		}
		return errs.New(errs.Internal, "relation %q already exists", spec.Name).WithObject(spec.Name)
	}
	id, err := e.Store.AllocateTableID(ctx)
	if err != nil {
		return err
	}
	schema := &catalog.TableSchema{
		TableID:     id,
		Name:        spec.Name,
		Columns:     spec.Columns,
		PrimaryKey:  spec.PrimaryKey,
		ForeignKeys: spec.ForeignKeys,
		CheckExprs:  spec.CheckExprs,
	}
	return e.Store.PutTable(ctx, schema)
}

// DropTable removes the schema record and all row/index keys. Without
// CASCADE, any table whose FKs reference this one blocks the drop with
// DependencyError (spec §4.7).
func (e *Executor) DropTable(ctx context.Context, name string, ifExists, cascade bool) error {
	schema, err := e.Store.GetTable(ctx, name)
	if err != nil {
		if ifExists && errs.As(err, errs.UndefinedTable) {
			return nil
		}
		return err
	}

	dependents, err := e.findDependentTables(ctx, name)
	if err != nil {
		return err
	}
	if len(dependents) > 0 && !cascade {
		return errs.New(errs.DependencyError, "cannot drop table %q because other objects depend on it", name).WithObject(name)
	}
	for _, dep := range dependents {
		if err := e.DropTable(ctx, dep, true, cascade); err != nil {
			return err
		}
	}

	if err := e.deleteRange(ctx, e.NS.RowPrefix(schema.TableID)); err != nil {
		return err
	}
	for _, idx := range schema.Indexes {
		if err := e.deleteRange(ctx, e.NS.IndexPrefix(schema.TableID, idx.IndexID, nil)); err != nil {
			return err
		}
	}
	return e.Store.DeleteTable(ctx, name)
}

func (e *Executor) findDependentTables(ctx context.Context, name string) ([]string, error) {
	tables, err := e.Store.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	var deps []string
	for _, t := range tables {
		if t.Name == name {
			continue
		}
		for _, fk := range t.ForeignKeys {
			if fk.RefTable == name {
				deps = append(deps, t.Name)
				break
			}
		}
	}
	return deps, nil
}

func (e *Executor) deleteRange(ctx context.Context, prefix []byte) error {
	end := prefixEnd(prefix)
	for {
		kvs, err := e.Txn.Scan(ctx, prefix, end, 1000)
		if err != nil {
			return err
		}
		if len(kvs) == 0 {
			return nil
		}
		for _, kv := range kvs {
			if err := e.Txn.Delete(ctx, kv.Key); err != nil {
				return err
			}
		}
		if len(kvs) < 1000 {
			return nil
		}
	}
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

// AddColumn performs the online ADD COLUMN of spec §4.7: the schema's
// column list grows and existing row bytes are left untouched; readers
// synthesize the default for rows shorter than the current schema.
func (e *Executor) AddColumn(ctx context.Context, tableName string, col catalog.ColumnDef) error {
	schema, err := e.Store.GetTable(ctx, tableName)
	if err != nil {
		return err
	}
	if schema.ColumnIndex(col.Name) >= 0 {
		return errs.New(errs.Internal, "column %q already exists", col.Name).WithObject(tableName)
	}
	schema.Columns = append(schema.Columns, col)
	return e.Store.PutTable(ctx, schema)
}

// DropColumn tombstones the column rather than removing its slot, so
// existing row bytes stay decodable (spec §4.7); reads project it out via
// TableSchema.VisibleColumns.
func (e *Executor) DropColumn(ctx context.Context, tableName, colName string) error {
	schema, err := e.Store.GetTable(ctx, tableName)
	if err != nil {
		return err
	}
	idx := schema.ColumnIndex(colName)
	if idx < 0 {
		return errs.New(errs.UndefinedColumn, "column %q does not exist", colName).WithObject(tableName)
	}
	for _, pk := range schema.PrimaryKey {
		if pk == idx {
			return errs.New(errs.Internal, "cannot drop column %q: part of the primary key", colName).WithObject(tableName)
		}
	}
	schema.Columns[idx].Dropped = true
	return e.Store.PutTable(ctx, schema)
}

// RenameColumn only edits metadata (spec §4.7).
func (e *Executor) RenameColumn(ctx context.Context, tableName, from, to string) error {
	schema, err := e.Store.GetTable(ctx, tableName)
	if err != nil {
		return err
	}
	idx := schema.ColumnIndex(from)
	if idx < 0 {
		return errs.New(errs.UndefinedColumn, "column %q does not exist", from).WithObject(tableName)
	}
	if schema.ColumnIndex(to) >= 0 {
		return errs.New(errs.Internal, "column %q already exists", to).WithObject(tableName)
	}
	schema.Columns[idx].Name = to
	return e.Store.PutTable(ctx, schema)
}

// AddPrimaryKey is permitted only when the table has no prior PK and every
// target column is NOT NULL and currently unique; the uniqueness check is
// a transactional scan over every existing row (spec §4.7).
func (e *Executor) AddPrimaryKey(ctx context.Context, tableName string, colNames []string) error {
	schema, err := e.Store.GetTable(ctx, tableName)
	if err != nil {
		return err
	}
	if len(schema.PrimaryKey) > 0 {
		return errs.New(errs.Internal, "table %q already has a primary key", tableName).WithObject(tableName)
	}
	cols := make([]int, len(colNames))
	for i, name := range colNames {
		idx := schema.ColumnIndex(name)
		if idx < 0 {
			return errs.New(errs.UndefinedColumn, "column %q does not exist", name).WithObject(tableName)
		}
		if schema.Columns[idx].Nullable {
			return errs.New(errs.Internal, "column %q must be NOT NULL to be part of a primary key", name).WithObject(tableName)
		}
		cols[i] = idx
	}
	if err := e.verifyUnique(ctx, schema, cols); err != nil {
		return err
	}
	schema.PrimaryKey = cols
	return e.Store.PutTable(ctx, schema)
}

func (e *Executor) verifyUnique(ctx context.Context, schema *catalog.TableSchema, cols []int) error {
	prefix := e.NS.RowPrefix(schema.TableID)
	kvs, err := e.Txn.Scan(ctx, prefix, prefixEnd(prefix), 0)
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, kv := range kvs {
		row, err := catalog.DecodeRow(kv.Value, schema, nil)
		if err != nil {
			return err
		}
		keyVals := make([]value.Value, len(cols))
		for i, c := range cols {
			keyVals[i] = row[c]
		}
		kb, err := keycodec.EncodeKey(keyVals)
		if err != nil {
			return err
		}
		if seen[string(kb)] {
			return errs.New(errs.UniqueViolation, "could not create primary key: duplicate values exist").WithObject(schema.Name)
		}
		seen[string(kb)] = true
	}
	return nil
}
