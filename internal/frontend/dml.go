package frontend

import (
	"context"

	"github.com/pingcap/tidb/pkg/parser/ast"

	"pgkv/internal/catalog"
	"pgkv/internal/dmlexec"
	"pgkv/internal/errs"
	"pgkv/internal/eval"
	"pgkv/internal/keycodec"
	"pgkv/internal/queryexec"
	"pgkv/internal/value"
)

// CompileInsert turns an INSERT statement into a dmlexec.InsertSpec.
// VALUES-form and INSERT ... SELECT are both handled; ON DUPLICATE KEY
// UPDATE (the parser's MySQL-dialect syntax for the nearest thing to
// spec §4.8's ON CONFLICT DO UPDATE upsert) compiles to dmlexec's
// conflict-resolution path.
func (c *Compiler) CompileInsert(ctx context.Context, stmt *ast.InsertStmt) (dmlexec.InsertSpec, error) {
	tableName, err := singleTableName(stmt.Table)
	if err != nil {
		return dmlexec.InsertSpec{}, err
	}
	schema, err := c.Store.GetTable(ctx, tableName)
	if err != nil {
		return dmlexec.InsertSpec{}, err
	}

	colIdx := schema.VisibleColumns()
	if len(stmt.Columns) > 0 {
		colIdx = make([]int, len(stmt.Columns))
		for i, cn := range stmt.Columns {
			idx := schema.ColumnIndex(cn.Name.O)
			if idx < 0 {
				return dmlexec.InsertSpec{}, errs.New(errs.UndefinedColumn, "column %q does not exist", cn.Name.O).WithObject(tableName)
			}
			colIdx[i] = idx
		}
	}

	var rows []dmlexec.InsertRow
	switch {
	case stmt.Select != nil:
		rows, err = c.compileInsertSelectRows(ctx, stmt.Select, colIdx)
	default:
		rows, err = compileInsertValueRows(stmt.Lists, colIdx)
	}
	if err != nil {
		return dmlexec.InsertSpec{}, err
	}

	defaultExprs, err := compileDefaultExprs(schema)
	if err != nil {
		return dmlexec.InsertSpec{}, err
	}
	checkExprs, err := compileCheckExprs(schema)
	if err != nil {
		return dmlexec.InsertSpec{}, err
	}

	spec := dmlexec.InsertSpec{
		Table:        tableName,
		Rows:         rows,
		DefaultExprs: defaultExprs,
		CheckExprs:   checkExprs,
	}

	if len(stmt.OnDuplicate) > 0 {
		spec.Conflict = dmlexec.ConflictDoUpdate
		set := make(map[int]eval.Expr, len(stmt.OnDuplicate))
		for _, a := range stmt.OnDuplicate {
			idx := schema.ColumnIndex(a.Column.Name.O)
			if idx < 0 {
				return dmlexec.InsertSpec{}, errs.New(errs.UndefinedColumn, "column %q does not exist", a.Column.Name.O).WithObject(tableName)
			}
			e, err := CompileExpr(a.Expr, c.subqueryCompiler())
			if err != nil {
				return dmlexec.InsertSpec{}, err
			}
			set[idx] = e
		}
		spec.ConflictSet = set
	}

	return spec, nil
}

// compileInsertValueRows evaluates each VALUES tuple as a row of constant
// expressions (spec §4.8's INSERT does not let a VALUES entry reference a
// sibling column, only literals/constant-foldable expressions and the
// bare DEFAULT keyword).
func compileInsertValueRows(lists [][]ast.ExprNode, colIdx []int) ([]dmlexec.InsertRow, error) {
	rows := make([]dmlexec.InsertRow, 0, len(lists))
	for _, list := range lists {
		if len(list) != len(colIdx) {
			return nil, errs.New(errs.SyntaxError, "INSERT has %d target columns but VALUES supplies %d", len(colIdx), len(list))
		}
		values := make(map[int]value.Value, len(colIdx))
		for i, expr := range list {
			if _, isDefault := expr.(*ast.DefaultExpr); isDefault {
				continue
			}
			v, err := evalConstExpr(expr)
			if err != nil {
				return nil, err
			}
			values[colIdx[i]] = v
		}
		rows = append(rows, dmlexec.InsertRow{Values: values})
	}
	return rows, nil
}

func (c *Compiler) compileInsertSelectRows(ctx context.Context, rs ast.ResultSetNode, colIdx []int) ([]dmlexec.InsertRow, error) {
	sel, ok := rs.(*ast.SelectStmt)
	if !ok {
		return nil, unsupported(rs)
	}
	node, err := c.CompileSelect(ctx, sel)
	if err != nil {
		return nil, err
	}
	result, err := node.Exec(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]dmlexec.InsertRow, 0, len(result))
	for _, r := range result {
		if len(r) != len(colIdx) {
			return nil, errs.New(errs.SyntaxError, "INSERT has %d target columns but SELECT returns %d", len(colIdx), len(r))
		}
		values := make(map[int]value.Value, len(colIdx))
		for i, ci := range colIdx {
			values[ci] = r[i]
		}
		rows = append(rows, dmlexec.InsertRow{Values: values})
	}
	return rows, nil
}

// CompileUpdate turns an UPDATE statement into a dmlexec.UpdateSpec,
// resolving WHERE to the primary keys of the rows it currently matches
// (dmlexec.Update itself is WHERE-agnostic; it only ever sees row keys).
func (c *Compiler) CompileUpdate(ctx context.Context, stmt *ast.UpdateStmt) (dmlexec.UpdateSpec, error) {
	tableName, err := singleTableName(stmt.TableRefs)
	if err != nil {
		return dmlexec.UpdateSpec{}, err
	}
	schema, err := c.Store.GetTable(ctx, tableName)
	if err != nil {
		return dmlexec.UpdateSpec{}, err
	}

	set := make(map[int]eval.Expr, len(stmt.List))
	for _, a := range stmt.List {
		idx := schema.ColumnIndex(a.Column.Name.O)
		if idx < 0 {
			return dmlexec.UpdateSpec{}, errs.New(errs.UndefinedColumn, "column %q does not exist", a.Column.Name.O).WithObject(tableName)
		}
		e, err := CompileExpr(a.Expr, c.subqueryCompiler())
		if err != nil {
			return dmlexec.UpdateSpec{}, err
		}
		set[idx] = e
	}

	pks, err := c.resolveMatchedPKs(ctx, schema, stmt.Where)
	if err != nil {
		return dmlexec.UpdateSpec{}, err
	}
	checkExprs, err := compileCheckExprs(schema)
	if err != nil {
		return dmlexec.UpdateSpec{}, err
	}

	return dmlexec.UpdateSpec{Table: tableName, MatchedPKs: pks, Set: set, CheckExprs: checkExprs}, nil
}

// CompileDelete turns a DELETE statement into a dmlexec.DeleteSpec, the
// same WHERE-to-primary-key resolution as CompileUpdate.
func (c *Compiler) CompileDelete(ctx context.Context, stmt *ast.DeleteStmt) (dmlexec.DeleteSpec, error) {
	tableName, err := singleTableName(stmt.TableRefs)
	if err != nil {
		return dmlexec.DeleteSpec{}, err
	}
	schema, err := c.Store.GetTable(ctx, tableName)
	if err != nil {
		return dmlexec.DeleteSpec{}, err
	}
	pks, err := c.resolveMatchedPKs(ctx, schema, stmt.Where)
	if err != nil {
		return dmlexec.DeleteSpec{}, err
	}
	return dmlexec.DeleteSpec{Table: tableName, MatchedPKs: pks}, nil
}

// resolveMatchedPKs runs where (nil means unconditional) as a filtered
// scan over table and encodes the primary key of every matched row, the
// shared step UPDATE and DELETE both need before handing off to dmlexec.
func (c *Compiler) resolveMatchedPKs(ctx context.Context, schema *catalog.TableSchema, where ast.ExprNode) ([][]byte, error) {
	visible := schema.VisibleColumns()
	posOf := make(map[int]int, len(visible))
	for pos, colIdx := range visible {
		posOf[colIdx] = pos
	}
	pkPos := make([]int, len(schema.PrimaryKey))
	for i, colIdx := range schema.PrimaryKey {
		pos, ok := posOf[colIdx]
		if !ok {
			return nil, errs.New(errs.Internal, "primary key column is dropped").WithObject(schema.Name)
		}
		pkPos[i] = pos
	}

	var node queryexec.Node = &queryexec.TableScan{AliasName: schema.Name, Table: schema, NS: c.NS, Txn: c.Txn}
	if where != nil {
		pred, err := CompileExpr(where, c.subqueryCompiler())
		if err != nil {
			return nil, err
		}
		node = &queryexec.Filter{Child: node, Pred: pred, Outer: c.Outer}
	}
	rows, err := node.Exec(ctx)
	if err != nil {
		return nil, err
	}
	pks := make([][]byte, len(rows))
	for i, row := range rows {
		vals := make([]value.Value, len(pkPos))
		for j, pos := range pkPos {
			vals[j] = row[pos]
		}
		pk, err := keycodec.EncodeKey(vals)
		if err != nil {
			return nil, err
		}
		pks[i] = pk
	}
	return pks, nil
}

// TableNameOf resolves the single base table name of a FROM/UPDATE/DELETE
// table reference clause, exported for the statement dispatcher to reuse
// when it needs a table name before handing the statement to Compiler
// (e.g. to check a privilege ahead of compiling).
func TableNameOf(refs *ast.TableRefsClause) (string, error) {
	return singleTableName(refs)
}

func singleTableName(refs *ast.TableRefsClause) (string, error) {
	if refs == nil || refs.TableRefs == nil {
		return "", errs.New(errs.SyntaxError, "missing table reference")
	}
	j := refs.TableRefs
	if j.Right != nil {
		return "", unsupported(refs)
	}
	ts, ok := j.Left.(*ast.TableSource)
	if !ok {
		return "", unsupported(refs)
	}
	tn, ok := ts.Source.(*ast.TableName)
	if !ok {
		return "", unsupported(ts.Source)
	}
	return tn.Name.O, nil
}

func evalConstExpr(e ast.ExprNode) (value.Value, error) {
	compiled, err := CompileExpr(e, nil)
	if err != nil {
		return value.Value{}, err
	}
	return compiled.Eval(context.Background(), constRC{})
}

func compileDefaultExprs(schema *catalog.TableSchema) (map[int]eval.Expr, error) {
	out := make(map[int]eval.Expr)
	for i, col := range schema.Columns {
		if col.DefaultExpr == "" {
			continue
		}
		e, err := compileStoredExpr(col.DefaultExpr)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func compileCheckExprs(schema *catalog.TableSchema) ([]eval.Expr, error) {
	out := make([]eval.Expr, len(schema.CheckExprs))
	for i, text := range schema.CheckExprs {
		e, err := compileStoredExpr(text)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// compileStoredExpr re-parses a catalog-persisted expression (a DEFAULT
// or CHECK clause, kept as SQL text since the catalog itself is just
// schema bytes in the KV store) back into an eval.Expr by wrapping it in
// a throwaway SELECT, the only entry point the statement parser offers
// for a bare expression.
func compileStoredExpr(sql string) (eval.Expr, error) {
	stmt, err := NewParser().ParseOne("SELECT " + sql)
	if err != nil {
		return nil, err
	}
	sel, ok := stmt.(*ast.SelectStmt)
	if !ok || sel.Fields == nil || len(sel.Fields.Fields) != 1 {
		return nil, errs.New(errs.Internal, "invalid stored expression %q", sql)
	}
	return CompileExpr(sel.Fields.Fields[0].Expr, nil)
}
