package frontend

import (
	"context"
	"fmt"
	"strings"

	"github.com/pingcap/tidb/pkg/parser/ast"

	"pgkv/internal/agg"
	"pgkv/internal/catalog"
	"pgkv/internal/errs"
	"pgkv/internal/eval"
	"pgkv/internal/keycodec"
	"pgkv/internal/kvstore"
	"pgkv/internal/planner"
	"pgkv/internal/queryexec"
	"pgkv/internal/value"
)

// Compiler turns parsed AST into executable plans, against one
// transaction's view of the catalog. A Compiler is scoped to a single
// statement the way internal/ddlexec.Executor and
// internal/dmlexec.Executor are each scoped to one transaction.
type Compiler struct {
	Store *catalog.Store
	NS    keycodec.Namespace
	Txn   kvstore.Txn

	// Outer is the enclosing query's current-row context, set only while
	// compiling a correlated subquery (see planSubquery.Run); nil for a
	// top-level statement.
	Outer eval.RowContext

	// ViewPath names the views already being inlined on the way to this
	// compilation, so a view that (directly or transitively) references
	// itself is caught as errs.ViewCycle instead of recursing forever.
	ViewPath []string

	// CTEs holds the already-compiled plan for every WITH binding visible
	// at this point in the statement, keyed by name. A bare FROM reference
	// to a name present here is spliced in instead of a base-table lookup
	// (see compileTableSource).
	CTEs map[string]queryexec.Node
}

func New(store *catalog.Store, ns keycodec.Namespace, txn kvstore.Txn) *Compiler {
	return &Compiler{Store: store, NS: ns, Txn: txn}
}

func (c *Compiler) withOuter(outer eval.RowContext) *Compiler {
	return &Compiler{Store: c.Store, NS: c.NS, Txn: c.Txn, Outer: outer, ViewPath: c.ViewPath, CTEs: c.CTEs}
}

// CompileSelect builds a queryexec.Node tree for stmt. It supports a
// single base table or a chain of explicit joins, WHERE, GROUP BY/HAVING,
// window functions, DISTINCT, ORDER BY, LIMIT/OFFSET, and a leading WITH
// (including WITH RECURSIVE) clause — spec §4.9's pipeline.
func (c *Compiler) CompileSelect(ctx context.Context, stmt *ast.SelectStmt) (queryexec.Node, error) {
	cc := c
	if stmt.With != nil {
		var err error
		cc, err = c.compileWith(ctx, stmt.With)
		if err != nil {
			return nil, err
		}
	}
	return cc.compileSelectBody(ctx, stmt)
}

func (c *Compiler) compileSelectBody(ctx context.Context, stmt *ast.SelectStmt) (queryexec.Node, error) {
	if stmt.From == nil {
		return c.compileValuesOnlySelect(ctx, stmt)
	}
	node, err := c.compileResultSetNode(ctx, stmt.From.TableRefs)
	if err != nil {
		return nil, err
	}

	if stmt.Where != nil {
		pred, err := CompileExpr(stmt.Where, c.subqueryCompiler())
		if err != nil {
			return nil, err
		}
		node = &queryexec.Filter{Child: node, Pred: pred, Outer: c.Outer}
	}

	node, err = c.applyProjectionAndGrouping(ctx, stmt, node)
	if err != nil {
		return nil, err
	}

	if stmt.SelectStmtOpts != nil && stmt.SelectStmtOpts.Distinct {
		node = &queryexec.Distinct{Child: node}
	}

	if stmt.OrderBy != nil {
		keys := make([]queryexec.OrderKey, len(stmt.OrderBy.Items))
		for i, item := range stmt.OrderBy.Items {
			e, err := CompileExpr(item.Expr, c.subqueryCompiler())
			if err != nil {
				return nil, err
			}
			keys[i] = queryexec.OrderKey{Expr: e, Desc: item.Desc}
		}
		node = &queryexec.Sort{Child: node, Keys: keys, Outer: c.Outer}
	}

	if stmt.Limit != nil {
		lim, err := c.compileLimit(stmt.Limit, node)
		if err != nil {
			return nil, err
		}
		node = lim
	}
	return node, nil
}

func (c *Compiler) compileLimit(limit *ast.Limit, child queryexec.Node) (queryexec.Node, error) {
	lim := &queryexec.Limit{Child: child, HasLimit: true}
	if limit.Count != nil {
		v, err := constInt(limit.Count)
		if err != nil {
			return nil, err
		}
		lim.Count = v
	}
	if limit.Offset != nil {
		v, err := constInt(limit.Offset)
		if err != nil {
			return nil, err
		}
		lim.Offset = v
	}
	return lim, nil
}

// CompileSetOpr builds a queryexec.Node tree for a UNION/INTERSECT/EXCEPT
// statement (spec §4.9 step 6). Every branch is compiled against the same
// WITH bindings, if any; ORDER BY/LIMIT on the set operation itself apply
// to the combined result.
func (c *Compiler) CompileSetOpr(ctx context.Context, stmt *ast.SetOprStmt) (queryexec.Node, error) {
	cc := c
	if stmt.With != nil {
		var err error
		cc, err = c.compileWith(ctx, stmt.With)
		if err != nil {
			return nil, err
		}
	}
	if stmt.SelectList == nil || len(stmt.SelectList.Selects) == 0 {
		return nil, errs.New(errs.SyntaxError, "empty set operation")
	}
	selects := stmt.SelectList.Selects
	first, ok := selects[0].(*ast.SelectStmt)
	if !ok {
		return nil, unsupported(selects[0])
	}
	node, err := cc.compileSelectBody(ctx, first)
	if err != nil {
		return nil, err
	}
	for _, s := range selects[1:] {
		sel, ok := s.(*ast.SelectStmt)
		if !ok {
			return nil, unsupported(s)
		}
		right, err := cc.compileSelectBody(ctx, sel)
		if err != nil {
			return nil, err
		}
		op, all, err := setOpKindOf(sel.AfterSetOperator)
		if err != nil {
			return nil, err
		}
		node = &queryexec.SetOp{Left: node, Right: right, Op: op, All: all}
	}

	if stmt.OrderBy != nil {
		keys := make([]queryexec.OrderKey, len(stmt.OrderBy.Items))
		for i, item := range stmt.OrderBy.Items {
			e, err := CompileExpr(item.Expr, cc.subqueryCompiler())
			if err != nil {
				return nil, err
			}
			keys[i] = queryexec.OrderKey{Expr: e, Desc: item.Desc}
		}
		node = &queryexec.Sort{Child: node, Keys: keys, Outer: cc.Outer}
	}
	if stmt.Limit != nil {
		lim, err := cc.compileLimit(stmt.Limit, node)
		if err != nil {
			return nil, err
		}
		node = lim
	}
	return node, nil
}

func setOpKindOf(op *ast.SetOprType) (queryexec.SetOpKind, bool, error) {
	if op == nil {
		return "", false, errs.New(errs.Internal, "set operation missing operator")
	}
	switch *op {
	case ast.Union:
		return queryexec.Union, false, nil
	case ast.UnionAll:
		return queryexec.Union, true, nil
	case ast.Intersect:
		return queryexec.Intersect, false, nil
	case ast.Except:
		return queryexec.Except, false, nil
	default:
		return "", false, errs.New(errs.SyntaxError, "unsupported set operator")
	}
}

// compileWith resolves every binding of a WITH clause into a new Compiler
// whose CTEs map a FROM reference can be spliced against, leaving c itself
// untouched (spec §4.9's CTEs section: a non-recursive CTE is a
// lazily-materialized, shared result set; a recursive one iterates base/
// step to a fixpoint).
func (c *Compiler) compileWith(ctx context.Context, with *ast.WithClause) (*Compiler, error) {
	cc := &Compiler{Store: c.Store, NS: c.NS, Txn: c.Txn, Outer: c.Outer, ViewPath: c.ViewPath}
	cc.CTEs = make(map[string]queryexec.Node, len(c.CTEs)+len(with.CTEs))
	for k, v := range c.CTEs {
		cc.CTEs[k] = v
	}
	for _, cte := range with.CTEs {
		name := cte.Name.O
		body := cte.Query.Query

		var node queryexec.Node
		if with.IsRecursive {
			if setOpr, ok := body.(*ast.SetOprStmt); ok && setOpr.SelectList != nil && len(setOpr.SelectList.Selects) == 2 {
				n, err := cc.compileRecursiveCTE(ctx, name, setOpr)
				if err != nil {
					return nil, err
				}
				node = n
			}
		}
		if node == nil {
			n, err := cc.compileCTEBody(ctx, body)
			if err != nil {
				return nil, err
			}
			node = &queryexec.Materialize{Child: n}
		}
		if len(cte.ColNameList) > 0 {
			names := make([]string, len(cte.ColNameList))
			for i, n := range cte.ColNameList {
				names[i] = n.O
			}
			node = &renameNode{Child: node, Names: names}
		}
		cc.CTEs[name] = node
	}
	return cc, nil
}

func (c *Compiler) compileCTEBody(ctx context.Context, body ast.ResultSetNode) (queryexec.Node, error) {
	switch n := body.(type) {
	case *ast.SelectStmt:
		return c.CompileSelect(ctx, n)
	case *ast.SetOprStmt:
		return c.CompileSetOpr(ctx, n)
	default:
		return nil, unsupported(body)
	}
}

// compileRecursiveCTE compiles `name AS (Base UNION [ALL] Step)`: Base is
// compiled once, Step is recompiled every iteration against a fresh
// MaterializedNode standing in for name's previous-iteration rows only
// (spec §8's "never run forever" bound lives in queryexec.RecursiveCTE).
func (c *Compiler) compileRecursiveCTE(ctx context.Context, name string, setOpr *ast.SetOprStmt) (queryexec.Node, error) {
	selects := setOpr.SelectList.Selects
	baseSel, ok := selects[0].(*ast.SelectStmt)
	if !ok {
		return nil, unsupported(selects[0])
	}
	stepSel, ok := selects[1].(*ast.SelectStmt)
	if !ok {
		return nil, unsupported(selects[1])
	}
	unionAll := stepSel.AfterSetOperator != nil && *stepSel.AfterSetOperator == ast.UnionAll

	baseNode, err := c.CompileSelect(ctx, baseSel)
	if err != nil {
		return nil, err
	}

	build := func(working queryexec.Node) queryexec.Node {
		step := &Compiler{Store: c.Store, NS: c.NS, Txn: c.Txn, Outer: c.Outer, ViewPath: c.ViewPath}
		step.CTEs = make(map[string]queryexec.Node, len(c.CTEs)+1)
		for k, v := range c.CTEs {
			step.CTEs[k] = v
		}
		step.CTEs[name] = working
		node, err := step.CompileSelect(ctx, stepSel)
		if err != nil {
			return &erroringNode{err: err}
		}
		return node
	}

	return &queryexec.RecursiveCTE{Base: baseNode, BuildStep: build, UnionAll: unionAll}, nil
}

// renameNode overrides a child's output column names positionally, the
// column-alias list a CTE may declare (`WITH n(i) AS (...)`).
type renameNode struct {
	Child queryexec.Node
	Names []string
}

func (r *renameNode) Schema() queryexec.Schema {
	child := r.Child.Schema()
	out := make(queryexec.Schema, len(child))
	for i, c := range child {
		name := c.Name
		if i < len(r.Names) {
			name = r.Names[i]
		}
		out[i] = queryexec.ColumnRef{Alias: c.Alias, Name: name}
	}
	return out
}

func (r *renameNode) Exec(ctx context.Context) ([]eval.Row, error) { return r.Child.Exec(ctx) }

// erroringNode smuggles a compile-time error out of RecursiveCTE's
// BuildStep, whose signature has no error return (each iteration's step
// must recompile since the working-set node it closes over changes).
type erroringNode struct{ err error }

func (e *erroringNode) Schema() queryexec.Schema                     { return nil }
func (e *erroringNode) Exec(context.Context) ([]eval.Row, error) { return nil, e.err }

func (c *Compiler) compileValuesOnlySelect(ctx context.Context, stmt *ast.SelectStmt) (queryexec.Node, error) {
	items, err := c.projectItems(stmt.Fields, nil, nil)
	if err != nil {
		return nil, err
	}
	single := &queryexec.Project{Child: &oneRowNode{}, Items: items}
	return single, nil
}

// oneRowNode is the implicit single-row source of a FROM-less SELECT
// (`SELECT 1 + 1`), matching PostgreSQL's dummy one-row relation.
type oneRowNode struct{}

func (oneRowNode) Schema() queryexec.Schema                     { return nil }
func (oneRowNode) Exec(ctx context.Context) ([]eval.Row, error) { return []eval.Row{{}}, nil }

func constInt(e ast.ExprNode) (int64, error) {
	compiled, err := CompileExpr(e, nil)
	if err != nil {
		return 0, err
	}
	v, err := compiled.Eval(context.Background(), constRC{})
	if err != nil {
		return 0, err
	}
	if v.Kind != value.KindInt {
		return 0, errs.New(errs.TypeError, "LIMIT/OFFSET must be an integer")
	}
	return v.Int, nil
}

type constRC struct{}

func (constRC) Column(alias, name string) (value.Value, error) {
	return value.Value{}, errs.New(errs.SyntaxError, "LIMIT/OFFSET may not reference a column")
}
func (constRC) Outer() eval.RowContext { return nil }

// compileResultSetNode compiles a FROM-clause source: a base table, or a
// join tree of such sources.
func (c *Compiler) compileResultSetNode(ctx context.Context, node ast.ResultSetNode) (queryexec.Node, error) {
	switch n := node.(type) {
	case *ast.Join:
		return c.compileJoin(ctx, n)
	case *ast.TableSource:
		return c.compileTableSource(ctx, n)
	default:
		return nil, unsupported(node)
	}
}

func (c *Compiler) compileJoin(ctx context.Context, j *ast.Join) (queryexec.Node, error) {
	if j.Right == nil {
		return c.compileResultSetNode(ctx, j.Left)
	}
	left, err := c.compileResultSetNode(ctx, j.Left)
	if err != nil {
		return nil, err
	}
	right, err := c.compileResultSetNode(ctx, j.Right)
	if err != nil {
		return nil, err
	}
	join := &queryexec.Join{Left: left, Right: right, Natural: j.NaturalJoin}
	switch j.Tp {
	case ast.LeftJoin:
		join.Kind = queryexec.LeftJoin
	case ast.RightJoin:
		join.Kind = queryexec.RightJoin
	default:
		join.Kind = queryexec.InnerJoin
	}
	join.Outer = c.Outer
	if j.On != nil {
		on, err := CompileExpr(j.On.Expr, c.subqueryCompiler())
		if err != nil {
			return nil, err
		}
		join.On = on
	} else if !j.NaturalJoin {
		join.Kind = queryexec.CrossJoin
	}
	return join, nil
}

// compileTableSource resolves a FROM item: a CTE binding visible at this
// point, a base table, a materialized view's shadow table, or a plain
// view's inlined query text, in that order.
func (c *Compiler) compileTableSource(ctx context.Context, ts *ast.TableSource) (queryexec.Node, error) {
	tn, ok := ts.Source.(*ast.TableName)
	if !ok {
		return nil, unsupported(ts.Source)
	}
	alias := ts.AsName.O

	if cteNode, ok := c.CTEs[tn.Name.O]; ok {
		if alias == "" {
			alias = tn.Name.O
		}
		return &queryexec.Alias{Child: cteNode, Name: alias}, nil
	}

	schema, err := c.Store.GetTable(ctx, tn.Name.O)
	if err != nil {
		if !errs.As(err, errs.UndefinedTable) {
			return nil, err
		}
		if mv, mvErr := c.Store.GetMatview(ctx, tn.Name.O); mvErr == nil {
			return c.compileMatviewReference(ctx, mv, alias)
		}
		return c.compileViewReference(ctx, tn.Name.O, alias)
	}
	if alias == "" {
		alias = schema.Name
	}
	src := planner.TableSource{
		Alias:            alias,
		TableName:        schema.Name,
		RowCountEstimate: 0,
	}
	if len(schema.PrimaryKey) > 0 {
		src.PKColumns = colNames(schema, schema.PrimaryKey)
	}
	for _, idx := range schema.Indexes {
		src.Indexes = append(src.Indexes, planner.IndexCandidate{
			IndexID: idx.IndexID, Columns: colNames(schema, idx.Columns), Unique: idx.Unique,
		})
	}
	plan := planner.ChooseScanKind(src)
	return &queryexec.TableScan{
		AliasName: alias,
		Table:     schema,
		NS:        c.NS,
		Txn:       c.Txn,
		Kind:      plan.Kind,
		IndexID:   plan.IndexID,
	}, nil
}

// compileMatviewReference scans a materialized view's shadow table under
// the view's own name (spec §4.7: REFRESH populates the shadow table,
// queries against the view name just read it back).
func (c *Compiler) compileMatviewReference(ctx context.Context, mv *catalog.MaterializedView, alias string) (queryexec.Node, error) {
	shadow, err := c.Store.GetTable(ctx, mv.ShadowTable)
	if err != nil {
		return nil, err
	}
	if alias == "" {
		alias = mv.Name
	}
	return &queryexec.TableScan{AliasName: alias, Table: shadow, NS: c.NS, Txn: c.Txn}, nil
}

// compileViewReference inlines a view's defining query in place of a base
// table reference (spec §4.10: a view is recompiled from its stored query
// text on every reference, never materialized). ViewPath guards against a
// view that directly or transitively references itself.
func (c *Compiler) compileViewReference(ctx context.Context, name, alias string) (queryexec.Node, error) {
	for _, v := range c.ViewPath {
		if v == name {
			return nil, errs.New(errs.ViewCycle, "view %q is defined in terms of itself", name).WithObject(name)
		}
	}
	view, err := c.Store.GetView(ctx, name)
	if err != nil {
		return nil, err
	}
	stmt, err := NewParser().ParseOne(view.QueryText)
	if err != nil {
		return nil, err
	}
	sel, ok := stmt.(*ast.SelectStmt)
	if !ok {
		return nil, errs.New(errs.Internal, "view %q body is not a SELECT", name).WithObject(name)
	}
	sub := &Compiler{
		Store: c.Store, NS: c.NS, Txn: c.Txn, Outer: c.Outer,
		ViewPath: append(append([]string{}, c.ViewPath...), name),
	}
	node, err := sub.CompileSelect(ctx, sel)
	if err != nil {
		return nil, err
	}
	if alias == "" {
		alias = name
	}
	return &queryexec.Alias{Child: node, Name: alias}, nil
}

func colNames(schema *catalog.TableSchema, idxs []int) []string {
	out := make([]string, len(idxs))
	for i, idx := range idxs {
		out[i] = schema.Columns[idx].Name
	}
	return out
}

// applyProjectionAndGrouping implements spec §4.9 steps 3-4: when the
// SELECT list or HAVING references an aggregate, the whole projection runs
// through one queryexec.GroupBy pass so HAVING shares that pass's
// accumulators; a window function, if any, runs in its own pass after
// grouping and before the final projection (spec §4.5's window functions
// see the grouped/filtered rows, never the other way around).
func (c *Compiler) applyProjectionAndGrouping(ctx context.Context, stmt *ast.SelectStmt, child queryexec.Node) (queryexec.Node, error) {
	aggs, aggNames, aggIdx, err := collectAggregates(stmt)
	if err != nil {
		return nil, err
	}
	winSpecs, winNames, winIdx, err := c.collectWindows(stmt.Fields)
	if err != nil {
		return nil, err
	}
	hasGroupBy := stmt.GroupBy != nil && len(stmt.GroupBy.Items) > 0

	var src queryexec.Node = child
	var gb *queryexec.GroupBy

	if len(aggs) > 0 || hasGroupBy {
		var groupExprs []eval.Expr
		var groupNames queryexec.Schema
		if hasGroupBy {
			for _, item := range stmt.GroupBy.Items {
				e, err := CompileExpr(item.Expr, c.subqueryCompiler())
				if err != nil {
					return nil, err
				}
				groupExprs = append(groupExprs, e)
				groupNames = append(groupNames, queryexec.ColumnRef{Name: exprLabel(item.Expr)})
			}
		}
		gb = &queryexec.GroupBy{
			Child: child, GroupExprs: groupExprs, GroupNames: groupNames,
			Aggs: aggs, AggNames: aggNames, Outer: c.Outer,
		}
		if stmt.Having != nil {
			having, err := compileHavingExpr(stmt.Having.Expr, aggIdx, c.subqueryCompiler())
			if err != nil {
				return nil, err
			}
			gb.Having = having
		}
		src = gb
	}

	if len(winSpecs) > 0 {
		src = &queryexec.Window{Child: src, Specs: winSpecs, Names: winNames, Outer: c.Outer}
	}

	var items []queryexec.ProjectItem
	if gb != nil {
		items, err = c.projectItemsOverGroup(stmt.Fields, gb, winIdx)
	} else {
		items, err = c.projectItems(stmt.Fields, child.Schema(), winIdx)
	}
	if err != nil {
		return nil, err
	}
	return &queryexec.Project{Child: src, Items: items, Outer: c.Outer}, nil
}

// projectItemsOverGroup compiles the SELECT list against a GroupBy node's
// output schema (group columns, then aggregate result columns), so a
// projected aggregate expression resolves to the already-computed column
// rather than re-evaluating the aggregate per row. Wildcard expansion is
// against the GroupBy's own output — the only columns a grouped query may
// legally project.
func (c *Compiler) projectItemsOverGroup(fields *ast.FieldList, gb *queryexec.GroupBy, winIdx map[*ast.WindowFuncExpr]string) ([]queryexec.ProjectItem, error) {
	items := make([]queryexec.ProjectItem, 0, len(fields.Fields))
	aggCursor := len(gb.GroupNames)
	groupCursor := 0
	wildcardSchema := gb.Schema()
	for _, f := range fields.Fields {
		if f.WildCard != nil {
			expanded, err := expandWildcard(wildcardSchema, f.WildCard.Table.O)
			if err != nil {
				return nil, err
			}
			items = append(items, expanded...)
			continue
		}
		name := fieldName(f)
		if wf, ok := f.Expr.(*ast.WindowFuncExpr); ok {
			colName, ok := winIdx[wf]
			if !ok {
				return nil, errs.New(errs.Internal, "unresolved window function")
			}
			items = append(items, queryexec.ProjectItem{Expr: eval.Column{Name: colName}, Name: name})
			continue
		}
		if isAggregateExpr(f.Expr) {
			items = append(items, queryexec.ProjectItem{
				Expr: eval.Column{Name: gb.AggNames[aggCursorIndex(gb, aggCursor)].Name}, Name: name,
			})
			aggCursor++
			continue
		}
		if groupCursor < len(gb.GroupNames) {
			items = append(items, queryexec.ProjectItem{Expr: eval.Column{Name: gb.GroupNames[groupCursor].Name}, Name: name})
			groupCursor++
			continue
		}
		return nil, errs.New(errs.SyntaxError, "column %q must appear in GROUP BY or be used in an aggregate", name)
	}
	return items, nil
}

func aggCursorIndex(gb *queryexec.GroupBy, i int) int { return i - len(gb.GroupNames) }

// projectItems compiles an ungrouped SELECT list. wildcardSchema is the
// source schema `*`/`t.*` expands against; winIdx maps a window-function
// field to the synthetic column a preceding queryexec.Window already
// computed for it.
func (c *Compiler) projectItems(fields *ast.FieldList, wildcardSchema queryexec.Schema, winIdx map[*ast.WindowFuncExpr]string) ([]queryexec.ProjectItem, error) {
	items := make([]queryexec.ProjectItem, 0, len(fields.Fields))
	for _, f := range fields.Fields {
		if f.WildCard != nil {
			expanded, err := expandWildcard(wildcardSchema, f.WildCard.Table.O)
			if err != nil {
				return nil, err
			}
			items = append(items, expanded...)
			continue
		}
		if wf, ok := f.Expr.(*ast.WindowFuncExpr); ok {
			name, ok := winIdx[wf]
			if !ok {
				return nil, errs.New(errs.Internal, "unresolved window function")
			}
			items = append(items, queryexec.ProjectItem{Expr: eval.Column{Name: name}, Name: fieldName(f)})
			continue
		}
		e, err := CompileExpr(f.Expr, c.subqueryCompiler())
		if err != nil {
			return nil, err
		}
		items = append(items, queryexec.ProjectItem{Expr: e, Name: fieldName(f)})
	}
	return items, nil
}

// expandWildcard turns `*` (qualifier == "") or `t.*` into one ProjectItem
// per matching source column, preserving its alias/name so the projected
// output is addressable the same way the source column was (spec §4.9 step
// 2's natural-join common-column collapsing is already baked into schema,
// since queryexec.Join.Schema lists a natural join's shared columns once).
func expandWildcard(schema queryexec.Schema, qualifier string) ([]queryexec.ProjectItem, error) {
	var items []queryexec.ProjectItem
	for _, col := range schema {
		if qualifier != "" && col.Alias != qualifier {
			continue
		}
		items = append(items, queryexec.ProjectItem{
			Expr:  eval.Column{Alias: col.Alias, Name: col.Name},
			Alias: col.Alias,
			Name:  col.Name,
		})
	}
	if qualifier != "" && len(items) == 0 {
		return nil, errs.New(errs.UndefinedTable, "missing FROM-clause entry for table %q", qualifier).WithObject(qualifier)
	}
	return items, nil
}

func fieldName(f *ast.SelectField) string {
	if f.AsName.O != "" {
		return f.AsName.O
	}
	return exprLabel(f.Expr)
}

func exprLabel(e ast.ExprNode) string {
	if col, ok := e.(*ast.ColumnNameExpr); ok {
		return col.Name.Name.O
	}
	return "?column?"
}

func isAggregateExpr(e ast.ExprNode) bool {
	_, ok := e.(*ast.AggregateFuncExpr)
	return ok
}

// collectAggregates gathers one agg.AggSpec per aggregate call referenced
// anywhere in stmt's SELECT list or its HAVING clause (spec §4.5: an
// aggregate that appears only in HAVING, e.g. `HAVING COUNT(*) > 1` with no
// COUNT(*) projected, must still be collected and evaluated exactly once
// per group, not silently dropped or re-seeded). The returned index maps
// each HAVING-referenced aggregate AST node to its output column name, so
// compileHavingExpr can splice in a reference instead of re-evaluating it.
func collectAggregates(stmt *ast.SelectStmt) ([]agg.AggSpec, queryexec.Schema, map[*ast.AggregateFuncExpr]string, error) {
	var specs []agg.AggSpec
	var names queryexec.Schema
	idx := make(map[*ast.AggregateFuncExpr]string)

	add := func(af *ast.AggregateFuncExpr, label string) error {
		kind, err := aggKind(af.F)
		if err != nil {
			return err
		}
		spec := agg.AggSpec{Kind: kind}
		switch len(af.Args) {
		case 1:
			e, err := CompileExpr(af.Args[0], nil)
			if err != nil {
				return err
			}
			spec.Arg = e
		case 0:
			if kind != agg.Count {
				return errs.New(errs.SyntaxError, "%s() requires an argument", af.F)
			}
			spec.Star = true
		default:
			return errs.New(errs.SyntaxError, "%s() takes exactly one argument", af.F)
		}
		specs = append(specs, spec)
		names = append(names, queryexec.ColumnRef{Name: label})
		idx[af] = label
		return nil
	}

	for _, f := range stmt.Fields.Fields {
		af, ok := f.Expr.(*ast.AggregateFuncExpr)
		if !ok {
			continue
		}
		if err := add(af, fieldName(f)); err != nil {
			return nil, nil, nil, err
		}
	}
	if stmt.Having != nil {
		for _, af := range findAggregatesIn(stmt.Having.Expr) {
			if _, already := idx[af]; already {
				continue
			}
			if err := add(af, fmt.Sprintf("?having_agg_%d?", len(specs))); err != nil {
				return nil, nil, nil, err
			}
		}
	}
	return specs, names, idx, nil
}

// findAggregatesIn walks the connective/comparison node kinds a HAVING
// clause realistically uses (AND/OR/NOT, comparisons, IS NULL, BETWEEN,
// parentheses) looking for embedded aggregate calls. It does not reach
// into a FUNC-call or CASE argument list — an aggregate nested that deeply
// in HAVING is not a shape spec §4.5's scenarios exercise.
func findAggregatesIn(e ast.ExprNode) []*ast.AggregateFuncExpr {
	switch n := e.(type) {
	case *ast.AggregateFuncExpr:
		return []*ast.AggregateFuncExpr{n}
	case *ast.ParenthesesExpr:
		return findAggregatesIn(n.Expr)
	case *ast.BinaryOperationExpr:
		return append(findAggregatesIn(n.L), findAggregatesIn(n.R)...)
	case *ast.UnaryOperationExpr:
		return findAggregatesIn(n.V)
	case *ast.IsNullExpr:
		return findAggregatesIn(n.Expr)
	case *ast.BetweenExpr:
		out := findAggregatesIn(n.Expr)
		out = append(out, findAggregatesIn(n.Left)...)
		out = append(out, findAggregatesIn(n.Right)...)
		return out
	default:
		return nil
	}
}

// compileHavingExpr mirrors CompileExpr for the connective/comparison node
// kinds findAggregatesIn also walks, substituting a resolved column
// reference for any aggregate call instead of CompileExpr's "aggregate may
// only appear in a SELECT list or HAVING clause" error — the one context
// where a bare aggregate is legal and already computed by the time HAVING
// runs (internal/queryexec/groupby.go evaluates Having against GroupBy's
// own per-group output row).
func compileHavingExpr(e ast.ExprNode, aggIdx map[*ast.AggregateFuncExpr]string, subq SubqueryCompiler) (eval.Expr, error) {
	switch n := e.(type) {
	case *ast.AggregateFuncExpr:
		name, ok := aggIdx[n]
		if !ok {
			return nil, errs.New(errs.Internal, "unresolved aggregate in HAVING clause")
		}
		return eval.Column{Name: name}, nil

	case *ast.ParenthesesExpr:
		return compileHavingExpr(n.Expr, aggIdx, subq)

	case *ast.BinaryOperationExpr:
		l, err := compileHavingExpr(n.L, aggIdx, subq)
		if err != nil {
			return nil, err
		}
		r, err := compileHavingExpr(n.R, aggIdx, subq)
		if err != nil {
			return nil, err
		}
		return eval.Binary{Op: binaryOpText(n.Op), Left: l, Right: r}, nil

	case *ast.UnaryOperationExpr:
		v, err := compileHavingExpr(n.V, aggIdx, subq)
		if err != nil {
			return nil, err
		}
		op := "-"
		switch n.Op.String() {
		case "!", "not":
			op = "NOT"
		case "+", "plus":
			op = "+"
		case "-", "minus":
			op = "-"
		}
		return eval.Unary{Op: op, Expr: v}, nil

	case *ast.IsNullExpr:
		v, err := compileHavingExpr(n.Expr, aggIdx, subq)
		if err != nil {
			return nil, err
		}
		op := "ISNULL"
		if n.Not {
			op = "ISNOTNULL"
		}
		return eval.Unary{Op: op, Expr: v}, nil

	case *ast.BetweenExpr:
		v, err := compileHavingExpr(n.Expr, aggIdx, subq)
		if err != nil {
			return nil, err
		}
		lo, err := compileHavingExpr(n.Left, aggIdx, subq)
		if err != nil {
			return nil, err
		}
		hi, err := compileHavingExpr(n.Right, aggIdx, subq)
		if err != nil {
			return nil, err
		}
		between := eval.Binary{
			Op:    "AND",
			Left:  eval.Binary{Op: ">=", Left: v, Right: lo},
			Right: eval.Binary{Op: "<=", Left: v, Right: hi},
		}
		if n.Not {
			return eval.Unary{Op: "NOT", Expr: between}, nil
		}
		return between, nil

	default:
		return CompileExpr(e, subq)
	}
}

func aggKind(name string) (agg.Kind, error) {
	switch name {
	case "count":
		return agg.Count, nil
	case "sum":
		return agg.Sum, nil
	case "avg":
		return agg.Avg, nil
	case "min":
		return agg.Min, nil
	case "max":
		return agg.Max, nil
	default:
		return "", errs.New(errs.UndefinedFunction, "unsupported aggregate %s", name)
	}
}

// collectWindows gathers one agg.WindowSpec per `func(...) OVER (...)`
// call in the SELECT list (spec §4.5's window functions: ROW_NUMBER, RANK,
// DENSE_RANK, LEAD, LAG, and windowed SUM/AVG/COUNT/MIN/MAX). The returned
// index maps each field's *ast.WindowFuncExpr to the synthetic column a
// queryexec.Window node appends, so projectItems/projectItemsOverGroup can
// reference the already-computed value instead of re-evaluating it.
func (c *Compiler) collectWindows(fields *ast.FieldList) ([]agg.WindowSpec, queryexec.Schema, map[*ast.WindowFuncExpr]string, error) {
	var specs []agg.WindowSpec
	var names queryexec.Schema
	idx := make(map[*ast.WindowFuncExpr]string)
	for _, f := range fields.Fields {
		wf, ok := f.Expr.(*ast.WindowFuncExpr)
		if !ok {
			continue
		}
		spec, err := c.compileWindowSpec(wf)
		if err != nil {
			return nil, nil, nil, err
		}
		label := fieldName(f)
		specs = append(specs, spec)
		names = append(names, queryexec.ColumnRef{Name: label})
		idx[wf] = label
	}
	return specs, names, idx, nil
}

func (c *Compiler) compileWindowSpec(wf *ast.WindowFuncExpr) (agg.WindowSpec, error) {
	kind, err := windowKind(wf.Name)
	if err != nil {
		return agg.WindowSpec{}, err
	}
	spec := agg.WindowSpec{Kind: kind}

	switch kind {
	case agg.Lead, agg.Lag:
		if len(wf.Args) < 1 {
			return agg.WindowSpec{}, errs.New(errs.SyntaxError, "%s() requires an argument", wf.Name)
		}
		arg, err := CompileExpr(wf.Args[0], c.subqueryCompiler())
		if err != nil {
			return agg.WindowSpec{}, err
		}
		spec.Arg = arg
		spec.Offset = 1
		if len(wf.Args) > 1 {
			n, err := constInt(wf.Args[1])
			if err != nil {
				return agg.WindowSpec{}, err
			}
			spec.Offset = n
		}
		if len(wf.Args) > 2 {
			def, err := CompileExpr(wf.Args[2], c.subqueryCompiler())
			if err != nil {
				return agg.WindowSpec{}, err
			}
			spec.Default = def
		}

	case agg.RowNumber, agg.Rank, agg.DenseRank:
		// No argument.

	default: // WinCount/WinSum/WinAvg/WinMin/WinMax
		switch len(wf.Args) {
		case 1:
			arg, err := CompileExpr(wf.Args[0], c.subqueryCompiler())
			if err != nil {
				return agg.WindowSpec{}, err
			}
			spec.Arg = arg
		case 0:
			if kind != agg.WinCount {
				return agg.WindowSpec{}, errs.New(errs.SyntaxError, "%s() requires an argument", wf.Name)
			}
		default:
			return agg.WindowSpec{}, errs.New(errs.SyntaxError, "%s() takes exactly one argument", wf.Name)
		}
	}

	if wf.Spec.PartitionBy != nil {
		for _, item := range wf.Spec.PartitionBy.Items {
			e, err := CompileExpr(item.Expr, c.subqueryCompiler())
			if err != nil {
				return agg.WindowSpec{}, err
			}
			spec.PartitionBy = append(spec.PartitionBy, e)
		}
	}
	if wf.Spec.OrderBy != nil {
		spec.HasOrderBy = true
		for _, item := range wf.Spec.OrderBy.Items {
			e, err := CompileExpr(item.Expr, c.subqueryCompiler())
			if err != nil {
				return agg.WindowSpec{}, err
			}
			spec.OrderBy = append(spec.OrderBy, agg.OrderKey{Expr: e, Desc: item.Desc})
		}
	}
	return spec, nil
}

func windowKind(name string) (agg.WindowKind, error) {
	switch strings.ToLower(name) {
	case "row_number":
		return agg.RowNumber, nil
	case "rank":
		return agg.Rank, nil
	case "dense_rank":
		return agg.DenseRank, nil
	case "lead":
		return agg.Lead, nil
	case "lag":
		return agg.Lag, nil
	case "count":
		return agg.WinCount, nil
	case "sum":
		return agg.WinSum, nil
	case "avg":
		return agg.WinAvg, nil
	case "min":
		return agg.WinMin, nil
	case "max":
		return agg.WinMax, nil
	default:
		return "", errs.New(errs.UndefinedFunction, "unsupported window function %s", name)
	}
}

// subqueryCompiler binds a SubqueryCompiler to this Compiler's transaction,
// for EXISTS/IN/scalar subqueries discovered while compiling an
// expression. Each correlated reference re-plans its inner SELECT at Run
// time (see planSubquery.Run), since the enclosing row — and so the outer
// value a correlated OuterColumn resolves to — is only known then.
func (c *Compiler) subqueryCompiler() SubqueryCompiler {
	return &correlatedCompiler{c: c}
}

type correlatedCompiler struct {
	c *Compiler
}

func (s *correlatedCompiler) Scalar(sel *ast.SubqueryExpr) (eval.Expr, error) {
	sub, err := s.plan(sel)
	if err != nil {
		return nil, err
	}
	return eval.ScalarSubquery{Sub: sub}, nil
}

func (s *correlatedCompiler) Exists(sel *ast.SubqueryExpr, not bool) (eval.Expr, error) {
	sub, err := s.plan(sel)
	if err != nil {
		return nil, err
	}
	return eval.ExistsExpr{Sub: sub, Not: not}, nil
}

func (s *correlatedCompiler) In(sel *ast.SubqueryExpr, lhs eval.Expr, not bool) (eval.Expr, error) {
	sub, err := s.plan(sel)
	if err != nil {
		return nil, err
	}
	return eval.InSubquery{Expr: lhs, Sub: sub, Not: not}, nil
}

func (s *correlatedCompiler) plan(sel *ast.SubqueryExpr) (eval.SubqueryExecutor, error) {
	inner, ok := sel.Query.(*ast.SelectStmt)
	if !ok {
		return nil, unsupported(sel)
	}
	return &planSubquery{c: s.c, stmt: inner}, nil
}

// planSubquery defers compiling the inner SELECT until Run, when the outer
// row context is known, since a correlated subquery's plan may reference
// the outer row (spec §4.4's correlated-subquery rule).
type planSubquery struct {
	c    *Compiler
	stmt *ast.SelectStmt
}

func (p *planSubquery) Run(ctx context.Context, outer eval.RowContext) ([]eval.Row, error) {
	node, err := p.c.withOuter(outer).CompileSelect(ctx, p.stmt)
	if err != nil {
		return nil, err
	}
	return node.Exec(ctx)
}
