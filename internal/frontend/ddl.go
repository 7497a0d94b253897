package frontend

import (
	"context"
	"strings"

	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/format"
	"github.com/pingcap/tidb/pkg/parser/model"
	"github.com/pingcap/tidb/pkg/parser/mysql"
	tidbtypes "github.com/pingcap/tidb/pkg/parser/types"

	"pgkv/internal/catalog"
	"pgkv/internal/ddlexec"
	"pgkv/internal/errs"
	"pgkv/internal/value"
)

// CompileCreateTable turns a CREATE TABLE statement into a
// ddlexec.CreateTableSpec: column types/defaults/nullability, the primary
// key, CHECK clauses, and foreign keys (spec §4.7). CREATE TABLE's
// PostgreSQL-only column types (uuid, jsonb, vector(n), interval) are
// outside the TiDB grammar this parser speaks and never reach here — a
// parse-time rejection, not a silent misparse.
func (c *Compiler) CompileCreateTable(ctx context.Context, stmt *ast.CreateTableStmt) (ddlexec.CreateTableSpec, error) {
	cols := make([]catalog.ColumnDef, len(stmt.Cols))
	colIndex := make(map[string]int, len(stmt.Cols))
	var pk []int
	for i, cd := range stmt.Cols {
		col, err := compileColumnDef(cd)
		if err != nil {
			return ddlexec.CreateTableSpec{}, err
		}
		cols[i] = col
		colIndex[col.Name] = i
		for _, opt := range cd.Options {
			if opt.Tp == ast.ColumnOptionPrimaryKey {
				pk = append(pk, i)
			}
		}
	}

	var checkExprs []string
	var fks []catalog.FKDef
	for _, con := range stmt.Constraints {
		switch con.Tp {
		case ast.ConstraintPrimaryKey:
			for _, k := range con.Keys {
				idx, ok := colIndex[k.Column.Name.O]
				if !ok {
					return ddlexec.CreateTableSpec{}, errs.New(errs.UndefinedColumn, "column %q does not exist", k.Column.Name.O)
				}
				pk = append(pk, idx)
			}
		case ast.ConstraintUniq, ast.ConstraintUniqKey, ast.ConstraintUniqIndex:
			for _, k := range con.Keys {
				if idx, ok := colIndex[k.Column.Name.O]; ok {
					cols[idx].Unique = true
				}
			}
		case ast.ConstraintCheck:
			text, err := restoreNodeText(con.Expr)
			if err != nil {
				return ddlexec.CreateTableSpec{}, err
			}
			checkExprs = append(checkExprs, text)
		case ast.ConstraintForeignKey:
			fk, err := c.compileForeignKey(ctx, con, colIndex)
			if err != nil {
				return ddlexec.CreateTableSpec{}, err
			}
			fks = append(fks, fk)
		}
	}

	return ddlexec.CreateTableSpec{
		Name:        stmt.Table.Name.O,
		IfNotExists: stmt.IfNotExists,
		Columns:     cols,
		PrimaryKey:  pk,
		ForeignKeys: fks,
		CheckExprs:  checkExprs,
	}, nil
}

func compileColumnDef(cd *ast.ColumnDef) (catalog.ColumnDef, error) {
	typeName, err := columnTypeName(cd.Tp)
	if err != nil {
		return catalog.ColumnDef{}, err
	}
	col := catalog.ColumnDef{Name: cd.Name.Name.O, Type: typeName, Nullable: true}
	for _, opt := range cd.Options {
		switch opt.Tp {
		case ast.ColumnOptionNotNull, ast.ColumnOptionPrimaryKey:
			col.Nullable = false
		case ast.ColumnOptionNull:
			col.Nullable = true
		case ast.ColumnOptionUniqKey:
			col.Unique = true
		case ast.ColumnOptionAutoIncrement:
			col.IsSerial = true
		case ast.ColumnOptionDefaultValue:
			text, err := restoreNodeText(opt.Expr)
			if err != nil {
				return catalog.ColumnDef{}, err
			}
			col.DefaultExpr = text
		}
	}
	return col, nil
}

// columnTypeName maps the parser's MySQL-family type codes onto the
// portable catalog.ColumnDef.Type categories internal/value defines.
// Anything not recognized (a type this parser's grammar otherwise let
// through) falls back to text rather than failing the whole statement.
func columnTypeName(tp *tidbtypes.FieldType) (value.TypeName, error) {
	switch tp.GetType() {
	case mysql.TypeTiny:
		if tp.GetFlen() == 1 {
			return value.TBool, nil
		}
		return value.TInt, nil
	case mysql.TypeShort, mysql.TypeInt24, mysql.TypeLong, mysql.TypeLonglong:
		return value.TInt, nil
	case mysql.TypeFloat, mysql.TypeDouble:
		return value.TFloat, nil
	case mysql.TypeNewDecimal, mysql.TypeDecimal:
		return value.TNumeric, nil
	case mysql.TypeVarchar, mysql.TypeVarString, mysql.TypeString:
		return value.TText, nil
	case mysql.TypeBlob, mysql.TypeTinyBlob, mysql.TypeMediumBlob, mysql.TypeLongBlob:
		return value.TBytes, nil
	case mysql.TypeDate, mysql.TypeDatetime, mysql.TypeTimestamp:
		return value.TTimestamp, nil
	case mysql.TypeJSON:
		return value.TJSON, nil
	default:
		return value.TText, nil
	}
}

func (c *Compiler) compileForeignKey(ctx context.Context, con *ast.Constraint, colIndex map[string]int) (catalog.FKDef, error) {
	cols := make([]int, len(con.Keys))
	for i, k := range con.Keys {
		idx, ok := colIndex[k.Column.Name.O]
		if !ok {
			return catalog.FKDef{}, errs.New(errs.UndefinedColumn, "column %q does not exist", k.Column.Name.O)
		}
		cols[i] = idx
	}
	if con.Refer == nil {
		return catalog.FKDef{}, errs.New(errs.SyntaxError, "foreign key missing REFERENCES clause")
	}
	refTableName := con.Refer.Table.Name.O
	refSchema, err := c.Store.GetTable(ctx, refTableName)
	if err != nil {
		return catalog.FKDef{}, err
	}
	refCols := make([]int, len(con.Refer.IndexPartSpecifications))
	for i, k := range con.Refer.IndexPartSpecifications {
		idx := refSchema.ColumnIndex(k.Column.Name.O)
		if idx < 0 {
			return catalog.FKDef{}, errs.New(errs.UndefinedColumn, "column %q does not exist", k.Column.Name.O).WithObject(refTableName)
		}
		refCols[i] = idx
	}
	return catalog.FKDef{
		Name:       con.Name,
		Columns:    cols,
		RefTable:   refTableName,
		RefColumns: refCols,
		OnDelete:   referentialAction(referOptOnDelete(con.Refer)),
		OnUpdate:   referentialAction(referOptOnUpdate(con.Refer)),
	}, nil
}

func referOptOnDelete(r *ast.ReferenceDef) model.ReferOptionType {
	if r.OnDelete == nil {
		return model.ReferOptionNoOption
	}
	return r.OnDelete.ReferOpt
}

func referOptOnUpdate(r *ast.ReferenceDef) model.ReferOptionType {
	if r.OnUpdate == nil {
		return model.ReferOptionNoOption
	}
	return r.OnUpdate.ReferOpt
}

func referentialAction(ro model.ReferOptionType) catalog.ReferentialAction {
	switch ro {
	case model.ReferOptionCascade:
		return catalog.ActionCascade
	case model.ReferOptionSetNull:
		return catalog.ActionSetNull
	case model.ReferOptionSetDefault:
		return catalog.ActionSetDefault
	case model.ReferOptionRestrict:
		return catalog.ActionRestrict
	default:
		return catalog.ActionNoAction
	}
}

// CompileDropTable resolves the table name and flags out of a DROP TABLE
// statement. MySQL's grammar allows a comma-separated table list; pgkv's
// engine only ever issues one DROP TABLE per statement (spec §4.7), so a
// multi-table DROP is rejected rather than silently dropping only the
// first name.
func CompileDropTable(stmt *ast.DropTableStmt) (name string, ifExists, cascade bool, err error) {
	if len(stmt.Tables) != 1 {
		return "", false, false, errs.New(errs.SyntaxError, "DROP TABLE supports exactly one table per statement")
	}
	return stmt.Tables[0].Name.O, stmt.IfExists, false, nil
}

// RunAlterTable executes every clause of an ALTER TABLE statement through
// exec in order (spec §4.7 allows several comma-separated clauses in one
// statement). Unlike CREATE/DROP TABLE, ALTER TABLE's clauses map to
// distinct ddlexec.Executor calls rather than one spec struct, so this
// drives exec directly instead of returning an intermediate value.
func RunAlterTable(ctx context.Context, stmt *ast.AlterTableStmt, exec *ddlexec.Executor) error {
	tableName := stmt.Table.Name.O
	for _, spec := range stmt.Specs {
		switch spec.Tp {
		case ast.AlterTableAddColumns:
			for _, cd := range spec.NewColumns {
				col, err := compileColumnDef(cd)
				if err != nil {
					return err
				}
				if err := exec.AddColumn(ctx, tableName, col); err != nil {
					return err
				}
			}
		case ast.AlterTableDropColumn:
			if err := exec.DropColumn(ctx, tableName, spec.OldColumnName.Name.O); err != nil {
				return err
			}
		case ast.AlterTableRenameColumn:
			if err := exec.RenameColumn(ctx, tableName, spec.OldColumnName.Name.O, spec.NewColumnName.Name.O); err != nil {
				return err
			}
		case ast.AlterTableAddConstraint:
			if spec.Constraint == nil || spec.Constraint.Tp != ast.ConstraintPrimaryKey {
				return unsupported(spec)
			}
			names := make([]string, len(spec.Constraint.Keys))
			for i, k := range spec.Constraint.Keys {
				names[i] = k.Column.Name.O
			}
			if err := exec.AddPrimaryKey(ctx, tableName, names); err != nil {
				return err
			}
		default:
			return unsupported(spec)
		}
	}
	return nil
}

// CompileCreateIndex resolves CREATE [UNIQUE] INDEX into the plain
// arguments ddlexec.Executor.CreateIndex expects.
func CompileCreateIndex(stmt *ast.CreateIndexStmt) (tableName, indexName string, colNames []string, unique bool) {
	cols := make([]string, len(stmt.IndexPartSpecifications))
	for i, p := range stmt.IndexPartSpecifications {
		cols[i] = p.Column.Name.O
	}
	return stmt.Table.Name.O, stmt.IndexName, cols, stmt.KeyType == ast.IndexKeyTypeUnique
}

// CompileCreateView resolves CREATE [OR REPLACE] VIEW into the view name
// and its defining query, restored back to SQL text (views are stored as
// text and recompiled on every reference, spec §4.10).
func CompileCreateView(stmt *ast.CreateViewStmt) (name, queryText string, orReplace bool, err error) {
	text, err := restoreNodeText(stmt.Select)
	if err != nil {
		return "", "", false, err
	}
	return stmt.ViewName.Name.O, text, stmt.OrReplace, nil
}

// restoreNodeText serializes a parsed AST node back to SQL text via
// TiDB's formatter, the one way to recover source text from an AST node
// once parsed (used for DEFAULT/CHECK expressions and view bodies, both
// of which the catalog persists as text rather than as compiled trees).
func restoreNodeText(n ast.Node) (string, error) {
	var b strings.Builder
	ctx := format.NewRestoreCtx(format.DefaultRestoreFlags, &b)
	if err := n.Restore(ctx); err != nil {
		return "", errs.Wrap(errs.Internal, err, "restore SQL text")
	}
	return b.String(), nil
}
