// Package frontend turns SQL text into the internal representations the
// rest of the engine executes: eval.Expr trees, queryexec.Node plans, and
// ddlexec/dmlexec statement specs (spec §1 "accepts standard SQL text...
// via the PostgreSQL wire protocol", spec §6).
//
// It parses with TiDB's SQL parser (the same "standard relational AST"
// the teacher's internal/parser/mysql package already uses to read CREATE
// TABLE dumps) and compiles a practical, commonly-used subset of the
// resulting AST rather than attempting exhaustive MySQL/TiDB-dialect
// coverage: PostgreSQL-only syntax the parser itself does not recognize
// (e.g. RETURNING on UPDATE/DELETE beyond INSERT, some cast shorthands) is
// out of reach of this parser choice entirely, a limitation recorded as an
// Open Question rather than worked around with a second parser.
package frontend

import (
	"fmt"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"

	"pgkv/internal/errs"
)

// Parser wraps one TiDB parser instance. Parser values are not safe for
// concurrent use, mirroring the teacher's mysql.Parser (and TiDB's own
// parser.Parser, which is itself not goroutine-safe); a session owns its
// own Parser.
type Parser struct {
	p *parser.Parser
}

func NewParser() *Parser {
	return &Parser{p: parser.New()}
}

// ParseOne parses exactly one statement (spec §6's Simple Query protocol
// sends one statement string per message after splitting on `;`).
func (p *Parser) ParseOne(sql string) (ast.StmtNode, error) {
	stmts, _, err := p.p.Parse(sql, "", "")
	if err != nil {
		return nil, errs.Wrap(errs.SyntaxError, err, "parse statement")
	}
	if len(stmts) != 1 {
		return nil, errs.New(errs.SyntaxError, "expected exactly one statement, got %d", len(stmts))
	}
	return stmts[0], nil
}

// Parse parses a (possibly multi-statement) SQL text into its constituent
// statements, for contexts that accept a whole script (spec §6's Simple
// Query message, which may carry several `;`-separated statements).
func (p *Parser) Parse(sql string) ([]ast.StmtNode, error) {
	stmts, _, err := p.p.Parse(sql, "", "")
	if err != nil {
		return nil, errs.Wrap(errs.SyntaxError, err, "parse statement")
	}
	return stmts, nil
}

func unsupported(node ast.Node) error {
	return errs.New(errs.SyntaxError, "unsupported SQL construct: %s", fmt.Sprintf("%T", node))
}
