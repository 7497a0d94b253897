package frontend

import (
	"context"

	"github.com/pingcap/tidb/pkg/parser/ast"

	"pgkv/internal/session"
)

// RunTxnControl executes a BEGIN/COMMIT/ROLLBACK statement against sess
// (spec §4.3's three transaction-control statements). It reports whether
// stmt was one of these, so the caller's statement dispatcher can fall
// through to ordinary DML/DDL/query handling otherwise.
func RunTxnControl(ctx context.Context, stmt ast.StmtNode, sess *session.Session) (bool, error) {
	switch stmt.(type) {
	case *ast.BeginStmt:
		return true, sess.Begin(ctx)
	case *ast.CommitStmt:
		return true, sess.Commit(ctx)
	case *ast.RollbackStmt:
		return true, sess.Rollback(ctx)
	default:
		return false, nil
	}
}
