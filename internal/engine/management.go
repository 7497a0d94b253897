package engine

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/pingcap/tidb/pkg/parser/ast"

	"pgkv/internal/auth"
	"pgkv/internal/catalog"
	"pgkv/internal/ddlexec"
	"pgkv/internal/errs"
	"pgkv/internal/eval"
	"pgkv/internal/frontend"
	"pgkv/internal/keycodec"
	"pgkv/internal/kvstore"
	"pgkv/internal/session"
	"pgkv/internal/value"
)

// Management statements — materialized views, stored procedures, and the
// GRANT/REVOKE/CREATE ROLE surface of spec §4.7/§4.11 — have no MySQL-
// dialect grammar at all, so they never reach e.Parser.ParseOne. Execute
// recognizes them ahead of parsing with the same targeted-regexp approach
// rewriteDML uses for RETURNING/ON CONFLICT, and pgwire's copyFromRe uses
// for COPY: match the statement shape, extract its pieces textually, and
// drive the already-implemented ddlexec/auth methods directly.
var (
	createMatviewRe = regexp.MustCompile(`(?is)^\s*CREATE\s+MATERIALIZED\s+VIEW\s+(?:IF\s+NOT\s+EXISTS\s+)?([a-zA-Z_][a-zA-Z0-9_]*)\s+AS\s+(.+?)\s*;?\s*$`)
	createMatviewIfNotExistsRe = regexp.MustCompile(`(?is)^\s*CREATE\s+MATERIALIZED\s+VIEW\s+IF\s+NOT\s+EXISTS\s+`)
	refreshMatviewRe = regexp.MustCompile(`(?is)^\s*REFRESH\s+MATERIALIZED\s+VIEW\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*;?\s*$`)
	dropMatviewRe    = regexp.MustCompile(`(?is)^\s*DROP\s+MATERIALIZED\s+VIEW\s+(IF\s+EXISTS\s+)?([a-zA-Z_][a-zA-Z0-9_]*)\s*;?\s*$`)

	createProcRe = regexp.MustCompile(`(?is)^\s*CREATE\s+(?:OR\s+REPLACE\s+)?PROCEDURE\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\(([^)]*)\)\s+AS\s+BEGIN\s+(.+?)\s+END\s*;?\s*$`)
	createProcOrReplaceRe = regexp.MustCompile(`(?is)^\s*CREATE\s+OR\s+REPLACE\s+PROCEDURE\s+`)
	dropProcRe   = regexp.MustCompile(`(?is)^\s*DROP\s+PROCEDURE\s+(IF\s+EXISTS\s+)?([a-zA-Z_][a-zA-Z0-9_]*)\s*;?\s*$`)
	callRe       = regexp.MustCompile(`(?is)^\s*CALL\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\(([^)]*)\)\s*;?\s*$`)

	createRoleRe = regexp.MustCompile(`(?is)^\s*CREATE\s+ROLE\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*(.*?);?\s*$`)
	grantRoleRe  = regexp.MustCompile(`(?is)^\s*GRANT\s+([a-zA-Z_][a-zA-Z0-9_]*)\s+TO\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*;?\s*$`)
	revokeRoleRe = regexp.MustCompile(`(?is)^\s*REVOKE\s+([a-zA-Z_][a-zA-Z0-9_]*)\s+FROM\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*;?\s*$`)
	grantPrivRe  = regexp.MustCompile(`(?is)^\s*GRANT\s+([a-zA-Z, ]+?)\s+ON\s+([a-zA-Z_][a-zA-Z0-9_]*)\s+TO\s+([a-zA-Z_][a-zA-Z0-9_]*)(\s+WITH\s+GRANT\s+OPTION)?\s*;?\s*$`)
	revokePrivRe = regexp.MustCompile(`(?is)^\s*REVOKE\s+([a-zA-Z, ]+?)\s+ON\s+([a-zA-Z_][a-zA-Z0-9_]*)\s+FROM\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*;?\s*$`)
)

// executeManagement runs sql as a management statement if it matches one
// of the shapes above, reporting handled=false for anything else so
// Execute falls through to the normal parse/compile/dispatch path.
func (e *Engine) executeManagement(ctx context.Context, sess *session.Session, sql string) (Result, bool, error) {
	switch {
	case createMatviewRe.MatchString(sql):
		return e.runManaged(ctx, sess, func(ctx context.Context, store *catalog.Store, authMgr *auth.Manager, user *auth.User, txn kvstore.Txn, ns keycodec.Namespace) (Result, error) {
			return e.createMatview(ctx, sql, store, authMgr, user, ns, txn)
		})
	case refreshMatviewRe.MatchString(sql):
		m := refreshMatviewRe.FindStringSubmatch(sql)
		return e.runManaged(ctx, sess, func(ctx context.Context, store *catalog.Store, authMgr *auth.Manager, user *auth.User, txn kvstore.Txn, ns keycodec.Namespace) (Result, error) {
			return e.refreshMatview(ctx, m[1], store, authMgr, user, ns, txn)
		})
	case dropMatviewRe.MatchString(sql):
		m := dropMatviewRe.FindStringSubmatch(sql)
		return e.runManaged(ctx, sess, func(ctx context.Context, store *catalog.Store, authMgr *auth.Manager, user *auth.User, txn kvstore.Txn, ns keycodec.Namespace) (Result, error) {
			name := m[2]
			if err := authMgr.CheckPrivilege(ctx, user, auth.PrivCreate, name); err != nil {
				return Result{}, err
			}
			if err := ddlexec.New(store, ns, txn).DropMaterializedView(ctx, name, m[1] != ""); err != nil {
				return Result{}, err
			}
			return Result{Tag: "DROP MATERIALIZED VIEW"}, nil
		})

	case createProcRe.MatchString(sql):
		return e.runManaged(ctx, sess, func(ctx context.Context, store *catalog.Store, authMgr *auth.Manager, user *auth.User, txn kvstore.Txn, ns keycodec.Namespace) (Result, error) {
			return e.createProcedure(ctx, sql, store, authMgr, user, ns, txn)
		})
	case dropProcRe.MatchString(sql):
		m := dropProcRe.FindStringSubmatch(sql)
		return e.runManaged(ctx, sess, func(ctx context.Context, store *catalog.Store, authMgr *auth.Manager, user *auth.User, txn kvstore.Txn, ns keycodec.Namespace) (Result, error) {
			name := m[2]
			if err := authMgr.CheckPrivilege(ctx, user, auth.PrivCreate, name); err != nil {
				return Result{}, err
			}
			if err := ddlexec.New(store, ns, txn).DropProcedure(ctx, name, m[1] != ""); err != nil {
				return Result{}, err
			}
			return Result{Tag: "DROP PROCEDURE"}, nil
		})
	case callRe.MatchString(sql):
		m := callRe.FindStringSubmatch(sql)
		return e.runManaged(ctx, sess, func(ctx context.Context, store *catalog.Store, authMgr *auth.Manager, user *auth.User, txn kvstore.Txn, ns keycodec.Namespace) (Result, error) {
			name, args := m[1], splitArgs(m[2])
			if err := authMgr.CheckPrivilege(ctx, user, auth.PrivUsage, name); err != nil {
				return Result{}, err
			}
			runner := &statementRunner{engine: e, sess: sess}
			if err := ddlexec.New(store, ns, txn).Call(ctx, name, args, runner); err != nil {
				return Result{}, err
			}
			return Result{Tag: "CALL"}, nil
		})

	case createRoleRe.MatchString(sql):
		m := createRoleRe.FindStringSubmatch(sql)
		return e.runManaged(ctx, sess, func(ctx context.Context, store *catalog.Store, authMgr *auth.Manager, user *auth.User, txn kvstore.Txn, ns keycodec.Namespace) (Result, error) {
			if !user.Options.Superuser && !user.Options.CreateRole {
				return Result{}, errs.New(errs.PermissionDenied, "must have CREATEROLE privilege to create roles")
			}
			name, password, opts := parseRoleOpts(m[1], m[2])
			if err := authMgr.CreateRole(ctx, name, password, opts); err != nil {
				return Result{}, err
			}
			return Result{Tag: "CREATE ROLE"}, nil
		})
	case grantPrivRe.MatchString(sql):
		m := grantPrivRe.FindStringSubmatch(sql)
		return e.runManaged(ctx, sess, func(ctx context.Context, store *catalog.Store, authMgr *auth.Manager, user *auth.User, txn kvstore.Txn, ns keycodec.Namespace) (Result, error) {
			object, grantee, withGrant := m[2], m[3], m[4] != ""
			for _, priv := range splitPrivList(m[1]) {
				if err := authMgr.GrantPrivilege(ctx, grantee, object, priv, withGrant); err != nil {
					return Result{}, err
				}
			}
			return Result{Tag: "GRANT"}, nil
		})
	case revokePrivRe.MatchString(sql):
		m := revokePrivRe.FindStringSubmatch(sql)
		return e.runManaged(ctx, sess, func(ctx context.Context, store *catalog.Store, authMgr *auth.Manager, user *auth.User, txn kvstore.Txn, ns keycodec.Namespace) (Result, error) {
			object, grantee := m[2], m[3]
			for _, priv := range splitPrivList(m[1]) {
				if err := authMgr.RevokePrivilege(ctx, grantee, object, priv); err != nil {
					return Result{}, err
				}
			}
			return Result{Tag: "REVOKE"}, nil
		})
	case grantRoleRe.MatchString(sql):
		m := grantRoleRe.FindStringSubmatch(sql)
		return e.runManaged(ctx, sess, func(ctx context.Context, store *catalog.Store, authMgr *auth.Manager, user *auth.User, txn kvstore.Txn, ns keycodec.Namespace) (Result, error) {
			if err := authMgr.GrantRole(ctx, m[1], m[2]); err != nil {
				return Result{}, err
			}
			return Result{Tag: "GRANT"}, nil
		})
	case revokeRoleRe.MatchString(sql):
		m := revokeRoleRe.FindStringSubmatch(sql)
		return e.runManaged(ctx, sess, func(ctx context.Context, store *catalog.Store, authMgr *auth.Manager, user *auth.User, txn kvstore.Txn, ns keycodec.Namespace) (Result, error) {
			if err := authMgr.RevokeRole(ctx, m[1], m[2]); err != nil {
				return Result{}, err
			}
			return Result{Tag: "REVOKE"}, nil
		})
	}
	return Result{}, false, nil
}

// runManaged wraps fn in the same per-statement transaction/auth setup
// Execute's own closure uses, so every management statement runs as the
// session's user and commits atomically with the rest of the session's
// transaction handling. Privilege checks are left to fn: the GRANT and
// REVOKE branches of executeManagement perform none.
func (e *Engine) runManaged(ctx context.Context, sess *session.Session, fn func(context.Context, *catalog.Store, *auth.Manager, *auth.User, kvstore.Txn, keycodec.Namespace) (Result, error)) (Result, bool, error) {
	ns := sess.Namespace
	var result Result
	err := sess.WithStatement(ctx, func(ctx context.Context, txn kvstore.Txn) error {
		store := catalog.NewStore(ns, txn)
		authMgr := auth.NewManager(ns, txn)
		user, err := authMgr.GetUser(ctx, sess.User)
		if err != nil {
			return err
		}
		r, err := fn(ctx, store, authMgr, user, txn, ns)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, true, err
}

func (e *Engine) createMatview(ctx context.Context, sql string, store *catalog.Store, authMgr *auth.Manager, user *auth.User, ns keycodec.Namespace, txn kvstore.Txn) (Result, error) {
	m := createMatviewRe.FindStringSubmatch(sql)
	name, queryText := m[1], m[2]
	if err := authMgr.CheckPrivilege(ctx, user, auth.PrivCreate, name); err != nil {
		return Result{}, err
	}
	ifNotExists := createMatviewIfNotExistsRe.MatchString(sql)

	stmt, err := e.Parser.ParseOne(queryText)
	if err != nil {
		return Result{}, err
	}
	sel, ok := stmt.(*ast.SelectStmt)
	if !ok {
		return Result{}, errs.New(errs.SyntaxError, "materialized view query must be a SELECT")
	}
	compiler := frontend.New(store, ns, txn)
	node, err := compiler.CompileSelect(ctx, sel)
	if err != nil {
		return Result{}, err
	}
	rows, err := node.Exec(ctx)
	if err != nil {
		return Result{}, err
	}
	schema := node.Schema()
	cols := make([]catalog.ColumnDef, len(schema))
	for i, c := range schema {
		cols[i] = catalog.ColumnDef{Name: c.Name, Type: inferTypeName(rows, i), Nullable: true}
	}

	exec := ddlexec.New(store, ns, txn)
	if err := exec.CreateMaterializedView(ctx, name, queryText, cols, ifNotExists); err != nil {
		return Result{}, err
	}
	refreshRows := make([]catalog.Row, len(rows))
	for i, r := range rows {
		refreshRows[i] = catalog.Row(r)
	}
	if err := exec.RefreshMaterializedView(ctx, name, refreshRows, nowTS()); err != nil {
		return Result{}, err
	}
	return Result{Tag: "CREATE MATERIALIZED VIEW"}, nil
}

func (e *Engine) refreshMatview(ctx context.Context, name string, store *catalog.Store, authMgr *auth.Manager, user *auth.User, ns keycodec.Namespace, txn kvstore.Txn) (Result, error) {
	if err := authMgr.CheckPrivilege(ctx, user, auth.PrivCreate, name); err != nil {
		return Result{}, err
	}
	mv, err := store.GetMatview(ctx, name)
	if err != nil {
		return Result{}, err
	}
	stmt, err := e.Parser.ParseOne(mv.QueryText)
	if err != nil {
		return Result{}, err
	}
	sel, ok := stmt.(*ast.SelectStmt)
	if !ok {
		return Result{}, errs.New(errs.SyntaxError, "materialized view query must be a SELECT")
	}
	compiler := frontend.New(store, ns, txn)
	node, err := compiler.CompileSelect(ctx, sel)
	if err != nil {
		return Result{}, err
	}
	rows, err := node.Exec(ctx)
	if err != nil {
		return Result{}, err
	}
	refreshRows := make([]catalog.Row, len(rows))
	for i, r := range rows {
		refreshRows[i] = catalog.Row(r)
	}
	if err := ddlexec.New(store, ns, txn).RefreshMaterializedView(ctx, name, refreshRows, nowTS()); err != nil {
		return Result{}, err
	}
	return Result{Tag: "REFRESH MATERIALIZED VIEW"}, nil
}

func (e *Engine) createProcedure(ctx context.Context, sql string, store *catalog.Store, authMgr *auth.Manager, user *auth.User, ns keycodec.Namespace, txn kvstore.Txn) (Result, error) {
	m := createProcRe.FindStringSubmatch(sql)
	name, paramText, bodyText := m[1], m[2], m[3]
	if err := authMgr.CheckPrivilege(ctx, user, auth.PrivCreate, name); err != nil {
		return Result{}, err
	}
	params := parseParams(paramText)
	body := splitStatements(bodyText)
	orReplace := createProcOrReplaceRe.MatchString(sql)
	if err := ddlexec.New(store, ns, txn).CreateProcedure(ctx, name, params, body, orReplace); err != nil {
		return Result{}, err
	}
	return Result{Tag: "CREATE PROCEDURE"}, nil
}

// statementRunner lets ddlexec.Call delegate each procedure-body statement
// back through Engine.Execute, the same top-level dispatch any directly
// submitted statement goes through.
type statementRunner struct {
	engine *Engine
	sess   *session.Session
}

func (r *statementRunner) Run(ctx context.Context, sql string) error {
	_, err := r.engine.Execute(ctx, r.sess, sql)
	return err
}

func splitArgs(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

func splitStatements(s string) []string {
	parts := strings.Split(s, ";")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseParams(s string) []catalog.ParamDef {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]catalog.ParamDef, 0, len(parts))
	for _, p := range parts {
		fields := strings.Fields(strings.TrimSpace(p))
		if len(fields) == 0 {
			continue
		}
		def := catalog.ParamDef{Name: strings.TrimPrefix(fields[0], "$")}
		if len(fields) > 1 {
			def.Type = value.TypeName(strings.ToLower(fields[1]))
		} else {
			def.Type = value.TText
		}
		out = append(out, def)
	}
	return out
}

func splitPrivList(s string) []auth.Privilege {
	parts := strings.Split(s, ",")
	out := make([]auth.Privilege, 0, len(parts))
	for _, p := range parts {
		out = append(out, auth.Privilege(strings.ToUpper(strings.TrimSpace(p))))
	}
	return out
}

// parseRoleOpts reads the option keywords after CREATE ROLE <name>:
// LOGIN, SUPERUSER, CREATEDB, CREATEROLE, and PASSWORD '<text>'.
func parseRoleOpts(name, rest string) (string, string, auth.Options) {
	upper := strings.ToUpper(rest)
	opts := auth.Options{
		Login:      strings.Contains(upper, "LOGIN"),
		Superuser:  strings.Contains(upper, "SUPERUSER"),
		CreateDB:   strings.Contains(upper, "CREATEDB"),
		CreateRole: strings.Contains(upper, "CREATEROLE"),
	}
	password := ""
	if m := passwordRe.FindStringSubmatch(rest); m != nil {
		password = m[1]
	}
	return name, password, opts
}

var passwordRe = regexp.MustCompile(`(?is)PASSWORD\s+'([^']*)'`)

// inferTypeName picks a matview output column's catalog type from the
// first non-null value seen in that position, defaulting to text for an
// empty or all-null result (a matview's shadow table, unlike a CREATE
// TABLE, has no author-declared column types to fall back on).
func inferTypeName(rows []eval.Row, col int) value.TypeName {
	for _, r := range rows {
		if col >= len(r) {
			continue
		}
		if t, ok := kindTypeName(r[col].Kind); ok {
			return t
		}
	}
	return value.TText
}

func kindTypeName(k value.Kind) (value.TypeName, bool) {
	switch k {
	case value.KindBool:
		return value.TBool, true
	case value.KindInt:
		return value.TInt, true
	case value.KindFloat:
		return value.TFloat, true
	case value.KindNumeric:
		return value.TNumeric, true
	case value.KindText:
		return value.TText, true
	case value.KindBytes:
		return value.TBytes, true
	case value.KindTimestamp:
		return value.TTimestamp, true
	case value.KindInterval:
		return value.TInterval, true
	case value.KindUUID:
		return value.TUUID, true
	case value.KindJSON:
		return value.TJSON, true
	case value.KindJSONB:
		return value.TJSONB, true
	case value.KindArray:
		return value.TArray, true
	case value.KindVector:
		return value.TVector, true
	default:
		return "", false
	}
}

func nowTS() int64 {
	return time.Now().UnixNano()
}
