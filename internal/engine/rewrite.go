package engine

import (
	"regexp"
	"strings"

	"pgkv/internal/catalog"
)

// The parser (github.com/pingcap/tidb/pkg/parser) speaks MySQL's dialect,
// which has no grammar for PostgreSQL's RETURNING clause or ON CONFLICT
// upsert syntax — spec §4.8 requires both. Rather than carry a second,
// PostgreSQL-dialect parser for two clauses, Execute strips them out of
// the statement text with the same kind of targeted regexp pgwire uses to
// recognize COPY ... FROM STDIN ahead of the real parser (see
// internal/pgwire/conn.go's copyFromRe), leaving MySQL-parseable SQL
// underneath and carrying what it stripped alongside the parsed AST.
var (
	returningRe         = regexp.MustCompile(`(?is)\s+RETURNING\s+(.+?)\s*;?\s*$`)
	conflictDoNothingRe = regexp.MustCompile(`(?is)\s+ON\s+CONFLICT\s*(?:\([^)]*\))?\s+DO\s+NOTHING\s*$`)
	conflictDoUpdateRe  = regexp.MustCompile(`(?is)\s+ON\s+CONFLICT\s*(?:\([^)]*\))?\s+DO\s+UPDATE\s+SET\s+(.+?)\s*$`)
)

// dmlExtras is what rewriteDML strips out of the statement text before
// handing it to the parser; dispatch applies it to the compiled spec once
// the table schema (and so the column name -> index mapping) is known.
type dmlExtras struct {
	Returning         []string // "*" or explicit column names; nil means no RETURNING clause
	ConflictDoNothing bool
}

// rewriteDML extracts a trailing RETURNING clause and a PostgreSQL-style
// ON CONFLICT clause from sql, returning MySQL-parseable SQL underneath.
// A DO UPDATE SET clause is rewritten into the parser's own ON DUPLICATE
// KEY UPDATE syntax so CompileInsert's existing conflict-compilation path
// handles it unchanged; DO NOTHING has no MySQL-syntax equivalent at all,
// so it is recorded in extras instead and applied after CompileInsert
// returns. A conflict_target WHERE predicate (which would select which
// conflicts get updated, rather than filter which rows participate) isn't
// modeled by dmlexec.InsertSpec and is rejected rather than silently
// ignored.
func rewriteDML(sql string) (string, dmlExtras, error) {
	var extras dmlExtras

	if m := returningRe.FindStringSubmatchIndex(sql); m != nil {
		list := sql[m[2]:m[3]]
		sql = sql[:m[0]]
		extras.Returning = splitColumnList(list)
	}

	if conflictDoNothingRe.MatchString(sql) {
		sql = conflictDoNothingRe.ReplaceAllString(sql, "")
		extras.ConflictDoNothing = true
	} else if m := conflictDoUpdateRe.FindStringSubmatchIndex(sql); m != nil {
		setText := sql[m[2]:m[3]]
		sql = sql[:m[0]] + " ON DUPLICATE KEY UPDATE " + setText
	}

	return sql, extras, nil
}

func splitColumnList(list string) []string {
	list = strings.TrimSpace(list)
	if list == "*" {
		return []string{"*"}
	}
	parts := strings.Split(list, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

// resolveReturningCols turns a RETURNING column list ("*" or explicit
// names) into schema column indexes, reusing the same name->index
// resolution ExecuteCopyFrom's column list already goes through.
func resolveReturningCols(schema *catalog.TableSchema, cols []string) ([]int, error) {
	if len(cols) == 1 && cols[0] == "*" {
		return schema.VisibleColumns(), nil
	}
	return resolveColumnIndexes(schema, cols)
}
