package ddlexec

import (
	"context"
	"strings"

	"pgkv/internal/catalog"
	"pgkv/internal/errs"
)

// CreateProcedure stores a parameter list and a statement body verbatim;
// substitution and execution happen at CALL time (spec §4.7).
func (e *Executor) CreateProcedure(ctx context.Context, name string, params []catalog.ParamDef, body []string, orReplace bool) error {
	if !orReplace {
		if _, err := e.Store.GetProcedure(ctx, name); err == nil {
			return errs.New(errs.Internal, "procedure %q already exists", name).WithObject(name)
		}
	}
	return e.Store.PutProcedure(ctx, &catalog.Procedure{Name: name, Params: params, Body: body})
}

func (e *Executor) DropProcedure(ctx context.Context, name string, ifExists bool) error {
	if _, err := e.Store.GetProcedure(ctx, name); err != nil {
		if ifExists && errs.As(err, errs.UndefinedFunction) {
			return nil
		}
		return err
	}
	return e.Store.DeleteProcedure(ctx, name)
}

// StatementRunner executes one already-substituted SQL statement text
// inside the caller's transaction. CALL has no compiled plan of its own: it
// delegates every body statement back through whatever executes top-level
// statements (frontend parse + queryexec/dmlexec/ddlexec dispatch), the way
// a scalar subquery delegates to eval.SubqueryExecutor.
type StatementRunner interface {
	Run(ctx context.Context, sql string) error
}

// Call substitutes args positionally into proc's body statements and runs
// each in order within the current transaction, stopping at the first
// error (spec §4.7).
func (e *Executor) Call(ctx context.Context, name string, args []string, runner StatementRunner) error {
	proc, err := e.Store.GetProcedure(ctx, name)
	if err != nil {
		return err
	}
	if len(args) != len(proc.Params) {
		return errs.New(errs.Internal, "procedure %q expects %d arguments, got %d", name, len(proc.Params), len(args)).WithObject(name)
	}
	for _, stmt := range proc.Body {
		substituted := substituteParams(stmt, proc.Params, args)
		if err := runner.Run(ctx, substituted); err != nil {
			return err
		}
	}
	return nil
}

// substituteParams replaces every $name occurrence with its positional
// argument text. Longer names are replaced first so "$id2" never partially
// matches a substitution meant for "$id".
func substituteParams(stmt string, params []catalog.ParamDef, args []string) string {
	type pair struct {
		name string
		val  string
	}
	pairs := make([]pair, len(params))
	for i, p := range params {
		pairs[i] = pair{name: "$" + p.Name, val: args[i]}
	}
	for i := 0; i < len(pairs); i++ {
		for j := i + 1; j < len(pairs); j++ {
			if len(pairs[j].name) > len(pairs[i].name) {
				pairs[i], pairs[j] = pairs[j], pairs[i]
			}
		}
	}
	out := stmt
	for _, p := range pairs {
		out = strings.ReplaceAll(out, p.name, p.val)
	}
	return out
}
