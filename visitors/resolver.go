package visitors

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/t14raptor/go-fast/ast"

	"github.com/fxnatic/jsdeob/fold"
	"github.com/fxnatic/jsdeob/frontend"
)

type FoldStats struct {
	Folded  int
	Skipped int
	Failed  int
	Aliases int
}

// SiteError describes one call site that could not be folded.
type SiteError struct {
	Call string
	Err  error
}

func (e *SiteError) Error() string {
	return fmt.Sprintf("folding %s: %v", e.Call, e.Err)
}

func (e *SiteError) Unwrap() error { return e.Err }

// Resolver replaces calls to the decrypt functions with the values they
// produce in the evaluator.
type Resolver struct {
	eval   Evaluator
	policy fold.Policy
	log    zerolog.Logger
}

func NewResolver(eval Evaluator, policy fold.Policy, log zerolog.Logger) *Resolver {
	return &Resolver{eval: eval, policy: policy, log: log}
}

type alias struct {
	id        ast.Id
	canonical string
	// decl is nil for aliases created by assignment.
	decl *ast.Statement
}

// Fold evaluates every call site of targets, dispatcher first. Calls reached
// through `var d = target;` aliases are evaluated under the canonical name.
func (r *Resolver) Fold(ctx context.Context, p *ast.Program, targets []*Extracted) (FoldStats, error) {
	var stats FoldStats
	scope := frontend.Collect(p)

	type site struct {
		id        ast.Id
		canonical string
	}
	var sites []site
	scaffold := make(map[*ast.Statement]struct{}, len(targets))
	for _, t := range targets {
		sites = append(sites, site{id: t.Id, canonical: t.EvalName()})
		if t.Stmt != nil {
			scaffold[t.Stmt] = struct{}{}
		}
	}
	aliases := collectAliases(scope, targets)
	for _, a := range aliases {
		sites = append(sites, site{id: a.id, canonical: a.canonical})
	}
	stats.Aliases = len(aliases)

	replaced := make(map[*ast.Expression]struct{})
	for _, s := range sites {
		for _, ref := range scope.References(s.id) {
			node, call, ok := ref.EnclosingCall()
			if !ok || detached(ref, replaced) {
				continue
			}
			if isDefinitionalHop(ref, node, scaffold) {
				stats.Skipped++
				continue
			}

			src := frontend.RenderExpression(&ast.CallExpression{
				Callee:       &ast.Expression{Expr: &ast.Identifier{Name: s.canonical}},
				ArgumentList: call.ArgumentList,
			})
			lit, err := r.evaluate(ctx, src)
			if err != nil {
				if ctx.Err() != nil || r.policy == fold.FailFast {
					return stats, &SiteError{Call: src, Err: err}
				}
				stats.Failed++
				r.log.Warn().Err(err).Str("call", src).Msg("leaving call unresolved")
				continue
			}

			node.Expr = lit
			replaced[node] = struct{}{}
			stats.Folded++
		}
	}

	removeUnusedAliases(p, aliases)
	r.log.Debug().
		Int("folded", stats.Folded).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Msg("decrypt calls resolved")
	return stats, nil
}

func (r *Resolver) evaluate(ctx context.Context, src string) (ast.Expr, error) {
	v, err := r.eval.Evaluate(ctx, src)
	if err != nil {
		return nil, err
	}
	lit, ok := literalExpr(v)
	if !ok {
		return nil, fmt.Errorf("unsupported value %v (%T)", v, v)
	}
	return lit, nil
}

// isDefinitionalHop reports a call that is the whole argument of a return
// statement inside one of the decrypt functions themselves. Calls returned
// from any other function are use sites.
func isDefinitionalHop(ref *frontend.Reference, call *ast.Expression, scaffold map[*ast.Statement]struct{}) bool {
	stmt, ok := ref.Parent(1).(*ast.Statement)
	if !ok || stmt == nil {
		return false
	}
	if ret, ok := stmt.Stmt.(*ast.ReturnStatement); !ok || ret.Argument != call {
		return false
	}
	for _, p := range ref.Parents {
		if s, ok := p.(*ast.Statement); ok {
			if _, in := scaffold[s]; in {
				return true
			}
		}
	}
	return false
}

func detached(ref *frontend.Reference, replaced map[*ast.Expression]struct{}) bool {
	for _, p := range ref.Parents {
		if e, ok := p.(*ast.Expression); ok {
			if _, gone := replaced[e]; gone {
				return true
			}
		}
	}
	return false
}

// collectAliases follows `var d = f;` and `d = f` transitively from targets.
func collectAliases(scope *frontend.Scope, targets []*Extracted) []alias {
	var out []alias
	seen := make(map[ast.Id]struct{})
	type pending struct {
		id        ast.Id
		canonical string
	}
	queue := make([]pending, 0, len(targets))
	for _, t := range targets {
		seen[t.Id] = struct{}{}
		queue = append(queue, pending{id: t.Id, canonical: t.EvalName()})
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, ref := range scope.References(cur.id) {
			a, ok := aliasAt(ref)
			if !ok {
				continue
			}
			if _, dup := seen[a.id]; dup {
				continue
			}
			seen[a.id] = struct{}{}
			a.canonical = cur.canonical
			out = append(out, a)
			queue = append(queue, pending{id: a.id, canonical: cur.canonical})
		}
	}
	return out
}

func aliasAt(ref *frontend.Reference) (alias, bool) {
	switch parent := ref.Parent(0).(type) {
	case *ast.Statement:
		decl, ok := parent.Stmt.(*ast.VariableDeclaration)
		if !ok {
			return alias{}, false
		}
		for i := range decl.List {
			d := &decl.List[i]
			if d.Initializer != ref.Node || d.Target == nil {
				continue
			}
			if id, ok := d.Target.Target.(*ast.Identifier); ok {
				return alias{id: id.ToId(), decl: parent}, true
			}
		}
	case *ast.Expression:
		assign, ok := parent.Expr.(*ast.AssignExpression)
		if !ok || assign.Operator.String() != "=" || assign.Right != ref.Node {
			return alias{}, false
		}
		if id, ok := assign.Left.Expr.(*ast.Identifier); ok {
			return alias{id: id.ToId()}, true
		}
	}
	return alias{}, false
}

// removeUnusedAliases drops alias declarators nothing refers to any more,
// repeating until chains of aliases are fully unwound.
func removeUnusedAliases(p *ast.Program, aliases []alias) {
	pending := make([]alias, 0, len(aliases))
	for _, a := range aliases {
		if a.decl != nil {
			pending = append(pending, a)
		}
	}

	for len(pending) > 0 {
		scope := frontend.Collect(p)
		var next []alias
		for _, a := range pending {
			if len(scope.References(a.id)) > 0 {
				next = append(next, a)
				continue
			}
			removeDeclarator(a.decl, a.id)
		}
		if len(next) == len(pending) {
			return
		}
		pending = next
	}
}

// removeDeclarator drops the declarator binding id from stmt, and the whole
// statement once its list is empty.
func removeDeclarator(stmt *ast.Statement, id ast.Id) {
	decl, ok := stmt.Stmt.(*ast.VariableDeclaration)
	if !ok {
		return
	}
	for i := range decl.List {
		if decl.List[i].Target == nil {
			continue
		}
		if name, ok := decl.List[i].Target.Target.(*ast.Identifier); ok && name.ToId() == id {
			decl.List = append(decl.List[:i], decl.List[i+1:]...)
			break
		}
	}
	if len(decl.List) == 0 {
		removeStatement(stmt)
	}
}
