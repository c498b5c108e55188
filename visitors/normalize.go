package visitors

import (
	"strings"

	"github.com/t14raptor/go-fast/ast"

	"github.com/fxnatic/jsdeob/frontend"
	"github.com/fxnatic/jsdeob/utils"
)

type bracketToDot struct {
	ast.NoopVisitor
	converted int
}

func (v *bracketToDot) VisitExpression(n *ast.Expression) {
	n.VisitChildrenWith(v)

	member, ok := n.Expr.(*ast.MemberExpression)
	if !ok {
		return
	}
	key, ok := isComputedString(member.Property)
	if !ok || !utils.IsIdentifierName(key) {
		return
	}
	member.Property.Prop = &ast.Identifier{Name: key}
	v.converted++
}

// BracketToDot rewrites obj["name"] to obj.name wherever name is a plain,
// non-reserved identifier.
func BracketToDot(p *ast.Program) int {
	v := &bracketToDot{}
	v.V = v
	p.VisitWith(v)
	return v.converted
}

type valueOrDefault struct {
	ast.NoopVisitor
	scope     *frontend.Scope
	rewritten int
}

func (v *valueOrDefault) VisitExpression(n *ast.Expression) {
	n.VisitChildrenWith(v)

	call, ok := n.Expr.(*ast.CallExpression)
	if !ok || len(call.ArgumentList) != 3 || call.Callee == nil {
		return
	}
	getter, ok := call.Callee.Expr.(*ast.CallExpression)
	if !ok || len(getter.ArgumentList) != 0 || !v.isGetterFactory(getter.Callee) {
		return
	}
	path, ok := call.ArgumentList[1].Expr.(*ast.StringLiteral)
	if !ok {
		return
	}
	segments := strings.Split(path.Value, ".")
	for _, s := range segments {
		if !utils.IsIdentifierName(s) {
			return
		}
	}

	chain := &call.ArgumentList[0]
	for _, s := range segments {
		chain = &ast.Expression{Expr: &ast.MemberExpression{
			Object:   chain,
			Property: &ast.MemberProperty{Prop: &ast.Identifier{Name: s}},
		}}
	}
	or, ok := binaryExpr("||", chain, &call.ArgumentList[2])
	if !ok {
		return
	}
	n.Expr = or
	v.rewritten++
}

// isGetterFactory reports whether callee names a function, declared in the
// program, whose last statement returns a three-parameter function.
func (v *valueOrDefault) isGetterFactory(callee *ast.Expression) bool {
	if callee == nil {
		return false
	}
	id, ok := callee.Expr.(*ast.Identifier)
	if !ok {
		return false
	}
	b := v.scope.Binding(id.ToId())
	if b == nil || b.Decl == nil {
		return false
	}

	var factory ast.Expr
	switch d := b.Decl.Stmt.(type) {
	case *ast.FunctionDeclaration:
		factory = d.Function
	case *ast.VariableDeclaration:
		if b.Declarator == nil || b.Declarator.Initializer == nil {
			return false
		}
		factory = b.Declarator.Initializer.Expr
	default:
		return false
	}

	_, _, body, ok := functionParts(factory)
	if !ok || len(body) == 0 {
		return false
	}
	ret, ok := body[len(body)-1].Stmt.(*ast.ReturnStatement)
	if !ok || ret.Argument == nil {
		return false
	}
	params, _, _, ok := functionParts(ret.Argument.Expr)
	return ok && len(params) == 3
}

// ValueOrDefault rewrites get()(obj, "a.b.c", def) to obj.a.b.c || def when
// get returns a three-parameter getter and every path segment is a plain
// identifier.
func ValueOrDefault(p *ast.Program) int {
	v := &valueOrDefault{scope: frontend.Collect(p)}
	v.V = v
	p.VisitWith(v)
	return v.rewritten
}
