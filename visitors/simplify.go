package visitors

import (
	"math"

	"github.com/t14raptor/go-fast/ast"

	"github.com/fxnatic/jsdeob/utils"
)

type simplifier struct {
	ast.NoopVisitor
	folded int
}

func (v *simplifier) VisitExpression(n *ast.Expression) {
	n.VisitChildrenWith(v)

	switch expr := n.Expr.(type) {
	case *ast.ConditionalExpression:
		// a ? a : b
		test, tok := identName(expr.Test)
		cons, cok := identName(expr.Consequent)
		if !tok || !cok || test != cons {
			return
		}
		if or, ok := binaryExpr("||", expr.Test, expr.Alternate); ok {
			n.Expr = or
			v.folded++
		}
	case *ast.UnaryExpression:
		if expr.Operator.String() != "!" || expr.Operand == nil {
			return
		}
		switch val := expr.Operand.Expr.(type) {
		case *ast.BooleanLiteral:
			n.Expr = &ast.BooleanLiteral{Value: !val.Value}
		case *ast.NumberLiteral:
			n.Expr = &ast.BooleanLiteral{Value: val.Value == 0 || math.IsNaN(val.Value)}
		case *ast.StringLiteral:
			n.Expr = &ast.BooleanLiteral{Value: val.Value == ""}
		case *ast.ArrayLiteral, *ast.ObjectLiteral:
			n.Expr = &ast.BooleanLiteral{Value: false}
		default:
			return
		}
		v.folded++
	case *ast.CallExpression:
		if out, ok := foldCall(expr); ok {
			n.Expr = out
			v.folded++
		}
	case *ast.BinaryExpression:
		if expr.Left == nil || expr.Right == nil {
			return
		}
		if out, ok := foldBinary(expr.Operator.String(), expr.Left.Expr, expr.Right.Expr); ok {
			n.Expr = out
			v.folded++
		}
	}
}

func foldBinary(op string, left, right ast.Expr) (ast.Expr, bool) {
	if ls, ok := left.(*ast.StringLiteral); ok {
		if rs, ok := right.(*ast.StringLiteral); ok && op == "+" {
			return &ast.StringLiteral{Value: ls.Value + rs.Value}, true
		}
		return nil, false
	}

	l, lok := left.(*ast.NumberLiteral)
	r, rok := right.(*ast.NumberLiteral)
	if !lok || !rok {
		return nil, false
	}
	var out float64
	switch op {
	case "+":
		out = l.Value + r.Value
	case "-":
		out = l.Value - r.Value
	case "*":
		out = l.Value * r.Value
	case "/":
		if r.Value == 0 {
			return nil, false
		}
		out = l.Value / r.Value
	case "%":
		if r.Value == 0 {
			return nil, false
		}
		out = math.Mod(l.Value, r.Value)
	default:
		return nil, false
	}
	// Only non-negative finite results fold.
	if out < 0 || math.IsInf(out, 0) || math.IsNaN(out) || (out == 0 && math.Signbit(out)) {
		return nil, false
	}
	return &ast.NumberLiteral{Value: out}, true
}

// foldCall handles parseInt("...") and Math.floor(n).
func foldCall(call *ast.CallExpression) (ast.Expr, bool) {
	if len(call.ArgumentList) != 1 || call.Callee == nil {
		return nil, false
	}
	if name, ok := identName(call.Callee); ok && name == "parseInt" {
		str, ok := call.ArgumentList[0].Expr.(*ast.StringLiteral)
		if !ok {
			return nil, false
		}
		val := utils.ParseInt(str.Value)
		if math.IsNaN(val) || val < 0 {
			return nil, false
		}
		return &ast.NumberLiteral{Value: val}, true
	}

	member, ok := call.Callee.Expr.(*ast.MemberExpression)
	if !ok {
		return nil, false
	}
	obj, ok := identName(member.Object)
	prop, pok := memberPropName(member.Property)
	if !ok || !pok || obj != "Math" || prop != "floor" {
		return nil, false
	}
	num, ok := call.ArgumentList[0].Expr.(*ast.NumberLiteral)
	if !ok {
		return nil, false
	}
	return &ast.NumberLiteral{Value: math.Floor(num.Value)}, true
}

// Simplify folds literal arithmetic, string concatenation, negated literals,
// constant parseInt and Math.floor calls, and `a ? a : b` conditionals.
func Simplify(p *ast.Program) int {
	v := &simplifier{}
	v.V = v
	p.VisitWith(v)
	return v.folded
}
