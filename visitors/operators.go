package visitors

import (
	"math"
	"sync"

	"github.com/t14raptor/go-fast/ast"
	"github.com/t14raptor/go-fast/parser"
)

// Operator tokens are taken from the parser itself so rewritten nodes carry
// exactly what a parse of the same source would produce.
var (
	templateMu      sync.Mutex
	binaryTemplates = map[string]*ast.BinaryExpression{}
	unaryTemplates  = map[string]*ast.UnaryExpression{}
)

func parseTemplate(src string) ast.Expr {
	prog, err := parser.ParseFile(src)
	if err != nil || len(prog.Body) != 1 {
		return nil
	}
	es, ok := prog.Body[0].Stmt.(*ast.ExpressionStatement)
	if !ok || es.Expression == nil {
		return nil
	}
	return es.Expression.Expr
}

func binaryTemplate(op string) (*ast.BinaryExpression, bool) {
	templateMu.Lock()
	defer templateMu.Unlock()
	if t, ok := binaryTemplates[op]; ok {
		return t, t != nil
	}
	t, _ := parseTemplate("a " + op + " b;").(*ast.BinaryExpression)
	binaryTemplates[op] = t
	return t, t != nil
}

func unaryTemplate(op string) (*ast.UnaryExpression, bool) {
	templateMu.Lock()
	defer templateMu.Unlock()
	if t, ok := unaryTemplates[op]; ok {
		return t, t != nil
	}
	t, _ := parseTemplate(op + "a;").(*ast.UnaryExpression)
	unaryTemplates[op] = t
	return t, t != nil
}

// binaryExpr builds `left op right`.
func binaryExpr(op string, left, right *ast.Expression) (*ast.BinaryExpression, bool) {
	t, ok := binaryTemplate(op)
	if !ok {
		return nil, false
	}
	return &ast.BinaryExpression{Operator: t.Operator, Left: left, Right: right}, true
}

func unaryExpr(op string, operand *ast.Expression) (*ast.UnaryExpression, bool) {
	t, ok := unaryTemplate(op)
	if !ok {
		return nil, false
	}
	return &ast.UnaryExpression{Operator: t.Operator, Operand: operand}, true
}

// literalExpr converts a value exported from the sandbox into a literal node.
func literalExpr(v any) (ast.Expr, bool) {
	switch val := v.(type) {
	case string:
		return &ast.StringLiteral{Value: val}, true
	case bool:
		return &ast.BooleanLiteral{Value: val}, true
	case int64:
		return numberExpr(float64(val))
	case float64:
		return numberExpr(val)
	default:
		return nil, false
	}
}

func numberExpr(f float64) (ast.Expr, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	if f < 0 || (f == 0 && math.Signbit(f)) {
		neg, ok := unaryExpr("-", &ast.Expression{Expr: &ast.NumberLiteral{Value: -f}})
		if !ok {
			return nil, false
		}
		return neg, true
	}
	return &ast.NumberLiteral{Value: f}, true
}
