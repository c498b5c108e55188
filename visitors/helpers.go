package visitors

import (
	"strings"

	"github.com/t14raptor/go-fast/ast"

	"github.com/fxnatic/jsdeob/frontend"
)

func memberPropName(mp *ast.MemberProperty) (string, bool) {
	if mp == nil || mp.Prop == nil {
		return "", false
	}
	switch p := mp.Prop.(type) {
	case *ast.Identifier:
		return p.Name, true
	case *ast.ComputedProperty:
		if p.Expr == nil {
			return "", false
		}
		if key, ok := p.Expr.Expr.(*ast.StringLiteral); ok {
			return key.Value, true
		}
		return "", false
	default:
		return "", false
	}
}

func isComputedString(mp *ast.MemberProperty) (string, bool) {
	if mp == nil {
		return "", false
	}
	cp, ok := mp.Prop.(*ast.ComputedProperty)
	if !ok || cp.Expr == nil {
		return "", false
	}
	key, ok := cp.Expr.Expr.(*ast.StringLiteral)
	if !ok {
		return "", false
	}
	return key.Value, true
}

func literalKeyName(keyExpr *ast.Expression) (string, bool) {
	if keyExpr == nil || keyExpr.Expr == nil {
		return "", false
	}
	switch k := keyExpr.Expr.(type) {
	case *ast.Identifier:
		return k.Name, true
	case *ast.StringLiteral:
		return k.Value, true
	default:
		return "", false
	}
}

// evalNumericLiteral accepts a number literal with an optional sign.
func evalNumericLiteral(e ast.Expr) (float64, bool) {
	switch v := e.(type) {
	case *ast.NumberLiteral:
		return v.Value, true
	case *ast.UnaryExpression:
		if v.Operand == nil || v.Operand.Expr == nil {
			return 0, false
		}
		num, ok := v.Operand.Expr.(*ast.NumberLiteral)
		if !ok {
			return 0, false
		}
		switch v.Operator.String() {
		case "-":
			return -num.Value, true
		case "+":
			return num.Value, true
		default:
			return 0, false
		}
	default:
		return 0, false
	}
}

func identName(e *ast.Expression) (string, bool) {
	if e == nil {
		return "", false
	}
	id, ok := e.Expr.(*ast.Identifier)
	if !ok {
		return "", false
	}
	return id.Name, true
}

// paramNames returns the simple identifier parameters of fn. ok is false when
// any parameter is a pattern.
func paramNames(params []ast.VariableDeclarator) ([]string, bool) {
	names := make([]string, 0, len(params))
	for i := range params {
		if params[i].Target == nil {
			return nil, false
		}
		id, ok := params[i].Target.Target.(*ast.Identifier)
		if !ok {
			return nil, false
		}
		names = append(names, id.Name)
	}
	return names, true
}

// functionParts normalizes function and arrow literals into their parameter
// names, the rest parameter name ("" when absent) and body statements. Arrow
// functions with an expression body are reported as a single return
// statement.
func functionParts(e ast.Expr) (params []string, rest string, body []ast.Statement, ok bool) {
	switch fn := e.(type) {
	case *ast.FunctionLiteral:
		if fn == nil || fn.Body == nil {
			return nil, "", nil, false
		}
		if params, ok = paramNames(fn.ParameterList.List); !ok {
			return nil, "", nil, false
		}
		if rest, ok = restName(fn.ParameterList.Rest); !ok {
			return nil, "", nil, false
		}
		return params, rest, fn.Body.List, true
	case *ast.ArrowFunctionLiteral:
		if fn == nil || fn.Body == nil {
			return nil, "", nil, false
		}
		if params, ok = paramNames(fn.ParameterList.List); !ok {
			return nil, "", nil, false
		}
		if rest, ok = restName(fn.ParameterList.Rest); !ok {
			return nil, "", nil, false
		}
		switch b := fn.Body.Body.(type) {
		case *ast.BlockStatement:
			return params, rest, b.List, true
		case *ast.Expression:
			ret := ast.Statement{Stmt: &ast.ReturnStatement{Argument: b}}
			return params, rest, []ast.Statement{ret}, true
		}
	}
	return nil, "", nil, false
}

// restName returns the name bound by a rest parameter. ok is false for
// destructuring rest targets.
func restName(r any) (string, bool) {
	switch v := r.(type) {
	case nil:
		return "", true
	case *ast.Identifier:
		if v == nil {
			return "", true
		}
		return v.Name, true
	case *ast.Expression:
		if v == nil || v.Expr == nil {
			return "", true
		}
		if id, ok := v.Expr.(*ast.Identifier); ok {
			return id.Name, true
		}
	}
	return "", false
}

// isSpreadOf reports whether arg is exactly `...name`.
func isSpreadOf(arg *ast.Expression, name string) bool {
	src := strings.TrimSuffix(frontend.RenderExpression(arg.Expr), ";")
	return strings.Join(strings.Fields(src), "") == "..."+name
}

// singleReturn returns the argument of a body consisting of one return
// statement.
func singleReturn(body []ast.Statement) (*ast.Expression, bool) {
	if len(body) != 1 {
		return nil, false
	}
	ret, ok := body[0].Stmt.(*ast.ReturnStatement)
	if !ok || ret.Argument == nil {
		return nil, false
	}
	return ret.Argument, true
}

func removeStatement(stmt *ast.Statement) {
	stmt.Stmt = &ast.EmptyStatement{}
}
