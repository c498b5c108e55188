package frontend

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/t14raptor/go-fast/ast"
)

func TestParseAndRender(t *testing.T) {
	prog, err := Parse(`function add(a, b) { return a + b; } add(1, 2);`)
	require.NoError(t, err)
	require.Len(t, prog.Body, 2)

	decl, ok := prog.Body[0].Stmt.(*ast.FunctionDeclaration)
	require.True(t, ok)
	text := RenderStatement(decl)
	assert.Contains(t, text, "function add")
	assert.Contains(t, text, "return")

	stmt, ok := prog.Body[1].Stmt.(*ast.ExpressionStatement)
	require.True(t, ok)
	call := RenderExpression(stmt.Expression.Expr)
	assert.True(t, strings.HasPrefix(call, "add("), "got %q", call)

	_, err = Parse(Generate(prog))
	require.NoError(t, err)
}

func TestParseError(t *testing.T) {
	_, err := Parse(`function (`)
	require.Error(t, err)
}

func TestCollectReferences(t *testing.T) {
	prog, err := Parse(`
function dec(a, b) { return a; }
var x = dec(1, 2);
var obj = { dec: 1 };
function outer() { return dec(3, 4); }
console.log(dec(5, 6), obj.dec);
`)
	require.NoError(t, err)

	scope := Collect(prog)
	bindings := scope.Lookup("dec")
	require.NotEmpty(t, bindings)

	var decl *Binding
	for _, b := range bindings {
		if b.Decl != nil {
			decl = b
		}
	}
	require.NotNil(t, decl, "function declaration must be indexed")
	_, isFn := decl.Decl.Stmt.(*ast.FunctionDeclaration)
	assert.True(t, isFn)

	refs := scope.References(decl.Id)
	require.Len(t, refs, 3, "object keys and dot properties are not references")

	for _, ref := range refs {
		_, call, ok := ref.EnclosingCall()
		require.True(t, ok)
		assert.Len(t, call.ArgumentList, 2)
	}

	_, isReturn := refs[1].Parent(1).(*ast.Statement).Stmt.(*ast.ReturnStatement)
	assert.True(t, isReturn)
}

func TestCollectVariableDeclarator(t *testing.T) {
	prog, err := Parse(`var m = { a: 1 }; m.a;`)
	require.NoError(t, err)

	bindings := Collect(prog).Lookup("m")
	require.Len(t, bindings, 1)
	require.NotNil(t, bindings[0].Declarator)
	_, ok := bindings[0].Declarator.Initializer.Expr.(*ast.ObjectLiteral)
	assert.True(t, ok)
	assert.Len(t, bindings[0].References, 1)
}
