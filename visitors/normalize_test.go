package visitors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/t14raptor/go-fast/ast"

	"github.com/fxnatic/jsdeob/frontend"
)

func exprOf(t *testing.T, p *ast.Program, i int) ast.Expr {
	t.Helper()
	require.Greater(t, len(p.Body), i)
	es, ok := p.Body[i].Stmt.(*ast.ExpressionStatement)
	require.True(t, ok)
	return es.Expression.Expr
}

func TestBracketToDot(t *testing.T) {
	tests := []struct {
		src  string
		dot  bool
		name string
	}{
		{src: `a["foo"];`, dot: true, name: "foo"},
		{src: `a["_x9"];`, dot: true, name: "_x9"},
		{src: `a["1x"];`, dot: false},
		{src: `a["has-dash"];`, dot: false},
		{src: `a["class"];`, dot: false},
		{src: `a[foo];`, dot: false},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			prog := mustParse(t, tt.src)
			n := BracketToDot(prog)

			member, ok := exprOf(t, prog, 0).(*ast.MemberExpression)
			require.True(t, ok)
			id, isDot := member.Property.Prop.(*ast.Identifier)
			if !tt.dot {
				assert.Zero(t, n)
				assert.False(t, isDot)
				return
			}
			assert.Equal(t, 1, n)
			require.True(t, isDot)
			assert.Equal(t, tt.name, id.Name)
		})
	}
}

const getterFactory = `
function get() {
  return function (object, path, fallback) {
    var v = path.split(".").reduce(function (o, k) { return o == null ? o : o[k]; }, object);
    return v === undefined ? fallback : v;
  };
}
`

func TestValueOrDefault(t *testing.T) {
	prog := mustParse(t, `
get()(obj, "a.b.c", 5);
get()(obj, "x", null);
get()(x || y, "a", d);
`+getterFactory)
	assert.Equal(t, 3, ValueOrDefault(prog))

	// ((obj.a).b).c || 5
	or, ok := exprOf(t, prog, 0).(*ast.BinaryExpression)
	require.True(t, ok)
	assert.Equal(t, "||", or.Operator.String())
	var path []string
	cur := or.Left
	for {
		member, ok := cur.Expr.(*ast.MemberExpression)
		if !ok {
			break
		}
		name, _ := memberPropName(member.Property)
		path = append([]string{name}, path...)
		cur = member.Object
	}
	assert.Equal(t, []string{"a", "b", "c"}, path)
	obj, _ := identName(cur)
	assert.Equal(t, "obj", obj)

	single, ok := exprOf(t, prog, 1).(*ast.BinaryExpression)
	require.True(t, ok)
	member, ok := single.Left.Expr.(*ast.MemberExpression)
	require.True(t, ok)
	_, direct := member.Object.Expr.(*ast.Identifier)
	assert.True(t, direct)

	// (x || y).a || d survives a print and re-parse with its grouping.
	code := frontend.Generate(prog)
	assert.Contains(t, compact(code), "(x||y).a||d")
	again := mustParse(t, code)
	outer, ok := exprOf(t, again, 2).(*ast.BinaryExpression)
	require.True(t, ok)
	access, ok := outer.Left.Expr.(*ast.MemberExpression)
	require.True(t, ok)
	inner, ok := access.Object.Expr.(*ast.BinaryExpression)
	require.True(t, ok)
	assert.Equal(t, "||", inner.Operator.String())
}

func TestValueOrDefaultLeavesOtherCalls(t *testing.T) {
	prog := mustParse(t, `
factory()(el, "click", handler);
$()(node, "data id", x);
get()(obj, "ok.bad-seg", "d");
get()(obj, "a..b", 1);
get()(obj, "", 1);
get(1)(obj, "a", 1);
notGetter()(obj, "a", 1);
function notGetter() { return function (a) { return a; }; }
`+getterFactory)
	assert.Zero(t, ValueOrDefault(prog))
	for i := 0; i < 7; i++ {
		_, untouched := exprOf(t, prog, i).(*ast.CallExpression)
		assert.True(t, untouched, "statement %d", i)
	}
}

func TestSimplify(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{src: `!0;`, want: true},
		{src: `!1;`, want: false},
		{src: `![];`, want: false},
		{src: `!!{};`, want: true},
		{src: `!!"";`, want: false},
		{src: `1 + 2 * 3;`, want: 7.0},
		{src: `10 % 4;`, want: 2.0},
		{src: `"ab" + "cd";`, want: "abcd"},
		{src: `"a" + "b" + "c";`, want: "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			prog := mustParse(t, tt.src)
			assert.NotZero(t, Simplify(prog))

			switch e := exprOf(t, prog, 0).(type) {
			case *ast.BooleanLiteral:
				assert.Equal(t, tt.want, e.Value)
			case *ast.NumberLiteral:
				assert.Equal(t, tt.want, e.Value)
			case *ast.StringLiteral:
				assert.Equal(t, tt.want, e.Value)
			default:
				t.Fatalf("not folded: %T", e)
			}
		})
	}
}

func TestSimplifyLeavesUnsafeFolds(t *testing.T) {
	for _, src := range []string{`1 - 5;`, `1 / 0;`, `a + 1;`, `"a" - "b";`} {
		prog := mustParse(t, src)
		Simplify(prog)
		_, ok := exprOf(t, prog, 0).(*ast.BinaryExpression)
		assert.True(t, ok, src)
	}
}

func TestSimplifyConditional(t *testing.T) {
	prog := mustParse(t, `x ? x : y; x ? z : y;`)
	assert.Equal(t, 1, Simplify(prog))

	or, ok := exprOf(t, prog, 0).(*ast.BinaryExpression)
	require.True(t, ok)
	assert.Equal(t, "||", or.Operator.String())
	_, ok = exprOf(t, prog, 1).(*ast.ConditionalExpression)
	assert.True(t, ok)
}

func TestPrune(t *testing.T) {
	prog := mustParse(t, `
function f() { var a = 1; var b = 2; return a; }
var g = function () { var c = 3; return c; };
if (x) { y(); }
z();
`)
	fn := prog.Body[0].Stmt.(*ast.FunctionDeclaration).Function
	removeStatement(&fn.Body.List[1])
	lit := prog.Body[1].Stmt.(*ast.VariableDeclaration).List[0].Initializer.Expr.(*ast.FunctionLiteral)
	removeStatement(&lit.Body.List[0])
	block := prog.Body[2].Stmt.(*ast.IfStatement).Consequent.Stmt.(*ast.BlockStatement)
	removeStatement(&block.List[0])
	removeStatement(&prog.Body[3])

	assert.Equal(t, 4, Prune(prog))
	require.Len(t, prog.Body, 3)
	assert.Len(t, fn.Body.List, 2)
	assert.Len(t, lit.Body.List, 1)
	assert.Empty(t, block.List)
}

func TestInlineConstantObjects(t *testing.T) {
	prog := mustParse(t, `
var o = { a: 1, b: -2 };
var w = { a: 1, b: 2 };
w.a = 5;
var mixed = { a: 1, s: "x" };
f(o.a, o["b"], w.a, mixed.a);
`)
	assert.Equal(t, 2, InlineConstantObjects(prog))
	Prune(prog)

	call := exprOf(t, prog, len(prog.Body)-1).(*ast.CallExpression)
	require.Len(t, call.ArgumentList, 4)
	one, ok := call.ArgumentList[0].Expr.(*ast.NumberLiteral)
	require.True(t, ok)
	assert.Equal(t, 1.0, one.Value)
	v, ok := evalNumericLiteral(call.ArgumentList[1].Expr)
	require.True(t, ok)
	assert.Equal(t, -2.0, v)
	_, kept := call.ArgumentList[2].Expr.(*ast.MemberExpression)
	assert.True(t, kept, "written object is not inlined")
	_, kept = call.ArgumentList[3].Expr.(*ast.MemberExpression)
	assert.True(t, kept)

	// o is gone; w and mixed stay.
	assert.Len(t, prog.Body, 4)
}

func TestSimplifyCalls(t *testing.T) {
	prog := mustParse(t, `parseInt("42px"); Math.floor(7.9); parseInt("x"); parseInt(v);`)
	assert.Equal(t, 2, Simplify(prog))

	assert.Equal(t, 42.0, exprOf(t, prog, 0).(*ast.NumberLiteral).Value)
	assert.Equal(t, 7.0, exprOf(t, prog, 1).(*ast.NumberLiteral).Value)
	_, ok := exprOf(t, prog, 2).(*ast.CallExpression)
	assert.True(t, ok)
}
