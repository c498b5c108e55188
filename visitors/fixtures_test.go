package visitors

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/t14raptor/go-fast/ast"

	"github.com/fxnatic/jsdeob/frontend"
	"github.com/fxnatic/jsdeob/sandbox"
)

// sampleScript carries the whole scheme. After the table is rotated twice it
// reads charlie, delta, echo, alpha, bravo; the dispatcher subtracts 100.
const sampleScript = `
var out = _w2("k", 100);
function _w2(a, b) { return _w1(a, b + 7); }
(function (get, n) { var a = get(); while (n--) { a.push(a.shift()); } })(_tbl, 2);
function _dec(i, k) {
  var t = _tbl();
  return _dec = function (i, k) { i = i - 100; var v = t[i]; return v; }, _dec(i, k);
}
function _tbl() {
  var arr = ["alpha", "bravo", "charlie", "delta", "echo"];
  return _tbl = function () { return arr; }, _tbl();
}
function _w1(a, b) { return _dec(b - 5, a); }
var first = _w1("x", 105);
var _m = {
  pA: function (x, y) { return x + y; },
  pB: "lit",
  pC: function (f, x) { return f(x); }
};
var total = _m.pA(1, 2);
var label = _m["pB"];
_m.pC(console.log, out + first + _dec(103, "z"));
`

// siblingWrappers declares two wrappers called _wx in sibling function
// scopes; appended to sampleScript they resolve to charlie and delta.
const siblingWrappers = `
function first() { function _wx(a, b) { return _dec(b - 1, a); } return _wx("p", 101); }
function second() { function _wx(a, b) { return _dec(b - 2, a); } return _wx("q", 103); }
`

func mustParse(t *testing.T, src string) *ast.Program {
	t.Helper()
	prog, err := frontend.Parse(src)
	require.NoError(t, err)
	return prog
}

func newSandbox(t *testing.T) *sandbox.Sandbox {
	t.Helper()
	sb := sandbox.New()
	t.Cleanup(sb.Close)
	return sb
}

func nopLog() zerolog.Logger { return zerolog.Nop() }

type exprCounter struct {
	ast.NoopVisitor
	match func(ast.Expr) bool
	count int
}

func (v *exprCounter) VisitExpression(n *ast.Expression) {
	if v.match(n.Expr) {
		v.count++
	}
	n.VisitChildrenWith(v)
}

func countExprs(p *ast.Program, match func(ast.Expr) bool) int {
	v := &exprCounter{match: match}
	v.V = v
	p.VisitWith(v)
	return v.count
}

func callsTo(p *ast.Program, name string) int {
	return countExprs(p, func(e ast.Expr) bool {
		call, ok := e.(*ast.CallExpression)
		if !ok {
			return false
		}
		callee, ok := identName(call.Callee)
		return ok && callee == name
	})
}

func stringLiterals(p *ast.Program) []string {
	var out []string
	countExprs(p, func(e ast.Expr) bool {
		if s, ok := e.(*ast.StringLiteral); ok {
			out = append(out, s.Value)
		}
		return false
	})
	return out
}
