package visitors

import (
	"github.com/t14raptor/go-fast/ast"

	"github.com/fxnatic/jsdeob/frontend"
)

// Role names the part a recognized construct plays in the scheme.
type Role int

const (
	RoleStringTable Role = iota
	RoleShuffle
	RoleDispatcher
	RoleWrapper
)

func (r Role) String() string {
	switch r {
	case RoleStringTable:
		return "string table function"
	case RoleShuffle:
		return "shuffle invocation"
	case RoleDispatcher:
		return "decrypt dispatcher"
	case RoleWrapper:
		return "wrapper chain"
	default:
		return "unknown construct"
	}
}

// Extracted is what a recognizer pulls out of a matched statement.
type Extracted struct {
	// Name is the declared function name; empty for invocations.
	Name string
	Id   ast.Id
	// Snippet is the source text replayed into the sandbox.
	Snippet string
	Stmt    *ast.Statement
	// SandboxName is the name the function was defined under when Name was
	// already taken in the sandbox by another binding.
	SandboxName string
}

// EvalName is the name to call the function by in the sandbox.
func (e *Extracted) EvalName() string {
	if e.SandboxName != "" {
		return e.SandboxName
	}
	return e.Name
}

// Recognizer is a pure predicate over one statement. target is the binding
// the construct must refer to (the table function for a dispatcher, the
// callee for a wrapper); recognizers that need none ignore it.
type Recognizer interface {
	Construct() string
	Match(stmt *ast.Statement, target ast.Id) (*Extracted, bool)
}

// Registry maps each role to the recognizers tried for it, in order.
type Registry map[Role][]Recognizer

// DefaultRegistry returns the recognizers for the string-table scheme.
func DefaultRegistry() Registry {
	return Registry{
		RoleStringTable: {stringTableRecognizer{}},
		RoleShuffle:     {shuffleRecognizer{}},
		RoleDispatcher:  {dispatcherRecognizer{}},
		RoleWrapper:     {wrapperRecognizer{}},
	}
}

type functionShape struct {
	params     int
	statements int
}

func (s functionShape) fits(fn *ast.FunctionLiteral) bool {
	return fn != nil && fn.Name != nil && fn.Body != nil &&
		len(fn.ParameterList.List) == s.params &&
		len(fn.Body.List) == s.statements
}

func declaredFunction(stmt *ast.Statement, shape functionShape) (*ast.FunctionLiteral, bool) {
	decl, ok := stmt.Stmt.(*ast.FunctionDeclaration)
	if !ok || !shape.fits(decl.Function) {
		return nil, false
	}
	return decl.Function, true
}

func extractFunction(stmt *ast.Statement, fn *ast.FunctionLiteral) *Extracted {
	return &Extracted{
		Name:    fn.Name.Name,
		Id:      fn.Name.ToId(),
		Snippet: frontend.RenderStatement(stmt.Stmt),
		Stmt:    stmt,
	}
}

// refersTo reports whether e is an identifier bound to target.
func refersTo(e *ast.Expression, target ast.Id) bool {
	if e == nil {
		return false
	}
	id, ok := e.Expr.(*ast.Identifier)
	return ok && id.ToId() == target
}

// selfRedefinition matches `name = function (...) {...}, name(args...)` and
// returns the replacement closure and the trailing call.
func selfRedefinition(e *ast.Expression, name string) (*ast.FunctionLiteral, *ast.CallExpression, bool) {
	if e == nil {
		return nil, nil, false
	}
	seq, ok := e.Expr.(*ast.SequenceExpression)
	if !ok || len(seq.Sequence) != 2 {
		return nil, nil, false
	}

	assign, ok := seq.Sequence[0].Expr.(*ast.AssignExpression)
	if !ok || assign.Operator.String() != "=" {
		return nil, nil, false
	}
	if left, ok := identName(assign.Left); !ok || left != name {
		return nil, nil, false
	}
	closure, ok := assign.Right.Expr.(*ast.FunctionLiteral)
	if !ok || closure.Body == nil {
		return nil, nil, false
	}

	call, ok := seq.Sequence[1].Expr.(*ast.CallExpression)
	if !ok {
		return nil, nil, false
	}
	if callee, ok := identName(call.Callee); !ok || callee != name {
		return nil, nil, false
	}
	return closure, call, true
}

// stringTableRecognizer matches
//
//	function I() { var a = ["...", ...]; return I = function () { return a; }, I(); }
type stringTableRecognizer struct{}

func (stringTableRecognizer) Construct() string { return RoleStringTable.String() }

func (stringTableRecognizer) Match(stmt *ast.Statement, _ ast.Id) (*Extracted, bool) {
	fn, ok := declaredFunction(stmt, functionShape{params: 0, statements: 2})
	if !ok {
		return nil, false
	}

	decl, ok := fn.Body.List[0].Stmt.(*ast.VariableDeclaration)
	if !ok || len(decl.List) != 1 || decl.List[0].Target == nil || decl.List[0].Initializer == nil {
		return nil, false
	}
	arrName, ok := decl.List[0].Target.Target.(*ast.Identifier)
	if !ok {
		return nil, false
	}
	arr, ok := decl.List[0].Initializer.Expr.(*ast.ArrayLiteral)
	if !ok || len(arr.Value) == 0 {
		return nil, false
	}
	for i := range arr.Value {
		if _, ok := arr.Value[i].Expr.(*ast.StringLiteral); !ok {
			return nil, false
		}
	}

	ret, ok := fn.Body.List[1].Stmt.(*ast.ReturnStatement)
	if !ok {
		return nil, false
	}
	closure, call, ok := selfRedefinition(ret.Argument, fn.Name.Name)
	if !ok || len(call.ArgumentList) != 0 {
		return nil, false
	}
	inner, ok := singleReturn(closure.Body.List)
	if !ok {
		return nil, false
	}
	if name, ok := identName(inner); !ok || name != arrName.Name {
		return nil, false
	}

	return extractFunction(stmt, fn), true
}

// dispatcherRecognizer matches
//
//	function f(a, b) { var t = I(); return f = function (a, b) { ... }, f(a, b); }
type dispatcherRecognizer struct{}

func (dispatcherRecognizer) Construct() string { return RoleDispatcher.String() }

func (dispatcherRecognizer) Match(stmt *ast.Statement, table ast.Id) (*Extracted, bool) {
	fn, ok := declaredFunction(stmt, functionShape{params: 2, statements: 2})
	if !ok {
		return nil, false
	}
	params, ok := paramNames(fn.ParameterList.List)
	if !ok {
		return nil, false
	}

	decl, ok := fn.Body.List[0].Stmt.(*ast.VariableDeclaration)
	if !ok || len(decl.List) != 1 || decl.List[0].Initializer == nil {
		return nil, false
	}
	tableCall, ok := decl.List[0].Initializer.Expr.(*ast.CallExpression)
	if !ok {
		return nil, false
	}
	if !refersTo(tableCall.Callee, table) {
		return nil, false
	}

	ret, ok := fn.Body.List[1].Stmt.(*ast.ReturnStatement)
	if !ok {
		return nil, false
	}
	_, call, ok := selfRedefinition(ret.Argument, fn.Name.Name)
	if !ok || len(call.ArgumentList) != len(params) {
		return nil, false
	}
	for i := range call.ArgumentList {
		if name, ok := identName(&call.ArgumentList[i]); !ok || name != params[i] {
			return nil, false
		}
	}

	return extractFunction(stmt, fn), true
}

// wrapperRecognizer matches
//
//	function u(a, b) { return f(b - -882, a); }
type wrapperRecognizer struct{}

func (wrapperRecognizer) Construct() string { return RoleWrapper.String() }

func (wrapperRecognizer) Match(stmt *ast.Statement, target ast.Id) (*Extracted, bool) {
	fn, ok := declaredFunction(stmt, functionShape{params: 2, statements: 1})
	if !ok || fn.Name.ToId() == target {
		return nil, false
	}
	params, ok := paramNames(fn.ParameterList.List)
	if !ok {
		return nil, false
	}

	arg, ok := singleReturn(fn.Body.List)
	if !ok {
		return nil, false
	}
	call, ok := arg.Expr.(*ast.CallExpression)
	if !ok {
		return nil, false
	}
	if !refersTo(call.Callee, target) {
		return nil, false
	}

	rebased := false
	for i := range call.ArgumentList {
		if isRebasedParam(call.ArgumentList[i].Expr, params) {
			rebased = true
			break
		}
	}
	if !rebased {
		return nil, false
	}

	return extractFunction(stmt, fn), true
}

// isRebasedParam matches `p + k`, `p - k` or `k + p` with p a parameter and
// k a constant.
func isRebasedParam(e ast.Expr, params []string) bool {
	bin, ok := e.(*ast.BinaryExpression)
	if !ok {
		return false
	}
	isParam := func(x *ast.Expression) bool {
		name, ok := identName(x)
		if !ok {
			return false
		}
		for _, p := range params {
			if p == name {
				return true
			}
		}
		return false
	}
	isConst := func(x *ast.Expression) bool {
		if x == nil {
			return false
		}
		_, ok := evalNumericLiteral(x.Expr)
		return ok
	}

	switch bin.Operator.String() {
	case "+":
		return isParam(bin.Left) && isConst(bin.Right) || isConst(bin.Left) && isParam(bin.Right)
	case "-":
		return isParam(bin.Left) && isConst(bin.Right)
	default:
		return false
	}
}

// shuffleRecognizer matches an expression statement
//
//	(function (get, n) { ... })(I, 123456);
//
// optionally behind a unary operator such as `void` or `!`.
type shuffleRecognizer struct{}

func (shuffleRecognizer) Construct() string { return RoleShuffle.String() }

func (shuffleRecognizer) Match(stmt *ast.Statement, table ast.Id) (*Extracted, bool) {
	es, ok := stmt.Stmt.(*ast.ExpressionStatement)
	if !ok || es.Expression == nil {
		return nil, false
	}

	expr := es.Expression.Expr
	if unary, ok := expr.(*ast.UnaryExpression); ok && unary.Operand != nil {
		expr = unary.Operand.Expr
	}
	call, ok := expr.(*ast.CallExpression)
	if !ok || call.Callee == nil || len(call.ArgumentList) != 2 {
		return nil, false
	}
	switch call.Callee.Expr.(type) {
	case *ast.FunctionLiteral, *ast.ArrowFunctionLiteral:
	default:
		return nil, false
	}
	if !refersTo(&call.ArgumentList[0], table) {
		return nil, false
	}
	if _, ok := call.ArgumentList[1].Expr.(*ast.NumberLiteral); !ok {
		return nil, false
	}

	return &Extracted{
		Snippet: frontend.RenderExpression(call),
		Stmt:    stmt,
	}, true
}
