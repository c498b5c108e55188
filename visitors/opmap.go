package visitors

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/t14raptor/go-fast/ast"

	"github.com/fxnatic/jsdeob/frontend"
)

// MapEntry is one decoded property of an operator map.
type MapEntry interface {
	isMapEntry()
}

// OperatorSymbol stands in for `a <Op> b`.
type OperatorSymbol struct{ Op string }

// CallForward stands in for `fn(a1, ..., aArity)`. Arity is Variadic for
// `(fn, ...rest) => fn(...rest)`.
type CallForward struct{ Arity int }

// Variadic is the CallForward arity that forwards every argument.
const Variadic = -1

// LiteralString stands in for a string constant.
type LiteralString struct{ Value string }

func (OperatorSymbol) isMapEntry() {}
func (CallForward) isMapEntry()    {}
func (LiteralString) isMapEntry()  {}

// OperatorMap is a decoded map object together with where it lives.
type OperatorMap struct {
	Name    string
	Id      ast.Id
	Entries map[string]MapEntry

	decl *ast.Statement
	// scope is the *ast.Program or function *ast.BlockStatement that
	// declares the map.
	scope ast.Node
	log   zerolog.Logger
}

// ParseMap decodes the object literal bound by d. ok is false unless at least
// one property decodes to an OperatorSymbol.
func ParseMap(d *ast.VariableDeclarator, log zerolog.Logger) (*OperatorMap, bool) {
	if d == nil || d.Target == nil || d.Initializer == nil {
		return nil, false
	}
	name, ok := d.Target.Target.(*ast.Identifier)
	if !ok {
		return nil, false
	}
	obj, ok := d.Initializer.Expr.(*ast.ObjectLiteral)
	if !ok {
		return nil, false
	}

	m := &OperatorMap{
		Name:    name.Name,
		Id:      name.ToId(),
		Entries: make(map[string]MapEntry),
		log:     log,
	}
	operators := 0
	for _, entry := range obj.Value {
		prop, ok := entry.Prop.(*ast.PropertyKeyed)
		if !ok || prop.Value == nil {
			continue
		}
		key, ok := literalKeyName(prop.Key)
		if !ok {
			continue
		}
		e, ok := decodeEntry(prop.Value.Expr)
		if !ok {
			log.Debug().Str("map", m.Name).Str("key", key).Msg("unknown map entry shape")
			continue
		}
		if _, isOp := e.(OperatorSymbol); isOp {
			operators++
		}
		m.Entries[key] = e
	}
	return m, operators > 0
}

func decodeEntry(e ast.Expr) (MapEntry, bool) {
	if s, ok := e.(*ast.StringLiteral); ok {
		return LiteralString{Value: s.Value}, true
	}

	params, rest, body, ok := functionParts(e)
	if !ok || len(params) == 0 {
		return nil, false
	}
	ret, ok := singleReturn(body)
	if !ok {
		return nil, false
	}

	switch r := ret.Expr.(type) {
	case *ast.BinaryExpression:
		if len(params) != 2 || rest != "" {
			return nil, false
		}
		left, lok := identName(r.Left)
		right, rok := identName(r.Right)
		if lok && rok && left == params[0] && right == params[1] {
			return OperatorSymbol{Op: r.Operator.String()}, true
		}
	case *ast.CallExpression:
		callee, ok := identName(r.Callee)
		if !ok || callee != params[0] {
			return nil, false
		}
		if rest != "" {
			if len(params) == 1 && len(r.ArgumentList) == 1 && isSpreadOf(&r.ArgumentList[0], rest) {
				return CallForward{Arity: Variadic}, true
			}
			return nil, false
		}
		if len(r.ArgumentList) != len(params)-1 {
			return nil, false
		}
		for i := range r.ArgumentList {
			if arg, ok := identName(&r.ArgumentList[i]); !ok || arg != params[i+1] {
				return nil, false
			}
		}
		return CallForward{Arity: len(r.ArgumentList)}, true
	}
	return nil, false
}

type binaryOpCallReplacer struct {
	ast.NoopVisitor
	m        *OperatorMap
	replaced int
}

func (v *binaryOpCallReplacer) VisitExpression(n *ast.Expression) {
	n.VisitChildrenWith(v)

	call, ok := n.Expr.(*ast.CallExpression)
	if !ok || len(call.ArgumentList) != 2 || call.Callee == nil {
		return
	}
	key, ok := v.m.memberKey(call.Callee)
	if !ok {
		return
	}
	op, ok := v.m.Entries[key].(OperatorSymbol)
	if !ok {
		return
	}
	bin, ok := binaryExpr(op.Op, &call.ArgumentList[0], &call.ArgumentList[1])
	if !ok {
		v.m.log.Debug().Str("op", op.Op).Msg("operator not reproducible")
		return
	}
	n.Expr = bin
	v.replaced++
}

// memberKey returns the property name of `<map>.key` or `<map>["key"]`.
func (m *OperatorMap) memberKey(e *ast.Expression) (string, bool) {
	if e == nil {
		return "", false
	}
	member, ok := e.Expr.(*ast.MemberExpression)
	if !ok || member.Object == nil {
		return "", false
	}
	obj, ok := member.Object.Expr.(*ast.Identifier)
	if !ok || obj.ToId() != m.Id {
		return "", false
	}
	return memberPropName(member.Property)
}

// ReplaceBinaryOpCalls rewrites `<map>.key(a, b)` into `a <op> b` within the
// map's own scope.
func (m *OperatorMap) ReplaceBinaryOpCalls() int {
	v := &binaryOpCallReplacer{m: m}
	v.V = v
	switch s := m.scope.(type) {
	case *ast.Program:
		s.VisitWith(v)
	case *ast.BlockStatement:
		s.VisitWith(v)
	}
	return v.replaced
}

// ReplaceMapIndexing inlines string entries and forwarded calls at every
// remaining reference of the map.
func (m *OperatorMap) ReplaceMapIndexing(p *ast.Program) int {
	replaced := 0
	scope := frontend.Collect(p)
	for _, ref := range scope.References(m.Id) {
		member, ok := ref.ParentExpression(0)
		if !ok || !m.isAccessOn(member, ref.Node) {
			continue
		}
		key, ok := m.memberKey(member)
		if !ok {
			continue
		}

		switch e := m.Entries[key].(type) {
		case LiteralString:
			member.Expr = &ast.StringLiteral{Value: e.Value}
			replaced++
		case CallForward:
			outer, ok := ref.ParentExpression(1)
			if !ok {
				continue
			}
			call, ok := outer.Expr.(*ast.CallExpression)
			if !ok || call.Callee != member || len(call.ArgumentList) == 0 {
				continue
			}
			n := len(call.ArgumentList) - 1
			if e.Arity != Variadic && n > e.Arity {
				n = e.Arity
			}
			outer.Expr = &ast.CallExpression{
				Callee:       &call.ArgumentList[0],
				ArgumentList: call.ArgumentList[1 : 1+n],
			}
			replaced++
		}
	}
	return replaced
}

func (m *OperatorMap) isAccessOn(member, obj *ast.Expression) bool {
	me, ok := member.Expr.(*ast.MemberExpression)
	return ok && me.Object == obj
}

// RemoveDeclaration drops the map once nothing references it. Otherwise the
// object keeps its unrecognized properties and the recognized ones still in
// use; removed reports which case applied.
func (m *OperatorMap) RemoveDeclaration(p *ast.Program) (removed bool) {
	used := make(map[string]struct{})
	whole := false
	refs := frontend.Collect(p).References(m.Id)
	for _, ref := range refs {
		member, ok := ref.ParentExpression(0)
		if !ok || !m.isAccessOn(member, ref.Node) {
			whole = true
			break
		}
		if key, ok := m.memberKey(member); ok {
			used[key] = struct{}{}
		} else {
			whole = true
			break
		}
	}

	if len(refs) == 0 {
		removeDeclarator(m.decl, m.Id)
		return true
	}
	if whole {
		return false
	}

	obj, ok := m.object()
	if !ok {
		return false
	}
	kept := obj.Value[:0]
	for _, entry := range obj.Value {
		if prop, ok := entry.Prop.(*ast.PropertyKeyed); ok {
			if key, ok := literalKeyName(prop.Key); ok {
				_, recognized := m.Entries[key]
				_, inUse := used[key]
				if recognized && !inUse {
					continue
				}
			}
		}
		kept = append(kept, entry)
	}
	obj.Value = kept
	return false
}

func (m *OperatorMap) object() (*ast.ObjectLiteral, bool) {
	decl, ok := m.decl.Stmt.(*ast.VariableDeclaration)
	if !ok {
		return nil, false
	}
	for i := range decl.List {
		d := &decl.List[i]
		if d.Target == nil || d.Initializer == nil {
			continue
		}
		if id, ok := d.Target.Target.(*ast.Identifier); ok && id.ToId() == m.Id {
			obj, ok := d.Initializer.Expr.(*ast.ObjectLiteral)
			return obj, ok
		}
	}
	return nil, false
}

type mapFinder struct {
	ast.NoopVisitor
	log    zerolog.Logger
	scopes []ast.Node
	maps   []*OperatorMap
}

func (v *mapFinder) VisitStatement(n *ast.Statement) {
	switch s := n.Stmt.(type) {
	case *ast.VariableDeclaration:
		for i := range s.List {
			if m, ok := ParseMap(&s.List[i], v.log); ok {
				m.decl = n
				m.scope = v.scopes[len(v.scopes)-1]
				v.maps = append(v.maps, m)
			}
		}
	case *ast.FunctionDeclaration:
		if s.Function != nil && s.Function.Body != nil {
			v.scopes = append(v.scopes, s.Function.Body)
			n.VisitChildrenWith(v)
			v.scopes = v.scopes[:len(v.scopes)-1]
			return
		}
	}
	n.VisitChildrenWith(v)
}

func (v *mapFinder) VisitExpression(n *ast.Expression) {
	var body *ast.BlockStatement
	switch fn := n.Expr.(type) {
	case *ast.FunctionLiteral:
		body = fn.Body
	case *ast.ArrowFunctionLiteral:
		if fn.Body != nil {
			body, _ = fn.Body.Body.(*ast.BlockStatement)
		}
	}
	if body != nil {
		v.scopes = append(v.scopes, body)
		n.VisitChildrenWith(v)
		v.scopes = v.scopes[:len(v.scopes)-1]
		return
	}
	n.VisitChildrenWith(v)
}

// FindOperatorMaps returns every genuine operator map in source order.
func FindOperatorMaps(p *ast.Program, log zerolog.Logger) []*OperatorMap {
	f := &mapFinder{log: log, scopes: []ast.Node{p}}
	f.V = f
	p.VisitWith(f)
	return f.maps
}

type MapStats struct {
	Maps           int
	BinaryRewrites int
	IndexRewrites  int
	Removed        int
	Partial        []string
}

// InlineOperatorMaps decodes and inlines every operator map in p.
func InlineOperatorMaps(ctx context.Context, p *ast.Program, log zerolog.Logger) (MapStats, error) {
	var stats MapStats
	maps := FindOperatorMaps(p, log)
	if len(maps) == 0 {
		return stats, &MismatchError{Construct: "operator map", Detail: "no object with operator entries"}
	}

	for _, m := range maps {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Maps++
		stats.BinaryRewrites += m.ReplaceBinaryOpCalls()
		stats.IndexRewrites += m.ReplaceMapIndexing(p)
		if m.RemoveDeclaration(p) {
			stats.Removed++
		} else {
			stats.Partial = append(stats.Partial, m.Name)
			log.Debug().Str("map", m.Name).Msg("map kept with remaining references")
		}
	}
	return stats, nil
}
