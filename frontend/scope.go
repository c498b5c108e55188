package frontend

import (
	"github.com/t14raptor/go-fast/ast"
)

// Reference is one use of a binding. Node wraps the identifier; Parents holds
// the enclosing statement and expression wrappers, outermost first.
type Reference struct {
	Ident   *ast.Identifier
	Node    *ast.Expression
	Parents []ast.Node
}

// Parent returns the n-th ancestor (0 is the direct parent) or nil.
func (r *Reference) Parent(n int) ast.Node {
	i := len(r.Parents) - 1 - n
	if i < 0 {
		return nil
	}
	return r.Parents[i]
}

// ParentExpression returns the n-th ancestor when it is an expression wrapper.
func (r *Reference) ParentExpression(n int) (*ast.Expression, bool) {
	e, ok := r.Parent(n).(*ast.Expression)
	return e, ok && e != nil
}

// EnclosingCall returns the call expression node when the reference is its
// callee.
func (r *Reference) EnclosingCall() (*ast.Expression, *ast.CallExpression, bool) {
	parent, ok := r.ParentExpression(0)
	if !ok {
		return nil, nil, false
	}
	call, ok := parent.Expr.(*ast.CallExpression)
	if !ok || call.Callee != r.Node {
		return nil, nil, false
	}
	return parent, call, true
}

// Binding is a declaration together with its ordered reference sites. Decl is
// the declaring statement and is nil when the declaration is not part of the
// tree (removed, parameter, or global).
type Binding struct {
	Id         ast.Id
	Decl       *ast.Statement
	Declarator *ast.VariableDeclarator
	References []*Reference
}

// Scope indexes every binding of a program by its resolved id.
type Scope struct {
	bindings map[ast.Id]*Binding
	order    []ast.Id
}

// Collect walks p and builds a fresh binding index. The index is a snapshot:
// rebuild it after mutating the tree.
func Collect(p *ast.Program) *Scope {
	c := &scopeCollector{
		scope: &Scope{bindings: make(map[ast.Id]*Binding)},
	}
	c.V = c
	p.VisitWith(c)
	return c.scope
}

// Binding returns the binding for id, or nil when nothing declares or
// references it.
func (s *Scope) Binding(id ast.Id) *Binding {
	return s.bindings[id]
}

// References returns the reference sites of id in source order.
func (s *Scope) References(id ast.Id) []*Reference {
	if b := s.bindings[id]; b != nil {
		return b.References
	}
	return nil
}

// Lookup returns every binding with the given name, in first-seen order.
func (s *Scope) Lookup(name string) []*Binding {
	var out []*Binding
	for _, id := range s.order {
		if id.Name == name {
			out = append(out, s.bindings[id])
		}
	}
	return out
}

func (s *Scope) binding(id ast.Id) *Binding {
	b := s.bindings[id]
	if b == nil {
		b = &Binding{Id: id}
		s.bindings[id] = b
		s.order = append(s.order, id)
	}
	return b
}

type scopeCollector struct {
	ast.NoopVisitor
	scope *Scope
	stack []ast.Node
}

func (v *scopeCollector) VisitStatement(n *ast.Statement) {
	switch s := n.Stmt.(type) {
	case *ast.FunctionDeclaration:
		if s.Function != nil && s.Function.Name != nil {
			v.scope.binding(s.Function.Name.ToId()).Decl = n
		}
	case *ast.VariableDeclaration:
		for i := range s.List {
			d := &s.List[i]
			if d.Target == nil {
				continue
			}
			if id, ok := d.Target.Target.(*ast.Identifier); ok {
				b := v.scope.binding(id.ToId())
				b.Decl = n
				b.Declarator = d
			}
		}
	}

	v.stack = append(v.stack, n)
	n.VisitChildrenWith(v)
	v.stack = v.stack[:len(v.stack)-1]
}

func (v *scopeCollector) VisitExpression(n *ast.Expression) {
	if id, ok := n.Expr.(*ast.Identifier); ok && !v.isPropertyKey(n) {
		parents := make([]ast.Node, len(v.stack))
		copy(parents, v.stack)
		b := v.scope.binding(id.ToId())
		b.References = append(b.References, &Reference{Ident: id, Node: n, Parents: parents})
	}

	v.stack = append(v.stack, n)
	n.VisitChildrenWith(v)
	v.stack = v.stack[:len(v.stack)-1]
}

// isPropertyKey filters out identifiers used as object literal keys.
func (v *scopeCollector) isPropertyKey(n *ast.Expression) bool {
	if len(v.stack) == 0 {
		return false
	}
	parent, ok := v.stack[len(v.stack)-1].(*ast.Expression)
	if !ok {
		return false
	}
	obj, ok := parent.Expr.(*ast.ObjectLiteral)
	if !ok {
		return false
	}
	for _, entry := range obj.Value {
		if prop, ok := entry.Prop.(*ast.PropertyKeyed); ok && prop.Key == n {
			return true
		}
	}
	return false
}
