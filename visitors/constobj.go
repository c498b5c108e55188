package visitors

import (
	"github.com/t14raptor/go-fast/ast"

	"github.com/fxnatic/jsdeob/frontend"
)

type constObject struct {
	id    ast.Id
	decl  *ast.Statement
	props map[string]*ast.Expression
}

type constObjCollector struct {
	ast.NoopVisitor
	objects []*constObject
}

func (v *constObjCollector) VisitStatement(n *ast.Statement) {
	n.VisitChildrenWith(v)

	decl, ok := n.Stmt.(*ast.VariableDeclaration)
	if !ok {
		return
	}
	for i := range decl.List {
		d := &decl.List[i]
		if d.Initializer == nil || d.Target == nil {
			continue
		}
		id, ok := d.Target.Target.(*ast.Identifier)
		if !ok {
			continue
		}
		obj, ok := d.Initializer.Expr.(*ast.ObjectLiteral)
		if !ok {
			continue
		}
		if props, ok := numericProps(obj); ok {
			v.objects = append(v.objects, &constObject{id: id.ToId(), decl: n, props: props})
		}
	}
}

// numericProps accepts objects made only of two or more keyed numbers.
func numericProps(obj *ast.ObjectLiteral) (map[string]*ast.Expression, bool) {
	props := make(map[string]*ast.Expression)
	for _, entry := range obj.Value {
		prop, ok := entry.Prop.(*ast.PropertyKeyed)
		if !ok || prop.Value == nil {
			return nil, false
		}
		key, ok := literalKeyName(prop.Key)
		if !ok {
			return nil, false
		}
		if _, ok := evalNumericLiteral(prop.Value.Expr); !ok {
			return nil, false
		}
		props[key] = prop.Value
	}
	return props, len(props) >= 2
}

// readOnly reports whether every reference is a plain property read.
func (o *constObject) readOnly(scope *frontend.Scope) bool {
	for _, ref := range scope.References(o.id) {
		member, ok := ref.ParentExpression(0)
		if !ok {
			return false
		}
		me, ok := member.Expr.(*ast.MemberExpression)
		if !ok || me.Object != ref.Node {
			return false
		}
		if outer, ok := ref.ParentExpression(1); ok {
			switch e := outer.Expr.(type) {
			case *ast.AssignExpression:
				if e.Left == member {
					return false
				}
			case *ast.UnaryExpression:
				switch e.Operator.String() {
				case "++", "--", "delete":
					return false
				}
			}
		}
	}
	return true
}

// InlineConstantObjects replaces reads of never-written numeric lookup
// objects (`var o = {a: 1, b: -2}; o.a`) with the numbers themselves and
// drops the object once unused.
func InlineConstantObjects(p *ast.Program) int {
	c := &constObjCollector{}
	c.V = c
	p.VisitWith(c)
	if len(c.objects) == 0 {
		return 0
	}

	inlined := 0
	scope := frontend.Collect(p)
	for _, o := range c.objects {
		if !o.readOnly(scope) {
			continue
		}
		refs := scope.References(o.id)
		left := len(refs)
		for _, ref := range refs {
			member, _ := ref.ParentExpression(0)
			key, ok := memberPropName(member.Expr.(*ast.MemberExpression).Property)
			if !ok {
				continue
			}
			val := o.props[key]
			if val == nil {
				continue
			}
			member.Expr = val.Clone().Expr
			inlined++
			left--
		}
		if left == 0 {
			removeDeclarator(o.decl, o.id)
		}
	}
	return inlined
}
