package visitors

import (
	"github.com/t14raptor/go-fast/ast"
)

func dropEmpty(list []ast.Statement) ([]ast.Statement, int) {
	kept := list[:0]
	for _, s := range list {
		if _, empty := s.Stmt.(*ast.EmptyStatement); empty {
			continue
		}
		kept = append(kept, s)
	}
	return kept, len(list) - len(kept)
}

type pruner struct {
	ast.NoopVisitor
	dropped int
}

func (v *pruner) block(b *ast.BlockStatement) {
	if b == nil {
		return
	}
	var n int
	b.List, n = dropEmpty(b.List)
	v.dropped += n
}

func (v *pruner) VisitStatement(n *ast.Statement) {
	n.VisitChildrenWith(v)
	switch s := n.Stmt.(type) {
	case *ast.BlockStatement:
		v.block(s)
	case *ast.FunctionDeclaration:
		if s.Function != nil {
			v.block(s.Function.Body)
		}
	}
}

func (v *pruner) VisitExpression(n *ast.Expression) {
	n.VisitChildrenWith(v)
	switch e := n.Expr.(type) {
	case *ast.FunctionLiteral:
		v.block(e.Body)
	case *ast.ArrowFunctionLiteral:
		if e.Body != nil {
			if b, ok := e.Body.Body.(*ast.BlockStatement); ok {
				v.block(b)
			}
		}
	}
}

// Prune drops the empty statements left behind by removed constructs. Empty
// statements standing as a loop or if body are kept since they are the body.
func Prune(p *ast.Program) int {
	v := &pruner{}
	v.V = v
	p.VisitWith(v)
	var n int
	p.Body, n = dropEmpty(p.Body)
	return v.dropped + n
}
