// Package frontend wraps the go-fast parser, generator and resolver behind
// the handful of operations the deobfuscation passes need.
package frontend

import (
	"fmt"
	"strings"

	"github.com/t14raptor/go-fast/ast"
	"github.com/t14raptor/go-fast/generator"
	"github.com/t14raptor/go-fast/parser"
	"github.com/t14raptor/go-fast/transform/resolver"
)

// Parse parses src and resolves identifier scopes so that ast.Id values
// identify bindings rather than bare names.
func Parse(src string) (*ast.Program, error) {
	prog, err := parser.ParseFile(src)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	resolver.Resolve(prog)
	return prog, nil
}

// Generate renders a whole program.
func Generate(p *ast.Program) string {
	return generator.Generate(p)
}

// RenderStatement renders a single statement as standalone source text.
func RenderStatement(s ast.Stmt) string {
	prog := &ast.Program{Body: []ast.Statement{{Stmt: s}}}
	return strings.TrimSpace(generator.Generate(prog))
}

// RenderExpression renders an expression as a standalone expression statement.
func RenderExpression(e ast.Expr) string {
	return RenderStatement(&ast.ExpressionStatement{Expression: &ast.Expression{Expr: e}})
}
