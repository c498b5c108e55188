package visitors

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/t14raptor/go-fast/ast"

	"github.com/fxnatic/jsdeob/frontend"
)

// Evaluator is the part of the sandbox the passes drive.
type Evaluator interface {
	Define(ctx context.Context, snippet string) error
	Evaluate(ctx context.Context, expr string) (any, error)
}

// Discovery is filled progressively by the Matcher. A phase refuses to run
// while one of its prerequisites is unset.
type Discovery struct {
	StringTable *Extracted
	Shuffled    bool
	Dispatcher  *Extracted
	// Wrappers are ordered innermost first.
	Wrappers []*Extracted
}

func (d *Discovery) require(roles ...Role) error {
	for _, r := range roles {
		var ok bool
		switch r {
		case RoleStringTable:
			ok = d.StringTable != nil
		case RoleShuffle:
			ok = d.Shuffled
		case RoleDispatcher:
			ok = d.Dispatcher != nil
		case RoleWrapper:
			ok = len(d.Wrappers) > 0
		}
		if !ok {
			return &MismatchError{Construct: r.String(), Detail: "prerequisite not discovered"}
		}
	}
	return nil
}

// DecryptIds returns the dispatcher followed by the wrappers.
func (d *Discovery) DecryptIds() []ast.Id {
	var ids []ast.Id
	if d.Dispatcher != nil {
		ids = append(ids, d.Dispatcher.Id)
	}
	for _, w := range d.Wrappers {
		ids = append(ids, w.Id)
	}
	return ids
}

// DecryptNames maps every decrypt id to its declared name.
func (d *Discovery) DecryptNames() map[ast.Id]string {
	names := make(map[ast.Id]string)
	if d.Dispatcher != nil {
		names[d.Dispatcher.Id] = d.Dispatcher.Name
	}
	for _, w := range d.Wrappers {
		names[w.Id] = w.Name
	}
	return names
}

// Matcher finds the scheme's constructs, replays them into the evaluator in
// runtime order and removes them from the tree.
type Matcher struct {
	registry Registry
	eval     Evaluator
	log      zerolog.Logger

	// occupied maps sandbox names to the binding defined under them.
	occupied map[string]ast.Id
	renamed  map[ast.Id]string

	Discovery Discovery
}

func NewMatcher(eval Evaluator, registry Registry, log zerolog.Logger) *Matcher {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Matcher{
		registry: registry,
		eval:     eval,
		log:      log,
		occupied: make(map[string]ast.Id),
		renamed:  make(map[ast.Id]string),
	}
}

type statementFinder struct {
	ast.NoopVisitor
	recognizers []Recognizer
	target      ast.Id
	found       []*Extracted
}

func (v *statementFinder) VisitStatement(n *ast.Statement) {
	for _, r := range v.recognizers {
		if ext, ok := r.Match(n, v.target); ok {
			v.found = append(v.found, ext)
			return
		}
	}
	n.VisitChildrenWith(v)
}

func (m *Matcher) find(p *ast.Program, role Role, target ast.Id) []*Extracted {
	f := &statementFinder{recognizers: m.registry[role], target: target}
	f.V = f
	p.VisitWith(f)
	return f.found
}

// define replays ext into the evaluator and drops it from the tree.
func (m *Matcher) define(ctx context.Context, role Role, ext *Extracted) error {
	if ext.Name != "" {
		m.claimName(ext)
	}
	if err := m.eval.Define(ctx, ext.Snippet); err != nil {
		return fmt.Errorf("defining %s %q: %w", role, ext.Name, err)
	}
	removeStatement(ext.Stmt)
	m.log.Debug().Str("construct", role.String()).Str("name", ext.Name).Msg("defined")
	return nil
}

// claimName picks the sandbox name for ext. Functions sharing a name in
// different scopes get a numbered suffix, and the snippet is rendered again
// with every renamed binding it mentions.
func (m *Matcher) claimName(ext *Extracted) {
	name := ext.Name
	for n := 1; ; n++ {
		owner, taken := m.occupied[name]
		if !taken || owner == ext.Id {
			break
		}
		name = fmt.Sprintf("%s$%d", ext.Name, n)
	}
	m.occupied[name] = ext.Id
	if name != ext.Name {
		ext.SandboxName = name
		m.renamed[ext.Id] = name
	}

	if len(m.renamed) > 0 && renameBindings(ext.Stmt, m.renamed) {
		ext.Snippet = frontend.RenderStatement(ext.Stmt.Stmt)
	}
}

type bindingRenamer struct {
	ast.NoopVisitor
	names   map[ast.Id]string
	changed bool
}

func (v *bindingRenamer) VisitExpression(n *ast.Expression) {
	if id, ok := n.Expr.(*ast.Identifier); ok {
		if name, ok := v.names[id.ToId()]; ok {
			id.Name = name
			v.changed = true
		}
	}
	n.VisitChildrenWith(v)
}

// renameBindings rewrites the declared name and every identifier of stmt
// bound to a key of names. The statement is about to leave the tree, so it is
// edited in place.
func renameBindings(stmt *ast.Statement, names map[ast.Id]string) bool {
	v := &bindingRenamer{names: names}
	v.V = v
	if decl, ok := stmt.Stmt.(*ast.FunctionDeclaration); ok && decl.Function != nil && decl.Function.Name != nil {
		if name, ok := names[decl.Function.Name.ToId()]; ok {
			decl.Function.Name.Name = name
			v.changed = true
		}
	}
	stmt.VisitChildrenWith(v)
	return v.changed
}

// FindStringTable locates the string table function.
func (m *Matcher) FindStringTable(ctx context.Context, p *ast.Program) error {
	found := m.find(p, RoleStringTable, ast.Id{})
	if len(found) == 0 {
		return &MismatchError{Construct: RoleStringTable.String()}
	}
	if len(found) > 1 {
		m.log.Debug().Int("candidates", len(found)).Msg("several string tables, using the first")
	}

	if err := m.define(ctx, RoleStringTable, found[0]); err != nil {
		return err
	}
	m.Discovery.StringTable = found[0]
	return nil
}

// ExecuteShuffle runs the shuffler against the table defined earlier.
func (m *Matcher) ExecuteShuffle(ctx context.Context, p *ast.Program) error {
	if err := m.Discovery.require(RoleStringTable); err != nil {
		return err
	}
	table := m.Discovery.StringTable

	found := m.find(p, RoleShuffle, table.Id)
	if len(found) == 0 {
		return &MismatchError{Construct: RoleShuffle.String(), Detail: "no invocation passing " + table.Name}
	}
	for _, ext := range found {
		if err := m.define(ctx, RoleShuffle, ext); err != nil {
			return err
		}
	}
	m.Discovery.Shuffled = true
	return nil
}

// FindDispatcher locates the function indexing the shuffled table.
func (m *Matcher) FindDispatcher(ctx context.Context, p *ast.Program) error {
	if err := m.Discovery.require(RoleStringTable, RoleShuffle); err != nil {
		return err
	}
	table := m.Discovery.StringTable

	found := m.find(p, RoleDispatcher, table.Id)
	if len(found) == 0 {
		return &MismatchError{Construct: RoleDispatcher.String(), Detail: "no function calling " + table.Name}
	}
	if err := m.define(ctx, RoleDispatcher, found[0]); err != nil {
		return err
	}
	m.Discovery.Dispatcher = found[0]
	return nil
}

// FindWrappers follows the wrapper layers breadth-first, starting from the
// dispatcher. Every wrapper found becomes a target for the next layer.
func (m *Matcher) FindWrappers(ctx context.Context, p *ast.Program) error {
	if err := m.Discovery.require(RoleDispatcher); err != nil {
		return err
	}

	seen := map[ast.Id]struct{}{m.Discovery.Dispatcher.Id: {}}
	frontier := []*Extracted{m.Discovery.Dispatcher}
	for depth := 0; len(frontier) > 0; depth++ {
		var next []*Extracted
		var names []string
		for _, target := range frontier {
			for _, ext := range m.find(p, RoleWrapper, target.Id) {
				if _, dup := seen[ext.Id]; dup {
					continue
				}
				seen[ext.Id] = struct{}{}
				if err := m.define(ctx, RoleWrapper, ext); err != nil {
					return err
				}
				m.Discovery.Wrappers = append(m.Discovery.Wrappers, ext)
				next = append(next, ext)
				names = append(names, ext.EvalName())
			}
		}
		if len(next) > 0 {
			m.log.Debug().Int("layer", depth+1).Strs("wrappers", names).Msg("wrapper layer")
		}
		frontier = next
	}

	if len(m.Discovery.Wrappers) == 0 {
		return &MismatchError{Construct: RoleWrapper.String(), Detail: "no wrapper around " + m.Discovery.Dispatcher.Name}
	}
	return nil
}
