// Package deobfuscator drives the passes that undo the string-table scheme:
// it parses the script, replays the scheme's own decoding functions in a
// sandbox, folds every decrypt call into a literal, inlines the operator maps
// and normalizes what is left.
package deobfuscator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/t14raptor/go-fast/ast"

	"github.com/fxnatic/jsdeob/fold"
	"github.com/fxnatic/jsdeob/frontend"
	"github.com/fxnatic/jsdeob/sandbox"
	"github.com/fxnatic/jsdeob/visitors"
)

type State int

const (
	StateParseFrontend State = iota
	StateFindStringTable
	StateExecuteShuffle
	StateFindDispatcherAndWrapperChain
	StateResolveDecryptCalls
	StateParseAndInlineOperatorMap
	StateNormalizeAccessors
	StateEmit
	StateDone
	StateAborted
)

var stateNames = [...]string{
	StateParseFrontend:                 "ParseFrontend",
	StateFindStringTable:               "FindStringTable",
	StateExecuteShuffle:                "ExecuteShuffle",
	StateFindDispatcherAndWrapperChain: "FindDispatcherAndWrapperChain",
	StateResolveDecryptCalls:           "ResolveDecryptCalls",
	StateParseAndInlineOperatorMap:     "ParseAndInlineOperatorMap",
	StateNormalizeAccessors:            "NormalizeAccessors",
	StateEmit:                          "Emit",
	StateDone:                          "Done",
	StateAborted:                       "Aborted",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// AbortError is returned when a state fails. No output is produced.
type AbortError struct {
	State State
	Err   error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("aborted in %s: %v", e.State, e.Err)
}

func (e *AbortError) Unwrap() error { return e.Err }

// NormalizeOptions toggles the cleanup passes run after inlining.
type NormalizeOptions struct {
	BracketToDot    bool
	ValueOrDefault  bool
	Simplify        bool
	InlineConstants bool
}

func DefaultNormalize() NormalizeOptions {
	return NormalizeOptions{
		BracketToDot:    true,
		ValueOrDefault:  true,
		Simplify:        true,
		InlineConstants: true,
	}
}

type Stats struct {
	StringTable string
	Dispatcher  string
	Wrappers    []string

	Folded     int
	Skipped    int
	Failed     int
	Aliases    int
	Unresolved int

	Maps           int
	BinaryRewrites int
	IndexRewrites  int
	PartialMaps    []string

	ConstantsInlined int
	ValueOrDefault   int
	Simplified       int
	BracketToDot     int
	Pruned           int

	Duration time.Duration
}

type Result struct {
	Code  string
	Stats Stats
}

type Option func(*Deobfuscator)

func WithLogger(log zerolog.Logger) Option {
	return func(d *Deobfuscator) { d.log = log }
}

func WithSandboxTimeout(timeout time.Duration) Option {
	return func(d *Deobfuscator) { d.timeout = timeout }
}

func WithMaxCallStack(n int) Option {
	return func(d *Deobfuscator) { d.maxCallStack = n }
}

func WithFoldPolicy(p fold.Policy) Option {
	return func(d *Deobfuscator) { d.policy = p }
}

func WithNormalize(n NormalizeOptions) Option {
	return func(d *Deobfuscator) { d.normalize = n }
}

// WithRegistry replaces the recognizers used to find the scheme's constructs.
func WithRegistry(r visitors.Registry) Option {
	return func(d *Deobfuscator) { d.registry = r }
}

type Deobfuscator struct {
	log          zerolog.Logger
	timeout      time.Duration
	maxCallStack int
	policy       fold.Policy
	normalize    NormalizeOptions
	registry     visitors.Registry
}

func New(opts ...Option) *Deobfuscator {
	d := &Deobfuscator{
		log:       zerolog.Nop(),
		policy:    fold.Skip,
		normalize: DefaultNormalize(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deobfuscate runs the pipeline with a fresh Deobfuscator built from opts.
func Deobfuscate(ctx context.Context, src string, opts ...Option) (*Result, error) {
	return New(opts...).Deobfuscate(ctx, src)
}

type run struct {
	d       *Deobfuscator
	src     string
	prog    *ast.Program
	sb      *sandbox.Sandbox
	matcher *visitors.Matcher
	stats   Stats
	code    string
}

// Deobfuscate walks the states in order and stops at the first failure.
func (d *Deobfuscator) Deobfuscate(ctx context.Context, src string) (*Result, error) {
	start := time.Now()

	sb := sandbox.New(sandbox.WithTimeout(d.timeout), sandbox.WithMaxCallStack(d.maxCallStack))
	defer sb.Close()

	r := &run{
		d:       d,
		src:     src,
		sb:      sb,
		matcher: visitors.NewMatcher(sb, d.registry, d.log),
	}

	steps := []struct {
		state State
		fn    func(context.Context) error
	}{
		{StateParseFrontend, r.parse},
		{StateFindStringTable, r.findStringTable},
		{StateExecuteShuffle, r.executeShuffle},
		{StateFindDispatcherAndWrapperChain, r.findDecryptChain},
		{StateResolveDecryptCalls, r.resolve},
		{StateParseAndInlineOperatorMap, r.inlineMaps},
		{StateNormalizeAccessors, r.normalize},
		{StateEmit, r.emit},
	}

	for _, step := range steps {
		d.log.Debug().Stringer("state", step.state).Msg("entering state")
		if err := step.fn(ctx); err != nil {
			d.log.Error().Err(err).Stringer("state", step.state).Msg("deobfuscation aborted")
			return nil, &AbortError{State: step.state, Err: err}
		}
	}

	r.stats.Duration = time.Since(start)
	d.log.Info().
		Int("folded", r.stats.Folded).
		Int("failed", r.stats.Failed).
		Int("maps", r.stats.Maps).
		Dur("took", r.stats.Duration).
		Msg("deobfuscation complete")

	return &Result{Code: r.code, Stats: r.stats}, nil
}

func (r *run) parse(context.Context) error {
	prog, err := frontend.Parse(r.src)
	if err != nil {
		return err
	}
	r.prog = prog
	return nil
}

func (r *run) findStringTable(ctx context.Context) error {
	if err := r.matcher.FindStringTable(ctx, r.prog); err != nil {
		return err
	}
	r.stats.StringTable = r.matcher.Discovery.StringTable.Name
	return nil
}

func (r *run) executeShuffle(ctx context.Context) error {
	return r.matcher.ExecuteShuffle(ctx, r.prog)
}

func (r *run) findDecryptChain(ctx context.Context) error {
	if err := r.matcher.FindDispatcher(ctx, r.prog); err != nil {
		return err
	}
	if err := r.matcher.FindWrappers(ctx, r.prog); err != nil {
		return err
	}

	r.stats.Dispatcher = r.matcher.Discovery.Dispatcher.Name
	for _, w := range r.matcher.Discovery.Wrappers {
		r.stats.Wrappers = append(r.stats.Wrappers, w.Name)
	}
	return nil
}

func (r *run) resolve(ctx context.Context) error {
	disc := r.matcher.Discovery
	targets := append([]*visitors.Extracted{disc.Dispatcher}, disc.Wrappers...)

	res := visitors.NewResolver(r.sb, r.d.policy, r.d.log)
	fs, err := res.Fold(ctx, r.prog, targets)
	r.stats.Folded, r.stats.Skipped, r.stats.Failed, r.stats.Aliases = fs.Folded, fs.Skipped, fs.Failed, fs.Aliases
	if err != nil {
		return err
	}

	r.stats.Unresolved = remainingCalls(r.prog, disc.DecryptIds())
	if r.stats.Unresolved > 0 {
		r.d.log.Warn().Int("calls", r.stats.Unresolved).Msg("decrypt calls left in output")
	}
	return nil
}

func (r *run) inlineMaps(ctx context.Context) error {
	ms, err := visitors.InlineOperatorMaps(ctx, r.prog, r.d.log)
	if err != nil {
		return err
	}
	r.stats.Maps = ms.Maps
	r.stats.BinaryRewrites = ms.BinaryRewrites
	r.stats.IndexRewrites = ms.IndexRewrites
	r.stats.PartialMaps = ms.Partial
	return nil
}

func (r *run) normalize(ctx context.Context) error {
	n := r.d.normalize
	if n.InlineConstants {
		r.stats.ConstantsInlined = visitors.InlineConstantObjects(r.prog)
	}
	if n.ValueOrDefault {
		r.stats.ValueOrDefault = visitors.ValueOrDefault(r.prog)
	}
	if n.Simplify {
		r.stats.Simplified = visitors.Simplify(r.prog)
	}
	if n.BracketToDot {
		r.stats.BracketToDot = visitors.BracketToDot(r.prog)
	}
	return ctx.Err()
}

func (r *run) emit(ctx context.Context) error {
	r.stats.Pruned = visitors.Prune(r.prog)
	r.code = frontend.Generate(r.prog)
	return ctx.Err()
}

// remainingCalls counts calls still made to any of ids.
func remainingCalls(p *ast.Program, ids []ast.Id) int {
	scope := frontend.Collect(p)
	n := 0
	for _, id := range ids {
		for _, ref := range scope.References(id) {
			if _, _, ok := ref.EnclosingCall(); ok {
				n++
			}
		}
	}
	return n
}
