// Package sandbox executes untrusted JavaScript fragments in an isolated goja
// runtime. The runtime has no host bindings: no require, filesystem, network
// or process access. State persists across calls on the same Sandbox.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
)

const (
	defaultTimeout      = 5 * time.Second
	defaultMaxCallStack = 1024
)

var (
	// ErrTimeout is returned when an evaluation is interrupted by the
	// watchdog or by context cancellation.
	ErrTimeout = errors.New("sandbox: execution interrupted")
	// ErrNoValue is returned by Evaluate when the expression yields
	// undefined or null.
	ErrNoValue = errors.New("sandbox: expression produced no value")
	// ErrClosed is returned by calls on a closed Sandbox.
	ErrClosed = errors.New("sandbox: closed")
)

// ExecutionError reports a snippet that threw inside the runtime.
type ExecutionError struct {
	Source string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("sandbox execution failed: %v (source: %s)", e.Err, truncate(e.Source, 120))
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithTimeout bounds every Define and Evaluate call.
func WithTimeout(d time.Duration) Option {
	return func(s *Sandbox) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMaxCallStack bounds recursion depth inside the runtime.
func WithMaxCallStack(n int) Option {
	return func(s *Sandbox) {
		if n > 0 {
			s.maxCallStack = n
		}
	}
}

// Sandbox is a single persistent evaluation context. It is not safe for
// concurrent use; callers drive it sequentially.
type Sandbox struct {
	vm           *goja.Runtime
	timeout      time.Duration
	maxCallStack int
}

// New creates a sandbox with deterministic random and time sources.
func New(opts ...Option) *Sandbox {
	s := &Sandbox{
		timeout:      defaultTimeout,
		maxCallStack: defaultMaxCallStack,
	}
	for _, opt := range opts {
		opt(s)
	}

	vm := goja.New()
	vm.SetMaxCallStackSize(s.maxCallStack)
	vm.SetRandSource(func() float64 { return 0.5 })
	epoch := time.Unix(0, 0).UTC()
	vm.SetTimeSource(func() time.Time { return epoch })
	s.vm = vm
	return s
}

// Define runs snippet for its side effects (function declarations, table
// reordering). The completion value is discarded.
func (s *Sandbox) Define(ctx context.Context, snippet string) error {
	_, err := s.run(ctx, snippet)
	return err
}

// Evaluate runs expr and returns its exported value: string, int64, float64
// or bool.
func (s *Sandbox) Evaluate(ctx context.Context, expr string) (any, error) {
	v, err := s.run(ctx, expr)
	if err != nil {
		return nil, err
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, fmt.Errorf("%w: %s", ErrNoValue, truncate(expr, 120))
	}
	return v.Export(), nil
}

// Close drops the runtime. Later calls return ErrClosed.
func (s *Sandbox) Close() {
	if s.vm != nil {
		s.vm.Interrupt("closed")
		s.vm = nil
	}
}

func (s *Sandbox) run(ctx context.Context, src string) (goja.Value, error) {
	if s.vm == nil {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	vm := s.vm
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		timer := time.NewTimer(s.timeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-timer.C:
			vm.Interrupt("execution timeout")
		}
	}()

	v, err := vm.RunString(src)
	close(done)
	wg.Wait()
	vm.ClearInterrupt()

	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, interrupted.Value())
		}
		return nil, &ExecutionError{Source: src, Err: err}
	}
	return v, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
