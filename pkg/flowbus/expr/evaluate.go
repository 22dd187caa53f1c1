package expr

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Func is a custom function callable from expressions.
type Func func(args ...any) (any, error)

// Evaluator compiles expressions with a shared set of custom functions and
// caches the compiled programs by source.
type Evaluator struct {
	funcs map[string]Func

	mu    sync.RWMutex
	cache map[cacheKey]*vm.Program
}

type cacheKey struct {
	src  string
	bool bool
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithFunction registers a custom function.
func WithFunction(name string, fn Func) Option {
	return func(e *Evaluator) {
		if e.funcs == nil {
			e.funcs = make(map[string]Func)
		}
		e.funcs[name] = fn
	}
}

// New creates an Evaluator.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{cache: make(map[cacheKey]*vm.Program)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEvaluator = New()

// Compile compiles a boolean predicate with the default evaluator.
func Compile(src string) (*Predicate, error) {
	return defaultEvaluator.Compile(src)
}

// CompileValue compiles a value expression with the default evaluator.
func CompileValue(src string) (*Value, error) {
	return defaultEvaluator.CompileValue(src)
}

// Compile compiles src as a predicate that must produce a boolean.
func (e *Evaluator) Compile(src string) (*Predicate, error) {
	program, err := e.program(src, true)
	if err != nil {
		return nil, err
	}
	return &Predicate{src: src, program: program}, nil
}

// CompileValue compiles src as an expression producing any value.
func (e *Evaluator) CompileValue(src string) (*Value, error) {
	program, err := e.program(src, false)
	if err != nil {
		return nil, err
	}
	return &Value{src: src, program: program}, nil
}

func (e *Evaluator) program(src string, asBool bool) (*vm.Program, error) {
	key := cacheKey{src: src, bool: asBool}

	e.mu.RLock()
	p, ok := e.cache[key]
	e.mu.RUnlock()
	if ok {
		return p, nil
	}

	opts := []expr.Option{expr.AllowUndefinedVariables()}
	if asBool {
		opts = append(opts, expr.AsBool())
	}
	for name, fn := range e.funcs {
		opts = append(opts, expr.Function(name, fn))
	}

	p, err := expr.Compile(src, opts...)
	if err != nil {
		return nil, &CompileError{Source: src, Err: err}
	}

	e.mu.Lock()
	e.cache[key] = p
	e.mu.Unlock()
	return p, nil
}

// Predicate is a compiled boolean expression.
type Predicate struct {
	src     string
	program *vm.Program
}

// String returns the source of the predicate.
func (p *Predicate) String() string { return p.src }

// Match evaluates the predicate against env.
func (p *Predicate) Match(env map[string]any) (bool, error) {
	out, err := vm.Run(p.program, env)
	if err != nil {
		return false, &EvalError{Source: p.src, Err: err}
	}
	b, ok := out.(bool)
	if !ok {
		return false, &EvalError{Source: p.src, Err: fmt.Errorf("expected bool, got %T", out)}
	}
	return b, nil
}

// Value is a compiled expression producing an arbitrary value.
type Value struct {
	src     string
	program *vm.Program
}

// String returns the source of the expression.
func (v *Value) String() string { return v.src }

// Eval evaluates the expression against env.
func (v *Value) Eval(env map[string]any) (any, error) {
	out, err := vm.Run(v.program, env)
	if err != nil {
		return nil, &EvalError{Source: v.src, Err: err}
	}
	return out, nil
}

// Float evaluates the expression and converts the result to float64.
func (v *Value) Float(env map[string]any) (float64, error) {
	out, err := v.Eval(env)
	if err != nil {
		return 0, err
	}
	f, ok := ToFloat64(out)
	if !ok {
		return 0, &EvalError{Source: v.src, Err: fmt.Errorf("not a number: %v (%T)", out, out)}
	}
	return f, nil
}

// CompileError reports an expression that failed to compile.
type CompileError struct {
	Source string
	Err    error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile expression %q: %v", e.Source, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// EvalError reports an expression that failed at run time.
type EvalError struct {
	Source string
	Err    error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluate expression %q: %v", e.Source, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }
