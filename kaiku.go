package kaiku

import (
	"fmt"
	"math"
)

type (
	// OpKind identifies the operation of an expression node. The set of
	// kinds is closed: anything the compiler does not recognize is lowered
	// to a constant zero with a warning, never a crash.
	OpKind int

	// Expr is a node in a recipe expression tree. Recipes are written
	// against the builder methods below; evaluating a recipe once with the
	// time handle from Time() records the whole computation as a tree. A
	// node is immutable after construction and owned by the compiler
	// invocation that consumes it.
	Expr struct {
		Kind  OpKind
		Value float64 // Literal only
		Name  string  // ParamRef only
		Args  []*Expr
	}

	// Recipe is a user-submitted pure function of time describing one or
	// more output channels. A single root is broadcast to all channels.
	Recipe func(t *Expr) []*Expr

	// RawFunc is the uncompiled fallback form of a recipe: it is invoked
	// once per sample with the true elapsed time in seconds and fills out
	// with one value per channel. It is correct but gains none of the
	// benefits of compilation, in particular phase continuity across
	// hot-swaps.
	RawFunc func(t float64, out []float64)
)

const (
	TimeRef OpKind = iota
	Literal
	ParamRef
	OpAdd
	OpMul
	OpPow
	OpAbs
	OpClamp
	OpSin
	OpCos
	OpLpf   // one-pole lowpass, persistent state in the helper pool
	OpDelay // pure delay line, buffer in the helper pool
	NumOpKinds
)

var opNames = [NumOpKinds]string{"time", "lit", "param", "add", "mul", "pow", "abs", "clamp", "sin", "cos", "lpf", "delay"}

func (k OpKind) String() string {
	if k < 0 || k >= NumOpKinds {
		return fmt.Sprintf("opkind(%d)", int(k))
	}
	return opNames[k]
}

// TraceAbort is the panic value raised when a recipe forces a symbolic
// expression to a concrete number. The tracer recovers it and reports the
// recipe as untraceable; everything else is rethrown.
type TraceAbort struct{ Op string }

func (t TraceAbort) Error() string {
	return fmt.Sprintf("expression is not concrete in %s; recipe cannot be traced", t.Op)
}

// Time returns the recording time handle a recipe is traced with.
func Time() *Expr { return &Expr{Kind: TimeRef} }

// Lit returns a literal node. Passing a literal as the time argument of a
// recipe evaluates it directly: all builder methods fold concrete inputs,
// so the roots come back as literals.
func Lit(v float64) *Expr { return &Expr{Kind: Literal, Value: v} }

// Param returns a node reading the named engine parameter at update time.
func Param(name string) *Expr { return &Expr{Kind: ParamRef, Name: name} }

func (e *Expr) Add(xs ...*Expr) *Expr { return newOp(OpAdd, prepend(e, xs)) }
func (e *Expr) Mul(xs ...*Expr) *Expr { return newOp(OpMul, prepend(e, xs)) }
func (e *Expr) Pow(x *Expr) *Expr     { return newOp(OpPow, []*Expr{e, x}) }
func (e *Expr) Abs() *Expr            { return newOp(OpAbs, []*Expr{e}) }
func (e *Expr) Sin() *Expr            { return newOp(OpSin, []*Expr{e}) }
func (e *Expr) Cos() *Expr            { return newOp(OpCos, []*Expr{e}) }

// Clamp limits the node to [lo, hi].
func (e *Expr) Clamp(lo, hi *Expr) *Expr { return newOp(OpClamp, []*Expr{e, lo, hi}) }

// Lpf filters the node with a one-pole lowpass at the given cutoff (Hz).
// The filter state lives in the helper pool, keyed by the op's position in
// the tree, so it survives recompilation.
func (e *Expr) Lpf(cutoff *Expr) *Expr { return newOp(OpLpf, []*Expr{e, cutoff}) }

// Delay delays the node by the given number of seconds, which must be a
// constant. The delay buffer lives in the helper pool.
func (e *Expr) Delay(seconds float64) *Expr {
	return newOp(OpDelay, []*Expr{e, Lit(seconds)})
}

func (e *Expr) AddN(v float64) *Expr          { return e.Add(Lit(v)) }
func (e *Expr) MulN(v float64) *Expr          { return e.Mul(Lit(v)) }
func (e *Expr) PowN(v float64) *Expr          { return e.Pow(Lit(v)) }
func (e *Expr) ClampN(lo, hi float64) *Expr   { return e.Clamp(Lit(lo), Lit(hi)) }
func (e *Expr) Sub(x *Expr) *Expr             { return e.Add(x.MulN(-1)) }
func (e *Expr) Div(x *Expr) *Expr             { return e.Mul(x.PowN(-1)) }
func (e *Expr) IsConcrete() bool              { return e.Kind == Literal }

// Float returns the concrete value of a literal node. Calling it on a
// symbolic node aborts the trace: a recipe that branches on a value
// derived from time cannot be recorded as a tree and falls back to direct
// evaluation one level up.
func (e *Expr) Float() float64 {
	if e.Kind != Literal {
		panic(TraceAbort{Op: e.Kind.String()})
	}
	return e.Value
}

func prepend(e *Expr, xs []*Expr) []*Expr {
	args := make([]*Expr, 0, len(xs)+1)
	args = append(args, e)
	return append(args, xs...)
}

// newOp folds operations on concrete inputs so that evaluating a recipe at
// a literal time yields literal roots. Stateful helper ops cannot fold;
// under direct evaluation they pass their input through unchanged.
func newOp(kind OpKind, args []*Expr) *Expr {
	for _, a := range args {
		if a.Kind != Literal {
			return &Expr{Kind: kind, Args: args}
		}
	}
	switch kind {
	case OpAdd:
		sum := 0.0
		for _, a := range args {
			sum += a.Value
		}
		return Lit(sum)
	case OpMul:
		prod := 1.0
		for _, a := range args {
			prod *= a.Value
		}
		return Lit(prod)
	case OpPow:
		return Lit(math.Pow(args[0].Value, args[1].Value))
	case OpAbs:
		return Lit(math.Abs(args[0].Value))
	case OpClamp:
		return Lit(math.Min(math.Max(args[0].Value, args[1].Value), args[2].Value))
	case OpSin:
		return Lit(math.Sin(args[0].Value))
	case OpCos:
		return Lit(math.Cos(args[0].Value))
	case OpLpf, OpDelay:
		return args[0]
	}
	return &Expr{Kind: kind, Args: args}
}
