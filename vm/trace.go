// Package vm turns stateless recipe functions of time into stateful,
// phase-continuous update routines. Trace records a recipe's structure as
// an expression tree; Compile lowers the tree into a closure bound to
// arena slots.
package vm

import (
	"errors"
	"fmt"

	"github.com/kaiku-audio/kaiku"
)

// ErrTrace reports a recipe that is incompatible with symbolic tracing,
// typically because it branches on a concrete numeric value derived from
// time. The caller recovers by falling back to direct per-sample
// evaluation.
var ErrTrace = errors.New("vm: recipe cannot be traced")

// Trace executes the recipe exactly once against a recording time handle
// and returns the root node per output channel.
func Trace(recipe kaiku.Recipe) (roots []*kaiku.Expr, err error) {
	defer func() {
		if r := recover(); r != nil {
			if abort, ok := r.(kaiku.TraceAbort); ok {
				err = fmt.Errorf("%w: %v", ErrTrace, abort)
				roots = nil
				return
			}
			panic(r)
		}
	}()
	roots = recipe(kaiku.Time())
	if len(roots) == 0 {
		return nil, fmt.Errorf("%w: recipe returned no channels", ErrTrace)
	}
	for i, r := range roots {
		if r == nil {
			return nil, fmt.Errorf("%w: channel %d is nil", ErrTrace, i)
		}
	}
	return roots, nil
}

// Direct wraps a recipe for uncompiled evaluation: the recipe is re-run on
// every sample at the true elapsed time. Correct, but without phase
// continuity; stateful helper ops degrade to pass-through.
func Direct(recipe kaiku.Recipe, params *kaiku.Params) kaiku.RawFunc {
	return func(t float64, out []float64) {
		roots := recipe(kaiku.Lit(t))
		if len(roots) == 0 {
			for c := range out {
				out[c] = 0
			}
			return
		}
		for c := range out {
			r := roots[c%len(roots)]
			out[c] = evalConcrete(r, t, params)
		}
	}
}

// evalConcrete evaluates a tree with no symbolic time left in it. Param
// references keep a tree from folding to a literal, so this walks the
// residue.
func evalConcrete(e *kaiku.Expr, t float64, params *kaiku.Params) float64 {
	switch e.Kind {
	case kaiku.Literal:
		return e.Value
	case kaiku.TimeRef:
		return t
	case kaiku.ParamRef:
		if params == nil {
			return 0
		}
		return params.Get(e.Name)
	case kaiku.OpAdd:
		sum := 0.0
		for _, a := range e.Args {
			sum += evalConcrete(a, t, params)
		}
		return sum
	case kaiku.OpMul:
		prod := 1.0
		for _, a := range e.Args {
			prod *= evalConcrete(a, t, params)
		}
		return prod
	case kaiku.OpPow:
		return pow(evalConcrete(e.Args[0], t, params), evalConcrete(e.Args[1], t, params))
	case kaiku.OpAbs:
		return abs(evalConcrete(e.Args[0], t, params))
	case kaiku.OpClamp:
		return clamp(evalConcrete(e.Args[0], t, params), evalConcrete(e.Args[1], t, params), evalConcrete(e.Args[2], t, params))
	case kaiku.OpSin:
		return sin(evalConcrete(e.Args[0], t, params))
	case kaiku.OpCos:
		return cos(evalConcrete(e.Args[0], t, params))
	case kaiku.OpLpf, kaiku.OpDelay:
		return evalConcrete(e.Args[0], t, params)
	}
	return 0
}
