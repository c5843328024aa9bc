package vm

import (
	"math"

	"github.com/kaiku-audio/kaiku"
)

// frequencyOf turns a trig node's argument into its instantaneous
// frequency in Hz: the time derivative of the argument divided by 2pi.
// For the common sin(2*pi*f*t) shape this folds to the literal f; for
// FM-style arguments it stays an expression evaluated per sample.
func (c *compiler) frequencyOf(arg *kaiku.Expr) *kaiku.Expr {
	return c.derivative(arg).MulN(1 / (2 * math.Pi))
}

// derivative differentiates a node with respect to time. Parameters are
// treated as constant over a sample. Kinds without a usable derivative
// contribute zero frequency, with a warning.
func (c *compiler) derivative(e *kaiku.Expr) *kaiku.Expr {
	switch e.Kind {
	case kaiku.TimeRef:
		return kaiku.Lit(1)
	case kaiku.Literal, kaiku.ParamRef:
		return kaiku.Lit(0)
	case kaiku.OpAdd:
		d := kaiku.Lit(0)
		for _, a := range e.Args {
			if c.dependsOnTime(a) {
				d = d.Add(c.derivative(a))
			}
		}
		return d
	case kaiku.OpMul:
		// product rule over the time-dependent factors
		d := kaiku.Lit(0)
		for i, a := range e.Args {
			if !c.dependsOnTime(a) {
				continue
			}
			term := c.derivative(a)
			for j, b := range e.Args {
				if j != i {
					term = term.Mul(b)
				}
			}
			d = d.Add(term)
		}
		return d
	case kaiku.OpPow:
		f, g := e.Args[0], e.Args[1]
		if g.Kind == kaiku.Literal {
			// d/dt f^k = k * f^(k-1) * f'
			return kaiku.Lit(g.Value).Mul(f.Pow(kaiku.Lit(g.Value - 1)), c.derivative(f))
		}
		c.warnf("cannot differentiate pow with a non-constant exponent inside an oscillator argument; its frequency contribution is zero")
		return kaiku.Lit(0)
	case kaiku.OpSin:
		f := e.Args[0]
		return f.Cos().Mul(c.derivative(f))
	case kaiku.OpCos:
		f := e.Args[0]
		return f.Sin().MulN(-1).Mul(c.derivative(f))
	case kaiku.OpClamp:
		// saturating in the tails, identity in the passband; using the
		// input's derivative keeps the common vibrato-limited case right
		return c.derivative(e.Args[0])
	}
	c.warnf("cannot differentiate %v inside an oscillator argument; its frequency contribution is zero", e.Kind)
	return kaiku.Lit(0)
}
