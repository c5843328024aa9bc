package vm

import (
	"fmt"
	"math"

	"github.com/kaiku-audio/kaiku"
	"github.com/kaiku-audio/kaiku/arena"
)

type (
	// State is the memory an update routine runs against: the signal
	// arena (phase accumulators, relative to Base) and the helper pool
	// (filter and delay state, at absolute offsets baked in at compile
	// time).
	State struct {
		Arena []float64
		Pool  []float64
		Base  int
	}

	// UpdateFn advances all persistent state for one signal by dt seconds
	// and writes one sample per channel into out.
	UpdateFn func(st *State, t, dt float64, out []float64)

	evalFn func(st *State, t, dt float64) float64

	// OscDesc describes one discovered oscillator: a trig node whose
	// argument depends on time. Its phase lives in arena slot Base+ID.
	OscDesc struct {
		ID   int
		Kind kaiku.OpKind
		Freq *kaiku.Expr // Hz; the time derivative of the trig argument over 2pi
	}

	// Program is a compiled recipe.
	Program struct {
		Update      UpdateFn
		Channels    int
		Oscillators []OscDesc
		Warnings    []string
	}

	// Options binds a compilation to a signal: its id (helper pool keys
	// are prefixed with it) and the shared pool and parameter table. The
	// arena block offset is not baked in; the update routine takes it from
	// State.Base, which is what lets a memoized program be reused as-is.
	Options struct {
		SignalID   string
		MaxPhases  int // arena block size; oscillators beyond it are dropped
		SampleRate int
		Pool       *arena.Pool
		Params     *kaiku.Params
	}

	compiler struct {
		opts      Options
		oscs      []OscDesc
		oscSlot   map[*kaiku.Expr]int // trig node -> phase slot index
		helperOff map[*kaiku.Expr]int // helper node -> pool offset
		helperLen map[*kaiku.Expr]int
		instances map[kaiku.OpKind]int
		timeDep   map[*kaiku.Expr]bool
		warnings  []string
	}
)

// Compile lowers a traced expression tree into an update routine.
//
// Pass 1 discovers oscillators and helper blocks: every sin/cos node whose
// argument references time gets the next sequential phase slot, every
// lpf/delay node claims (or re-finds) its helper block. Pass 2 emits
// closures; wherever a trig node appeared in the original tree, the
// emitted code reads the persisted phase instead of recomputing from
// absolute elapsed time, which is what keeps the output continuous when
// code is replaced and absolute time jumps.
//
// Unrecognized node kinds are lowered to constant zero with a warning,
// never a crash. The only error is helper pool exhaustion.
func Compile(roots []*kaiku.Expr, opts Options) (*Program, error) {
	c := &compiler{
		opts:      opts,
		oscSlot:   make(map[*kaiku.Expr]int),
		helperOff: make(map[*kaiku.Expr]int),
		helperLen: make(map[*kaiku.Expr]int),
		instances: make(map[kaiku.OpKind]int),
		timeDep:   make(map[*kaiku.Expr]bool),
	}
	for _, r := range roots {
		if err := c.discover(r); err != nil {
			return nil, err
		}
	}
	oscFreqs := make([]evalFn, len(c.oscs))
	for i, osc := range c.oscs {
		oscFreqs[i] = c.compileNode(osc.Freq)
	}
	rootFns := make([]evalFn, len(roots))
	for i, r := range roots {
		rootFns[i] = c.compileNode(r)
	}
	update := func(st *State, t, dt float64, out []float64) {
		// trig lookups read the phase persisted by the previous sample, so
		// the roots are evaluated before the phases advance
		for ch := range out {
			out[ch] = rootFns[ch%len(rootFns)](st, t, dt)
		}
		for i, freq := range oscFreqs {
			ph := st.Arena[st.Base+i] + freq(st, t, dt)*dt
			ph -= math.Floor(ph)
			st.Arena[st.Base+i] = ph
		}
	}
	return &Program{
		Update:      update,
		Channels:    len(roots),
		Oscillators: c.oscs,
		Warnings:    c.warnings,
	}, nil
}

func (c *compiler) warnf(format string, args ...any) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

// discover walks the tree depth-first, registering oscillators and
// claiming helper blocks in traversal order. Traversal order is what
// gives a helper its stable instance index: an edit that doesn't move an
// effect within the composition chain re-finds the same block.
func (c *compiler) discover(e *kaiku.Expr) error {
	for _, a := range e.Args {
		if err := c.discover(a); err != nil {
			return err
		}
	}
	switch e.Kind {
	case kaiku.OpSin, kaiku.OpCos:
		if !c.dependsOnTime(e.Args[0]) {
			return nil
		}
		id := len(c.oscs)
		if id >= c.opts.MaxPhases {
			c.warnf("oscillator %d exceeds the signal's %d phase slots; it will run from absolute time without phase continuity", id, c.opts.MaxPhases)
			return nil
		}
		c.oscs = append(c.oscs, OscDesc{ID: id, Kind: e.Kind, Freq: c.frequencyOf(e.Args[0])})
		c.oscSlot[e] = id
	case kaiku.OpLpf:
		off, err := c.claimHelper(e, "lpf", 1)
		if err != nil {
			return err
		}
		c.helperOff[e] = off
	case kaiku.OpDelay:
		n := int(e.Args[1].Value*float64(c.opts.SampleRate) + 0.5)
		if n < 1 {
			n = 1
		}
		off, err := c.claimHelper(e, "delay", n+1) // slot 0 holds the write cursor
		if err != nil {
			return err
		}
		c.helperOff[e] = off
		c.helperLen[e] = n
	}
	return nil
}

func (c *compiler) claimHelper(e *kaiku.Expr, kind string, size int) (int, error) {
	inst := c.instances[e.Kind]
	c.instances[e.Kind]++
	if c.opts.Pool == nil {
		return 0, fmt.Errorf("vm: recipe uses %s but no helper pool is configured", kind)
	}
	key := arena.HelperKey{Signal: c.opts.SignalID, Kind: kind, Instance: inst}
	off, err := c.opts.Pool.Claim(key, size)
	if err != nil {
		return 0, fmt.Errorf("claiming %d slots for %s/%s#%d: %w", size, c.opts.SignalID, kind, inst, err)
	}
	return off, nil
}

func (c *compiler) dependsOnTime(e *kaiku.Expr) bool {
	if dep, ok := c.timeDep[e]; ok {
		return dep
	}
	dep := e.Kind == kaiku.TimeRef
	for _, a := range e.Args {
		if c.dependsOnTime(a) {
			dep = true
		}
	}
	c.timeDep[e] = dep
	return dep
}

// compileNode emits the closure for one node. Trig nodes that were
// registered as oscillators become persisted-phase lookups; everything
// else is ordinary arithmetic on the current time context.
func (c *compiler) compileNode(e *kaiku.Expr) evalFn {
	switch e.Kind {
	case kaiku.TimeRef:
		return func(st *State, t, dt float64) float64 { return t }
	case kaiku.Literal:
		v := e.Value
		return func(st *State, t, dt float64) float64 { return v }
	case kaiku.ParamRef:
		if c.opts.Params == nil {
			c.warnf("param %q read without a parameter table; substituting zero", e.Name)
			return zeroFn
		}
		cell := c.opts.Params.Cell(e.Name)
		return func(st *State, t, dt float64) float64 { return cell.Load() }
	case kaiku.OpAdd:
		args := c.compileArgs(e)
		if len(args) == 2 {
			a, b := args[0], args[1]
			return func(st *State, t, dt float64) float64 { return a(st, t, dt) + b(st, t, dt) }
		}
		return func(st *State, t, dt float64) float64 {
			sum := 0.0
			for _, a := range args {
				sum += a(st, t, dt)
			}
			return sum
		}
	case kaiku.OpMul:
		args := c.compileArgs(e)
		if len(args) == 2 {
			a, b := args[0], args[1]
			return func(st *State, t, dt float64) float64 { return a(st, t, dt) * b(st, t, dt) }
		}
		return func(st *State, t, dt float64) float64 {
			prod := 1.0
			for _, a := range args {
				prod *= a(st, t, dt)
			}
			return prod
		}
	case kaiku.OpPow:
		x := c.compileNode(e.Args[0])
		if e.Args[1].Kind == kaiku.Literal {
			switch e.Args[1].Value {
			case -1:
				return func(st *State, t, dt float64) float64 { return 1 / x(st, t, dt) }
			case 2:
				return func(st *State, t, dt float64) float64 { v := x(st, t, dt); return v * v }
			}
		}
		y := c.compileNode(e.Args[1])
		return func(st *State, t, dt float64) float64 { return pow(x(st, t, dt), y(st, t, dt)) }
	case kaiku.OpAbs:
		x := c.compileNode(e.Args[0])
		return func(st *State, t, dt float64) float64 { return abs(x(st, t, dt)) }
	case kaiku.OpClamp:
		x := c.compileNode(e.Args[0])
		lo := c.compileNode(e.Args[1])
		hi := c.compileNode(e.Args[2])
		return func(st *State, t, dt float64) float64 {
			return clamp(x(st, t, dt), lo(st, t, dt), hi(st, t, dt))
		}
	case kaiku.OpSin, kaiku.OpCos:
		if slot, ok := c.oscSlot[e]; ok {
			cosine := e.Kind == kaiku.OpCos
			return func(st *State, t, dt float64) float64 {
				ph := st.Arena[st.Base+slot]
				if cosine {
					return cos(2 * math.Pi * ph)
				}
				return sin(2 * math.Pi * ph)
			}
		}
		x := c.compileNode(e.Args[0])
		if e.Kind == kaiku.OpCos {
			return func(st *State, t, dt float64) float64 { return cos(x(st, t, dt)) }
		}
		return func(st *State, t, dt float64) float64 { return sin(x(st, t, dt)) }
	case kaiku.OpLpf:
		off, ok := c.lookupHelper(e)
		if !ok {
			return zeroFn
		}
		x := c.compileNode(e.Args[0])
		cutoff := c.compileNode(e.Args[1])
		return func(st *State, t, dt float64) float64 {
			alpha := 1 - math.Exp(-2*math.Pi*cutoff(st, t, dt)*dt)
			y := st.Pool[off]
			y += alpha * (x(st, t, dt) - y)
			st.Pool[off] = y
			return y
		}
	case kaiku.OpDelay:
		off, ok := c.lookupHelper(e)
		if !ok {
			return zeroFn
		}
		n := c.helperLen[e]
		x := c.compileNode(e.Args[0])
		return func(st *State, t, dt float64) float64 {
			cur := int(st.Pool[off])
			out := st.Pool[off+1+cur]
			st.Pool[off+1+cur] = x(st, t, dt)
			cur++
			if cur >= n {
				cur = 0
			}
			st.Pool[off] = float64(cur)
			return out
		}
	}
	c.warnf("unsupported operator %v; substituting zero", e.Kind)
	return zeroFn
}

func (c *compiler) lookupHelper(e *kaiku.Expr) (int, bool) {
	off, ok := c.helperOff[e]
	return off, ok
}

func (c *compiler) compileArgs(e *kaiku.Expr) []evalFn {
	fns := make([]evalFn, len(e.Args))
	for i, a := range e.Args {
		fns[i] = c.compileNode(a)
	}
	return fns
}

func zeroFn(st *State, t, dt float64) float64 { return 0 }

func pow(x, y float64) float64 { return math.Pow(x, y) }
func abs(x float64) float64    { return math.Abs(x) }
func sin(x float64) float64    { return math.Sin(x) }
func cos(x float64) float64    { return math.Cos(x) }
func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
