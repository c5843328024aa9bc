// Package script is the Lua control surface. A snippet is a piece of Lua
// that calls register/unregister/clear/set/settime; a recipe is a Lua
// function of one argument, the time handle. During registration the
// function is called once with an expression-builder userdata, which
// records the whole computation as a tree for the compiler. A function
// that branches on a signal value cannot be recorded; it is re-run per
// sample in a dedicated interpreter instead.
package script

import (
	"fmt"
	"math"

	lua "github.com/yuin/gopher-lua"

	"github.com/kaiku-audio/kaiku"
	"github.com/kaiku-audio/kaiku/engine"
	"github.com/kaiku-audio/kaiku/vm"
)

const exprTypeName = "kaiku.expr"

// VM evaluates control snippets against one engine. Not safe for
// concurrent use; the control server serializes snippets through it.
type VM struct {
	l   *lua.LState
	eng *engine.Engine
}

func New(eng *engine.Engine) *VM {
	l := lua.NewState()
	v := &VM{l: l, eng: eng}

	mt := l.NewTypeMetatable(exprTypeName)
	l.SetField(mt, "__add", l.NewFunction(exprBinop(func(a, b *kaiku.Expr) *kaiku.Expr { return a.Add(b) })))
	l.SetField(mt, "__sub", l.NewFunction(exprBinop((*kaiku.Expr).Sub)))
	l.SetField(mt, "__mul", l.NewFunction(exprBinop(func(a, b *kaiku.Expr) *kaiku.Expr { return a.Mul(b) })))
	l.SetField(mt, "__div", l.NewFunction(exprBinop((*kaiku.Expr).Div)))
	l.SetField(mt, "__pow", l.NewFunction(exprBinop((*kaiku.Expr).Pow)))
	l.SetField(mt, "__unm", l.NewFunction(func(l *lua.LState) int {
		push(l, toExpr(l, 1).MulN(-1))
		return 1
	}))
	l.SetField(mt, "__tostring", l.NewFunction(func(l *lua.LState) int {
		l.Push(lua.LString(fmt.Sprintf("signal(%v)", toExpr(l, 1).Kind)))
		return 1
	}))
	for _, cmp := range []string{"__lt", "__le", "__eq"} {
		l.SetField(mt, cmp, l.NewFunction(func(l *lua.LState) int {
			l.RaiseError("recipes cannot branch on a signal value")
			return 0
		}))
	}

	l.SetGlobal("register", l.NewFunction(v.luaRegister))
	l.SetGlobal("unregister", l.NewFunction(v.luaUnregister))
	l.SetGlobal("clear", l.NewFunction(v.luaClear))
	l.SetGlobal("set", l.NewFunction(v.luaSet))
	l.SetGlobal("settime", l.NewFunction(v.luaSetTime))
	registerBuilders(l)
	return v
}

// Do evaluates one snippet.
func (v *VM) Do(src string) error { return v.l.DoString(src) }

// DoFile evaluates a snippet file, typically the CLI's init script.
func (v *VM) DoFile(path string) error { return v.l.DoFile(path) }

func (v *VM) Close() { v.l.Close() }

// registerBuilders installs the expression helpers shared by the tracing
// interpreter and the per-player fallback interpreters. They accept
// either an expression userdata or a plain number.
func registerBuilders(l *lua.LState) {
	unary := func(f func(*kaiku.Expr) *kaiku.Expr) lua.LGFunction {
		return func(l *lua.LState) int {
			push(l, f(toExpr(l, 1)))
			return 1
		}
	}
	l.SetGlobal("sin", l.NewFunction(unary((*kaiku.Expr).Sin)))
	l.SetGlobal("cos", l.NewFunction(unary((*kaiku.Expr).Cos)))
	l.SetGlobal("abs", l.NewFunction(unary((*kaiku.Expr).Abs)))
	l.SetGlobal("clamp", l.NewFunction(func(l *lua.LState) int {
		push(l, toExpr(l, 1).Clamp(toExpr(l, 2), toExpr(l, 3)))
		return 1
	}))
	l.SetGlobal("lpf", l.NewFunction(func(l *lua.LState) int {
		push(l, toExpr(l, 1).Lpf(toExpr(l, 2)))
		return 1
	}))
	l.SetGlobal("delay", l.NewFunction(func(l *lua.LState) int {
		push(l, toExpr(l, 1).Delay(float64(l.CheckNumber(2))))
		return 1
	}))
	l.SetGlobal("param", l.NewFunction(func(l *lua.LState) int {
		push(l, kaiku.Param(l.CheckString(1)))
		return 1
	}))
}

func (v *VM) luaRegister(l *lua.LState) int {
	id := l.CheckString(1)
	fn := l.CheckFunction(2)
	roots, err := v.trace(fn)
	if err == nil {
		if rerr := v.eng.RegisterTraced(id, roots); rerr != nil {
			l.RaiseError("%v", rerr)
		}
		return 0
	}
	raw, ferr := v.rawPlayer(fn)
	if ferr != nil {
		l.RaiseError("%q cannot be traced (%v) and cannot run directly: %v", id, err, ferr)
	}
	if rerr := v.eng.RegisterRaw(id, raw); rerr != nil {
		l.RaiseError("%v", rerr)
	}
	return 0
}

func (v *VM) luaUnregister(l *lua.LState) int {
	if err := v.eng.Unregister(l.CheckString(1)); err != nil {
		l.RaiseError("%v", err)
	}
	return 0
}

func (v *VM) luaClear(l *lua.LState) int {
	if err := v.eng.Clear(); err != nil {
		l.RaiseError("%v", err)
	}
	return 0
}

func (v *VM) luaSet(l *lua.LState) int {
	v.eng.SetParam(l.CheckString(1), float64(l.CheckNumber(2)))
	return 0
}

func (v *VM) luaSetTime(l *lua.LState) int {
	if err := v.eng.SetTime(float64(l.CheckNumber(1))); err != nil {
		l.RaiseError("%v", err)
	}
	return 0
}

// trace calls the recipe function once with the recording time handle and
// collects its return values as expression roots.
func (v *VM) trace(fn *lua.LFunction) (roots []*kaiku.Expr, err error) {
	l := v.l
	top := l.GetTop()
	defer l.SetTop(top)
	l.Push(fn)
	push(l, kaiku.Time())
	if err := l.PCall(1, lua.MultRet, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", vm.ErrTrace, err)
	}
	n := l.GetTop() - top
	if n == 0 {
		return nil, fmt.Errorf("%w: recipe returned nothing", vm.ErrTrace)
	}
	for i := 0; i < n; i++ {
		e, ok := asExpr(l.Get(top + 1 + i))
		if !ok {
			return nil, fmt.Errorf("%w: return value %d is not a signal", vm.ErrTrace, i+1)
		}
		roots = append(roots, e)
	}
	return roots, nil
}

// rawPlayer rebuilds the recipe function inside a dedicated interpreter
// and wraps it for per-sample numeric evaluation. The rebuild works from
// the compiled function prototype, so closures over upvalues cannot be
// carried across and are rejected.
func (v *VM) rawPlayer(fn *lua.LFunction) (kaiku.RawFunc, error) {
	if fn.Proto == nil {
		return nil, fmt.Errorf("script: builtin functions cannot be recipes")
	}
	if fn.Proto.NumUpvalues > 0 {
		return nil, fmt.Errorf("script: recipe closes over %d upvalues; direct evaluation needs a self-contained function", fn.Proto.NumUpvalues)
	}
	rl := lua.NewState()
	installNumericBuilders(rl, v.eng)
	rfn := rl.NewFunctionFromProto(fn.Proto)
	return func(t float64, out []float64) {
		rl.Push(rfn)
		rl.Push(lua.LNumber(t))
		if err := rl.PCall(1, lua.MultRet, nil); err != nil {
			rl.SetTop(0)
			panic(err)
		}
		n := rl.GetTop()
		if n == 0 {
			panic("script: recipe returned nothing")
		}
		for ch := range out {
			nv, ok := rl.Get(1 + ch%n).(lua.LNumber)
			if !ok {
				rl.SetTop(0)
				panic("script: recipe returned a non-number under direct evaluation")
			}
			out[ch] = float64(nv)
		}
		rl.SetTop(0)
	}, nil
}

// installNumericBuilders shadows the expression helpers with their plain
// numeric meanings for direct evaluation. Stateful helpers degrade to
// identity, matching what folding does to them on concrete inputs.
func installNumericBuilders(l *lua.LState, eng *engine.Engine) {
	num := func(f func(float64) float64) lua.LGFunction {
		return func(l *lua.LState) int {
			l.Push(lua.LNumber(f(float64(l.CheckNumber(1)))))
			return 1
		}
	}
	l.SetGlobal("sin", l.NewFunction(num(math.Sin)))
	l.SetGlobal("cos", l.NewFunction(num(math.Cos)))
	l.SetGlobal("abs", l.NewFunction(num(math.Abs)))
	l.SetGlobal("clamp", l.NewFunction(func(l *lua.LState) int {
		x := float64(l.CheckNumber(1))
		lo := float64(l.CheckNumber(2))
		hi := float64(l.CheckNumber(3))
		if x < lo {
			x = lo
		}
		if x > hi {
			x = hi
		}
		l.Push(lua.LNumber(x))
		return 1
	}))
	identity := func(l *lua.LState) int {
		l.Push(l.CheckNumber(1))
		return 1
	}
	l.SetGlobal("lpf", l.NewFunction(identity))
	l.SetGlobal("delay", l.NewFunction(identity))
	l.SetGlobal("param", l.NewFunction(func(l *lua.LState) int {
		l.Push(lua.LNumber(eng.Params().Get(l.CheckString(1))))
		return 1
	}))
}

func exprBinop(op func(*kaiku.Expr, *kaiku.Expr) *kaiku.Expr) lua.LGFunction {
	return func(l *lua.LState) int {
		push(l, op(toExpr(l, 1), toExpr(l, 2)))
		return 1
	}
}

func push(l *lua.LState, e *kaiku.Expr) {
	ud := l.NewUserData()
	ud.Value = e
	l.SetMetatable(ud, l.GetTypeMetatable(exprTypeName))
	l.Push(ud)
}

func toExpr(l *lua.LState, idx int) *kaiku.Expr {
	val := l.Get(idx)
	if e, ok := asExpr(val); ok {
		return e
	}
	if n, ok := val.(lua.LNumber); ok {
		return kaiku.Lit(float64(n))
	}
	l.RaiseError("argument %d: expected a signal or a number, got %s", idx, val.Type())
	return nil
}

func asExpr(val lua.LValue) (*kaiku.Expr, bool) {
	ud, ok := val.(*lua.LUserData)
	if !ok {
		return nil, false
	}
	e, ok := ud.Value.(*kaiku.Expr)
	return e, ok
}
