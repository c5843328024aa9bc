package vm

import (
	"errors"
	"math"
	"testing"

	"github.com/kaiku-audio/kaiku"
)

func sine440(t *kaiku.Expr) []*kaiku.Expr {
	return []*kaiku.Expr{t.MulN(2 * math.Pi * 440).Sin()}
}

func TestTraceRecordsTree(t *testing.T) {
	roots, err := Trace(sine440)
	if err != nil {
		t.Fatal(err)
	}
	if len(roots) != 1 {
		t.Fatalf("got %d roots, want 1", len(roots))
	}
	r := roots[0]
	if r.Kind != kaiku.OpSin {
		t.Fatalf("root kind = %v, want sin", r.Kind)
	}
	if r.Args[0].Kind != kaiku.OpMul {
		t.Fatalf("sin argument kind = %v, want mul", r.Args[0].Kind)
	}
}

func TestTraceFailsOnDataDependentBranch(t *testing.T) {
	branchy := func(t *kaiku.Expr) []*kaiku.Expr {
		if t.MulN(2).Float() > 1 { // forces a symbolic value
			return []*kaiku.Expr{kaiku.Lit(1)}
		}
		return []*kaiku.Expr{kaiku.Lit(-1)}
	}
	_, err := Trace(branchy)
	if !errors.Is(err, ErrTrace) {
		t.Fatalf("expected ErrTrace, got %v", err)
	}
}

func TestTracePropagatesForeignPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected the recipe's own panic to propagate")
		}
	}()
	Trace(func(t *kaiku.Expr) []*kaiku.Expr { panic("recipe bug") })
}

func TestDirectFallbackMatchesDefinition(t *testing.T) {
	// a recipe that defeats tracing: branches on the concrete time value
	recipe := func(t *kaiku.Expr) []*kaiku.Expr {
		if t.Float() < 0.5 {
			return []*kaiku.Expr{t.MulN(2 * math.Pi * 100).Sin()}
		}
		return []*kaiku.Expr{t.MulN(2 * math.Pi * 200).Sin()}
	}
	raw := Direct(recipe, nil)
	out := make([]float64, 1)
	for _, tv := range []float64{0, 0.1, 0.499, 0.5, 0.9} {
		raw(tv, out)
		freq := 100.0
		if tv >= 0.5 {
			freq = 200
		}
		want := math.Sin(2 * math.Pi * freq * tv)
		if math.Abs(out[0]-want) > 1e-12 {
			t.Errorf("t=%v: got %v, want %v", tv, out[0], want)
		}
	}
}

func TestDirectFallbackReadsParams(t *testing.T) {
	params := kaiku.NewParams()
	params.Set("gain", 0.5)
	raw := Direct(func(t *kaiku.Expr) []*kaiku.Expr {
		return []*kaiku.Expr{kaiku.Param("gain").MulN(2)}
	}, params)
	out := make([]float64, 1)
	raw(0, out)
	if out[0] != 1 {
		t.Errorf("got %v, want 1", out[0])
	}
}

func TestHashTreeStableAndDiscriminating(t *testing.T) {
	a, _ := Trace(sine440)
	b, _ := Trace(sine440)
	if HashTree(a) != HashTree(b) {
		t.Error("identical recipes must hash equal")
	}
	c, _ := Trace(func(t *kaiku.Expr) []*kaiku.Expr {
		return []*kaiku.Expr{t.MulN(2 * math.Pi * 441).Sin()}
	})
	if HashTree(a) == HashTree(c) {
		t.Error("different frequencies must hash differently")
	}
	d, _ := Trace(func(t *kaiku.Expr) []*kaiku.Expr {
		return []*kaiku.Expr{t.MulN(2 * math.Pi * 440).Cos()}
	})
	if HashTree(a) == HashTree(d) {
		t.Error("sin and cos must hash differently")
	}
}
