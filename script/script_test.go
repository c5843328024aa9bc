package script

import (
	"math"
	"testing"

	"github.com/kaiku-audio/kaiku"
	"github.com/kaiku-audio/kaiku/engine"
)

func testRig(t *testing.T) (*engine.Engine, *VM) {
	t.Helper()
	cfg := kaiku.DefaultConfig()
	cfg.Channels = 1
	cfg.RingFrames = 1024
	cfg.BurstFrames = 256
	e := engine.New(cfg)
	v := New(e)
	t.Cleanup(v.Close)
	return e, v
}

// run renders exactly frames samples, draining the ring, and returns the
// last one.
func run(t *testing.T, e *engine.Engine, frames int) float32 {
	t.Helper()
	buf := make([]float32, 256)
	var last float32
	for done := 0; done < frames; {
		burst := frames - done
		if burst > 256 {
			burst = 256
		}
		n := e.Advance(burst)
		if n == 0 {
			t.Fatal("engine rendered nothing into an empty ring")
		}
		for n > 0 {
			k := n
			if k > len(buf) {
				k = len(buf)
			}
			got := e.ReadAudio(buf[:k])
			if got > 0 {
				last = buf[got-1]
			}
			done += got
			n -= k
		}
	}
	return last
}

func TestSnippetRegistersTracedRecipe(t *testing.T) {
	e, v := testRig(t)
	err := v.Do(`register("a", function(t) return sin(t * 2 * math.pi * 440) end)`)
	if err != nil {
		t.Fatal(err)
	}
	run(t, e, 10)
	if e.Live() != 1 {
		t.Errorf("Live() = %d, want 1", e.Live())
	}
}

func TestBranchingRecipeFallsBackToDirectEvaluation(t *testing.T) {
	e, v := testRig(t)
	err := v.Do(`register("x", function(t)
		if t < 10 then return 0.5 end
		return -0.5
	end)`)
	if err != nil {
		t.Fatal(err)
	}
	last := run(t, e, 1000)
	want := math.Tanh(0.5)
	if math.Abs(float64(last)-want) > 1e-6 {
		t.Errorf("after fade-in: got %v, want %v", last, want)
	}
}

func TestParamFlowsFromSnippetToRecipe(t *testing.T) {
	e, v := testRig(t)
	if err := v.Do(`set("gain", 0.25)`); err != nil {
		t.Fatal(err)
	}
	if err := v.Do(`register("p", function(t) return param("gain") end)`); err != nil {
		t.Fatal(err)
	}
	last := run(t, e, 1000)
	want := math.Tanh(0.25)
	if math.Abs(float64(last)-want) > 1e-6 {
		t.Errorf("got %v, want %v", last, want)
	}
	if e.Params().Get("gain") != 0.25 {
		t.Errorf("param table holds %v, want 0.25", e.Params().Get("gain"))
	}
}

func TestUnregisterAndClearSnippets(t *testing.T) {
	e, v := testRig(t)
	v.Do(`register("a", function(t) return 0.5 end)`)
	v.Do(`register("b", function(t) return 0.25 end)`)
	run(t, e, 1000)
	if e.Live() != 2 {
		t.Fatalf("Live() = %d, want 2", e.Live())
	}
	if err := v.Do(`unregister("a")`); err != nil {
		t.Fatal(err)
	}
	run(t, e, 600)
	if e.Live() != 1 {
		t.Errorf("Live() = %d after unregister, want 1", e.Live())
	}
	if err := v.Do(`clear()`); err != nil {
		t.Fatal(err)
	}
	if last := run(t, e, 600); last != 0 {
		t.Errorf("output after clear = %v, want 0", last)
	}
}

func TestSyntaxErrorIsReported(t *testing.T) {
	_, v := testRig(t)
	if err := v.Do(`register("a", function(t) return`); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestRecipeWithUpvaluesIsRejectedCleanly(t *testing.T) {
	_, v := testRig(t)
	// branches on t (untraceable) and closes over a local, so direct
	// evaluation cannot rebuild it either
	err := v.Do(`
		local amp = 0.5
		register("a", function(t)
			if t < 1 then return amp end
			return 0
		end)`)
	if err == nil {
		t.Fatal("expected registration to fail")
	}
}
