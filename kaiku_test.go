package kaiku

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestBuilderFoldsConcreteInputs(t *testing.T) {
	// evaluating a recipe at a literal time must collapse to a literal
	e := Lit(0.25).MulN(2 * math.Pi * 440).Sin()
	if !e.IsConcrete() {
		t.Fatal("all-literal expression did not fold")
	}
	want := math.Sin(2 * math.Pi * 440 * 0.25)
	if e.Float() != want {
		t.Errorf("folded to %v, want %v", e.Float(), want)
	}
}

func TestSymbolicExpressionStaysSymbolic(t *testing.T) {
	e := Time().MulN(2).AddN(1)
	if e.IsConcrete() {
		t.Fatal("time-dependent expression folded to a literal")
	}
	if e.Kind != OpAdd {
		t.Errorf("root kind = %v, want add", e.Kind)
	}
}

func TestFloatPanicsOnSymbolicValue(t *testing.T) {
	defer func() {
		if _, ok := recover().(TraceAbort); !ok {
			t.Fatal("expected a TraceAbort panic")
		}
	}()
	Time().MulN(2).Float()
}

func TestStatefulOpsPassThroughUnderFolding(t *testing.T) {
	// a filter or delay over a constant is that constant
	if got := Lit(0.5).Lpf(Lit(1000)); got.Float() != 0.5 {
		t.Errorf("folded lpf = %v, want 0.5", got.Float())
	}
	if got := Lit(0.5).Delay(0.1); got.Float() != 0.5 {
		t.Errorf("folded delay = %v, want 0.5", got.Float())
	}
}

func TestSubAndDivDesugar(t *testing.T) {
	if got := Lit(3).Sub(Lit(1)).Float(); got != 2 {
		t.Errorf("3 - 1 = %v", got)
	}
	if got := Lit(3).Div(Lit(2)).Float(); got != 1.5 {
		t.Errorf("3 / 2 = %v", got)
	}
	if got := Lit(-0.5).ClampN(0, 1).Float(); got != 0 {
		t.Errorf("clamp(-0.5, 0, 1) = %v", got)
	}
}

func TestLoadConfigFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kaiku.yml")
	if err := os.WriteFile(path, []byte("samplerate: 44100\nfademillis: 25\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SampleRate != 44100 || cfg.FadeMillis != 25 {
		t.Errorf("explicit fields lost: %+v", cfg)
	}
	def := DefaultConfig()
	if cfg.Channels != def.Channels || cfg.RingFrames != def.RingFrames || cfg.ControlAddr != def.ControlAddr {
		t.Errorf("unset fields not defaulted: %+v", cfg)
	}
}

func TestParamsRoundTrip(t *testing.T) {
	p := NewParams()
	if p.Get("missing") != 0 {
		t.Error("unset param should read as zero")
	}
	p.Set("gain", 0.75)
	if p.Get("gain") != 0.75 {
		t.Errorf("gain = %v, want 0.75", p.Get("gain"))
	}
	if p.Cell("gain") != p.Cell("gain") {
		t.Error("Cell must be stable per name")
	}
}
