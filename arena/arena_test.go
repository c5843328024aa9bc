package arena

import (
	"fmt"
	"math/rand"
	"testing"
)

func TestClaimSignalStable(t *testing.T) {
	a := New(16, 4)
	off1, err := a.ClaimSignal("kick")
	if err != nil {
		t.Fatal(err)
	}
	a.Slots()[off1] = 0.25 // simulate persisted phase
	off2, err := a.ClaimSignal("kick")
	if err != nil {
		t.Fatal(err)
	}
	if off1 != off2 {
		t.Fatalf("offsets differ across claims: %d vs %d", off1, off2)
	}
	if a.Slots()[off2] != 0.25 {
		t.Error("repeat claim must not disturb block contents")
	}
}

func TestNoTwoSignalsShareABlock(t *testing.T) {
	a := New(8, 2)
	seen := map[int]string{}
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("sig%d", i)
		off, err := a.ClaimSignal(id)
		if err != nil {
			t.Fatalf("claim %s: %v", id, err)
		}
		if prev, ok := seen[off]; ok {
			t.Fatalf("%s and %s share offset %d", prev, id, off)
		}
		seen[off] = id
	}
	if _, err := a.ClaimSignal("overflow"); err != ErrSignalTableFull {
		t.Fatalf("expected ErrSignalTableFull, got %v", err)
	}
}

func TestReleaseSignalZeroesAndReuses(t *testing.T) {
	a := New(4, 2)
	off, _ := a.ClaimSignal("a")
	a.Slots()[off] = 1
	a.Slots()[off+1] = 2
	a.ReleaseSignal("a")
	if a.Slots()[off] != 0 || a.Slots()[off+1] != 0 {
		t.Error("release must zero the block")
	}
	if a.Live() != 0 {
		t.Errorf("Live() = %d after release", a.Live())
	}
	// the slot must be claimable again, and probing must still find ids
	// inserted past the tombstone
	if _, err := a.ClaimSignal("b"); err != nil {
		t.Fatal(err)
	}
}

func TestProbePastTombstone(t *testing.T) {
	// fill the table so collisions are guaranteed, delete one id, and
	// check the rest still resolve to their original blocks
	a := New(4, 1)
	offs := map[string]int{}
	for _, id := range []string{"a", "b", "c", "d"} {
		off, err := a.ClaimSignal(id)
		if err != nil {
			t.Fatal(err)
		}
		offs[id] = off
	}
	a.ReleaseSignal("b")
	for _, id := range []string{"a", "c", "d"} {
		off, err := a.ClaimSignal(id)
		if err != nil {
			t.Fatal(err)
		}
		if off != offs[id] {
			t.Errorf("%s moved from %d to %d after unrelated release", id, offs[id], off)
		}
	}
}

func TestPoolClaimMemoized(t *testing.T) {
	p := NewPool(64)
	key := HelperKey{Signal: "a", Kind: "lpf", Instance: 0}
	off1, err := p.Claim(key, 4)
	if err != nil {
		t.Fatal(err)
	}
	p.PoolSlots()[off1] = 0.5
	off2, err := p.Claim(key, 4)
	if err != nil {
		t.Fatal(err)
	}
	if off1 != off2 {
		t.Fatalf("memoized claim moved: %d vs %d", off1, off2)
	}
	if p.PoolSlots()[off2] != 0.5 {
		t.Error("repeat claim must preserve helper state")
	}
}

func TestPoolExhaustion(t *testing.T) {
	p := NewPool(8)
	if _, err := p.Claim(HelperKey{Signal: "a", Kind: "delay", Instance: 0}, 6); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Claim(HelperKey{Signal: "a", Kind: "delay", Instance: 1}, 6); err != ErrPoolExhausted {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}
	// the failed claim must not count as used
	if p.Used() != 6 {
		t.Errorf("Used() = %d, want 6", p.Used())
	}
}

func TestPoolNoLeak(t *testing.T) {
	const n = 20
	p := NewPool(4096)
	sizes := make(map[string]int)
	largest := 0
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("sig%d", i)
		for inst := 0; inst < 3; inst++ {
			size := 1 + rand.Intn(64)
			if size > largest {
				largest = size
			}
			sizes[id] += size
			if _, err := p.Claim(HelperKey{Signal: id, Kind: "delay", Instance: inst}, size); err != nil {
				t.Fatal(err)
			}
		}
	}
	// release in shuffled order
	order := rand.Perm(n)
	for _, i := range order {
		p.ReleaseSignal(fmt.Sprintf("sig%d", i))
	}
	if p.Used() != 0 {
		t.Errorf("Used() = %d after releasing everything", p.Used())
	}
	if !p.CanServe(largest) {
		t.Errorf("free list cannot serve a block of %d slots after full release", largest)
	}
}

func TestPoolBestFitReuse(t *testing.T) {
	p := NewPool(100)
	a, _ := p.Claim(HelperKey{Signal: "a", Kind: "delay", Instance: 0}, 10)
	if _, err := p.Claim(HelperKey{Signal: "b", Kind: "delay", Instance: 0}, 20); err != nil {
		t.Fatal(err)
	}
	p.ReleaseSignal("a")
	// a same-size claim must come from the freed range, not extend the pool
	c, err := p.Claim(HelperKey{Signal: "c", Kind: "delay", Instance: 0}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if c != a {
		t.Errorf("expected freed block at %d to be reused, got %d", a, c)
	}
}

func TestPoolResizeOnChangedFootprint(t *testing.T) {
	p := NewPool(100)
	key := HelperKey{Signal: "a", Kind: "delay", Instance: 0}
	if _, err := p.Claim(key, 10); err != nil {
		t.Fatal(err)
	}
	off, err := p.Claim(key, 30)
	if err != nil {
		t.Fatal(err)
	}
	if p.Used() != 30 {
		t.Errorf("Used() = %d, want 30", p.Used())
	}
	_ = off
}
