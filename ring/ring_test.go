package ring

import (
	"testing"
)

func frame(stride int, v float64) []float64 {
	f := make([]float64, stride)
	for i := range f {
		f[i] = v + float64(i)/10
	}
	return f
}

func TestFIFOOrder(t *testing.T) {
	b := New(8, 2)
	written := 0
	read := 0
	out := make([]float64, 2)
	// interleave writes and reads with varying run lengths
	for step := 0; step < 200; step++ {
		for i := 0; i < 1+step%5; i++ {
			if b.Write(frame(2, float64(written))) {
				written++
			}
		}
		for i := 0; i < 1+step%3; i++ {
			if b.Read(out) {
				want := frame(2, float64(read))
				if out[0] != want[0] || out[1] != want[1] {
					t.Fatalf("frame %d: got %v, want %v", read, out, want)
				}
				read++
			}
		}
	}
	for b.Read(out) {
		want := frame(2, float64(read))
		if out[0] != want[0] || out[1] != want[1] {
			t.Fatalf("frame %d: got %v, want %v", read, out, want)
		}
		read++
	}
	if read != written {
		t.Errorf("read %d frames, wrote %d", read, written)
	}
}

func TestWriteFullDropsNewFrame(t *testing.T) {
	b := New(4, 1)
	for i := 0; i < 3; i++ {
		if !b.Write([]float64{float64(i)}) {
			t.Fatalf("write %d should have succeeded", i)
		}
	}
	if b.Free() != 0 {
		t.Fatalf("expected full buffer, Free() = %d", b.Free())
	}
	if b.Write([]float64{99}) {
		t.Fatal("write on a full buffer should return false")
	}
	if b.Drops() != 1 {
		t.Errorf("expected 1 dropped frame, got %d", b.Drops())
	}
	// existing data must be intact
	out := make([]float64, 1)
	for i := 0; i < 3; i++ {
		if !b.Read(out) {
			t.Fatalf("read %d should have succeeded", i)
		}
		if out[0] != float64(i) {
			t.Errorf("frame %d corrupted: got %v", i, out[0])
		}
	}
}

func TestReadEmptyYieldsSilence(t *testing.T) {
	b := New(4, 3)
	out := []float64{1, 2, 3}
	if b.Read(out) {
		t.Fatal("read on an empty buffer should return false")
	}
	for i, v := range out {
		if v != 0 {
			t.Errorf("out[%d] = %v, want silence", i, v)
		}
	}
}

func TestFramesAndFree(t *testing.T) {
	b := New(8, 1)
	if b.Frames() != 0 || b.Free() != 7 {
		t.Fatalf("fresh buffer: Frames=%d Free=%d", b.Frames(), b.Free())
	}
	f := []float64{0}
	for i := 1; i <= 7; i++ {
		b.Write(f)
		if b.Frames() != i || b.Free() != 7-i {
			t.Fatalf("after %d writes: Frames=%d Free=%d", i, b.Frames(), b.Free())
		}
	}
	out := make([]float64, 1)
	for i := 6; i >= 0; i-- {
		b.Read(out)
		if b.Frames() != i {
			t.Fatalf("Frames=%d, want %d", b.Frames(), i)
		}
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	const total = 100000
	b := New(64, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		out := make([]float64, 1)
		next := 0.0
		for next < total {
			if b.Read(out) {
				if out[0] != next {
					t.Errorf("got %v, want %v", out[0], next)
					return
				}
				next++
			}
		}
	}()
	f := make([]float64, 1)
	for i := 0; i < total; {
		f[0] = float64(i)
		if b.Write(f) {
			i++
		}
	}
	<-done
}
