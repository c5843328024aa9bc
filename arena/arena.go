// Package arena provides the persistent numeric state for signals: a
// fixed-size block per registered signal id, and a secondary pool of
// variable-size blocks for composable effect state. Everything is stored
// in double precision: a phase accumulator driven by a small per-sample
// increment stops registering the increment once the accumulated total
// grows past the precision of a narrower type.
package arena

import (
	"errors"
	"hash/fnv"
)

var (
	// ErrSignalTableFull is returned when the arena has no block left for
	// a new signal id. The operation is aborted; other signals are
	// unaffected.
	ErrSignalTableFull = errors.New("arena: signal table full")
)

// Arena partitions one array of float64 slots into fixed-size blocks, one
// per registered signal id. A block is assigned by hashing the id with
// linear-probe collision resolution, so the offset is deterministic and
// stable for the lifetime of the binding no matter how many times the
// recipe is recompiled. No two live signals ever share a block.
type Arena struct {
	slots     []float64
	ids       []string // probe table; "" = free, tombstone = deleted
	blockSize int
}

const tombstone = "\x00"

func New(maxSignals, blockSize int) *Arena {
	return &Arena{
		slots:     make([]float64, maxSignals*blockSize),
		ids:       make([]string, maxSignals),
		blockSize: blockSize,
	}
}

func (a *Arena) Slots() []float64 { return a.slots }
func (a *Arena) BlockSize() int   { return a.blockSize }

func (a *Arena) hash(id string) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32()) % len(a.ids)
}

// ClaimSignal returns the base offset of the block for id, assigning one
// on first claim. The block contents are left untouched on a repeat
// claim; that is what lets oscillator phase survive a recompile.
func (a *Arena) ClaimSignal(id string) (int, error) {
	insert := -1
	h := a.hash(id)
	for i := 0; i < len(a.ids); i++ {
		j := (h + i) % len(a.ids)
		switch a.ids[j] {
		case id:
			return j * a.blockSize, nil
		case tombstone:
			if insert < 0 {
				insert = j
			}
		case "":
			if insert < 0 {
				insert = j
			}
			a.ids[insert] = id
			return insert * a.blockSize, nil
		}
	}
	if insert >= 0 {
		a.ids[insert] = id
		return insert * a.blockSize, nil
	}
	return 0, ErrSignalTableFull
}

// ReleaseSignal frees the block for id and zeroes it, so a future
// claimant of the same probe slot starts from silence.
func (a *Arena) ReleaseSignal(id string) {
	h := a.hash(id)
	for i := 0; i < len(a.ids); i++ {
		j := (h + i) % len(a.ids)
		switch a.ids[j] {
		case id:
			a.ids[j] = tombstone
			for k := j * a.blockSize; k < (j+1)*a.blockSize; k++ {
				a.slots[k] = 0
			}
			return
		case "":
			return
		}
	}
}

// Live reports the number of claimed signal blocks.
func (a *Arena) Live() int {
	n := 0
	for _, id := range a.ids {
		if id != "" && id != tombstone {
			n++
		}
	}
	return n
}
