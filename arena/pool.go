package arena

import (
	"errors"
	"sort"
)

var (
	// ErrPoolExhausted is returned when a helper claim cannot be served
	// from the free list or the remaining pool. Fatal-and-loud: the
	// registration is aborted, never silently corrupted.
	ErrPoolExhausted = errors.New("arena: helper pool exhausted")
)

type (
	// HelperKey identifies one composable effect instance inside one
	// signal: the helper kind plus its position in the composition chain.
	// Keeping the offset memoized by this key is exactly what preserves a
	// filter's or delay's state across a code edit that doesn't change
	// its position in the chain.
	HelperKey struct {
		Signal   string
		Kind     string
		Instance int
	}

	block struct {
		off, size int
	}

	// Pool is the secondary float64 array, partitioned on demand into
	// variable-size blocks. Freed ranges go to a best-fit free list,
	// sorted by size. Adjacent free blocks are not coalesced; see
	// DESIGN.md for why fragmentation is accepted here.
	Pool struct {
		slots  []float64
		top    int // high-water bump pointer
		blocks map[HelperKey]block
		free   []block // sorted ascending by size
		used   int     // sum of live block sizes
	}
)

func NewPool(capacity int) *Pool {
	return &Pool{
		slots:  make([]float64, capacity),
		blocks: make(map[HelperKey]block),
	}
}

func (p *Pool) PoolSlots() []float64 { return p.slots }

// Used reports the total number of slots in live blocks.
func (p *Pool) Used() int { return p.used }

// Claim returns the offset of the block for key, allocating on the first
// call and returning the memoized offset afterwards. If the key exists
// with a different size (the recipe changed the effect's footprint), the
// old block is freed and a fresh one allocated.
func (p *Pool) Claim(key HelperKey, size int) (int, error) {
	if b, ok := p.blocks[key]; ok {
		if b.size == size {
			return b.off, nil
		}
		p.release(key, b)
	}
	b, err := p.allocate(size)
	if err != nil {
		return 0, err
	}
	p.blocks[key] = b
	p.used += b.size
	return b.off, nil
}

// ReleaseSignal reclaims every helper block whose key belongs to the
// signal, in bulk.
func (p *Pool) ReleaseSignal(signal string) {
	for key, b := range p.blocks {
		if key.Signal == signal {
			p.release(key, b)
		}
	}
}

func (p *Pool) allocate(size int) (block, error) {
	// best fit: the free list is sorted by size, so the first block that
	// fits is the tightest one
	i := sort.Search(len(p.free), func(i int) bool { return p.free[i].size >= size })
	if i < len(p.free) {
		b := p.free[i]
		p.free = append(p.free[:i], p.free[i+1:]...)
		if b.size > size {
			p.insertFree(block{off: b.off + size, size: b.size - size})
			b.size = size
		}
		return b, nil
	}
	if p.top+size > len(p.slots) {
		return block{}, ErrPoolExhausted
	}
	b := block{off: p.top, size: size}
	p.top += size
	return b, nil
}

func (p *Pool) release(key HelperKey, b block) {
	delete(p.blocks, key)
	p.used -= b.size
	for i := b.off; i < b.off+b.size; i++ {
		p.slots[i] = 0
	}
	p.insertFree(b)
}

func (p *Pool) insertFree(b block) {
	i := sort.Search(len(p.free), func(i int) bool { return p.free[i].size >= b.size })
	p.free = append(p.free, block{})
	copy(p.free[i+1:], p.free[i:])
	p.free[i] = b
}

// CanServe reports whether a block of the given size could currently be
// allocated without extending the pool past its high-water mark.
func (p *Pool) CanServe(size int) bool {
	i := sort.Search(len(p.free), func(i int) bool { return p.free[i].size >= size })
	return i < len(p.free) || p.top+size <= len(p.slots)
}
