package kaiku

import (
	"math"
	"sync"
	"sync/atomic"
)

type (
	// Params is the table of named values settable from the control path
	// and readable from compiled recipes. Cells are created on first use
	// under a mutex; reads and writes of a cell are single atomic loads
	// and stores, so the generation loop never takes a lock.
	Params struct {
		mu    sync.Mutex
		cells map[string]*ParamCell
	}

	// ParamCell is one named value, stored as the bit pattern of a
	// float64.
	ParamCell struct {
		bits atomic.Uint64
	}
)

func NewParams() *Params {
	return &Params{cells: make(map[string]*ParamCell)}
}

// Cell returns the cell for name, creating it if needed. The compiler
// resolves cells once per recipe so the update path is just a Load.
func (p *Params) Cell(name string) *ParamCell {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.cells[name]
	if !ok {
		c = &ParamCell{}
		p.cells[name] = c
	}
	return c
}

func (p *Params) Set(name string, value float64) { p.Cell(name).Store(value) }
func (p *Params) Get(name string) float64        { return p.Cell(name).Load() }

func (c *ParamCell) Load() float64   { return math.Float64frombits(c.bits.Load()) }
func (c *ParamCell) Store(v float64) { c.bits.Store(math.Float64bits(v)) }
