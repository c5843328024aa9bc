package vm

import (
	"encoding/binary"
	"hash/fnv"
	"math"

	"github.com/kaiku-audio/kaiku"
)

// HashTree computes a content hash of a traced tree's structure. Players
// are cached by this hash, not by raw source text, so two snippets that
// trace to the same computation share a player and therefore an arena
// offset and phase.
func HashTree(roots []*kaiku.Expr) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	var walk func(e *kaiku.Expr)
	walk = func(e *kaiku.Expr) {
		buf[0] = byte(e.Kind)
		buf[1] = byte(len(e.Args))
		h.Write(buf[:2])
		switch e.Kind {
		case kaiku.Literal:
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(e.Value))
			h.Write(buf[:])
		case kaiku.ParamRef:
			h.Write([]byte(e.Name))
			h.Write([]byte{0})
		}
		for _, a := range e.Args {
			walk(a)
		}
	}
	buf[0] = byte(len(roots))
	h.Write(buf[:1])
	for _, r := range roots {
		walk(r)
	}
	return h.Sum64()
}
