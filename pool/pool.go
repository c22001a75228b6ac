// Package pool provides size-classed byte buffers shared by the decoder and
// its scratch regions.
package pool

import (
	"math/bits"
	"sync"
)

const (
	minClassShift = 6  // 64 B
	maxClassShift = 26 // 64 MiB
)

// Pool hands out buffers whose capacity is a power of two. Buffers larger
// than the biggest class are allocated directly and dropped on Put.
type Pool struct {
	classes [maxClassShift - minClassShift + 1]sync.Pool
}

// New returns an empty pool.
func New() *Pool {
	return &Pool{}
}

var defaultPool = New()

// Default returns the process-wide pool.
func Default() *Pool {
	return defaultPool
}

func classOf(size int) int {
	if size <= 1<<minClassShift {
		return 0
	}
	return bits.Len(uint(size-1)) - minClassShift
}

// Get returns a buffer with len == size and cap rounded up to a power of two.
func (p *Pool) Get(size int) []byte {
	if size < 0 {
		size = 0
	}
	c := classOf(size)
	if c >= len(p.classes) {
		return make([]byte, size)
	}
	if v := p.classes[c].Get(); v != nil {
		buf := *(v.(*[]byte))
		return buf[:size]
	}
	return make([]byte, size, 1<<(c+minClassShift))
}

// Put returns buf to its class. Buffers whose capacity is not exactly a
// class size are ignored.
func (p *Pool) Put(buf []byte) {
	c := cap(buf)
	if c < 1<<minClassShift || c&(c-1) != 0 {
		return
	}
	idx := bits.Len(uint(c)) - 1 - minClassShift
	if idx >= len(p.classes) {
		return
	}
	buf = buf[:0]
	p.classes[idx].Put(&buf)
}
