package optimize

import (
	"sync"
)

// BufferPool recycles byte slices. Buffers smaller than minSize are never
// handed out and ones that grew past maxSize are left to the GC so a single
// oversized frame does not pin memory.
type BufferPool struct {
	pool    sync.Pool
	minSize int
	maxSize int
}

func NewBufferPool(minSize, maxSize int) *BufferPool {
	if maxSize < minSize {
		maxSize = minSize
	}
	p := &BufferPool{minSize: minSize, maxSize: maxSize}
	p.pool.New = func() interface{} {
		b := make([]byte, 0, minSize)
		return &b
	}
	return p
}

// Get returns a slice of length n. Its contents are undefined.
func (p *BufferPool) Get(n int) []byte {
	bp := p.pool.Get().(*[]byte)
	b := *bp
	if cap(b) < n {
		return make([]byte, n)
	}
	return b[:n]
}

// Put hands b back. The caller must not touch b afterwards.
func (p *BufferPool) Put(b []byte) {
	if cap(b) < p.minSize || cap(b) > p.maxSize {
		return
	}
	b = b[:0]
	p.pool.Put(&b)
}
