package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// maxPooledBuffer caps buffers returned to the pool so one huge image does
// not pin memory.
const maxPooledBuffer = 8 << 20

// BufferPool reuses image encode buffers.
type BufferPool struct {
	pool sync.Pool
	gets atomic.Int64
	news atomic.Int64
}

// NewBufferPool creates a pool whose buffers start with initSize capacity.
func NewBufferPool(initSize int) *BufferPool {
	p := &BufferPool{}
	p.pool.New = func() any {
		p.news.Add(1)
		return bytes.NewBuffer(make([]byte, 0, initSize))
	}
	return p
}

// Get returns an empty buffer.
func (p *BufferPool) Get() *bytes.Buffer {
	p.gets.Add(1)
	return p.pool.Get().(*bytes.Buffer)
}

// Put resets buf and returns it to the pool.
func (p *BufferPool) Put(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledBuffer {
		return
	}
	buf.Reset()
	p.pool.Put(buf)
}

// HitRate returns the share of Get calls served from the pool.
func (p *BufferPool) HitRate() float64 {
	gets := p.gets.Load()
	if gets == 0 {
		return 0
	}
	return float64(gets-p.news.Load()) / float64(gets)
}

// Images is shared by the PNG encoders of the rendering backends.
var Images = NewBufferPool(256 << 10)
