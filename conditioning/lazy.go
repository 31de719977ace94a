package conditioning

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Observer is notified once per computed map.
type Observer func(m *Map, err error, elapsed time.Duration)

// Lazy computes a conditioning map at most once per request. Engines that do
// not consume conditioning never call Get, so the photo is only processed when
// a conditioning-capable engine is actually tried.
type Lazy struct {
	extractor *Extractor
	data      []byte
	res       Resolution
	observer  Observer

	once     sync.Once
	computed atomic.Bool
	m        *Map
	err      error
}

// NewLazy 创建延迟计算的条件图来源
func NewLazy(ex *Extractor, data []byte, res Resolution, observer Observer) *Lazy {
	return &Lazy{extractor: ex, data: data, res: res, observer: observer}
}

// Get returns the memoised map, computing it on first use.
func (l *Lazy) Get(ctx context.Context) (*Map, error) {
	l.once.Do(func() {
		start := time.Now()
		l.m, l.err = l.extractor.Extract(ctx, l.data, l.res)
		l.computed.Store(true)
		if l.observer != nil {
			l.observer(l.m, l.err, time.Since(start))
		}
	})
	return l.m, l.err
}

// Computed reports whether Get has run.
func (l *Lazy) Computed() bool {
	return l.computed.Load()
}
