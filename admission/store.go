package admission

import (
	"context"
	"sync"
	"time"
)

// DayLayout is the UTC day key format.
const DayLayout = "2006-01-02"

// UsageRecord 单个调用方在某个 UTC 日的用量
type UsageRecord struct {
	Identity     string    `json:"identity"`
	Day          string    `json:"day"`
	Count        int       `json:"count"`
	LastReset    time.Time `json:"last_reset"`
	BlockedUntil time.Time `json:"blocked_until,omitzero"`
	LastTouched  time.Time `json:"last_touched"`
}

// UsageStore persists usage records. Load returns (nil, nil) when no record
// exists; Save is an idempotent upsert keyed by (Identity, Day).
type UsageStore interface {
	Load(ctx context.Context, identity, day string) (*UsageRecord, error)
	Save(ctx context.Context, rec *UsageRecord) error
}

// Purger is implemented by stores that can drop records nobody touched since
// before. The controller's sweep calls it so idle eviction reaches the
// persisted side too.
type Purger interface {
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// MemoryStore 进程内用量存储，用于测试与单实例部署
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]UsageRecord
}

var (
	_ UsageStore = (*MemoryStore)(nil)
	_ Purger     = (*MemoryStore)(nil)
)

// NewMemoryStore 创建内存用量存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]UsageRecord)}
}

func memoryKey(identity, day string) string { return identity + "\x00" + day }

func (s *MemoryStore) Load(_ context.Context, identity, day string) (*UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[memoryKey(identity, day)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) Save(_ context.Context, rec *UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[memoryKey(rec.Identity, rec.Day)] = *rec
	return nil
}

// Len 返回存储的记录数
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Purge 删除 before 之前未访问的记录
func (s *MemoryStore) Purge(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, rec := range s.records {
		if rec.LastTouched.Before(before) {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}
