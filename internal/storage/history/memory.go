package history

import (
	"context"
	"sync"

	"mailaudit/backend/internal/domain"
)

// DefaultMemoryCapacity 内存存储保留的最大记录数
const DefaultMemoryCapacity = 1000

// MemoryStore 固定容量的环形缓冲区，写满后覆盖最旧的记录
type MemoryStore struct {
	mu      sync.RWMutex
	records []domain.QueryRecord
	next    int
	full    bool
}

// NewMemoryStore 创建内存存储
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{records: make([]domain.QueryRecord, capacity)}
}

// Save 保存记录
func (s *MemoryStore) Save(_ context.Context, record *domain.QueryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[s.next] = *record
	s.next = (s.next + 1) % len(s.records)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// ListRecent 按写入顺序倒序返回
func (s *MemoryStore) ListRecent(_ context.Context, limit int, requester string) ([]domain.QueryRecord, error) {
	limit = normalizeLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	size := s.next
	if s.full {
		size = len(s.records)
	}

	result := make([]domain.QueryRecord, 0, min(limit, size))
	for i := 0; i < size && len(result) < limit; i++ {
		idx := (s.next - 1 - i + len(s.records)) % len(s.records)
		record := s.records[idx]
		if requester != "" && record.Requester != requester {
			continue
		}
		result = append(result, record)
	}
	return result, nil
}

// Len 当前记录数
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.full {
		return len(s.records)
	}
	return s.next
}

// Health 内存存储总是健康
func (s *MemoryStore) Health(context.Context) error { return nil }

// Close 无需释放资源
func (s *MemoryStore) Close() error { return nil }
