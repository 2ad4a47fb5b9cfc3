package vectorindex

import (
	"context"
	"sort"
	"sync"
)

// Memory 进程内索引，线性扫描.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemory 创建内存索引.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

// Name 索引名.
func (m *Memory) Name() string { return "memory" }

// Insert 写入条目.
func (m *Memory) Insert(_ context.Context, e Entry) error {
	e.Vector = append([]float32(nil), e.Vector...)

	m.mu.Lock()
	m.entries[e.FileID] = e
	m.mu.Unlock()

	return nil
}

// Nearest 线性扫描同租户同类别条目.
func (m *Memory) Nearest(ctx context.Context, q Query) ([]Neighbor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k := q.K
	if k <= 0 {
		k = 1
	}

	m.mu.RLock()
	out := make([]Neighbor, 0, len(m.entries))

	for id, e := range m.entries {
		if id == q.Exclude || e.TenantID != q.TenantID || e.Category != q.Category {
			continue
		}

		out = append(out, Neighbor{FileID: id, Score: Cosine(q.Vector, e.Vector)})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].FileID < out[j].FileID
		}

		return out[i].Score > out[j].Score
	})

	if len(out) > k {
		out = out[:k]
	}

	return out, nil
}

// Vectors 批量读取.
func (m *Memory) Vectors(_ context.Context, fileIDs []string) (map[string][]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]float32, len(fileIDs))

	for _, id := range fileIDs {
		if e, ok := m.entries[id]; ok {
			out[id] = append([]float32(nil), e.Vector...)
		}
	}

	return out, nil
}

// Delete 删除条目，不存在时忽略.
func (m *Memory) Delete(_ context.Context, fileID string) error {
	m.mu.Lock()
	delete(m.entries, fileID)
	m.mu.Unlock()

	return nil
}

// Len 条目数量.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries)
}
