package queue

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps queue items in memory. It survives a Manager being
// stopped and recreated within one process, which makes it useful for tests
// of restart behaviour; data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]map[int64]storedItem // queue -> seq -> item
	closed bool
}

type storedItem struct {
	data       []byte
	enqueuedAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[int64]storedItem),
	}
}

// Put implements Store.
func (m *MemoryStore) Put(queue string, seq int64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if m.data[queue] == nil {
		m.data[queue] = make(map[int64]storedItem)
	}

	// Copy data to avoid retaining caller's slice
	stored := make([]byte, len(data))
	copy(stored, data)
	m.data[queue][seq] = storedItem{data: stored, enqueuedAt: time.Now().UTC()}
	return nil
}

// Remove implements Store.
func (m *MemoryStore) Remove(queue string, seq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if items, ok := m.data[queue]; ok {
		delete(items, seq)
		if len(items) == 0 {
			delete(m.data, queue)
		}
	}
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(queue string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	items := m.data[queue]
	records := make([]Record, 0, len(items))
	for seq, item := range items {
		data := make([]byte, len(item.data))
		copy(data, item.data)
		records = append(records, Record{
			Queue:      queue,
			Seq:        seq,
			Data:       data,
			EnqueuedAt: item.enqueuedAt,
		})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Seq < records[j].Seq
	})
	return records, nil
}

// Queues implements Store.
func (m *MemoryStore) Queues() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	names := make([]string, 0, len(m.data))
	for name := range m.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Clear implements Store.
func (m *MemoryStore) Clear(queue string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.data, queue)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil
	return nil
}

// Len returns the total number of items across all queues.
// Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, items := range m.data {
		count += len(items)
	}
	return count
}
