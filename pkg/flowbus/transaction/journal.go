package transaction

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Record is the journal entry of one transaction.
type Record struct {
	TxID       string    `json:"tx_id"`
	Status     Status    `json:"status"`
	Resources  int       `json:"resources"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Journal records transaction outcomes.
// Implementations must be safe for concurrent use.
type Journal interface {
	// Save creates or replaces the record of a transaction.
	Save(ctx context.Context, rec Record) error

	// Get retrieves the record of a transaction.
	Get(ctx context.Context, txID string) (Record, error)

	// List returns records matching the filter, oldest first.
	List(ctx context.Context, filter *ListFilter) ([]Record, error)

	// Delete removes a record.
	Delete(ctx context.Context, txID string) error
}

// ListFilter specifies criteria for listing records.
type ListFilter struct {
	// Status filters by transaction status.
	Status Status

	// Limit is the maximum number of results.
	Limit int

	// Offset is the number of results to skip.
	Offset int
}

// MemoryJournal is an in-memory Journal.
type MemoryJournal struct {
	records map[string]Record
	mu      sync.RWMutex
}

// NewMemoryJournal creates an empty journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{records: make(map[string]Record)}
}

// Save creates or replaces a record.
func (j *MemoryJournal) Save(_ context.Context, rec Record) error {
	if rec.TxID == "" {
		return fmt.Errorf("transaction id is required")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records[rec.TxID] = rec
	return nil
}

// Get retrieves a record.
func (j *MemoryJournal) Get(_ context.Context, txID string) (Record, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	rec, ok := j.records[txID]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

// List returns records matching the filter.
func (j *MemoryJournal) List(_ context.Context, filter *ListFilter) ([]Record, error) {
	j.mu.RLock()
	result := make([]Record, 0, len(j.records))
	for _, rec := range j.records {
		if filter != nil && filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		result = append(result, rec)
	}
	j.mu.RUnlock()

	sort.Slice(result, func(a, b int) bool {
		return result[a].StartedAt.Before(result[b].StartedAt)
	})

	if filter != nil {
		if filter.Offset > 0 {
			if filter.Offset >= len(result) {
				return []Record{}, nil
			}
			result = result[filter.Offset:]
		}
		if filter.Limit > 0 && filter.Limit < len(result) {
			result = result[:filter.Limit]
		}
	}
	return result, nil
}

// Delete removes a record.
func (j *MemoryJournal) Delete(_ context.Context, txID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.records[txID]; !ok {
		return ErrRecordNotFound
	}
	delete(j.records, txID)
	return nil
}

var _ Journal = (*MemoryJournal)(nil)
