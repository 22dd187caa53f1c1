package deadletter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Queue stores dead letters.
type Queue interface {
	Enqueue(ctx context.Context, l *Letter) error
	Dequeue(ctx context.Context, limit int) ([]*Letter, error)
	Acknowledge(ctx context.Context, eventID string) error
	RecordFailure(ctx context.Context, l *Letter, err error) error
	Count(ctx context.Context) (int, error)
}

// Config configures the in-memory queue.
type Config struct {
	// MaxSize limits the number of waiting letters.
	// Default: 10000
	MaxSize int

	// MaxRetries before a letter is parked.
	// Default: 5. NoRetries parks every letter immediately.
	MaxRetries int
	NoRetries  bool

	// RetryDelay before the first redelivery; doubles after each failure.
	// Default: 1 minute
	RetryDelay time.Duration

	// Clock drives retry scheduling. Default: real clock.
	Clock clockwork.Clock

	// OnEnqueue is called when a letter is added.
	OnEnqueue func(*Letter)

	// OnPark is called when a letter is parked.
	OnPark func(*Letter)
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	MaxSize:    10000,
	MaxRetries: 5,
	RetryDelay: time.Minute,
}

// Stats reports queue counters.
type Stats struct {
	Waiting   int
	Parked    int
	Enqueued  int64
	Retried   int64
	ParkedTot int64
	Recovered int64
}

// MemoryQueue is an in-memory Queue.
type MemoryQueue struct {
	mu      sync.RWMutex
	cfg     Config
	waiting map[string]*Letter
	parked  map[string]*Letter

	enqueued  int64
	retried   int64
	parkedTot int64
	recovered int64
}

// NewMemoryQueue creates an in-memory dead letter queue.
func NewMemoryQueue(cfg Config) *MemoryQueue {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultConfig.MaxSize
	}
	if cfg.MaxRetries <= 0 && !cfg.NoRetries {
		cfg.MaxRetries = DefaultConfig.MaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig.RetryDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &MemoryQueue{
		cfg:     cfg,
		waiting: make(map[string]*Letter),
		parked:  make(map[string]*Letter),
	}
}

// Enqueue adds a letter. Letters past MaxRetries are parked directly.
func (q *MemoryQueue) Enqueue(_ context.Context, l *Letter) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cfg.NoRetries || l.Attempts >= q.cfg.MaxRetries {
		q.parkLocked(l, "max retries exceeded")
		return nil
	}
	if _, exists := q.waiting[l.EventID()]; !exists && len(q.waiting) >= q.cfg.MaxSize {
		return fmt.Errorf("%w: %d letters", ErrQueueFull, len(q.waiting))
	}
	if l.NextRetryAt.IsZero() {
		l.NextRetryAt = q.cfg.Clock.Now().Add(q.cfg.RetryDelay)
	}

	q.waiting[l.EventID()] = l
	q.enqueued++
	if q.cfg.OnEnqueue != nil {
		q.cfg.OnEnqueue(l)
	}
	return nil
}

// Dequeue removes and returns up to limit letters whose retry time has come,
// oldest failure first.
func (q *MemoryQueue) Dequeue(_ context.Context, limit int) ([]*Letter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.cfg.Clock.Now()
	ready := make([]*Letter, 0)
	for _, l := range q.waiting {
		if !l.NextRetryAt.After(now) {
			ready = append(ready, l)
		}
	}
	sortLetters(ready)
	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}
	for _, l := range ready {
		delete(q.waiting, l.EventID())
	}
	return ready, nil
}

// Acknowledge records a successful redelivery.
func (q *MemoryQueue) Acknowledge(_ context.Context, eventID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.waiting, eventID)
	q.recovered++
	return nil
}

// RecordFailure reschedules l with exponential backoff, or parks it once it
// reaches MaxRetries.
func (q *MemoryQueue) RecordFailure(_ context.Context, l *Letter, err error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.cfg.Clock.Now()
	l.Attempts++
	l.LastFailedAt = now
	if err != nil {
		l.Error = err.Error()
	}
	if l.Attempts >= q.cfg.MaxRetries {
		delete(q.waiting, l.EventID())
		q.parkLocked(l, "max retries exceeded")
		return nil
	}

	l.NextRetryAt = now.Add(q.cfg.RetryDelay * time.Duration(1<<uint(l.Attempts)))
	q.waiting[l.EventID()] = l
	q.retried++
	return nil
}

func (q *MemoryQueue) parkLocked(l *Letter, reason string) {
	l.ParkReason = reason
	l.ParkedAt = q.cfg.Clock.Now()
	q.parked[l.EventID()] = l
	q.parkedTot++
	if q.cfg.OnPark != nil {
		q.cfg.OnPark(l)
	}
}

// Count returns the number of waiting letters.
func (q *MemoryQueue) Count(context.Context) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.waiting), nil
}

// List returns waiting letters, oldest failure first, without removing them.
func (q *MemoryQueue) List(_ context.Context, limit int) ([]*Letter, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return snapshot(q.waiting, limit), nil
}

// ListParked returns parked letters, oldest failure first.
func (q *MemoryQueue) ListParked(_ context.Context, limit int) ([]*Letter, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return snapshot(q.parked, limit), nil
}

// RecoverParked moves a parked letter back to the queue with its retry count reset.
func (q *MemoryQueue) RecoverParked(_ context.Context, eventID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.parked[eventID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrLetterNotFound, eventID)
	}
	delete(q.parked, eventID)
	l.Attempts = 0
	l.ParkReason = ""
	l.ParkedAt = time.Time{}
	l.NextRetryAt = q.cfg.Clock.Now()
	q.waiting[eventID] = l
	q.recovered++
	return nil
}

// DeleteParked drops a parked letter for good.
func (q *MemoryQueue) DeleteParked(_ context.Context, eventID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.parked[eventID]; !ok {
		return fmt.Errorf("%w: %s", ErrLetterNotFound, eventID)
	}
	delete(q.parked, eventID)
	return nil
}

// Stats returns queue counters.
func (q *MemoryQueue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return Stats{
		Waiting:   len(q.waiting),
		Parked:    len(q.parked),
		Enqueued:  q.enqueued,
		Retried:   q.retried,
		ParkedTot: q.parkedTot,
		Recovered: q.recovered,
	}
}

func snapshot(m map[string]*Letter, limit int) []*Letter {
	out := make([]*Letter, 0, len(m))
	for _, l := range m {
		out = append(out, l)
	}
	sortLetters(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sortLetters(ls []*Letter) {
	sort.SliceStable(ls, func(i, j int) bool {
		if ls[i].FirstFailedAt.Equal(ls[j].FirstFailedAt) {
			return ls[i].EventID() < ls[j].EventID()
		}
		return ls[i].FirstFailedAt.Before(ls[j].FirstFailedAt)
	})
}
