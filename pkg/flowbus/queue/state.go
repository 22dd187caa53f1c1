package queue

import "sync"

type entry struct {
	seq  int64
	item any
}

// queueState is the shared contents of one queue. Positions grow at the
// tail and shrink at the head so that stored order matches queue order.
type queueState struct {
	name string

	mu       sync.Mutex
	items    []entry
	head     int64
	tail     int64
	capacity int
	changed  chan struct{}
}

func newQueueState(name string, capacity int) *queueState {
	return &queueState{
		name:     name,
		capacity: capacity,
		changed:  make(chan struct{}),
	}
}

func (q *queueState) setCapacity(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.capacity = n
	q.signal()
}

func (q *queueState) restore(entries []entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = entries
	q.head, q.tail = 0, 0
	if len(entries) > 0 {
		q.head = entries[0].seq
		q.tail = entries[len(entries)-1].seq + 1
	}
	q.signal()
}

// The methods below require q.mu.

func (q *queueState) nextSeq(front bool) int64 {
	if front {
		return q.head - 1
	}
	return q.tail
}

func (q *queueState) insert(e entry, front bool) {
	if front {
		q.items = append([]entry{e}, q.items...)
		q.head = e.seq
	} else {
		q.items = append(q.items, e)
		q.tail = e.seq + 1
	}
	q.signal()
}

func (q *queueState) popFront() (entry, bool) {
	if len(q.items) == 0 {
		return entry{}, false
	}
	e := q.items[0]
	q.items[0] = entry{}
	q.items = q.items[1:]
	q.signal()
	return e, true
}

func (q *queueState) full() bool {
	return q.capacity > 0 && len(q.items) >= q.capacity
}

// signal wakes every goroutine waiting on the current changed channel.
func (q *queueState) signal() {
	close(q.changed)
	q.changed = make(chan struct{})
}
