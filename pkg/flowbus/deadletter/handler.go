package deadletter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/randalmurphal/flowbus/pkg/flowbus/message"
	"github.com/randalmurphal/flowbus/pkg/flowbus/processor"
)

// Handler is a processor.ExceptionHandler that enqueues failed events.
type Handler struct {
	queue  Queue
	source string
	logger *slog.Logger
}

var _ processor.ExceptionHandler = (*Handler)(nil)

// NewHandler returns an exception handler writing to q.
func NewHandler(q Queue, source string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{queue: q, source: source, logger: logger}
}

// HandleException enqueues evt. Enqueue failures are logged.
func (h *Handler) HandleException(ctx context.Context, evt *message.Event, err error) {
	if evt == nil {
		return
	}
	if qerr := h.queue.Enqueue(ctx, NewLetter(evt, err, h.source)); qerr != nil {
		h.logger.Error("dead letter enqueue failed",
			slog.String("event_id", evt.ID()),
			slog.String("source", h.source),
			slog.String("error", qerr.Error()),
		)
	}
}

// RedelivererConfig configures a Redeliverer.
type RedelivererConfig struct {
	// BatchSize is the number of letters redelivered per tick.
	// Default: 10
	BatchSize int

	// PollInterval between redelivery passes.
	// Default: 10 seconds
	PollInterval time.Duration

	// Clock drives the poll ticker. Default: real clock.
	Clock clockwork.Clock

	// OnSuccess is called after a successful redelivery.
	OnSuccess func(*Letter)

	// OnFailure is called after a failed redelivery.
	OnFailure func(*Letter, error)
}

// Redeliverer periodically pushes ready letters back through a processor.
type Redeliverer struct {
	queue  Queue
	target processor.Processor
	cfg    RedelivererConfig

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewRedeliverer creates a redeliverer feeding target from q.
func NewRedeliverer(q Queue, target processor.Processor, cfg RedelivererConfig) *Redeliverer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Redeliverer{queue: q, target: target, cfg: cfg}
}

// Start begins redelivery in the background.
func (r *Redeliverer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.run(ctx, r.stopCh, r.doneCh)
	return nil
}

// Stop halts redelivery and waits for the current pass to finish.
func (r *Redeliverer) Stop(context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	close(r.stopCh)
	done := r.doneCh
	r.mu.Unlock()
	<-done
	return nil
}

func (r *Redeliverer) run(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	ticker := r.cfg.Clock.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.Chan():
			r.RedeliverOnce(ctx)
		}
	}
}

// RedeliverOnce runs one redelivery pass and returns the number of letters
// that were processed successfully.
func (r *Redeliverer) RedeliverOnce(ctx context.Context) int {
	letters, err := r.queue.Dequeue(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0
	}
	ok := 0
	for _, l := range letters {
		if _, perr := r.target.Process(ctx, l.Event); perr != nil {
			if r.cfg.OnFailure != nil {
				r.cfg.OnFailure(l, perr)
			}
			_ = r.queue.RecordFailure(ctx, l, perr)
			continue
		}
		ok++
		if r.cfg.OnSuccess != nil {
			r.cfg.OnSuccess(l)
		}
		_ = r.queue.Acknowledge(ctx, l.EventID())
	}
	return ok
}
