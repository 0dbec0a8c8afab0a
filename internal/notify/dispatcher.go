package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const defaultBufferSize = 256

type DispatcherOption func(*Dispatcher)

func WithBufferSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.bufferSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithAppendTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.appendTimeout = timeout
		}
	}
}

// WithSink adds a callback invoked after each successful append.
func WithSink(fn func(Event)) DispatcherOption {
	return func(d *Dispatcher) {
		if fn != nil {
			d.sinks = append(d.sinks, fn)
		}
	}
}

type Stats struct {
	Queued    int   `json:"queued"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
}

// Dispatcher hands events to a Journal on a background worker. Notify never
// blocks; events are dropped when the buffer is full.
type Dispatcher struct {
	journal       Journal
	logger        *slog.Logger
	bufferSize    int
	appendTimeout time.Duration
	sinks         []func(Event)

	mu     sync.RWMutex
	closed bool
	ch     chan Event
	done   chan struct{}

	delivered atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

var _ Notifier = (*Dispatcher)(nil)

func NewDispatcher(journal Journal, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		journal:       journal,
		logger:        slog.Default(),
		bufferSize:    defaultBufferSize,
		appendTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.ch = make(chan Event, d.bufferSize)
	d.done = make(chan struct{})
	go d.run()
	return d
}

func (d *Dispatcher) Notify(_ context.Context, ev Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return ErrClosed
	}
	select {
	case d.ch <- ev:
		return nil
	default:
		d.dropped.Add(1)
		return ErrBufferFull
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.ch {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev Event) {
	if d.journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), d.appendTimeout)
		err := d.journal.Append(ctx, ev)
		cancel()
		if err != nil {
			d.failed.Add(1)
			d.logger.Warn("notification_append_failed",
				slog.String("id", ev.ID),
				slog.String("kind", ev.Kind),
				slog.String("name", ev.Name),
				slog.Any("err", err),
			)
			return
		}
	}
	d.delivered.Add(1)
	for _, sink := range d.sinks {
		sink(ev)
	}
}

// Close stops accepting events and waits for buffered ones to drain.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.ch)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Queued:    len(d.ch),
		Delivered: d.delivered.Load(),
		Dropped:   d.dropped.Load(),
		Failed:    d.failed.Load(),
	}
}
