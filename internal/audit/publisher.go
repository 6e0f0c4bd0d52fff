package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrBufferFull is returned by Emit in async mode when the buffer is saturated.
var ErrBufferFull = errors.New("audit buffer full")

// Publisher captures structured audit events. Every event is logged; sinks
// receive it synchronously, or through a buffered worker in async mode.
type Publisher struct {
	sinks   []Sink
	logger  *slog.Logger
	buffer  chan Event
	done    chan struct{}
	closed  sync.Once
	dropped atomic.Int64
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets the logger events are written to.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithSink adds a sink.
func WithSink(s Sink) Option {
	return func(p *Publisher) {
		if s != nil {
			p.sinks = append(p.sinks, s)
		}
	}
}

// WithAsyncBuffer delivers to sinks from a background worker with a buffer of size n.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.buffer = make(chan Event, n)
		}
	}
}

func NewPublisher(opts ...Option) *Publisher {
	p := &Publisher{logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.done = make(chan struct{})
		worker := NewWorker(p.sinks, p.buffer, p.logger)
		go func() {
			defer close(p.done)
			worker.Run(context.Background())
		}()
	}
	return p
}

// Emit records event. In sync mode sink errors are returned; in async mode
// Emit only fails when the buffer is full or ctx is done.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	level := slog.LevelInfo
	if event.Action == ActionReconciliationRequired {
		level = slog.LevelError
	}
	p.logger.Log(ctx, level, "audit event", event.attrs()...)

	if p.buffer == nil {
		var errs []error
		for _, sink := range p.sinks {
			if err := sink.Append(ctx, event); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	select {
	case p.buffer <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.dropped.Add(1)
		p.logger.WarnContext(ctx, "audit event dropped", "audit_id", event.ID, "action", string(event.Action))
		return ErrBufferFull
	}
}

// Dropped returns how many events were rejected because the buffer was full.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

// Close drains buffered events. Emit must not be called after Close.
func (p *Publisher) Close() error {
	p.closed.Do(func() {
		if p.buffer != nil {
			close(p.buffer)
			<-p.done
		}
	})
	return nil
}
