// Package publisher emits audit events to an audit.Store, synchronously or
// through a bounded asynchronous buffer drained by a worker.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	audit "auditflow/pkg/platform/audit"
	"auditflow/pkg/platform/audit/worker"
	"auditflow/pkg/requestcontext"
)

var errBufferFull = errors.New("audit buffer full")

// Publisher is the audit entry point used by services.
type Publisher struct {
	store  audit.Store
	logger *slog.Logger

	bufferSize int
	inbox      chan audit.Event
	done       chan struct{}
	closeOnce  sync.Once
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithAsyncBuffer switches the publisher to asynchronous mode with a bounded buffer.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.bufferSize = size
	}
}

// WithLogger sets a logger for dropped or failed events.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.bufferSize > 0 {
		p.inbox = make(chan audit.Event, p.bufferSize)
		p.done = make(chan struct{})
		w := worker.NewWorker(store, p.inbox, p.logger)
		go func() {
			defer close(p.done)
			_ = w.Run(context.Background())
		}()
	}
	return p
}

// Emit records an event. In async mode a full buffer drops the event and
// returns an error instead of blocking the caller.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	event = stamp(ctx, event)
	if p.inbox == nil {
		return p.store.Append(ctx, event)
	}

	select {
	case p.inbox <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.logger.WarnContext(ctx, "audit buffer full, dropping event",
			"action", event.Action,
			"subject", event.Subject,
		)
		return errBufferFull
	}
}

// EmitTx appends the event synchronously, bypassing the async buffer, so a
// store that joins the transaction carried in ctx commits or rolls it back
// with the caller's state change.
func (p *Publisher) EmitTx(ctx context.Context, event audit.Event) error {
	return p.store.Append(ctx, stamp(ctx, event))
}

func stamp(ctx context.Context, event audit.Event) audit.Event {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	event.Category = audit.AuditEvent(event.Action).Category()
	return event
}

// List returns events recorded for a subject.
func (p *Publisher) List(ctx context.Context, subject string) ([]audit.Event, error) {
	return p.store.ListBySubject(ctx, subject)
}

// Close drains pending async events. Safe to call more than once.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		if p.inbox != nil {
			close(p.inbox)
			<-p.done
		}
	})
}
