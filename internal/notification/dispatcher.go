// Package notification delivers SLA escalation and alert intents to an
// external channel.
//
// The Dispatcher implements the SLA engine's Notifier port. Intents are
// queued without blocking the caller and published by a small worker pool
// with exponential backoff. A circuit breaker stops hammering a publisher
// that keeps failing. Delivery is best effort: failures are logged and
// counted, never reported back to the engine.
package notification

//go:generate mockgen -source=dispatcher.go -destination=mocks/mocks.go -package=mocks Publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"auditflow/internal/notification/metrics"
	"auditflow/internal/notification/models"
	slamodels "auditflow/internal/sla/models"
	"auditflow/pkg/platform/circuit"
)

const (
	defaultQueueSize       = 1024
	defaultWorkers         = 4
	defaultMaxRetries      = 5
	defaultInitialInterval = 200 * time.Millisecond
	defaultMaxInterval     = 10 * time.Second
)

// ErrUndeliverable marks a publish failure that retrying cannot fix, such as
// an intent that fails to encode.
var ErrUndeliverable = errors.New("notification undeliverable")

// Publisher delivers one intent to the outside world.
type Publisher interface {
	Publish(ctx context.Context, intent models.Intent) error
}

// Dispatcher queues intents and publishes them asynchronously.
type Dispatcher struct {
	publisher       Publisher
	queueSize       int
	workers         int
	maxRetries      uint64
	initialInterval time.Duration
	maxInterval     time.Duration
	breaker         *circuit.Breaker
	metrics         *metrics.Metrics
	logger          *slog.Logger

	mu      sync.RWMutex
	queue   chan models.Intent
	closed  bool
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithQueueSize bounds the number of intents waiting for a worker.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithMaxRetries caps retries after the first failed attempt.
func WithMaxRetries(n int) Option {
	return func(d *Dispatcher) {
		if n >= 0 {
			d.maxRetries = uint64(n)
		}
	}
}

// WithRetryIntervals sets the exponential backoff bounds.
func WithRetryIntervals(initial, maxInterval time.Duration) Option {
	return func(d *Dispatcher) {
		if initial > 0 {
			d.initialInterval = initial
		}
		if maxInterval > 0 {
			d.maxInterval = maxInterval
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(d *Dispatcher) {
		if b != nil {
			d.breaker = b
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a Dispatcher. Call Start before intents can be delivered;
// intents enqueued earlier wait in the queue.
func New(publisher Publisher, opts ...Option) (*Dispatcher, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	d := &Dispatcher{
		publisher:       publisher,
		queueSize:       defaultQueueSize,
		workers:         defaultWorkers,
		maxRetries:      defaultMaxRetries,
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.breaker == nil {
		d.breaker = circuit.New("notification")
	}
	d.queue = make(chan models.Intent, d.queueSize)
	return d, nil
}

// OnEscalation queues an escalation notice.
func (d *Dispatcher) OnEscalation(ctx context.Context, notice slamodels.EscalationNotice) {
	d.Enqueue(ctx, models.FromEscalation(notice))
}

// OnAlert queues an SLA alert for the given recipients.
func (d *Dispatcher) OnAlert(ctx context.Context, alert *slamodels.SLAAlert, recipients []string) {
	if alert == nil {
		return
	}
	d.Enqueue(ctx, models.FromAlert(alert, recipients))
}

// Enqueue adds an intent without blocking. It reports false when the intent
// was dropped because the queue is full or the dispatcher is closed.
func (d *Dispatcher) Enqueue(ctx context.Context, intent models.Intent) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.metrics.IncrementDropped(metrics.ReasonClosed)
		d.logger.WarnContext(ctx, "notification dropped: dispatcher closed",
			"subject_id", intent.SubjectID,
			"kind", intent.Kind,
		)
		return false
	}

	select {
	case d.queue <- intent:
		d.metrics.IncrementEnqueued(string(intent.Kind))
		d.metrics.SetQueueDepth(len(d.queue))
		return true
	default:
		d.metrics.IncrementDropped(metrics.ReasonQueueFull)
		d.logger.WarnContext(ctx, "notification dropped: queue full",
			"subject_id", intent.SubjectID,
			"kind", intent.Kind,
			"queue_size", d.queueSize,
		)
		return false
	}
}

// Start launches the worker pool. Workers stop when ctx is cancelled or
// after Close has drained the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(runCtx)
	}
	d.logger.InfoContext(ctx, "notification dispatcher started", "workers", d.workers)
}

// Close stops accepting intents and waits for queued ones to be delivered.
// If ctx expires first, in-flight deliveries are cancelled and ctx's error
// is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case intent, ok := <-d.queue:
			if !ok {
				return
			}
			d.metrics.SetQueueDepth(len(d.queue))
			d.deliver(ctx, intent)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, intent models.Intent) {
	kind := string(intent.Kind)
	if !d.breaker.Allow() {
		d.metrics.IncrementDropped(metrics.ReasonCircuitOpen)
		d.logger.WarnContext(ctx, "notification dropped: circuit open",
			"subject_id", intent.SubjectID,
			"kind", kind,
		)
		return
	}

	attempt := func() error {
		err := d.publisher.Publish(ctx, intent)
		if err != nil && errors.Is(err, ErrUndeliverable) {
			return backoff.Permanent(err)
		}
		return err
	}
	onRetry := func(err error, wait time.Duration) {
		d.metrics.IncrementRetries()
		d.logger.DebugContext(ctx, "notification publish failed, retrying",
			"subject_id", intent.SubjectID,
			"kind", kind,
			"wait", wait,
			"error", err,
		)
	}

	if err := backoff.RetryNotify(attempt, d.newBackOff(ctx), onRetry); err != nil {
		_, change := d.breaker.RecordFailure()
		d.metrics.IncrementFailed(kind)
		d.logger.WarnContext(ctx, "notification delivery failed",
			"subject_id", intent.SubjectID,
			"kind", kind,
			"error", err,
		)
		if change.Opened {
			d.logger.ErrorContext(ctx, "notification circuit opened", "breaker", d.breaker.Name())
		}
		return
	}

	if _, change := d.breaker.RecordSuccess(); change.Closed {
		d.logger.InfoContext(ctx, "notification circuit closed", "breaker", d.breaker.Name())
	}
	d.metrics.IncrementDelivered(kind)
}

func (d *Dispatcher) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = d.initialInterval
	exp.MaxInterval = d.maxInterval
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, d.maxRetries), ctx)
}
