// Package scheduler drives periodic SLA sweeps: every interval, each open
// subject gets one evaluator tick. Subjects run in parallel up to a limit
// and never concurrently with themselves.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"auditflow/internal/sla/evaluator"
	"auditflow/internal/sla/lock"
	"auditflow/internal/sla/metrics"
	"auditflow/internal/sla/models"
	"auditflow/internal/sla/ports"
	id "auditflow/pkg/domain"
	"auditflow/pkg/requestcontext"
)

const (
	DefaultInterval    = 60 * time.Second
	DefaultConcurrency = 8
)

// SubjectSource lists the subjects a sweep should visit.
type SubjectSource interface {
	ListOpenSubjects(ctx context.Context) ([]*models.Subject, error)
	ListActiveMonitoring(ctx context.Context) ([]*models.SLAMonitoring, error)
}

// Evaluator runs one tick for a subject.
type Evaluator interface {
	Evaluate(ctx context.Context, subjectID id.SubjectID, now time.Time) (*evaluator.Outcome, error)
}

// Report summarizes one sweep.
type Report struct {
	StartedAt time.Time
	Subjects  int
	Skipped   int
	Failed    int
	Outcomes  map[evaluator.Status]int
}

// Sweeper runs evaluator ticks over all open subjects.
type Sweeper struct {
	source      SubjectSource
	evaluator   Evaluator
	locker      ports.Locker
	interval    time.Duration
	concurrency int
	clock       func() time.Time
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

type Option func(*Sweeper)

func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithConcurrency(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithLocker replaces the in-process lock set, e.g. with a Redis lock when
// several instances sweep the same store.
func WithLocker(l ports.Locker) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.locker = l
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Sweeper) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

// New constructs a Sweeper.
func New(source SubjectSource, eval Evaluator, opts ...Option) (*Sweeper, error) {
	if source == nil {
		return nil, errors.New("subject source is required")
	}
	if eval == nil {
		return nil, errors.New("evaluator is required")
	}
	s := &Sweeper{
		source:      source,
		evaluator:   eval,
		locker:      lock.NewLocal(),
		interval:    DefaultInterval,
		concurrency: DefaultConcurrency,
		clock:       time.Now,
		logger:      slog.Default(),
		tracer:      otel.Tracer("auditflow/sla/scheduler"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "sla sweeper started",
		"interval", s.interval.String(),
		"concurrency", s.concurrency,
	)
	for {
		select {
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "sla sweep failed", "error", err)
			}
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "sla sweeper stopped")
			return ctx.Err()
		}
	}
}

// RunOnce performs a single sweep. Every subject is evaluated against the
// same instant. Per-subject failures are counted in the report; only a
// failure to list subjects is returned.
func (s *Sweeper) RunOnce(ctx context.Context) (*Report, error) {
	start := time.Now()
	now := s.clock()
	ctx = requestcontext.WithTime(ctx, now)
	ctx, span := s.tracer.Start(ctx, "sla.sweep")
	defer span.End()

	subjects, err := s.candidates(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	report := &Report{
		StartedAt: now,
		Subjects:  len(subjects),
		Outcomes:  make(map[evaluator.Status]int),
	}
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for _, subjectID := range subjects {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			status, skipped, err := s.sweepOne(ctx, subjectID, now)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failed++
				s.logger.ErrorContext(ctx, "sla evaluation failed",
					"subject_id", subjectID.String(),
					"error", err,
				)
			case skipped:
				report.Skipped++
			default:
				report.Outcomes[status]++
			}
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("subjects", report.Subjects),
		attribute.Int("failed", report.Failed),
		attribute.Int("skipped", report.Skipped),
	)
	s.metrics.ObserveSweep(start, report.Subjects, report.Failed, report.Skipped)
	s.logger.DebugContext(ctx, "sla sweep completed",
		"subjects", report.Subjects,
		"failed", report.Failed,
		"skipped", report.Skipped,
	)
	return report, nil
}

func (s *Sweeper) sweepOne(ctx context.Context, subjectID id.SubjectID, now time.Time) (status evaluator.Status, skipped bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during evaluation: %v", r)
		}
	}()

	unlock, ok, err := s.locker.TryLock(ctx, subjectID.String())
	if err != nil {
		return "", false, fmt.Errorf("lock subject: %w", err)
	}
	if !ok {
		return "", true, nil
	}
	defer unlock()

	outcome, err := s.evaluator.Evaluate(ctx, subjectID, now)
	if err != nil {
		return "", false, err
	}
	return outcome.Status, false, nil
}

// candidates is the union of open subjects and unfrozen monitoring records.
// The second set catches resolved subjects whose record still needs freezing.
func (s *Sweeper) candidates(ctx context.Context) ([]id.SubjectID, error) {
	open, err := s.source.ListOpenSubjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open subjects: %w", err)
	}
	active, err := s.source.ListActiveMonitoring(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active monitoring: %w", err)
	}

	seen := make(map[id.SubjectID]struct{}, len(open)+len(active))
	out := make([]id.SubjectID, 0, len(open)+len(active))
	for _, subj := range open {
		if _, dup := seen[subj.ID]; !dup {
			seen[subj.ID] = struct{}{}
			out = append(out, subj.ID)
		}
	}
	for _, m := range active {
		if _, dup := seen[m.SubjectID]; !dup {
			seen[m.SubjectID] = struct{}{}
			out = append(out, m.SubjectID)
		}
	}
	return out, nil
}
