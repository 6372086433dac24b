// Package scheduler runs TripPipe's periodic maintenance jobs on cron schedules.
//
// The only job today is retention, which deletes turn log and inbound dedup records older
// than the configured retention period.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/TripPipe/internal/store"
	"github.com/robfig/cron/v3"
)

const (
	// DefaultRetentionSchedule prunes the turn log once a day, off the hour.
	DefaultRetentionSchedule = "17 3 * * *"
	// DefaultTurnRetention keeps thirty days of turns.
	DefaultTurnRetention = 30 * 24 * time.Hour
	// DefaultJobTimeout bounds a single job run.
	DefaultJobTimeout = time.Minute
)

// Job is a unit of scheduled work.
type Job func(ctx context.Context) error

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron       *cron.Cron
	ctx        context.Context
	cancel     context.CancelFunc
	jobTimeout time.Duration
}

// Option defines a configuration option for the Scheduler.
type Option func(*Scheduler)

// WithJobTimeout bounds each job run.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.jobTimeout = d
		}
	}
}

// New creates a stopped scheduler using the standard 5-field cron syntax and @descriptors.
func New(opts ...Option) *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	logger := slogLogger{}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:       cron.New(cron.WithParser(parser), cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		ctx:        ctx,
		cancel:     cancel,
		jobTimeout: DefaultJobTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob schedules job under expr. It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(name, expr string, job Job) error {
	_, err := s.cron.AddFunc(expr, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", expr, name, err)
	}
	slog.Debug("Scheduler.AddJob: job scheduled", "job", name, "schedule", expr)
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	ctx, cancel := context.WithTimeout(s.ctx, s.jobTimeout)
	defer cancel()
	start := time.Now()
	if err := job(ctx); err != nil {
		slog.Error("Scheduler.run: job failed", "job", name, "error", err, "duration", time.Since(start))
		return
	}
	slog.Debug("Scheduler.run: job finished", "job", name, "duration", time.Since(start))
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// RetentionJob deletes turns and inbound dedup records older than retention.
// A failure pruning one does not stop the other.
func RetentionJob(p store.Pruner, retention time.Duration, now func() time.Time) (Job, error) {
	if retention <= 0 {
		return nil, errors.New("retention must be positive")
	}
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) error {
		cutoff := now().Add(-retention)
		turns, turnErr := p.PruneTurns(ctx, cutoff)
		inbound, inboundErr := p.PruneInbound(ctx, cutoff)
		if err := errors.Join(turnErr, inboundErr); err != nil {
			return err
		}
		slog.Info("RetentionJob: old records pruned", "turns", turns, "inbound", inbound, "cutoff", cutoff)
		return nil
	}, nil
}

// slogLogger adapts cron's logger to slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
