package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/warden/pkg/observability"
)

// DefaultPurgeSchedule runs the token purge every quarter hour.
const DefaultPurgeSchedule = "@every 15m"

// DefaultActivitySchedule runs the activity log retention job once a day.
const DefaultActivitySchedule = "@daily"

// DefaultJobTimeout bounds a single job run.
const DefaultJobTimeout = time.Minute

// TokenPurger deletes expired one-time tokens.
type TokenPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// ActivityPurger deletes activity log entries older than a cutoff.
type ActivityPurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler runs periodic maintenance jobs on a cron schedule. Runs of the
// same job never overlap and a panicking job does not stop the scheduler.
type Scheduler struct {
	cron    *cron.Cron
	tokens  TokenPurger
	logger  *observability.Logger
	metrics *observability.Metrics
	timeout time.Duration

	activity  ActivityPurger
	retention time.Duration
	now       func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTimeout overrides DefaultJobTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithActivityRetention enables PurgeActivity: entries older than
// retention are deleted. A non-positive retention keeps the log forever.
func WithActivityRetention(purger ActivityPurger, retention time.Duration) Option {
	return func(s *Scheduler) {
		s.activity = purger
		s.retention = retention
	}
}

// NewScheduler creates a scheduler. logger and metrics may be nil.
func NewScheduler(tokens TokenPurger, logger *observability.Logger, metrics *observability.Metrics, opts ...Option) *Scheduler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	s := &Scheduler{
		tokens:  tokens,
		logger:  logger.WithField("component", "jobs"),
		metrics: metrics,
		timeout: DefaultJobTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	cl := cronLogger{s.logger}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return s
}

// RegisterPurge schedules PurgeExpiredTokens. An empty schedule uses
// DefaultPurgeSchedule.
func (s *Scheduler) RegisterPurge(schedule string) error {
	if schedule == "" {
		schedule = DefaultPurgeSchedule
	}
	if _, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_, _ = s.PurgeExpiredTokens(ctx)
	}); err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", schedule, err)
	}
	s.logger.WithField("schedule", schedule).Info("Token purge scheduled")
	return nil
}

// PurgeExpiredTokens removes expired tokens once and reports the count.
func (s *Scheduler) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	if s.tokens == nil {
		return 0, errors.New("jobs: no token store configured")
	}

	start := time.Now()
	n, err := s.tokens.PurgeExpired(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Token purge failed")
		return 0, err
	}
	s.metrics.RecordTokensPurged(n)
	s.logger.WithFields(map[string]interface{}{
		"purged":   n,
		"duration": time.Since(start).String(),
	}).Info("Expired tokens purged")
	return n, nil
}

// RegisterActivityPurge schedules PurgeActivity. It does nothing when no
// retention is configured.
func (s *Scheduler) RegisterActivityPurge(schedule string) error {
	if s.activity == nil || s.retention <= 0 {
		return nil
	}
	if schedule == "" {
		schedule = DefaultActivitySchedule
	}
	if _, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_, _ = s.PurgeActivity(ctx)
	}); err != nil {
		return fmt.Errorf("invalid activity purge schedule %q: %w", schedule, err)
	}
	s.logger.WithFields(map[string]interface{}{
		"schedule":  schedule,
		"retention": s.retention.String(),
	}).Info("Activity log purge scheduled")
	return nil
}

// PurgeActivity deletes activity log entries older than the retention.
func (s *Scheduler) PurgeActivity(ctx context.Context) (int64, error) {
	if s.activity == nil || s.retention <= 0 {
		return 0, errors.New("jobs: activity retention not configured")
	}
	cutoff := s.now().Add(-s.retention)
	n, err := s.activity.PurgeBefore(ctx, cutoff)
	if err != nil {
		s.logger.WithError(err).Error("Activity log purge failed")
		return 0, err
	}
	s.logger.WithFields(map[string]interface{}{
		"purged": n,
		"cutoff": cutoff.Format(time.RFC3339),
	}).Info("Old activity purged")
	return n, nil
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("jobs still running at shutdown: %w", ctx.Err())
	}
}

// cronLogger adapts the service logger to cron.Logger.
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(fields(keysAndValues)).Error("cron: " + msg)
}

func fields(keysAndValues []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return out
}
