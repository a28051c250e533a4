package email

import (
	"context"
	"sync"
	"time"

	"github.com/platinummonkey/warden/pkg/observability"
	"golang.org/x/sync/semaphore"
)

const defaultSendTimeout = 30 * time.Second

// AsyncSender delivers messages in the background. At most concurrency
// deliveries run at once; further messages wait for a slot in their own
// goroutine. Send never blocks and never returns a delivery error.
type AsyncSender struct {
	next    Sender
	sem     *semaphore.Weighted
	timeout time.Duration
	metrics *observability.Metrics
	logger  *observability.Logger
	wg      sync.WaitGroup
}

// AsyncOption configures an AsyncSender.
type AsyncOption func(*AsyncSender)

// WithTimeout bounds each delivery.
func WithTimeout(d time.Duration) AsyncOption {
	return func(s *AsyncSender) {
		s.timeout = d
	}
}

// WithLogger sets the logger for delivery failures.
func WithLogger(logger *observability.Logger) AsyncOption {
	return func(s *AsyncSender) {
		s.logger = logger
	}
}

// NewAsyncSender wraps next. metrics may be nil.
func NewAsyncSender(next Sender, concurrency int64, metrics *observability.Metrics, opts ...AsyncOption) *AsyncSender {
	if concurrency < 1 {
		concurrency = 1
	}
	s := &AsyncSender{
		next:    next,
		sem:     semaphore.NewWeighted(concurrency),
		timeout: defaultSendTimeout,
		metrics: metrics,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send schedules msg for delivery and returns immediately. Only an invalid
// message is reported.
func (s *AsyncSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	requestID := observability.GetRequestID(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if requestID != "" {
			ctx = observability.WithRequestID(ctx, requestID)
		}

		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.fail(msg, requestID, err)
			return
		}
		defer s.sem.Release(1)

		if err := s.next.Send(ctx, msg); err != nil {
			s.fail(msg, requestID, err)
			return
		}
		s.metrics.RecordEmail(msg.Template, observability.ResultSuccess)
	}()
	return nil
}

func (s *AsyncSender) fail(msg Message, requestID string, err error) {
	s.metrics.RecordEmail(msg.Template, observability.ResultFailure)
	s.logger.WithError(err).WithFields(map[string]interface{}{
		"template":   msg.Template,
		"request_id": requestID,
	}).Error("Failed to send email")
}

// Wait blocks until every scheduled message has been handled.
func (s *AsyncSender) Wait() {
	s.wg.Wait()
}

// Shutdown waits for pending deliveries or until ctx is done.
func (s *AsyncSender) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
