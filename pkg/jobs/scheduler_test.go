package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/storage"
	"github.com/platinummonkey/warden/pkg/tokens"
)

type fakePurger struct {
	calls atomic.Int32
	n     int64
	err   error
	block chan struct{}
}

func (f *fakePurger) PurgeExpired(ctx context.Context) (int64, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	return f.n, f.err
}

func TestScheduler_PurgeExpiredTokens(t *testing.T) {
	t.Run("records purged count", func(t *testing.T) {
		metrics := observability.NewMetrics(nil)
		purger := &fakePurger{n: 3}
		s := NewScheduler(purger, nil, metrics)

		n, err := s.PurgeExpiredTokens(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		assert.Equal(t, float64(3), testutil.ToFloat64(metrics.TokensPurgedTotal))
	})

	t.Run("returns store errors", func(t *testing.T) {
		s := NewScheduler(&fakePurger{err: errors.New("db down")}, nil, nil)
		_, err := s.PurgeExpiredTokens(context.Background())
		assert.EqualError(t, err, "db down")
	})

	t.Run("no store", func(t *testing.T) {
		s := NewScheduler(nil, nil, nil)
		_, err := s.PurgeExpiredTokens(context.Background())
		assert.Error(t, err)
	})
}

func TestScheduler_PurgesRealStore(t *testing.T) {
	db := storage.NewTestDB(t)
	now := time.Now()
	store := tokens.NewStore(db, tokens.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := store.Issue(ctx, tokens.KindVerification, "user-1")
	require.NoError(t, err)
	_, err = store.Issue(ctx, tokens.KindAuthCode, "user-2")
	require.NoError(t, err)

	s := NewScheduler(store, nil, nil)
	n, err := s.PurgeExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	now = now.Add(2 * time.Hour)
	n, err = s.PurgeExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestScheduler_RegisterPurge(t *testing.T) {
	s := NewScheduler(&fakePurger{}, nil, nil)
	assert.NoError(t, s.RegisterPurge(""))
	assert.NoError(t, s.RegisterPurge("*/5 * * * *"))
	assert.Error(t, s.RegisterPurge("not a schedule"))
}

func TestScheduler_RunsOnSchedule(t *testing.T) {
	purger := &fakePurger{n: 1}
	s := NewScheduler(purger, nil, nil)
	require.NoError(t, s.RegisterPurge("@every 1s"))

	s.Start()
	assert.Eventually(t, func() bool { return purger.calls.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

func TestScheduler_StopWaitsForRunningJob(t *testing.T) {
	purger := &fakePurger{block: make(chan struct{})}
	s := NewScheduler(purger, nil, nil)
	require.NoError(t, s.RegisterPurge("@every 1s"))

	s.Start()
	require.Eventually(t, func() bool { return purger.calls.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)

	close(purger.block)
	assert.NoError(t, s.Stop(context.Background()))
}

type fakeActivity struct {
	cutoff time.Time
	n      int64
}

func (f *fakeActivity) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.n, nil
}

func TestScheduler_PurgeActivity(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("deletes entries older than retention", func(t *testing.T) {
		activity := &fakeActivity{n: 7}
		s := NewScheduler(nil, nil, nil, WithActivityRetention(activity, 30*24*time.Hour))
		s.now = func() time.Time { return now }

		n, err := s.PurgeActivity(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(7), n)
		assert.Equal(t, now.AddDate(0, 0, -30), activity.cutoff)
	})

	t.Run("disabled without retention", func(t *testing.T) {
		s := NewScheduler(nil, nil, nil, WithActivityRetention(&fakeActivity{}, 0))
		_, err := s.PurgeActivity(context.Background())
		assert.Error(t, err)
		assert.NoError(t, s.RegisterActivityPurge(""))
		assert.Empty(t, s.cron.Entries())
	})

	t.Run("registers on schedule", func(t *testing.T) {
		s := NewScheduler(nil, nil, nil, WithActivityRetention(&fakeActivity{}, time.Hour))
		require.NoError(t, s.RegisterActivityPurge(""))
		assert.Len(t, s.cron.Entries(), 1)
		assert.Error(t, s.RegisterActivityPurge("not a schedule"))
	})
}
