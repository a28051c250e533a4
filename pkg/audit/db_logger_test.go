package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/platinummonkey/warden/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDBLogger_LogAndList(t *testing.T) {
	db := storage.NewTestDB(t)
	logger := NewDBLogger(db)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ctx := WithRequestInfo(context.Background(), "203.0.113.1", "curl/8")

	for i, action := range []string{ActionLogin, ActionTeamCreate, ActionTeamInvite} {
		logger.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		tenant := ""
		if action != ActionLogin {
			tenant = "team-1"
		}
		require.NoError(t, logger.Log(ctx, Event{
			UserID:   "user-1",
			TenantID: tenant,
			Action:   action,
			Details:  map[string]any{"n": i},
		}))
	}

	t.Run("newest first", func(t *testing.T) {
		events, err := logger.List(context.Background(), Filter{})
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, ActionTeamInvite, events[0].Action)
		assert.Equal(t, ActionLogin, events[2].Action)
		assert.Equal(t, "203.0.113.1", events[0].IPAddress)
		assert.Equal(t, "curl/8", events[0].UserAgent)
		assert.Equal(t, float64(2), events[0].Details["n"])
	})

	t.Run("tenant filter and limit", func(t *testing.T) {
		events, err := logger.List(context.Background(), Filter{TenantID: "team-1", Limit: 1})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, ActionTeamInvite, events[0].Action)
	})

	t.Run("global events have no tenant", func(t *testing.T) {
		events, err := logger.List(context.Background(), Filter{Action: ActionLogin})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Empty(t, events[0].TenantID)
	})

	t.Run("purge", func(t *testing.T) {
		n, err := logger.PurgeBefore(context.Background(), base.Add(90*time.Second))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})
}

func TestRecord_SwallowsErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO activity_logs").WillReturnError(errors.New("disk full"))

	assert.NotPanics(t, func() {
		Record(context.Background(), NewDBLogger(db), Event{Action: ActionLogin})
	})
	assert.NoError(t, mock.ExpectationsWereMet())

	Record(context.Background(), nil, Event{Action: ActionLogin})
	assert.NoError(t, NoOpLogger{}.Log(context.Background(), Event{}))
}
