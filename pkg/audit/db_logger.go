package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DBLogger writes events to activity_logs.
type DBLogger struct {
	db  *sql.DB
	now func() time.Time
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(db *sql.DB) *DBLogger {
	return &DBLogger{db: db, now: time.Now}
}

// Log logs an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event Event) error {
	fillRequestInfo(ctx, &event)

	details := []byte("{}")
	if len(event.Details) > 0 {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal details: %w", err)
		}
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = l.now().UTC()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO activity_logs (id, user_id, tenant_id, action, details, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, nullString(event.UserID), nullString(event.TenantID), event.Action,
		string(details), event.IPAddress, event.UserAgent, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity log: %w", err)
	}
	return nil
}

// List returns events newest first.
func (l *DBLogger) List(ctx context.Context, filter Filter) ([]Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var (
		where []string
		args  []interface{}
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("tenant_id", filter.TenantID)
	add("user_id", filter.UserID)
	add("action", filter.Action)

	query := `SELECT id, user_id, tenant_id, action, details, ip_address, user_agent, created_at FROM activity_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity logs: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			e                Event
			userID, tenantID sql.NullString
			details          string
		)
		if err := rows.Scan(&e.ID, &userID, &tenantID, &e.Action, &details, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity log: %w", err)
		}
		e.UserID = userID.String
		e.TenantID = tenantID.String
		if details != "" && details != "{}" {
			if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
				return nil, fmt.Errorf("failed to decode activity details: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// PurgeBefore deletes events older than cutoff.
func (l *DBLogger) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM activity_logs WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge activity logs: %w", err)
	}
	return res.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
