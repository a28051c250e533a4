package cli

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"

	"github.com/platinummonkey/warden/pkg/observability"
)

// Env is what subcommands run against. The database is opened on first
// use so that help and usage never need one.
type Env struct {
	Out    io.Writer
	Logger *observability.Logger

	// Open connects to the database.
	Open func(ctx context.Context) (*sql.DB, error)

	db *sql.DB
}

func (e *Env) out() io.Writer {
	if e.Out == nil {
		return os.Stdout
	}
	return e.Out
}

func (e *Env) logger() *observability.Logger {
	if e.Logger == nil {
		return observability.NopLogger()
	}
	return e.Logger
}

// DB returns the shared connection, opening it if needed.
func (e *Env) DB(ctx context.Context) (*sql.DB, error) {
	if e.db != nil {
		return e.db, nil
	}
	if e.Open == nil {
		return nil, errors.New("no database configured")
	}
	db, err := e.Open(ctx)
	if err != nil {
		return nil, err
	}
	e.db = db
	return db, nil
}

// Close closes the connection if one was opened.
func (e *Env) Close() error {
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	return err
}
