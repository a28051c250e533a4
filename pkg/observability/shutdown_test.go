package observability

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShutdownManager_ReverseOrder(t *testing.T) {
	logger := NewLogger(ErrorLevel, io.Discard)
	sm := NewShutdownManager(logger, nil, 0)

	var order []string
	sm.Register("db", func(context.Context) error { order = append(order, "db"); return nil })
	sm.Register("redis", func(context.Context) error { order = append(order, "redis"); return errors.New("already closed") })
	sm.Register("jobs", func(context.Context) error { order = append(order, "jobs"); return nil })

	err := sm.Shutdown()
	assert.Equal(t, []string{"jobs", "redis", "db"}, order)
	assert.ErrorContains(t, err, "redis: already closed")
}

func TestRecoverPanic(t *testing.T) {
	logger := NewLogger(ErrorLevel, io.Discard)
	assert.NotPanics(t, func() {
		defer RecoverPanic(logger, "test")
		panic("boom")
	})
}

func TestOTelProviders_NilShutdown(t *testing.T) {
	var p *OTelProviders
	assert.NoError(t, p.Shutdown(context.Background()))

	providers, err := InitOTel(context.Background(), OTelConfig{}, NopLogger())
	assert.NoError(t, err)
	assert.Nil(t, providers)
}
