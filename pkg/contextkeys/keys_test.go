package contextkeys

import (
	"context"
	"testing"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/stretchr/testify/assert"
)

func TestClaims(t *testing.T) {
	ctx := context.Background()
	_, ok := Claims(ctx)
	assert.False(t, ok)
	assert.Empty(t, UserID(ctx))

	ctx = WithClaims(ctx, &auth.Claims{UserID: "u1"})
	claims, ok := Claims(ctx)
	assert.True(t, ok)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "u1", UserID(ctx))

	_, ok = Claims(WithClaims(context.Background(), nil))
	assert.False(t, ok)
}

func TestRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "abc")
	assert.Equal(t, "abc", GetRequestID(ctx))
	assert.Empty(t, GetRequestID(context.Background()))
}
