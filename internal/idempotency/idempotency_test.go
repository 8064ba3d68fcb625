package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestGuard(t *testing.T) (*Guard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewGuard(rdb, time.Hour), mr
}

func TestKeyIsDeterministic(t *testing.T) {
	a := Key("vapi_call", "call-123", "completed")
	b := Key("vapi_call", "call-123", "completed")
	c := Key("vapi_call", "call-123", "busy")

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 64)
}

func TestMarkAndCheck(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()
	key := Key("brevo_sms", "msg-1", "delivered")

	processed, err := g.IsProcessed(ctx, key)
	require.NoError(t, err)
	require.False(t, processed)

	require.NoError(t, g.MarkProcessed(ctx, key, ""))

	processed, err = g.IsProcessed(ctx, key)
	require.NoError(t, err)
	require.True(t, processed)

	result, ok, err := g.Result(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "processed", result)
}

func TestMarkerExpires(t *testing.T) {
	g, mr := newTestGuard(t)
	ctx := context.Background()
	key := Key("brevo_sms", "msg-2", "delivered")

	require.NoError(t, g.MarkProcessed(ctx, key, "done"))
	mr.FastForward(2 * time.Hour)

	processed, err := g.IsProcessed(ctx, key)
	require.NoError(t, err)
	require.False(t, processed, "marker should expire with its TTL")
}

func TestProcessOnce(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()
	key := Key("vapi_call", "call-9", "completed")

	calls := 0
	fn := func() (string, error) {
		calls++
		return "handled", nil
	}

	result, err := g.ProcessOnce(ctx, key, fn)
	require.NoError(t, err)
	require.Equal(t, "handled", result)

	result, err = g.ProcessOnce(ctx, key, fn)
	require.NoError(t, err)
	require.Equal(t, "handled", result)
	require.Equal(t, 1, calls, "second delivery must not re-run the work")
}

func TestProcessOnceDoesNotCacheFailures(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()
	key := Key("vapi_call", "call-10", "completed")

	boom := errors.New("transient")
	_, err := g.ProcessOnce(ctx, key, func() (string, error) { return "", boom })
	require.ErrorIs(t, err, boom)

	// A failed run leaves no marker, so the retry executes.
	result, err := g.ProcessOnce(ctx, key, func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	require.Equal(t, "ok", result)
}
