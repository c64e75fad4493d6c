package auditlog

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCounters(t *testing.T) *Counters {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCounters(rdb, logger)
}

func TestCounters_IncrementAccumulatesPerProvider(t *testing.T) {
	c := newTestCounters(t)
	ctx := context.Background()

	c.Increment(ctx, "tenant_a", "inverter")
	c.Increment(ctx, "tenant_a", "inverter")
	c.Increment(ctx, "tenant_a", "price")

	days, err := c.Last(ctx, "tenant_a", 1)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, 2, days[0].Counters["inverter"])
	assert.Equal(t, 1, days[0].Counters["price"])
	assert.Equal(t, 0, days[0].Counters["weather"])
}

func TestCounters_LastReturnsZeroForUntouchedTenant(t *testing.T) {
	c := newTestCounters(t)

	days, err := c.Last(context.Background(), "tenant_never_called", 3)
	require.NoError(t, err)
	require.Len(t, days, 3)
	for _, d := range days {
		for _, v := range d.Counters {
			assert.Equal(t, 0, v)
		}
	}
}

func TestCounters_IncrementIsPerTenant(t *testing.T) {
	c := newTestCounters(t)
	ctx := context.Background()

	c.Increment(ctx, "tenant_a", "inverter")
	c.Increment(ctx, "tenant_b", "inverter")
	c.Increment(ctx, "tenant_b", "inverter")

	daysA, err := c.Last(ctx, "tenant_a", 1)
	require.NoError(t, err)
	daysB, err := c.Last(ctx, "tenant_b", 1)
	require.NoError(t, err)

	assert.Equal(t, 1, daysA[0].Counters["inverter"])
	assert.Equal(t, 2, daysB[0].Counters["inverter"])
}
