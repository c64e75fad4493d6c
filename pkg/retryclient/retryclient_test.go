package retryclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestClient_Do_SucceedsFirstTry(t *testing.T) {
	c := NewClient("inverter", 3, time.Minute, discardLogger(), nil, nil)
	calls := 0
	err := c.Do(context.Background(), CallOpts{Provider: "inverter", Operation: "realtime"}, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateClosed, c.Breaker.State())
}

func TestClient_Do_RetriesThenSucceeds(t *testing.T) {
	c := NewClient("price", 5, time.Minute, discardLogger(), nil, nil)
	c.Breaker.cooldown = 0
	attempts := 0
	err := c.Do(context.Background(), CallOpts{
		Provider: "price", Operation: "current",
		Preset: Preset{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1},
	}, func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestClient_Do_ExhaustsAttemptsOpensBreaker(t *testing.T) {
	c := NewClient("weather", 2, time.Hour, discardLogger(), nil, nil)
	preset := Preset{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1}

	err := c.Do(context.Background(), CallOpts{Provider: "weather", Operation: "hourly", Preset: preset}, func(ctx context.Context) error {
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, StateOpen, c.Breaker.State())

	// Breaker now open: calls short-circuit without invoking fn.
	invoked := false
	err = c.Do(context.Background(), CallOpts{Provider: "weather", Operation: "hourly", Preset: preset}, func(ctx context.Context) error {
		invoked = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, invoked)
}

func TestClient_Do_RateLimitedDoesNotOpenBreakerOrMeter(t *testing.T) {
	c := NewClient("price", 1, time.Hour, discardLogger(), nil, nil)
	metered := 0
	c.Counter = func(ctx context.Context, provider string) { metered++ }

	preset := Preset{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1}
	err := c.Do(context.Background(), CallOpts{Provider: "price", Operation: "current", Metered: true, Preset: preset}, func(ctx context.Context) error {
		return &RateLimitedError{Err: errors.New("429")}
	})
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
	assert.Equal(t, StateClosed, c.Breaker.State())
	assert.Equal(t, 0, metered)
}

func TestClient_Do_MeteredOnlyOnSuccess(t *testing.T) {
	c := NewClient("inverter", 3, time.Minute, discardLogger(), nil, nil)
	metered := 0
	c.Counter = func(ctx context.Context, provider string) { metered++ }

	err := c.Do(context.Background(), CallOpts{Provider: "inverter", Operation: "setFlag", Metered: true}, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, metered)

	err = c.Do(context.Background(), CallOpts{Provider: "inverter", Operation: "setFlag", Metered: false}, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, metered, "unmetered call must not increment the counter")
}
