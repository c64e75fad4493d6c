package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solarctl/solarctl/pkg/signal"
)

type fakePriceStore struct {
	intervals []signal.PriceInterval
}

func (s *fakePriceStore) GetPriceIntervals(ctx context.Context, siteID string, start, end time.Time) ([]signal.PriceInterval, error) {
	var out []signal.PriceInterval
	for _, iv := range s.intervals {
		if iv.StartTime.Before(end) && iv.EndTime.After(start) {
			out = append(out, iv)
		}
	}
	return out, nil
}

func (s *fakePriceStore) PutPriceIntervals(ctx context.Context, siteID string, intervals []signal.PriceInterval) error {
	s.intervals = mergeIntervals(s.intervals, intervals)
	return nil
}

func iv(start time.Time, minutes int, channel string, perKwh float64) signal.PriceInterval {
	return signal.PriceInterval{StartTime: start, EndTime: start.Add(time.Duration(minutes) * time.Minute), ChannelType: channel, PerKWh: perKwh}
}

func TestCache_PriceIntervals_FullCacheHitSkipsFetch(t *testing.T) {
	c := New(nil, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &fakePriceStore{intervals: []signal.PriceInterval{
		iv(base, 30, "general", 20), iv(base, 30, "feedIn", -5),
	}}

	fetched := false
	out, res, err := c.PriceIntervals(context.Background(), store, "site1", base, base.Add(30*time.Minute), func(ctx context.Context, start, end time.Time) ([]signal.PriceInterval, error) {
		fetched = true
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, res.CacheHit)
	assert.False(t, fetched)
	assert.Len(t, out, 2)
}

func TestCache_PriceIntervals_GapFillFetchesOnlyMissingRange(t *testing.T) {
	c := New(nil, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &fakePriceStore{intervals: []signal.PriceInterval{
		iv(base, 30, "general", 20), iv(base, 30, "feedIn", -5),
	}}

	var gotStart, gotEnd time.Time
	want := base.Add(2 * time.Hour)
	out, res, err := c.PriceIntervals(context.Background(), store, "site1", base, want, func(ctx context.Context, start, end time.Time) ([]signal.PriceInterval, error) {
		gotStart, gotEnd = start, end
		return []signal.PriceInterval{
			iv(base.Add(30*time.Minute), 30, "general", 21),
			iv(base.Add(30*time.Minute), 30, "feedIn", -6),
		}, nil
	})
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Equal(t, base.Add(30*time.Minute), gotStart)
	assert.Equal(t, want, gotEnd)
	assert.GreaterOrEqual(t, len(out), 3)
}

func TestCache_PriceIntervals_DedupOnStartTimeAndChannel(t *testing.T) {
	c := New(nil, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &fakePriceStore{}

	out, _, err := c.PriceIntervals(context.Background(), store, "site1", base, base.Add(30*time.Minute), func(ctx context.Context, start, end time.Time) ([]signal.PriceInterval, error) {
		return []signal.PriceInterval{
			iv(base, 30, "general", 20),
			iv(base, 30, "general", 999), // duplicate key, should not double up
			iv(base, 30, "feedIn", -5),
		}, nil
	})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestCache_PriceIntervals_ImbalanceTriggersFullRefetch(t *testing.T) {
	c := New(nil, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var generalOnly []signal.PriceInterval
	for i := 0; i < 10; i++ {
		generalOnly = append(generalOnly, iv(base.Add(time.Duration(i)*30*time.Minute), 30, "general", 20))
	}
	store := &fakePriceStore{intervals: generalOnly}

	refetchCalls := 0
	out, _, err := c.PriceIntervals(context.Background(), store, "site1", base, base.Add(5*time.Hour), func(ctx context.Context, start, end time.Time) ([]signal.PriceInterval, error) {
		refetchCalls++
		return []signal.PriceInterval{iv(base, 30, "general", 1), iv(base, 30, "feedIn", -1)}, nil
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, refetchCalls, 1)
	assert.NotEmpty(t, out)
}
