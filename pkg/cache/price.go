package cache

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/solarctl/solarctl/pkg/signal"
)

// MaxPriceFetchChunk bounds a single upstream price fetch to 30 days
// (§4.4).
const MaxPriceFetchChunk = 30 * 24 * time.Hour

// PriceStore is the shared site-scoped persistence this cache gap-fills
// against. Implemented by the persistence store (public schema, not
// tenant-scoped — prices are shared across tenants on the same site).
type PriceStore interface {
	GetPriceIntervals(ctx context.Context, siteID string, start, end time.Time) ([]signal.PriceInterval, error)
	PutPriceIntervals(ctx context.Context, siteID string, intervals []signal.PriceInterval) error
}

// PriceFetcher fetches provider intervals covering [start, end).
type PriceFetcher func(ctx context.Context, start, end time.Time) ([]signal.PriceInterval, error)

// ChannelImbalanceThreshold triggers a full-span refetch when the merged
// result's per-channel interval counts diverge by more than this many
// intervals, which usually indicates one channel's provider response was
// truncated or failed silently (§4.4).
const ChannelImbalanceThreshold = 4

// PriceIntervals returns all price intervals covering [start, end) for
// siteID, filling any gaps in the store from fetch, merging and
// deduplicating on (startTime, channelType), and writing the result back.
func (c *Cache) PriceIntervals(ctx context.Context, store PriceStore, siteID string, start, end time.Time, fetch PriceFetcher) ([]signal.PriceInterval, Result, error) {
	cached, err := store.GetPriceIntervals(ctx, siteID, start, end)
	if err != nil {
		return nil, Result{}, fmt.Errorf("reading cached price intervals: %w", err)
	}

	gaps := missingRanges(cached, start, end)
	if len(gaps) == 0 && !channelsImbalanced(cached) {
		return cached, Result{CacheHit: true}, nil
	}

	var fetched []signal.PriceInterval
	for _, gap := range gaps {
		chunks := chunkRange(gap.start, gap.end, MaxPriceFetchChunk)
		for _, chunk := range chunks {
			intervals, err := fetch(ctx, chunk.start, chunk.end)
			if err != nil {
				return nil, Result{}, fmt.Errorf("fetching price intervals %s..%s: %w", chunk.start, chunk.end, err)
			}
			fetched = append(fetched, intervals...)
		}
	}

	merged := mergeIntervals(cached, fetched)

	if channelsImbalanced(merged) {
		// Per-channel coverage diverged enough that partial merging is
		// unreliable; refetch the whole requested span and replace.
		full, err := fetch(ctx, start, end)
		if err != nil {
			return nil, Result{}, fmt.Errorf("refetching imbalanced price span: %w", err)
		}
		merged = mergeIntervals(nil, full)
	}

	if err := store.PutPriceIntervals(ctx, siteID, merged); err != nil {
		c.logger.Warn("failed to persist merged price intervals", "siteID", siteID, "error", err)
	}

	return merged, Result{CacheHit: len(gaps) == 0}, nil
}

type timeRange struct{ start, end time.Time }

// missingRanges computes the gaps in [start, end) not covered by cached,
// after merging cached into a sorted set of non-overlapping coverage
// islands (coverage is channel-agnostic: a timestamp is "covered" if any
// channel has an interval there, since both channels are always fetched
// together).
func missingRanges(cached []signal.PriceInterval, start, end time.Time) []timeRange {
	if len(cached) == 0 {
		return []timeRange{{start, end}}
	}

	islands := coverageIslands(cached)

	var gaps []timeRange
	cursor := start
	for _, isl := range islands {
		if isl.end.Before(cursor) || isl.end.Equal(cursor) {
			continue
		}
		if isl.start.After(cursor) {
			gapEnd := isl.start
			if gapEnd.After(end) {
				gapEnd = end
			}
			if cursor.Before(gapEnd) {
				gaps = append(gaps, timeRange{cursor, gapEnd})
			}
		}
		if isl.end.After(cursor) {
			cursor = isl.end
		}
		if !cursor.Before(end) {
			break
		}
	}
	if cursor.Before(end) {
		gaps = append(gaps, timeRange{cursor, end})
	}
	return gaps
}

func coverageIslands(intervals []signal.PriceInterval) []timeRange {
	sorted := append([]signal.PriceInterval(nil), intervals...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartTime.Before(sorted[j].StartTime) })

	var islands []timeRange
	for _, iv := range sorted {
		if len(islands) == 0 {
			islands = append(islands, timeRange{iv.StartTime, iv.EndTime})
			continue
		}
		last := &islands[len(islands)-1]
		if !iv.StartTime.After(last.end) {
			if iv.EndTime.After(last.end) {
				last.end = iv.EndTime
			}
			continue
		}
		islands = append(islands, timeRange{iv.StartTime, iv.EndTime})
	}
	return islands
}

func chunkRange(start, end time.Time, chunk time.Duration) []timeRange {
	var chunks []timeRange
	for cursor := start; cursor.Before(end); {
		next := cursor.Add(chunk)
		if next.After(end) {
			next = end
		}
		chunks = append(chunks, timeRange{cursor, next})
		cursor = next
	}
	return chunks
}

// mergeIntervals unions a and b, deduplicating on (startTime, channelType)
// with b taking precedence, and sorts by startTime (§4.4).
func mergeIntervals(a, b []signal.PriceInterval) []signal.PriceInterval {
	type key struct {
		start   int64
		channel string
	}
	byKey := make(map[key]signal.PriceInterval, len(a)+len(b))
	for _, iv := range a {
		byKey[key{iv.StartTime.UnixNano(), iv.ChannelType}] = iv
	}
	for _, iv := range b {
		byKey[key{iv.StartTime.UnixNano(), iv.ChannelType}] = iv
	}

	out := make([]signal.PriceInterval, 0, len(byKey))
	for _, iv := range byKey {
		out = append(out, iv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func channelsImbalanced(intervals []signal.PriceInterval) bool {
	var general, feedIn int
	for _, iv := range intervals {
		if iv.ChannelType == "feedIn" {
			feedIn++
		} else {
			general++
		}
	}
	diff := general - feedIn
	if diff < 0 {
		diff = -diff
	}
	return diff > ChannelImbalanceThreshold
}
