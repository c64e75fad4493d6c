package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/solarctl/solarctl/pkg/signal"
)

// GetPriceIntervals returns the shared, site-scoped price intervals
// covering [start, end), implementing cache.PriceStore. Unlike every other
// query in this package, it reads public.price_intervals directly through
// the pool — prices are shared across every tenant on the same site, so
// there is no tenant schema to scope to.
func (s *Store) GetPriceIntervals(ctx context.Context, siteID string, start, end time.Time) ([]signal.PriceInterval, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT start_time, end_time, channel_type, per_kwh, is_forecast
		FROM public.price_intervals
		WHERE site_id = $1 AND start_time < $2 AND end_time > $3
		ORDER BY start_time ASC
	`, siteID, end, start)
	if err != nil {
		return nil, fmt.Errorf("querying price intervals: %w", err)
	}
	defer rows.Close()

	var out []signal.PriceInterval
	for rows.Next() {
		var iv signal.PriceInterval
		if err := rows.Scan(&iv.StartTime, &iv.EndTime, &iv.ChannelType, &iv.PerKWh, &iv.IsForecast); err != nil {
			return nil, fmt.Errorf("scanning price interval: %w", err)
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

// PutPriceIntervals upserts siteID's price intervals, implementing
// cache.PriceStore. Forecast rows are overwritten as actuals arrive (the
// upsert always takes the latest write), matching §4.4's "forecast becomes
// actual" lifecycle.
func (s *Store) PutPriceIntervals(ctx context.Context, siteID string, intervals []signal.PriceInterval) error {
	if len(intervals) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, iv := range intervals {
		batch.Queue(`
			INSERT INTO public.price_intervals (site_id, start_time, end_time, channel_type, per_kwh, is_forecast, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())
			ON CONFLICT (site_id, start_time, channel_type) DO UPDATE SET
				end_time = EXCLUDED.end_time,
				per_kwh = EXCLUDED.per_kwh,
				is_forecast = EXCLUDED.is_forecast,
				updated_at = now()
		`, siteID, iv.StartTime, iv.EndTime, iv.ChannelType, iv.PerKWh, iv.IsForecast)
	}

	br := s.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range intervals {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upserting price interval: %w", err)
		}
	}
	return nil
}
