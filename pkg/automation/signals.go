package automation

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/solarctl/solarctl/pkg/cache"
	"github.com/solarctl/solarctl/pkg/rule"
	"github.com/solarctl/solarctl/pkg/signal"
	"github.com/solarctl/solarctl/pkg/tenantconfig"
)

// requirements summarises which signals the tenant's enabled rules actually
// need, so the cycle skips fetches (and the metering they'd cause) that no
// rule would read (§4.6 step 5).
type requirements struct {
	needsPrice       bool
	needsWeather     bool
	maxDurationMins  int
}

func requirementsFor(rules []rule.Rule) requirements {
	var req requirements
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		c := r.Conditions
		if c.FeedInPrice.Enabled || c.BuyPrice.Enabled || c.ForecastPrice.Enabled {
			req.needsPrice = true
		}
		if c.SolarRadiation.Enabled || c.CloudCover.Enabled || c.UVIndex.Enabled {
			req.needsWeather = true
			if r.Action.DurationMinutes > req.maxDurationMins {
				req.maxDurationMins = r.Action.DurationMinutes
			}
		}
	}
	return req
}

// gatherSignals fetches everything this cycle's rules require in parallel
// through the cache layer (§4.6 step 5). A fetch failure never aborts the
// cycle: the corresponding snapshot field is simply left unavailable, which
// the evaluator treats as no_data.
func (e *Engine) gatherSignals(ctx context.Context, schema string, cfg tenantconfig.Config, req requirements) signal.Snapshot {
	loc := cfg.Location()
	snap := signal.Snapshot{NowLocal: e.now().In(loc)}

	var g errgroup.Group

	g.Go(func() error {
		tel, res, err := e.cache.Telemetry(ctx, schema, cfg.Overrides.TelemetryTTL(cache.DefaultTelemetryTTL), func(ctx context.Context) (signal.Telemetry, error) {
			creds := inverterCreds(cfg)
			return e.inverter.RealTime(ctx, creds, true)
		})
		if err != nil {
			e.logger.Warn("telemetry fetch failed", "tenant", schema, "error", err)
			return nil
		}
		snap.Telemetry = tel
		snap.TelemetryAvailable = true
		_ = res
		return nil
	})

	if req.needsPrice {
		g.Go(func() error {
			intervals, err := e.fetchPrices(ctx, schema, cfg)
			if err != nil {
				e.logger.Warn("price fetch failed", "tenant", schema, "error", err)
				return nil
			}
			now := snap.NowLocal
			for _, iv := range intervals {
				if !now.Before(iv.StartTime) && now.Before(iv.EndTime) {
					if iv.ChannelType == "feedIn" {
						snap.CurrentFeedIn = iv.PerKWh
						snap.CurrentFeedInAvailable = true
					} else {
						snap.CurrentBuy = iv.PerKWh
						snap.CurrentBuyAvailable = true
					}
				}
				if iv.ChannelType == "feedIn" {
					snap.ForecastFeedIn = append(snap.ForecastFeedIn, iv)
				} else {
					snap.ForecastBuy = append(snap.ForecastBuy, iv)
				}
			}
			return nil
		})
	}

	if req.needsWeather {
		g.Go(func() error {
			hours := cache.WeatherFetchHours(req.maxDurationMins)
			seq, _, err := e.cache.Weather(ctx, schema, cfg.Overrides.WeatherTTL(cache.DefaultWeatherTTL), hours, func(ctx context.Context, hours int) ([]signal.WeatherHour, error) {
				return e.weather.HourlySequence(ctx, weatherLoc(cfg), true)
			})
			if err != nil {
				e.logger.Warn("weather fetch failed", "tenant", schema, "error", err)
				return nil
			}
			snap.Weather = seq
			snap.WeatherAvailable = true
			return nil
		})
	}

	_ = g.Wait()
	return snap
}

// fetchPrices always fetches enough forecast to cover the farthest
// supported horizon (60 minutes) plus the current interval, gap-filled and
// merged through the shared site-scoped price cache (§4.4).
func (e *Engine) fetchPrices(ctx context.Context, schema string, cfg tenantconfig.Config) ([]signal.PriceInterval, error) {
	now := e.now()
	start := now.Add(-30 * time.Minute)
	end := now.Add(2 * time.Hour)

	intervals, _, err := e.cache.PriceIntervals(ctx, e.priceStore, cfg.Price.SiteID, start, end, func(ctx context.Context, s, en time.Time) ([]signal.PriceInterval, error) {
		return e.price.CurrentAndForecast(ctx, priceCreds(cfg), 8, true)
	})
	if err != nil {
		return nil, fmt.Errorf("fetching price intervals: %w", err)
	}
	return intervals, nil
}
