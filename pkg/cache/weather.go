package cache

import (
	"context"
	"time"

	"github.com/solarctl/solarctl/pkg/signal"
)

const weatherKeyPrefix = "solarctl:cache:weather:"

// DefaultWeatherTTL is the default freshness window for a weather document
// (§4.4: 30-60 minutes).
const DefaultWeatherTTL = 45 * time.Minute

// MaxWeatherHours caps the weather over-fetch window at roughly 7 days
// (§4.4).
const MaxWeatherHours = 7 * 24

// WeatherFetchHours computes the over-fetch window: enough hours to cover
// the longest weather-using rule's action duration (rounded up to whole
// hours), capped at MaxWeatherHours. Requesting the same wide window
// regardless of which rule triggered the read stabilises cache hits across
// rules with different horizons (§4.4).
func WeatherFetchHours(maxDurationMinutes int) int {
	hours := (maxDurationMinutes + 59) / 60
	if hours < 1 {
		hours = 1
	}
	if hours > MaxWeatherHours {
		hours = MaxWeatherHours
	}
	return hours
}

// Weather returns the tenant's cached hourly weather sequence if younger
// than ttl, otherwise fetches hours worth of forecast and caches it.
func (c *Cache) Weather(ctx context.Context, tenantSchema string, ttl time.Duration, hours int, fetch func(ctx context.Context, hours int) ([]signal.WeatherHour, error)) ([]signal.WeatherHour, Result, error) {
	return getOrFetch(ctx, c, weatherKeyPrefix+tenantSchema, ttl, func(ctx context.Context) ([]signal.WeatherHour, error) {
		return fetch(ctx, hours)
	})
}
