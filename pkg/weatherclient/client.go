// Package weatherclient fetches an hourly weather forecast sequence for a
// tenant's configured location, used by the evaluator's aggregate weather
// conditions (§4.4).
package weatherclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/solarctl/solarctl/pkg/retryclient"
	"github.com/solarctl/solarctl/pkg/signal"
)

const providerName = "weather"

// Location identifies where to fetch the forecast for.
type Location struct {
	APIURL    string
	APIKey    string
	Latitude  float64
	Longitude float64
	TZ        *time.Location
}

// Client is the instrumented weather API client.
type Client struct {
	httpClient *http.Client
	retry      *retryclient.Client
}

// NewClient builds a weather client sharing retry, a circuit breaker across
// all tenants.
func NewClient(retry *retryclient.Client) *Client {
	return &Client{httpClient: &http.Client{Timeout: 10 * time.Second}, retry: retry}
}

type hourlyPoint struct {
	Time           time.Time `json:"time"`
	SolarRadiation float64   `json:"shortwaveRadiation"`
	CloudCover     float64   `json:"cloudCover"`
	UVIndex        float64   `json:"uvIndex"`
	Temperature    float64   `json:"temperature2m"`
}

type providerResponse struct {
	Hourly []hourlyPoint `json:"hourly"`
}

// HourlySequence fetches the forecast starting at local midnight of today
// through the following day, and returns signal.WeatherHour indexed by
// local hour-of-day starting at index 0 = local midnight (the shape
// Snapshot.WeatherSumOverHours expects). metered should be true only for
// user-triggered refreshes.
func (c *Client) HourlySequence(ctx context.Context, loc Location, metered bool) ([]signal.WeatherHour, error) {
	var raw providerResponse

	err := c.retry.Do(ctx, retryclient.CallOpts{Provider: providerName, Operation: "hourly", Metered: metered, Preset: retryclient.DefaultPreset},
		func(ctx context.Context) error {
			url := fmt.Sprintf("%s/v1/forecast?lat=%f&lon=%f&hourly=shortwave_radiation,cloud_cover,uv_index,temperature_2m&forecast_days=2",
				loc.APIURL, loc.Latitude, loc.Longitude)
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("building request: %w", err)
			}
			if loc.APIKey != "" {
				req.Header.Set("Authorization", "Bearer "+loc.APIKey)
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("calling weather provider: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode == http.StatusTooManyRequests {
				return &retryclient.RateLimitedError{Err: fmt.Errorf("weather provider returned HTTP 429")}
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("weather provider returned HTTP %d", resp.StatusCode)
			}

			raw = providerResponse{}
			return json.NewDecoder(resp.Body).Decode(&raw)
		})
	if err != nil {
		return nil, err
	}

	tz := loc.TZ
	if tz == nil {
		tz = time.UTC
	}
	midnight := timeOf(raw.Hourly, tz)

	// Over-fetch cap: never keep more than 7 days' worth of hours even if
	// the provider returns more (§4.4 cache over-fetch bound, reused here
	// to bound a single forecast response).
	const maxHours = 7 * 24
	out := make([]signal.WeatherHour, 0, len(raw.Hourly))
	for _, h := range raw.Hourly {
		if h.Time.Before(midnight) {
			continue
		}
		if len(out) >= maxHours {
			break
		}
		out = append(out, signal.WeatherHour{
			SolarRadiation: h.SolarRadiation,
			CloudCover:     h.CloudCover,
			UVIndex:        h.UVIndex,
			Temperature:    h.Temperature,
		})
	}
	return out, nil
}

func timeOf(hourly []hourlyPoint, tz *time.Location) time.Time {
	if len(hourly) == 0 {
		return time.Time{}
	}
	first := hourly[0].Time.In(tz)
	return time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, tz)
}
