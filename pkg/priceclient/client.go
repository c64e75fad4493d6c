// Package priceclient fetches spot electricity prices (current and
// forecast, buy and feed-in) for a site. Feed-in sign canonicalisation
// happens exactly once, here, at ingestion (§4.3, §9): the provider
// delivers feed-in as a negative (credit) number; this client negates it so
// downstream code always works with a positive-if-earning quantity.
package priceclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/solarctl/solarctl/pkg/retryclient"
	"github.com/solarctl/solarctl/pkg/signal"
)

const providerName = "price"

// Credentials identify one tenant's site to the price provider.
type Credentials struct {
	APIURL string
	APIKey string
	SiteID string
}

// Client is the instrumented price API client.
type Client struct {
	httpClient *http.Client
	retry      *retryclient.Client
}

// NewClient builds a price client sharing retry, a circuit breaker across
// all tenants.
func NewClient(retry *retryclient.Client) *Client {
	return &Client{httpClient: &http.Client{Timeout: 10 * time.Second}, retry: retry}
}

type providerInterval struct {
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	ChannelType string    `json:"channelType"` // "general" (buy) or "feedIn"
	PerKwh      float64   `json:"perKwh"`
	Type        string    `json:"type"` // "CurrentInterval" or "ForecastInterval"
}

// CurrentAndForecast fetches lookaheadIntervals worth of current + forecast
// price intervals for the site. metered should be true only for
// user-triggered refreshes; routine cache-fill fetches are unmetered.
func (c *Client) CurrentAndForecast(ctx context.Context, creds Credentials, lookaheadIntervals int, metered bool) ([]signal.PriceInterval, error) {
	var raw []providerInterval

	err := c.retry.Do(ctx, retryclient.CallOpts{Provider: providerName, Operation: "currentAndForecast", Metered: metered, Preset: retryclient.DefaultPreset},
		func(ctx context.Context) error {
			url := fmt.Sprintf("%s/sites/%s/prices?next=%d", creds.APIURL, creds.SiteID, lookaheadIntervals)
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("building request: %w", err)
			}
			req.Header.Set("Authorization", "Bearer "+creds.APIKey)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("calling price provider: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode == http.StatusTooManyRequests {
				return &retryclient.RateLimitedError{Err: fmt.Errorf("price provider returned HTTP 429")}
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("price provider returned HTTP %d", resp.StatusCode)
			}

			raw = nil
			return json.NewDecoder(resp.Body).Decode(&raw)
		})
	if err != nil {
		return nil, err
	}

	out := make([]signal.PriceInterval, 0, len(raw))
	for _, r := range raw {
		perKwh := r.PerKwh
		channel := "general"
		if r.ChannelType == "feedIn" {
			channel = "feedIn"
			// Sign canonicalisation: provider delivers feed-in as negative
			// (negative-cost = credit). Invert exactly once, here.
			perKwh = -perKwh
		}
		out = append(out, signal.PriceInterval{
			StartTime:   r.StartTime,
			EndTime:     r.EndTime,
			ChannelType: channel,
			PerKWh:      perKwh,
			IsForecast:  r.Type == "ForecastInterval",
		})
	}
	return out, nil
}
