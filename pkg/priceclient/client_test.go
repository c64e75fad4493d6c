package priceclient

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solarctl/solarctl/pkg/retryclient"
)

func TestClient_CurrentAndForecast_CanonicalisesFeedInSign(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]providerInterval{
			{StartTime: now, EndTime: now.Add(30 * time.Minute), ChannelType: "feedIn", PerKwh: -9.0, Type: "CurrentInterval"},
			{StartTime: now, EndTime: now.Add(30 * time.Minute), ChannelType: "general", PerKwh: 27.5, Type: "CurrentInterval"},
		})
	}))
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rc := retryclient.NewClient("price", 5, time.Minute, logger, nil, nil)
	c := NewClient(rc)

	out, err := c.CurrentAndForecast(context.Background(), Credentials{APIURL: srv.URL, APIKey: "k", SiteID: "s1"}, 48, false)
	require.NoError(t, err)
	require.Len(t, out, 2)

	var feedIn, buy *float64
	for _, iv := range out {
		v := iv.PerKWh
		switch iv.ChannelType {
		case "feedIn":
			feedIn = &v
		case "general":
			buy = &v
		}
	}
	require.NotNil(t, feedIn)
	require.NotNil(t, buy)
	assert.Equal(t, 9.0, *feedIn)
	assert.Equal(t, 27.5, *buy)
}

func TestClient_CurrentAndForecast_RateLimitIsNotFatal(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode([]providerInterval{})
	}))
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rc := retryclient.NewClient("price", 5, time.Minute, logger, nil, nil)
	c := NewClient(rc)

	out, err := c.CurrentAndForecast(context.Background(), Credentials{APIURL: srv.URL, APIKey: "k", SiteID: "s1"}, 10, false)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, 2, attempts)
}
