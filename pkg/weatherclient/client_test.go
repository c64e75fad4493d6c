package weatherclient

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

func TestClient_HourlySequence_SelectsFromLocalMidnight(t *testing.T) {
	midnight := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		points := make([]hourlyPoint, 0, 48)
		// One hour before local midnight: must be dropped.
		points = append(points, hourlyPoint{Time: midnight.Add(-1 * time.Hour), SolarRadiation: -1})
		for i := 0; i < 48; i++ {
			points = append(points, hourlyPoint{Time: midnight.Add(time.Duration(i) * time.Hour), SolarRadiation: float64(i)})
		}
		_ = json.NewEncoder(w).Encode(providerResponse{Hourly: points})
	}))
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rc := retryclient.NewClient("weather", 5, time.Minute, logger, nil, nil)
	c := NewClient(rc)

	out, err := c.HourlySequence(context.Background(), Location{APIURL: srv.URL, TZ: time.UTC}, false)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.Equal(t, 0.0, out[0].SolarRadiation)
	assert.Equal(t, 1.0, out[1].SolarRadiation)
}
