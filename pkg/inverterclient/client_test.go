package inverterclient

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solarctl/solarctl/pkg/retryclient"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rc := retryclient.NewClient("inverter", 5, time.Minute, logger, nil, nil)
	return NewClient(rc), srv
}

func TestClient_RealTime_SignsRequest(t *testing.T) {
	var gotSig, gotTS string
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("Signature")
		gotTS = r.Header.Get("Timestamp")
		_ = json.NewEncoder(w).Encode(apiEnvelope{
			Result: json.RawMessage(`{"soc":55.5,"pvPower":1200,"feedinPower":300}`),
		})
	})

	creds := Credentials{APIURL: srv.URL, DeviceSerial: "SN123", Token: "tok"}
	tel, err := c.RealTime(context.Background(), creds, true)
	require.NoError(t, err)
	assert.Equal(t, 55.5, tel.SoC)
	assert.Equal(t, 1200.0, tel.PVPower)
	assert.NotEmpty(t, gotSig)
	assert.NotEmpty(t, gotTS)

	ts, err := strconv.ParseInt(gotTS, 10, 64)
	require.NoError(t, err)
	wantSig := sign("/op/v0/device/real/query", "tok", ts)
	assert.Equal(t, wantSig, gotSig)
}

func TestClient_RealTime_RateLimitDoesNotFailPermanently(t *testing.T) {
	attempts := 0
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(apiEnvelope{Result: json.RawMessage(`{"soc":10}`)})
	})

	creds := Credentials{APIURL: srv.URL, DeviceSerial: "SN1", Token: "t"}
	tel, err := c.RealTime(context.Background(), creds, true)
	require.NoError(t, err)
	assert.Equal(t, 10.0, tel.SoC)
	assert.Equal(t, 2, attempts)
}

func TestClient_ApplyScheduler_SendsEightSlots(t *testing.T) {
	var body struct {
		Groups []map[string]any `json:"groups"`
	}
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(apiEnvelope{})
	})

	creds := Credentials{APIURL: srv.URL, DeviceSerial: "SN1", Token: "t"}
	var sched Scheduler
	sched.Flag = true
	sched.Slots[AutomationSlotIndex] = Slot{Enable: true, StartHHMM: "08:00", EndHHMM: "08:30"}

	err := c.ApplyScheduler(context.Background(), creds, sched, retryclient.CriticalPreset, true)
	require.NoError(t, err)
	assert.Len(t, body.Groups, SlotCount)
}
