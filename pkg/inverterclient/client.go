// Package inverterclient talks to the device manufacturer's inverter cloud
// API: live telemetry reads and the eight-slot scheduler that the
// automation cycle engine drives (C3, partial — the remainder of C3 is
// priceclient and weatherclient).
package inverterclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/solarctl/solarctl/pkg/retryclient"
	"github.com/solarctl/solarctl/pkg/rule"
	"github.com/solarctl/solarctl/pkg/signal"
)

const providerName = "inverter"

// Credentials identify one tenant's device to the provider.
type Credentials struct {
	APIURL       string
	DeviceSerial string
	Token        string
}

// Client is the instrumented inverter API client. One Client is shared
// across tenants; per-call Credentials select the device.
type Client struct {
	httpClient *http.Client
	retry      *retryclient.Client
	now        func() time.Time
}

// NewClient builds an inverter client backed by retry, an instrumented
// client shares its circuit breaker across all tenants, so a provider-wide
// outage trips once rather than per tenant.
func NewClient(retry *retryclient.Client) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry:      retry,
		now:        time.Now,
	}
}

type apiEnvelope struct {
	Errno int             `json:"errno"`
	Msg   string          `json:"msg"`
	Result json.RawMessage `json:"result"`
}

func (c *Client) do(ctx context.Context, creds Credentials, opts retryclient.CallOpts, path string, body any, out any) error {
	return c.retry.Do(ctx, opts, func(ctx context.Context) error {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request: %w", err)
		}

		ts := c.now().UnixMilli()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, creds.APIURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Token", creds.Token)
		req.Header.Set("Timestamp", fmt.Sprintf("%d", ts))
		req.Header.Set("Signature", sign(path, creds.Token, ts))

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("calling inverter provider: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == http.StatusTooManyRequests {
			return &retryclient.RateLimitedError{Err: fmt.Errorf("inverter provider returned HTTP 429")}
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("inverter provider returned HTTP %d", resp.StatusCode)
		}

		var env apiEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		if env.Errno != 0 {
			return fmt.Errorf("inverter provider error %d: %s", env.Errno, env.Msg)
		}
		if out != nil && len(env.Result) > 0 {
			if err := json.Unmarshal(env.Result, out); err != nil {
				return fmt.Errorf("decoding result: %w", err)
			}
		}
		return nil
	})
}

type realTimeResponse struct {
	SoC           float64 `json:"soc"`
	BatteryTemp   float64 `json:"batTemp"`
	AmbientTemp   float64 `json:"ambientTemp"`
	InverterTemp  float64 `json:"invTemp"`
	PVPower       float64 `json:"pvPower"`
	LoadPower     float64 `json:"loadsPower"`
	GridImport    float64 `json:"gridConsumptionPower"`
	FeedIn        float64 `json:"feedinPower"`
	ExportLimit   float64 `json:"exportLimit"`
}

// RealTime fetches live telemetry. System-originated (verification reads,
// ancillary polling) calls should set opts.Metered=false.
func (c *Client) RealTime(ctx context.Context, creds Credentials, metered bool) (signal.Telemetry, error) {
	var res realTimeResponse
	err := c.do(ctx, creds, retryclient.CallOpts{Provider: providerName, Operation: "realtime", Metered: metered, Preset: retryclient.DefaultPreset},
		"/op/v0/device/real/query", map[string]string{"sn": creds.DeviceSerial}, &res)
	if err != nil {
		return signal.Telemetry{}, err
	}
	return signal.Telemetry{
		SoC:                res.SoC,
		BatteryTemp:        res.BatteryTemp,
		AmbientTemp:        res.AmbientTemp,
		InverterTemp:       res.InverterTemp,
		PVPower:            res.PVPower,
		LoadPower:          res.LoadPower,
		GridImport:         res.GridImport,
		FeedIn:             res.FeedIn,
		CurrentExportLimit: res.ExportLimit,
	}, nil
}

// GetScheduler fetches the device's current eight-slot schedule.
func (c *Client) GetScheduler(ctx context.Context, creds Credentials, metered bool) (Scheduler, error) {
	var raw struct {
		Enable bool `json:"enable"`
		Groups []struct {
			Enable    bool   `json:"enable"`
			StartHour int    `json:"startHour"`
			StartMin  int    `json:"startMinute"`
			EndHour   int    `json:"endHour"`
			EndMin    int    `json:"endMinute"`
			WorkMode  string `json:"workMode"`
			FdPwr     int    `json:"fdpwr"`
			FdSoc     int    `json:"fdsoc"`
			MaxSoc    int    `json:"maxsoc"`
		} `json:"groups"`
	}
	err := c.do(ctx, creds, retryclient.CallOpts{Provider: providerName, Operation: "getScheduler", Metered: metered, Preset: retryclient.DefaultPreset},
		"/op/v0/device/scheduler/get", map[string]string{"sn": creds.DeviceSerial}, &raw)
	if err != nil {
		return Scheduler{}, err
	}

	var sched Scheduler
	sched.Flag = raw.Enable
	for i := 0; i < SlotCount && i < len(raw.Groups); i++ {
		g := raw.Groups[i]
		sched.Slots[i] = Slot{
			Enable:         g.Enable,
			WorkMode:       rule.WorkMode(g.WorkMode),
			StartHHMM:      fmt.Sprintf("%02d:%02d", g.StartHour, g.StartMin),
			EndHHMM:        fmt.Sprintf("%02d:%02d", g.EndHour, g.EndMin),
			DischargePower: g.FdPwr,
			TargetMinSoC:   g.FdSoc,
			MaxSoC:         g.MaxSoc,
		}
	}
	return sched, nil
}

// ApplyScheduler writes the full eight-slot schedule. preset should be
// retryclient.CriticalPreset when starting/preempting a rule (§4.6 step 8.2)
// and retryclient.ClearPreset when clearing (§4.6 step 9.1). metered must be
// true when applying a newly triggered rule and false for system-originated
// clears (automation disabled, flag-based clear, preempt clear — §4.6
// counter discipline).
func (c *Client) ApplyScheduler(ctx context.Context, creds Credentials, sched Scheduler, preset retryclient.Preset, metered bool) error {
	groups := make([]map[string]any, SlotCount)
	for i, s := range sched.Slots {
		startHH, startMM := splitHHMM(s.StartHHMM)
		endHH, endMM := splitHHMM(s.EndHHMM)
		groups[i] = map[string]any{
			"enable":      s.Enable,
			"startHour":   startHH,
			"startMinute": startMM,
			"endHour":     endHH,
			"endMinute":   endMM,
			"workMode":    string(s.WorkMode),
			"fdpwr":       s.DischargePower,
			"fdsoc":       s.TargetMinSoC,
			"maxsoc":      s.MaxSoC,
		}
	}
	return c.do(ctx, creds, retryclient.CallOpts{Provider: providerName, Operation: "applyScheduler", Metered: metered, Preset: preset},
		"/op/v0/device/scheduler/set", map[string]any{"sn": creds.DeviceSerial, "groups": groups}, nil)
}

// SetFlag toggles the scheduler's global enable flag.
func (c *Client) SetFlag(ctx context.Context, creds Credentials, enable bool, metered bool) error {
	return c.do(ctx, creds, retryclient.CallOpts{Provider: providerName, Operation: "setFlag", Metered: metered, Preset: retryclient.DefaultPreset},
		"/op/v0/device/scheduler/enable", map[string]any{"sn": creds.DeviceSerial, "enable": enable}, nil)
}

// SetExportLimit applies (or restores) the curtailment export cap, in watts.
// This is the only write C7 (curtailment) performs on the device.
func (c *Client) SetExportLimit(ctx context.Context, creds Credentials, watts float64) error {
	return c.do(ctx, creds, retryclient.CallOpts{Provider: providerName, Operation: "setExportLimit", Metered: true, Preset: retryclient.ClearPreset},
		"/op/v0/device/setting/exportLimit", map[string]any{"sn": creds.DeviceSerial, "exportLimit": watts}, nil)
}

func splitHHMM(hhmm string) (int, int) {
	if len(hhmm) != 5 {
		return 0, 0
	}
	var h, m int
	_, _ = fmt.Sscanf(hhmm, "%02d:%02d", &h, &m)
	return h, m
}
