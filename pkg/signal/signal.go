// Package signal defines the snapshot of observed data the rule evaluator
// (pkg/evaluator) consumes each cycle. The cache layer (pkg/cache) is
// responsible for producing a populated Snapshot from the inverter, price,
// and weather clients.
package signal

import "time"

// Telemetry is the live inverter telemetry read every cycle.
type Telemetry struct {
	SoC            float64 // percent
	BatteryTemp    float64 // celsius
	AmbientTemp    float64 // celsius
	InverterTemp   float64 // celsius
	PVPower        float64 // watts
	LoadPower      float64 // watts
	GridImport     float64 // watts
	FeedIn         float64 // watts
	CurrentExportLimit float64 // watts
}

// PriceInterval is a single priced interval for one channel.
type PriceInterval struct {
	StartTime   time.Time
	EndTime     time.Time
	ChannelType string // "general" (buy) or "feedIn"
	PerKWh      float64
	IsForecast  bool
}

// WeatherHour is one hour of the weather forecast sequence.
type WeatherHour struct {
	SolarRadiation float64 // W/m^2
	CloudCover     float64 // percent
	UVIndex        float64
	Temperature    float64 // celsius
}

// Snapshot is everything the evaluator needs for one cycle. Fields are left
// at their zero value (with Available=false where applicable) when a signal
// could not be fetched; the evaluator must treat that as no_data, never as a
// false condition.
type Snapshot struct {
	NowLocal time.Time

	Telemetry          Telemetry
	TelemetryAvailable bool

	// CurrentBuy and CurrentFeedIn are the canonicalised (positive-earning
	// for feed-in) prices for the interval containing NowLocal.
	CurrentBuy           float64
	CurrentBuyAvailable  bool
	CurrentFeedIn        float64
	CurrentFeedInAvailable bool

	// Forecast intervals, already canonicalised, for both channels. Callers
	// look up the interval covering now+horizon.
	ForecastBuy    []PriceInterval
	ForecastFeedIn []PriceInterval

	// Weather is the hourly sequence starting at local midnight of the
	// current day; the evaluator selects WeatherHour[now.Hour()].
	Weather          []WeatherHour
	WeatherAvailable bool
}

// FeedInAtHorizon returns the canonicalised feed-in price for the interval
// covering now+horizon, and whether one was found.
func (s Snapshot) FeedInAtHorizon(horizon time.Duration) (float64, bool) {
	return priceAtHorizon(s.ForecastFeedIn, s.NowLocal.Add(horizon))
}

// BuyAtHorizon returns the canonicalised buy price for the interval covering
// now+horizon, and whether one was found.
func (s Snapshot) BuyAtHorizon(horizon time.Duration) (float64, bool) {
	return priceAtHorizon(s.ForecastBuy, s.NowLocal.Add(horizon))
}

func priceAtHorizon(intervals []PriceInterval, at time.Time) (float64, bool) {
	for _, iv := range intervals {
		if !at.Before(iv.StartTime) && at.Before(iv.EndTime) {
			return iv.PerKWh, true
		}
	}
	return 0, false
}

// WeatherSumOverHours sums solar radiation / cloud cover / uv index over the
// next n hours starting at the hour matching NowLocal, for rules whose
// horizon is expressed as a rounded-up hour count (§4.4 aggregate signal).
func (s Snapshot) WeatherSumOverHours(field string, hours int) (float64, bool) {
	if !s.WeatherAvailable || hours <= 0 {
		return 0, false
	}
	startHour := s.NowLocal.Hour()
	var sum float64
	count := 0
	for h := 0; h < hours; h++ {
		idx := startHour + h
		if idx >= len(s.Weather) {
			break
		}
		wh := s.Weather[idx]
		switch field {
		case "solarRadiation":
			sum += wh.SolarRadiation
		case "cloudCover":
			sum += wh.CloudCover
		case "uvIndex":
			sum += wh.UVIndex
		default:
			return 0, false
		}
		count++
	}
	if count == 0 {
		return 0, false
	}
	return sum, true
}
