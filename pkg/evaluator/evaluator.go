// Package evaluator implements the pure rule-evaluation function (C5): given
// a rule's conditions and a signal snapshot, decide whether the rule's
// conditions are met, not met, or indeterminate for lack of data. It
// performs no I/O and has no dependency on the persistence or client
// layers.
package evaluator

import (
	"math"
	"time"

	"github.com/solarctl/solarctl/pkg/rule"
	"github.com/solarctl/solarctl/pkg/signal"
)

// Reason explains why a single condition did or did not match.
type Reason string

const (
	ReasonOK               Reason = "ok"
	ReasonNoData           Reason = "no_data"
	ReasonThresholdNotMet  Reason = "threshold_not_met"
	ReasonTimeOutOfWindow  Reason = "time_out_of_window"
)

// ConditionResult is the per-condition evaluation breakdown.
type ConditionResult struct {
	Name   string  `json:"name"`
	Met    bool    `json:"met"`
	Actual float64 `json:"actual,omitempty"`
	Target float64 `json:"target,omitempty"`
	Reason Reason  `json:"reason"`
}

// Outcome is the three-valued result of evaluating a rule's conditions.
// AllMet and Indeterminate are mutually exclusive; when Indeterminate is
// true, AllMet is meaningless and the cycle engine must not transition
// state (§4.5, §9 "exception-based control flow" redesign note).
type Outcome struct {
	AllMet        bool              `json:"allMet"`
	Indeterminate bool              `json:"indeterminate"`
	PerCondition  []ConditionResult `json:"perCondition,omitempty"`
}

// Evaluate applies conds against snap as observed at snap.NowLocal.
// durationMinutes is the rule action's duration, used to size the weather
// aggregation window (§4.4): rounded up to whole hours, clamped [1, 12].
func Evaluate(conds rule.Conditions, snap signal.Snapshot, durationMinutes int) Outcome {
	var results []ConditionResult
	allMet := true
	anyNoData := false

	add := func(r ConditionResult) {
		results = append(results, r)
		if r.Reason == ReasonNoData {
			anyNoData = true
		}
		if !r.Met {
			allMet = false
		}
	}

	if conds.FeedInPrice.Enabled {
		add(evalPrice("feedInPrice", conds.FeedInPrice, snap.CurrentFeedIn, snap.CurrentFeedInAvailable))
	}
	if conds.BuyPrice.Enabled {
		add(evalPrice("buyPrice", conds.BuyPrice, snap.CurrentBuy, snap.CurrentBuyAvailable))
	}
	if conds.ForecastPrice.Enabled {
		add(evalForecast(conds.ForecastPrice, snap))
	}
	if conds.SoC.Enabled {
		add(evalNumeric("soc", conds.SoC, snap.Telemetry.SoC, snap.TelemetryAvailable))
	}
	if conds.BatteryTemp.Enabled {
		add(evalNumeric("batteryTemp", conds.BatteryTemp, snap.Telemetry.BatteryTemp, snap.TelemetryAvailable))
	}
	if conds.AmbientTemp.Enabled {
		add(evalNumeric("ambientTemp", conds.AmbientTemp, snap.Telemetry.AmbientTemp, snap.TelemetryAvailable))
	}
	if conds.InverterTemp.Enabled {
		add(evalNumeric("inverterTemp", conds.InverterTemp, snap.Telemetry.InverterTemp, snap.TelemetryAvailable))
	}
	if conds.SolarRadiation.Enabled {
		add(evalWeatherAggregate("solarRadiation", conds.SolarRadiation, snap, durationMinutes))
	}
	if conds.CloudCover.Enabled {
		add(evalWeatherAggregate("cloudCover", conds.CloudCover, snap, durationMinutes))
	}
	if conds.UVIndex.Enabled {
		add(evalWeatherAggregate("uvIndex", conds.UVIndex, snap, durationMinutes))
	}
	if conds.Time.Enabled {
		add(evalTime(conds.Time, snap.NowLocal))
	}

	if anyNoData {
		return Outcome{Indeterminate: true, PerCondition: results}
	}
	return Outcome{AllMet: allMet, PerCondition: results}
}

func evalPrice(name string, c rule.PriceCondition, actual float64, available bool) ConditionResult {
	if !available || math.IsNaN(actual) {
		return ConditionResult{Name: name, Reason: ReasonNoData, Target: c.Value}
	}
	met := c.Operator.Compare(actual, c.Value)
	reason := ReasonOK
	if !met {
		reason = ReasonThresholdNotMet
	}
	return ConditionResult{Name: name, Met: met, Actual: actual, Target: c.Value, Reason: reason}
}

func evalForecast(c rule.ForecastCondition, snap signal.Snapshot) ConditionResult {
	name := "forecastPrice"
	horizon := clampHorizon(c.HorizonMinutes)
	var actual float64
	var ok bool
	if c.Channel == rule.ChannelFeedIn {
		actual, ok = snap.FeedInAtHorizon(horizon)
	} else {
		actual, ok = snap.BuyAtHorizon(horizon)
	}
	if !ok || math.IsNaN(actual) {
		return ConditionResult{Name: name, Reason: ReasonNoData, Target: c.Value}
	}
	met := c.Operator.Compare(actual, c.Value)
	reason := ReasonOK
	if !met {
		reason = ReasonThresholdNotMet
	}
	return ConditionResult{Name: name, Met: met, Actual: actual, Target: c.Value, Reason: reason}
}

func evalNumeric(name string, c rule.NumericCondition, actual float64, available bool) ConditionResult {
	if !available || math.IsNaN(actual) {
		return ConditionResult{Name: name, Reason: ReasonNoData, Target: c.Value}
	}
	met := c.Operator.Compare(actual, c.Value)
	reason := ReasonOK
	if !met {
		reason = ReasonThresholdNotMet
	}
	return ConditionResult{Name: name, Met: met, Actual: actual, Target: c.Value, Reason: reason}
}

func evalWeatherAggregate(name string, c rule.WeatherCondition, snap signal.Snapshot, durationMinutes int) ConditionResult {
	hours := aggregationHours(durationMinutes)
	sum, ok := snap.WeatherSumOverHours(name, hours)
	if !ok || math.IsNaN(sum) {
		return ConditionResult{Name: name, Reason: ReasonNoData, Target: c.Value}
	}
	met := c.Operator.Compare(sum, c.Value)
	reason := ReasonOK
	if !met {
		reason = ReasonThresholdNotMet
	}
	return ConditionResult{Name: name, Met: met, Actual: sum, Target: c.Value, Reason: reason}
}

func evalTime(c rule.TimeCondition, now time.Time) ConditionResult {
	if c.Contains(now) {
		return ConditionResult{Name: "time", Met: true, Reason: ReasonOK}
	}
	return ConditionResult{Name: "time", Met: false, Reason: ReasonTimeOutOfWindow}
}

// clampHorizon maps a condition's horizon in minutes to a duration,
// defaulting unknown values to the nearest recognised horizon.
func clampHorizon(minutes int) time.Duration {
	switch minutes {
	case 15, 30, 60:
		return time.Duration(minutes) * time.Minute
	default:
		return 30 * time.Minute
	}
}

// aggregationHours rounds durationMinutes up to whole hours, clamped to
// [1, 12] per §4.4.
func aggregationHours(durationMinutes int) int {
	hours := (durationMinutes + 59) / 60
	if hours < 1 {
		hours = 1
	}
	if hours > 12 {
		hours = 12
	}
	return hours
}
