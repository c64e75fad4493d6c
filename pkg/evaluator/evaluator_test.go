package evaluator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solarctl/solarctl/pkg/rule"
	"github.com/solarctl/solarctl/pkg/signal"
)

func TestEvaluate_FeedInSignConvention(t *testing.T) {
	// Property 10: provider perKwh=-9.0 on a feedIn interval canonicalises
	// to +9.0; feedInPrice >= 9 meets, feedInPrice >= 10 does not.
	snap := signal.Snapshot{
		NowLocal:               time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		CurrentFeedIn:          9.0,
		CurrentFeedInAvailable: true,
	}

	met := Evaluate(rule.Conditions{
		FeedInPrice: rule.PriceCondition{Enabled: true, Operator: rule.OpGreaterOrEqual, Value: 9},
	}, snap, 30)
	require.False(t, met.Indeterminate)
	assert.True(t, met.AllMet)

	notMet := Evaluate(rule.Conditions{
		FeedInPrice: rule.PriceCondition{Enabled: true, Operator: rule.OpGreaterOrEqual, Value: 10},
	}, snap, 30)
	require.False(t, notMet.Indeterminate)
	assert.False(t, notMet.AllMet)
}

func TestEvaluate_NoDataIsIndeterminate(t *testing.T) {
	snap := signal.Snapshot{
		NowLocal:           time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		TelemetryAvailable: false,
	}

	out := Evaluate(rule.Conditions{
		SoC: rule.NumericCondition{Enabled: true, Operator: rule.OpGreaterOrEqual, Value: 80},
	}, snap, 30)

	assert.True(t, out.Indeterminate)
	require.Len(t, out.PerCondition, 1)
	assert.Equal(t, ReasonNoData, out.PerCondition[0].Reason)
}

func TestEvaluate_DisabledConditionAbsent(t *testing.T) {
	snap := signal.Snapshot{NowLocal: time.Now()}
	out := Evaluate(rule.Conditions{
		SoC: rule.NumericCondition{Enabled: false, Operator: rule.OpGreaterOrEqual, Value: 80},
	}, snap, 30)

	assert.False(t, out.Indeterminate)
	assert.True(t, out.AllMet)
	assert.Empty(t, out.PerCondition)
}

func TestEvaluate_TimeWrapsOverMidnight(t *testing.T) {
	cond := rule.TimeCondition{
		Enabled: true,
		Start:   rule.TimeOfDay{Hour: 22, Minute: 0},
		End:     rule.TimeOfDay{Hour: 6, Minute: 0},
	}

	inWindow := signal.Snapshot{NowLocal: time.Date(2026, 1, 1, 23, 30, 0, 0, time.UTC)}
	out := Evaluate(rule.Conditions{Time: cond}, inWindow, 30)
	assert.True(t, out.AllMet)

	outOfWindow := signal.Snapshot{NowLocal: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	out2 := Evaluate(rule.Conditions{Time: cond}, outOfWindow, 30)
	assert.False(t, out2.AllMet)
}

func TestEvaluate_WeatherAggregationHours(t *testing.T) {
	weather := make([]signal.WeatherHour, 24)
	for i := range weather {
		weather[i] = signal.WeatherHour{SolarRadiation: 100}
	}
	snap := signal.Snapshot{
		NowLocal:         time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
		Weather:          weather,
		WeatherAvailable: true,
	}

	// durationMinutes=90 rounds up to 2 hours -> sum = 200.
	out := Evaluate(rule.Conditions{
		SolarRadiation: rule.WeatherCondition{Enabled: true, Operator: rule.OpGreaterOrEqual, Value: 200},
	}, snap, 90)
	assert.True(t, out.AllMet)
	require.Len(t, out.PerCondition, 1)
	assert.Equal(t, 200.0, out.PerCondition[0].Actual)
}
