// Package rule defines the user-authored automation rule: its conditions,
// its action, and the scheduling metadata (priority, cooldown) the
// automation cycle engine uses to decide transitions.
package rule

import (
	"time"

	"github.com/google/uuid"
)

// WorkMode is an inverter operating mode an action can request.
type WorkMode string

const (
	WorkModeSelfUse        WorkMode = "SelfUse"
	WorkModeForceDischarge WorkMode = "ForceDischarge"
	WorkModeForceCharge    WorkMode = "ForceCharge"
	WorkModeBackup         WorkMode = "Backup"
)

// Operator is a numeric comparison operator used by conditions.
type Operator string

const (
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpEqual          Operator = "="
	OpGreaterOrEqual Operator = ">="
	OpGreater        Operator = ">"
)

// Compare applies the operator to (actual, target).
func (op Operator) Compare(actual, target float64) bool {
	switch op {
	case OpLess:
		return actual < target
	case OpLessOrEqual:
		return actual <= target
	case OpEqual:
		return actual == target
	case OpGreaterOrEqual:
		return actual >= target
	case OpGreater:
		return actual > target
	default:
		return false
	}
}

// PriceChannel selects which price series a condition reads.
type PriceChannel string

const (
	ChannelFeedIn PriceChannel = "feedIn"
	ChannelBuy    PriceChannel = "buy"
)

// PriceCondition matches the current or forecast feed-in/buy price.
type PriceCondition struct {
	Enabled  bool     `json:"enabled"`
	Operator Operator `json:"operator"`
	Value    float64  `json:"value"`
}

// ForecastCondition matches a forecast price at a horizon.
type ForecastCondition struct {
	Enabled        bool         `json:"enabled"`
	Channel        PriceChannel `json:"channel"`
	HorizonMinutes int          `json:"horizonMinutes"` // one of 15, 30, 60
	Operator       Operator     `json:"operator"`
	Value          float64      `json:"value"`
}

// NumericCondition matches a single scalar signal (soc, temps).
type NumericCondition struct {
	Enabled  bool     `json:"enabled"`
	Operator Operator `json:"operator"`
	Value    float64  `json:"value"`
}

// WeatherCondition matches an aggregate weather signal over the rule's
// action duration, rounded up to whole hours (min 1, max 12 — §4.4).
type WeatherCondition struct {
	Enabled  bool     `json:"enabled"`
	Operator Operator `json:"operator"`
	Value    float64  `json:"value"`
}

// TimeCondition matches a wall-clock window in the tenant's timezone, with
// wrap-across-midnight permitted when End < Start.
type TimeCondition struct {
	Enabled bool      `json:"enabled"`
	Start   TimeOfDay `json:"start"`
	End     TimeOfDay `json:"end"`
}

// TimeOfDay is a HH:MM wall-clock time, no timezone attached.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// Contains reports whether t falls within [Start, End), wrapping over
// midnight when End <= Start.
func (c TimeCondition) Contains(t time.Time) bool {
	cur := t.Hour()*60 + t.Minute()
	start := c.Start.Hour*60 + c.Start.Minute
	end := c.End.Hour*60 + c.End.Minute
	if end <= start {
		return cur >= start || cur < end
	}
	return cur >= start && cur < end
}

// Conditions is the set of independently-enabled predicates a rule tests.
type Conditions struct {
	FeedInPrice    PriceCondition    `json:"feedInPrice"`
	BuyPrice       PriceCondition    `json:"buyPrice"`
	ForecastPrice  ForecastCondition `json:"forecastPrice"`
	SoC            NumericCondition  `json:"soc"`
	BatteryTemp    NumericCondition  `json:"batteryTemp"`
	AmbientTemp    NumericCondition  `json:"ambientTemp"`
	InverterTemp   NumericCondition  `json:"inverterTemp"`
	SolarRadiation WeatherCondition  `json:"solarRadiation"`
	CloudCover     WeatherCondition  `json:"cloudCover"`
	UVIndex        WeatherCondition  `json:"uvIndex"`
	Time           TimeCondition     `json:"time"`
}

// Action is what a rule instructs the inverter to do while active.
type Action struct {
	WorkMode        WorkMode `json:"workMode"`
	DurationMinutes int      `json:"durationMinutes"`
	DischargePower  int      `json:"dischargePower"` // watts
	TargetMinSoC    int      `json:"targetMinSoc"`   // percent
	MaxSoC          int      `json:"maxSoc"`         // percent
}

// Rule is a single user-authored automation rule.
type Rule struct {
	ID                       uuid.UUID  `json:"id"`
	Name                     string     `json:"name"`
	Priority                 int        `json:"priority"` // 1 is highest
	Enabled                  bool       `json:"enabled"`
	CooldownMinutes          int        `json:"cooldownMinutes"`
	Conditions               Conditions `json:"conditions"`
	Action                   Action     `json:"action"`
	LastTriggered            *time.Time `json:"lastTriggered,omitempty"`
	ClearSegmentsOnNextCycle bool       `json:"clearSegmentsOnNextCycle,omitempty"`
}

// CooldownExpired reports whether the rule may trigger again at now.
func (r Rule) CooldownExpired(now time.Time) bool {
	if r.LastTriggered == nil {
		return true
	}
	return now.Sub(*r.LastTriggered) >= time.Duration(r.CooldownMinutes)*time.Minute
}

// ByPriority sorts rules ascending by priority (1 = most urgent first),
// breaking ties by rule ID for determinism (§4.6 step 6).
type ByPriority []Rule

func (b ByPriority) Len() int      { return len(b) }
func (b ByPriority) Swap(i, j int) { b[i], b[j] = b[j], b[i] }
func (b ByPriority) Less(i, j int) bool {
	if b[i].Priority != b[j].Priority {
		return b[i].Priority < b[j].Priority
	}
	return b[i].ID.String() < b[j].ID.String()
}
