package inverterclient

import "github.com/solarctl/solarctl/pkg/rule"

// SlotCount is the number of time-window slots the device scheduler exposes.
const SlotCount = 8

// Slot is one of the device's eight time-window scheduler entries.
type Slot struct {
	Enable         bool          `json:"enable"`
	WorkMode       rule.WorkMode `json:"workMode,omitempty"`
	StartHHMM      string        `json:"startHHMM,omitempty"` // "HH:MM"
	EndHHMM        string        `json:"endHHMM,omitempty"`   // "HH:MM"
	DischargePower int           `json:"dischargePower,omitempty"` // fdPwr, watts
	TargetMinSoC   int           `json:"targetMinSoc,omitempty"`   // fdSoc, percent
	MaxSoC         int           `json:"maxSoc,omitempty"`         // maxSoc, percent
}

// Scheduler is the device's full eight-slot schedule plus the global enable
// flag read/written by GetScheduler/ApplyScheduler.
type Scheduler struct {
	Slots [SlotCount]Slot `json:"slots"`
	Flag  bool            `json:"flag"`
}

// ClearSlot zeroes slot i, leaving the others untouched.
func (s *Scheduler) ClearSlot(i int) {
	s.Slots[i] = Slot{}
}

// SetSlot writes a single active slot (index 0 is reserved for the
// automation engine's rule-driven schedule; other indices are left for
// manual/quick-control use — §4.2, §4.6).
func (s *Scheduler) SetSlot(i int, slot Slot) {
	s.Slots[i] = slot
}

// AutomationSlotIndex is the slot the cycle engine owns exclusively.
const AutomationSlotIndex = 0
