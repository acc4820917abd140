// Package idler biases an accelerator's devfreq governor toward its lowest
// frequency once the device has been idle for long enough, and stays out of
// the way under real load.
package idler

import (
	"time"

	"k8s.io/utils/clock"
	"k8s.io/utils/ptr"
)

// LoadSample is the busy and total time of one sampling interval.
type LoadSample struct {
	BusyTime  time.Duration
	TotalTime time.Duration
}

// FrequencyTable lists the supported frequencies in Hz, strictly ascending.
type FrequencyTable []uint64

func (t FrequencyTable) Lowest() uint64 {
	return t[0]
}

func (t FrequencyTable) SecondLowest() uint64 {
	return t[1]
}

func (t FrequencyTable) Highest() uint64 {
	return t[len(t)-1]
}

// Usable reports whether the table has enough entries to be acted upon.
func (t FrequencyTable) Usable() bool {
	return len(t) >= 2
}

// Reason tells which path of the algorithm produced a Decision.
type Reason string

const (
	ReasonInactive       Reason = "inactive"
	ReasonMalformedTable Reason = "malformed_table"
	ReasonAtFloor        Reason = "at_floor"
	ReasonIdleEvents     Reason = "idle_events"
	ReasonIdleTimeout    Reason = "idle_timeout"
	ReasonIdlePending    Reason = "idle_pending"
	ReasonSuspended      Reason = "suspended"
	ReasonBusy           Reason = "busy"
)

// Decision is the advisor's answer for one sample. When Final is set the
// caller must adopt Frequency, if any, and stop adjusting for this sample.
// Otherwise Frequency is only a hint.
type Decision struct {
	Frequency *uint64
	Final     bool
	Reason    Reason
}

// State is the idle tracking of a single device. It must not be shared
// between devices nor used by two callers at once.
type State struct {
	idleSince  time.Time
	idleStreak uint32
}

// IdleStreak returns the number of consecutive idle samples.
func (s *State) IdleStreak() uint32 {
	return s.idleStreak
}

// IdleSince returns the start of the current idle period, if any.
func (s *State) IdleSince() (time.Time, bool) {
	return s.idleSince, !s.idleSince.IsZero()
}

func (s *State) reset() {
	s.idleStreak = 0
	s.idleSince = time.Time{}
}

type Advisor struct {
	clock clock.PassiveClock
}

// NewAdvisor returns an Advisor reading time from clk, or from the
// monotonic system clock when clk is nil.
func NewAdvisor(clk clock.PassiveClock) *Advisor {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Advisor{clock: clk}
}

// Decide classifies the sample and returns whether the device frequency
// should be overridden. state is updated in place.
func (a *Advisor) Decide(
	sample LoadSample,
	suspended bool,
	currentFrequency uint64,
	table FrequencyTable,
	settings Settings,
	state *State,
) Decision {
	if !settings.Active {
		return Decision{Reason: ReasonInactive}
	}
	if !table.Usable() {
		return Decision{Reason: ReasonMalformedTable}
	}

	// a zero length interval carries no evidence of idleness
	idle := sample.TotalTime > 0 && sample.BusyTime < settings.IdleWorkloadThreshold

	switch {
	case idle:
		now := a.clock.Now()
		if state.idleSince.IsZero() {
			state.idleSince = now
		}
		state.idleStreak++

		if currentFrequency == table.Lowest() {
			return Decision{Frequency: ptr.To(table.Lowest()), Final: true, Reason: ReasonAtFloor}
		}
		lowUtilization := belowDownDifferential(sample, settings.DownDifferentialPct)
		if state.idleStreak >= settings.IdleWaitEvents && lowUtilization {
			// no frequency on this path, the caller keeps what it has
			return Decision{Final: true, Reason: ReasonIdleEvents}
		}
		if now.Sub(state.idleSince) >= settings.IdleWaitDuration && lowUtilization {
			return Decision{Frequency: ptr.To(table.Lowest()), Final: true, Reason: ReasonIdleTimeout}
		}
		return Decision{Reason: ReasonIdlePending}
	case suspended:
		return Decision{Frequency: ptr.To(table.Lowest()), Final: true, Reason: ReasonSuspended}
	default:
		state.reset()
		return Decision{Frequency: ptr.To(table.SecondLowest()), Reason: ReasonBusy}
	}
}

func belowDownDifferential(sample LoadSample, pct uint32) bool {
	return int64(sample.BusyTime)*100 < int64(sample.TotalTime)*int64(pct)
}
