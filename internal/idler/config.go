package idler

import (
	"sync/atomic"
	"time"
)

// Default tunables. The workload threshold is expressed as busy time per
// sample; 5ms matches a 5000 load unit threshold with microsecond samples.
const (
	DefaultIdleWorkloadThreshold = 5 * time.Millisecond
	DefaultIdleWaitDuration      = 500 * time.Millisecond
	DefaultIdleWaitEvents        = 25
	DefaultDownDifferentialPct   = 20
)

// Settings is a plain copy of the tunables used for a single decision.
type Settings struct {
	// Busy time below this marks a sample as idle.
	IdleWorkloadThreshold time.Duration
	// Sustained idle time before the floor is forced.
	IdleWaitDuration time.Duration
	// Consecutive idle samples before idleness is confirmed.
	IdleWaitEvents uint32
	// Busy/total percentage below which a sample counts as low utilization.
	DownDifferentialPct uint32
	Active              bool
}

func DefaultSettings() Settings {
	return Settings{
		IdleWorkloadThreshold: DefaultIdleWorkloadThreshold,
		IdleWaitDuration:      DefaultIdleWaitDuration,
		IdleWaitEvents:        DefaultIdleWaitEvents,
		DownDifferentialPct:   DefaultDownDifferentialPct,
		Active:                true,
	}
}

// Config holds the runtime tunables shared by all devices. Every field is
// stored separately, so readers may observe a mix of old and new values
// while an update is in flight, but never a torn value.
type Config struct {
	idleWorkloadThreshold atomic.Int64
	idleWaitDuration      atomic.Int64
	idleWaitEvents        atomic.Uint32
	downDifferentialPct   atomic.Uint32
	active                atomic.Bool
}

func NewConfig(settings Settings) *Config {
	c := &Config{}
	c.Apply(settings)
	return c
}

func (c *Config) SetIdleWorkloadThreshold(threshold time.Duration) {
	c.idleWorkloadThreshold.Store(int64(threshold))
}

func (c *Config) SetIdleWaitDuration(wait time.Duration) {
	c.idleWaitDuration.Store(int64(wait))
}

func (c *Config) SetIdleWaitEvents(events uint32) {
	c.idleWaitEvents.Store(events)
}

func (c *Config) SetDownDifferentialPct(pct uint32) {
	c.downDifferentialPct.Store(pct)
}

func (c *Config) SetActive(active bool) {
	c.active.Store(active)
}

// Apply stores every field of settings, one atomic write per field.
func (c *Config) Apply(settings Settings) {
	c.SetIdleWorkloadThreshold(settings.IdleWorkloadThreshold)
	c.SetIdleWaitDuration(settings.IdleWaitDuration)
	c.SetIdleWaitEvents(settings.IdleWaitEvents)
	c.SetDownDifferentialPct(settings.DownDifferentialPct)
	c.SetActive(settings.Active)
}

// Snapshot reads the current tunables.
func (c *Config) Snapshot() Settings {
	return Settings{
		IdleWorkloadThreshold: time.Duration(c.idleWorkloadThreshold.Load()),
		IdleWaitDuration:      time.Duration(c.idleWaitDuration.Load()),
		IdleWaitEvents:        c.idleWaitEvents.Load(),
		DownDifferentialPct:   c.downDifferentialPct.Load(),
		Active:                c.active.Load(),
	}
}
