package scaling

import (
	"time"

	"github.com/openshift-kni/devfreq-idler/internal/devfreq"
	"github.com/openshift-kni/devfreq-idler/internal/idler"
)

// DefaultSamplePeriod is used when DeviceScalingOpts.SamplePeriod is not
// positive.
const DefaultSamplePeriod = 50 * time.Millisecond

type DeviceScalingOpts struct {
	Device       devfreq.Device
	SamplePeriod time.Duration
}

// SuspendSource reports whether the platform is suspended at this instant.
type SuspendSource interface {
	Suspended() bool
}

// DecisionRecorder receives the outcome of every sample.
type DecisionRecorder interface {
	RecordDecision(device string, decision idler.Decision, idleStreak uint32, currentFrequency uint64)
	RecordSkipped(device string)
}

// ScalingDeps are shared by all workers. Only the idler.State is per device.
type ScalingDeps struct {
	Advisor  *idler.Advisor
	Config   *idler.Config
	Suspend  SuspendSource
	Recorder DecisionRecorder
}

type noopRecorder struct{}

func (noopRecorder) RecordDecision(string, idler.Decision, uint32, uint64) {}

func (noopRecorder) RecordSkipped(string) {}

// clamp is the frequency window handed to the kernel governor.
type clamp struct {
	min uint64
	max uint64
}

// clampFor translates a decision into a clamp. A final decision without a
// frequency keeps whatever clamp is in place.
func clampFor(decision idler.Decision, table idler.FrequencyTable) (clamp, bool) {
	if !table.Usable() {
		return clamp{}, false
	}

	switch {
	case decision.Final && decision.Frequency != nil:
		return clamp{min: *decision.Frequency, max: *decision.Frequency}, true
	case decision.Final:
		return clamp{}, false
	case decision.Frequency != nil:
		return clamp{min: *decision.Frequency, max: table.Highest()}, true
	default:
		return clamp{min: table.Lowest(), max: table.Highest()}, true
	}
}
