package scaling

import (
	"errors"

	"github.com/go-logr/logr"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/openshift-kni/devfreq-idler/internal/devfreq"
	"github.com/openshift-kni/devfreq-idler/internal/idler"
)

type DeviceScalingUpdater interface {
	Update(opts *DeviceScalingOpts)
	Release(opts *DeviceScalingOpts)
}

type deviceScalingUpdaterImpl struct {
	advisor  *idler.Advisor
	config   *idler.Config
	suspend  SuspendSource
	recorder DecisionRecorder
	// state is owned by the single worker driving this updater
	state   idler.State
	applied *clamp
	logger  logr.Logger
}

func NewDeviceScalingUpdater(deps ScalingDeps) DeviceScalingUpdater {
	recorder := deps.Recorder
	if recorder == nil {
		recorder = noopRecorder{}
	}

	updater := &deviceScalingUpdaterImpl{
		advisor:  deps.Advisor,
		config:   deps.Config,
		suspend:  deps.Suspend,
		recorder: recorder,
		logger:   ctrl.Log.WithName("DeviceScalingUpdater"),
	}

	return updater
}

// Update samples the device, asks the advisor for a decision and narrows or
// widens the device's frequency clamp accordingly. Read failures skip the
// sample, the kernel governor keeps running within the last clamp.
func (u *deviceScalingUpdaterImpl) Update(opts *DeviceScalingOpts) {
	device := opts.Device
	name := device.Name()

	table, err := device.FrequencyTable()
	if err != nil {
		u.logger.Error(err, "failed to read frequency table", "device", name)
		u.recorder.RecordSkipped(name)
		return
	}
	currentFrequency, err := device.CurrentFrequency()
	if err != nil {
		u.logger.Error(err, "failed to read current frequency", "device", name)
		u.recorder.RecordSkipped(name)
		return
	}
	sample, err := device.LoadSample()
	if errors.Is(err, devfreq.ErrStaleSample) || errors.Is(err, devfreq.ErrSampleNotReady) {
		u.logger.V(6).Info("no new load sample", "device", name, "reason", err.Error())
		u.recorder.RecordSkipped(name)
		return
	}
	if err != nil {
		u.logger.Error(err, "failed to read load sample", "device", name)
		u.recorder.RecordSkipped(name)
		return
	}

	decision := u.advisor.Decide(
		sample,
		u.suspend.Suspended(),
		currentFrequency,
		table,
		u.config.Snapshot(),
		&u.state,
	)
	u.recorder.RecordDecision(name, decision, u.state.IdleStreak(), currentFrequency)

	target, ok := clampFor(decision, table)
	if !ok {
		return
	}
	u.applyClamp(opts, target, "decision", string(decision.Reason),
		"busy", sample.BusyTime, "total", sample.TotalTime, "cur_freq", currentFrequency)
}

// Release hands the full frequency range back to the kernel governor.
func (u *deviceScalingUpdaterImpl) Release(opts *DeviceScalingOpts) {
	table, err := opts.Device.FrequencyTable()
	if err != nil {
		u.logger.Error(err, "failed to read frequency table", "device", opts.Device.Name())
		return
	}
	u.applied = nil
	u.applyClamp(opts, clamp{min: table.Lowest(), max: table.Highest()}, "decision", "release")
}

func (u *deviceScalingUpdaterImpl) applyClamp(opts *DeviceScalingOpts, target clamp, keysAndValues ...any) {
	if u.applied != nil && *u.applied == target {
		return
	}

	name := opts.Device.Name()
	if err := opts.Device.SetClamp(target.min, target.max); err != nil {
		u.logger.Error(err, "failed to set frequency clamp", "device", name, "min_freq", target.min, "max_freq", target.max)
		u.applied = nil
		return
	}
	u.applied = &target

	u.logger.V(6).Info("set frequency clamp",
		append([]any{"device", name, "min_freq", target.min, "max_freq", target.max}, keysAndValues...)...,
	)
}
