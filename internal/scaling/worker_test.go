package scaling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/openshift-kni/devfreq-idler/internal/idler"
)

type workerMock struct {
	mock.Mock
	device string
	opts   *DeviceScalingOpts
}

func (w *workerMock) UpdateOpts(opts *DeviceScalingOpts) {
	w.Called(opts)
	w.opts = opts
}

func (w *workerMock) Stop() {
	w.Called()
}

func CreateMockWorker(device string, opts *DeviceScalingOpts) *workerMock {
	w := &workerMock{
		device: device,
		opts:   opts,
	}
	return w
}

func TestDeviceScalingWorker_UpdateOpts(t *testing.T) {
	expectedOpts := &DeviceScalingOpts{
		SamplePeriod: 10 * time.Millisecond,
	}
	wrk := &deviceScalingWorkerImpl{}

	wrk.UpdateOpts(expectedOpts)
	assert.Equal(t, expectedOpts, wrk.opts.Load())
}

func TestDeviceScalingWorker_Stop(t *testing.T) {
	cancelFuncCalled := false
	wrk := &deviceScalingWorkerImpl{
		waitGroup:  sync.WaitGroup{},
		cancelFunc: func() { cancelFuncCalled = true },
	}

	wrk.Stop()

	assert.True(t, cancelFuncCalled)
}

func TestDeviceScalingWorker_runLoop(t *testing.T) {
	loopCounter := 0
	t.Cleanup(func() {
		testHookStopLoop = nil
	})
	testHookStopLoop = func() bool {
		loopCounter++
		return loopCounter > 1
	}

	wrk := &deviceScalingWorkerImpl{
		waitGroup: sync.WaitGroup{},
	}

	opts := &DeviceScalingOpts{
		SamplePeriod: time.Millisecond,
	}
	wrk.opts.Store(opts)

	upd := &updaterMock{}
	upd.On("Update", opts).Return()
	wrk.updater = upd
	wrk.waitGroup.Add(1)

	wrk.runLoop(context.TODO())

	upd.AssertCalled(t, "Update", opts)
	upd.AssertNotCalled(t, "Release", opts)
	assert.Panics(t, wrk.waitGroup.Done)
}

func TestDeviceScalingWorker_runLoop_ZeroSamplePeriod(t *testing.T) {
	loopCounter := 0
	t.Cleanup(func() {
		testHookStopLoop = nil
	})
	testHookStopLoop = func() bool {
		loopCounter++
		return loopCounter > 2
	}

	wrk := &deviceScalingWorkerImpl{
		waitGroup: sync.WaitGroup{},
	}

	opts := &DeviceScalingOpts{}
	wrk.opts.Store(opts)

	upd := &updaterMock{}
	upd.On("Update", opts).Return()
	wrk.updater = upd
	wrk.waitGroup.Add(1)

	start := time.Now()
	wrk.runLoop(context.TODO())

	upd.AssertNumberOfCalls(t, "Update", 2)
	assert.GreaterOrEqual(t, time.Since(start), 2*DefaultSamplePeriod)
}

func TestDeviceScalingWorker_runLoop_ReleasesOnCancel(t *testing.T) {
	wrk := &deviceScalingWorkerImpl{
		waitGroup: sync.WaitGroup{},
	}

	opts := &DeviceScalingOpts{
		SamplePeriod: time.Hour,
	}
	wrk.opts.Store(opts)

	upd := &updaterMock{}
	upd.On("Release", opts).Return()
	wrk.updater = upd
	wrk.waitGroup.Add(1)

	ctx, cancel := context.WithCancel(context.TODO())
	cancel()
	wrk.runLoop(ctx)

	upd.AssertCalled(t, "Release", opts)
	upd.AssertNotCalled(t, "Update", opts)
}

func TestNewDeviceScalingWorker(t *testing.T) {
	dev := &deviceMock{name: "kgsl-3d0"}
	dev.On("FrequencyTable").Return(testTable, nil)
	dev.On("CurrentFrequency").Return(uint64(515000000), nil)
	dev.On("LoadSample").Return(idler.LoadSample{BusyTime: 40 * time.Millisecond, TotalTime: 50 * time.Millisecond}, nil)

	clamped := make(chan struct{}, 1)
	dev.On("SetClamp", uint64(342000000), uint64(600000000)).Return(nil).Run(func(mock.Arguments) {
		select {
		case clamped <- struct{}{}:
		default:
		}
	})
	dev.On("SetClamp", uint64(257000000), uint64(600000000)).Return(nil)

	wrk := NewDeviceScalingWorker("kgsl-3d0", ScalingDeps{
		Advisor: idler.NewAdvisor(nil),
		Config:  idler.NewConfig(idler.DefaultSettings()),
		Suspend: suspendMock(false),
	}, &DeviceScalingOpts{Device: dev, SamplePeriod: time.Millisecond})

	select {
	case <-clamped:
	case <-time.After(time.Second):
		t.Fatal("worker did not clamp the device")
	}
	wrk.Stop()

	dev.AssertCalled(t, "SetClamp", uint64(342000000), uint64(600000000))
	dev.AssertCalled(t, "SetClamp", uint64(257000000), uint64(600000000))
}
