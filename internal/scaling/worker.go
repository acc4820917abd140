package scaling

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	ctrl "sigs.k8s.io/controller-runtime"
)

var (
	testHookStopLoop func() bool
)

type DeviceScalingWorker interface {
	UpdateOpts(opts *DeviceScalingOpts)
	Stop()
}

type deviceScalingWorkerImpl struct {
	device     string
	opts       atomic.Pointer[DeviceScalingOpts]
	cancelFunc func()
	waitGroup  sync.WaitGroup
	updater    DeviceScalingUpdater
	logger     logr.Logger
}

func NewDeviceScalingWorker(
	device string,
	deps ScalingDeps,
	opts *DeviceScalingOpts,
) DeviceScalingWorker {
	ctx, cancelFunc := context.WithCancel(context.Background())

	worker := &deviceScalingWorkerImpl{
		device:     device,
		cancelFunc: cancelFunc,
		waitGroup:  sync.WaitGroup{},
		logger:     ctrl.Log.WithName("DeviceScalingWorker").WithValues("device", device),
	}

	worker.opts.Store(opts)
	worker.updater = NewDeviceScalingUpdater(deps)
	worker.waitGroup.Add(1)

	go worker.runLoop(ctx)

	return worker
}

func (w *deviceScalingWorkerImpl) UpdateOpts(opts *DeviceScalingOpts) {
	w.opts.Store(opts)
}

func (w *deviceScalingWorkerImpl) Stop() {
	w.cancelFunc()
	w.waitGroup.Wait()
}

// runLoop samples the device every sample period until stopped, then
// releases the device's clamp.
func (w *deviceScalingWorkerImpl) runLoop(ctx context.Context) {
	defer w.waitGroup.Done()

	for {
		if testHookStopLoop != nil {
			if testHookStopLoop() {
				return
			}
		}

		opts := w.opts.Load()
		select {
		case <-ctx.Done():
			w.logger.V(5).Info("releasing frequency clamp")
			w.updater.Release(opts)
			return
		case <-time.After(samplePeriod(opts)):
			w.updater.Update(opts)
		}
	}
}

func samplePeriod(opts *DeviceScalingOpts) time.Duration {
	if opts.SamplePeriod <= 0 {
		return DefaultSamplePeriod
	}
	return opts.SamplePeriod
}
