package scaling

import (
	"context"
	"os"
	"sync"

	"github.com/go-logr/logr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/manager"
)

// Func definitions for unit testing
var (
	newDeviceScalingWorkerFunc = NewDeviceScalingWorker
)

type DeviceScalingManager interface {
	manager.Runnable
	ManageDeviceScaling(optsList []DeviceScalingOpts)
}

type deviceScalingManagerImpl struct {
	deps    ScalingDeps
	workers sync.Map
	logger  logr.Logger
}

func NewDeviceScalingManager(deps ScalingDeps) DeviceScalingManager {
	nodeName := os.Getenv("NODE_NAME")

	mgr := &deviceScalingManagerImpl{
		deps:   deps,
		logger: ctrl.Log.WithName("DeviceScalingManager").WithName(nodeName),
	}

	return mgr
}

func (s *deviceScalingManagerImpl) Start(ctx context.Context) error {
	<-ctx.Done()
	s.stop()
	return nil
}

func (s *deviceScalingManagerImpl) stop() {
	s.logger.V(5).Info("stopping all workers")

	for _, device := range s.getManagedDevices() {
		worker, found := s.workers.LoadAndDelete(device)
		if found {
			worker := worker.(DeviceScalingWorker)
			worker.Stop()
			s.logger.V(5).Info("worker stopped successfully", "device", device)
		}
	}

	s.logger.V(5).Info("successfully stopped all")
}

// ManageDeviceScaling reconciles the set of per-device workers with
// optsList: new devices get a worker, known devices get their options
// updated and devices no longer listed have their worker stopped.
func (s *deviceScalingManagerImpl) ManageDeviceScaling(optsList []DeviceScalingOpts) {
	incomingDevices := map[string]struct{}{}
	currentDevices := s.getManagedDevices()

	for _, opts := range optsList {
		name := opts.Device.Name()
		incomingDevices[name] = struct{}{}

		worker, found := s.getDeviceScalingWorker(name)
		if !found {
			s.logger.V(5).Info("creating worker", "device", name)

			s.workers.Store(name, newDeviceScalingWorkerFunc(name, s.deps, &opts))
		} else {
			worker.UpdateOpts(&opts)
		}
	}

	for _, device := range currentDevices {
		if _, contains := incomingDevices[device]; !contains {
			s.logger.V(5).Info("stopping worker", "device", device)

			worker, found := s.workers.LoadAndDelete(device)
			if !found {
				s.logger.V(5).Info("worker already stopped", "device", device)
			} else {
				worker := worker.(DeviceScalingWorker)
				worker.Stop()
				s.logger.V(5).Info("worker stopped successfully", "device", device)
			}
		}
	}
}

func (s *deviceScalingManagerImpl) getManagedDevices() []string {
	devices := make([]string, 0)
	s.workers.Range(func(key, value any) bool {
		devices = append(devices, key.(string))
		return true
	})

	return devices
}

func (s *deviceScalingManagerImpl) getDeviceScalingWorker(device string) (DeviceScalingWorker, bool) {
	if value, found := s.workers.Load(device); found {
		return value.(DeviceScalingWorker), true
	}

	return nil, false
}
