package main

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/openshift-kni/devfreq-idler/internal/devfreq"
	"github.com/openshift-kni/devfreq-idler/internal/scaling"
)

// gpuDeviceSuffix matches Adreno devfreq nodes, named kgsl-3d0 on older
// kernels and <addr>.qcom,kgsl-3d0 on newer ones.
const gpuDeviceSuffix = "kgsl-3d0"

// deviceFlags collects repeated --device name=busyPath values.
type deviceFlags map[string]string

func (d deviceFlags) String() string {
	pairs := make([]string, 0, len(d))
	for name, busyPath := range d {
		pairs = append(pairs, name+"="+busyPath)
	}
	slices.Sort(pairs)
	return strings.Join(pairs, ",")
}

func (d deviceFlags) Set(value string) error {
	name, busyPath, found := strings.Cut(value, "=")
	name, busyPath = strings.TrimSpace(name), strings.TrimSpace(busyPath)
	if !found || name == "" || busyPath == "" {
		return fmt.Errorf("expected <device>=<busy counter path>, got %q", value)
	}
	d[name] = busyPath
	return nil
}

// buildScalingOpts returns one option set per managed device. Without
// explicit devices the Adreno GPU is looked up in the devfreq class.
func buildScalingOpts(devices deviceFlags, classPath string, cumulative bool, samplePeriod time.Duration) ([]scaling.DeviceScalingOpts, error) {
	if samplePeriod <= 0 {
		return nil, fmt.Errorf("sample period must be positive, got %s", samplePeriod)
	}
	if len(devices) == 0 {
		names, err := devfreq.Discover(classPath)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			if strings.HasSuffix(name, gpuDeviceSuffix) {
				devices = deviceFlags{name: devfreq.DefaultBusyPath}
				break
			}
		}
		if len(devices) == 0 {
			return nil, fmt.Errorf("no %s devfreq device found in %s", gpuDeviceSuffix, classPath)
		}
	}

	names := make([]string, 0, len(devices))
	for name := range devices {
		names = append(names, name)
	}
	slices.Sort(names)

	optsList := make([]scaling.DeviceScalingOpts, 0, len(names))
	for _, name := range names {
		optsList = append(optsList, scaling.DeviceScalingOpts{
			Device: devfreq.NewDevice(devfreq.DeviceOpts{
				ClassPath:  classPath,
				Name:       name,
				BusyPath:   devices[name],
				Cumulative: cumulative,
			}),
			SamplePeriod: samplePeriod,
		})
	}
	return optsList, nil
}
