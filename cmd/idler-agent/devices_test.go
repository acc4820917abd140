package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeviceFlags_Set(t *testing.T) {
	devices := deviceFlags{}

	assert.NoError(t, devices.Set("kgsl-3d0=/sys/class/kgsl/kgsl-3d0/gpubusy"))
	assert.NoError(t, devices.Set(" npu = /tmp/npubusy "))
	assert.Equal(t, deviceFlags{
		"kgsl-3d0": "/sys/class/kgsl/kgsl-3d0/gpubusy",
		"npu":      "/tmp/npubusy",
	}, devices)
	assert.Equal(t, "kgsl-3d0=/sys/class/kgsl/kgsl-3d0/gpubusy,npu=/tmp/npubusy", devices.String())

	assert.Error(t, devices.Set("kgsl-3d0"))
	assert.Error(t, devices.Set("=/tmp/busy"))
	assert.Error(t, devices.Set("kgsl-3d0="))
}

func TestBuildScalingOpts(t *testing.T) {
	classPath := t.TempDir()
	for _, name := range []string{"soc:qcom,cpubw", "5000000.qcom,kgsl-3d0"} {
		dir := filepath.Join(classPath, name)
		assert.NoError(t, os.MkdirAll(dir, os.ModePerm))
		assert.NoError(t, os.WriteFile(filepath.Join(dir, "available_frequencies"), []byte("1 2\n"), 0644))
	}

	optsList, err := buildScalingOpts(deviceFlags{}, classPath, false, 20*time.Millisecond)
	assert.NoError(t, err)
	assert.Len(t, optsList, 1)
	assert.Equal(t, "5000000.qcom,kgsl-3d0", optsList[0].Device.Name())
	assert.Equal(t, 20*time.Millisecond, optsList[0].SamplePeriod)

	optsList, err = buildScalingOpts(deviceFlags{"b": "/tmp/b", "a": "/tmp/a"}, classPath, true, time.Millisecond)
	assert.NoError(t, err)
	assert.Len(t, optsList, 2)
	assert.Equal(t, "a", optsList[0].Device.Name())
	assert.Equal(t, "b", optsList[1].Device.Name())

	_, err = buildScalingOpts(deviceFlags{}, t.TempDir(), false, time.Millisecond)
	assert.ErrorContains(t, err, "no kgsl-3d0 devfreq device found")
}

func TestBuildScalingOpts_InvalidSamplePeriod(t *testing.T) {
	for _, period := range []time.Duration{0, -50 * time.Millisecond} {
		optsList, err := buildScalingOpts(deviceFlags{"kgsl-3d0": "/tmp/gpubusy"}, t.TempDir(), false, period)
		assert.ErrorContains(t, err, "sample period must be positive")
		assert.Nil(t, optsList)
	}
}
