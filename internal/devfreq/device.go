package devfreq

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openshift-kni/devfreq-idler/internal/idler"
)

const (
	DefaultClassPath = "/sys/class/devfreq"
	DefaultBusyPath  = "/sys/class/kgsl/kgsl-3d0/gpubusy"

	availableFrequenciesFile = "available_frequencies"
	curFreqFile              = "cur_freq"
	minFreqFile              = "min_freq"
	maxFreqFile              = "max_freq"
)

var (
	ErrMalformedTable = errors.New("frequency table needs at least two entries")
	ErrInvalidSample  = errors.New("busy time exceeds total time")
	// ErrSampleNotReady is returned while cumulative counters have no
	// previous read to diff against, on the first read and after a reset.
	ErrSampleNotReady = errors.New("no previous counter read")
	// ErrStaleSample is returned when a windowed counter still reports the
	// window already returned by the previous read.
	ErrStaleSample = errors.New("load window unchanged since last read")
)

// Device is a devfreq device the idler can sample and clamp.
type Device interface {
	Name() string
	FrequencyTable() (idler.FrequencyTable, error)
	CurrentFrequency() (uint64, error)
	// LoadSample returns busy and total time of the last interval.
	LoadSample() (idler.LoadSample, error)
	// SetClamp restricts the governor to frequencies within [minFreq, maxFreq].
	SetClamp(minFreq, maxFreq uint64) error
}

type DeviceOpts struct {
	// ClassPath is the devfreq class directory, DefaultClassPath if empty.
	ClassPath string
	Name      string
	// BusyPath points to a "busy total" counter file in microseconds. By
	// default it reports the last completed window, as kgsl gpubusy does
	// (refreshed about once per second), and repeated windows are skipped.
	BusyPath string
	// Cumulative marks BusyPath counters as monotonically growing, in
	// which case samples are computed as the delta between reads.
	Cumulative bool
}

type sysfsDevice struct {
	name       string
	path       string
	busyPath   string
	cumulative bool

	mu       sync.Mutex
	lastBusy uint64
	lastTot  uint64
	primed   bool
}

func NewDevice(opts DeviceOpts) Device {
	classPath := opts.ClassPath
	if classPath == "" {
		classPath = DefaultClassPath
	}
	busyPath := opts.BusyPath
	if busyPath == "" {
		busyPath = DefaultBusyPath
	}

	return &sysfsDevice{
		name:       opts.Name,
		path:       filepath.Join(classPath, opts.Name),
		busyPath:   busyPath,
		cumulative: opts.Cumulative,
	}
}

// Discover lists the devfreq devices found under classPath.
func Discover(classPath string) ([]string, error) {
	if classPath == "" {
		classPath = DefaultClassPath
	}
	entries, err := os.ReadDir(classPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list devfreq devices in %s: %w", classPath, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if _, err := os.Stat(filepath.Join(classPath, entry.Name(), availableFrequenciesFile)); err != nil {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

func (d *sysfsDevice) Name() string {
	return d.name
}

// FrequencyTable returns the available frequencies sorted ascending with
// duplicates removed. Drivers list them in either order.
func (d *sysfsDevice) FrequencyTable() (idler.FrequencyTable, error) {
	raw, err := d.readAttr(availableFrequenciesFile)
	if err != nil {
		return nil, err
	}

	fields := strings.Fields(raw)
	table := make(idler.FrequencyTable, 0, len(fields))
	for _, field := range fields {
		freq, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse frequency %q of %s: %w", field, d.name, err)
		}
		table = append(table, freq)
	}
	slices.Sort(table)
	table = slices.Compact(table)

	if !table.Usable() {
		return nil, fmt.Errorf("%s: %w", d.name, ErrMalformedTable)
	}
	return table, nil
}

func (d *sysfsDevice) CurrentFrequency() (uint64, error) {
	return d.readFrequency(curFreqFile)
}

func (d *sysfsDevice) LoadSample() (idler.LoadSample, error) {
	raw, err := os.ReadFile(d.busyPath)
	if err != nil {
		return idler.LoadSample{}, fmt.Errorf("failed to read load of %s: %w", d.name, err)
	}

	fields := strings.Fields(string(raw))
	if len(fields) != 2 {
		return idler.LoadSample{}, fmt.Errorf("unexpected load format %q for %s", strings.TrimSpace(string(raw)), d.name)
	}
	busy, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return idler.LoadSample{}, fmt.Errorf("failed to parse busy time of %s: %w", d.name, err)
	}
	total, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return idler.LoadSample{}, fmt.Errorf("failed to parse total time of %s: %w", d.name, err)
	}

	if d.cumulative {
		busy, total, err = d.delta(busy, total)
	} else {
		err = d.fresh(busy, total)
	}
	if err != nil {
		return idler.LoadSample{}, fmt.Errorf("%s: %w", d.name, err)
	}
	if busy > total {
		return idler.LoadSample{}, fmt.Errorf("%s: %w", d.name, ErrInvalidSample)
	}

	return idler.LoadSample{
		BusyTime:  time.Duration(busy) * time.Microsecond,
		TotalTime: time.Duration(total) * time.Microsecond,
	}, nil
}

// delta converts cumulative counters into the interval since the last
// read. The first read and counter resets have no interval to report.
func (d *sysfsDevice) delta(busy, total uint64) (uint64, uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prevBusy, prevTotal, primed := d.lastBusy, d.lastTot, d.primed
	d.lastBusy, d.lastTot, d.primed = busy, total, true

	if !primed || busy < prevBusy || total < prevTotal {
		return 0, 0, ErrSampleNotReady
	}
	return busy - prevBusy, total - prevTotal, nil
}

// fresh rejects a windowed reading identical to the previous one.
func (d *sysfsDevice) fresh(busy, total uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	stale := d.primed && busy == d.lastBusy && total == d.lastTot
	d.lastBusy, d.lastTot, d.primed = busy, total, true

	if stale {
		return ErrStaleSample
	}
	return nil
}

func (d *sysfsDevice) SetClamp(minFreq, maxFreq uint64) error {
	if minFreq > maxFreq {
		return fmt.Errorf("invalid clamp for %s: min %d above max %d", d.name, minFreq, maxFreq)
	}

	currentMax, err := d.readFrequency(maxFreqFile)
	if err != nil {
		return err
	}

	// the kernel rejects a min above the current max, so raise max first
	if minFreq > currentMax {
		if err := d.writeFrequency(maxFreqFile, maxFreq); err != nil {
			return err
		}
		return d.writeFrequency(minFreqFile, minFreq)
	}
	if err := d.writeFrequency(minFreqFile, minFreq); err != nil {
		return err
	}
	return d.writeFrequency(maxFreqFile, maxFreq)
}

func (d *sysfsDevice) readAttr(attr string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(d.path, attr))
	if err != nil {
		return "", fmt.Errorf("failed to read %s of %s: %w", attr, d.name, err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func (d *sysfsDevice) readFrequency(attr string) (uint64, error) {
	raw, err := d.readAttr(attr)
	if err != nil {
		return 0, err
	}
	freq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to convert %s of %s to uint: %w", attr, d.name, err)
	}
	return freq, nil
}

func (d *sysfsDevice) writeFrequency(attr string, freq uint64) error {
	err := os.WriteFile(filepath.Join(d.path, attr), []byte(strconv.FormatUint(freq, 10)), 0644)
	if err != nil {
		return fmt.Errorf("failed to set %s of %s: %w", attr, d.name, err)
	}
	return nil
}
