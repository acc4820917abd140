package monitoring

import (
	"golang.org/x/exp/constraints"

	"github.com/go-logr/logr"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/openshift-kni/devfreq-idler/internal/idler"
)

// Helper constants for prom Collectors
const (
	promNamespace string = "devfreq_idler"

	LogTopName      string = "monitoring"
	configSubsystem string = "config"

	deviceLabel  string = "device"
	outcomeLabel string = "outcome"

	outcomeSkipped string = "skipped"
)

type collectorImpl struct {
	collectFunc  func(ch chan<- prom.Metric)
	describeFunc func(ch chan<- *prom.Desc)
}

func (c collectorImpl) Collect(ch chan<- prom.Metric) {
	c.collectFunc(ch)
}

func (c collectorImpl) Describe(ch chan<- *prom.Desc) {
	c.describeFunc(ch)
}

type number interface {
	constraints.Integer | constraints.Float
}

// newGaugeCollector is generic factory of prometheus Collectors for single
// values read at scrape time.
func newGaugeCollector[T number](metricName, metricDesc string, readFunc func() T, log logr.Logger) prom.Collector {
	desc := prom.NewDesc(metricName, metricDesc, nil, nil)
	log.V(4).Info("New gauge prometheus Collector created", "metric", metricName)

	return collectorImpl{
		describeFunc: func(ch chan<- *prom.Desc) {
			ch <- desc
		},
		collectFunc: func(ch chan<- prom.Metric) {
			ch <- prom.MustNewConstMetric(desc, prom.GaugeValue, float64(readFunc()))
		},
	}
}

func boolToNumber(value bool) uint8 {
	if value {
		return 1
	}
	return 0
}

// NewSuspendCollector exposes the platform suspend state.
func NewSuspendCollector(suspended func() bool, log logr.Logger) prom.Collector {
	return newGaugeCollector(
		prom.BuildFQName(promNamespace, "", "suspended"),
		"1 while the display is off and devices are forced to their lowest frequency",
		func() uint8 { return boolToNumber(suspended()) },
		log,
	)
}

// NewConfigCollectors expose the tunables currently in effect.
func NewConfigCollectors(cfg *idler.Config, log logr.Logger) []prom.Collector {
	return []prom.Collector{
		newGaugeCollector(
			prom.BuildFQName(promNamespace, configSubsystem, "idle_workload_threshold_seconds"),
			"busy time per sample below which the sample is considered idle",
			func() float64 { return cfg.Snapshot().IdleWorkloadThreshold.Seconds() },
			log,
		),
		newGaugeCollector(
			prom.BuildFQName(promNamespace, configSubsystem, "idle_wait_seconds"),
			"sustained idle time before the lowest frequency is forced",
			func() float64 { return cfg.Snapshot().IdleWaitDuration.Seconds() },
			log,
		),
		newGaugeCollector(
			prom.BuildFQName(promNamespace, configSubsystem, "idle_wait_events"),
			"consecutive idle samples confirming idleness",
			func() uint32 { return cfg.Snapshot().IdleWaitEvents },
			log,
		),
		newGaugeCollector(
			prom.BuildFQName(promNamespace, configSubsystem, "down_differential_percent"),
			"busy ratio below which a sample counts as low utilization",
			func() uint32 { return cfg.Snapshot().DownDifferentialPct },
			log,
		),
		newGaugeCollector(
			prom.BuildFQName(promNamespace, configSubsystem, "active"),
			"1 while the idler overrides the governor",
			func() uint8 { return boolToNumber(cfg.Snapshot().Active) },
			log,
		),
	}
}
