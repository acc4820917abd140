package monitoring

import (
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/openshift-kni/devfreq-idler/internal/idler"
)

func setupTestLogger() {
	log.SetLogger(zap.New(zap.UseDevMode(true), func(opts *zap.Options) {
		opts.TimeEncoder = zapcore.ISO8601TimeEncoder
	}))
}

func TestNewSuspendCollector(t *testing.T) {
	setupTestLogger()
	suspended := false
	collector := NewSuspendCollector(func() bool { return suspended }, ctrl.Log.WithName("testing"))

	metricName := prom.BuildFQName(promNamespace, "", "suspended")
	expected := `
		# HELP devfreq_idler_suspended 1 while the display is off and devices are forced to their lowest frequency
		# TYPE devfreq_idler_suspended gauge
		devfreq_idler_suspended 0
	`
	err := promtestutil.CollectAndCompare(collector, strings.NewReader(expected), metricName)
	assert.Nil(t, err)

	suspended = true
	assert.Equal(t, float64(1), promtestutil.ToFloat64(collector))
}

func TestNewConfigCollectors(t *testing.T) {
	setupTestLogger()
	cfg := idler.NewConfig(idler.DefaultSettings())
	collectors := NewConfigCollectors(cfg, ctrl.Log.WithName("testing"))
	assert.Len(t, collectors, 5)

	assert.Equal(t, 0.005, promtestutil.ToFloat64(collectors[0]))
	assert.Equal(t, 0.5, promtestutil.ToFloat64(collectors[1]))
	assert.Equal(t, float64(25), promtestutil.ToFloat64(collectors[2]))
	assert.Equal(t, float64(20), promtestutil.ToFloat64(collectors[3]))
	assert.Equal(t, float64(1), promtestutil.ToFloat64(collectors[4]))

	cfg.SetIdleWaitDuration(2 * time.Second)
	cfg.SetActive(false)
	assert.Equal(t, float64(2), promtestutil.ToFloat64(collectors[1]))
	assert.Equal(t, float64(0), promtestutil.ToFloat64(collectors[4]))

	reg := prom.NewPedanticRegistry()
	for _, collector := range collectors {
		assert.NoError(t, reg.Register(collector))
	}
	count, err := promtestutil.GatherAndCount(reg)
	assert.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestDecisionMetrics(t *testing.T) {
	setupTestLogger()
	m := NewDecisionMetrics(ctrl.Log.WithName("testing"))
	reg := prom.NewPedanticRegistry()
	assert.NoError(t, m.Register(reg))

	floor := uint64(257000000)
	m.RecordDecision("kgsl-3d0", idler.Decision{Reason: idler.ReasonIdlePending}, 1, 414000000)
	m.RecordDecision("kgsl-3d0", idler.Decision{Frequency: &floor, Final: true, Reason: idler.ReasonIdleTimeout}, 2, 414000000)
	m.RecordDecision("kgsl-3d0", idler.Decision{Frequency: &floor, Final: true, Reason: idler.ReasonAtFloor}, 3, floor)
	m.RecordSkipped("kgsl-3d0")

	expected := `
		# HELP devfreq_idler_decisions_total advisor decisions per device by outcome
		# TYPE devfreq_idler_decisions_total counter
		devfreq_idler_decisions_total{device="kgsl-3d0",outcome="at_floor"} 1
		devfreq_idler_decisions_total{device="kgsl-3d0",outcome="idle_pending"} 1
		devfreq_idler_decisions_total{device="kgsl-3d0",outcome="idle_timeout"} 1
		devfreq_idler_decisions_total{device="kgsl-3d0",outcome="skipped"} 1
		# HELP devfreq_idler_idle_streak consecutive idle samples seen for the device
		# TYPE devfreq_idler_idle_streak gauge
		devfreq_idler_idle_streak{device="kgsl-3d0"} 3
		# HELP devfreq_idler_current_frequency_hz device frequency at the last sample
		# TYPE devfreq_idler_current_frequency_hz gauge
		devfreq_idler_current_frequency_hz{device="kgsl-3d0"} 2.57e+08
	`
	err := promtestutil.GatherAndCompare(reg, strings.NewReader(expected))
	assert.Nil(t, err)

	// registering twice is refused
	assert.Error(t, m.Register(reg))
}
