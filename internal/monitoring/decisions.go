package monitoring

import (
	"fmt"

	"github.com/go-logr/logr"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/openshift-kni/devfreq-idler/internal/idler"
)

// DecisionMetrics tracks per-device advisor outcomes. It satisfies
// scaling.DecisionRecorder.
type DecisionMetrics struct {
	decisions        *prom.CounterVec
	idleStreak       *prom.GaugeVec
	currentFrequency *prom.GaugeVec
	log              logr.Logger
}

func NewDecisionMetrics(log logr.Logger) *DecisionMetrics {
	return &DecisionMetrics{
		decisions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: promNamespace,
			Name:      "decisions_total",
			Help:      "advisor decisions per device by outcome",
		}, []string{deviceLabel, outcomeLabel}),
		idleStreak: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: promNamespace,
			Name:      "idle_streak",
			Help:      "consecutive idle samples seen for the device",
		}, []string{deviceLabel}),
		currentFrequency: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: promNamespace,
			Name:      "current_frequency_hz",
			Help:      "device frequency at the last sample",
		}, []string{deviceLabel}),
		log: log,
	}
}

// Register adds the metrics to reg.
func (m *DecisionMetrics) Register(reg prom.Registerer) error {
	for _, collector := range []prom.Collector{m.decisions, m.idleStreak, m.currentFrequency} {
		if err := reg.Register(collector); err != nil {
			return fmt.Errorf("failed to register decision metrics: %w", err)
		}
	}
	m.log.V(4).Info("decision metrics registered")
	return nil
}

func (m *DecisionMetrics) RecordDecision(device string, decision idler.Decision, idleStreak uint32, currentFrequency uint64) {
	m.decisions.WithLabelValues(device, string(decision.Reason)).Inc()
	m.idleStreak.WithLabelValues(device).Set(float64(idleStreak))
	m.currentFrequency.WithLabelValues(device).Set(float64(currentFrequency))
}

func (m *DecisionMetrics) RecordSkipped(device string) {
	m.decisions.WithLabelValues(device, outcomeSkipped).Inc()
}
