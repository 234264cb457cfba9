package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics agrupa os coletores do serviço. Cada instância usa seu próprio registry.
type Metrics struct {
	registry *prometheus.Registry

	RateDecisions  *prometheus.CounterVec
	QuotaDecisions *prometheus.CounterVec
	Admissions     *prometheus.CounterVec
	Suspicious     *prometheus.CounterVec
	Escalations    *prometheus.CounterVec
	SweepRemoved   *prometheus.CounterVec
	StoreErrors    *prometheus.CounterVec
	CheckLatency   *prometheus.HistogramVec
}

// latency buckets in milliseconds
var latencyBuckets = []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000}

// New cria os coletores registrados em um registry novo
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	return NewWithRegistry(registry)
}

// NewWithRegistry registra os coletores no registry informado
func NewWithRegistry(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		RateDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_rate_limit_decisions_total",
			Help: "Sliding window decisions by category and outcome",
		}, []string{"category", "outcome"}),
		QuotaDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_quota_decisions_total",
			Help: "Quota decisions by outcome and reason",
		}, []string{"outcome", "reason"}),
		Admissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_decisions_total",
			Help: "Final admission decisions by category and reason",
		}, []string{"category", "reason"}),
		Suspicious: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_suspicious_activity_total",
			Help: "Suspicious activity records by kind",
		}, []string{"kind"}),
		Escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_escalation_actions_total",
			Help: "Escalation actions executed by action and outcome",
		}, []string{"action", "outcome"}),
		SweepRemoved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_sweep_removed_total",
			Help: "Entries removed by the retention sweeper",
		}, []string{"kind"}),
		StoreErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_store_errors_total",
			Help: "Store failures observed by the admission path",
		}, []string{"component"}),
		CheckLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "admission_check_latency_ms",
			Help:    "Admission check latency in milliseconds",
			Buckets: latencyBuckets,
		}, []string{"category"}),
	}
}

// Handler expõe o registry no formato Prometheus
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry retorna o registry subjacente
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Outcome converte um booleano em rótulo
func Outcome(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}

// Os métodos abaixo aceitam receptor nil para que os serviços funcionem sem métricas

func (m *Metrics) ObserveRateDecision(category string, allowed bool) {
	if m == nil {
		return
	}
	m.RateDecisions.WithLabelValues(category, Outcome(allowed)).Inc()
}

func (m *Metrics) ObserveQuotaDecision(allowed bool, reason string) {
	if m == nil {
		return
	}
	m.QuotaDecisions.WithLabelValues(Outcome(allowed), reason).Inc()
}

func (m *Metrics) ObserveAdmission(category, reason string, latencyMs float64) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "allowed"
	}
	m.Admissions.WithLabelValues(category, reason).Inc()
	m.CheckLatency.WithLabelValues(category).Observe(latencyMs)
}

func (m *Metrics) ObserveSuspicious(kind string) {
	if m == nil {
		return
	}
	m.Suspicious.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveEscalationAction(action string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.Escalations.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) ObserveSweepRemoved(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.SweepRemoved.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) ObserveStoreError(component string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(component).Inc()
}
