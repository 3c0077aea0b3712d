package pipeline

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type pipelineMetrics struct {
	once sync.Once

	examined      prometheus.Counter
	skipped       *prometheus.CounterVec
	classified    *prometheus.CounterVec
	modelFailures prometheus.Counter
	deferred      prometheus.Counter
	costUSD       prometheus.Counter
	modelDuration prometheus.Histogram
}

var runMetrics pipelineMetrics

func (m *pipelineMetrics) init() {
	m.once.Do(func() {
		m.examined = prometheus.NewCounter(prometheus.CounterOpts{Name: "changelabel_records_examined_total", Help: "Change records pulled from the source"})
		m.skipped = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "changelabel_records_skipped_total", Help: "Records skipped without classification"}, []string{"reason"})
		m.classified = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "changelabel_records_classified_total", Help: "Records classified, by method"}, []string{"method"})
		m.modelFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "changelabel_model_failures_total", Help: "Model calls that failed or returned an unusable payload"})
		m.deferred = prometheus.NewCounter(prometheus.CounterOpts{Name: "changelabel_records_deferred_total", Help: "Records left for a later run once the label limit was spent"})
		m.costUSD = prometheus.NewCounter(prometheus.CounterOpts{Name: "changelabel_model_cost_usd_total", Help: "Estimated model spend in USD"})
		m.modelDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "changelabel_model_call_seconds",
			Help:    "Latency of model classification calls",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		})

		prometheus.MustRegister(
			m.examined, m.skipped, m.classified,
			m.modelFailures, m.deferred, m.costUSD, m.modelDuration,
		)
	})
}

func recordExamined()             { runMetrics.init(); runMetrics.examined.Inc() }
func recordSkipped(reason string) { runMetrics.init(); runMetrics.skipped.WithLabelValues(reason).Inc() }
func recordClassified(method string) {
	runMetrics.init()
	runMetrics.classified.WithLabelValues(method).Inc()
}
func recordModelFailure() { runMetrics.init(); runMetrics.modelFailures.Inc() }
func recordDeferred()     { runMetrics.init(); runMetrics.deferred.Inc() }
func recordModelCall(seconds, cost float64) {
	runMetrics.init()
	runMetrics.modelDuration.Observe(seconds)
	if cost > 0 {
		runMetrics.costUSD.Add(cost)
	}
}
