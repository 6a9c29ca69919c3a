package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "sensorvision_"

	// IngestResultSuccess labels a successful ingest request.
	IngestResultSuccess = "success"
	// IngestResultError labels a failed ingest request.
	IngestResultError = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	ruleEvaluations  prometheus.Counter
	alertsTotal      *prometheus.CounterVec
	globalEvalTotal  *prometheus.CounterVec
	globalAlertTotal *prometheus.CounterVec

	dispatchTotal *prometheus.CounterVec

	devicesOnline prometheus.Gauge
)

// Init registers pipeline metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		ruleEvaluations = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "rule_evaluations_total",
				Help: "Total per-device rule evaluation passes",
			},
		)
		alertsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_total",
				Help: "Total alerts raised by severity",
			},
			[]string{"severity"},
		)
		globalEvalTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "global_rule_evaluations_total",
				Help: "Total global rule evaluations by result",
			},
			[]string{"result"},
		)
		globalAlertTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "global_alerts_total",
				Help: "Total global alerts raised by severity",
			},
			[]string{"severity"},
		)

		dispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notification_dispatch_total",
				Help: "Total notification attempts by channel and status",
			},
			[]string{"channel", "status"},
		)

		devicesOnline = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "devices_online",
				Help: "Devices currently marked online",
			},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			ruleEvaluations,
			alertsTotal,
			globalEvalTotal,
			globalAlertTotal,
			dispatchTotal,
			devicesOnline,
		)
	})
}

// ObserveIngest records one ingest request outcome and latency.
func ObserveIngest(result string, elapsed time.Duration) {
	if ingestRequests == nil {
		return
	}
	ingestRequests.WithLabelValues(result).Inc()
	ingestLatency.WithLabelValues(result).Observe(elapsed.Seconds())
}

// IncIngestError counts an ingest error by reason.
func IncIngestError(reason string) {
	if ingestErrors == nil {
		return
	}
	ingestErrors.WithLabelValues(reason).Inc()
}

// IncRuleEvaluation counts one evaluation pass over a telemetry record.
func IncRuleEvaluation() {
	if ruleEvaluations == nil {
		return
	}
	ruleEvaluations.Inc()
}

// IncAlert counts an alert by severity.
func IncAlert(severity string) {
	if alertsTotal == nil {
		return
	}
	alertsTotal.WithLabelValues(severity).Inc()
}

// IncGlobalEvaluation counts a global rule evaluation by result.
func IncGlobalEvaluation(result string) {
	if globalEvalTotal == nil {
		return
	}
	globalEvalTotal.WithLabelValues(result).Inc()
}

// IncGlobalAlert counts a global alert by severity.
func IncGlobalAlert(severity string) {
	if globalAlertTotal == nil {
		return
	}
	globalAlertTotal.WithLabelValues(severity).Inc()
}

// IncDispatch counts a notification attempt by channel and status.
func IncDispatch(channel, status string) {
	if dispatchTotal == nil {
		return
	}
	dispatchTotal.WithLabelValues(channel, status).Inc()
}

// SetDevicesOnline sets the online-device gauge.
func SetDevicesOnline(count int) {
	if devicesOnline == nil {
		return
	}
	devicesOnline.Set(float64(count))
}
