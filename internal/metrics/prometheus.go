package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements the Collector interface using Prometheus metrics.
type PrometheusCollector struct {
	// Command metrics
	commandsTotal *prometheus.CounterVec
	deniedTotal   *prometheus.CounterVec

	// Registry metrics
	registryMutationsTotal *prometheus.CounterVec
	approvedIdentities     prometheus.Gauge

	// Upload metrics
	uploadsTotal        prometheus.Counter
	recipientsUploaded  prometheus.Counter
	recipientsPerUpload prometheus.Histogram

	// Dispatch metrics
	dispatchesTotal *prometheus.CounterVec
	dispatchActive  prometheus.Gauge
	sendsTotal      *prometheus.CounterVec
	sendLatency     prometheus.Histogram
}

// NewPrometheusCollector creates a new PrometheusCollector with all metrics registered.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relayd_commands_total",
			Help: "Total number of bot commands processed.",
		}, []string{"command", "result"}),
		deniedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relayd_authorization_denied_total",
			Help: "Total number of actions refused by the access gate.",
		}, []string{"action"}),

		registryMutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relayd_registry_mutations_total",
			Help: "Total number of registry approve/remove operations.",
		}, []string{"op"}),
		approvedIdentities: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relayd_approved_identities",
			Help: "Number of identities currently approved.",
		}),

		uploadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relayd_uploads_total",
			Help: "Total number of recipient lists accepted.",
		}),
		recipientsUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relayd_recipients_uploaded_total",
			Help: "Total number of recipient addresses accepted across uploads.",
		}),
		recipientsPerUpload: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relayd_recipients_per_upload",
			Help:    "Number of recipients in each accepted upload.",
			Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000, 10000},
		}),

		dispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relayd_dispatches_total",
			Help: "Total number of dispatch requests by outcome.",
		}, []string{"outcome"}),
		dispatchActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relayd_dispatch_in_progress",
			Help: "1 while a dispatch job is running.",
		}),
		sendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relayd_sends_total",
			Help: "Total number of per-recipient send attempts.",
		}, []string{"result"}),
		sendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relayd_send_duration_seconds",
			Help:    "Latency of individual transport send calls.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	// Register all metrics
	reg.MustRegister(
		c.commandsTotal,
		c.deniedTotal,
		c.registryMutationsTotal,
		c.approvedIdentities,
		c.uploadsTotal,
		c.recipientsUploaded,
		c.recipientsPerUpload,
		c.dispatchesTotal,
		c.dispatchActive,
		c.sendsTotal,
		c.sendLatency,
	)

	return c
}

// CommandProcessed increments the command counter.
func (c *PrometheusCollector) CommandProcessed(command string, result string) {
	c.commandsTotal.WithLabelValues(command, result).Inc()
}

// AuthorizationDenied increments the denial counter.
func (c *PrometheusCollector) AuthorizationDenied(action string) {
	c.deniedTotal.WithLabelValues(action).Inc()
}

// RegistryMutated increments the registry mutation counter.
func (c *PrometheusCollector) RegistryMutated(op string) {
	c.registryMutationsTotal.WithLabelValues(op).Inc()
}

// ApprovedIdentities sets the approved identity gauge.
func (c *PrometheusCollector) ApprovedIdentities(n int) {
	c.approvedIdentities.Set(float64(n))
}

// UploadAccepted records an accepted recipient list.
func (c *PrometheusCollector) UploadAccepted(recipients int) {
	c.uploadsTotal.Inc()
	c.recipientsUploaded.Add(float64(recipients))
	c.recipientsPerUpload.Observe(float64(recipients))
}

// DispatchStarted raises the in-progress gauge.
func (c *PrometheusCollector) DispatchStarted() {
	c.dispatchActive.Set(1)
}

// DispatchFinished records the dispatch outcome. Outcomes other than
// busy, no_list and screened lower the in-progress gauge.
func (c *PrometheusCollector) DispatchFinished(outcome string) {
	c.dispatchesTotal.WithLabelValues(outcome).Inc()
	switch outcome {
	case OutcomeBusy, OutcomeNoList, OutcomeScreened:
	default:
		c.dispatchActive.Set(0)
	}
}

// SendCompleted increments the send counter and observes latency.
func (c *PrometheusCollector) SendCompleted(result string, latency time.Duration) {
	c.sendsTotal.WithLabelValues(result).Inc()
	c.sendLatency.Observe(latency.Seconds())
}
