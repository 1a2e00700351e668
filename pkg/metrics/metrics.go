package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "azslurmd_reconciliation_duration_seconds",
			Help:    "Time taken for one reconciler pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "azslurmd_reconciliation_cycles_total",
			Help: "Total number of reconciler passes completed",
		},
	)

	ReconciledNodesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "azslurmd_reconciled_nodes_total",
			Help: "Total number of node transitions applied by the reconciler, by outcome",
		},
		[]string{"outcome"}, // no_node_cleared, zombie_marked, recovered, down_marked, unchanged
	)

	// Resume/suspend dispatcher metrics
	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "azslurmd_dispatch_duration_seconds",
			Help:    "Time taken for a resume or suspend dispatch call in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"}, // resume (suspend and resume_fail are not timed)
	)

	DispatchedNodesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "azslurmd_dispatched_nodes_total",
			Help: "Total number of nodes passed through resume/suspend dispatch, by operation and outcome",
		},
		[]string{"operation", "outcome"}, // allocated, ready, failed, unknown
	)

	// Provider call metrics
	ProviderCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "azslurmd_provider_call_duration_seconds",
			Help:    "CycleCloud provider REST call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"}, // list_nodes, allocate, bootup, shutdown, terminate, deallocate
	)

	ProviderCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "azslurmd_provider_calls_total",
			Help: "Total CycleCloud provider REST calls by operation and status",
		},
		[]string{"operation", "status"}, // status: ok, unavailable, error
	)

	// Scheduler command metrics (scontrol/sinfo equivalents run via pkg/command)
	SchedulerCommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "azslurmd_scheduler_command_duration_seconds",
			Help:    "Scheduler CLI adapter command duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	SchedulerCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "azslurmd_scheduler_commands_total",
			Help: "Total scheduler CLI adapter invocations by command and status",
		},
		[]string{"command", "status"},
	)

	// Topology build metrics
	TopologyBuildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "azslurmd_topology_build_duration_seconds",
			Help:    "Time taken to build a topology file in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"}, // fabric, nvlink
	)

	// Keep-alive metrics
	KeepAliveRefreshTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "azslurmd_keepalive_refresh_total",
			Help: "Total number of SuspendExcNodes file refreshes written",
		},
	)

	KeepAliveNodesCurrent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "azslurmd_keepalive_nodes_current",
			Help: "Current number of nodes held in the keep-alive set",
		},
	)

	// Cluster-wide node gauges (registered; no package sets them)
	NodesByStateTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "azslurmd_nodes_by_state",
			Help: "Current number of scheduler nodes by base state",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciledNodesTotal)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(DispatchedNodesTotal)
	prometheus.MustRegister(ProviderCallDuration)
	prometheus.MustRegister(ProviderCallsTotal)
	prometheus.MustRegister(SchedulerCommandDuration)
	prometheus.MustRegister(SchedulerCommandsTotal)
	prometheus.MustRegister(TopologyBuildDuration)
	prometheus.MustRegister(KeepAliveRefreshTotal)
	prometheus.MustRegister(KeepAliveNodesCurrent)
	prometheus.MustRegister(NodesByStateTotal)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times a single operation against one or more histograms.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a plain histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
