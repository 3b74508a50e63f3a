package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	Namespace = "rttlab"

	// Labels.
	LabelVersion = "version"
	LabelCommit  = "commit"
	LabelDate    = "date"
	LabelResult  = "result"
	LabelPhase   = "phase"
	LabelLink    = "link"
	LabelReason  = "reason"
	LabelKind    = "kind"

	// Run results.
	ResultOK    = "ok"
	ResultFault = "fault"
	ResultError = "error"

	// Probe results.
	ProbeResultOK    = "ok"
	ProbeResultLost  = "lost"
	ProbeResultError = "error"

	// Link drop reasons.
	DropReasonLoss    = "loss"
	DropReasonQueue   = "queue_full"
	DropReasonInvalid = "invalid"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: Namespace + "_build_info",
			Help: "Build information of rttlab",
		},
		[]string{LabelVersion, LabelCommit, LabelDate},
	)

	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: Namespace + "_runs_total",
		Help: "Total number of experiment runs",
	}, []string{LabelResult})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    Namespace + "_run_duration_seconds",
		Help:    "Duration of experiment runs",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~8.5m
	})

	WorkerFaultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: Namespace + "_worker_faults_total",
		Help: "Total number of flow generator faults",
	}, []string{LabelPhase})

	ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: Namespace + "_probes_total",
		Help: "Total number of probes sent by flow generators",
	}, []string{LabelPhase, LabelResult})

	ProbeRTT = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    Namespace + "_probe_rtt_seconds",
		Help:    "Round-trip time of successful probes",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs .. ~820ms
	}, []string{LabelPhase})

	PhaseSamples = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: Namespace + "_phase_samples",
		Help: "Number of samples collected in the last run of each phase",
	}, []string{LabelPhase})

	RenderFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: Namespace + "_render_failures_total",
		Help: "Total number of renderer failures",
	}, []string{LabelPhase})

	ExportFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: Namespace + "_export_failures_total",
		Help: "Total number of exporter failures",
	}, []string{LabelPhase})

	LinkDroppedPacketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: Namespace + "_link_dropped_packets_total",
		Help: "Total number of packets dropped by emulated links",
	}, []string{LabelLink, LabelReason})

	AnomaliesActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: Namespace + "_anomalies_active",
		Help: "Number of anomalies currently applied by the abnormal generator",
	}, []string{LabelKind})
)
