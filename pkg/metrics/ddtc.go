package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the prometheus namespace shared by every DDTC metric,
// grounded on the teacher's own Namespace/Subsystem convention
// (pkg/metrics/seate.go before adaptation used "taas"/"seata").
const Namespace = "ddtc"

var (
	// HealthyTeamsGauge is the per-region count of healthy server teams
	// (§4.3), labeled by region so primary and remote can share a process.
	HealthyTeamsGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "team",
		Name:      "healthy_total",
		Help:      "Number of healthy server teams.",
	}, []string{"region"})

	// OptimalTeamsGauge is the per-region count of optimally-placed server
	// teams (§4.3).
	OptimalTeamsGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "team",
		Name:      "optimal_total",
		Help:      "Number of optimally placed server teams.",
	}, []string{"region"})

	// ServerTeamsGauge and MachineTeamsGauge track the raw team counts the
	// builder targets against (§4.2).
	ServerTeamsGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "team",
		Name:      "server_team_total",
		Help:      "Number of server teams.",
	}, []string{"region"})

	MachineTeamsGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "team",
		Name:      "machine_team_total",
		Help:      "Number of machine teams.",
	}, []string{"region"})

	// BuildDurationHistogram times buildTeams invocations (§4.2).
	BuildDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "builder",
		Name:      "build_duration_seconds",
		Help:      "Bucketed histogram of buildTeams() duration.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2.0, 20),
	}, []string{"region"})

	// RelocationsEmittedCounter counts RelocateShard events emitted (§4.3, §4.4).
	RelocationsEmittedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "events",
		Name:      "relocations_emitted_total",
		Help:      "Total number of RelocateShard events emitted.",
	}, []string{"region", "priority"})

	// RecruitmentCounter counts InitializeStorage attempts by outcome (§4.5).
	RecruitmentCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "recruiter",
		Name:      "initialize_storage_total",
		Help:      "Total number of InitializeStorage requests issued.",
	}, []string{"region", "status"})

	// ExcludedServersGauge is labelled by exclusion status (§4.6); no DDTC
	// component sets it, so it reports no samples.
	ExcludedServersGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "exclusion",
		Name:      "servers_total",
		Help:      "Number of addresses in the exclusion map, by status.",
	}, []string{"region", "status"})
)

func init() {
	prometheus.MustRegister(
		HealthyTeamsGauge,
		OptimalTeamsGauge,
		ServerTeamsGauge,
		MachineTeamsGauge,
		BuildDurationHistogram,
		RelocationsEmittedCounter,
		RecruitmentCounter,
		ExcludedServersGauge,
	)
}
