package ddtc

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dataplacement/ddtc/pkg/metrics"
)

// TeamMetrics is the set of per-region prometheus collectors a TeamTracker
// updates. Bound once per region to the region label, grounded on the
// teacher's pkg/metrics CounterVec/GaugeVec-with-labels convention.
type TeamMetrics struct {
	HealthyTeams prometheus.Gauge
	OptimalTeams prometheus.Gauge
}

// NewTeamMetrics returns the region-scoped metrics handle shared by every
// TeamTracker in region.
func NewTeamMetrics(region string) *TeamMetrics {
	return &TeamMetrics{
		HealthyTeams: metrics.HealthyTeamsGauge.WithLabelValues(region),
		OptimalTeams: metrics.OptimalTeamsGauge.WithLabelValues(region),
	}
}

// RegionMetrics bundles the remaining region-scoped collectors consumed
// outside the team tracker: the builder's team-count gauges and build
// duration histogram, and the event emitter's recruitment-outcome and
// relocation counters. ExcludedServers is carried here, but nothing in this
// package sets it.
type RegionMetrics struct {
	ServerTeams     prometheus.Gauge
	MachineTeams    prometheus.Gauge
	BuildDuration   prometheus.Observer
	Recruitment     *prometheus.CounterVec
	ExcludedServers *prometheus.GaugeVec
	Relocations     *prometheus.CounterVec
}

// NewRegionMetrics returns the region-scoped metrics handle shared by the
// builder and the event emitter in region.
func NewRegionMetrics(region string) *RegionMetrics {
	return &RegionMetrics{
		ServerTeams:     metrics.ServerTeamsGauge.WithLabelValues(region),
		MachineTeams:    metrics.MachineTeamsGauge.WithLabelValues(region),
		BuildDuration:   metrics.BuildDurationHistogram.WithLabelValues(region),
		Recruitment:     metrics.RecruitmentCounter,
		ExcludedServers: metrics.ExcludedServersGauge,
		Relocations:     metrics.RelocationsEmittedCounter,
	}
}
