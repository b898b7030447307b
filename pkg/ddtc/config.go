package ddtc

import "time"

// Cfg is the DDTC region configuration, grounded on the teacher's
// pkg/sharding.Cfg / vendored prophet.Cfg adjust() idiom: a flat struct of
// zero-defaultable fields, filled in by Adjust before the region starts.
type Cfg struct {
	// Region identifies this DDTC instance ("primary" or a remote region name).
	Region string
	// StorageTeamSize is k, the configured replication factor.
	StorageTeamSize int
	// Policy is the replication policy consumed by the team builder.
	Policy Policy
	// UsableRegions is 1 or 2.
	UsableRegions int
	// StorageMigrationType gates forced removal of wrong-store-type servers.
	StorageMigrationType StorageMigrationType
	// DesiredTSSCount is the target testing-server population.
	DesiredTSSCount int

	// DesiredTeamsPerServer and MaxTeamsPerServer bound the builder's target
	// team count (§4.2).
	DesiredTeamsPerServer int
	MaxTeamsPerServer     int
	// BestOfAmt is the number of candidate attempts the builder scores
	// before committing to the best one.
	BestOfAmt int
	// OverlapPenalty weights machine/server overlap in the builder's scoring.
	OverlapPenalty float64

	// MaxBuildRetries bounds the builder's full-overlap retry loop.
	MaxBuildRetries int

	// VersionLagThreshold is the sustained-lag duration past which a server
	// is flagged version-too-far-behind.
	VersionLagThreshold time.Duration
	// StuckLastUpdateThreshold is the duration of no metrics progress past
	// which a server is considered stuck.
	StuckLastUpdateThreshold time.Duration
	// MetricsPollInterval is the base interval of the metrics poller;
	// actual delay is randomized around it to avoid thundering herds.
	MetricsPollInterval time.Duration

	// DataLossGracePeriod is how long the team tracker waits, once a team
	// enters TEAM_0_LEFT, before logging bytes-lost.
	DataLossGracePeriod time.Duration

	// RecruitmentTimeout bounds a single InitializeStorage round trip.
	RecruitmentTimeout time.Duration
	// MaxStorageServersPerAddress caps concurrent recruits to one address.
	MaxStorageServersPerAddress int

	// RemoverBackoff is the pause the team removers take after acting, to
	// avoid oscillating with the builder.
	RemoverBackoff time.Duration
}

// StorageMigrationType controls whether wrong-store-type-to-remove servers
// are forcibly removed or only flagged undesired (§6 configuration,
// SUPPLEMENTED FEATURES #2).
type StorageMigrationType int

const (
	MigrationDisabled StorageMigrationType = iota
	MigrationGradual
	MigrationAggressive
)

// Adjust fills zero-value fields with defaults, mirroring the teacher's
// Cfg.Adjust / prophet's Cfg.adujst.
func (c *Cfg) Adjust() {
	if c.Region == "" {
		c.Region = "primary"
	}
	if c.StorageTeamSize == 0 {
		c.StorageTeamSize = 3
	}
	if c.Policy == nil {
		c.Policy = AcrossZones{}
	}
	if c.UsableRegions == 0 {
		c.UsableRegions = 1
	}
	if c.DesiredTSSCount == 0 {
		c.DesiredTSSCount = 0
	}
	if c.DesiredTeamsPerServer == 0 {
		c.DesiredTeamsPerServer = 5
	}
	if c.MaxTeamsPerServer == 0 {
		c.MaxTeamsPerServer = 2 * c.DesiredTeamsPerServer
	}
	if c.BestOfAmt == 0 {
		c.BestOfAmt = 4
	}
	if c.OverlapPenalty == 0 {
		c.OverlapPenalty = 1e10
	}
	if c.MaxBuildRetries == 0 {
		c.MaxBuildRetries = 10
	}
	if c.VersionLagThreshold == 0 {
		c.VersionLagThreshold = 5 * time.Minute
	}
	if c.StuckLastUpdateThreshold == 0 {
		c.StuckLastUpdateThreshold = 5 * time.Minute
	}
	if c.MetricsPollInterval == 0 {
		c.MetricsPollInterval = 2 * time.Second
	}
	if c.DataLossGracePeriod == 0 {
		c.DataLossGracePeriod = 30 * time.Minute
	}
	if c.RecruitmentTimeout == 0 {
		c.RecruitmentTimeout = 10 * time.Second
	}
	if c.MaxStorageServersPerAddress == 0 {
		c.MaxStorageServersPerAddress = 2
	}
	if c.RemoverBackoff == 0 {
		c.RemoverBackoff = 10 * time.Second
	}
}
