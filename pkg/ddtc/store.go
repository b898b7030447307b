package ddtc

import "context"

// Keyspace is the full system-keyspace collaborator named in §6: the
// transactional keyspace that persists exclusion lists, wiggle state, and
// configuration (out of DDTC's scope as a store, but consumed here through
// this interface for every read/watch/write named in §6).
type Keyspace interface {
	BootstrapSource
	WiggleKeyspace

	// WatchExcludedAddresses and WatchFailedAddresses stream full-list
	// snapshots on every change to the excluded/failed address lists.
	WatchExcludedAddresses(ctx context.Context) (<-chan []string, error)
	WatchFailedAddresses(ctx context.Context) (<-chan []string, error)
	// WatchExcludedLocalities and WatchFailedLocalities are the locality-keyed
	// analogs (§6 "excluded localities / failed localities").
	WatchExcludedLocalities(ctx context.Context) (<-chan []string, error)
	WatchFailedLocalities(ctx context.Context) (<-chan []string, error)

	// WatchHealthyZone streams the maintenance-zone id and expiration
	// version on every change (§6, §4.4, §9 overload).
	WatchHealthyZone(ctx context.Context) (<-chan HealthyZoneUpdate, error)

	// DataDistributionEnabled reports the dd-mode flag and whether the
	// move-keys lock is currently held by someone else (§6, §7 move-keys
	// conflict).
	DataDistributionEnabled(ctx context.Context) (enabled bool, moveKeysHeld bool, err error)

	// WatchDebugSnapshotTrigger streams a tick every time the external
	// trigger key (§6, SUPPLEMENTED FEATURES #3) is written.
	WatchDebugSnapshotTrigger(ctx context.Context) (<-chan struct{}, error)

	// RemoveServerFromKeyspace removes a storage server's entry once its
	// shards have drained (§6 emitted events).
	RemoveServerFromKeyspace(ctx context.Context, id ServerID) error
}

// HealthyZoneUpdate is one observed change to the healthy-zone keyspace
// entry (§6).
type HealthyZoneUpdate struct {
	Zone           string
	ExpiryVersion  uint64
}
