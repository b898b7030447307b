package ddtc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errFakeWatchStopped = errors.New("fake watch stopped")

type fakeFailureMonitor struct{}

func (fakeFailureMonitor) Watch(ctx context.Context, id ServerID, addr string) (bool, error) {
	return false, errFakeWatchStopped
}

type fakeMetricsSource struct{}

func (fakeMetricsSource) RequestMetrics(ctx context.Context, id ServerID, addr string) (StorageMetrics, error) {
	return StorageMetrics{}, errFakeWatchStopped
}

type fakeInterfaceWatcher struct{}

func (fakeInterfaceWatcher) Watch(ctx context.Context, id ServerID) (Interface, Locality, error) {
	return Interface{}, Locality{}, errFakeWatchStopped
}

func newTestTracker(cfg *Cfg, reg *Registry, s *Server, exclusion *ExclusionController, optimalTeams func() bool) (*ServerTracker, *[]ServerID) {
	removed := &[]ServerID{}
	tr := NewServerTracker(
		cfg, reg, s,
		fakeFailureMonitor{}, fakeMetricsSource{}, fakeInterfaceWatcher{},
		exclusion, &fakeDrainWaiter{},
		func() {},
		func(id ServerID) { *removed = append(*removed, id) },
		nil,
		optimalTeams,
	)
	return tr, removed
}

func TestServerTrackerUnfitProcessClassGatedOnOptimalTeams(t *testing.T) {
	cfg := &Cfg{}
	cfg.Adjust()
	reg := NewRegistry(1)
	s, err := reg.AddServer(Interface{Address: "s1:1"}, ProcessClassTransaction, Locality{LocalityMachine: "m1"}, 1)
	assert.Nil(t, err)

	optimal := false
	tr, _ := newTestTracker(cfg, reg, s, NewExclusionController(), func() bool { return optimal })
	defer tr.Stop()

	tr.recomputeDerivedStatus()
	assert.False(t, s.Status.IsUndesired, "unfit process class must not be undesired until optimal teams exist")

	optimal = true
	tr.recomputeDerivedStatus()
	assert.True(t, s.Status.IsUndesired, "unfit process class becomes undesired once optimal teams exist")
}

func TestServerTrackerHealthierSameAddressPeerMarksUndesired(t *testing.T) {
	cfg := &Cfg{}
	cfg.Adjust()
	reg := NewRegistry(1)
	s, err := reg.AddServer(Interface{Address: "dup:1"}, ProcessClassStorage, Locality{LocalityMachine: "m1"}, 1)
	assert.Nil(t, err)
	peer, err := reg.AddServer(Interface{Address: "dup:1"}, ProcessClassStorage, Locality{LocalityMachine: "m2"}, 2)
	assert.Nil(t, err)

	s.Metrics.ShardCount = 5
	peer.Metrics.ShardCount = 5

	tr, _ := newTestTracker(cfg, reg, s, NewExclusionController(), func() bool { return false })
	defer tr.Stop()

	tr.recomputeDerivedStatus()
	assert.True(t, s.Status.IsUndesired, "a healthy same-address peer carrying as many shards makes this server undesired")

	peer.Metrics.ShardCount = 1
	tr.recomputeDerivedStatus()
	assert.False(t, s.Status.IsUndesired, "a peer carrying fewer shards no longer makes this server undesired")
}

func TestServerTrackerOnFailedExclusionEscalates(t *testing.T) {
	cfg := &Cfg{}
	cfg.Adjust()
	reg := NewRegistry(1)
	s, err := reg.AddServer(Interface{Address: "s1:1"}, ProcessClassStorage, Locality{LocalityMachine: "m1"}, 1)
	assert.Nil(t, err)

	tr, removed := newTestTracker(cfg, reg, s, NewExclusionController(), func() bool { return false })
	defer tr.Stop()

	err = tr.OnFailedExclusion()
	assert.Equal(t, ErrRemoveFailedServer, err)
	assert.Equal(t, []ServerID{s.ID}, *removed)
}
