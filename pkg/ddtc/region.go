package ddtc

import "sync"

// CrossRegionView is the read-only, nullable pointer one region's team
// tracker holds into the remote region's team tracker state (§5, §4.3,
// SUPPLEMENTED FEATURES #4). It is never mutated by the consuming region;
// the remote region's own supervisor is the sole writer.
type CrossRegionView struct {
	mu      sync.RWMutex
	remote  *Registry
}

// NewCrossRegionView wraps remote's registry for read-only cross-region
// lookups. Pass nil when usableRegions == 1; callers must treat a nil
// *CrossRegionView as "no remote region" everywhere.
func NewCrossRegionView(remote *Registry) *CrossRegionView {
	return &CrossRegionView{remote: remote}
}

// RemoteTeamUnhealthy reports whether the remote region has no healthy team
// whose member set matches memberIDs exactly, used to decide whether a
// primary team with zero members should have its priority raised to
// POPULATE_REGION (it should not, if the remote region already covers the
// same members healthily).
func (v *CrossRegionView) RemoteTeamUnhealthy(memberIDs []ServerID) bool {
	if v == nil || v.remote == nil {
		return true
	}
	v.mu.RLock()
	defer v.mu.RUnlock()

	for _, t := range v.remote.ServerTeams() {
		if sameServerIDSet(t.MemberIDs(), memberIDs) && t.Healthy() {
			return false
		}
	}
	return true
}

func sameServerIDSet(a, b []ServerID) bool {
	if len(a) != len(b) {
		return false
	}
	count := make(map[ServerID]int, len(a))
	for _, id := range a {
		count[id]++
	}
	for _, id := range b {
		count[id]--
	}
	for _, c := range count {
		if c != 0 {
			return false
		}
	}
	return true
}
