package ddtc

import "sort"

// MachineTeam is the projection of a server team onto its members' machines
// (§3). It exists exactly when a healthy server team on those machines can
// exist; multiple server teams may share one machine team.
type MachineTeam struct {
	ID       TeamID
	Machines []*Machine // sorted by MachineID, invariant 6

	serverTeams map[TeamID]*ServerTeam
}

func newMachineTeam(id TeamID, machines []*Machine) *MachineTeam {
	sorted := append([]*Machine(nil), machines...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return &MachineTeam{ID: id, Machines: sorted, serverTeams: make(map[TeamID]*ServerTeam)}
}

// MachineIDs returns the sorted machine ids backing this team, used for
// team-equality comparisons (invariant 6) and registry lookups.
func (mt *MachineTeam) MachineIDs() []MachineID {
	ids := make([]MachineID, len(mt.Machines))
	for i, m := range mt.Machines {
		ids[i] = m.ID
	}
	return ids
}

// ServerTeams returns the server teams backed by this machine team.
func (mt *MachineTeam) ServerTeams() []*ServerTeam {
	out := make([]*ServerTeam, 0, len(mt.serverTeams))
	for _, t := range mt.serverTeams {
		out = append(out, t)
	}
	return out
}

// Healthy reports whether every backing machine is healthy.
func (mt *MachineTeam) Healthy() bool {
	for _, m := range mt.Machines {
		if !m.Healthy() {
			return false
		}
	}
	return true
}

func (mt *MachineTeam) joinServerTeam(t *ServerTeam)  { mt.serverTeams[t.ID] = t }
func (mt *MachineTeam) leaveServerTeam(t *ServerTeam) { delete(mt.serverTeams, t.ID) }
func (mt *MachineTeam) serverTeamCount() int          { return len(mt.serverTeams) }

func sameMachineSet(a, b []*Machine) bool {
	if len(a) != len(b) {
		return false
	}
	ids := make(map[MachineID]int, len(a))
	for _, m := range a {
		ids[m.ID]++
	}
	for _, m := range b {
		ids[m.ID]--
	}
	for _, c := range ids {
		if c != 0 {
			return false
		}
	}
	return true
}

// ServerTeam is an ordered multiset of servers, size k, placed per policy
// (§3). Teams are the unit over which the replication policy is enforced
// and over which shards are placed.
type ServerTeam struct {
	ID      TeamID
	Members []*Server // sorted by ServerID, invariant 6

	MachineTeam *MachineTeam

	// Bad marks a team awaiting removal: it is exempt from invariant 1 (it
	// need not have exactly k members or satisfy the policy) while its
	// shards drain.
	Bad bool
	// Redundant marks an extra team the server-team remover is draining.
	Redundant bool

	cachedHealthy     bool
	wrongConfiguration bool
	priority          TeamPriority

	// load-metric accumulators, updated by the metrics poller as shards are
	// assigned/relocated off member servers.
	ShardCount   int
	LoadedBytes  uint64
}

func newServerTeam(id TeamID, members []*Server, mt *MachineTeam) *ServerTeam {
	sorted := append([]*Server(nil), members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID.String() < sorted[j].ID.String() })
	return &ServerTeam{ID: id, Members: sorted, MachineTeam: mt}
}

// MemberIDs returns the sorted member ids, used by team-equality checks.
func (t *ServerTeam) MemberIDs() []ServerID {
	ids := make([]ServerID, len(t.Members))
	for i, s := range t.Members {
		ids[i] = s.ID
	}
	return ids
}

// sameMembers implements the "team equality uses sorted lists" half of
// invariant 6.
func (t *ServerTeam) sameMembers(other []*Server) bool {
	if len(t.Members) != len(other) {
		return false
	}
	sorted := append([]*Server(nil), other...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID.String() < sorted[j].ID.String() })
	for i, s := range t.Members {
		if s.ID != sorted[i].ID {
			return false
		}
	}
	return true
}

// Priority returns the cached relocation priority last computed by the team
// tracker (§4.3).
func (t *ServerTeam) Priority() TeamPriority { return t.priority }

// Healthy implements invariant 5: a team's cached healthy bit is true iff
// it is not bad, contains no undesired server, and has no failed server.
func (t *ServerTeam) Healthy() bool { return t.cachedHealthy }

func (t *ServerTeam) recomputeHealthy() {
	if t.Bad {
		t.cachedHealthy = false
		return
	}
	for _, s := range t.Members {
		if s.Status.IsFailed || s.Status.IsUndesired {
			t.cachedHealthy = false
			return
		}
	}
	t.cachedHealthy = true
}
