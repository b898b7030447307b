package ddtc

// Machine groups servers that share the same zone/machine id on the same
// physical host (§3). Created on demand when the first server reporting a
// given machine id is added; destroyed when its last server is removed.
type Machine struct {
	ID MachineID

	// Locality is the locality entry the replication policy evaluates for
	// this machine: the union of attribute keys the policy cares about,
	// read off of any of its member servers (they agree by construction,
	// since they share a machine id).
	Locality Locality

	servers      map[ServerID]*Server
	machineTeams map[TeamID]*MachineTeam
}

func newMachine(id MachineID, locality Locality) *Machine {
	return &Machine{
		ID:           id,
		Locality:     locality.Clone(),
		servers:      make(map[ServerID]*Server),
		machineTeams: make(map[TeamID]*MachineTeam),
	}
}

// Servers returns the servers on this machine.
func (m *Machine) Servers() []*Server {
	out := make([]*Server, 0, len(m.servers))
	for _, s := range m.servers {
		out = append(out, s)
	}
	return out
}

// MachineTeams returns the machine teams containing this machine.
func (m *Machine) MachineTeams() []*MachineTeam {
	out := make([]*MachineTeam, 0, len(m.machineTeams))
	for _, mt := range m.machineTeams {
		out = append(out, mt)
	}
	return out
}

// Healthy implements invariant 4: a machine is healthy iff at least one of
// its servers is not failed and not undesired.
func (m *Machine) Healthy() bool {
	for _, s := range m.servers {
		if !s.Status.IsFailed && !s.Status.IsUndesired {
			return true
		}
	}
	return false
}

func (m *Machine) addServer(s *Server)      { m.servers[s.ID] = s }
func (m *Machine) removeServer(s *Server)   { delete(m.servers, s.ID) }
func (m *Machine) empty() bool              { return len(m.servers) == 0 }
func (m *Machine) joinMachineTeam(mt *MachineTeam)  { m.machineTeams[mt.ID] = mt }
func (m *Machine) leaveMachineTeam(mt *MachineTeam) { delete(m.machineTeams, mt.ID) }
func (m *Machine) teamCount() int                   { return len(m.machineTeams) }
