package ddtc

import (
	"sort"
	"sync"

	"github.com/fagongzi/log"
)

// Registry is the membership registry (§4.1): the single owner of the
// servers/machines/server-teams/machine-teams graph for one region.
// Grounded on the teacher's vendored prophet.Runtime — same map-of-maps
// cache with a guarding lock and Clone-style read accessors — generalized
// from Runtime's single container/resource pair to four related maps.
//
// Per §5, the registry's maps are mutated only by the supervisor task; the
// lock exists so trackers (running as separate goroutines) can take
// read-only snapshots without blocking on supervisor work, not to allow
// concurrent writers.
type Registry struct {
	teamIDs *teamIDGenerator

	mu sync.RWMutex

	servers      map[ServerID]*Server
	machines     map[MachineID]*Machine
	serverTeams  map[TeamID]*ServerTeam
	machineTeams map[TeamID]*MachineTeam

	// processIndex is the per-process-id index used by the wiggle
	// controller (§4.1 contract).
	processIndex map[string][]*Server
}

// NewRegistry returns an empty registry for one region. regionMachineID
// seeds the team-id generator so that two regions in the same process mint
// disjoint team ids.
func NewRegistry(regionMachineID uint16) *Registry {
	return &Registry{
		teamIDs:      newTeamIDGenerator(regionMachineID),
		servers:      make(map[ServerID]*Server),
		machines:     make(map[MachineID]*Machine),
		serverTeams:  make(map[TeamID]*ServerTeam),
		machineTeams: make(map[TeamID]*MachineTeam),
		processIndex: make(map[string][]*Server),
	}
}

// AddServer adds a regular server to the registry (§4.1). Adding a regular
// server inserts it into the per-process-id index and creates its machine
// on demand.
func (r *Registry) AddServer(iface Interface, class ProcessClass, locality Locality, addedVersion uint64) (*Server, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addServerLocked(NewServerID(), iface, class, locality, addedVersion, false, ServerID{})
}

// AddTestingServer adds a testing server paired to pairID. A testing server
// does not create or join any team and is not indexed by process id.
func (r *Registry) AddTestingServer(iface Interface, locality Locality, addedVersion uint64, pairID ServerID) (*Server, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addServerLocked(NewServerID(), iface, ProcessClassTester, locality, addedVersion, true, pairID)
}

// addServerWithID adds a regular server under an id already known to the
// caller (bootstrap reading the system keyspace's server list, §4.8),
// rather than minting a fresh one.
func (r *Registry) addServerWithID(id ServerID, iface Interface, class ProcessClass, locality Locality, addedVersion uint64) (*Server, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addServerLocked(id, iface, class, locality, addedVersion, false, ServerID{})
}

func (r *Registry) addServerLocked(id ServerID, iface Interface, class ProcessClass, locality Locality, addedVersion uint64, testing bool, pairID ServerID) (*Server, error) {
	if _, exists := r.servers[id]; exists {
		log.Warnf("ddtc: addServer rejected, id %s already exists", id)
		return nil, ErrServerExists
	}

	s := newServer(id, iface, class, locality, addedVersion)
	s.IsTestingServer = testing
	s.PairID = pairID
	r.servers[id] = s

	if !testing {
		r.checkAndCreateMachine(s)
		pid, _ := locality.Get(LocalityProcess)
		r.processIndex[pid] = append(r.processIndex[pid], s)
	}

	return s, nil
}

// RemoveServer removes a server from the registry (§4.1). Every team
// containing it is removed first (propagating to its machine team's
// server-team list), then the server is removed from its machine; if the
// machine becomes empty, the machine itself is removed, which in turn
// removes every machine team containing it.
func (r *Registry) RemoveServer(id ServerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.servers[id]
	if !ok {
		log.Warnf("ddtc: removeServer no-op, id %s not found", id)
		return nil
	}

	for _, t := range s.Teams() {
		r.removeTeamLocked(t)
	}

	if !s.IsTestingServer {
		if m, ok := r.machines[s.MachineID]; ok {
			m.removeServer(s)
			if pid, ok := s.Locality.Get(LocalityProcess); ok {
				r.processIndex[pid] = removeServerFromSlice(r.processIndex[pid], s)
			}
			if m.empty() {
				r.removeMachineLocked(m)
			}
		}
	}

	delete(r.servers, id)
	return nil
}

// RemoveTestingServer removes a testing server. Unlike RemoveServer it never
// touches the machine/team graph, since testing servers never join either.
func (r *Registry) RemoveTestingServer(id ServerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.servers[id]; !ok {
		log.Warnf("ddtc: removeTestingServer no-op, id %s not found", id)
		return nil
	}
	delete(r.servers, id)
	return nil
}

// checkAndCreateMachine creates s's machine if this is the first server
// reporting that machine id, and joins s to it either way.
func (r *Registry) checkAndCreateMachine(s *Server) *Machine {
	m, ok := r.machines[s.MachineID]
	if !ok {
		m = newMachine(s.MachineID, s.Locality)
		r.machines[s.MachineID] = m
	}
	m.addServer(s)
	return m
}

// removeMachineLocked removes m and every machine team containing it.
func (r *Registry) removeMachineLocked(m *Machine) {
	for _, mt := range m.MachineTeams() {
		r.removeMachineTeamLocked(mt)
	}
	delete(r.machines, m.ID)
}

// RemoveMachine is the exported form for callers outside the registry's own
// cascade (e.g. tests exercising invariant 3 directly).
func (r *Registry) RemoveMachine(m *Machine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeMachineLocked(m)
}

// FindMachineTeam returns the machine team whose machine set exactly
// matches machineIDs, if one exists.
func (r *Registry) FindMachineTeam(machineIDs []MachineID) *MachineTeam {
	r.mu.RLock()
	defer r.mu.RUnlock()

	want := make(map[MachineID]int, len(machineIDs))
	for _, id := range machineIDs {
		want[id]++
	}
	for _, mt := range r.machineTeams {
		if len(mt.Machines) != len(machineIDs) {
			continue
		}
		got := make(map[MachineID]int, len(mt.Machines))
		for _, m := range mt.Machines {
			got[m.ID]++
		}
		equal := true
		for k, v := range want {
			if got[k] != v {
				equal = false
				break
			}
		}
		if equal {
			return mt
		}
	}
	return nil
}

// CheckAndCreateMachineTeam returns the existing machine team over exactly
// machines, creating it if necessary.
func (r *Registry) CheckAndCreateMachineTeam(machines []*Machine) (*MachineTeam, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]MachineID, len(machines))
	for i, m := range machines {
		ids[i] = m.ID
	}
	if existing := r.findMachineTeamLocked(ids); existing != nil {
		return existing, nil
	}

	teamID, err := r.teamIDs.next()
	if err != nil {
		return nil, err
	}
	mt := newMachineTeam(teamID, machines)
	for _, m := range machines {
		m.joinMachineTeam(mt)
	}
	r.machineTeams[mt.ID] = mt
	return mt, nil
}

func (r *Registry) findMachineTeamLocked(machineIDs []MachineID) *MachineTeam {
	for _, mt := range r.machineTeams {
		existing := mt.MachineIDs()
		if len(existing) != len(machineIDs) {
			continue
		}
		if sameMachineIDSet(existing, machineIDs) {
			return mt
		}
	}
	return nil
}

func sameMachineIDSet(a, b []MachineID) bool {
	count := make(map[MachineID]int, len(a))
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

// removeMachineTeamLocked removes mt. Every server team backed by mt is
// marked bad by the caller before this is invoked; removeMachineTeamLocked
// itself only unlinks the machine-team structure (invariant 3).
func (r *Registry) removeMachineTeamLocked(mt *MachineTeam) {
	for _, m := range mt.Machines {
		m.leaveMachineTeam(mt)
	}
	delete(r.machineTeams, mt.ID)
}

// RemoveMachineTeam is the exported cascade entry point used by the
// machine-team remover (§4.7).
func (r *Registry) RemoveMachineTeam(mt *MachineTeam) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeMachineTeamLocked(mt)
}

// AddTeam commits a new server team backed by machineTeam, joining every
// member server and the machine team to it (invariant 3).
func (r *Registry) AddTeam(members []*Server, mt *MachineTeam) (*ServerTeam, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	teamID, err := r.teamIDs.next()
	if err != nil {
		return nil, err
	}
	t := newServerTeam(teamID, members, mt)
	for _, s := range t.Members {
		s.joinTeam(t)
	}
	mt.joinServerTeam(t)
	r.serverTeams[t.ID] = t
	t.recomputeHealthy()
	return t, nil
}

func (r *Registry) removeTeamLocked(t *ServerTeam) {
	for _, s := range t.Members {
		s.leaveTeam(t)
	}
	if t.MachineTeam != nil {
		t.MachineTeam.leaveServerTeam(t)
	}
	delete(r.serverTeams, t.ID)
}

// RemoveTeam removes t from the registry. A team's removal must precede the
// removal of any of its members (§5 ordering guarantee); callers drive that
// ordering, RemoveTeam just performs the unlink.
func (r *Registry) RemoveTeam(t *ServerTeam) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeTeamLocked(t)
}

// Servers returns a snapshot slice of every server in the registry.
func (r *Registry) Servers() []*Server {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Server, 0, len(r.servers))
	for _, s := range r.servers {
		out = append(out, s)
	}
	return out
}

// Machines returns a snapshot slice of every machine in the registry.
func (r *Registry) Machines() []*Machine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Machine, 0, len(r.machines))
	for _, m := range r.machines {
		out = append(out, m)
	}
	return out
}

// ServerTeams returns a snapshot slice of every server team in the registry.
func (r *Registry) ServerTeams() []*ServerTeam {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ServerTeam, 0, len(r.serverTeams))
	for _, t := range r.serverTeams {
		out = append(out, t)
	}
	return out
}

// MachineTeams returns a snapshot slice of every machine team in the registry.
func (r *Registry) MachineTeams() []*MachineTeam {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*MachineTeam, 0, len(r.machineTeams))
	for _, mt := range r.machineTeams {
		out = append(out, mt)
	}
	return out
}

// Server looks up a server by id.
func (r *Registry) Server(id ServerID) (*Server, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.servers[id]
	return s, ok
}

// Machine looks up a machine by id.
func (r *Registry) Machine(id MachineID) (*Machine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.machines[id]
	return m, ok
}

// ServersByProcess returns the servers sharing pid, used by the wiggle
// controller to mark a process's servers WIGGLING.
func (r *Registry) ServersByProcess(pid string) []*Server {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Server(nil), r.processIndex[pid]...)
}

// SortedProcessIDs returns every known process id in sorted order, used by
// the wiggle controller to advance the wiggling pid (§4.6).
func (r *Registry) SortedProcessIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.processIndex))
	for pid := range r.processIndex {
		ids = append(ids, pid)
	}
	sort.Strings(ids)
	return ids
}

func removeServerFromSlice(servers []*Server, target *Server) []*Server {
	out := servers[:0]
	for _, s := range servers {
		if s.ID != target.ID {
			out = append(out, s)
		}
	}
	return out
}

