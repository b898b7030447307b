package ddtc

import (
	"math/rand"
	"sync"
	"time"

	"github.com/fagongzi/log"
)

// Builder is the team builder (§4.2), grounded on the teacher's vendored
// prophet.balanceReplicaScheduler / replicaChecker.selectBestPeer: best-of-N
// candidate scoring against a distinct-score guard, generalized to a
// two-step machine-team-first then server-team construction.
type Builder struct {
	cfg *Cfg
	reg *Registry
	mx  *RegionMetrics

	mu               sync.Mutex
	running          bool
	restartRequested bool

	// lastBuildTeamsFailed records the builder's soft-failure flag: set when
	// no healthy server with valid locality exists (§4.2 tie-breaks).
	lastBuildTeamsFailed bool
}

// NewBuilder returns a builder bound to reg under cfg.
func NewBuilder(cfg *Cfg, reg *Registry, mx *RegionMetrics) *Builder {
	return &Builder{cfg: cfg, reg: reg, mx: mx}
}

// BuildTeams runs the build algorithm to completion, coalescing concurrent
// calls: at most one build is in flight (invariant 7); a call arriving
// while a build is running sets the restart signal and returns at once,
// and the running call performs the forced re-run before it returns.
func (b *Builder) BuildTeams() {
	b.mu.Lock()
	if b.running {
		b.restartRequested = true
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	for {
		b.runOnce()

		b.mu.Lock()
		if !b.restartRequested {
			b.running = false
			b.mu.Unlock()
			return
		}
		b.restartRequested = false
		b.mu.Unlock()
	}
}

func (b *Builder) runOnce() {
	start := time.Now()
	defer func() {
		b.mx.BuildDuration.Observe(time.Since(start).Seconds())
		b.mx.ServerTeams.Set(float64(len(b.reg.ServerTeams())))
		b.mx.MachineTeams.Set(float64(len(b.reg.MachineTeams())))
	}()

	healthyServers := healthyServers(b.reg.Servers())
	healthyMachines := healthyMachines(b.reg.Machines())

	if len(healthyServers) == 0 {
		b.lastBuildTeamsFailed = true
		log.Warnf("ddtc: buildTeams found no healthy server with valid locality")
		return
	}

	n := len(healthyServers)
	desiredServerTeams := b.cfg.DesiredTeamsPerServer * n
	maxServerTeams := b.cfg.MaxTeamsPerServer * n

	m := len(healthyMachines)
	desiredMachineTeams := b.cfg.DesiredTeamsPerServer * m
	_ = b.cfg.MaxTeamsPerServer * m

	if len(b.reg.MachineTeams()) < desiredMachineTeams {
		built := b.addBestMachineTeams(desiredMachineTeams - len(b.reg.MachineTeams()))
		if built == 0 && len(b.reg.MachineTeams()) < desiredMachineTeams {
			log.Warnf("ddtc: buildTeams could not reach machine team target")
		}
	}

	toBuild := desiredServerTeams - len(b.reg.ServerTeams())
	if toBuild <= 0 {
		b.lastBuildTeamsFailed = false
		return
	}
	b.addTeamsBestOf(toBuild, desiredServerTeams, maxServerTeams)
}

// addBestMachineTeams builds up to count new machine teams, one per
// iteration, per the algorithm in §4.2 step 2.
func (b *Builder) addBestMachineTeams(count int) int {
	k := b.cfg.StorageTeamSize
	built := 0

	for i := 0; i < count; i++ {
		healthyMachines := healthyMachines(b.reg.Machines())
		if len(healthyMachines) < k {
			b.lastBuildTeamsFailed = true
			return built
		}

		best := b.bestMachineTeamCandidate(healthyMachines, k)
		if best == nil {
			return built
		}

		if _, err := b.reg.CheckAndCreateMachineTeam(best); err != nil {
			log.Errorf("ddtc: allocate machine team id failed: %+v", err)
			return built
		}
		built++
	}
	return built
}

func (b *Builder) bestMachineTeamCandidate(healthyMachines []*Machine, k int) []*Machine {
	pivot := leastUsedMachine(healthyMachines)
	if pivot == nil {
		return nil
	}

	attempts := b.cfg.BestOfAmt
	retries := 0
	var best []*Machine
	bestScore := -1.0

	for retries <= b.cfg.MaxBuildRetries {
		for a := 0; a < attempts; a++ {
			candidate, err := b.candidateMachineSet(pivot, healthyMachines, k)
			if err != nil {
				continue
			}
			if b.fullyOverlapsExistingMachineTeam(candidate) {
				continue
			}
			score := b.scoreMachineCandidate(candidate)
			if best == nil || score < bestScore {
				best, bestScore = candidate, score
			}
		}
		if best != nil {
			return best
		}
		retries++
		attempts *= 2
	}
	return nil
}

func (b *Builder) candidateMachineSet(pivot *Machine, pool []*Machine, k int) ([]*Machine, error) {
	forced := []Locality{pivot.Locality}
	candidateLocalities := make([]Locality, 0, len(pool))
	byLocality := make(map[string]*Machine, len(pool))
	for _, m := range pool {
		if m.ID == pivot.ID {
			continue
		}
		key := localityKey(m.Locality)
		candidateLocalities = append(candidateLocalities, m.Locality)
		byLocality[key] = m
	}

	if k == 1 {
		return []*Machine{pivot}, nil
	}

	var chosen []Locality
	if err := b.cfg.Policy.SelectReplicas(forced, candidateLocalities, &chosen, k-1); err != nil {
		return nil, err
	}

	out := []*Machine{pivot}
	for _, l := range chosen {
		out = append(out, byLocality[localityKey(l)])
	}
	return out, nil
}

// scoreMachineCandidate scores a machine-set candidate by the sum of
// machine-team counts across the chosen machines plus an overlap penalty,
// lower is better (§4.2 step 2c).
func (b *Builder) scoreMachineCandidate(machines []*Machine) float64 {
	score := 0.0
	for _, m := range machines {
		score += float64(m.teamCount())
	}
	score += b.cfg.OverlapPenalty * float64(b.maxOverlapWithExisting(machines))
	return score
}

func (b *Builder) fullyOverlapsExistingMachineTeam(candidate []*Machine) bool {
	ids := machineIDSet(candidate)
	for _, mt := range b.reg.MachineTeams() {
		if len(mt.Machines) != len(candidate) {
			continue
		}
		if sameMachineIDSet(mt.MachineIDs(), idsSlice(ids)) {
			return true
		}
	}
	return false
}

func (b *Builder) maxOverlapWithExisting(candidate []*Machine) int {
	ids := machineIDSet(candidate)
	max := 0
	for _, mt := range b.reg.MachineTeams() {
		overlap := 0
		for _, m := range mt.Machines {
			if ids[m.ID] {
				overlap++
			}
		}
		if overlap > max {
			max = overlap
		}
	}
	return max
}

// addTeamsBestOf builds up to teamsToBuild new server teams, never letting
// the registry exceed maxTeams (§4.2 step 3).
func (b *Builder) addTeamsBestOf(teamsToBuild, desiredTeams, maxTeams int) {
	for i := 0; i < teamsToBuild; i++ {
		if len(b.reg.ServerTeams()) >= maxTeams {
			return
		}
		if !b.addOneServerTeam() {
			b.lastBuildTeamsFailed = true
			return
		}
	}
	b.lastBuildTeamsFailed = false
}

func (b *Builder) addOneServerTeam() bool {
	healthyServers := healthyServers(b.reg.Servers())
	pivot := leastUsedServer(healthyServers)
	if pivot == nil {
		return false
	}

	machine, ok := b.reg.Machine(pivot.MachineID)
	if !ok {
		return false
	}
	candidateTeams := machine.MachineTeams()
	mt := randomHealthyMachineTeam(candidateTeams)
	if mt == nil {
		return false
	}

	k := b.cfg.StorageTeamSize
	attempts := b.cfg.BestOfAmt
	retries := 0
	var best []*Server
	bestScore := -1.0

	for retries <= b.cfg.MaxBuildRetries {
		for a := 0; a < attempts; a++ {
			candidate := b.candidateServerSet(pivot, mt, k)
			if candidate == nil {
				continue
			}
			if b.fullyOverlapsExistingServerTeam(candidate) {
				continue
			}
			score := b.scoreServerCandidate(mt, candidate)
			if best == nil || score < bestScore {
				best, bestScore = candidate, score
			}
		}
		if best != nil {
			break
		}
		retries++
		attempts *= 2
	}
	if best == nil {
		return false
	}

	if _, err := b.reg.AddTeam(best, mt); err != nil {
		log.Errorf("ddtc: addTeam failed: %+v", err)
		return false
	}
	return true
}

// candidateServerSet picks one healthy server per machine in mt, forcing
// pivot onto its own machine (§4.2 step 3).
func (b *Builder) candidateServerSet(pivot *Server, mt *MachineTeam, k int) []*Server {
	if len(mt.Machines) != k {
		return nil
	}
	out := make([]*Server, 0, k)
	for _, m := range mt.Machines {
		if m.ID == pivot.MachineID {
			out = append(out, pivot)
			continue
		}
		candidates := healthyServersOnMachine(m)
		if len(candidates) == 0 {
			return nil
		}
		out = append(out, candidates[rand.Intn(len(candidates))])
	}
	return out
}

func (b *Builder) scoreServerCandidate(mt *MachineTeam, candidate []*Server) float64 {
	overlap := b.maxServerOverlapWithExisting(candidate)
	score := b.cfg.OverlapPenalty * float64(overlap)
	for _, s := range candidate {
		score += float64(s.teamCount())
	}
	return score
}

func (b *Builder) fullyOverlapsExistingServerTeam(candidate []*Server) bool {
	ids := serverIDSet(candidate)
	for _, t := range b.reg.ServerTeams() {
		if len(t.Members) != len(candidate) {
			continue
		}
		existing := serverIDSet(t.Members)
		equal := true
		for id := range ids {
			if !existing[id] {
				equal = false
				break
			}
		}
		if equal {
			return true
		}
	}
	return false
}

func (b *Builder) maxServerOverlapWithExisting(candidate []*Server) int {
	ids := serverIDSet(candidate)
	max := 0
	for _, t := range b.reg.ServerTeams() {
		overlap := 0
		for _, s := range t.Members {
			if ids[s.ID] {
				overlap++
			}
		}
		if overlap > max {
			max = overlap
		}
	}
	return max
}

// LastBuildTeamsFailed reports the builder's soft-failure flag (§4.2
// tie-breaks).
func (b *Builder) LastBuildTeamsFailed() bool { return b.lastBuildTeamsFailed }

func healthyServers(servers []*Server) []*Server {
	out := make([]*Server, 0, len(servers))
	for _, s := range servers {
		if !s.IsTestingServer && !s.Status.IsFailed && !s.Status.IsUndesired {
			out = append(out, s)
		}
	}
	return out
}

func healthyServersOnMachine(m *Machine) []*Server {
	out := make([]*Server, 0)
	for _, s := range m.Servers() {
		if !s.IsTestingServer && !s.Status.IsFailed && !s.Status.IsUndesired {
			out = append(out, s)
		}
	}
	return out
}

func healthyMachines(machines []*Machine) []*Machine {
	out := make([]*Machine, 0, len(machines))
	for _, m := range machines {
		if m.Healthy() {
			out = append(out, m)
		}
	}
	return out
}

// leastUsedMachine returns the machine with the fewest machine teams,
// ties broken uniformly at random (§4.2).
func leastUsedMachine(machines []*Machine) *Machine {
	if len(machines) == 0 {
		return nil
	}
	min := machines[0].teamCount()
	var tied []*Machine
	for _, m := range machines {
		if m.teamCount() < min {
			min = m.teamCount()
			tied = []*Machine{m}
		} else if m.teamCount() == min {
			tied = append(tied, m)
		}
	}
	return tied[rand.Intn(len(tied))]
}

// leastUsedServer returns the server with the fewest server teams, ties
// broken uniformly at random (§4.2).
func leastUsedServer(servers []*Server) *Server {
	if len(servers) == 0 {
		return nil
	}
	min := servers[0].teamCount()
	var tied []*Server
	for _, s := range servers {
		if s.teamCount() < min {
			min = s.teamCount()
			tied = []*Server{s}
		} else if s.teamCount() == min {
			tied = append(tied, s)
		}
	}
	return tied[rand.Intn(len(tied))]
}

func randomHealthyMachineTeam(teams []*MachineTeam) *MachineTeam {
	var healthy []*MachineTeam
	for _, mt := range teams {
		if mt.Healthy() {
			healthy = append(healthy, mt)
		}
	}
	if len(healthy) == 0 {
		return nil
	}
	return healthy[rand.Intn(len(healthy))]
}

func localityKey(l Locality) string {
	mid, _ := l.Get(LocalityMachine)
	return mid
}

func machineIDSet(machines []*Machine) map[MachineID]bool {
	out := make(map[MachineID]bool, len(machines))
	for _, m := range machines {
		out[m.ID] = true
	}
	return out
}

func idsSlice(set map[MachineID]bool) []MachineID {
	out := make([]MachineID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func serverIDSet(servers []*Server) map[ServerID]bool {
	out := make(map[ServerID]bool, len(servers))
	for _, s := range servers {
		out[s.ID] = true
	}
	return out
}
