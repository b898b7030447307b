package ddtc

import (
	"context"
	"sync"
	"time"

	"github.com/fagongzi/log"
)

// Supervisor is the per-region control loop (§2, §5): it owns the Registry
// and drives recruit -> add -> build -> track -> remove on a single
// goroutine, the way the teacher's vendored prophet.Coordinator drives its
// runScheduler loop and pkg/election.elector drives its ElectionLoop. Every
// Registry mutation happens on this goroutine; trackers running on their own
// goroutines only read snapshots and call back into the channel below to
// request a rebuild.
type Supervisor struct {
	cfg *Cfg
	reg *Registry

	keyspace   Keyspace
	shards     ShardLookup
	drain      ShardDrainWaiter
	health     RelocationHealth
	controller ClusterController

	failureMon FailureMonitor
	metricsSrc MetricsSource
	ifaceWatch InterfaceWatcher

	events EventEmitter
	tw     *TimeoutWheel

	teamMx   *TeamMetrics
	regionMx *RegionMetrics

	builder   *Builder
	remover   *Remover
	recruiter *Recruiter
	exclusion *ExclusionController
	wiggle    *WiggleController
	cross     *CrossRegionView

	mu           sync.Mutex
	serverTrack  map[ServerID]*ServerTracker
	teamTrack    map[TeamID]*TeamTracker
	healthyTeams int
	optimalTeams int

	rebuildC chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// SupervisorDeps bundles every out-of-scope collaborator the supervisor
// wires into the trackers and recruiter it creates (§6).
type SupervisorDeps struct {
	Keyspace   Keyspace
	Shards     ShardLookup
	Drain      ShardDrainWaiter
	Health     RelocationHealth
	Controller ClusterController

	FailureMon FailureMonitor
	MetricsSrc MetricsSource
	IfaceWatch InterfaceWatcher

	RelocationSink   RelocationSink
	StorageInitiator StorageInitiator

	EmitterWorkers int
}

// NewSupervisor wires a full region: registry, builder, remover, recruiter,
// exclusion controller, wiggle controller, event emitter, and cross-region
// view, ready to be started with Run.
func NewSupervisor(cfg *Cfg, regionMachineID uint16, cross *CrossRegionView, deps SupervisorDeps) *Supervisor {
	cfg.Adjust()
	ctx, cancel := context.WithCancel(context.Background())

	reg := NewRegistry(regionMachineID)
	teamMx := NewTeamMetrics(cfg.Region)
	regionMx := NewRegionMetrics(cfg.Region)
	tw := NewTimeoutWheel()

	events := NewEventEmitter(cfg.Region, deps.EmitterWorkers, deps.RelocationSink, deps.StorageInitiator, tw, regionMx)

	s := &Supervisor{
		cfg: cfg, reg: reg,
		keyspace: deps.Keyspace, shards: deps.Shards, drain: deps.Drain, health: deps.Health, controller: deps.Controller,
		failureMon: deps.FailureMon, metricsSrc: deps.MetricsSrc, ifaceWatch: deps.IfaceWatch,
		events: events, tw: tw,
		teamMx: teamMx, regionMx: regionMx,
		builder:   NewBuilder(cfg, reg, regionMx),
		remover:   NewRemover(cfg, reg),
		exclusion: NewExclusionController(),
		cross:     cross,
		serverTrack: make(map[ServerID]*ServerTracker),
		teamTrack:   make(map[TeamID]*TeamTracker),
		rebuildC:    make(chan struct{}, 1),
		ctx:         ctx, cancel: cancel,
	}
	s.recruiter = NewRecruiter(cfg, reg, deps.Controller, events)
	s.wiggle = NewWiggleController(reg, s.exclusion, deps.Keyspace, deps.Drain, deps.Health, s.recomputeAllServerStatus)
	return s
}

// Registry exposes the region's membership graph to callers outside the
// supervisor, e.g. the debug-snapshot endpoint (SUPPLEMENTED FEATURES #3).
func (s *Supervisor) Registry() *Registry { return s.reg }

// Exclusion exposes the region's exclusion controller for the same reason.
func (s *Supervisor) Exclusion() *ExclusionController { return s.exclusion }

// Run starts every background loop for this region: bootstrap, the
// keyspace watch loop, the periodic remove/recruit/wiggle ticks, and the
// rebuild-request drain loop, which runs every build. It blocks until ctx
// is cancelled, then calls Stop.
func (s *Supervisor) Run(ctx context.Context, bootstrapSource BootstrapSource, localDC string) error {
	if err := s.events.Start(); err != nil {
		return err
	}
	defer s.events.Stop()

	bs := NewBootstrap(s.cfg, s.reg, bootstrapSource, localDC)
	if err := bs.Run(ctx); err != nil {
		log.Errorf("ddtc[%s]: bootstrap failed with %+v", s.cfg.Region, err)
		return err
	}
	for _, srv := range s.reg.Servers() {
		s.attachServerTracker(srv)
	}
	for _, t := range s.reg.ServerTeams() {
		s.attachTeamTracker(t)
	}
	s.requestRebuild()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); s.watchKeyspace(ctx) }()
	wg.Add(1)
	go func() { defer wg.Done(); s.runTicker(ctx) }()
	wg.Add(1)
	go func() { defer wg.Done(); s.drainRebuilds(ctx) }()

	<-ctx.Done()
	s.Stop()
	wg.Wait()
	return ctx.Err()
}

// Stop cancels every server and team tracker and the recruiter's pending
// rendezvous (§5 cancellation handle).
func (s *Supervisor) Stop() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.serverTrack {
		t.Stop()
	}
	for _, t := range s.teamTrack {
		t.Stop()
	}
	s.recruiter.Stop()
}

// watchKeyspace drains the excluded-address, failed-address and healthy-zone
// watch channels and applies updates to the exclusion controller and
// healthy-zone state (§6). The locality lists are not watched.
func (s *Supervisor) watchKeyspace(ctx context.Context) {
	excludedAddr, err := s.keyspace.WatchExcludedAddresses(ctx)
	if err != nil {
		log.Errorf("ddtc[%s]: watch excluded addresses failed with %+v", s.cfg.Region, err)
		return
	}
	failedAddr, err := s.keyspace.WatchFailedAddresses(ctx)
	if err != nil {
		log.Errorf("ddtc[%s]: watch failed addresses failed with %+v", s.cfg.Region, err)
		return
	}
	healthyZone, err := s.keyspace.WatchHealthyZone(ctx)
	if err != nil {
		log.Errorf("ddtc[%s]: watch healthy zone failed with %+v", s.cfg.Region, err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case addrs, ok := <-excludedAddr:
			if !ok {
				return
			}
			s.exclusion.ApplyExcludedList(addrs)
			s.recomputeAllServerStatus()
		case addrs, ok := <-failedAddr:
			if !ok {
				return
			}
			s.exclusion.ApplyFailedList(addrs)
			s.recomputeAllServerStatus()
			s.triggerFailedExclusions(addrs)
		case u, ok := <-healthyZone:
			if !ok {
				return
			}
			s.exclusion.SetHealthyZone(u.Zone, u.ExpiryVersion)
		}
	}
}

// runTicker drives the periodic portion of the control loop: remove,
// recruit, and wiggle, each on its own cadence (§2, §4.5, §4.6, §4.7).
// Builds are not ticked; they run on rebuild requests in drainRebuilds.
func (s *Supervisor) runTicker(ctx context.Context) {
	removeTick := time.NewTicker(s.cfg.RemoverBackoff)
	defer removeTick.Stop()
	recruitTick := time.NewTicker(s.cfg.RecruitmentTimeout)
	defer recruitTick.Stop()
	wiggleTick := time.NewTicker(s.cfg.MetricsPollInterval)
	defer wiggleTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-removeTick.C:
			s.runRemovePass()
		case <-recruitTick.C:
			s.runRecruitPass()
		case <-wiggleTick.C:
			s.runWigglePass()
		}
	}
}

func (s *Supervisor) runRemovePass() {
	if s.exclusion.DDLoopDisabled(0) {
		return
	}
	healthy := s.healthyTeamCount()
	desiredMachineTeams := len(s.reg.Machines()) * s.cfg.DesiredTeamsPerServer
	desiredServerTeams := len(s.reg.Servers()) * s.cfg.DesiredTeamsPerServer / max1(s.cfg.StorageTeamSize)

	s.remover.RemoveExcessMachineTeams(healthy, desiredMachineTeams)
	s.remover.RemoveExcessServerTeams(healthy, desiredServerTeams)
	s.remover.RemoveBadTeams(healthy, s.detachTeamTracker)
}

func (s *Supervisor) runRecruitPass() {
	if s.exclusion.DDLoopDisabled(0) {
		return
	}
	s.recruiter.SetHealthyTeams(s.healthyTeamCount())
	s.recruiter.RunOnce(s.excludedAddresses())
	s.recruiter.KillExcessTestingServers(func(id ServerID) {
		if err := s.reg.RemoveTestingServer(id); err != nil {
			log.Warnf("ddtc[%s]: remove excess testing server failed with %+v", s.cfg.Region, err)
		}
	})
}

func (s *Supervisor) runWigglePass() {
	if err := s.wiggle.RunOnce(s.healthyTeamCount(), len(s.reg.Servers())*s.cfg.DesiredTeamsPerServer); err != nil {
		log.Warnf("ddtc[%s]: wiggle pass failed with %+v", s.cfg.Region, err)
	}
}

// drainRebuilds coalesces rebuild requests from trackers into build calls
// (invariant 7), recomputing every team tracker once the build settles.
func (s *Supervisor) drainRebuilds(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.rebuildC:
			s.builder.BuildTeams()
			for _, t := range s.reg.ServerTeams() {
				s.attachTeamTracker(t)
			}
			s.recomputeAllTeams()
		}
	}
}

func (s *Supervisor) requestRebuild() {
	select {
	case s.rebuildC <- struct{}{}:
	default:
	}
}

func (s *Supervisor) attachServerTracker(srv *Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.serverTrack[srv.ID]; ok {
		return
	}
	s.serverTrack[srv.ID] = NewServerTracker(
		s.cfg, s.reg, srv,
		s.failureMon, s.metricsSrc, s.ifaceWatch,
		s.exclusion, s.drain,
		s.requestRebuild,
		func(id ServerID) { s.handleFailedServer(id) },
		func(l Locality) bool { return s.exclusion.InMaintenanceZone(l, 0) },
		func() bool { return s.optimalTeamCount() > 0 },
	)
}

func (s *Supervisor) attachTeamTracker(t *ServerTeam) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.teamTrack[t.ID]; ok {
		return
	}
	s.teamTrack[t.ID] = NewTeamTracker(s.cfg, t, s.shards, s.events, s.tw, s.teamMx, s.cross, s.exclusion)
}

func (s *Supervisor) detachTeamTracker(t *ServerTeam) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tt, ok := s.teamTrack[t.ID]; ok {
		tt.Stop()
		delete(s.teamTrack, t.ID)
	}
}

// handleFailedServer implements the ErrRemoveFailedServer escalation
// (§4.4): remove the server from the registry and its keyspace entry, and
// request a rebuild to replace its lost teams.
func (s *Supervisor) handleFailedServer(id ServerID) {
	s.mu.Lock()
	if tr, ok := s.serverTrack[id]; ok {
		tr.Stop()
		delete(s.serverTrack, id)
	}
	s.mu.Unlock()

	if err := s.reg.RemoveServer(id); err != nil {
		log.Errorf("ddtc[%s]: remove failed server %s failed with %+v", s.cfg.Region, id, err)
	}
	if err := s.keyspace.RemoveServerFromKeyspace(s.ctx, id); err != nil {
		log.Warnf("ddtc[%s]: remove %s from keyspace failed with %+v", s.cfg.Region, id, err)
	}
	s.requestRebuild()
}

func (s *Supervisor) recomputeAllTeams() {
	s.mu.Lock()
	trackers := make([]*TeamTracker, 0, len(s.teamTrack))
	for _, tt := range s.teamTrack {
		trackers = append(trackers, tt)
	}
	s.mu.Unlock()

	healthy := 0
	optimal := 0
	for _, tt := range trackers {
		tt.Recompute()
		if tt.team.cachedHealthy {
			healthy++
		}
		if tt.IsOptimal() {
			optimal++
		}
	}
	s.mu.Lock()
	s.healthyTeams = healthy
	s.optimalTeams = optimal
	s.mu.Unlock()
}

// triggerFailedExclusions notifies the tracker of every server whose
// address is now ExclusionFailed, so OnFailedExclusion's removal escalation
// actually fires (§4.4, §8 scenario 3).
func (s *Supervisor) triggerFailedExclusions(addrs []string) {
	failed := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		failed[a] = true
	}
	for _, srv := range s.reg.Servers() {
		if !failed[srv.Interface.Address] {
			continue
		}
		s.mu.Lock()
		tr, ok := s.serverTrack[srv.ID]
		s.mu.Unlock()
		if !ok {
			continue
		}
		if err := tr.OnFailedExclusion(); err != nil {
			log.Warnf("ddtc[%s]: server %s escalated for removal: %+v", s.cfg.Region, srv.ID, err)
		}
	}
}

func (s *Supervisor) optimalTeamCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.optimalTeams
}

func (s *Supervisor) recomputeAllServerStatus() {
	for _, srv := range s.reg.Servers() {
		s.mu.Lock()
		tr, ok := s.serverTrack[srv.ID]
		s.mu.Unlock()
		if ok {
			tr.recomputeDerivedStatus()
		}
	}
	s.recomputeAllTeams()
}

func (s *Supervisor) healthyTeamCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthyTeams
}

func (s *Supervisor) excludedAddresses() []string {
	out := make([]string, 0)
	for _, addr := range s.exclusion.sortedEntries() {
		if st := s.exclusion.Status(addr); st == ExclusionExcluded || st == ExclusionFailed {
			out = append(out, addr)
		}
	}
	return out
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
