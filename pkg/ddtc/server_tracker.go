package ddtc

import (
	"context"
	"math/rand"
	"time"
)

// FailureMonitor is the out-of-scope collaborator that reports whether a
// server's network interface is currently reachable (§4.4 "failure
// endpoint"). Consumed as an interface.
type FailureMonitor interface {
	// Watch blocks until the server's reachability changes, returning the
	// new value, or returns ctx.Err() on cancellation.
	Watch(ctx context.Context, id ServerID, addr string) (failed bool, err error)
}

// MetricsSource is the out-of-scope collaborator that reports a server's
// storage metrics on request (§4.4 "metrics poller").
type MetricsSource interface {
	RequestMetrics(ctx context.Context, id ServerID, addr string) (StorageMetrics, error)
}

// InterfaceWatcher is the out-of-scope collaborator that reports interface
// (address/locality) changes for a server (§4.4).
type InterfaceWatcher interface {
	Watch(ctx context.Context, id ServerID) (Interface, Locality, error)
}

// ServerTracker is the per-server health, locality, store-type, and
// interface-change monitor (§4.4): three concurrent sub-tasks, grounded on
// the teacher's per-task-on-a-cancellable-context idiom seen in
// vendor/.../prophet.prophet_coordinator.runScheduler and
// pkg/election.elector.ElectionLoop.
type ServerTracker struct {
	cfg    *Cfg
	reg    *Registry
	server *Server

	failureMon FailureMonitor
	metricsSrc MetricsSource
	ifaceWatch InterfaceWatcher
	exclusion  *ExclusionController

	shards ShardDrainWaiter
	onRebuild func()
	onRemoveFailed func(ServerID)

	// maintenanceZone reports whether this server currently sits in a zone
	// that forces isFailed=false (§4.4, §9 overload).
	maintenanceZone func(Locality) bool

	// optimalTeams reports whether the region currently has at least one
	// optimal team, gating the unfit-process-class undesired reason (§4.4).
	optimalTeams func() bool

	ctx    context.Context
	cancel context.CancelFunc
}

// ShardDrainWaiter is the out-of-scope collaborator the failure tracker
// consults before emitting a removal signal, to confirm all shards have
// drained off a failed server.
type ShardDrainWaiter interface {
	WaitDrained(ctx context.Context, id ServerID) error
}

// NewServerTracker starts the three sub-tasks tracking s. Call Stop to
// cancel them (§5 cancellation handle).
func NewServerTracker(cfg *Cfg, reg *Registry, s *Server, failureMon FailureMonitor, metricsSrc MetricsSource, ifaceWatch InterfaceWatcher, exclusion *ExclusionController, shards ShardDrainWaiter, onRebuild func(), onRemoveFailed func(ServerID), maintenanceZone func(Locality) bool, optimalTeams func() bool) *ServerTracker {
	ctx, cancel := context.WithCancel(context.Background())
	t := &ServerTracker{
		cfg: cfg, reg: reg, server: s,
		failureMon: failureMon, metricsSrc: metricsSrc, ifaceWatch: ifaceWatch,
		exclusion: exclusion, shards: shards,
		onRebuild: onRebuild, onRemoveFailed: onRemoveFailed,
		maintenanceZone: maintenanceZone,
		optimalTeams: optimalTeams,
		ctx: ctx, cancel: cancel,
	}
	go t.runFailureTracker()
	go t.runMetricsPoller()
	go t.runInterfaceWatcher()
	return t
}

// Stop cancels every sub-task.
func (st *ServerTracker) Stop() { st.cancel() }

// runFailureTracker is the first sub-task (§4.4).
func (st *ServerTracker) runFailureTracker() {
	for {
		failed, err := st.failureMon.Watch(st.ctx, st.server.ID, st.server.Interface.Address)
		if err != nil {
			return
		}

		if st.maintenanceZone != nil && st.maintenanceZone(st.server.Locality) {
			failed = false
		}

		if st.server.Status.IsFailed == failed {
			continue
		}

		if failed && st.exclusion.Status(st.server.Interface.Address) != ExclusionFailed {
			if err := st.shards.WaitDrained(st.ctx, st.server.ID); err != nil {
				return
			}
		}

		st.server.Status.IsFailed = failed
		st.recomputeDerivedStatus()
		if st.onRebuild != nil {
			st.onRebuild()
		}
	}
}

// runMetricsPoller is the second sub-task (§4.4).
func (st *ServerTracker) runMetricsPoller() {
	for {
		delay := st.cfg.MetricsPollInterval + time.Duration(rand.Int63n(int64(st.cfg.MetricsPollInterval)))
		select {
		case <-st.ctx.Done():
			return
		case <-time.After(delay):
		}

		m, err := st.metricsSrc.RequestMetrics(st.ctx, st.server.ID, st.server.Interface.Address)
		if err != nil {
			continue
		}

		lagging := time.Since(m.LastUpdateTime) > st.cfg.StuckLastUpdateThreshold ||
			m.VersionLag > 0 && time.Since(m.LastUpdateTime) > st.cfg.VersionLagThreshold
		st.server.Metrics = m

		if lagging != st.server.VersionTooFarBehind {
			st.server.VersionTooFarBehind = lagging
			st.recomputeDerivedStatus()
			if st.onRebuild != nil {
				st.onRebuild()
			}
		}
	}
}

// runInterfaceWatcher is the third sub-task (§4.4).
func (st *ServerTracker) runInterfaceWatcher() {
	for {
		iface, locality, err := st.ifaceWatch.Watch(st.ctx, st.server.ID)
		if err != nil {
			return
		}

		prevMachine := st.server.MachineID
		st.server.Interface = iface
		st.server.Locality = locality.Clone()
		st.server.Status.Locality = locality.Clone()

		mid, _ := locality.Get(LocalityMachine)
		newMachine := MachineID(mid)
		if newMachine != prevMachine {
			st.moveMachine(newMachine)
		}

		st.recomputeDerivedStatus()
		if st.onRebuild != nil {
			st.onRebuild()
		}
	}
}

func (st *ServerTracker) moveMachine(newMachine MachineID) {
	s := st.server
	if old, ok := st.reg.Machine(s.MachineID); ok {
		old.removeServer(s)
	}
	s.MachineID = newMachine
	st.reg.checkAndCreateMachine(s)

	for _, t := range s.Teams() {
		if t.MachineTeam == nil || !sameMachineSet(t.MachineTeam.Machines, serverMachines(t.Members, st.reg)) {
			t.Bad = true
		}
	}
}

func serverMachines(members []*Server, reg *Registry) []*Machine {
	out := make([]*Machine, 0, len(members))
	for _, s := range members {
		if m, ok := reg.Machine(s.MachineID); ok {
			out = append(out, m)
		}
	}
	return out
}

// recomputeDerivedStatus recomputes isUndesired and isWrongConfiguration per
// the bit rules in §4.4. isWiggling is maintained by the exclusion/wiggle
// controller directly and is not touched here.
func (st *ServerTracker) recomputeDerivedStatus() {
	s := st.server
	status := st.exclusion.Status(s.Interface.Address)

	wrongStoreType := s.WrongStoreTypeToRemove && st.cfg.StorageMigrationType != MigrationDisabled

	s.Status.IsUndesired = st.hasUndesirableReason(status) || wrongStoreType
	s.Status.IsWrongConfiguration = !s.InDesiredDC ||
		status == ExclusionExcluded || status == ExclusionFailed ||
		s.Status.IsWiggling ||
		(s.WrongStoreTypeToRemove && st.cfg.StorageMigrationType == MigrationAggressive)
}

func (st *ServerTracker) hasUndesirableReason(status ExclusionStatus) bool {
	s := st.server
	if status == ExclusionExcluded || status == ExclusionFailed {
		return true
	}
	if s.ProcessClass != ProcessClassStorage && s.ProcessClass != ProcessClassUnset {
		if st.optimalTeams != nil && st.optimalTeams() {
			return true
		}
	}
	return st.hasHealthierSameAddressPeer()
}

// hasHealthierSameAddressPeer reports whether another server shares this
// server's network address, is itself healthy, and already carries at
// least as many shards as this one (§4.4 "same-address peer"). Two
// servers only share an address during a process restart on the same
// machine; once the replacement is caught up, the older one is retired.
func (st *ServerTracker) hasHealthierSameAddressPeer() bool {
	s := st.server
	for _, peer := range st.reg.Servers() {
		if peer.ID == s.ID || peer.Interface.Address != s.Interface.Address {
			continue
		}
		if peer.Status.IsFailed || peer.Status.IsUndesired {
			continue
		}
		if peer.Metrics.ShardCount >= s.Metrics.ShardCount {
			return true
		}
	}
	return false
}

// OnFailedExclusion is invoked by the supervisor (triggerFailedExclusions)
// when this server's address transitions to ExclusionFailed (§4.4 "FAILED
// exclusion").
// It escalates via onRemoveFailed and returns ErrRemoveFailedServer so the
// caller can trigger higher-level key-range repair.
func (st *ServerTracker) OnFailedExclusion() error {
	if st.onRemoveFailed != nil {
		st.onRemoveFailed(st.server.ID)
	}
	return ErrRemoveFailedServer
}
