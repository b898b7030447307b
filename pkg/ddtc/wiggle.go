package ddtc

import (
	"context"
	"sort"

	"github.com/fagongzi/log"
)

// WiggleKeyspace is the subset of the system keyspace (§6) the wiggle
// controller reads and writes: the enable switch, the current wiggling
// pid, and the write of the next pid.
type WiggleKeyspace interface {
	PerpetualWiggleEnabled(ctx context.Context) (bool, error)
	CurrentWigglingPID(ctx context.Context) (string, error)
	AdvanceWigglingPID(ctx context.Context, next string) error
}

// RelocationHealth reports whether the relocation queue currently has too
// many unhealthy in-flight moves (§4.6 pause condition (a)); out of scope,
// consumed as an interface.
type RelocationHealth interface {
	TooManyUnhealthyMoves(ctx context.Context) (bool, error)
}

// WiggleController is the rolling-restart half of §4.6. It iterates process
// ids in sorted order, marking each process's servers WIGGLING until their
// shards drain, then unmarking, advancing, and persisting the next pid.
// Grounded on the teacher's etcd-watch-driven control loop idiom
// (pkg/election.elector.ElectionLoop, vendor/.../prophet.store_etcd.WatchLeader).
type WiggleController struct {
	reg       *Registry
	exclusion *ExclusionController
	keyspace  WiggleKeyspace
	shards    ShardDrainWaiter
	health    RelocationHealth

	// onStatusChange is invoked once after a batch of servers has its
	// Status.IsWiggling bit set and once after the batch is cleared, so the
	// supervisor's derived-status recompute picks it up (§4.4, §8 scenario 4).
	onStatusChange func()

	// extraTeamCounter is the hysteresis-style penalty applied when the
	// controller pauses for a non-queue-pressure reason, so it does not
	// immediately resume and re-pause in a tight loop (§9 oscillation
	// avoidance).
	extraTeamCounter int

	stuckRounds     int
	maxStuckRounds  int

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWiggleController returns a controller for one region. onStatusChange
// may be nil; when set, it is invoked once after each wiggle/unwiggle batch.
func NewWiggleController(reg *Registry, exclusion *ExclusionController, keyspace WiggleKeyspace, shards ShardDrainWaiter, health RelocationHealth, onStatusChange func()) *WiggleController {
	ctx, cancel := context.WithCancel(context.Background())
	return &WiggleController{
		reg: reg, exclusion: exclusion, keyspace: keyspace, shards: shards, health: health,
		onStatusChange: onStatusChange,
		maxStuckRounds: 3,
		ctx: ctx, cancel: cancel,
	}
}

// Stop cancels the controller's loop.
func (w *WiggleController) Stop() { w.cancel() }

// RunOnce drives one step of the wiggle loop: if wiggling is disabled or
// paused, it is a no-op; otherwise it wiggles the current pid (waiting for
// its shards to drain) then advances to the next pid in sorted order,
// wrapping to first. healthyTeams is the region's current healthy-team
// count, used for the "healthy teams too few" pause condition (b).
func (w *WiggleController) RunOnce(healthyTeams, desiredTeams int) error {
	enabled, err := w.keyspace.PerpetualWiggleEnabled(w.ctx)
	if err != nil || !enabled {
		return err
	}

	if w.shouldPause(healthyTeams, desiredTeams) {
		w.stuckRounds++
		return nil
	}
	w.stuckRounds = 0

	pid, err := w.keyspace.CurrentWigglingPID(w.ctx)
	if err != nil {
		return err
	}

	servers := w.reg.ServersByProcess(pid)
	for _, s := range servers {
		w.exclusion.SetWiggling(s.Interface.Address)
		s.Status.IsWiggling = true
	}
	if w.onStatusChange != nil && len(servers) > 0 {
		w.onStatusChange()
	}

	for _, s := range servers {
		if err := w.shards.WaitDrained(w.ctx, s.ID); err != nil {
			return err
		}
	}

	for _, s := range servers {
		w.exclusion.ClearWiggling(s.Interface.Address)
		s.Status.IsWiggling = false
	}
	if w.onStatusChange != nil && len(servers) > 0 {
		w.onStatusChange()
	}

	next := w.nextPID(pid)
	if err := w.keyspace.AdvanceWigglingPID(w.ctx, next); err != nil {
		return err
	}
	log.Infof("ddtc: perpetual wiggle advanced from pid %s to %s", pid, next)
	return nil
}

// shouldPause implements §4.6's three pause conditions: too many unhealthy
// in-flight moves, too few healthy teams (with hysteresis), or the
// team-selection loop stuck too long.
func (w *WiggleController) shouldPause(healthyTeams, desiredTeams int) bool {
	if busy, err := w.health.TooManyUnhealthyMoves(w.ctx); err == nil && busy {
		return true
	}

	threshold := desiredTeams - w.extraTeamCounter
	if healthyTeams < threshold {
		w.extraTeamCounter++
		return true
	}
	if w.extraTeamCounter > 0 {
		w.extraTeamCounter--
	}

	return w.stuckRounds >= w.maxStuckRounds
}

func (w *WiggleController) nextPID(current string) string {
	pids := w.reg.SortedProcessIDs()
	if len(pids) == 0 {
		return current
	}
	idx := sort.SearchStrings(pids, current)
	if idx < len(pids) && pids[idx] == current {
		idx++
	}
	if idx >= len(pids) {
		idx = 0
	}
	return pids[idx]
}
