package ddtc

import (
	"time"

	"github.com/fagongzi/log"
)

// Remover runs the two team-remover peers (§4.7): the machine-team remover
// and the server-team remover. Grounded on the teacher's vendored
// prophet.shouldBalance / adjustBalanceLimit (scheduler_balancer.go),
// generalized from single-resource balance to machine-team / server-team
// pruning.
type Remover struct {
	cfg *Cfg
	reg *Registry

	lastActed time.Time
}

// NewRemover returns a remover bound to reg under cfg.
func NewRemover(cfg *Cfg, reg *Registry) *Remover {
	return &Remover{cfg: cfg, reg: reg}
}

// healthyGate is the global "wait until healthy" gate both removers respect
// (§4.7): nothing is removed while the region has zero healthy teams.
func (r *Remover) healthyGate(healthyTeams int) bool {
	if healthyTeams == 0 {
		return false
	}
	if time.Since(r.lastActed) < r.cfg.RemoverBackoff {
		return false
	}
	return true
}

// RemoveExcessMachineTeams implements the machine-team remover. When the
// total machine-team count exceeds target, it repeatedly picks a machine
// team whose members' minimum machine-team count exceeds the per-machine
// target, marks each of its server teams bad, and removes the machine team.
func (r *Remover) RemoveExcessMachineTeams(healthyTeams, target int) {
	if !r.healthyGate(healthyTeams) {
		return
	}

	for len(r.reg.MachineTeams()) > target {
		mt := r.pickRedundantMachineTeam(target)
		if mt == nil {
			return
		}
		for _, t := range mt.ServerTeams() {
			t.Bad = true
		}
		r.reg.RemoveMachineTeam(mt)
		r.lastActed = time.Now()
		log.Infof("ddtc: removed redundant machine team %d", mt.ID)
	}
}

func (r *Remover) pickRedundantMachineTeam(perMachineTarget int) *MachineTeam {
	for _, mt := range r.reg.MachineTeams() {
		min := -1
		for _, m := range mt.Machines {
			if min == -1 || m.teamCount() < min {
				min = m.teamCount()
			}
		}
		if min > perMachineTarget {
			return mt
		}
	}
	return nil
}

// RemoveExcessServerTeams implements the server-team remover, analogous to
// RemoveExcessMachineTeams over servers and server teams.
func (r *Remover) RemoveExcessServerTeams(healthyTeams, target int) {
	if !r.healthyGate(healthyTeams) {
		return
	}

	for len(r.reg.ServerTeams()) > target {
		t := r.pickRedundantServerTeam(target)
		if t == nil {
			return
		}
		t.Redundant = true
		r.lastActed = time.Now()
		log.Infof("ddtc: marked server team %d redundant", t.ID)
		return // one mark per call; the team tracker drains it before removal
	}
}

func (r *Remover) pickRedundantServerTeam(perServerTarget int) *ServerTeam {
	for _, t := range r.reg.ServerTeams() {
		if t.Bad || t.Redundant {
			continue
		}
		min := -1
		for _, s := range t.Members {
			if min == -1 || s.teamCount() < min {
				min = s.teamCount()
			}
		}
		if min > perServerTarget {
			return t
		}
	}
	return nil
}

// RemoveBadTeams gathers teams previously marked bad and, once healthyTeams
// confirms the region has recovered, cancels their trackers (via stop) and
// discards them from the registry.
func (r *Remover) RemoveBadTeams(healthyTeams int, stop func(*ServerTeam)) {
	if healthyTeams == 0 {
		return
	}
	for _, t := range r.reg.ServerTeams() {
		if !t.Bad && !t.Redundant {
			continue
		}
		if t.ShardCount > 0 {
			continue // still draining
		}
		if stop != nil {
			stop(t)
		}
		r.reg.RemoveTeam(t)
		log.Infof("ddtc: discarded drained team %d", t.ID)
	}
}
