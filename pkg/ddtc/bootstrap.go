package ddtc

import (
	"context"

	"github.com/fagongzi/log"
)

// KeyServerRange is one entry of the key-server mapping read during
// bootstrap (§6, §4.8): a key range plus the source and destination server
// sets currently assigned to it.
type KeyServerRange struct {
	Begin, End []byte
	Source     []ServerID
	Dest       []ServerID
}

// BootstrapSource is the system-keyspace reader the external bootstrap
// consumes (§4.8, §6).
type BootstrapSource interface {
	// LoadServerList returns every known server's interface and process
	// class, keyed by id.
	LoadServerList(ctx context.Context) (map[ServerID]ServerListEntry, error)
	// LoadKeyServerRange reads one page of the key-server range, returning
	// the ranges read and whether more remain (a single transaction may not
	// be able to read the entire keyspace, §4.8 "subsequent iterations").
	LoadKeyServerRange(ctx context.Context, after []byte) ([]KeyServerRange, bool, error)
	// DatacenterReplicas reads the configured per-dc replication target.
	DatacenterReplicas(ctx context.Context, dc string) (int, error)
	// SetDatacenterReplicas writes the corrected per-dc replication target.
	SetDatacenterReplicas(ctx context.Context, dc string, target int) error
}

// ServerListEntry is one row of the server list (§6).
type ServerListEntry struct {
	Interface    Interface
	ProcessClass ProcessClass
	Locality     Locality
	AddedVersion uint64
}

// Bootstrap reads the initial server set and team set from the system
// keyspace (§4.8). Grounded on pkg/sharding/prophet_bootstrap.go's
// doBootstrapCluster/createInitFragments, generalized from a single
// fragment to the full key-server range and server list.
type Bootstrap struct {
	cfg    *Cfg
	reg    *Registry
	source BootstrapSource
	localDC string
}

// NewBootstrap returns a bootstrap driver for one region.
func NewBootstrap(cfg *Cfg, reg *Registry, source BootstrapSource, localDC string) *Bootstrap {
	return &Bootstrap{cfg: cfg, reg: reg, source: source, localDC: localDC}
}

// Run executes the full bootstrap sequence: load servers, then pre-populate
// teams from observed key-server placements until the range is exhausted.
func (b *Bootstrap) Run(ctx context.Context) error {
	entries, err := b.source.LoadServerList(ctx)
	if err != nil {
		return err
	}
	for id, e := range entries {
		if _, err := b.reg.addServerWithID(id, e.Interface, e.ProcessClass, e.Locality, e.AddedVersion); err != nil {
			log.Warnf("ddtc: bootstrap addServer %s failed with %+v", id, err)
		}
	}

	var after []byte
	for {
		ranges, more, err := b.source.LoadKeyServerRange(ctx, after)
		if err != nil {
			return err
		}
		for _, kr := range ranges {
			b.prepopulateTeam(kr.Source)
			b.prepopulateTeam(kr.Dest)
			after = kr.End
		}
		if !more {
			break
		}
	}

	// prepopulateTeam(nil) returns without creating anything: no dummy
	// end-of-range shard or sentinel team is recorded.
	b.prepopulateTeam(nil)

	return b.reconcileDatacenterReplicas(ctx)
}

// prepopulateTeam creates a server team from an observed placement, even an
// unusually sized one, out of every listed server found in the registry.
// Members are not classified as primary or remote: no datacenter id is
// checked.
func (b *Bootstrap) prepopulateTeam(memberIDs []ServerID) {
	if len(memberIDs) == 0 {
		return
	}
	members := make([]*Server, 0, len(memberIDs))
	machines := make([]*Machine, 0, len(memberIDs))
	seen := make(map[MachineID]bool)
	for _, id := range memberIDs {
		s, ok := b.reg.Server(id)
		if !ok {
			continue
		}
		members = append(members, s)
		if m, ok := b.reg.Machine(s.MachineID); ok && !seen[m.ID] {
			seen[m.ID] = true
			machines = append(machines, m)
		}
	}
	if len(members) == 0 {
		return
	}

	mt, err := b.reg.CheckAndCreateMachineTeam(machines)
	if err != nil {
		log.Errorf("ddtc: bootstrap machine team failed with %+v", err)
		return
	}
	if _, err := b.reg.AddTeam(members, mt); err != nil {
		log.Errorf("ddtc: bootstrap addTeam failed with %+v", err)
	}
}

// reconcileDatacenterReplicas implements SUPPLEMENTED FEATURES #1: if the
// stored per-dc replication target disagrees with the locally configured
// value, write the corrected value.
func (b *Bootstrap) reconcileDatacenterReplicas(ctx context.Context) error {
	stored, err := b.source.DatacenterReplicas(ctx, b.localDC)
	if err != nil {
		return err
	}
	if stored == b.cfg.StorageTeamSize {
		return nil
	}
	log.Infof("ddtc: datacenter %s replicas key disagrees (stored %d, configured %d), correcting", b.localDC, stored, b.cfg.StorageTeamSize)
	return b.source.SetDatacenterReplicas(ctx, b.localDC, b.cfg.StorageTeamSize)
}
