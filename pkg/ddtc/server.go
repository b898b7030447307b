package ddtc

import "time"

// ProcessClass hints a storage-server process's preferred role. The server
// tracker treats a server whose class is unfit as undesired once optimal
// teams exist (§4.4).
type ProcessClass int

const (
	ProcessClassUnset ProcessClass = iota
	ProcessClassStorage
	ProcessClassTransaction
	ProcessClassTester
)

// StoreType names the on-disk storage engine a server runs, consulted by
// storageMigrationType gating (§6, SUPPLEMENTED FEATURES #2).
type StoreType int

const (
	StoreTypeUnset StoreType = iota
	StoreTypeSSD
	StoreTypeMemory
	StoreTypeRocksDB
)

func (t StoreType) String() string {
	switch t {
	case StoreTypeSSD:
		return "ssd"
	case StoreTypeMemory:
		return "memory"
	case StoreTypeRocksDB:
		return "rocksdb"
	default:
		return "unset"
	}
}

// Interface is a server's last-known network address, the one the DDTC and
// its peers use to reach it.
type Interface struct {
	Address string
}

// StorageMetrics is the last reported set of capacity/usage/version-lag
// figures the metrics poller (§4.4) attaches to a server.
type StorageMetrics struct {
	CapacityBytes  uint64
	UsedBytes      uint64
	ShardCount     int
	VersionLag     uint64
	LastUpdateTime time.Time
}

// Server is a storage-server process known to the registry (§3). A Server
// is either regular (it joins teams) or a testing server shadowing a
// regular one via PairID (it never joins a team).
type Server struct {
	ID ServerID

	Interface     Interface
	ProcessClass  ProcessClass
	Locality      Locality
	StoreType     StoreType
	InDesiredDC   bool
	AddedVersion  uint64
	Metrics       StorageMetrics

	// VersionTooFarBehind and WrongStoreTypeToRemove are the two health bits
	// named directly in §3.
	VersionTooFarBehind    bool
	WrongStoreTypeToRemove bool

	// IsTestingServer and PairID mark a testing server; PairID is the ID of
	// the regular server it shadows. Zero value for regular servers.
	IsTestingServer bool
	PairID          ServerID

	Status ServerStatus

	MachineID MachineID

	// teams is the set of server teams containing this server, kept in sync
	// by the registry (invariant 3): s ∈ team iff team ∈ s.teams.
	teams map[TeamID]*ServerTeam
}

func newServer(id ServerID, iface Interface, class ProcessClass, locality Locality, addedVersion uint64) *Server {
	mid, _ := locality.Get(LocalityMachine)
	return &Server{
		ID:           id,
		Interface:    iface,
		ProcessClass: class,
		Locality:     locality.Clone(),
		AddedVersion: addedVersion,
		MachineID:    MachineID(mid),
		teams:        make(map[TeamID]*ServerTeam),
	}
}

// Teams returns the server teams containing s. The returned slice is a
// defensive copy; callers must not assume any ordering.
func (s *Server) Teams() []*ServerTeam {
	out := make([]*ServerTeam, 0, len(s.teams))
	for _, t := range s.teams {
		out = append(out, t)
	}
	return out
}

func (s *Server) teamCount() int { return len(s.teams) }

func (s *Server) joinTeam(t *ServerTeam)  { s.teams[t.ID] = t }
func (s *Server) leaveTeam(t *ServerTeam) { delete(s.teams, t.ID) }
