package ddtc

import (
	"github.com/google/uuid"

	"github.com/dataplacement/ddtc/pkg/id"
)

// ServerID is the opaque 128-bit server identity named in §3. Generated with
// google/uuid, the way leoantony72-irisDb mints opaque record identities.
type ServerID uuid.UUID

func (id ServerID) String() string { return uuid.UUID(id).String() }

// NewServerID mints a fresh opaque server id.
func NewServerID() ServerID { return ServerID(uuid.New()) }

// MachineID identifies a machine by its locality's machine-id attribute
// rather than a minted id: machines are keyed by what servers report, not
// by an identity the registry invents (§3 "grouped by zone/machine id").
type MachineID string

// TeamID is a region-local sequence id for server teams and machine teams,
// grounded on the teacher's pkg/id snowflake generator (pkg/sharding uses
// the same generator for fragment ids).
type TeamID uint64

// teamIDGenerator mints TeamIDs. One generator is shared by server teams and
// machine teams within a region; collisions across the two spaces are
// harmless since they are never compared against each other.
type teamIDGenerator struct {
	gen id.Generator
}

func newTeamIDGenerator(regionMachineID uint16) *teamIDGenerator {
	return &teamIDGenerator{gen: id.NewSnowflakeGenerator(regionMachineID)}
}

func (g *teamIDGenerator) next() (TeamID, error) {
	v, err := g.gen.Gen()
	if err != nil {
		return 0, err
	}
	return TeamID(v), nil
}
