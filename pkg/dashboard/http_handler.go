package dashboard

import (
	"net/http"

	"github.com/labstack/echo"

	"github.com/dataplacement/ddtc/pkg/util"
)

const (
	succeed = 0
	failed  = 1
)

// JSONResult is the envelope every route returns, adapted from the
// teacher's pkg/meta.JSONResult.
type JSONResult struct {
	Code  int         `json:"code"`
	Value interface{} `json:"value"`
}

// ServerView is one server's debug-snapshot row.
type ServerView struct {
	ID          string `json:"id"`
	Address     string `json:"address"`
	MachineID   string `json:"machine_id"`
	StoreType   string `json:"store_type"`
	IsFailed    bool   `json:"is_failed"`
	IsUndesired bool   `json:"is_undesired"`
	IsWiggling  bool   `json:"is_wiggling"`
	TeamCount   int    `json:"team_count"`
}

// TeamView is one server team's debug-snapshot row.
type TeamView struct {
	ID        uint64   `json:"id"`
	Members   []string `json:"members"`
	Priority  string   `json:"priority"`
	Healthy   bool     `json:"healthy"`
	Bad       bool     `json:"bad"`
	Redundant bool     `json:"redundant"`
}

// Snapshot is the cached debug view the dashboard refreshes on every
// trigger (SUPPLEMENTED FEATURES #3).
type Snapshot struct {
	Servers      []ServerView      `json:"servers"`
	Teams        []TeamView        `json:"teams"`
	Exclusions   map[string]string `json:"exclusions"`
	MemUsedBytes uint64            `json:"mem_used_bytes"`
}

// BuildSnapshot reads a consistent-enough view of source's registry and
// exclusion controller. Grounded on the teacher's updateAll, which rebuilds
// its cached fragment list wholesale on every prophet.EventInit.
func BuildSnapshot(source SnapshotSource) Snapshot {
	reg := source.Registry()
	exclusion := source.Exclusion()

	snap := Snapshot{Exclusions: make(map[string]string)}

	for _, s := range reg.Servers() {
		snap.Servers = append(snap.Servers, ServerView{
			ID:          s.ID.String(),
			Address:     s.Interface.Address,
			MachineID:   string(s.MachineID),
			StoreType:   s.StoreType.String(),
			IsFailed:    s.Status.IsFailed,
			IsUndesired: s.Status.IsUndesired,
			IsWiggling:  s.Status.IsWiggling,
			TeamCount:   len(s.Teams()),
		})
	}

	for _, t := range reg.ServerTeams() {
		members := make([]string, 0, len(t.Members))
		for _, id := range t.MemberIDs() {
			members = append(members, id.String())
		}
		snap.Teams = append(snap.Teams, TeamView{
			ID:        uint64(t.ID),
			Members:   members,
			Priority:  t.Priority().String(),
			Healthy:   t.Healthy(),
			Bad:       t.Bad,
			Redundant: t.Redundant,
		})
	}

	for addr, status := range exclusion.Snapshot() {
		snap.Exclusions[addr] = status.String()
	}

	if stat, err := util.MemStats(); err == nil {
		snap.MemUsedBytes = stat.Used
	}

	return snap
}

func (d *Dashboard) getSnapshot() echo.HandlerFunc {
	return func(ctx echo.Context) error {
		d.RLock()
		defer d.RUnlock()
		return ctx.JSON(http.StatusOK, JSONResult{Value: d.snapshot})
	}
}

func (d *Dashboard) getServers() echo.HandlerFunc {
	return func(ctx echo.Context) error {
		d.RLock()
		defer d.RUnlock()
		return ctx.JSON(http.StatusOK, JSONResult{Value: d.snapshot.Servers})
	}
}

func (d *Dashboard) getTeams() echo.HandlerFunc {
	return func(ctx echo.Context) error {
		d.RLock()
		defer d.RUnlock()
		return ctx.JSON(http.StatusOK, JSONResult{Value: d.snapshot.Teams})
	}
}

func (d *Dashboard) getExclusions() echo.HandlerFunc {
	return func(ctx echo.Context) error {
		d.RLock()
		defer d.RUnlock()
		return ctx.JSON(http.StatusOK, JSONResult{Value: d.snapshot.Exclusions})
	}
}

// putWiggling manually marks an address WIGGLING, an operator override of
// the perpetual-wiggle controller's own schedule.
func (d *Dashboard) putWiggling() echo.HandlerFunc {
	return func(ctx echo.Context) error {
		addr := ctx.Param("addr")
		if addr == "" {
			return ctx.NoContent(http.StatusBadRequest)
		}
		d.source.Exclusion().SetWiggling(addr)
		return ctx.JSON(http.StatusOK, JSONResult{Code: succeed})
	}
}
