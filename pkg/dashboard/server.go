package dashboard

import (
	"context"
	"sync"

	"github.com/labstack/echo"

	"github.com/dataplacement/ddtc/pkg/ddtc"
)

const version = "/v1"

// Cfg configures the debug-snapshot HTTP server.
type Cfg struct {
	Addr     string
	UI       string
	UIPrefix string
}

// SnapshotSource is the supervisor-shaped collaborator the dashboard reads
// from on every request and on every debug-snapshot trigger (SUPPLEMENTED
// FEATURES #3, §6 "debug snapshot trigger key").
type SnapshotSource interface {
	Registry() *ddtc.Registry
	Exclusion() *ddtc.ExclusionController
}

// Dashboard is the debug-snapshot HTTP server, adapted from the teacher's
// fragment/transaction dashboard (pkg/dashboard/server.go) to the DDTC's
// registry/exclusion state: same echo.Echo + RWMutex-guarded cached-view
// shape, driven by a watch loop instead of a prophet.Watcher.
type Dashboard struct {
	sync.RWMutex

	cfg    Cfg
	server *echo.Echo
	source SnapshotSource

	snapshot Snapshot
}

// NewDashboard returns a dashboard server bound to source. Call StartWatch to
// begin refreshing its cached snapshot on every trigger.
func NewDashboard(cfg Cfg, source SnapshotSource) *Dashboard {
	d := &Dashboard{cfg: cfg, server: echo.New(), source: source}
	d.initRoute()
	return d
}

// StartWatch refreshes the cached snapshot once per trigger channel tick,
// plus once immediately, until ctx is cancelled (§6
// WatchDebugSnapshotTrigger).
func (d *Dashboard) StartWatch(ctx context.Context, triggers <-chan struct{}) {
	d.refresh()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-triggers:
				if !ok {
					return
				}
				d.refresh()
			}
		}
	}()
}

func (d *Dashboard) refresh() {
	snap := BuildSnapshot(d.source)
	d.Lock()
	d.snapshot = snap
	d.Unlock()
}

func (d *Dashboard) initRoute() {
	if d.cfg.UI != "" {
		d.server.Static(d.cfg.UIPrefix, d.cfg.UI)
	}
	g := d.server.Group(version)
	g.GET("/snapshot", d.getSnapshot())
	g.GET("/servers", d.getServers())
	g.GET("/teams", d.getTeams())
	g.GET("/exclusions", d.getExclusions())
	g.PUT("/exclusions/:addr/wiggling", d.putWiggling())
}

// Start starts the HTTP server.
func (d *Dashboard) Start() error { return d.server.Start(d.cfg.Addr) }

// Stop shuts the HTTP server down.
func (d *Dashboard) Stop() error { return d.server.Shutdown(context.TODO()) }
