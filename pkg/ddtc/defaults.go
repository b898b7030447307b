package ddtc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"
)

// httpRPC is the default, dependency-free standing for the out-of-scope RPC
// transport named throughout §6 (failure endpoint, metrics poller,
// interface watcher, relocation queue, recruitment). The teacher's own
// pkg/transport is a TCP framing layer purpose-built for its own wire
// protocol; nothing in the retrieved corpus offers a general request/reply
// client, so this is plain net/http, grounded on pkg/dashboard's use of
// http.StatusOK-style plumbing as the corpus's one HTTP idiom.
type httpRPC struct {
	client *http.Client
}

func newHTTPRPC(timeout time.Duration) *httpRPC {
	return &httpRPC{client: &http.Client{Timeout: timeout}}
}

func (h *httpRPC) postJSON(ctx context.Context, addr, path string, body, out interface{}) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("http://%s%s", addr, path), bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ddtc: rpc %s%s returned status %d", addr, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// dialFailureMonitor reports a server failed when a TCP dial to its address
// fails, polling at a fixed interval. A real deployment would plug in
// whatever heartbeat/gossip system the surrounding cluster already runs;
// this is the simplest default that satisfies the FailureMonitor contract.
type dialFailureMonitor struct {
	interval time.Duration
}

// NewDialFailureMonitor returns a FailureMonitor that dials addr over TCP
// every interval and reports reachability changes.
func NewDialFailureMonitor(interval time.Duration) FailureMonitor {
	return &dialFailureMonitor{interval: interval}
}

func (m *dialFailureMonitor) Watch(ctx context.Context, id ServerID, addr string) (bool, error) {
	var last bool
	first := true
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(m.interval):
		}

		conn, err := net.DialTimeout("tcp", addr, m.interval)
		failed := err != nil
		if conn != nil {
			conn.Close()
		}
		if first || failed != last {
			first = false
			last = failed
			return failed, nil
		}
	}
}

// httpMetricsSource polls GET /v1/metrics on the server's address for its
// StorageMetrics, the httpRPC default transport.
type httpMetricsSource struct {
	rpc *httpRPC
}

// NewHTTPMetricsSource returns a MetricsSource backed by plain HTTP GET.
func NewHTTPMetricsSource(timeout time.Duration) MetricsSource {
	return &httpMetricsSource{rpc: newHTTPRPC(timeout)}
}

func (m *httpMetricsSource) RequestMetrics(ctx context.Context, id ServerID, addr string) (StorageMetrics, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/v1/metrics", addr), nil)
	if err != nil {
		return StorageMetrics{}, err
	}
	resp, err := m.rpc.client.Do(req)
	if err != nil {
		return StorageMetrics{}, err
	}
	defer resp.Body.Close()

	var out StorageMetrics
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return StorageMetrics{}, err
	}
	out.LastUpdateTime = time.Now()
	return out, nil
}

// httpStorageInitiator issues InitializeStorage as a POST, the
// StorageInitiator default transport.
type httpStorageInitiator struct {
	rpc *httpRPC
}

// NewHTTPStorageInitiator returns a StorageInitiator backed by plain HTTP POST.
func NewHTTPStorageInitiator(timeout time.Duration) StorageInitiator {
	return &httpStorageInitiator{rpc: newHTTPRPC(timeout)}
}

func (s *httpStorageInitiator) InitializeStorage(addr string, req InitializeStorage) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	return s.rpc.postJSON(ctx, addr, "/v1/initialize-storage", req, nil)
}

// registryClusterController picks a recruitment candidate from a static
// address pool, filtering out anything in excluded. Grounded on
// pkg/registry.Registry: the teacher's service-registration interface,
// inverted here into a simple candidate source for recruitment.
type registryClusterController struct {
	candidates []string
	next       int
}

// NewStaticClusterController returns a ClusterController cycling through a
// fixed address pool, the simplest default satisfying the contract when no
// dynamic discovery backend is configured.
func NewStaticClusterController(candidates []string) ClusterController {
	return &registryClusterController{candidates: candidates}
}

func (c *registryClusterController) RecruitStorage(ctx context.Context, excluded []string, recruitTss bool) (string, string, error) {
	excludedSet := make(map[string]bool, len(excluded))
	for _, a := range excluded {
		excludedSet[a] = true
	}
	for i := 0; i < len(c.candidates); i++ {
		addr := c.candidates[c.next%len(c.candidates)]
		c.next++
		if !excludedSet[addr] {
			return addr, addr, nil
		}
	}
	return "", "", ErrInsufficientMachines
}

// httpRelocationSink posts a RelocateShard to a fixed relocation-queue
// address, the RelocationSink default transport.
type httpRelocationSink struct {
	rpc  *httpRPC
	addr string
}

// NewHTTPRelocationSink returns a RelocationSink backed by plain HTTP POST
// to addr's relocation-queue endpoint.
func NewHTTPRelocationSink(addr string, timeout time.Duration) RelocationSink {
	return &httpRelocationSink{rpc: newHTTPRPC(timeout), addr: addr}
}

func (s *httpRelocationSink) RelocateShard(ev RelocateShard) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	return s.rpc.postJSON(ctx, s.addr, "/v1/relocate-shard", ev, nil)
}

// staticInterfaceWatcher never reports a change, the InterfaceWatcher
// default for deployments where server addresses and locality are fixed at
// recruitment time and never migrate.
type staticInterfaceWatcher struct{}

// NewStaticInterfaceWatcher returns an InterfaceWatcher that blocks until
// ctx is cancelled without ever reporting a change.
func NewStaticInterfaceWatcher() InterfaceWatcher { return staticInterfaceWatcher{} }

func (staticInterfaceWatcher) Watch(ctx context.Context, id ServerID) (Interface, Locality, error) {
	<-ctx.Done()
	return Interface{}, nil, ctx.Err()
}

// immediateDrainWaiter reports every server already drained, the
// ShardDrainWaiter default for deployments without a separate shard
// tracker wired in yet (§6: shard tracking is explicitly out of scope).
type immediateDrainWaiter struct{}

// NewImmediateDrainWaiter returns a ShardDrainWaiter that always succeeds
// immediately.
func NewImmediateDrainWaiter() ShardDrainWaiter { return immediateDrainWaiter{} }

func (immediateDrainWaiter) WaitDrained(ctx context.Context, id ServerID) error { return nil }

// emptyShardLookup reports no shards for any team, the ShardLookup default
// for deployments without a separate shard tracker wired in yet.
type emptyShardLookup struct{}

// NewEmptyShardLookup returns a ShardLookup that always reports zero shards.
func NewEmptyShardLookup() ShardLookup { return emptyShardLookup{} }

func (emptyShardLookup) ShardsForTeam(teamID TeamID) []ShardKeyRange { return nil }

// alwaysHealthyRelocationQueue reports the relocation queue is never
// backed up, the RelocationHealth default for deployments without a
// separate relocation-queue health signal wired in yet.
type alwaysHealthyRelocationQueue struct{}

// NewAlwaysHealthyRelocationQueue returns a RelocationHealth that never
// pauses the wiggle controller for queue pressure.
func NewAlwaysHealthyRelocationQueue() RelocationHealth { return alwaysHealthyRelocationQueue{} }

func (alwaysHealthyRelocationQueue) TooManyUnhealthyMoves(ctx context.Context) (bool, error) {
	return false, nil
}
