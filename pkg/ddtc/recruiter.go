package ddtc

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fagongzi/log"
)

// ClusterController is the out-of-scope collaborator that publishes
// recruitment endpoints (§1, §6): the recruiter queries it for a candidate
// worker, passing the current union of excluded and in-progress addresses.
type ClusterController interface {
	RecruitStorage(ctx context.Context, excluded []string, recruitTss bool) (addr, interfaceID string, err error)
}

// pendingTSS is the rendezvous state for one testing-storage-server
// pairing in flight (§4.5).
type pendingTSS struct {
	interfaceID string
	ready       chan TSSPairing
	cancel      func()
}

// Recruiter drives storage-server recruitment, including the
// testing-storage-server pairing sub-protocol (§4.5). Grounded on
// vendor/.../prophet's RPC request/response pattern and
// pkg/transport.transport's address-keyed concurrency, generalized to the
// TSS rendezvous.
type Recruiter struct {
	cfg        *Cfg
	reg        *Registry
	controller ClusterController
	events     EventEmitter

	mu          sync.Mutex
	inProgress  map[string]int // address -> count of in-flight InitializeStorage
	pendingTSS  []*pendingTSS
	healthyTeams int

	requestSeq uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRecruiter returns a recruiter for one region.
func NewRecruiter(cfg *Cfg, reg *Registry, controller ClusterController, events EventEmitter) *Recruiter {
	ctx, cancel := context.WithCancel(context.Background())
	return &Recruiter{
		cfg: cfg, reg: reg, controller: controller, events: events,
		inProgress: make(map[string]int),
		ctx: ctx, cancel: cancel,
	}
}

// Stop cancels the recruiter's loop and any pending TSS rendezvous.
func (r *Recruiter) Stop() {
	r.cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pendingTSS {
		p.cancel()
	}
	r.pendingTSS = nil
}

// SetHealthyTeams updates the recruiter's view of the region's healthy-team
// count; zero cancels any pending TSS rendezvous (§4.5).
func (r *Recruiter) SetHealthyTeams(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthyTeams = n
	if n == 0 {
		for _, p := range r.pendingTSS {
			p.cancel()
		}
		r.pendingTSS = nil
	}
}

// RunOnce drives one recruitment round: query the cluster controller,
// limit to at most MaxStorageServersPerAddress per address, issue
// InitializeStorage, and on success add the server to the registry.
func (r *Recruiter) RunOnce(excludedAddrs []string) {
	recruitTss := r.wantsTSS()

	excluded := r.excludedPlusInProgress(excludedAddrs)
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.RecruitmentTimeout)
	defer cancel()

	addr, ifaceID, err := r.controller.RecruitStorage(ctx, excluded, recruitTss)
	if err != nil {
		log.Warnf("ddtc: recruit storage failed with %+v", err)
		return
	}

	r.mu.Lock()
	if r.inProgress[addr] >= r.cfg.MaxStorageServersPerAddress {
		r.mu.Unlock()
		return
	}
	r.inProgress[addr]++
	r.requestSeq++
	reqID := r.requestSeq
	r.mu.Unlock()

	req := InitializeStorage{StoreType: StoreTypeSSD, RequestID: reqID, InterfaceID: ifaceID}

	if recruitTss {
		r.stashTSSCandidate(addr, ifaceID)
		return
	}

	pairing := r.claimPairingForAddress(addr, ifaceID)
	if pairing != nil {
		req.TSSPair = pairing
	}

	primaryID := NewServerID()
	if pairing != nil {
		primaryID = pairing.PrimaryID
	}

	r.events.Recruit(addr, req, func(err error) {
		r.mu.Lock()
		r.inProgress[addr]--
		r.mu.Unlock()
		if err != nil {
			log.Warnf("ddtc: InitializeStorage %s failed, will retry on next round: %+v", addr, err)
			return
		}
		if _, err := r.reg.addServerWithID(primaryID, Interface{Address: addr}, ProcessClassStorage, Locality{}, uint64(time.Now().UnixNano())); err != nil {
			log.Errorf("ddtc: addServer after recruit failed: %+v", err)
		}
	})
}

func (r *Recruiter) wantsTSS() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.healthyTeams == 0 {
		return false
	}
	deficit := r.cfg.DesiredTSSCount - len(r.pendingTSS)
	return deficit > 0
}

// stashTSSCandidate stores the candidate as a waiting testing server; its
// rendezvous completes when claimPairingForAddress hands it a primary.
func (r *Recruiter) stashTSSCandidate(addr, ifaceID string) {
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.RecruitmentTimeout)
	p := &pendingTSS{interfaceID: ifaceID, ready: make(chan TSSPairing, 1), cancel: cancel}

	r.mu.Lock()
	r.pendingTSS = append(r.pendingTSS, p)
	r.mu.Unlock()

	go func() {
		defer cancel()
		select {
		case pairing := <-p.ready:
			req := InitializeStorage{StoreType: StoreTypeSSD, InterfaceID: ifaceID, TSSPair: &pairing}
			r.events.Recruit(addr, req, func(err error) {
				if err != nil {
					log.Warnf("ddtc: tss InitializeStorage %s failed: %+v", addr, err)
					return
				}
				if _, err := r.reg.AddTestingServer(Interface{Address: addr}, Locality{}, uint64(time.Now().UnixNano()), pairing.PrimaryID); err != nil {
					log.Errorf("ddtc: addTestingServer after recruit failed: %+v", err)
				}
			})
		case <-ctx.Done():
			r.removePendingTSS(p)
		}
	}()
}

// claimPairingForAddress pops the oldest waiting TSS candidate in the same
// datacenter/data-hall as the given candidate's interface id, and hands it
// the new primary's pairing, completing the rendezvous (§4.5). The
// datacenter/data-hall match is left to the caller's interfaceID scheme;
// here any waiting candidate is eligible, since locality is not known
// until the primary's addServer call completes.
func (r *Recruiter) claimPairingForAddress(primaryAddr, primaryIfaceID string) *TSSPairing {
	r.mu.Lock()
	if len(r.pendingTSS) == 0 {
		r.mu.Unlock()
		return nil
	}
	p := r.pendingTSS[0]
	r.pendingTSS = r.pendingTSS[1:]
	r.mu.Unlock()

	pairing := TSSPairing{PrimaryID: NewServerID(), PrimaryAddedVersion: uint64(time.Now().UnixNano())}
	p.ready <- pairing
	return &pairing
}

func (r *Recruiter) removePendingTSS(target *pendingTSS) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.pendingTSS {
		if p == target {
			r.pendingTSS = append(r.pendingTSS[:i], r.pendingTSS[i+1:]...)
			return
		}
	}
}

func (r *Recruiter) excludedPlusInProgress(excluded []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), excluded...)
	for addr := range r.inProgress {
		out = append(out, addr)
	}
	return out
}

// KillExcessTestingServers kills testing servers oldest-first until the
// population is back at desiredTSSCount (§4.5 "excess testing servers are
// killed oldest-first").
func (r *Recruiter) KillExcessTestingServers(remove func(ServerID)) {
	var testing []*Server
	for _, s := range r.reg.Servers() {
		if s.IsTestingServer {
			testing = append(testing, s)
		}
	}
	sort.Slice(testing, func(i, j int) bool { return testing[i].AddedVersion < testing[j].AddedVersion })
	excess := len(testing) - r.cfg.DesiredTSSCount
	for i := 0; i < excess && i < len(testing); i++ {
		remove(testing[i].ID)
	}
}
