package ddtc

import (
	"hash/crc32"
	"sync"
	"time"

	"github.com/fagongzi/log"
)

// RelocateShard is emitted onto the (out-of-scope) relocation queue
// whenever a team tracker or server tracker changes a team's priority
// (§4.3, §4.4, §6).
type RelocateShard struct {
	Begin, End []byte
	Priority   TeamPriority
}

// TSSPairing carries the primary server's id and added version to the
// testing server it is paired with, handed through the recruiter's
// rendezvous (§4.5).
type TSSPairing struct {
	PrimaryID           ServerID
	PrimaryAddedVersion uint64
}

// InitializeStorage is the recruitment request emitted to a worker being
// recruited (§4.5, §6).
type InitializeStorage struct {
	StoreType    StoreType
	SeedTag      string
	RequestID    uint64
	InterfaceID  string
	TSSPair      *TSSPairing // nil unless recruitTss
}

// RelocationSink is the external relocation queue collaborator (§6); out of
// DDTC's scope, consumed as an interface.
type RelocationSink interface {
	RelocateShard(RelocateShard) error
}

// StorageInitiator is the external worker collaborator that accepts
// InitializeStorage requests (§6); out of DDTC's scope, consumed as an
// interface.
type StorageInitiator interface {
	InitializeStorage(addr string, req InitializeStorage) error
}

// EventEmitter is the async emitter the DDTC hands relocation and
// recruitment events to. Grounded on pkg/transport.transport: a fixed pool
// of crc32-sharded send channels, each drained by its own goroutine. A
// failed relocation is retried after a goetty-timed backoff; a recruitment
// is tried once and its error handed to the caller's callback.
type EventEmitter interface {
	Start() error
	Stop() error
	Emit(RelocateShard)
	Recruit(addr string, req InitializeStorage, cb func(error))
}

type relocateMsg struct {
	ev RelocateShard
}

type recruitMsg struct {
	addr string
	req  InitializeStorage
	cb   func(error)
}

type emitter struct {
	sink  RelocationSink
	store StorageInitiator
	tw    *TimeoutWheel
	mx    *RegionMetrics
	region string

	mu    sync.RWMutex
	stopC chan struct{}
	wg    sync.WaitGroup
	mask  int

	relocateC []chan relocateMsg
	recruitC  chan recruitMsg
}

// NewEventEmitter returns an emitter with workers send-shards, consistent
// with pkg/transport.NewTransport(workers, ...).
func NewEventEmitter(region string, workers int, sink RelocationSink, store StorageInitiator, tw *TimeoutWheel, mx *RegionMetrics) EventEmitter {
	if workers <= 0 {
		workers = 1
	}
	return &emitter{region: region, sink: sink, store: store, tw: tw, mx: mx, mask: workers - 1}
}

func (e *emitter) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopC != nil {
		return nil
	}
	e.stopC = make(chan struct{})
	e.recruitC = make(chan recruitMsg, 1024)
	e.relocateC = make([]chan relocateMsg, 0, e.mask+1)
	for i := 0; i <= e.mask; i++ {
		c := make(chan relocateMsg, 1024)
		e.relocateC = append(e.relocateC, c)
		e.wg.Add(1)
		go e.readyToRelocate(c, i)
	}
	e.wg.Add(1)
	go e.readyToRecruit()
	return nil
}

func (e *emitter) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopC == nil {
		return nil
	}
	close(e.stopC)
	e.wg.Wait()
	e.stopC = nil
	return nil
}

// Emit hashes the shard's begin key to pick a shard channel, so relocations
// of the same shard are sent by one worker in the order emitted. A failed
// send is re-queued on that channel after a one-second backoff, behind any
// later relocation already queued for the same shard.
func (e *emitter) Emit(ev RelocateShard) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopC == nil {
		return
	}
	idx := int(crc32.ChecksumIEEE(ev.Begin) % uint32(len(e.relocateC)))
	e.relocateC[idx] <- relocateMsg{ev: ev}
	if e.mx != nil {
		e.mx.Relocations.WithLabelValues(e.region, ev.Priority.String()).Inc()
	}
}

// Recruit issues req to addr asynchronously, invoking cb with the outcome.
func (e *emitter) Recruit(addr string, req InitializeStorage, cb func(error)) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopC == nil {
		return
	}
	e.recruitC <- recruitMsg{addr: addr, req: req, cb: cb}
}

func (e *emitter) readyToRelocate(c chan relocateMsg, idx int) {
	log.Infof("ddtc[%s]: relocation emitter %d start", e.region, idx)
	defer e.wg.Done()

	for {
		select {
		case <-e.stopC:
			log.Infof("ddtc[%s]: relocation emitter %d stopped", e.region, idx)
			return
		case msg := <-c:
			if err := e.sink.RelocateShard(msg.ev); err != nil {
				log.Warnf("ddtc[%s]: RelocateShard failed with %+v, retry after backoff", e.region, err)
				e.tw.Schedule(time.Second, func() {
					select {
					case c <- msg:
					case <-e.stopC:
					}
				})
			}
		}
	}
}

func (e *emitter) readyToRecruit() {
	log.Infof("ddtc[%s]: recruit emitter start", e.region)
	defer e.wg.Done()

	for {
		select {
		case <-e.stopC:
			log.Infof("ddtc[%s]: recruit emitter stopped", e.region)
			return
		case msg := <-e.recruitC:
			err := e.store.InitializeStorage(msg.addr, msg.req)
			status := "succeed"
			if err != nil {
				status = "failed"
				log.Warnf("ddtc[%s]: InitializeStorage %s failed with %+v", e.region, msg.addr, err)
			}
			if e.mx != nil {
				e.mx.Recruitment.WithLabelValues(e.region, status).Inc()
			}
			msg.cb(err)
		}
	}
}
