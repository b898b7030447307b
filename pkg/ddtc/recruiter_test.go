package ddtc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeClusterController struct {
	addr, ifaceID string
}

func (f *fakeClusterController) RecruitStorage(ctx context.Context, excluded []string, recruitTss bool) (string, string, error) {
	return f.addr, f.ifaceID, nil
}

type fakeEventEmitter struct{ recruited []InitializeStorage }

func (f *fakeEventEmitter) Start() error { return nil }
func (f *fakeEventEmitter) Stop() error  { return nil }
func (f *fakeEventEmitter) Emit(RelocateShard) {}
func (f *fakeEventEmitter) Recruit(addr string, req InitializeStorage, cb func(error)) {
	f.recruited = append(f.recruited, req)
	cb(nil)
}

func TestRecruiterClaimPairingForAddressPreMintsPrimaryID(t *testing.T) {
	cfg := &Cfg{}
	cfg.Adjust()
	reg := NewRegistry(1)
	r := NewRecruiter(cfg, reg, &fakeClusterController{}, &fakeEventEmitter{})

	ready := make(chan TSSPairing, 1)
	r.pendingTSS = append(r.pendingTSS, &pendingTSS{interfaceID: "tss-iface", ready: ready, cancel: func() {}})

	pairing := r.claimPairingForAddress("primary:1", "primary-iface")
	assert.NotNil(t, pairing)
	assert.NotEqual(t, ServerID{}, pairing.PrimaryID, "the primary's id must be pre-minted, not left zero-value")

	select {
	case delivered := <-ready:
		assert.Equal(t, pairing.PrimaryID, delivered.PrimaryID, "the waiting testing server must receive the same id")
	default:
		t.Fatal("pairing was never delivered to the waiting testing server")
	}
}

func TestRecruiterRunOnceRegistersPrimaryUnderPairingID(t *testing.T) {
	cfg := &Cfg{}
	cfg.Adjust()
	reg := NewRegistry(1)
	events := &fakeEventEmitter{}
	r := NewRecruiter(cfg, reg, &fakeClusterController{addr: "primary:1", ifaceID: "primary-iface"}, events)

	ready := make(chan TSSPairing, 1)
	r.pendingTSS = append(r.pendingTSS, &pendingTSS{interfaceID: "tss-iface", ready: ready, cancel: func() {}})

	r.RunOnce(nil)

	assert.Len(t, events.recruited, 1)
	pairing := events.recruited[0].TSSPair
	assert.NotNil(t, pairing)

	srv, ok := reg.Server(pairing.PrimaryID)
	assert.True(t, ok, "the registered primary must use the pre-minted pairing id")
	assert.Equal(t, "primary:1", srv.Interface.Address)

	select {
	case delivered := <-ready:
		assert.Equal(t, pairing.PrimaryID, delivered.PrimaryID)
	default:
		t.Fatal("pending testing server never received its pairing")
	}
}
