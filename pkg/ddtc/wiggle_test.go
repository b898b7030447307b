package ddtc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeWiggleKeyspace struct {
	enabled bool
	pid     string
	advances []string
}

func (f *fakeWiggleKeyspace) PerpetualWiggleEnabled(ctx context.Context) (bool, error) { return f.enabled, nil }
func (f *fakeWiggleKeyspace) CurrentWigglingPID(ctx context.Context) (string, error)    { return f.pid, nil }
func (f *fakeWiggleKeyspace) AdvanceWigglingPID(ctx context.Context, next string) error {
	f.advances = append(f.advances, next)
	f.pid = next
	return nil
}

type fakeDrainWaiter struct{ waited []ServerID }

func (f *fakeDrainWaiter) WaitDrained(ctx context.Context, id ServerID) error {
	f.waited = append(f.waited, id)
	return nil
}

type fakeRelocationHealth struct{ busy bool }

func (f *fakeRelocationHealth) TooManyUnhealthyMoves(ctx context.Context) (bool, error) {
	return f.busy, nil
}

func TestWiggleControllerDisabledIsNoop(t *testing.T) {
	ks := &fakeWiggleKeyspace{enabled: false}
	w := NewWiggleController(NewRegistry(1), NewExclusionController(), ks, &fakeDrainWaiter{}, &fakeRelocationHealth{}, nil)
	assert.Nil(t, w.RunOnce(5, 5))
	assert.Empty(t, ks.advances)
}

func TestWiggleControllerPausesOnUnhealthyMoves(t *testing.T) {
	ks := &fakeWiggleKeyspace{enabled: true, pid: "p1"}
	w := NewWiggleController(NewRegistry(1), NewExclusionController(), ks, &fakeDrainWaiter{}, &fakeRelocationHealth{busy: true}, nil)
	assert.Nil(t, w.RunOnce(5, 5))
	assert.Empty(t, ks.advances, "must not wiggle while too many moves are in flight")
}

func TestWiggleControllerPausesOnTooFewHealthyTeams(t *testing.T) {
	ks := &fakeWiggleKeyspace{enabled: true, pid: "p1"}
	w := NewWiggleController(NewRegistry(1), NewExclusionController(), ks, &fakeDrainWaiter{}, &fakeRelocationHealth{}, nil)
	assert.Nil(t, w.RunOnce(2, 5))
	assert.Empty(t, ks.advances)
}

func TestWiggleControllerAdvancesPIDAndDrainsServers(t *testing.T) {
	reg := NewRegistry(1)
	s, err := reg.AddServer(Interface{Address: "s1:1"}, ProcessClassStorage, Locality{LocalityMachine: "m1", LocalityProcess: "p1"}, 1)
	assert.Nil(t, err)
	_, err = reg.AddServer(Interface{Address: "s2:1"}, ProcessClassStorage, Locality{LocalityMachine: "m2", LocalityProcess: "p2"}, 1)
	assert.Nil(t, err)

	exclusion := NewExclusionController()
	ks := &fakeWiggleKeyspace{enabled: true, pid: "p1"}
	drain := &fakeDrainWaiter{}
	statusChanges := 0
	w := NewWiggleController(reg, exclusion, ks, drain, &fakeRelocationHealth{}, func() { statusChanges++ })

	assert.Nil(t, w.RunOnce(5, 5))
	assert.Equal(t, []string{"p2"}, ks.advances)
	assert.Equal(t, []ServerID{s.ID}, drain.waited)
	assert.Equal(t, ExclusionNone, exclusion.Status(s.Interface.Address), "wiggling must be cleared once drained")
	assert.False(t, s.Status.IsWiggling, "wiggling bit must be cleared once drained")
	assert.Equal(t, 2, statusChanges, "one notification for marking wiggling, one for clearing it")
}

func TestWiggleControllerNextPIDWraps(t *testing.T) {
	reg := NewRegistry(1)
	_, _ = reg.AddServer(Interface{Address: "s1:1"}, ProcessClassStorage, Locality{LocalityMachine: "m1", LocalityProcess: "p1"}, 1)
	_, _ = reg.AddServer(Interface{Address: "s2:1"}, ProcessClassStorage, Locality{LocalityMachine: "m2", LocalityProcess: "p2"}, 1)

	w := NewWiggleController(reg, NewExclusionController(), &fakeWiggleKeyspace{}, &fakeDrainWaiter{}, &fakeRelocationHealth{}, nil)
	assert.Equal(t, "p1", w.nextPID("p2"), "must wrap past the last sorted pid")
	assert.Equal(t, "p2", w.nextPID("p1"))
	assert.Equal(t, "p1", w.nextPID("unknown"), "an unknown pid sorting after every known pid wraps to the first sorted entry")
}
