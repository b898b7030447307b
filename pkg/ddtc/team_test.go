package ddtc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestServer(id ServerID) *Server {
	s := newServer(id, Interface{}, ProcessClassStorage, Locality{}, 1)
	return s
}

func TestServerTeamRecomputeHealthy(t *testing.T) {
	a := newTestServer(NewServerID())
	b := newTestServer(NewServerID())
	team := newServerTeam(TeamID(1), []*Server{a, b}, nil)

	team.recomputeHealthy()
	assert.True(t, team.Healthy())

	a.Status.IsFailed = true
	team.recomputeHealthy()
	assert.False(t, team.Healthy(), "a failed member must make the team unhealthy")

	a.Status.IsFailed = false
	team.Bad = true
	team.recomputeHealthy()
	assert.False(t, team.Healthy(), "a bad team is never healthy regardless of members")
}

func TestServerTeamSameMembers(t *testing.T) {
	a := newTestServer(NewServerID())
	b := newTestServer(NewServerID())
	c := newTestServer(NewServerID())
	team := newServerTeam(TeamID(1), []*Server{a, b}, nil)

	assert.True(t, team.sameMembers([]*Server{b, a}), "order must not matter")
	assert.False(t, team.sameMembers([]*Server{a, c}))
}

func TestMachineTeamHealthy(t *testing.T) {
	m1 := newMachine(MachineID("m1"), Locality{})
	m2 := newMachine(MachineID("m2"), Locality{})
	mt := newMachineTeam(TeamID(1), []*Machine{m1, m2})
	assert.False(t, mt.Healthy(), "a machine with no servers is never healthy")

	s1 := newTestServer(NewServerID())
	s2 := newTestServer(NewServerID())
	m1.addServer(s1)
	m2.addServer(s2)
	assert.True(t, mt.Healthy(), "every machine has at least one non-failed server")

	s1.Status.IsFailed = true
	assert.False(t, mt.Healthy(), "one unhealthy machine makes the whole team unhealthy")
}

func TestSameMachineSet(t *testing.T) {
	m1 := newMachine(MachineID("m1"), Locality{})
	m2 := newMachine(MachineID("m2"), Locality{})
	m3 := newMachine(MachineID("m3"), Locality{})

	assert.True(t, sameMachineSet([]*Machine{m1, m2}, []*Machine{m2, m1}))
	assert.False(t, sameMachineSet([]*Machine{m1, m2}, []*Machine{m1, m3}))
}
