package ddtc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func addTestServer(t *testing.T, r *Registry, machine string) *Server {
	s, err := r.AddServer(Interface{Address: machine + ":1234"}, ProcessClassStorage, Locality{LocalityMachine: machine}, 1)
	assert.Nil(t, err)
	return s
}

func TestRegistryAddRemoveServer(t *testing.T) {
	r := NewRegistry(1)

	s := addTestServer(t, r, "m1")
	assert.Len(t, r.Servers(), 1)
	assert.Len(t, r.Machines(), 1)

	m, ok := r.Machine(s.MachineID)
	assert.True(t, ok)
	assert.Equal(t, MachineID("m1"), m.ID)

	assert.Nil(t, r.RemoveServer(s.ID))
	assert.Len(t, r.Servers(), 0)
	assert.Len(t, r.Machines(), 0, "machine must be removed once its last server leaves")
}

func TestRegistryDuplicateServerRejected(t *testing.T) {
	r := NewRegistry(1)
	s := addTestServer(t, r, "m1")
	_, err := r.addServerWithID(s.ID, s.Interface, s.ProcessClass, s.Locality, 1)
	assert.Equal(t, ErrServerExists, err)
}

func TestRegistryTeamLifecycle(t *testing.T) {
	r := NewRegistry(1)
	a := addTestServer(t, r, "m1")
	b := addTestServer(t, r, "m2")
	c := addTestServer(t, r, "m3")

	mA, _ := r.Machine(a.MachineID)
	mB, _ := r.Machine(b.MachineID)
	mC, _ := r.Machine(c.MachineID)

	mt, err := r.CheckAndCreateMachineTeam([]*Machine{mA, mB, mC})
	assert.Nil(t, err)

	team, err := r.AddTeam([]*Server{a, b, c}, mt)
	assert.Nil(t, err)
	assert.True(t, team.Healthy())
	assert.Len(t, a.Teams(), 1)
	assert.Len(t, mt.ServerTeams(), 1)

	r.RemoveTeam(team)
	assert.Len(t, a.Teams(), 0)
	assert.Len(t, mt.ServerTeams(), 0)
}

func TestRegistryRemoveServerCascadesTeams(t *testing.T) {
	r := NewRegistry(1)
	a := addTestServer(t, r, "m1")
	b := addTestServer(t, r, "m2")
	c := addTestServer(t, r, "m3")

	mA, _ := r.Machine(a.MachineID)
	mB, _ := r.Machine(b.MachineID)
	mC, _ := r.Machine(c.MachineID)
	mt, _ := r.CheckAndCreateMachineTeam([]*Machine{mA, mB, mC})
	_, err := r.AddTeam([]*Server{a, b, c}, mt)
	assert.Nil(t, err)

	assert.Nil(t, r.RemoveServer(a.ID))
	assert.Len(t, r.ServerTeams(), 0, "removing a member must remove its team")
	assert.Len(t, b.Teams(), 0)
}

func TestRegistryCheckAndCreateMachineTeamReusesExisting(t *testing.T) {
	r := NewRegistry(1)
	a := addTestServer(t, r, "m1")
	b := addTestServer(t, r, "m2")
	mA, _ := r.Machine(a.MachineID)
	mB, _ := r.Machine(b.MachineID)

	mt1, err := r.CheckAndCreateMachineTeam([]*Machine{mA, mB})
	assert.Nil(t, err)
	mt2, err := r.CheckAndCreateMachineTeam([]*Machine{mB, mA})
	assert.Nil(t, err)
	assert.Equal(t, mt1.ID, mt2.ID, "machine-team identity depends only on the machine set, not order")
}

func TestRegistryTestingServerSkipsTeamGraph(t *testing.T) {
	r := NewRegistry(1)
	s, err := r.AddTestingServer(Interface{Address: "t1:1234"}, Locality{}, 1, ServerID{})
	assert.Nil(t, err)
	assert.True(t, s.IsTestingServer)
	assert.Len(t, r.Machines(), 0, "testing servers never create a machine")

	assert.Nil(t, r.RemoveTestingServer(s.ID))
	assert.Len(t, r.Servers(), 0)
}
