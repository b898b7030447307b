package ddtc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func zone(id string) Locality { return Locality{LocalityZone: id} }

func TestAcrossZonesSelectReplicas(t *testing.T) {
	p := AcrossZones{}
	candidates := []Locality{zone("z1"), zone("z1"), zone("z2"), zone("z3")}

	var out []Locality
	err := p.SelectReplicas(nil, candidates, &out, 3)
	assert.Nil(t, err)
	assert.Len(t, out, 3)

	seen := make(map[string]bool)
	for _, l := range out {
		z, _ := l.Get(LocalityZone)
		assert.False(t, seen[z], "zones must be pairwise distinct")
		seen[z] = true
	}
}

func TestAcrossZonesInsufficientCandidates(t *testing.T) {
	p := AcrossZones{}
	candidates := []Locality{zone("z1"), zone("z1")}

	var out []Locality
	err := p.SelectReplicas(nil, candidates, &out, 3)
	assert.Equal(t, ErrInsufficientMachines, err)
}

func TestAcrossZonesRespectsForced(t *testing.T) {
	p := AcrossZones{}
	forced := []Locality{zone("z1")}
	candidates := []Locality{zone("z1"), zone("z2"), zone("z3")}

	var out []Locality
	err := p.SelectReplicas(forced, candidates, &out, 2)
	assert.Nil(t, err)
	assert.Len(t, out, 2)
	for _, l := range out {
		z, _ := l.Get(LocalityZone)
		assert.NotEqual(t, "z1", z, "candidate already used by forced must not be re-chosen")
	}
}

func TestAndPolicyUnionsAttributeKeys(t *testing.T) {
	p := AndPolicy{Policies: []Policy{AcrossDatacenters{}, AcrossZones{}}}
	keys := p.AttributeKeys()
	assert.Contains(t, keys, LocalityDatacenter)
	assert.Contains(t, keys, LocalityZone)
}

func TestGetDistinctScorePrefersMoreSignificantDifference(t *testing.T) {
	labels := []string{LocalityDatacenter, LocalityZone}
	chosen := []Locality{{LocalityDatacenter: "dc1", LocalityZone: "z1"}}

	sameDC := Locality{LocalityDatacenter: "dc1", LocalityZone: "z2"}
	diffDC := Locality{LocalityDatacenter: "dc2", LocalityZone: "z1"}

	assert.Greater(t, getDistinctScore(labels, chosen, diffDC), getDistinctScore(labels, chosen, sameDC))
}
