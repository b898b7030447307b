package ddtc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocalityGet(t *testing.T) {
	l := Locality{LocalityZone: "z1"}
	v, ok := l.Get(LocalityZone)
	assert.True(t, ok)
	assert.Equal(t, "z1", v)

	_, ok = l.Get(LocalityDatacenter)
	assert.False(t, ok)

	var nilLocality Locality
	_, ok = nilLocality.Get(LocalityZone)
	assert.False(t, ok)
}

func TestLocalityClone(t *testing.T) {
	l := Locality{LocalityZone: "z1"}
	c := l.Clone()
	c[LocalityZone] = "z2"
	assert.Equal(t, "z1", l[LocalityZone], "clone must not alias the original map")

	var nilLocality Locality
	assert.Nil(t, nilLocality.Clone())
}

func TestCompareLocation(t *testing.T) {
	labels := []string{LocalityDatacenter, LocalityZone, LocalityMachine}
	a := Locality{LocalityDatacenter: "dc1", LocalityZone: "z1", LocalityMachine: "m1"}
	b := Locality{LocalityDatacenter: "dc1", LocalityZone: "z2", LocalityMachine: "m2"}

	assert.Equal(t, 1, compareLocation(a, b, labels))
	assert.Equal(t, -1, compareLocation(a, a, labels))
}
