package ddtc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExclusionControllerApplyExcludedList(t *testing.T) {
	c := NewExclusionController()
	c.ApplyExcludedList([]string{"a:1", "b:1"})
	assert.Equal(t, ExclusionExcluded, c.Status("a:1"))
	assert.Equal(t, ExclusionExcluded, c.Status("b:1"))

	c.ApplyExcludedList([]string{"a:1"})
	assert.Equal(t, ExclusionExcluded, c.Status("a:1"))
	assert.Equal(t, ExclusionNone, c.Status("b:1"), "dropped from the list reverts to NONE")
}

func TestExclusionControllerFailedOutranksExcluded(t *testing.T) {
	c := NewExclusionController()
	c.ApplyFailedList([]string{"a:1"})
	c.ApplyExcludedList([]string{"a:1"})
	assert.Equal(t, ExclusionFailed, c.Status("a:1"), "excluded-list pass must not downgrade a FAILED entry")
}

func TestExclusionControllerExcludedListNeverDowngradesWiggling(t *testing.T) {
	c := NewExclusionController()
	c.SetWiggling("a:1")
	c.ApplyExcludedList([]string{})
	assert.Equal(t, ExclusionWiggling, c.Status("a:1"), "an excluded-list pass must not clear a WIGGLING entry")
}

func TestExclusionControllerClearWiggling(t *testing.T) {
	c := NewExclusionController()
	c.SetWiggling("a:1")
	c.ClearWiggling("a:1")
	assert.Equal(t, ExclusionNone, c.Status("a:1"))

	c.SetWiggling("a:1")
	c.ApplyFailedList([]string{"a:1"})
	c.ClearWiggling("a:1")
	assert.Equal(t, ExclusionFailed, c.Status("a:1"), "clearing wiggling must not downgrade a later FAILED raise")
}

func TestExclusionControllerHealthyZone(t *testing.T) {
	c := NewExclusionController()
	c.SetHealthyZone("z1", 100)

	assert.True(t, c.InMaintenanceZone(Locality{LocalityZone: "z1"}, 50))
	assert.False(t, c.InMaintenanceZone(Locality{LocalityZone: "z2"}, 50))
	assert.False(t, c.InMaintenanceZone(Locality{LocalityZone: "z1"}, 150), "expired zone no longer applies")

	assert.True(t, c.DDLoopDisabled(50))
	assert.False(t, c.DDLoopDisabled(150))
}

func TestExclusionControllerSnapshot(t *testing.T) {
	c := NewExclusionController()
	c.ApplyExcludedList([]string{"a:1"})
	snap := c.Snapshot()
	assert.Equal(t, ExclusionExcluded, snap["a:1"])

	snap["a:1"] = ExclusionFailed
	assert.Equal(t, ExclusionExcluded, c.Status("a:1"), "snapshot must not alias the live map")
}
