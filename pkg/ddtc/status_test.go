package ddtc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHigherExclusionPriority(t *testing.T) {
	assert.True(t, higherExclusionPriority(ExclusionFailed, ExclusionExcluded))
	assert.True(t, higherExclusionPriority(ExclusionExcluded, ExclusionWiggling))
	assert.True(t, higherExclusionPriority(ExclusionWiggling, ExclusionNone))
	assert.False(t, higherExclusionPriority(ExclusionNone, ExclusionFailed))
	assert.False(t, higherExclusionPriority(ExclusionWiggling, ExclusionWiggling))
}

func TestHigherPriorityLadder(t *testing.T) {
	ladder := []TeamPriority{
		PriorityTeamHealthy,
		PriorityTeamContainsUndesiredServer,
		PriorityTeamRedundant,
		PriorityPerpetualStorageWiggle,
		PriorityTeamUnhealthy,
		PriorityTeam2Left,
		PriorityTeam1Left,
		PriorityTeam0Left,
		PriorityPopulateRegion,
		PriorityTeamFailed,
	}
	for i := 1; i < len(ladder); i++ {
		assert.True(t, higherPriority(ladder[i], ladder[i-1]), "%v must outrank %v", ladder[i], ladder[i-1])
		assert.False(t, higherPriority(ladder[i-1], ladder[i]))
	}
}

func TestExclusionStatusString(t *testing.T) {
	assert.Equal(t, "none", ExclusionNone.String())
	assert.Equal(t, "wiggling", ExclusionWiggling.String())
	assert.Equal(t, "excluded", ExclusionExcluded.String())
	assert.Equal(t, "failed", ExclusionFailed.String())
}

func TestTeamPriorityString(t *testing.T) {
	assert.Equal(t, "POPULATE_REGION", PriorityPopulateRegion.String())
	assert.Equal(t, "TEAM_HEALTHY", PriorityTeamHealthy.String())
	assert.Equal(t, "TEAM_FAILED", PriorityTeamFailed.String())
	assert.Equal(t, "UNKNOWN", TeamPriority(999).String())
}
