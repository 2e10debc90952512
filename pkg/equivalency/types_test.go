package equivalency

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalLevelRank(t *testing.T) {
	levels := Levels()
	assert.Len(t, levels, 5)
	for i, l := range levels {
		assert.Equal(t, i, l.Rank(), "level %s", l)
	}
	assert.Equal(t, -1, CanonicalLevel("NOT_A_LEVEL").Rank())
	assert.Equal(t, -1, CanonicalLevel("").Rank())
}

func TestCanonicalLevelMeets(t *testing.T) {
	assert.True(t, NATOSecret.Meets(NATOSecret))
	assert.True(t, CosmicTopSecret.Meets(NATOUnclassified))
	assert.False(t, NATOConfidential.Meets(NATOSecret))

	// Off-scale values satisfy nothing and are satisfied by nothing.
	assert.False(t, CanonicalLevel("MYSTERY").Meets(NATOUnclassified))
	assert.False(t, CosmicTopSecret.Meets(CanonicalLevel("MYSTERY")))
}
