package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gramherd/gramherd/fleet/definitions"
)

func TestJitterPolicyIsDeterministicPerSeed(t *testing.T) {
	types := []definitions.ActionType{
		definitions.ActionLike, definitions.ActionFollow, definitions.ActionComment,
		definitions.ActionLike, definitions.ActionStoryView,
	}

	a := NewJitterPolicy(42, nil)
	b := NewJitterPolicy(42, nil)
	for _, typ := range types {
		assert.Equal(t, a(typ), b(typ), "same seed must replay the same sequence")
	}

	c := NewJitterPolicy(43, nil)
	different := false
	for _, typ := range types {
		if a(typ) != c(typ) {
			different = true
		}
	}
	assert.True(t, different, "different seeds should diverge")
}

func TestJitterPolicyStaysInBounds(t *testing.T) {
	p := NewJitterPolicy(7, nil)
	for typ, b := range DefaultBounds {
		for i := 0; i < 50; i++ {
			d := p(typ)
			assert.GreaterOrEqual(t, d, b.Min, "type %s", typ)
			assert.Less(t, d, b.Max, "type %s", typ)
		}
	}
}

func TestJitterPolicyUnknownTypeUsesFallback(t *testing.T) {
	p := NewJitterPolicy(1, nil)
	d := p(definitions.ActionType("mystery"))
	assert.GreaterOrEqual(t, d, fallbackBounds.Min)
	assert.Less(t, d, fallbackBounds.Max)
}

func TestJitterPolicyDegenerateBounds(t *testing.T) {
	p := NewJitterPolicy(1, map[definitions.ActionType]DelayBounds{
		definitions.ActionLike: {Min: 5 * time.Second, Max: 5 * time.Second},
	})
	assert.Equal(t, 5*time.Second, p(definitions.ActionLike))
}

func TestZeroPolicy(t *testing.T) {
	p := Zero()
	assert.Zero(t, p(definitions.ActionFollow))
}
