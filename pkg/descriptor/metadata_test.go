package descriptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_GetSetUpdate(t *testing.T) {
	s := NewStore(map[string]any{"region": "us-east-1"})

	v, ok := s.Get("region")
	require.True(t, ok)
	assert.Equal(t, "us-east-1", v)

	_, ok = s.Get("missing")
	assert.False(t, ok)

	s.Set("tier", "gold")
	s.Update(map[string]any{"region": "eu-west-1", "owner": "search-team"})

	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []string{"owner", "region", "tier"}, s.Keys())

	v, _ = s.Get("region")
	assert.Equal(t, "eu-west-1", v)
}

func TestNewStore_DeepCopiesSource(t *testing.T) {
	src := map[string]any{
		"limits": map[string]any{"rps": 10},
		"tags":   []any{"a", "b"},
	}
	s := NewStore(src)

	src["limits"].(map[string]any)["rps"] = 999
	src["tags"].([]any)[0] = "mutated"

	limits, _ := s.Get("limits")
	assert.Equal(t, 10, limits.(map[string]any)["rps"])
	tags, _ := s.Get("tags")
	assert.Equal(t, "a", tags.([]any)[0])
}

func TestStore_SnapshotIsolated(t *testing.T) {
	s := NewStore(map[string]any{"nested": map[string]any{"k": "v"}})

	snap := s.Snapshot()
	snap["nested"].(map[string]any)["k"] = "changed"
	snap["extra"] = true

	nested, _ := s.Get("nested")
	assert.Equal(t, "v", nested.(map[string]any)["k"])
	_, ok := s.Get("extra")
	assert.False(t, ok)
}

func TestInheritStore_DenyList(t *testing.T) {
	parent := NewStore(map[string]any{
		"name":   "parent-resource",
		"path":   "parent",
		"region": "us-east-1",
	})

	child := inheritStore(parent, nil)

	_, ok := child.Get("name")
	assert.False(t, ok, "name must not inherit")
	_, ok = child.Get("path")
	assert.False(t, ok, "path must not inherit")

	region, ok := child.Get("region")
	require.True(t, ok)
	assert.Equal(t, "us-east-1", region)
}

func TestInheritStore_OwnValuesWin(t *testing.T) {
	parent := NewStore(map[string]any{"region": "us-east-1", "tier": "gold"})

	child := inheritStore(parent, map[string]any{
		"region": "eu-west-1",
		"name":   "child",
	})

	region, _ := child.Get("region")
	assert.Equal(t, "eu-west-1", region)
	tier, _ := child.Get("tier")
	assert.Equal(t, "gold", tier)

	// Own keys land even when the key is on the deny list.
	name, ok := child.Get("name")
	require.True(t, ok)
	assert.Equal(t, "child", name)
}

func TestInheritStore_CopiesAtBuildTime(t *testing.T) {
	parent := NewStore(map[string]any{"region": "us-east-1"})
	child := inheritStore(parent, nil)

	parent.Set("region", "eu-west-1")

	region, _ := child.Get("region")
	assert.Equal(t, "us-east-1", region)
}
