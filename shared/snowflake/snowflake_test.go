package snowflake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNode_Range(t *testing.T) {
	_, err := NewNode(-1)
	assert.Error(t, err)
	_, err = NewNode(maxNodeID + 1)
	assert.Error(t, err)

	n, err := NewNode(7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n.Generate().Node())
}

func TestGenerate_Monotonic(t *testing.T) {
	n, err := NewNode(1)
	require.NoError(t, err)

	seen := make(map[ID]struct{}, 5000)
	var last ID
	for i := 0; i < 5000; i++ {
		id := n.Generate()
		_, dup := seen[id]
		require.False(t, dup, "重复ID: %d", id)
		require.Greater(t, int64(id), int64(last))
		seen[id] = struct{}{}
		last = id
	}
}

func TestGenerate_ClockBackwards(t *testing.T) {
	n, err := NewNode(1)
	require.NoError(t, err)

	clock := int64(1_800_000_000_000)
	n.now = func() int64 { return clock }
	first := n.Generate()

	clock -= 500
	second := n.Generate()

	assert.Greater(t, int64(second), int64(first))
	assert.Equal(t, first.Time(), second.Time())
}

func TestID_TimeAndParse(t *testing.T) {
	n, err := NewNode(3)
	require.NoError(t, err)

	before := time.Now().Add(-time.Millisecond)
	id := n.Generate()
	assert.False(t, id.Time().Before(before.Truncate(time.Millisecond)))

	parsed, err := Parse(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = Parse("temp-1")
	assert.Error(t, err)
}
