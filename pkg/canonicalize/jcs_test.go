package canonicalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCSSortsKeysDeterministically(t *testing.T) {
	a, err := JCS(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	b, err := JCS(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)

	assert.Equal(t, string(a), string(b))
	assert.Equal(t, `{"a":1,"b":2}`, string(a))
}

func TestHashIsStableAcrossFieldOrder(t *testing.T) {
	h1, err := Hash(map[string]any{"x": "1", "y": []int{1, 2}})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"y": []int{1, 2}, "x": "1"})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Contains(t, h1, "sha256:")
}

func TestHashDiffersOnContent(t *testing.T) {
	h1, err := Hash(map[string]int{"n": 1})
	require.NoError(t, err)
	h2, err := Hash(map[string]int{"n": 2})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
