package mock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeNilCases(t *testing.T) {
	assert.Equal(t, map[string]any{"a": 1}, Merge(nil, map[string]any{"a": 1}))
	assert.Equal(t, map[string]any{"a": 1}, Merge(map[string]any{"a": 1}, nil))
	assert.Nil(t, Merge(nil, nil))
}

func TestMergeMockOverridesMatchingLeaves(t *testing.T) {
	proxy := map[string]any{"name": "from-proxy", "id": 1}
	mockVal := map[string]any{"name": "from-mock"}

	got := Merge(proxy, mockVal)
	assert.Equal(t, map[string]any{"name": "from-mock", "id": 1}, got)
}

func TestMergeRecursesIntoNestedMaps(t *testing.T) {
	proxy := map[string]any{
		"user": map[string]any{"name": "proxy-name", "age": 30},
	}
	mockVal := map[string]any{
		"user": map[string]any{"name": "mock-name"},
	}

	got := Merge(proxy, mockVal)
	assert.Equal(t, map[string]any{
		"user": map[string]any{"name": "mock-name", "age": 30},
	}, got)
}

func TestMergeTypeMismatchKeepsProxyValue(t *testing.T) {
	proxy := map[string]any{"count": 5}
	mockVal := map[string]any{"count": map[string]any{"not": "a number"}}

	got := Merge(proxy, mockVal)
	assert.Equal(t, map[string]any{"count": 5}, got)
}

func TestMergeKeysOnlyInProxyAreRetained(t *testing.T) {
	proxy := map[string]any{"a": 1, "b": 2}
	mockVal := map[string]any{"b": 3}

	got := Merge(proxy, mockVal)
	assert.Equal(t, map[string]any{"a": 1, "b": 3}, got)
}
