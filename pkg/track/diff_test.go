package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func allow(fields ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}

func TestDiff(t *testing.T) {
	before := map[string]any{"name": "a", "level": 10, "active": true}
	after := map[string]any{"name": "b", "level": 10, "active": true}

	oldValues, newValues := diff(before, after, allow("name", "level", "active"))
	assert.Equal(t, map[string]any{"name": "a"}, oldValues)
	assert.Equal(t, map[string]any{"name": "b"}, newValues)
}

func TestDiff_FieldAddedAndRemoved(t *testing.T) {
	before := map[string]any{"name": "a"}
	after := map[string]any{"level": 5}

	oldValues, newValues := diff(before, after, allow("name", "level"))
	assert.Equal(t, map[string]any{"name": "a"}, oldValues)
	assert.Equal(t, map[string]any{"level": 5}, newValues)
}

func TestDiff_DeepEquality(t *testing.T) {
	before := map[string]any{"tags": []string{"a", "b"}}
	after := map[string]any{"tags": []string{"a", "b"}}

	oldValues, newValues := diff(before, after, allow("tags"))
	assert.Nil(t, oldValues)
	assert.Nil(t, newValues)
}

func TestDiff_RestrictedToAllowList(t *testing.T) {
	before := map[string]any{"name": "a", "secret": "x"}
	after := map[string]any{"name": "a", "secret": "y"}

	oldValues, newValues := diff(before, after, allow("name"))
	assert.Nil(t, oldValues)
	assert.Nil(t, newValues)
}

func TestRestrict(t *testing.T) {
	state := map[string]any{"name": "a", "secret": "x"}
	assert.Equal(t, map[string]any{"name": "a"}, restrict(state, allow("name", "missing")))
	assert.Nil(t, restrict(state, allow("absent")))
	assert.Nil(t, restrict(nil, allow("name")))
}
