package track

import "reflect"

// diff returns the changed fields between before and after, restricted to
// the allow-list. A field appears in old when it existed before and in new
// when it exists after; unchanged fields are omitted so diffs stay minimal.
func diff(before, after map[string]any, allowed map[string]struct{}) (oldValues, newValues map[string]any) {
	for field := range allowed {
		prev, hadPrev := before[field]
		next, hasNext := after[field]

		switch {
		case hadPrev && hasNext:
			if reflect.DeepEqual(prev, next) {
				continue
			}
			oldValues = put(oldValues, field, prev)
			newValues = put(newValues, field, next)
		case hadPrev:
			oldValues = put(oldValues, field, prev)
		case hasNext:
			newValues = put(newValues, field, next)
		}
	}
	return oldValues, newValues
}

// restrict filters state down to the allow-listed fields.
func restrict(state map[string]any, allowed map[string]struct{}) map[string]any {
	var out map[string]any
	for field := range allowed {
		if v, ok := state[field]; ok {
			out = put(out, field, v)
		}
	}
	return out
}

func put(m map[string]any, key string, value any) map[string]any {
	if m == nil {
		m = make(map[string]any)
	}
	m[key] = value
	return m
}
