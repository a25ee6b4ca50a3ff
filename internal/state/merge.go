package state

import "strconv"

// Object deltas addressed to array indices further than this past the end are ignored.
const maxIndexGrowth = 1024

// mergeValue folds src into dst and returns the value to store in dst's place.
// dst may be mutated; src is never aliased into the result.
func mergeValue(dst, src any) any {
	switch s := src.(type) {
	case map[string]any:
		switch d := dst.(type) {
		case map[string]any:
			mergeObject(d, s)
			return d
		case []any:
			return mergeIndexed(d, s)
		default:
			obj := make(map[string]any, len(s))
			mergeObject(obj, s)
			return obj
		}
	case []any:
		return cloneValue(s)
	default:
		return s
	}
}

func mergeObject(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = mergeValue(dst[k], v)
	}
}

// mergeIndexed applies an object keyed by decimal indices onto arr,
// growing it as needed. Non-numeric keys are skipped.
func mergeIndexed(arr []any, src map[string]any) []any {
	for k, v := range src {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 || i > len(arr)+maxIndexGrowth {
			continue
		}
		for len(arr) <= i {
			arr = append(arr, nil)
		}
		arr[i] = mergeValue(arr[i], v)
	}
	return arr
}

// CloneRoot returns a deep copy of a decoded snapshot document.
func CloneRoot(root map[string]any) map[string]any {
	out, _ := cloneValue(root).(map[string]any)
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return t
	}
}
