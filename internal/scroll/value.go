package scroll

// DeepEqual compares two JSON-compatible values structurally: mappings are
// key-order independent, lists are positional, numbers compare by numeric
// value across int/int64/float64 representations.
func DeepEqual(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !DeepEqual(v, w) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !DeepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		an, aok := asFloat(a)
		bn, bok := asFloat(b)
		return aok && bok && an == bn
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// DeepCopy returns a structurally independent copy of a JSON-compatible
// value. Primitives are returned as-is.
func DeepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = DeepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = DeepCopy(e)
		}
		return out
	default:
		return v
	}
}

// CopyData deep-copies a data mapping, mapping nil to an empty mapping.
func CopyData(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	return DeepCopy(data).(map[string]any)
}
