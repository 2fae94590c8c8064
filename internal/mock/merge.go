package mock

// Merge implements the §4.4 merge rule and §8 invariant 5: mock leaves
// override matching proxy leaves; keys present only in the proxy response
// are retained; a type mismatch at a leaf preserves the proxy value.
func Merge(proxy, mockVal any) any {
	if mockVal == nil {
		return proxy
	}
	if proxy == nil {
		return mockVal
	}

	proxyMap, proxyIsMap := proxy.(map[string]any)
	mockMap, mockIsMap := mockVal.(map[string]any)
	if proxyIsMap && mockIsMap {
		out := make(map[string]any, len(proxyMap)+len(mockMap))
		for k, v := range proxyMap {
			out[k] = v
		}
		for k, mv := range mockMap {
			if pv, ok := proxyMap[k]; ok {
				out[k] = Merge(pv, mv)
			} else {
				out[k] = mv
			}
		}
		return out
	}

	if sameShape(proxy, mockVal) {
		return mockVal
	}
	// Type mismatch at a leaf: proxy value preserved.
	return proxy
}

func sameShape(a, b any) bool {
	switch a.(type) {
	case map[string]any:
		_, ok := b.(map[string]any)
		return ok
	case []any:
		_, ok := b.([]any)
		return ok
	case string:
		_, ok := b.(string)
		return ok
	case bool:
		_, ok := b.(bool)
		return ok
	case int, int32, int64, float64, uint64:
		switch b.(type) {
		case int, int32, int64, float64, uint64:
			return true
		default:
			return false
		}
	default:
		return true
	}
}
