// Package fingerprint computes the canonical, deterministic cache/coalescing
// key for a JSON-RPC call. It generalizes the teacher proxy's
// generateCacheKey/normalizeForCache pair (sha256 of a sorted-key JSON
// re-encoding) to the networked, human-auditable keys rpcguard's cache
// store and coalescer use directly; no digest is taken (§3, §4.1 step 2, §9).
package fingerprint

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Compute returns "networkKey:methodFingerprint" per §4.1 step 2:
//   - params absent, or an empty array -> "method"
//   - params is a single scalar (a one-element array holding a
//     string/number/bool/null) -> "method:scalarAsString"
//   - otherwise -> "method:canonical-JSON(params)"
func Compute(networkKey, method string, params json.RawMessage) (string, error) {
	suffix, err := methodFingerprint(method, params)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return networkKey + ":" + suffix, nil
}

func methodFingerprint(method string, params json.RawMessage) (string, error) {
	if len(params) == 0 {
		return method, nil
	}

	var decoded any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return "", fmt.Errorf("decode params: %w", err)
	}

	arr, isArray := decoded.([]any)
	if isArray && len(arr) == 0 {
		return method, nil
	}
	if isArray && len(arr) == 1 {
		if s, ok := scalarAsString(arr[0]); ok {
			return method + ":" + s, nil
		}
	}

	normalized := normalize(decoded)
	canonicalBytes, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("marshal canonical params: %w", err)
	}
	return method + ":" + string(canonicalBytes), nil
}

// scalarAsString renders a JSON scalar (string, number, bool, null) as a
// string, or reports false if v is an array/object/unsupported.
func scalarAsString(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "null", true
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return "", false
	}
}

// normalize recursively rebuilds objects as map[string]any, which
// json.Marshal writes with sorted keys, so that two semantically equal JSON
// values always marshal to the same bytes, regardless of the order keys
// appeared on the wire. Arrays keep their order: positional meaning is
// significant for JSON-RPC params.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return t
	}
}
