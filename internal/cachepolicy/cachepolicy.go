// Package cachepolicy implements the cacheability/TTL resolution of §4.3 and
// the cache-poisoning guard of §4.6. It is deliberately free of I/O so it can
// be exhaustively unit tested.
package cachepolicy

import (
	"encoding/json"
	"strings"
	"time"
)

// Infinite is the sentinel TTL for entries that never expire (§3 Cache
// Entry invariant (b)).
const Infinite time.Duration = 0

var infinitelyCacheable = map[string]struct{}{
	"eth_chainId":               {},
	"net_version":               {},
	"eth_getTransactionReceipt": {},
	"eth_getTransactionByHash":  {},
	"eth_getBlockByHash":        {},
}

var timeCacheable = map[string]struct{}{
	"eth_blockNumber":      {},
	"eth_gasPrice":         {},
	"eth_getLogs":          {},
	"eth_call":             {},
	"eth_getBlockByNumber": {},
	"eth_getBalance":       {},
	"eth_getCode":          {},
	"eth_getStorageAt":     {},
}

// Resolve reports whether method/params is cacheable at all and, if so,
// the TTL to apply (Infinite for entries that never expire).
func Resolve(method string, params json.RawMessage, maxAge time.Duration) (cacheable bool, ttl time.Duration) {
	if _, ok := infinitelyCacheable[method]; ok {
		return true, Infinite
	}
	if _, ok := timeCacheable[method]; !ok {
		return false, 0
	}
	if promotedToInfinite(method, params) {
		return true, Infinite
	}
	return true, maxAge
}

func promotedToInfinite(method string, params json.RawMessage) bool {
	args := decodeArray(params)

	switch method {
	case "eth_call":
		if len(args) > 0 {
			if obj, ok := args[0].(map[string]any); ok {
				if _, hasBlockHash := obj["blockHash"]; hasBlockHash {
					return true
				}
			}
		}
		if len(args) > 1 {
			if s, ok := args[1].(string); ok && isHexBlock(s) {
				return true
			}
		}
	case "eth_getBlockByNumber":
		if len(args) > 0 {
			if s, ok := args[0].(string); ok && isHexBlock(s) {
				return true
			}
		}
	}
	return false
}

func isHexBlock(s string) bool {
	return strings.HasPrefix(s, "0x") && s != "latest" && s != "pending"
}

func decodeArray(params json.RawMessage) []any {
	if len(params) == 0 {
		return nil
	}
	var args []any
	if err := json.Unmarshal(params, &args); err != nil {
		return nil
	}
	return args
}

// Problematic-response reasons, the label set for
// cache_invalid_entries_total{reason} (§4.6).
const (
	ReasonNullResult  = "null_result"
	ReasonEmptyArray  = "empty_array"
	ReasonEmptyObject = "empty_object"
	ReasonErrorString = "error_string"
	ReasonUnknown     = "unknown"
)

var problematicSubstrings = []string{"error", "not found", "unavailable"}

// IsProblematic implements the cache-poisoning guard of §4.6. It returns
// whether result must not be cached and, if so, the metric reason label.
func IsProblematic(result json.RawMessage) (bool, string) {
	trimmed := strings.TrimSpace(string(result))
	if trimmed == "" || trimmed == "null" {
		return true, ReasonNullResult
	}

	var decoded any
	if err := json.Unmarshal(result, &decoded); err != nil {
		return true, ReasonUnknown
	}

	switch v := decoded.(type) {
	case nil:
		return true, ReasonNullResult
	case []any:
		if len(v) == 0 {
			return true, ReasonEmptyArray
		}
	case map[string]any:
		if len(v) == 0 {
			return true, ReasonEmptyObject
		}
	case string:
		for _, substr := range problematicSubstrings {
			if strings.Contains(v, substr) {
				return true, ReasonErrorString
			}
		}
	}
	return false, ""
}
