// Package router centralizes §4.5's archive-fallback predicate (the
// substring/regex table §9 asks to keep in one auditable place) and the
// primary/fallback upstream descriptors for each network.
package router

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rpcguard/rpcguard/internal/jsonrpc"
	"github.com/rpcguard/rpcguard/internal/upstream"
)

// UpstreamType distinguishes primary from fallback for metrics labels
// (rpc_fallback_requests_total{upstream_type}, §6).
type UpstreamType string

const (
	UpstreamPrimary  UpstreamType = "primary"
	UpstreamFallback UpstreamType = "fallback"
)

// Network is the Network Descriptor of §3: immutable for the process
// lifetime, built once at startup.
type Network struct {
	Key      string
	Primary  upstream.Descriptor
	Fallback *upstream.Descriptor
}

// nullResultMethods is the set of methods for which a null result from the
// primary triggers archive fallback (§4.5(a)), restricted to calls pinned
// to a specific (non-latest/pending) block where that applies.
var nullResultMethods = map[string]struct{}{
	"eth_getBlockByNumber":      {},
	"eth_getLogs":               {},
	"eth_getTransactionReceipt": {},
}

// errorPatterns is the literal substring table of §4.5(b), matched against
// the lowercased error message/data.
var errorPatterns = []string{
	"block not found",
	"transaction not found",
	"receipt not found",
	"logs not found",
	"state not found",
	"data not available",
	"block range not available",
	"historical data not available",
	"only recent blocks available",
	"archive node required",
}

// blockToleranceRegexes is the case-insensitive regex table of §4.5(c),
// only consulted for eth_call with params[1] == "latest".
var blockToleranceRegexes = compileAll(
	`block.*returned.*is after.*last block`,
	`non-deterministic error`,
	`block.*is after.*requested range`,
	`block ordering error`,
	`deterministic error`,
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile("(?i)" + p)
	}
	return out
}

// Reason labels rpc_fallback_requests_total{reason} (§6).
const (
	ReasonNullResult     = "null_result"
	ReasonErrorPattern   = "error_pattern"
	ReasonBlockTolerance = "block_tolerance"
)

// ShouldFallback implements §4.5: given the primary's outcome for a call,
// decide whether the fallback upstream should be tried. callErr is the
// transport error, if any; resp is the parsed upstream response when the
// call succeeded at the transport level (callErr == nil).
func ShouldFallback(method string, params json.RawMessage, resp *jsonrpc.Response, callErr error) (bool, string) {
	var errText string
	switch {
	case callErr != nil:
		errText = callErr.Error()
	case resp != nil && resp.Error != nil:
		errText = resp.Error.Message
		if s, ok := resp.Error.Data.(string); ok {
			errText += " " + s
		}
	}

	if errText != "" {
		lower := strings.ToLower(errText)
		for _, pattern := range errorPatterns {
			if strings.Contains(lower, pattern) {
				return true, ReasonErrorPattern
			}
		}
		if method == "eth_call" && isLatestCall(params) {
			for _, re := range blockToleranceRegexes {
				if re.MatchString(errText) {
					return true, ReasonBlockTolerance
				}
			}
		}
		return false, ""
	}

	// No error: check the null-result condition (§4.5(a)).
	if resp != nil && jsonrpc.IsNullResult(*resp) {
		if _, ok := nullResultMethods[method]; ok {
			if method != "eth_getBlockByNumber" || isSpecificBlock(params) {
				return true, ReasonNullResult
			}
		}
	}

	return false, ""
}

func isLatestCall(params json.RawMessage) bool {
	args := decodeArray(params)
	if len(args) < 2 {
		return false
	}
	s, ok := args[1].(string)
	return ok && s == "latest"
}

func isSpecificBlock(params json.RawMessage) bool {
	args := decodeArray(params)
	if len(args) == 0 {
		return false
	}
	s, ok := args[0].(string)
	if !ok {
		return false
	}
	return s != "latest" && s != "pending"
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
