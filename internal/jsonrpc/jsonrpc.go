// Package jsonrpc defines the JSON-RPC 2.0 request/response envelopes used
// throughout rpcguard.
package jsonrpc

import "encoding/json"

const Version = "2.0"

// Error codes used by the pipeline when it has to synthesize a response on
// the caller's behalf rather than forward one from an upstream.
const (
	CodeUpstreamError = -32000
	CodeInternalError = -32603
)

// Request is a single JSON-RPC call. Params and ID are kept as raw JSON so
// that callers who never inspect them pay no parsing cost, and so a missing
// ID (a notification) is distinguishable from an explicit null.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// IsNotification reports whether the request omitted an id.
func (r Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Error is the JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Response is a single JSON-RPC reply. Exactly one of Result/Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// WithID returns a shallow copy of r carrying id in place of whatever ID it
// already had. Used when substituting the caller's id into a coalesced or
// cached response.
func (r Response) WithID(id json.RawMessage) Response {
	r.ID = id
	return r
}

// UpstreamError builds the caller-facing error produced when a transport
// call to an upstream failed or was exhausted after retries (§7).
func UpstreamError(id json.RawMessage, detail string) Response {
	return Response{
		JSONRPC: Version,
		ID:      id,
		Error: &Error{
			Code:    CodeUpstreamError,
			Message: "Upstream error",
			Data:    detail,
		},
	}
}

// UpstreamUnavailable builds the caller-facing error produced when a
// circuit breaker is open and short-circuits the call (§4.1 step 6).
func UpstreamUnavailable(id json.RawMessage) Response {
	return Response{
		JSONRPC: Version,
		ID:      id,
		Error: &Error{
			Code:    CodeUpstreamError,
			Message: "Upstream error",
			Data:    "upstream_unavailable: circuit breaker open",
		},
	}
}

// InternalError builds the caller-facing error for unexpected internal
// failures (serialization bugs, programmer errors). No upstream detail is
// ever attached, per §7.
func InternalError(id json.RawMessage) Response {
	return Response{
		JSONRPC: Version,
		ID:      id,
		Error: &Error{
			Code:    CodeInternalError,
			Message: "Internal error",
		},
	}
}

// IsNullResult reports whether r carries a successful response whose result
// is the JSON literal null or is absent altogether.
func IsNullResult(r Response) bool {
	return r.Error == nil && (len(r.Result) == 0 || string(r.Result) == "null")
}
