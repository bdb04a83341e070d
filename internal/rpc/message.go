// Package rpc implements the MCP wire protocol: JSON-RPC 2.0 request,
// response, and notification envelopes, plus the single conversion point
// from the internal errs.Error taxonomy to JSON-RPC error codes. The
// envelope types follow the encoding/json idioms used throughout
// internal/httpserver (typed request/response structs, explicit
// marshal/unmarshal, no reflection-based codegen).
package rpc

import (
	"encoding/json"

	"github.com/wrenops/netguard-mcp/internal/errs"
)

// Version is the only JSON-RPC version this server understands.
const Version = "2.0"

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// domainErrorBase is the start of the reserved -32000..-32099 range used
// for errs.Code values that have no direct standard-code equivalent;
// offsets walk downward from it.
const domainErrorBase = -32000

// domainCodeOffsets assigns each non-protocol errs.Code a stable offset
// within the reserved range. Order only matters for readability; once
// assigned an offset must never be reused for a different Code.
var domainCodeOffsets = map[errs.Code]int{
	errs.CodeUnauthorized:            0,
	errs.CodeForbidden:               1,
	errs.CodeEnvironmentMismatch:     2,
	errs.CodeCapabilityMissing:       3,
	errs.CodeRoleInsufficient:        4,
	errs.CodeRateLimitExceeded:       5,
	errs.CodeDeviceNotFound:          6,
	errs.CodePlanNotFound:            7,
	errs.CodeSnapshotNotFound:        8,
	errs.CodeCredentialNotFound:      9,
	errs.CodePlanAlreadyApplied:      10,
	errs.CodePlanExpired:             11,
	errs.CodeApprovalTokenExpired:    12,
	errs.CodeApprovalTokenInvalid:    13,
	errs.CodeSelfApprovalForbidden:   14,
	errs.CodePreChangeHealthFailed:   15,
	errs.CodePostChangeHealthFailed:  16,
	errs.CodeSnapshotCreateFailed:    17,
	errs.CodeRollbackFailed:          18,
	errs.CodeUnsafeOperation:         19,
	errs.CodeDeviceUnreachable:       20,
	errs.CodeAuthFailure:             21,
	errs.CodeDeviceError:             22,
	errs.CodeTimeout:                 23,
	errs.CodeNoChange:                24,
	errs.CodeQueueSaturated:          25,
	errs.CodeConcurrentLimitExceeded: 26,
	errs.CodeTokenBudgetExceeded:     27,
	errs.CodeNameConflict:            28,
	errs.CodeInvalidEnvironment:      29,
	errs.CodeVaultLocked:             30,
}

// Request is an inbound JSON-RPC 2.0 request or notification. A
// notification omits ID; the dispatcher must not send a Response for one.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether r carries no id, per JSON-RPC 2.0 §4.1.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// ErrorObject is a JSON-RPC 2.0 error object.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Response is an outbound JSON-RPC 2.0 response. Exactly one of Result or
// Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// NewResult builds a successful Response for the given request id.
func NewResult(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: Version, ID: id, Result: result}
}

// NewError builds an error Response for the given request id and code/message.
func NewError(id json.RawMessage, code int, message string, data any) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: &ErrorObject{Code: code, Message: message, Data: data}}
}

// CodeFromErr maps an error to a JSON-RPC error code: protocol codes pass
// through verbatim, every other errs.Code gets a stable slot within the
// reserved domain range, and anything that isn't an *errs.Error at all
// falls back to InternalError so nothing unexpected leaks.
func CodeFromErr(err error) int {
	e, ok := errs.As(err)
	if !ok {
		return ErrCodeInternalError
	}
	switch e.Code {
	case errs.CodeParseError:
		return ErrCodeParseError
	case errs.CodeInvalidRequest:
		return ErrCodeInvalidRequest
	case errs.CodeMethodNotFound:
		return ErrCodeMethodNotFound
	case errs.CodeInvalidParams:
		return ErrCodeInvalidParams
	case errs.CodeInternalError:
		return ErrCodeInternalError
	}
	if offset, ok := domainCodeOffsets[e.Code]; ok {
		return domainErrorBase - offset
	}
	return ErrCodeInternalError
}

// ErrorFromErr converts err into a full JSON-RPC ErrorObject, using the
// errs.Error's own Code string as Data.code for client-side matching
// (clients key off the stable string code, not the numeric JSON-RPC slot).
func ErrorFromErr(err error) *ErrorObject {
	code := CodeFromErr(err)
	message := err.Error()
	var data any
	if e, ok := errs.As(err); ok {
		data = map[string]any{"code": string(e.Code), "details": e.Data}
		message = e.Message
	}
	return &ErrorObject{Code: code, Message: message, Data: data}
}
