// Package errs implements the domain error taxonomy: every public operation
// returns either a typed success value or one of these declared error cases.
// Conversion to the JSON-RPC error envelope happens in exactly one place,
// internal/rpc's dispatcher.
package errs

import "fmt"

// Code is a stable, machine-comparable error identifier. Codes never change
// meaning once shipped; new failure modes get new codes.
type Code string

const (
	// Protocol
	CodeParseError     Code = "ParseError"
	CodeInvalidRequest Code = "InvalidRequest"
	CodeMethodNotFound Code = "MethodNotFound"
	CodeInvalidParams  Code = "InvalidParams"
	CodeInternalError  Code = "InternalError"

	// Authorization
	CodeUnauthorized        Code = "Unauthorized"
	CodeForbidden           Code = "Forbidden"
	CodeEnvironmentMismatch Code = "EnvironmentMismatch"
	CodeCapabilityMissing   Code = "CapabilityMissing"
	CodeRoleInsufficient    Code = "RoleInsufficient"
	CodeRateLimitExceeded   Code = "RateLimitExceeded"

	// Resource lookup
	CodeDeviceNotFound     Code = "DeviceNotFound"
	CodePlanNotFound       Code = "PlanNotFound"
	CodeSnapshotNotFound   Code = "SnapshotNotFound"
	CodeCredentialNotFound Code = "CredentialNotFound"

	// State / lifecycle
	CodePlanAlreadyApplied    Code = "PlanAlreadyApplied"
	CodePlanExpired           Code = "PlanExpired"
	CodeApprovalTokenExpired  Code = "ApprovalTokenExpired"
	CodeApprovalTokenInvalid  Code = "ApprovalTokenInvalid"
	CodeSelfApprovalForbidden Code = "SelfApprovalForbidden"

	// Safety checks
	CodePreChangeHealthFailed  Code = "PreChangeHealthFailed"
	CodePostChangeHealthFailed Code = "PostChangeHealthFailed"
	CodeSnapshotCreateFailed   Code = "SnapshotCreateFailed"
	CodeRollbackFailed         Code = "RollbackFailed"
	CodeUnsafeOperation        Code = "UnsafeOperation"

	// Device interaction
	CodeDeviceUnreachable Code = "DeviceUnreachable"
	CodeAuthFailure       Code = "AuthFailure"
	CodeDeviceError       Code = "DeviceError"
	CodeTimeout           Code = "Timeout"
	CodeNoChange          Code = "NoChange"

	// Resource limits
	CodeQueueSaturated         Code = "QueueSaturated"
	CodeConcurrentLimitExceeded Code = "ConcurrentLimitExceeded"
	CodeTokenBudgetExceeded    Code = "TokenBudgetExceeded"

	// Registry / validation (additional protocol-adjacent lookups)
	CodeNameConflict       Code = "NameConflict"
	CodeInvalidEnvironment Code = "InvalidEnvironment"
	CodeVaultLocked        Code = "VaultLocked"
)

// Error is the sum-type-by-convention carrier for every domain failure: a
// stable Code, a human message, optional structured Data, and an optional
// wrapped cause for %w-style unwrapping.
type Error struct {
	Code    Code
	Message string
	Data    any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no structured data or cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a domain code to an underlying infrastructure error, the
// conversion point used at the RouterOSClient / repository boundary per the
// propagation policy.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithData returns a copy of e carrying structured data for the client.
func (e *Error) WithData(data any) *Error {
	cp := *e
	cp.Data = data
	return &cp
}

// As extracts an *Error from err, the same way callers use errors.As.
func As(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	if e, ok := err.(*Error); ok {
		return e, true
	}
	if u, ok := err.(interface{ Unwrap() error }); ok {
		return As(u.Unwrap())
	}
	return nil, false
}

// CodeOf returns the code of err if it (or something it wraps) is an *Error,
// otherwise CodeInternalError — the "nothing unexpected leaks" fallback.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternalError
}
