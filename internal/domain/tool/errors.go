package tool

import (
	"errors"
	"fmt"
)

// ErrorCode classifies tool call failures. Every failing tool call
// maps onto exactly one code; the orchestrator relies on the code to
// decide whether to feed the failure back to the reasoner or abort.
type ErrorCode string

const (
	// CodeInvalidArgument means the arguments failed schema validation.
	CodeInvalidArgument ErrorCode = "invalid_argument"
	// CodeUnknownTool means no tool with the requested name exists.
	CodeUnknownTool ErrorCode = "unknown_tool"
	// CodePermissionDenied means policy evaluation denied the call.
	CodePermissionDenied ErrorCode = "permission_denied"
	// CodeNotFound means the targeted record does not exist.
	CodeNotFound ErrorCode = "not_found"
	// CodeTimeout means the call exceeded its per-call deadline.
	CodeTimeout ErrorCode = "timeout"
	// CodeInternal covers store and infrastructure failures.
	CodeInternal ErrorCode = "internal"
)

// Error is a classified tool call failure. The message is safe to
// surface verbatim into conversation history.
type Error struct {
	Code    ErrorCode
	Message string
	// Err is the underlying cause, kept for logs and never surfaced
	// to the reasoner.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified tool error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError builds a classified tool error around a cause.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the error code from err. Unclassified errors report
// CodeInternal.
func CodeOf(err error) ErrorCode {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return CodeInternal
}

// MessageOf extracts the surfaceable message from err. Unclassified
// errors yield a generic message so internals never leak into
// conversation history.
func MessageOf(err error) string {
	var te *Error
	if errors.As(err, &te) {
		return te.Message
	}
	return "internal error"
}
