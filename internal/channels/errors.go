package channels

import (
	"errors"
	"fmt"
)

// ErrorCode classifies channel operation failures. Codes are stable and
// drive HTTP status mapping, metrics, and retry decisions.
type ErrorCode string

const (
	// ErrCodeInvalidCredential indicates the provider rejected the bot
	// token or handshake. Terminal; reported to the caller.
	ErrCodeInvalidCredential ErrorCode = "INVALID_CREDENTIAL"

	// ErrCodeAlreadyDeployed indicates an active deployment already
	// exists for the agent. No state is mutated.
	ErrCodeAlreadyDeployed ErrorCode = "ALREADY_DEPLOYED"

	// ErrCodeNotFound indicates no credential or session exists for the
	// agent.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeProviderTransport indicates a network or SDK failure while
	// talking to the messaging provider.
	ErrCodeProviderTransport ErrorCode = "PROVIDER_TRANSPORT_ERROR"

	// ErrCodeAskGateway indicates the downstream question-answering
	// service failed. Never surfaced verbatim to end chat users.
	ErrCodeAskGateway ErrorCode = "ASK_GATEWAY_ERROR"

	// ErrCodeBadRequest indicates a malformed inbound payload or
	// invalid operation input.
	ErrCodeBadRequest ErrorCode = "BAD_REQUEST"

	// ErrCodeTimeout indicates an operation exceeded its deadline.
	ErrCodeTimeout ErrorCode = "TIMEOUT_ERROR"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Error is a structured error with a taxonomy code, a human-readable
// message, and an optional underlying cause.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error, allowing errors.Is and errors.As
// to work.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// IsRetryable reports whether the error represents a transient failure
// that may succeed on retry.
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case ErrCodeProviderTransport, ErrCodeTimeout:
		return true
	default:
		return false
	}
}

// ErrInvalidCredential creates an invalid-credential error.
func ErrInvalidCredential(message string, err error) *Error {
	return NewError(ErrCodeInvalidCredential, message, err)
}

// ErrAlreadyDeployed creates an already-deployed conflict error.
func ErrAlreadyDeployed(message string) *Error {
	return NewError(ErrCodeAlreadyDeployed, message, nil)
}

// ErrNotFound creates a not-found error.
func ErrNotFound(message string, err error) *Error {
	return NewError(ErrCodeNotFound, message, err)
}

// ErrProviderTransport creates a provider transport error.
func ErrProviderTransport(message string, err error) *Error {
	return NewError(ErrCodeProviderTransport, message, err)
}

// ErrAskGateway creates an ask-gateway error.
func ErrAskGateway(message string, err error) *Error {
	return NewError(ErrCodeAskGateway, message, err)
}

// ErrBadRequest creates a bad-request error.
func ErrBadRequest(message string, err error) *Error {
	return NewError(ErrCodeBadRequest, message, err)
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string, err error) *Error {
	return NewError(ErrCodeTimeout, message, err)
}

// ErrInternal creates an internal error.
func ErrInternal(message string, err error) *Error {
	return NewError(ErrCodeInternal, message, err)
}

// GetErrorCode extracts the ErrorCode from an error if it is a channel
// Error, otherwise returns ErrCodeInternal.
func GetErrorCode(err error) ErrorCode {
	var chErr *Error
	if errors.As(err, &chErr) {
		return chErr.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether the error is a retryable channel error.
func IsRetryable(err error) bool {
	var chErr *Error
	if errors.As(err, &chErr) {
		return chErr.IsRetryable()
	}
	return false
}
