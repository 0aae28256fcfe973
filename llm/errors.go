package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the category of an ErrorCode.
type ErrorKind string

const (
	ErrorKindBadRequest            ErrorKind = "bad_request"
	ErrorKindInvalidAuthentication ErrorKind = "invalid_authentication"
	ErrorKindNotSupported          ErrorKind = "not_supported"
	ErrorKindNotFound              ErrorKind = "not_found"
	ErrorKindRequestTimeout        ErrorKind = "request_timeout"
	ErrorKindRequestTooLarge       ErrorKind = "request_too_large"
	ErrorKindRateLimited           ErrorKind = "rate_limited"
	ErrorKindServerError           ErrorKind = "server_error"
	ErrorKindBadGateway            ErrorKind = "bad_gateway"
	ErrorKindServiceUnavailable    ErrorKind = "service_unavailable"
	ErrorKindGatewayTimeout        ErrorKind = "gateway_timeout"
	ErrorKindOther                 ErrorKind = "other"

	// Transport-level kinds. These never come from an HTTP status.
	ErrorKindBuild  ErrorKind = "build"
	ErrorKindFetch  ErrorKind = "fetch"
	ErrorKindDecode ErrorKind = "decode"
	ErrorKindConfig ErrorKind = "config"
)

var statusKinds = map[int]ErrorKind{
	http.StatusBadRequest:            ErrorKindBadRequest,
	http.StatusUnauthorized:          ErrorKindInvalidAuthentication,
	http.StatusForbidden:             ErrorKindNotSupported,
	http.StatusNotFound:              ErrorKindNotFound,
	http.StatusRequestTimeout:        ErrorKindRequestTimeout,
	http.StatusRequestEntityTooLarge: ErrorKindRequestTooLarge,
	http.StatusTooManyRequests:       ErrorKindRateLimited,
	http.StatusInternalServerError:   ErrorKindServerError,
	http.StatusBadGateway:            ErrorKindBadGateway,
	http.StatusServiceUnavailable:    ErrorKindServiceUnavailable,
	http.StatusGatewayTimeout:        ErrorKindGatewayTimeout,
}

// ErrorCode classifies why a call failed. Status is the HTTP status the code
// was derived from, or zero for transport-level kinds.
type ErrorCode struct {
	Kind   ErrorKind `json:"kind"`
	Status int       `json:"status,omitempty"`
}

// ErrorCodeFromStatus maps an HTTP status to an ErrorCode. Statuses without a
// dedicated kind map to Other(status).
func ErrorCodeFromStatus(status int) ErrorCode {
	if kind, ok := statusKinds[status]; ok {
		return ErrorCode{Kind: kind, Status: status}
	}
	return ErrorCodeOther(status)
}

// ErrorCodeOther is the catch-all code for unrecognized failures.
func ErrorCodeOther(status int) ErrorCode {
	return ErrorCode{Kind: ErrorKindOther, Status: status}
}

// String renders the code as "kind" or "kind(status)".
func (c ErrorCode) String() string {
	if c.Status == 0 {
		return string(c.Kind)
	}
	return fmt.Sprintf("%s(%d)", c.Kind, c.Status)
}

// Retryable reports whether a retry policy may re-attempt a call that failed
// with this code.
func (c ErrorCode) Retryable() bool {
	switch c.Kind {
	case ErrorKindRequestTimeout, ErrorKindRateLimited, ErrorKindServerError,
		ErrorKindBadGateway, ErrorKindServiceUnavailable, ErrorKindGatewayTimeout,
		ErrorKindFetch, ErrorKindOther:
		return true
	default:
		return false
	}
}

// Error is a hard failure: the request could not be built or sent, or the
// response could not be read. It is distinct from an LLM-reported Failure.
type Error struct {
	Code    ErrorCode
	Client  string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Client != "" {
		msg = "client " + e.Client + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewBuildError reports a request that could not be constructed.
func NewBuildError(client, message string, err error) *Error {
	return &Error{Code: ErrorCode{Kind: ErrorKindBuild}, Client: client, Message: message, Err: err}
}

// NewFetchError reports a request that could not be sent or whose body could not be read.
func NewFetchError(client, message string, err error) *Error {
	return &Error{Code: ErrorCode{Kind: ErrorKindFetch}, Client: client, Message: message, Err: err}
}

// NewDecodeError reports a response body that could not be decoded.
func NewDecodeError(client, message string, err error) *Error {
	return &Error{Code: ErrorCode{Kind: ErrorKindDecode}, Client: client, Message: message, Err: err}
}

// NewConfigError reports a provider that answered in an unexpected shape, or a
// client that is misconfigured.
func NewConfigError(client, message string, err error) *Error {
	return &Error{Code: ErrorCode{Kind: ErrorKindConfig}, Client: client, Message: message, Err: err}
}

// FailureError carries an LLM-reported failure through an error return, for
// paths that cannot return a Result (opening or draining a stream).
type FailureError struct {
	Response *ErrorResponse
}

// Error implements the error interface.
func (e *FailureError) Error() string {
	return fmt.Sprintf("client %s: %s [%s]", e.Response.Client, e.Response.Message, e.Response.Code)
}

// PropertyError reports a client option that could not be resolved.
type PropertyError struct {
	Client string
	Option string
	Err    error
}

// Error implements the error interface.
func (e *PropertyError) Error() string {
	return fmt.Sprintf("client %s could not resolve options.%s: %v", e.Client, e.Option, e.Err)
}

// Unwrap returns the underlying resolution error.
func (e *PropertyError) Unwrap() error {
	return e.Err
}

// ErrUnsupported is matched by every UnsupportedError.
var ErrUnsupported = errors.New("operation not supported by client")

// UnsupportedError reports an operation outside a client's advertised capabilities.
type UnsupportedError struct {
	Client    string
	Provider  string
	Operation Capability
}

// Error implements the error interface.
func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("client %s (provider %s) does not support %s", e.Client, e.Provider, e.Operation)
}

// Is matches ErrUnsupported.
func (e *UnsupportedError) Is(target error) bool {
	return target == ErrUnsupported
}

// CodeOf extracts the ErrorCode from a hard error or a FailureError.
func CodeOf(err error) (ErrorCode, bool) {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Code, true
	}
	var failure *FailureError
	if errors.As(err, &failure) {
		return failure.Response.Code, true
	}
	return ErrorCode{}, false
}

// IsRateLimitError checks if an error carries a rate-limited code.
func IsRateLimitError(err error) bool {
	code, ok := CodeOf(err)
	return ok && code.Kind == ErrorKindRateLimited
}

// IsRetryableError checks if an error carries a retryable code.
func IsRetryableError(err error) bool {
	code, ok := CodeOf(err)
	return ok && code.Retryable()
}
