package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and reporting.
type ErrorClass string

const (
	// ErrorClassTransient indicates infrastructure noise that may succeed on retry.
	// Examples: network failures, ambiguous timeouts.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates the provider is rate limiting requests.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassPermanent indicates a well-formed provider rejection.
	// Examples: resource not found, invalid parameter.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassConfiguration indicates the cluster is not set up the way the
	// upgrade expects. It is never retried and never read as "unhealthy".
	ErrorClassConfiguration ErrorClass = "configuration"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the cluster, instance or balancer the error concerns.
	Resource string `json:"resource,omitempty"`

	// Operation is the provider operation being performed, if any.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	switch {
	case e.Resource != "" && e.Operation != "":
		msg = fmt.Sprintf("%s (resource=%s, operation=%s)", msg, e.Resource, e.Operation)
	case e.Resource != "":
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	case e.Operation != "":
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Class, msg, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassThrottled,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConfiguration,
		Message: message,
		Err:     err,
	}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resource string) *EngineError {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

func classOf(err error) (ErrorClass, bool) {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassTransient
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassThrottled
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassPermanent
}

// IsConfiguration returns true if the error is classified as a configuration error.
func IsConfiguration(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassConfiguration
}

// IsRetryable returns true if the error can be retried.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err)
}

// CodeOf returns the error code of the outermost EngineError in the chain.
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Common error codes.
const (
	ErrCodeClusterNotFound      = "CLUSTER_NOT_FOUND"
	ErrCodeGroupNotUnique       = "ASG_NOT_UNIQUE"
	ErrCodeInstancesUnavailable = "INSTANCES_UNAVAILABLE"
	ErrCodeServicesUnavailable  = "SERVICES_UNAVAILABLE"
	ErrCodeInstanceNotUnique    = "INSTANCE_NOT_UNIQUE"
	ErrCodeRetryExhausted       = "RETRY_EXHAUSTED"
	ErrCodeProviderRejected     = "PROVIDER_REJECTED"
	ErrCodeStateCorrupt         = "STATE_CORRUPT"
	ErrCodeSnapshotRemoved      = "SNAPSHOT_REMOVED"
)
