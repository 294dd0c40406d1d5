package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Session error taxonomy. All four are session-local: none of them stops the server.
var (
	// ErrConfiguration marks a request the bound provider cannot serve as asked (e.g. unsupported format)
	ErrConfiguration = errors.New("configuration error")
	// ErrProviderResolution marks a request no registered provider matches
	ErrProviderResolution = errors.New("provider resolution failed")
	// ErrProviderIO marks an archive read or generation failure
	ErrProviderIO = errors.New("provider io failure")
	// ErrTransport marks a socket-level failure
	ErrTransport = errors.New("transport failure")
)

// Lifecycle and input errors shared across packages.
var (
	// ErrAlreadyStarted is returned when a session or pool is run twice
	ErrAlreadyStarted = errors.New("already started")
	// ErrAlreadyStopped is returned when work is submitted after Close
	ErrAlreadyStopped = errors.New("already stopped")
	// ErrConnectionLost marks an upstream feed that went away mid-stream
	ErrConnectionLost = errors.New("connection lost")
	// ErrInvalidData marks a payload no codec can decode
	ErrInvalidData = errors.New("invalid data format")
	// ErrInvalidConfig marks a component built with unusable options
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrProviderIO) ||
		errors.Is(err, ErrTransport) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "temporary", "unavailable"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return false
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrProviderResolution)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}
	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}
	return ErrorTransient
}

// IsConfiguration reports whether err is a ConfigurationError
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }

// IsProviderResolution reports whether err is a ProviderResolutionError
func IsProviderResolution(err error) bool { return errors.Is(err, ErrProviderResolution) }

// IsProviderIO reports whether err is a ProviderIOError
func IsProviderIO(err error) bool { return errors.Is(err, ErrProviderIO) }

// IsTransport reports whether err is a TransportError
func IsTransport(err error) bool { return errors.Is(err, ErrTransport) }

// Kind returns a short label for the session taxonomy, used for metrics and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsConfiguration(err):
		return "configuration"
	case IsProviderResolution(err):
		return "provider_resolution"
	case IsProviderIO(err):
		return "provider_io"
	case IsTransport(err):
		return "transport"
	default:
		return Classify(err).String()
	}
}

// newClassified creates a new classified error.
// Use WrapTransient(), WrapFatal(), WrapInvalid() or the taxonomy constructors instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// tag joins a taxonomy sentinel with its cause so both match errors.Is.
func tag(sentinel, cause error) error {
	if cause == nil || errors.Is(cause, sentinel) {
		if cause == nil {
			return sentinel
		}
		return cause
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}

// Configuration builds a ConfigurationError. The connection must not be upgraded.
func Configuration(cause error, component, method, action string) error {
	return WrapInvalid(tag(ErrConfiguration, cause), component, method, action)
}

// ProviderResolution builds a ProviderResolutionError. The connection is rejected.
func ProviderResolution(cause error, component, method, action string) error {
	return WrapInvalid(tag(ErrProviderResolution, cause), component, method, action)
}

// ProviderIO builds a ProviderIOError, recoverable through reconnect in live mode.
func ProviderIO(cause error, component, method, action string) error {
	return WrapTransient(tag(ErrProviderIO, cause), component, method, action)
}

// Transport builds a TransportError, recoverable through reconnect in live mode.
func Transport(cause error, component, method, action string) error {
	return WrapTransient(tag(ErrTransport, cause), component, method, action)
}
