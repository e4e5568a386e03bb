package pose

import (
	"errors"
	"fmt"
)

// Code classifies pipeline failures for hosts
type Code string

const (
	CodePermissionDenied     Code = "PermissionDenied"
	CodeCameraUnavailable    Code = "CameraUnavailable"
	CodeConfigurationFailed  Code = "ConfigurationFailed"
	CodeEngineNotInitialized Code = "EngineNotInitialized"
	CodeWrongMode            Code = "WrongModeError"
	CodeEngineBackend        Code = "EngineBackendError"
	CodeConversion           Code = "ConversionError"
)

// Error is a classified pipeline error
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so the sentinels below work with
// errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is
var (
	ErrPermissionDenied     = &Error{Code: CodePermissionDenied, Message: "sensor access not granted"}
	ErrCameraUnavailable    = &Error{Code: CodeCameraUnavailable, Message: "no matching sensor"}
	ErrConfigurationFailed  = &Error{Code: CodeConfigurationFailed, Message: "capture session could not be built"}
	ErrEngineNotInitialized = &Error{Code: CodeEngineNotInitialized, Message: "engine not initialized"}
	ErrWrongMode            = &Error{Code: CodeWrongMode, Message: "operation not valid in current mode"}
	ErrEngineBackend        = &Error{Code: CodeEngineBackend, Message: "inference backend failure"}
	ErrConversion           = &Error{Code: CodeConversion, Message: "frame conversion failed"}
)

// Errorf builds a classified error wrapping cause (which may be nil)
func Errorf(code Code, cause error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: cause}
}

// AsError extracts the classified error from err. Unclassified errors are
// reported as backend errors.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Code: CodeEngineBackend, Message: err.Error(), Err: err}
}

// Wire is the host-facing form of an Error
type Wire struct {
	Code    Code   `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
}

// Wire flattens the error and its cause into a code and a message
func (e *Error) Wire() Wire {
	msg := e.Message
	if e.Err != nil && e.Err.Error() != msg {
		msg += ": " + e.Err.Error()
	}
	return Wire{Code: e.Code, Message: msg}
}
