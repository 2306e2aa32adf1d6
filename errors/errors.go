package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// Image errors
	ErrorTypeDecode ErrorType = "decode"
	ErrorTypeEncode ErrorType = "encode"

	// Storage errors
	ErrorTypeStorage  ErrorType = "storage"
	ErrorTypeNotFound ErrorType = "not_found"

	// Configuration and input errors
	ErrorTypeConfig  ErrorType = "config"
	ErrorTypeInvalid ErrorType = "invalid"

	// System errors
	ErrorTypeInternal ErrorType = "internal"
	ErrorTypeUnknown  ErrorType = "unknown"
)

// Error codes for specific scenarios
const (
	CodeDecodeFailed   = "DECODE_FAILED"
	CodeEncodeFailed   = "ENCODE_FAILED"
	CodeStorageWrite   = "STORAGE_WRITE_FAILED"
	CodeStorageRead    = "STORAGE_READ_FAILED"
	CodeContainer      = "CONTAINER_UNAVAILABLE"
	CodeNotFound       = "NOT_FOUND"
	CodeUnknownSizeTag = "UNKNOWN_SIZE_TAG"
	CodeInvalidConfig  = "INVALID_CONFIG"
	CodeInvalidTrigger = "INVALID_TRIGGER"
	CodeInternalError  = "INTERNAL_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType      `json:"type"`
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	InnerError error          `json:"-"`
	Stack      []string       `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Type)
	}
	if e.InnerError != nil {
		return msg + ": " + e.InnerError.Error()
	}
	return msg
}

// Unwrap returns the inner error
func (e *AppError) Unwrap() error {
	return e.InnerError
}

// Is reports whether target is an AppError of the same type.
func (e *AppError) Is(target error) bool {
	if targetApp, ok := target.(*AppError); ok {
		return e.Type == targetApp.Type
	}
	return false
}

// WithMessage adds a message to the error
func (e *AppError) WithMessage(msg string) *AppError {
	e.Message = msg
	return e
}

// WithCode adds a code to the error
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithInnerError sets the inner error
func (e *AppError) WithInnerError(err error) *AppError {
	e.InnerError = err
	return e
}

// WithStack captures the call stack
func (e *AppError) WithStack() *AppError {
	e.Stack = captureStack(3)
	return e
}

// New creates a new AppError
func New(errType ErrorType, message string) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Code:    string(errType),
	}
}

// FromError converts a standard error to AppError
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return &AppError{
		Type:       ErrorTypeUnknown,
		Code:       string(ErrorTypeUnknown),
		InnerError: err,
	}
}

// Wrap wraps an error with additional context, keeping its type when it has one.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}
	errType := ErrorTypeUnknown
	var appErr *AppError
	if errors.As(err, &appErr) {
		errType = appErr.Type
	}
	return WrapWithType(err, errType, message)
}

// WrapWithType wraps an error with a specific type
func WrapWithType(err error, errType ErrorType, message string) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		InnerError: err,
		Code:       string(errType),
	}
}

// TypeOf returns the ErrorType of the first AppError in err's chain.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// IsType reports whether err's chain contains an AppError of the given type.
func IsType(err error, errType ErrorType) bool {
	return errors.Is(err, &AppError{Type: errType})
}

// NewDecode reports unreadable, corrupt or unsupported source bytes.
func NewDecode(err error) *AppError {
	return WrapWithType(err, ErrorTypeDecode, "decode image").WithCode(CodeDecodeFailed)
}

// NewEncode reports a raster-to-bytes failure.
func NewEncode(format string, err error) *AppError {
	return WrapWithType(err, ErrorTypeEncode, "encode "+format).
		WithCode(CodeEncodeFailed).
		WithDetail("format", format)
}

// NewStorageWrite reports a failed upload to the object store.
func NewStorageWrite(container, key string, err error) *AppError {
	return WrapWithType(err, ErrorTypeStorage, fmt.Sprintf("write %s/%s", container, key)).
		WithCode(CodeStorageWrite).
		WithDetail("container", container).
		WithDetail("key", key)
}

// NewStorageRead reports a failed download from the object store.
func NewStorageRead(container, key string, err error) *AppError {
	return WrapWithType(err, ErrorTypeStorage, fmt.Sprintf("read %s/%s", container, key)).
		WithCode(CodeStorageRead).
		WithDetail("container", container).
		WithDetail("key", key)
}

// NewContainer reports that a container could not be checked or created.
func NewContainer(container string, err error) *AppError {
	return WrapWithType(err, ErrorTypeStorage, "ensure container "+container).
		WithCode(CodeContainer).
		WithDetail("container", container)
}

func NewNotFound(resource string, id any) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s %v not found", resource, id)).
		WithCode(CodeNotFound).
		WithDetail("resource", resource).
		WithDetail("id", id)
}

func NewConfig(message string) *AppError {
	return New(ErrorTypeConfig, message).WithCode(CodeInvalidConfig)
}

func NewInvalid(field string, value any, reason string) *AppError {
	return New(ErrorTypeInvalid, fmt.Sprintf("invalid %s %q: %s", field, fmt.Sprint(value), reason)).
		WithDetail("field", field).
		WithDetail("value", value).
		WithDetail("reason", reason)
}

func NewInternal(message string) *AppError {
	return New(ErrorTypeInternal, message).WithCode(CodeInternalError)
}

// captureStack captures the current call stack
func captureStack(skip int) []string {
	var stack []string
	for i := skip; i < 10; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		funcName := fn.Name()
		if idx := strings.LastIndex(funcName, "/"); idx >= 0 {
			funcName = funcName[idx+1:]
		}

		stack = append(stack, fmt.Sprintf("%s:%d %s", file, line, funcName))
	}
	return stack
}

// ErrorChain collects independent failures, e.g. one per size tag.
type ErrorChain struct {
	errors []*AppError
}

// NewErrorChain creates a new error chain
func NewErrorChain() *ErrorChain {
	return &ErrorChain{
		errors: make([]*AppError, 0),
	}
}

// Add adds an error to the chain; plain errors are converted with FromError.
func (c *ErrorChain) Add(err error) *ErrorChain {
	if appErr := FromError(err); appErr != nil {
		c.errors = append(c.errors, appErr)
	}
	return c
}

// HasErrors checks if the chain has errors
func (c *ErrorChain) HasErrors() bool {
	return len(c.errors) > 0
}

// Error returns the combined error message
func (c *ErrorChain) Error() string {
	if !c.HasErrors() {
		return ""
	}

	messages := make([]string, 0, len(c.errors))
	for _, err := range c.errors {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, " | ")
}

// Unwrap exposes every collected error to errors.Is and errors.As.
func (c *ErrorChain) Unwrap() []error {
	out := make([]error, 0, len(c.errors))
	for _, err := range c.errors {
		out = append(out, err)
	}
	return out
}

// Errors returns all errors in the chain
func (c *ErrorChain) Errors() []*AppError {
	return c.errors
}

// First returns the first error in the chain
func (c *ErrorChain) First() *AppError {
	if len(c.errors) == 0 {
		return nil
	}
	return c.errors[0]
}

// HasType checks if the chain has an error of the specified type
func (c *ErrorChain) HasType(errType ErrorType) bool {
	for _, err := range c.errors {
		if err.Type == errType {
			return true
		}
	}
	return false
}

// ErrOrNil returns the chain as an error, or nil when it is empty.
func (c *ErrorChain) ErrOrNil() error {
	if c == nil || !c.HasErrors() {
		return nil
	}
	return c
}
