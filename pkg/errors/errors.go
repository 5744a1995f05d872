// Package errors provides the typed error values used to explain rejected order commands.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Rejection kinds reported inside Failed order reports.
const (
	KindInvalidOrder      = "InvalidOrder"
	KindMarketClosed      = "MarketClosed"
	KindSecurityStopped   = "SecurityStopped"
	KindNonTradable       = "NonTradable"
	KindInsufficientFunds = "InsufficientFunds"
	KindNonShortable      = "NonShortable"
	KindOrderNotFound     = "OrderNotFound"
	KindCrossTrade        = "CrossTrade"
	KindInjectedFailure   = "InjectedFailure"
	KindInternal          = "Internal"
)

var (
	ErrInvalidOrder      = NewWithKind(KindInvalidOrder)
	ErrMarketClosed      = NewWithKind(KindMarketClosed)
	ErrSecurityStopped   = NewWithKind(KindSecurityStopped)
	ErrNonTradable       = NewWithKind(KindNonTradable)
	ErrInsufficientFunds = NewWithKind(KindInsufficientFunds)
	ErrNonShortable      = NewWithKind(KindNonShortable)
	ErrOrderNotFound     = NewWithKind(KindOrderNotFound)
	ErrCrossTrade        = NewWithKind(KindCrossTrade)
	ErrInjectedFailure   = NewWithKind(KindInjectedFailure)
	ErrInternal          = NewWithKind(KindInternal)
)

// FieldError points at the order field that caused a rejection
type FieldError struct {
	Field   string `json:"field"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message,omitempty"`
}

func (f *FieldError) Error() string {
	return fmt.Sprintf("%s=%s: %s", f.Field, f.Value, f.Message)
}

// Error is a custom error type for passing more information
type Error struct {
	// Kind is the returned error type
	Kind string `json:"kind"`
	// Message is the human readable string that indicate the error
	Message string `json:"message"`
	// Fields lists the offending order fields, if any.
	Fields []FieldError `json:"fields,omitempty"`

	trace []byte
	cause error
}

var _ error = (*Error)(nil)

func New(message string) *Error {
	return &Error{Kind: "Unknown", Message: message}
}

func NewWithKind(kind string) *Error {
	return &Error{Kind: kind}
}

func Wrap(err error) *Error {
	return &Error{Kind: KindInternal, cause: err}
}

// Error implements error
func (e *Error) Error() string {
	str := fmt.Sprintf("[%s] ", e.Kind)
	if e.Message != "" {
		str += e.Message
	}
	if e.cause != nil {
		str += fmt.Sprintf(" (%s)", e.cause)
	}
	if len(e.trace) > 0 {
		str = str + fmt.Sprintf("\n\nTrace: %s", string(e.trace))
	}
	return str
}

// Reason returns a copy of the error with kind set to given value
func (e *Error) Reason(kind string) *Error {
	err := *e
	err.Kind = kind
	return &err
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Wrap returns a copy of the error with the given cause
func (e *Error) Wrap(cause error) *Error {
	err := *e
	err.cause = cause
	return &err
}

// Explain makes a copy of the error with given message
func (e *Error) Explain(message string, args ...any) *Error {
	err := *e
	err.Message = fmt.Sprintf(message, args...)
	return &err
}

// Trace sets the error stack trace
func (e *Error) Trace() *Error {
	stack := make([]byte, 2048)
	n := runtime.Stack(stack, false)
	e.trace = stack[:n]
	return e
}

// WithField returns a copy of error with the field appended.
func (e *Error) WithField(field, value, message string) *Error {
	newError := *e
	newError.Fields = append(append([]FieldError(nil), e.Fields...), FieldError{Field: field, Value: value, Message: message})
	return &newError
}

// Is implements the needed interface for errors.Is
// It checks kind for equality
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if other, ok := target.(*Error); ok {
		return other.Kind == e.Kind
	}
	if e.cause != nil {
		return Is(e.cause, target)
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) string {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return ""
}
