package ftl

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sarchlab/ssdsim/ssd/mapping"
)

// ErrorCode is the category of an FTL error.
type ErrorCode string

// Error codes.
const (
	CodeOutOfSpace        ErrorCode = "out of space"
	CodeGCFailed          ErrorCode = "garbage collection failed"
	CodeInvalidAddress    ErrorCode = "invalid address"
	CodeInconsistentState ErrorCode = "inconsistent state"
)

// Sentinels for errors.Is.
var (
	ErrOutOfSpace        = newError("", CodeOutOfSpace, "")
	ErrGCFailed          = newError("", CodeGCFailed, "")
	ErrInvalidAddress    = newError("", CodeInvalidAddress, "")
	ErrInconsistentState = newError("", CodeInconsistentState, "")
)

// Error is a structured FTL error.
type Error struct {
	Op    string      // Operation that failed, e.g. "write" or "gc"
	Code  ErrorCode   // Category
	PPN   mapping.PPN // Physical page involved, NoPPN if none
	LPN   mapping.LPN // Logical page involved, NoLPN if none
	Msg   string      // Human readable detail
	Inner error       // Wrapped error
}

// NewError creates an error that involves no particular page. Front ends
// outside this package use it to report errors of the same codes.
func NewError(op string, code ErrorCode, msg string) *Error {
	return newError(op, code, msg)
}

func newError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:   op,
		Code: code,
		PPN:  mapping.NoPPN,
		LPN:  mapping.NoLPN,
		Msg:  msg,
	}
}

func (e *Error) withPPN(ppn mapping.PPN) *Error {
	e.PPN = ppn
	return e
}

func (e *Error) withLPN(lpn mapping.LPN) *Error {
	e.LPN = lpn
	return e
}

func (e *Error) wrap(inner error) *Error {
	e.Inner = inner
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, "op="+e.Op)
	}

	if e.LPN != mapping.NoLPN {
		parts = append(parts, fmt.Sprintf("lpn=%d", e.LPN))
	}

	if e.PPN != mapping.NoPPN {
		parts = append(parts, fmt.Sprintf("ppn=%d", e.PPN))
	}

	msg := string(e.Code)
	if e.Msg != "" {
		msg += ": " + e.Msg
	}

	if e.Inner != nil {
		msg += ": " + e.Inner.Error()
	}

	if len(parts) > 0 {
		return fmt.Sprintf("ftl: %s (%s)", msg, strings.Join(parts, " "))
	}

	return "ftl: " + msg
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}

	return e.Code == te.Code
}

// IsCode tells if err is an FTL error of the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}

	return false
}
