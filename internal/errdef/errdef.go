package errdef

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeUnknown    Code = "unknown"
	CodeURL        Code = "url"
	CodeEncode     Code = "encode"
	CodeTransport  Code = "transport"
	CodeValidation Code = "validation"
	CodeCookie     Code = "cookie"
	CodeFilesystem Code = "filesystem"
	CodeHistory    Code = "history"
)

type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		if e.Msg != "" {
			return e.Msg + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(code Code, format string, args ...interface{}) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf walks the chain and returns the first typed code it finds.
func CodeOf(err error) Code {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Code
	}
	return CodeUnknown
}

// Message returns the outermost annotation without the wrapped cause,
// falling back to the full error text for untyped errors.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) && typed.Msg != "" {
		return typed.Msg
	}
	return err.Error()
}

func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
