package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

// Code is the error taxonomy of the runtime. gRPC codes are used as the
// code space so the values stay meaningful if an RPC surface is ever added.
type Code codes.Code

const (
	// CodeInvalidArgument covers client-side validation failures, for
	// example submitting a matching question with an empty slot.
	CodeInvalidArgument = Code(codes.InvalidArgument)
	// CodeNotFound covers unknown attempts, activities and descriptors.
	CodeNotFound = Code(codes.NotFound)
	// CodeFailedPrecondition covers operations attempted in the wrong
	// lifecycle state: missing session context, resubmitting an already
	// submitted question, moving past an unsubmitted question.
	CodeFailedPrecondition = Code(codes.FailedPrecondition)
	// CodeUnavailable covers load and submission transport failures.
	CodeUnavailable = Code(codes.Unavailable)
	CodeInternal    = Code(codes.Internal)
)

var code2http = map[Code]int{
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeFailedPrecondition: http.StatusConflict,
	CodeUnavailable:        http.StatusBadGateway,
	CodeInternal:           http.StatusInternalServerError,
}

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: codes.Code(code).String(),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}
