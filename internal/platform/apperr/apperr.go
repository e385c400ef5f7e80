// Package apperr classifies domain errors so transports can surface them
// without knowing each type.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

type Kind int

const (
	Internal Kind = iota
	Validation
	NotFound
	Forbidden
	Precondition
	Integrity
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	case Precondition:
		return "precondition"
	case Integrity:
		return "integrity"
	default:
		return "internal"
	}
}

// Classified is implemented by every domain error type.
type Classified interface {
	error
	Kind() Kind
	Code() string
}

// Detailer exposes structured data (offending items, counts) alongside the
// message.
type Detailer interface {
	Details() interface{}
}

// Error is a generic classified error for cases with no dedicated type.
type Error struct {
	kind    Kind
	code    string
	message string
	details interface{}
}

func New(kind Kind, code, message string) *Error {
	return &Error{kind: kind, code: code, message: message}
}

func (e *Error) Error() string        { return e.message }
func (e *Error) Kind() Kind           { return e.kind }
func (e *Error) Code() string         { return e.code }
func (e *Error) Details() interface{} { return e.details }

func (e *Error) WithDetails(d interface{}) *Error {
	e.details = d
	return e
}

func Validationf(format string, args ...interface{}) *Error {
	return New(Validation, "validation_failed", fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...interface{}) *Error {
	return New(NotFound, "not_found", fmt.Sprintf(format, args...))
}

// KindOf walks the wrap chain and returns the first classification found.
func KindOf(err error) Kind {
	var c Classified
	if errors.As(err, &c) {
		return c.Kind()
	}
	return Internal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func Status(kind Kind) int {
	switch kind {
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Forbidden:
		return http.StatusForbidden
	case Precondition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON error envelope.
type Body struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// HTTPError converts err into an echo error with a Body payload.
// Unclassified errors are reported as internal without leaking their text.
func HTTPError(err error) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	var c Classified
	if !errors.As(err, &c) {
		return echo.NewHTTPError(http.StatusInternalServerError, Body{
			Code:    "internal",
			Message: "internal server error",
		}).SetInternal(err)
	}

	body := Body{Code: c.Code(), Message: c.Error()}
	var d Detailer
	if errors.As(err, &d) {
		body.Details = d.Details()
	}
	resp := echo.NewHTTPError(Status(c.Kind()), body)
	if c.Kind() == Integrity {
		resp.SetInternal(err)
	}
	return resp
}
