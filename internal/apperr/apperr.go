// Package apperr is the error type services hand back to the HTTP layer.
// The Kind decides the status code; Code is the stable machine-readable string
// clients switch on.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindUnprocessable
	KindTooManyRequests
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnprocessable:
		return "unprocessable"
	case KindTooManyRequests:
		return "too_many_requests"
	default:
		return "internal"
	}
}

func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnprocessable:
		return http.StatusUnprocessableEntity
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Common codes.
const (
	CodeValidation             = "VALIDATION_ERROR"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeForbidden              = "FORBIDDEN"
	CodeNotFound               = "NOT_FOUND"
	CodeInternal               = "INTERNAL_ERROR"
	CodeRateLimited            = "RATE_LIMITED"
	CodeInvalidCredentials     = "INVALID_CREDENTIALS"
	CodeAccountDisabled        = "ACCOUNT_DISABLED"
	CodeAccountLocked          = "ACCOUNT_LOCKED"
	CodeTokenExpired           = "TOKEN_EXPIRED"
	CodeInvalidToken           = "INVALID_TOKEN"
	CodeRefreshNotFound        = "REFRESH_TOKEN_NOT_FOUND"
	CodeInvalidRefresh         = "INVALID_REFRESH_TOKEN"
	CodeRefreshExpired         = "REFRESH_TOKEN_EXPIRED"
	CodeEmailExists            = "EMAIL_ALREADY_EXISTS"
	CodeUsernameExists         = "USERNAME_ALREADY_EXISTS"
	CodeCannotDeleteReferenced = "CANNOT_DELETE_HAS_REFERENCES"
	CodeDecryptionFailed       = "FILE_DECRYPTION_FAILED"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Status() int { return e.Kind.Status() }

// Is matches on Kind and Code so sentinels like ErrNotFound work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

func (e *Error) WithDetails(d any) *Error {
	cp := *e
	cp.Details = d
	return &cp
}

func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Validation(msg string, details any) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidation, Message: msg, Details: details}
}

func Unauthorized(code, msg string) *Error {
	return &Error{Kind: KindUnauthorized, Code: code, Message: msg}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Code: CodeForbidden, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: msg}
}

func Conflict(code, msg string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: msg}
}

func Unprocessable(code, msg string, details any) *Error {
	return &Error{Kind: KindUnprocessable, Code: code, Message: msg, Details: details}
}

func TooManyRequests(msg string) *Error {
	return &Error{Kind: KindTooManyRequests, Code: CodeRateLimited, Message: msg}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: "internal server error", Err: err}
}

// From returns err as an *Error, wrapping anything else as internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}

// FieldError is the detail shape used by validation failures.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func Field(field, code, msg string) *Error {
	return Validation(msg, []FieldError{{Field: field, Message: msg, Code: code}})
}
