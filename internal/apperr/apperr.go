// Package apperr defines the error taxonomy of the personalization engine.
//
// Internal failures are coded errors built on [github.com/samber/oops] so
// they carry a machine-readable [Code] and structured context into logs.
// They are absorbed at the engine boundary. The one error that is allowed to
// reach callers of the write and feedback paths is [*RateLimitError].
package apperr

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeRateLimitExceeded Code = "engine.rate_limit.exceeded"
	CodeInvalidInput      Code = "input.invalid"

	CodeStoreFailure         Code = "store.database.failure"
	CodeStoreNotFound        Code = "store.not_found"
	CodeStoreVersionConflict Code = "store.version.conflict"

	CodeProviderFailure   Code = "embedding.provider.failure"
	CodeProviderMalformed Code = "embedding.provider.malformed"
	// CodeProviderRejected marks a request the provider refused outright
	// (bad credentials, unknown model). Retrying cannot help.
	CodeProviderRejected Code = "embedding.provider.rejected"

	CodeConfigLoadFailure Code = "config.load.failure"
	CodeRateLimitCheck    Code = "engine.rate_limit.check_failure"
)

// Sentinels for errors.Is checks on coded errors.
var (
	ErrNotFound          = errors.New("not found")
	ErrVersionConflict   = errors.New("version conflict")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// Attr is a structured key/value attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldUserID(value string) Attr {
	return Field("user_id", value)
}

func FieldContentID(value string) Attr {
	return Field("content_id", value)
}

// New returns a coded error with the given message.
func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

// Errorf returns a coded error with a formatted message.
func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

// Wrap annotates err with a code and message. Returns nil for a nil err.
func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}
	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

// CodeOf returns the code attached to err, or "" when err carries none.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}
	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}
	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// FieldsOf returns the structured context attached to err.
func FieldsOf(err error) map[string]any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()
}

func flatten(fields []Attr) []any {
	out := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, f.Key, f.Value)
	}
	return out
}
