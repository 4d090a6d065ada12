package message

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a request failure.
type Kind string

const (
	KindMissingText            Kind = "missing_text"
	KindTextTooLong            Kind = "text_too_long"
	KindNoImages               Kind = "no_images"
	KindTooManyImages          Kind = "too_many_images"
	KindUnsupportedImageFormat Kind = "unsupported_image_format"
	KindImageTooLarge          Kind = "image_too_large"
	KindInvalidForm            Kind = "invalid_form"

	KindWorkspaceWriteFailed Kind = "workspace_write_failed"
	KindNotInitialized       Kind = "not_initialized"
	KindInferenceFailed      Kind = "inference_failed"
	KindOutputMissing        Kind = "output_missing"
	KindStorageFailed        Kind = "storage_failed"
)

// Status returns the HTTP status code a failure of this kind is reported with.
// Client-caused failures are 400, everything else is 500.
func (k Kind) Status() int {
	switch k {
	case KindMissingText, KindTextTooLong, KindNoImages, KindTooManyImages,
		KindUnsupportedImageFormat, KindImageTooLarge, KindInvalidForm:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified request failure.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

// Errorf builds an *Error of the given kind with a formatted detail message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind whose detail includes the cause.
func Wrap(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf("%s: %v", detail, err), Err: err}
}

func (e *Error) Error() string {
	return e.Detail
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or "" when err carries no classification.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
