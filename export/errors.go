package export

import (
	"context"
	"errors"

	errorslib "github.com/goliatone/go-errors"
)

// ErrorKind defines export error kinds.
type ErrorKind string

const (
	// KindConfig marks invalid configuration caught before any chunk work.
	KindConfig ErrorKind = "config"
	// KindDestinationExists marks a refused write to an existing file.
	KindDestinationExists ErrorKind = "destination_exists"
	// KindWrite marks an I/O failure while producing a document.
	KindWrite ErrorKind = "write"
	// KindStyle marks a decoration failure. Never recorded as a chunk
	// failure, logged only.
	KindStyle ErrorKind = "style"
	// KindCanceled marks a chunk that was never dispatched because the
	// caller canceled the export.
	KindCanceled ErrorKind = "canceled"
	// KindUpload marks a failure in the attachment/comment step.
	KindUpload   ErrorKind = "upload"
	KindInternal ErrorKind = "internal"
)

// ExportError wraps errors with a kind.
type ExportError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *ExportError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// NewError creates a new export error.
func NewError(kind ErrorKind, msg string, err error) *ExportError {
	return &ExportError{Kind: kind, Msg: msg, Err: err}
}

// AsGoError maps an error into a go-errors error.
func AsGoError(err error) *errorslib.Error {
	if err == nil {
		return nil
	}

	var ge *errorslib.Error
	if errors.As(err, &ge) {
		return ge
	}

	kind := KindInternal
	msg := err.Error()

	var exportErr *ExportError
	if errors.As(err, &exportErr) {
		kind = exportErr.Kind
		if exportErr.Msg != "" {
			msg = exportErr.Msg
		}
	}

	if errors.Is(err, context.Canceled) {
		kind = KindCanceled
	}

	switch kind {
	case KindConfig:
		return errorslib.New(msg, errorslib.CategoryValidation).WithTextCode("config")
	case KindDestinationExists:
		return errorslib.New(msg, errorslib.CategoryOperation).WithTextCode("destination_exists")
	case KindWrite:
		return errorslib.New(msg, errorslib.CategoryOperation).WithTextCode("write")
	case KindStyle:
		return errorslib.New(msg, errorslib.CategoryOperation).WithTextCode("style")
	case KindCanceled:
		return errorslib.New(msg, errorslib.CategoryOperation).WithTextCode("canceled")
	case KindUpload:
		return errorslib.New(msg, errorslib.CategoryOperation).WithTextCode("upload")
	default:
		return errorslib.New(msg, errorslib.CategoryInternal).WithTextCode("internal")
	}
}

// KindFromError maps an error to its export error kind.
func KindFromError(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var exportErr *ExportError
	if errors.As(err, &exportErr) {
		return exportErr.Kind
	}

	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}

	return KindInternal
}
