package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Base error types
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrDownstream   = errors.New("downstream unavailable")
	ErrTimeout      = errors.New("timeout")
	ErrBusy         = errors.New("operation already in progress")
)

// Kind represents the category of a service error.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindDownstream Kind = "downstream"
	KindSubprocess Kind = "subprocess"
	KindResource   Kind = "resource"
	KindConflict   Kind = "conflict"
	KindInternal   Kind = "internal"
)

// ServiceError is a structured error carried from a subsystem to the
// HTTP surface.
type ServiceError struct {
	Kind Kind
	Op   string // operation that failed, e.g. "prune_tiered", "tshark_exec"
	Err  error
}

func (e *ServiceError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is maps kinds onto the base sentinel errors.
func (e *ServiceError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrInvalidInput:
		return e.Kind == KindValidation
	case ErrDownstream:
		return e.Kind == KindDownstream
	}
	return errors.Is(e.Err, target)
}

// New creates a ServiceError.
func New(kind Kind, op string, err error) *ServiceError {
	return &ServiceError{Kind: kind, Op: op, Err: err}
}

// Validation wraps a bad-input error.
func Validation(op string, err error) error {
	return New(KindValidation, op, err)
}

// NotFound wraps an unknown-id error.
func NotFound(op string, err error) error {
	return New(KindNotFound, op, err)
}

// Downstream wraps an OpenSearch / Docker / upstream HTTP failure.
func Downstream(op string, err error) error {
	return New(KindDownstream, op, err)
}

// HTTPStatus returns the response status for an error per the API
// error-mapping policy.
func HTTPStatus(err error) int {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		switch svcErr.Kind {
		case KindValidation:
			return http.StatusBadRequest
		case KindNotFound:
			return http.StatusNotFound
		case KindDownstream:
			return http.StatusBadGateway
		case KindConflict:
			return http.StatusConflict
		}
		return http.StatusInternalServerError
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDownstream):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
