// Package fault carries the service-wide error taxonomy. Domain operations
// return a *Fault with a specific kind instead of driving control flow
// through opaque errors; the API layer maps kinds to response statuses.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind int

const (
	// Validation is bad input shape or range. User-correctable.
	Validation Kind = iota + 1
	// StateConflict means the operation is not valid for the current
	// document, line or batch status.
	StateConflict
	// Authorization means a capability or ownership check failed.
	Authorization
	// Duplicate means a uniqueness rule was violated: item already on the
	// document, or an internal serial number that already exists.
	Duplicate
	// NotFound means the referenced entity does not exist.
	NotFound
	// Lookup means an external ERP call failed or returned no data.
	Lookup
	// ERPUnavailable means the ERP could not be reached or timed out.
	ERPUnavailable
	// Encoding means barcode/QR generation failed. Non-fatal: callers
	// degrade to an absent image rather than failing the operation.
	Encoding
	// Internal is any unexpected failure.
	Internal
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case StateConflict:
		return "state_conflict"
	case Authorization:
		return "authorization"
	case Duplicate:
		return "duplicate"
	case NotFound:
		return "not_found"
	case Lookup:
		return "lookup"
	case ERPUnavailable:
		return "erp_unavailable"
	case Encoding:
		return "encoding"
	default:
		return "internal"
	}
}

// Fault is a classified error.
type Fault struct {
	Kind Kind
	Msg  string
	Err  error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Msg, f.Err)
	}
	return f.Msg
}

func (f *Fault) Unwrap() error { return f.Err }

// New builds a fault with a formatted message.
func New(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds a fault around an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from err, or Internal for unclassified errors.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a fault kind to its response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case Validation:
		return http.StatusBadRequest
	case StateConflict, Duplicate:
		return http.StatusConflict
	case Authorization:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Lookup, ERPUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
