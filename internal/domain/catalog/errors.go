package catalog

import (
	"errors"
	"fmt"
)

// kindError is a sentinel carrying a stable machine-readable kind.
type kindError struct {
	kind string
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Kind() string  { return e.kind }

// Error kinds surfaced by the catalog engines. Callers match with errors.Is.
var (
	ErrInvalidCode       error = &kindError{"InvalidCode", "invalid code"}
	ErrInvalidName       error = &kindError{"InvalidName", "invalid name"}
	ErrInvalidValue      error = &kindError{"InvalidValue", "invalid value"}
	ErrMissingPlacement  error = &kindError{"MissingPlacement", "missing placement"}
	ErrUnknownReference  error = &kindError{"UnknownReference", "unknown reference"}
	ErrInvalidReference  error = &kindError{"InvalidReference", "invalid reference"}
	ErrConflictingState  error = &kindError{"ConflictingState", "conflicting state"}
	ErrInvalidTransition error = &kindError{"InvalidTransition", "invalid status transition"}
	ErrNotFound          error = &kindError{"NotFound", "not found"}
	ErrStoreUnavailable  error = &kindError{"StoreUnavailable", "catalog store unavailable"}
)

// MissingPlacementError reports a service point that requires a placement the
// caller did not supply.
type MissingPlacementError struct {
	Code string
}

func (e *MissingPlacementError) Error() string {
	return fmt.Sprintf("missing placement for servicePointCode=%s", e.Code)
}

func (e *MissingPlacementError) Is(target error) bool { return target == ErrMissingPlacement }
func (e *MissingPlacementError) Kind() string         { return "MissingPlacement" }

func (e *MissingPlacementError) Ref() (entity, code string) {
	return string(EntityServicePoint), e.Code
}

// UnknownReferenceError reports a *Code field that resolved to nothing.
type UnknownReferenceError struct {
	Entity Entity
	Code   string
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("unknown %s reference %q", e.Entity, e.Code)
}

func (e *UnknownReferenceError) Is(target error) bool { return target == ErrUnknownReference }
func (e *UnknownReferenceError) Kind() string         { return "UnknownReference" }

func (e *UnknownReferenceError) Ref() (entity, code string) {
	return string(e.Entity), e.Code
}

// InvalidReferenceError reports a reference that resolved to an entity of the
// wrong shape, e.g. a parameter pointing at a panel.
type InvalidReferenceError struct {
	Entity Entity
	Code   string
	Reason string
}

func (e *InvalidReferenceError) Error() string {
	return fmt.Sprintf("invalid %s reference %q: %s", e.Entity, e.Code, e.Reason)
}

func (e *InvalidReferenceError) Is(target error) bool { return target == ErrInvalidReference }
func (e *InvalidReferenceError) Kind() string         { return "InvalidReference" }

func (e *InvalidReferenceError) Ref() (entity, code string) {
	return string(e.Entity), e.Code
}

// Kind returns the machine name of the outermost error kind in err's chain,
// or "Internal" when there is none.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var k interface{ Kind() string }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return "Internal"
}
