// Package apierror renders domain errors as structured HTTP errors.
//
// Domain errors advertise their kind through a Kind() string method and,
// when they point at a catalog row, through Ref() (entity, code string).
package apierror

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Detail is the body of every error response, wrapped as {"error": Detail}.
type Detail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Entity  string `json:"entity,omitempty"`
}

type Body struct {
	Error Detail `json:"error"`
}

type kinded interface{ Kind() string }

type referencing interface {
	Ref() (entity, code string)
}

var statusByKind = map[string]int{
	"InvalidCode":       http.StatusBadRequest,
	"InvalidName":       http.StatusBadRequest,
	"InvalidValue":      http.StatusBadRequest,
	"MissingPlacement":  http.StatusBadRequest,
	"UnknownReference":  http.StatusBadRequest,
	"InvalidReference":  http.StatusBadRequest,
	"NotFound":          http.StatusNotFound,
	"ConflictingState":  http.StatusConflict,
	"InvalidTransition": http.StatusConflict,
	"StoreUnavailable":  http.StatusServiceUnavailable,
}

// KindOf returns the kind of the outermost kinded error in err's chain, or
// "Internal".
func KindOf(err error) string {
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return "Internal"
}

// Status returns the HTTP status for err's kind.
func Status(err error) int {
	if s, ok := statusByKind[KindOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// From converts err into an echo HTTP error carrying a Body. Internal errors
// get a generic message; the original stays in HTTPError.Internal for the
// request logger.
func From(err error) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	d := Detail{Kind: KindOf(err), Message: err.Error()}
	var ref referencing
	if errors.As(err, &ref) {
		d.Entity, d.Code = ref.Ref()
	}

	status := Status(err)
	if status == http.StatusInternalServerError {
		d.Message = "internal error"
	}
	return echo.NewHTTPError(status, Body{Error: d}).SetInternal(err)
}

// BadRequest builds a 400 for request shape problems found before any
// domain call, such as an unparseable id.
func BadRequest(message string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusBadRequest, Body{Error: Detail{Kind: "BadRequest", Message: message}})
}
