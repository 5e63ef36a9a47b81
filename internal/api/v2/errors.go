package api

import (
	"net/http"

	"github.com/tphakala/readerstudy/internal/errors"
)

// statusFor maps an error category to the HTTP status returned to clients.
func statusFor(err error) int {
	switch errors.CategoryOf(err) {
	case errors.CategoryValidation:
		return http.StatusUnprocessableEntity
	case errors.CategoryAuthentication:
		return http.StatusUnauthorized
	case errors.CategoryAuthorization:
		return http.StatusForbidden
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryConflict, errors.CategoryState, errors.CategoryConfiguration:
		return http.StatusConflict
	case errors.CategoryLimit:
		return http.StatusTooManyRequests
	case errors.CategoryDatabase, errors.CategoryTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
