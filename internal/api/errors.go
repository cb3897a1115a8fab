package api

import (
	"net/http"

	"dwsync/internal/domain"
)

// httpStatusFromError maps error kinds to HTTP status codes.
func httpStatusFromError(err error) int {
	switch domain.KindOf(err) {
	case domain.KindConfigInvalid:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindPermissionDenied:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindRunExpired:
		return http.StatusGone
	case domain.KindDestructiveAnomaly, domain.KindDeleteScanOverflow:
		return http.StatusConflict
	case domain.KindSourceUnavailable, domain.KindSinkUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
