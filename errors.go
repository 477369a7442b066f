package combivox

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCode        = errors.New("invalid access code")
	ErrInvalidPermutation = errors.New("invalid permutation")
	ErrAuthentication     = errors.New("authentication failed")
	ErrSessionExpired     = errors.New("session expired")
	ErrMissingStatus      = errors.New("status field <si> not found or empty")
	ErrMarkerNotFound     = errors.New("status marker not found")
	ErrCommandRejected    = errors.New("command rejected by the panel")
	ErrAlreadyPolling     = errors.New("already polling")
	ErrEmptyCatalog       = errors.New("no zones or areas found")
)

// HTTPError is returned when the panel answers with an unexpected status code.
type HTTPError struct {
	StatusCode int
	Path       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: unexpected HTTP status %d", e.Path, e.StatusCode)
}

// transient reports whether the panel might answer a retried request.
func (e *HTTPError) transient() bool {
	return e.StatusCode >= 500
}
