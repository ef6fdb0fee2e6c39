package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoResponse means the request was sent but no response arrived
	// (timeout, connection refused, DNS failure).
	ErrNoResponse = errors.New("no response from upstream")

	// ErrSetup means the request could not be built or sent at all.
	ErrSetup = errors.New("upstream request setup failed")
)

// StatusError is returned when upstream answered with a non-2xx status and
// no cached body was available.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return "upstream responded " + e.Status
	}
	return fmt.Sprintf("upstream responded %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// HTTPStatus maps a fetch error to the status a proxy should answer with:
// the upstream status for StatusError, 503 for ErrNoResponse and 500
// otherwise.
func HTTPStatus(err error) int {
	var se *StatusError
	switch {
	case errors.As(err, &se):
		return se.StatusCode
	case errors.Is(err, ErrNoResponse):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
