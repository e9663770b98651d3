package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/fleetconsole/tracker/pkg/core"
)

var (
	// ErrAuthRequired is returned when the credential source holds no token.
	ErrAuthRequired = errors.New("authentication token required")
	// ErrUnauthorized is returned when the server rejects the token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNetwork wraps transport failures and timeouts.
	ErrNetwork = errors.New("network error")
	// ErrAPI wraps non-2xx responses and unusable bodies.
	ErrAPI = errors.New("api error")
)

// StatusError carries the HTTP status of a rejected request.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned status %d", e.Code)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Code, e.Body)
}

// Unwrap maps the status code onto ErrUnauthorized or ErrAPI.
func (e *StatusError) Unwrap() error {
	if e.Code == 401 || e.Code == 403 {
		return ErrUnauthorized
	}
	return ErrAPI
}

// StatusFromError maps a fetch outcome onto the status shown to the user.
func StatusFromError(err error) core.Status {
	switch {
	case err == nil:
		return core.StatusLive
	case errors.Is(err, ErrAuthRequired), errors.Is(err, ErrUnauthorized):
		return core.StatusUnauthorized
	case errors.Is(err, ErrNetwork),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return core.StatusNetworkError
	default:
		return core.StatusAPIError
	}
}
