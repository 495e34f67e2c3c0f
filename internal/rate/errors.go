package rate

import "errors"

var (
	// ErrRateLimited is returned when a tracker is over budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrBackendUnavailable wraps counter storage failures.
	ErrBackendUnavailable = errors.New("rate limit backend unavailable")
)
