package gateway

import (
	"context"
	"errors"
)

// Failure classes of a completion attempt. Callers branch with errors.Is;
// every error returned by Complete wraps exactly one of these (configuration
// failures wrap profile.ErrInvalidModelConfig instead).
var (
	// ErrNetwork covers transport failures, non-success provider statuses,
	// and a rate limit that persisted through the single retry.
	ErrNetwork = errors.New("gateway: network error")

	// ErrParse means the provider answered but the model's content was not
	// the expected JSON document.
	ErrParse = errors.New("gateway: malformed model output")

	// ErrCancelled means the attempt was aborted (explicit cancellation or
	// the request timeout). Callers must not treat it as a real failure.
	ErrCancelled = errors.New("gateway: request cancelled")
)

// IsCancellation reports whether err represents an abort rather than a
// failure, whichever wrapping it arrived under.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
