package mapping

import "errors"

var (
	// ErrInvalidSpec signals a malformed specification at build time.
	ErrInvalidSpec = errors.New("invalid mapping specification")

	// ErrMissingRequiredField signals that a field declared required could
	// not be resolved from the input payload.
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrMapping is the single failure signal for script evaluation: sandbox
	// violations, script runtime errors, and timeouts all collapse into it so
	// sandbox internals never leak to callers. A mapping invocation that
	// fails with it returns no partial results.
	ErrMapping = errors.New("mapping failed")
)
