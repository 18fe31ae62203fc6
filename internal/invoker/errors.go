package invoker

import "errors"

var (
	// ErrServiceUnavailable is returned without calling upstream while the
	// circuit is open
	ErrServiceUnavailable = errors.New("service unavailable: circuit open")

	// ErrGenerationFailed wraps the last attempt's error once retries are
	// exhausted
	ErrGenerationFailed = errors.New("generation failed")

	// ErrInvalidResponse marks an upstream result rejected by validation
	ErrInvalidResponse = errors.New("invalid generator response")

	ErrNoGenerator = errors.New("no generator configured")
)
