package broker

import "errors"

// Broker error types
var (
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrInvalidEvent = errors.New("invalid event")
	ErrNotInRoom    = errors.New("participant is not in a room")
)
