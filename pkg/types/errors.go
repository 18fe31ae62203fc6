package types

import "errors"

// Validation errors for inbound client events
var (
	ErrInvalidRoomID      = errors.New("room ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidDisplayName = errors.New("display name must be 1-50 characters")
	ErrInvalidModule      = errors.New("module must be 1-32 characters, alphanumeric + underscore/hyphen")
	ErrInvalidEventType   = errors.New("invalid event type")
	ErrInvalidContent     = errors.New("invalid JSON content")
	ErrContentTooLarge    = errors.New("event content exceeds 64KB limit")
	ErrInvalidCoordinate  = errors.New("cursor coordinates must be finite numbers")
)
