package types

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxContentBytes bounds any opaque document relayed through a room
const MaxContentBytes = 65536

var (
	roomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	moduleRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// Validate checks the envelope shape. Payload decoding is left to the
// dispatcher because it depends on Type.
func (e *InboundEnvelope) Validate() error {
	if !IsValidInboundType(e.Type) {
		return ErrInvalidEventType
	}
	// leave_room carries no room: the dispatcher resolves it from membership
	if e.Type != EventLeaveRoom && !IsValidRoomID(e.RoomID) {
		return ErrInvalidRoomID
	}
	if len(e.Data) > MaxContentBytes {
		return ErrContentTooLarge
	}
	return nil
}

// IsValidRoomID checks the room key format
func IsValidRoomID(roomID string) bool {
	if len(roomID) < 1 || len(roomID) > 64 {
		return false
	}
	return roomIDRegex.MatchString(roomID)
}

// NormalizeDisplayName trims the name and reports whether it is usable
func NormalizeDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n < 1 || n > 50 {
		return "", ErrInvalidDisplayName
	}
	return name, nil
}

// IsValidModule checks the free-form module tag
func IsValidModule(module string) bool {
	if len(module) < 1 || len(module) > 32 {
		return false
	}
	return moduleRegex.MatchString(module)
}

// IsValidInboundType reports whether a client may send this event type
func IsValidInboundType(eventType string) bool {
	switch eventType {
	case EventJoinRoom,
		EventLeaveRoom,
		EventCursorMove,
		EventModuleChange,
		EventLabAction,
		EventQuizAction,
		EventMoleculeAction:
		return true
	default:
		return false
	}
}

// Validate rejects NaN and infinite cursor coordinates
func (c CursorData) Validate() error {
	if math.IsNaN(c.X) || math.IsNaN(c.Y) || math.IsInf(c.X, 0) || math.IsInf(c.Y, 0) {
		return ErrInvalidCoordinate
	}
	return nil
}

// ValidateDocumentSize ensures a document stays within MaxContentBytes once
// encoded
func ValidateDocumentSize(doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return ErrInvalidContent
	}
	if len(data) > MaxContentBytes {
		return ErrContentTooLarge
	}
	return nil
}

// DecodeData unmarshals an envelope payload into target
func DecodeData(raw json.RawMessage, target any) error {
	if len(raw) == 0 {
		return ErrInvalidContent
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return ErrInvalidContent
	}
	return nil
}
