package interfaces

import "errors"

// Common transport errors shared by Connection implementations and callers
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)
