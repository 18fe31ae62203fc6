package interfaces

// Connection is one client transport as seen by the broker.
// ARCHITECTURAL DISCOVERY: The broker only needs a non-blocking enqueue and a
// close; framing, heartbeats and the socket itself stay in the transport.
type Connection interface {
	// TrySend enqueues v for delivery without blocking. It returns
	// ErrSendBufferFull when the outbox is full and ErrConnectionClosed after
	// Close.
	TrySend(v any) error

	// Close tears the connection down. Safe to call more than once.
	Close() error

	// ParticipantID returns the connection-scoped participant identifier
	ParticipantID() string
}

// ConnectionLookup resolves participant IDs to live connections
type ConnectionLookup interface {
	Lookup(participantID string) (Connection, bool)
}
