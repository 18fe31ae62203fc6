package interfaces

import "labsync/pkg/types"

// Publisher delivers room events to their recipients.
// TECHNICAL DISCOVERY: Rooms publish while holding their lock, so
// implementations must never block on network I/O.
type Publisher interface {
	Publish(event types.Event)
}

// PublisherFunc adapts a plain function to Publisher
type PublisherFunc func(event types.Event)

// Publish calls f(event)
func (f PublisherFunc) Publish(event types.Event) { f(event) }
