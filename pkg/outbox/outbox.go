// Package outbox carries typed event values to the cross-shard propagation
// collaborator. The store hands events to a Sink after the owning append has
// committed; batching, delivery and retry live entirely on the other side of
// the interface.
package outbox

import (
	"github.com/open-chat-labs/open-chat-sub009/pkg/models"
)

// Event is the propagation record for one committed append other shards may
// need to observe.
type Event struct {
	Kind    models.EventKind
	Index   models.EventIndex
	TS      int64
	Members []string
}

type Sink interface {
	Emit(Event)
}

// Nop discards events; the default when no propagation is wired.
type Nop struct{}

func (Nop) Emit(Event) {}

// Channel buffers events for an external drainer. Emit never blocks: when the
// buffer is full the event is dropped and the drainer is expected to resync,
// which matches the at-least-once contract of the propagation layer.
type Channel struct {
	C chan Event
}

func NewChannel(capacity int) *Channel {
	return &Channel{C: make(chan Event, capacity)}
}

func (c *Channel) Emit(ev Event) {
	select {
	case c.C <- ev:
	default:
	}
}
