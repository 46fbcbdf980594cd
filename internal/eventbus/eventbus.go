package eventbus

// Event represents an arbitrary event passed on the bus.
type Event = any

// EventBus is the untyped bus shared by the dispatch components. Subscribers
// type-switch on the events they care about.
type EventBus interface {
	Publish(Event)
	Subscribe() <-chan Event
	Unsubscribe(<-chan Event)
	Close()
}

// Bus is the default EventBus implementation.
type Bus = TypedBus[Event]

// New creates a new Bus.
func New() *Bus { return NewTyped[Event]() }
