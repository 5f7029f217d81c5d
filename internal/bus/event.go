package bus

import "time"

// Event is a notification that some piece of messaging state changed.
// Watchers re-read state through the owning component; Payload is a hint.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
