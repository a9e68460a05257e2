package queue

import "context"

// Job handles every message of one type.
type Job interface {
	Name() string
	Type() string

	// Handle gets the payload as json.RawMessage; decode it with ParsePayload. A
	// returned error schedules a retry until the retry limit is spent.
	Handle(ctx context.Context, payload interface{}) error
}

// Deduper is implemented by jobs whose pending messages collapse on a key: while a
// message with key k waits or runs, enqueueing another one with k yields ErrDuplicate.
// An empty key disables the check for that message.
type Deduper interface {
	DedupeKey(payload interface{}) string
}
