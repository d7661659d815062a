package loop

import "time"

// Event is one concrete occurrence of a trigger firing. Type mirrors the
// trigger variant that produced it; only that variant's payload fields are
// populated.
type Event struct {
	Type TriggerType
	At   time.Time

	// API trigger payload.
	Response   string
	Value      string
	HTTPStatus int

	// File trigger payload.
	Path    string
	Preview string
	Size    int64
}
