package models

import "time"

// EventKind tags a normalized event handed to the host application.
type EventKind string

const (
	EventNewOrder       EventKind = "new_order"
	EventOrderUpdate    EventKind = "order_update"
	EventNewBatchLeg    EventKind = "new_batch_leg"
	EventBatchLegUpdate EventKind = "batch_leg_update"
	EventError          EventKind = "error"
)

// Event is the normalized, deduplicated unit the coordinator emits. Exactly
// one of Order, Leg or Err is set depending on Kind. Events are immutable
// once created; they carry no lifecycle beyond the callback invocation.
type Event struct {
	Kind      EventKind
	Order     *Order
	Leg       *BatchLeg
	Err       string
	Transport string
	Timestamp time.Time
}
