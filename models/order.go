package models

import "time"

// Order statuses as delivered by the dispatch backend.
const (
	OrderStatusPending   = "pending"
	OrderStatusAssigned  = "assigned"
	OrderStatusAccepted  = "accepted"
	OrderStatusPickedUp  = "picked_up"
	OrderStatusInTransit = "in_transit"
	OrderStatusDelivered = "delivered"
	OrderStatusDeclined  = "declined"
)

// Order is a delivery order as the backend serialises it. The same shape
// arrives over the socket, the poll endpoint and (possibly string-encoded)
// push payloads.
type Order struct {
	ID              string    `json:"id"`
	Status          string    `json:"status"`
	CustomerName    string    `json:"customer_name"`
	CustomerPhone   string    `json:"customer_phone,omitempty"`
	PickupAddress   string    `json:"pickup_address"`
	DeliveryAddress string    `json:"delivery_address"`
	PickupLat       float64   `json:"pickup_lat,omitempty"`
	PickupLng       float64   `json:"pickup_lng,omitempty"`
	DeliveryLat     float64   `json:"delivery_lat,omitempty"`
	DeliveryLng     float64   `json:"delivery_lng,omitempty"`
	PaymentMethod   string    `json:"payment_method,omitempty"`
	Total           float64   `json:"total,omitempty"`
	BatchID         string    `json:"batch_id,omitempty"`
	TenantID        string    `json:"tenant_id,omitempty"`
	CreatedAt       time.Time `json:"created_at,omitempty"`
}

// DedupKey returns the identity used by the seen-event registry. Orders are
// identified by their backend id alone, regardless of which transport
// delivered them.
func (o Order) DedupKey() string {
	return "order:" + o.ID
}

// BatchLeg is one stop of a multi-stop distribution batch.
type BatchLeg struct {
	ID       string  `json:"id"`
	BatchID  string  `json:"batch_id"`
	Sequence int     `json:"sequence,omitempty"`
	Status   string  `json:"status,omitempty"`
	Address  string  `json:"address,omitempty"`
	Lat      float64 `json:"lat,omitempty"`
	Lng      float64 `json:"lng,omitempty"`
	OrderIDs []string `json:"order_ids,omitempty"`
}

// DedupKey returns a synthetic identity for a leg. Leg ids are only unique
// within a batch, so the batch id is part of the key.
func (l BatchLeg) DedupKey() string {
	return "leg:" + l.BatchID + ":" + l.ID
}

// BatchInfo carries batch-level metadata on new_batch_order messages that
// arrive without an expanded order list.
type BatchInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	OrderCount int    `json:"order_count,omitempty"`
	Warehouse  string `json:"warehouse,omitempty"`
}
