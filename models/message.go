package models

import "encoding/json"

// Socket and push frames carry a type discriminator.
const (
	MessageNewOrder       = "new_order"
	MessageNewBatchOrder  = "new_batch_order"
	MessageOrderUpdate    = "order_update"
	MessageNewBatchLeg    = "new_batch_leg"
	MessageBatchLegUpdate = "batch_leg_update"
	MessageAuthSuccess    = "auth_success"
	MessageAuthError      = "auth_error"
	MessageError          = "error"
)

// Message is a decoded wire frame from the socket or push transport.
type Message struct {
	Type     string    `json:"type"`
	Order    *Order    `json:"order,omitempty"`
	Orders   []Order   `json:"orders,omitempty"`
	Leg      *BatchLeg `json:"leg,omitempty"`
	Batch    *BatchInfo `json:"batch,omitempty"`
	TenantID string    `json:"tenant_id,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// pollEnvelope covers the two envelope shapes the poll endpoint may use.
type pollEnvelope struct {
	Results []Order `json:"results"`
	Orders  []Order `json:"orders"`
}

// DecodeOrderList decodes a poll response body. The endpoint may return a
// bare array, or an envelope keyed "results" or "orders"; anything else is an
// empty result, not an error.
func DecodeOrderList(data []byte) ([]Order, error) {
	trimmed := firstByte(data)
	switch trimmed {
	case '[':
		var orders []Order
		if err := json.Unmarshal(data, &orders); err != nil {
			return nil, err
		}
		return orders, nil
	case '{':
		var env pollEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, err
		}
		if env.Results != nil {
			return env.Results, nil
		}
		if env.Orders != nil {
			return env.Orders, nil
		}
		return nil, nil
	default:
		return nil, nil
	}
}

func firstByte(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}

// DecodePushOrder extracts the order from a push payload. Some providers
// re-encode nested objects as JSON strings, so the order field may be either
// an object or a string containing one.
func DecodePushOrder(raw json.RawMessage) (*Order, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, err
		}
		raw = []byte(encoded)
	}
	var order Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, err
	}
	return &order, nil
}
