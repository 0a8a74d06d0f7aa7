package realtime

import "sync/atomic"

// Metrics accumulates per-transport and aggregate counters. Counters are
// atomic because every transport feeds the coordinator from its own
// goroutine.
type Metrics struct {
	socketMessages     int64
	pollMessages       int64
	pushMessages       int64
	ordersReceived     int64
	uniqueOrders       int64
	duplicatesFiltered int64
	batchesExpanded    int64
	legsReceived       int64
	errors             int64
}

// Snapshot is an immutable copy of the counters, shaped for the OnMetrics
// callback and the runtime report.
type Snapshot struct {
	SocketMessages     int64 `json:"socket_messages"`
	PollMessages       int64 `json:"poll_messages"`
	PushMessages       int64 `json:"push_messages"`
	OrdersReceived     int64 `json:"orders_received"`
	UniqueOrders       int64 `json:"unique_orders"`
	DuplicatesFiltered int64 `json:"duplicates_filtered"`
	BatchesExpanded    int64 `json:"batches_expanded"`
	LegsReceived       int64 `json:"legs_received"`
	Errors             int64 `json:"errors"`
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) addTransportMessage(transport string) {
	switch transport {
	case TransportSocket:
		atomic.AddInt64(&m.socketMessages, 1)
	case TransportPoll:
		atomic.AddInt64(&m.pollMessages, 1)
	case TransportPush:
		atomic.AddInt64(&m.pushMessages, 1)
	}
}

func (m *Metrics) addOrderReceived() {
	atomic.AddInt64(&m.ordersReceived, 1)
}

func (m *Metrics) addUniqueOrder() {
	atomic.AddInt64(&m.uniqueOrders, 1)
}

func (m *Metrics) addDuplicateFiltered() {
	atomic.AddInt64(&m.duplicatesFiltered, 1)
}

func (m *Metrics) addBatchExpanded() {
	atomic.AddInt64(&m.batchesExpanded, 1)
}

func (m *Metrics) addLegReceived() {
	atomic.AddInt64(&m.legsReceived, 1)
}

func (m *Metrics) addError() {
	atomic.AddInt64(&m.errors, 1)
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		SocketMessages:     atomic.LoadInt64(&m.socketMessages),
		PollMessages:       atomic.LoadInt64(&m.pollMessages),
		PushMessages:       atomic.LoadInt64(&m.pushMessages),
		OrdersReceived:     atomic.LoadInt64(&m.ordersReceived),
		UniqueOrders:       atomic.LoadInt64(&m.uniqueOrders),
		DuplicatesFiltered: atomic.LoadInt64(&m.duplicatesFiltered),
		BatchesExpanded:    atomic.LoadInt64(&m.batchesExpanded),
		LegsReceived:       atomic.LoadInt64(&m.legsReceived),
		Errors:             atomic.LoadInt64(&m.errors),
	}
}
