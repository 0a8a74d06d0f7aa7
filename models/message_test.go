package models

import (
	"encoding/json"
	"testing"
)

func TestDecodeOrderListBareArray(t *testing.T) {
	data := []byte(`[{"id":"o-1","status":"pending"},{"id":"o-2","status":"assigned"}]`)
	orders, err := DecodeOrderList(data)
	if err != nil {
		t.Fatalf("DecodeOrderList failed: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[0].ID != "o-1" || orders[1].Status != "assigned" {
		t.Errorf("unexpected orders: %+v", orders)
	}
}

func TestDecodeOrderListResultsEnvelope(t *testing.T) {
	data := []byte(`{"results":[{"id":"o-3"}],"count":1}`)
	orders, err := DecodeOrderList(data)
	if err != nil {
		t.Fatalf("DecodeOrderList failed: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != "o-3" {
		t.Errorf("expected contents of results, got %+v", orders)
	}
}

func TestDecodeOrderListOrdersEnvelope(t *testing.T) {
	data := []byte(`{"orders":[{"id":"o-4"},{"id":"o-5"}]}`)
	orders, err := DecodeOrderList(data)
	if err != nil {
		t.Fatalf("DecodeOrderList failed: %v", err)
	}
	if len(orders) != 2 {
		t.Errorf("expected 2 orders, got %d", len(orders))
	}
}

func TestDecodeOrderListUnrecognizedShape(t *testing.T) {
	cases := [][]byte{
		[]byte(`{"detail":"not found"}`),
		[]byte(`"just a string"`),
		[]byte(`42`),
		[]byte(``),
		[]byte(`   `),
	}
	for _, data := range cases {
		orders, err := DecodeOrderList(data)
		if err != nil {
			t.Errorf("DecodeOrderList(%q) returned error: %v", data, err)
		}
		if len(orders) != 0 {
			t.Errorf("DecodeOrderList(%q) = %+v, want empty", data, orders)
		}
	}
}

func TestDecodePushOrderObject(t *testing.T) {
	raw := json.RawMessage(`{"id":"o-9","status":"pending"}`)
	order, err := DecodePushOrder(raw)
	if err != nil {
		t.Fatalf("DecodePushOrder failed: %v", err)
	}
	if order == nil || order.ID != "o-9" {
		t.Errorf("unexpected order: %+v", order)
	}
}

func TestDecodePushOrderStringEncoded(t *testing.T) {
	raw := json.RawMessage(`"{\"id\":\"o-10\",\"status\":\"assigned\"}"`)
	order, err := DecodePushOrder(raw)
	if err != nil {
		t.Fatalf("DecodePushOrder failed: %v", err)
	}
	if order == nil || order.ID != "o-10" || order.Status != "assigned" {
		t.Errorf("unexpected order: %+v", order)
	}
}

func TestDedupKeys(t *testing.T) {
	o := Order{ID: "o-1"}
	if o.DedupKey() != "order:o-1" {
		t.Errorf("unexpected order key: %s", o.DedupKey())
	}
	l := BatchLeg{ID: "1", BatchID: "b-7"}
	if l.DedupKey() != "leg:b-7:1" {
		t.Errorf("unexpected leg key: %s", l.DedupKey())
	}
	other := BatchLeg{ID: "1", BatchID: "b-8"}
	if l.DedupKey() == other.DedupKey() {
		t.Error("legs from different batches must not collide")
	}
}
