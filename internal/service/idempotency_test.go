package service

import "testing"

func TestIdempotencyKeyFormat(t *testing.T) {
	got := IdempotencyKey(OpAddItem, "ord_abc", "var_123", 2, "req_stable_123")
	want := "add-item-ord_abc-var_123-2-req_stable_123"
	if got != want {
		t.Fatalf("key = %q, want %q", got, want)
	}
}

func TestIdempotencyKeyIsStable(t *testing.T) {
	a := IdempotencyKey(OpUpdateQuantity, "ord_1", "li_1", 5, "req_1")
	b := IdempotencyKey(OpUpdateQuantity, "ord_1", "li_1", 5, "req_1")
	if a != b {
		t.Fatalf("same inputs must yield the same key: %q vs %q", a, b)
	}
}

func TestIdempotencyKeyVariesWithRequestID(t *testing.T) {
	a := IdempotencyKey(OpUpdateQuantity, "ord_1", "li_1", 5, "req_1")
	b := IdempotencyKey(OpUpdateQuantity, "ord_1", "li_1", 5, "req_2")
	if a == b {
		t.Fatalf("different request ids are different logical attempts")
	}
}
