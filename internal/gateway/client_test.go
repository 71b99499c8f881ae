package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domerrors "github.com/storefront/orderedit/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	orig := sleepFn
	sleepFn = func(ctx context.Context, d time.Duration) error { return nil }
	t.Cleanup(func() { sleepFn = orig })

	return NewClient(srv.URL, "sk_test", time.Second, nil)
}

func TestClientRetrieve(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/v1/authorizations/auth_123" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(Authorization{
			ID: "auth_123", Status: StatusRequiresCapture, Amount: 5000, Currency: "usd",
		})
	})

	auth, err := client.Retrieve(context.Background(), "auth_123")
	if err != nil {
		t.Fatalf("Retrieve error: %v", err)
	}
	if auth.Status != StatusRequiresCapture {
		t.Fatalf("expected requires_capture, got %s", auth.Status)
	}
	if auth.Amount != 5000 {
		t.Fatalf("expected Amount=5000, got %d", auth.Amount)
	}
}

func TestClientUpdateAmountSendsIdempotencyKey(t *testing.T) {
	var gotKey string
	var gotAmount int64
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		var body map[string]int64
		json.NewDecoder(r.Body).Decode(&body)
		gotAmount = body["amount"]
		json.NewEncoder(w).Encode(Authorization{ID: "auth_123", Status: StatusRequiresCapture, Amount: body["amount"]})
	})

	auth, err := client.UpdateAmount(context.Background(), "auth_123", 7500, "add-item-ord_abc-var_123-2-req_1")
	if err != nil {
		t.Fatalf("UpdateAmount error: %v", err)
	}
	if gotKey != "add-item-ord_abc-var_123-2-req_1" {
		t.Fatalf("expected idempotency key header, got %q", gotKey)
	}
	if gotAmount != 7500 || auth.Amount != 7500 {
		t.Fatalf("expected amount 7500, got sent=%d returned=%d", gotAmount, auth.Amount)
	}
}

func TestClientTranslatesCardDecline(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(errorEnvelope{Error: apiError{
			Type: "card_error", Code: "card_declined", DeclineCode: "insufficient_funds",
		}})
	})

	_, err := client.UpdateAmount(context.Background(), "auth_123", 7500, "key")
	e, ok := domerrors.AsError(err)
	if !ok {
		t.Fatalf("expected a domain error, got %v", err)
	}
	if e.Code != domerrors.CodeCardDeclined {
		t.Fatalf("expected CARD_DECLINED, got %s", e.Code)
	}
	if e.Message != "Insufficient funds." {
		t.Fatalf("unexpected message %q", e.Message)
	}
	if !e.Retryable {
		t.Fatal("insufficient_funds must be workflow-retryable")
	}
	if e.HTTPStatus() != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", e.HTTPStatus())
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(Authorization{ID: "auth_123", Status: StatusRequiresCapture, Amount: 5000})
	})

	auth, err := client.Retrieve(context.Background(), "auth_123")
	if err != nil {
		t.Fatalf("expected retried success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if auth.ID != "auth_123" {
		t.Fatalf("unexpected authorization %+v", auth)
	}
}

func TestClientDoesNotRetryCardErrors(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(errorEnvelope{Error: apiError{Type: "card_error", DeclineCode: "expired_card"}})
	})

	_, err := client.UpdateAmount(context.Background(), "auth_123", 7500, "key")
	if !domerrors.Is(err, domerrors.CodeCardDeclined) {
		t.Fatalf("expected CARD_DECLINED, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("card errors must not be retried, got %d calls", calls)
	}
}

func TestClientTranslatesIdempotencyConflict(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(errorEnvelope{Error: apiError{
			Type: "idempotency_error", Code: "idempotency_key_in_use",
		}})
	})

	_, err := client.UpdateAmount(context.Background(), "auth_123", 7500, "key")
	if !domerrors.Is(err, domerrors.CodeIdempotencyConflict) {
		t.Fatalf("expected IDEMPOTENCY_CONFLICT, got %v", err)
	}
}
