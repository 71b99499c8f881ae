package repository

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestOrderMetadataHelpers(t *testing.T) {
	order := &Order{
		ID:       "ord_abc",
		Status:   StatusPending,
		Currency: "usd",
		Total:    5000,
		Metadata: map[string]string{
			MetaAuthorizationID:  "auth_123",
			MetaLockedForCapture: "true",
			MetaNeedsRecovery:    "true",
		},
	}

	if order.AuthorizationID() != "auth_123" {
		t.Fatalf("expected authorization_id=auth_123, got %s", order.AuthorizationID())
	}
	if !order.LockedForCapture() {
		t.Fatal("expected LockedForCapture=true")
	}
	if !order.NeedsRecovery() {
		t.Fatal("expected NeedsRecovery=true")
	}

	order.Metadata = map[string]string{}
	if order.AuthorizationID() != "" {
		t.Fatal("expected empty authorization id")
	}
	if order.LockedForCapture() {
		t.Fatal("expected LockedForCapture=false")
	}
}

func TestOrderFindItem(t *testing.T) {
	order := &Order{
		Items: []LineItem{
			{ID: "item_1", VariantID: "var_1", Quantity: 1},
			{ID: "item_2", VariantID: "var_2", Quantity: 3},
		},
	}

	item := order.FindItem("item_2")
	if item == nil {
		t.Fatal("expected item_2 to be found")
	}
	if item.Quantity != 3 {
		t.Fatalf("expected Quantity=3, got %d", item.Quantity)
	}
	if order.FindItem("item_9") != nil {
		t.Fatal("expected nil for unknown item")
	}
}

func TestGetOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock error: %v", err)
	}
	defer db.Close()

	metadata, _ := json.Marshal(map[string]string{MetaAuthorizationID: "auth_123"})
	mock.ExpectQuery("SELECT id, customer_id, status, currency, total, metadata").
		WithArgs("ord_abc").
		WillReturnRows(sqlmock.NewRows([]string{"id", "customer_id", "status", "currency", "total", "metadata", "create_time_ms", "update_time_ms"}).
			AddRow("ord_abc", "cus_1", StatusPending, "usd", 5000, metadata, int64(1000), int64(1000)))
	mock.ExpectQuery("SELECT id, order_id, variant_id, title, quantity, unit_price").
		WithArgs("ord_abc").
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "variant_id", "title", "quantity", "unit_price", "unit_price_incl_tax"}).
			AddRow("item_1", "ord_abc", "var_1", "T-Shirt", 2, 1500, 1650))

	repo := NewOrderRepository(db)
	order, err := repo.GetOrder(context.Background(), "ord_abc")
	if err != nil {
		t.Fatalf("GetOrder error: %v", err)
	}

	if order.AuthorizationID() != "auth_123" {
		t.Fatalf("expected authorization_id=auth_123, got %s", order.AuthorizationID())
	}
	if len(order.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(order.Items))
	}
	if order.Items[0].UnitPriceInclTax != 1650 {
		t.Fatalf("expected UnitPriceInclTax=1650, got %d", order.Items[0].UnitPriceInclTax)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock error: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT id, customer_id, status, currency, total, metadata").
		WithArgs("ord_missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "customer_id", "status", "currency", "total", "metadata", "create_time_ms", "update_time_ms"}))

	repo := NewOrderRepository(db)
	if _, err := repo.GetOrder(context.Background(), "ord_missing"); err != ErrOrderNotFound {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestCommitModification(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock error: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE storefront.order_line_items").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE storefront.orders").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewOrderRepository(db)
	err = repo.CommitModification(context.Background(), &Modification{
		OrderID:     "ord_abc",
		ItemID:      "item_1",
		NewQuantity: 3,
		NewTotal:    7500,
		Metadata:    map[string]string{MetaEditStatus: "confirmed"},
	})
	if err != nil {
		t.Fatalf("CommitModification error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCommitModificationMissingItem(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock error: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE storefront.order_line_items").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	repo := NewOrderRepository(db)
	err = repo.CommitModification(context.Background(), &Modification{
		OrderID:     "ord_abc",
		ItemID:      "item_missing",
		NewQuantity: 3,
		NewTotal:    7500,
	})
	if err != ErrLineItemNotFound {
		t.Fatalf("expected ErrLineItemNotFound, got %v", err)
	}
}

func TestListStaleAuthorized(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock error: %v", err)
	}
	defer db.Close()

	metadata, _ := json.Marshal(map[string]string{MetaAuthorizationID: "auth_9"})
	mock.ExpectQuery("SELECT id, customer_id, status, currency, total, metadata").
		WithArgs(StatusCanceled, int64(5000), MetaAuthorizationID, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "customer_id", "status", "currency", "total", "metadata", "create_time_ms", "update_time_ms"}).
			AddRow("ord_old", "cus_2", StatusPending, "usd", 9000, metadata, int64(100), int64(100)))

	repo := NewOrderRepository(db)
	orders, err := repo.ListStaleAuthorized(context.Background(), 5000, 50)
	if err != nil {
		t.Fatalf("ListStaleAuthorized error: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != "ord_old" {
		t.Fatalf("unexpected orders: %+v", orders)
	}
}
