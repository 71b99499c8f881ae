package service

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/storefront/orderedit/internal/gateway"
	"github.com/storefront/orderedit/internal/inventory"
	"github.com/storefront/orderedit/internal/metrics"
	"github.com/storefront/orderedit/internal/queue"
	"github.com/storefront/orderedit/internal/repository"
	"github.com/storefront/orderedit/pkg/auth"
	"github.com/storefront/orderedit/pkg/logger"
	"github.com/storefront/orderedit/pkg/saga"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testLogger() *logger.Logger {
	return logger.New("test", io.Discard)
}

func testTokens(t *testing.T) *auth.TokenManager {
	t.Helper()
	tm, err := auth.NewTokenManager(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("new token manager: %v", err)
	}
	return tm
}

func issueToken(t *testing.T, tm *auth.TokenManager, orderID string) string {
	t.Helper()
	token, err := tm.Issue(orderID, "cus_1", auth.ScopeCustomer)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

// fakeOrders in-memory 订单仓储
type fakeOrders struct {
	orders map[string]*repository.Order

	commitErr  error
	insertErr  error
	cancelErr  error
	committed  []*repository.Modification
	inserted   []*repository.LineItem
	canceled   []string
	cleared    []string
	metaWrites map[string]map[string]string
	staleList  []*repository.Order
	recovering []*repository.Order
}

func newFakeOrders(orders ...*repository.Order) *fakeOrders {
	f := &fakeOrders{orders: make(map[string]*repository.Order)}
	for _, o := range orders {
		f.orders[o.ID] = o
	}
	return f
}

func (f *fakeOrders) GetOrder(ctx context.Context, orderID string) (*repository.Order, error) {
	o, ok := f.orders[orderID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return o, nil
}

func (f *fakeOrders) CommitModification(ctx context.Context, mod *repository.Modification) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = append(f.committed, mod)
	return nil
}

func (f *fakeOrders) InsertItem(ctx context.Context, item *repository.LineItem, newTotal int64, metadata map[string]string) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, item)
	return nil
}

func (f *fakeOrders) MarkCanceled(ctx context.Context, orderID, reason string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceled = append(f.canceled, orderID)
	if o, ok := f.orders[orderID]; ok {
		o.Status = repository.StatusCanceled
	}
	return nil
}

func (f *fakeOrders) ListStaleAuthorized(ctx context.Context, cutoffMs int64, limit int) ([]*repository.Order, error) {
	return f.staleList, nil
}

func (f *fakeOrders) ListNeedsRecovery(ctx context.Context, limit int) ([]*repository.Order, error) {
	return f.recovering, nil
}

func (f *fakeOrders) SetMetadata(ctx context.Context, orderID string, values map[string]string) error {
	if f.metaWrites == nil {
		f.metaWrites = make(map[string]map[string]string)
	}
	merged := f.metaWrites[orderID]
	if merged == nil {
		merged = make(map[string]string)
		f.metaWrites[orderID] = merged
	}
	for k, v := range values {
		merged[k] = v
	}
	return nil
}

func (f *fakeOrders) ClearMetadataKey(ctx context.Context, orderID, key string) error {
	f.cleared = append(f.cleared, orderID+":"+key)
	return nil
}

// fakeGateway 可编排的支付网关
type fakeGateway struct {
	auths map[string]*gateway.Authorization

	retrieveErr error
	updateErr   error
	cancelErr   error

	updates []updateCall
	voided  []string
}

type updateCall struct {
	AuthorizationID string
	Amount          int64
	IdempotencyKey  string
}

func newFakeGateway(auths ...*gateway.Authorization) *fakeGateway {
	f := &fakeGateway{auths: make(map[string]*gateway.Authorization)}
	for _, a := range auths {
		f.auths[a.ID] = a
	}
	return f
}

func (f *fakeGateway) Retrieve(ctx context.Context, id string) (*gateway.Authorization, error) {
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	a, ok := f.auths[id]
	if !ok {
		return nil, context.DeadlineExceeded
	}
	cp := *a
	return &cp, nil
}

func (f *fakeGateway) UpdateAmount(ctx context.Context, id string, amount int64, idempotencyKey string) (*gateway.Authorization, error) {
	f.updates = append(f.updates, updateCall{AuthorizationID: id, Amount: amount, IdempotencyKey: idempotencyKey})
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	a := f.auths[id]
	a.Amount = amount
	cp := *a
	return &cp, nil
}

func (f *fakeGateway) Cancel(ctx context.Context, id string) (*gateway.Authorization, error) {
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	f.voided = append(f.voided, id)
	a := f.auths[id]
	a.Status = gateway.StatusCanceled
	cp := *a
	return &cp, nil
}

// fakeStock 固定库存
type fakeStock struct {
	levels   map[string][]inventory.Level
	variants map[string]*inventory.Variant
}

func (f *fakeStock) GetVariantLevels(ctx context.Context, variantID string) ([]inventory.Level, error) {
	return f.levels[variantID], nil
}

func (f *fakeStock) GetVariant(ctx context.Context, variantID string) (*inventory.Variant, error) {
	v, ok := f.variants[variantID]
	if !ok {
		return nil, context.DeadlineExceeded
	}
	return v, nil
}

// fakeJobs capture 队列替身
type fakeJobs struct {
	states    map[string]queue.JobState
	jobs      map[string]*queue.CaptureJob
	pingErr   error
	removeErr error
	enqErr    error
	enqAdded  bool
	removed   []string
	enqueued  []*queue.CaptureJob
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{
		states:   make(map[string]queue.JobState),
		jobs:     make(map[string]*queue.CaptureJob),
		enqAdded: true,
	}
}

func (f *fakeJobs) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeJobs) GetState(ctx context.Context, jobID string) (queue.JobState, error) {
	if s, ok := f.states[jobID]; ok {
		return s, nil
	}
	return queue.StateMissing, nil
}

func (f *fakeJobs) GetJob(ctx context.Context, jobID string) (*queue.CaptureJob, error) {
	return f.jobs[jobID], nil
}

func (f *fakeJobs) Enqueue(ctx context.Context, job *queue.CaptureJob, delay time.Duration) (bool, error) {
	if f.enqErr != nil {
		return false, f.enqErr
	}
	f.enqueued = append(f.enqueued, job)
	return f.enqAdded, nil
}

func (f *fakeJobs) Remove(ctx context.Context, jobID string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, jobID)
	return nil
}

func pendingOrder(orderID, authID string) *repository.Order {
	return &repository.Order{
		ID:         orderID,
		CustomerID: "cus_1",
		Status:     repository.StatusPending,
		Currency:   "usd",
		Total:      5000,
		Metadata:   map[string]string{repository.MetaAuthorizationID: authID},
		Items: []repository.LineItem{
			{ID: "li_1", OrderID: orderID, VariantID: "var_1", Title: "Mug", Quantity: 2, UnitPrice: 2000, UnitPriceInclTax: 2500},
		},
	}
}

func requiresCapture(authID string, amount int64) *gateway.Authorization {
	return &gateway.Authorization{ID: authID, Status: gateway.StatusRequiresCapture, Amount: amount, Currency: "usd"}
}

func testExecutor() *saga.Executor {
	return saga.NewExecutor(saga.NewMemoryStore(), testLogger())
}

func testMetrics() *metrics.Metrics {
	return metrics.New(nil)
}
