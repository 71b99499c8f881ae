package service

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/storefront/orderedit/internal/metrics"
	"github.com/storefront/orderedit/internal/repository"
	domerrors "github.com/storefront/orderedit/pkg/errors"
	"github.com/storefront/orderedit/pkg/logger"
	"github.com/storefront/orderedit/pkg/saga"
)

// Locker 按订单的建议锁。ok=false 表示锁被占用。
type Locker interface {
	Acquire(ctx context.Context, orderID string) (release func(), ok bool, err error)
}

// noopLocker 关闭建议锁时的占位实现，网关幂等键仍然兜底
type noopLocker struct{}

func (noopLocker) Acquire(ctx context.Context, orderID string) (func(), bool, error) {
	return func() {}, true, nil
}

// NoopLocker 返回永远成功的锁
func NoopLocker() Locker { return noopLocker{} }

// ModificationResult 修改成功后的订单快照
type ModificationResult struct {
	OrderID             string `json:"orderId"`
	ItemID              string `json:"itemId"`
	Quantity            int64  `json:"quantity"`
	NewTotal            int64  `json:"newTotal"`
	AuthorizationAmount int64  `json:"authorizationAmount"`
	Skipped             bool   `json:"skipped"` // 金额无变化，未触达网关
}

// ModificationService 订单修改编排
type ModificationService struct {
	validator *Validator
	gw        AuthorizationAdjuster
	orders    OrderWriter
	executor  *saga.Executor
	lock      Locker
	metrics   *metrics.Metrics
	log       *logger.Logger
}

func NewModificationService(validator *Validator, gw AuthorizationAdjuster, orders OrderWriter, executor *saga.Executor, lock Locker, m *metrics.Metrics, log *logger.Logger) *ModificationService {
	if lock == nil {
		lock = NoopLocker()
	}
	return &ModificationService{
		validator: validator,
		gw:        gw,
		orders:    orders,
		executor:  executor,
		lock:      lock,
		metrics:   m,
		log:       log,
	}
}

// AddItem 向 pending 订单追加新行
func (s *ModificationService) AddItem(ctx context.Context, req *ModificationRequest) (*ModificationResult, error) {
	req.Operation = OpAddItem
	return s.modify(ctx, req, metrics.OpAddItem)
}

// UpdateQuantity 修改已有行的数量
func (s *ModificationService) UpdateQuantity(ctx context.Context, req *ModificationRequest) (*ModificationResult, error) {
	req.Operation = OpUpdateQuantity
	return s.modify(ctx, req, metrics.OpUpdateQuantity)
}

func (s *ModificationService) modify(ctx context.Context, req *ModificationRequest, metricOp string) (*ModificationResult, error) {
	release, ok, err := s.lock.Acquire(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.count(metricOp, metrics.OutcomeRejected)
		return nil, domerrors.New(domerrors.CodeOrderLocked, "another modification for this order is in flight")
	}
	defer release()

	validated, err := s.validator.Validate(ctx, req)
	if err != nil {
		s.count(metricOp, metrics.OutcomeRejected)
		return nil, err
	}

	totals := ComputeForModification(validated)
	if totals.UsedTaxExclusive {
		s.log.Warnf("tax-inclusive unit price missing, falling back to base price", map[string]interface{}{
			"orderId":   req.OrderID,
			"operation": req.Operation,
		})
	}

	keyRef := req.ItemID
	if req.Operation == OpAddItem {
		keyRef = req.VariantID
	}
	idempotencyKey := IdempotencyKey(req.Operation, req.OrderID, keyRef, validated.NewQuantity, req.RequestID)

	metadata := map[string]string{
		repository.MetaEditStatus:     "edited",
		repository.MetaLastModifiedAt: strconv.FormatInt(time.Now().UnixMilli(), 10),
	}

	authID := validated.Order.AuthorizationID()
	adjust := NewAuthAdjustmentStep(s.gw, authID, totals.NewAuthorizationAmount, validated.Authorization.Amount, idempotencyKey, s.log)

	var newItem *repository.LineItem
	var mod *repository.Modification
	itemID := req.ItemID
	if req.Operation == OpAddItem {
		itemID = "li_" + uuid.NewString()
		newItem = &repository.LineItem{
			ID:               itemID,
			OrderID:          req.OrderID,
			VariantID:        req.VariantID,
			Title:            validated.Variant.Title,
			Quantity:         validated.NewQuantity,
			UnitPrice:        validated.Variant.UnitPrice,
			UnitPriceInclTax: validated.Variant.UnitPriceInclTax,
		}
	} else {
		mod = &repository.Modification{
			OrderID:     req.OrderID,
			ItemID:      req.ItemID,
			NewQuantity: validated.NewQuantity,
			NewTotal:    totals.NewOrderTotal,
			Metadata:    metadata,
		}
	}
	commit := NewLocalCommitStep(s.orders, adjust.Result(), req.OrderID, authID, newItem, mod, totals.NewOrderTotal, metadata, s.log, s.metrics)

	started := time.Now()
	err = s.executor.Run(ctx, "order-modification:"+req.Operation, []saga.Step{adjust, commit})
	if s.metrics != nil {
		s.metrics.AdjustmentLatency.Observe(time.Since(started).Seconds())
	}
	if err != nil {
		if domerrors.Is(err, domerrors.CodeAuthMismatch) {
			s.count(metricOp, metrics.OutcomeMismatch)
		} else {
			s.count(metricOp, metrics.OutcomeCompensated)
		}
		return nil, err
	}

	res := adjust.Result()
	outcome := metrics.OutcomeSucceeded
	if res.Skipped {
		outcome = metrics.OutcomeSkipped
	}
	s.count(metricOp, outcome)

	s.log.Infof("order modification committed", map[string]interface{}{
		"orderId":             req.OrderID,
		"operation":           req.Operation,
		"itemId":              itemID,
		"quantity":            validated.NewQuantity,
		"newTotal":            totals.NewOrderTotal,
		"authorizationAmount": res.EffectiveAmount,
	})

	return &ModificationResult{
		OrderID:             req.OrderID,
		ItemID:              itemID,
		Quantity:            validated.NewQuantity,
		NewTotal:            totals.NewOrderTotal,
		AuthorizationAmount: res.EffectiveAmount,
		Skipped:             res.Skipped,
	}, nil
}

func (s *ModificationService) count(op, outcome string) {
	if s.metrics != nil {
		s.metrics.ModificationOutcomes.WithLabelValues(op, outcome).Inc()
	}
}
