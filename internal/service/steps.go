package service

import (
	"context"
	"errors"

	"github.com/storefront/orderedit/internal/gateway"
	"github.com/storefront/orderedit/internal/metrics"
	"github.com/storefront/orderedit/internal/repository"
	domerrors "github.com/storefront/orderedit/pkg/errors"
	"github.com/storefront/orderedit/pkg/logger"
)

// AuthorizationAdjuster 授权金额调整接口
type AuthorizationAdjuster interface {
	Retrieve(ctx context.Context, authorizationID string) (*gateway.Authorization, error)
	UpdateAmount(ctx context.Context, authorizationID string, amount int64, idempotencyKey string) (*gateway.Authorization, error)
	Cancel(ctx context.Context, authorizationID string) (*gateway.Authorization, error)
}

// OrderWriter 本地提交接口
type OrderWriter interface {
	CommitModification(ctx context.Context, mod *repository.Modification) error
	InsertItem(ctx context.Context, item *repository.LineItem, newTotal int64, metadata map[string]string) error
}

// AdjustmentResult 调整步骤的执行痕迹，供补偿器和提交步骤共享
type AdjustmentResult struct {
	Skipped         bool  // 金额无变化，未外呼
	Executed        bool  // 网关侧金额已实际变更
	PreviousAmount  int64 // 补偿回滚目标
	EffectiveAmount int64 // 网关侧当前生效金额
}

// AuthAdjustmentStep 调整支付授权金额。
// 金额相等时跳过外呼；幂等键冲突时重新拉取授权，以网关当前金额为准。
type AuthAdjustmentStep struct {
	gw              AuthorizationAdjuster
	authorizationID string
	targetAmount    int64
	previousAmount  int64
	idempotencyKey  string
	log             *logger.Logger
	result          *AdjustmentResult
}

func NewAuthAdjustmentStep(gw AuthorizationAdjuster, authorizationID string, targetAmount, previousAmount int64, idempotencyKey string, log *logger.Logger) *AuthAdjustmentStep {
	return &AuthAdjustmentStep{
		gw:              gw,
		authorizationID: authorizationID,
		targetAmount:    targetAmount,
		previousAmount:  previousAmount,
		idempotencyKey:  idempotencyKey,
		log:             log,
		result:          &AdjustmentResult{PreviousAmount: previousAmount, EffectiveAmount: previousAmount},
	}
}

func (s *AuthAdjustmentStep) Name() string { return "adjust-authorization" }

// Result 执行痕迹。Execute 前调用返回零值快照。
func (s *AuthAdjustmentStep) Result() *AdjustmentResult { return s.result }

func (s *AuthAdjustmentStep) Execute(ctx context.Context) error {
	if s.targetAmount == s.previousAmount {
		s.result.Skipped = true
		if s.log != nil {
			s.log.Infof("authorization amount unchanged, skipping gateway call", map[string]interface{}{
				"authorizationId": s.authorizationID,
				"amount":          s.targetAmount,
			})
		}
		return nil
	}

	updated, err := s.gw.UpdateAmount(ctx, s.authorizationID, s.targetAmount, s.idempotencyKey)
	if err != nil {
		var derr *domerrors.Error
		if errors.As(err, &derr) && derr.Code == domerrors.CodeIdempotencyConflict {
			// 同一幂等键已被处理过：以网关侧当前金额为生效值继续
			current, rerr := s.gw.Retrieve(ctx, s.authorizationID)
			if rerr != nil {
				return rerr
			}
			s.result.Executed = current.Amount != s.previousAmount
			s.result.EffectiveAmount = current.Amount
			if s.log != nil {
				s.log.Warnf("idempotency conflict on adjustment, accepting gateway amount", map[string]interface{}{
					"authorizationId": s.authorizationID,
					"effectiveAmount": current.Amount,
				})
			}
			return nil
		}
		return err
	}

	s.result.Executed = true
	s.result.EffectiveAmount = updated.Amount
	return nil
}

// Compensate 将授权金额回滚到调整前的值。只有实际外呼成功过才回滚。
func (s *AuthAdjustmentStep) Compensate(ctx context.Context) error {
	if s.result.Skipped || !s.result.Executed {
		return nil
	}
	_, err := s.gw.UpdateAmount(ctx, s.authorizationID, s.result.PreviousAmount, s.idempotencyKey+"-revert")
	if err == nil && s.log != nil {
		s.log.Warnf("authorization adjustment reverted", map[string]interface{}{
			"authorizationId": s.authorizationID,
			"amount":          s.result.PreviousAmount,
		})
	}
	return err
}

// LocalCommitStep 本地单事务提交订单变更。
// 授权金额已变而本地提交失败时，两套系统出现不一致，
// 升级为 AUTH_MISMATCH 并打 critical 日志。
type LocalCommitStep struct {
	orders     OrderWriter
	adjustment *AdjustmentResult
	orderID    string
	authID     string
	newItem    *repository.LineItem     // add-item 时非空
	mod        *repository.Modification // update-quantity 时非空
	newTotal   int64
	metadata   map[string]string
	log        *logger.Logger
	metrics    *metrics.Metrics
}

func NewLocalCommitStep(orders OrderWriter, adjustment *AdjustmentResult, orderID, authID string, newItem *repository.LineItem, mod *repository.Modification, newTotal int64, metadata map[string]string, log *logger.Logger, m *metrics.Metrics) *LocalCommitStep {
	return &LocalCommitStep{
		orders:     orders,
		adjustment: adjustment,
		orderID:    orderID,
		authID:     authID,
		newItem:    newItem,
		mod:        mod,
		newTotal:   newTotal,
		metadata:   metadata,
		log:        log,
		metrics:    m,
	}
}

func (s *LocalCommitStep) Name() string { return "commit-order" }

func (s *LocalCommitStep) Execute(ctx context.Context) error {
	var err error
	if s.newItem != nil {
		err = s.orders.InsertItem(ctx, s.newItem, s.newTotal, s.metadata)
	} else {
		err = s.orders.CommitModification(ctx, s.mod)
	}
	if err == nil {
		return nil
	}

	if s.adjustment != nil && s.adjustment.Executed && !s.adjustment.Skipped {
		if s.log != nil {
			s.log.WithError(err).Criticalf("authorization updated but local commit failed", map[string]interface{}{
				"orderId":         s.orderID,
				"authorizationId": s.authID,
				"attemptedAmount": s.adjustment.EffectiveAmount,
			})
		}
		if s.metrics != nil {
			s.metrics.CriticalMismatches.Inc()
		}
		return domerrors.NewAuthMismatch(s.orderID, s.authID, s.adjustment.EffectiveAmount)
	}
	return err
}

// Compensate 本地提交是最后一步，没有后续步骤会触发它。
func (s *LocalCommitStep) Compensate(ctx context.Context) error { return nil }
