package service

import (
	"context"
	"errors"

	"github.com/storefront/orderedit/internal/gateway"
	"github.com/storefront/orderedit/internal/metrics"
	"github.com/storefront/orderedit/internal/queue"
	"github.com/storefront/orderedit/internal/repository"
	domerrors "github.com/storefront/orderedit/pkg/errors"
	"github.com/storefront/orderedit/pkg/logger"
)

// Notifier 运维告警钩子，void 失败等需要人工跟进的场景触发
type Notifier interface {
	Notify(ctx context.Context, level, message string, fields map[string]interface{})
}

// noopNotifier 不配置告警渠道时的占位
type noopNotifier struct{}

func (noopNotifier) Notify(ctx context.Context, level, message string, fields map[string]interface{}) {
}

// NoopNotifier 返回什么都不做的 Notifier
func NoopNotifier() Notifier { return noopNotifier{} }

// JobRemover capture 队列删除接口
type JobRemover interface {
	Remove(ctx context.Context, jobID string) error
}

// CancelRequest 取消订单请求
type CancelRequest struct {
	OrderID   string
	Token     string
	Reason    string
	RequestID string
}

// CancelResult 取消结果。PaymentAction 说明支付侧实际动作：
// voided / none；VoidFailed 表示本地已取消但授权释放失败，需要人工跟进。
type CancelResult struct {
	OrderID       string `json:"orderId"`
	Status        string `json:"status"`
	PaymentAction string `json:"paymentAction"`
	VoidFailed    bool   `json:"voidFailed,omitempty"`
	Message       string `json:"message,omitempty"`
}

// CancelOrders 取消路径需要的订单写接口
type CancelOrders interface {
	GetOrder(ctx context.Context, orderID string) (*repository.Order, error)
	MarkCanceled(ctx context.Context, orderID, reason string) error
}

// CancelService 取消订单编排。
// 顺序固定：先摘队列任务，再落本地取消，最后释放授权。
// 摘任务失败时中止整个取消，避免 capture 在取消后继续执行。
type CancelService struct {
	tokens   *Validator
	orders   CancelOrders
	gw       AuthorizationAdjuster
	jobs     JobRemover
	lock     Locker
	notifier Notifier
	metrics  *metrics.Metrics
	log      *logger.Logger
}

func NewCancelService(validator *Validator, orders CancelOrders, gw AuthorizationAdjuster, jobs JobRemover, lock Locker, notifier Notifier, m *metrics.Metrics, log *logger.Logger) *CancelService {
	if lock == nil {
		lock = NoopLocker()
	}
	if notifier == nil {
		notifier = NoopNotifier()
	}
	return &CancelService{
		tokens:   validator,
		orders:   orders,
		gw:       gw,
		jobs:     jobs,
		lock:     lock,
		notifier: notifier,
		metrics:  m,
		log:      log,
	}
}

// Cancel 取消订单
func (s *CancelService) Cancel(ctx context.Context, req *CancelRequest) (*CancelResult, error) {
	if _, err := s.tokens.VerifyToken(req.Token, req.OrderID); err != nil {
		s.count(metrics.OutcomeRejected)
		return nil, err
	}

	release, ok, err := s.lock.Acquire(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.count(metrics.OutcomeRejected)
		return nil, domerrors.New(domerrors.CodeOrderLocked, "another modification for this order is in flight")
	}
	defer release()

	order, err := s.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			s.count(metrics.OutcomeRejected)
			return nil, domerrors.Newf(domerrors.CodeOrderNotFound, "order %s not found", req.OrderID)
		}
		return nil, err
	}

	// 重复取消是幂等成功，不是错误
	if order.Status == repository.StatusCanceled {
		s.count(metrics.OutcomeSkipped)
		return &CancelResult{
			OrderID:       order.ID,
			Status:        repository.StatusCanceled,
			PaymentAction: "none",
			Message:       "order already canceled",
		}, nil
	}

	authID := order.AuthorizationID()
	var authorization *gateway.Authorization
	if authID != "" {
		authorization, err = s.gw.Retrieve(ctx, authID)
		if err != nil {
			return nil, err
		}
		switch {
		case authorization.Status == gateway.StatusSucceeded:
			s.count(metrics.OutcomeRejected)
			return nil, domerrors.Newf(domerrors.CodeLateCancel, "payment for order %s already captured, use the returns flow", req.OrderID)
		case authorization.Status == gateway.StatusRequiresCapture && authorization.AmountReceived > 0:
			s.count(metrics.OutcomeRejected)
			return nil, domerrors.Newf(domerrors.CodePartialCapture, "payment for order %s is partially captured", req.OrderID)
		}
	}

	// 摘除排队中的 capture 任务。失败则中止：订单保持原状，
	// 否则本地取消后 capture 仍可能执行。
	if err := s.jobs.Remove(ctx, queue.CaptureJobID(req.OrderID)); err != nil {
		s.log.WithError(err).Criticalf("failed to remove queued capture, aborting cancel", map[string]interface{}{
			"orderId": req.OrderID,
		})
		s.count(metrics.OutcomeRejected)
		return nil, domerrors.Newf(domerrors.CodeQueueRemoval, "could not remove queued capture for order %s", req.OrderID)
	}

	if err := s.orders.MarkCanceled(ctx, req.OrderID, req.Reason); err != nil {
		return nil, err
	}

	result := &CancelResult{
		OrderID:       req.OrderID,
		Status:        repository.StatusCanceled,
		PaymentAction: "none",
	}

	if authorization != nil && authorization.Status == gateway.StatusRequiresCapture {
		if _, err := s.gw.Cancel(ctx, authID); err != nil {
			// 本地取消已生效，释放授权失败只告警不回滚
			result.VoidFailed = true
			result.Message = "order canceled, but the payment authorization could not be released"
			s.log.WithError(err).Errorf("authorization void failed after local cancel", map[string]interface{}{
				"orderId":         req.OrderID,
				"authorizationId": authID,
			})
			s.notifier.Notify(ctx, "warning", "authorization void failed after cancel", map[string]interface{}{
				"orderId":         req.OrderID,
				"authorizationId": authID,
			})
		} else {
			result.PaymentAction = "voided"
		}
	}

	s.count(metrics.OutcomeSucceeded)
	s.log.Infof("order canceled", map[string]interface{}{
		"orderId":       req.OrderID,
		"paymentAction": result.PaymentAction,
		"voidFailed":    result.VoidFailed,
	})
	return result, nil
}

func (s *CancelService) count(outcome string) {
	if s.metrics != nil {
		s.metrics.ModificationOutcomes.WithLabelValues(metrics.OpCancel, outcome).Inc()
	}
}
