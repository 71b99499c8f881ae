package service

import (
	"context"
	"time"

	"github.com/storefront/orderedit/internal/gateway"
	"github.com/storefront/orderedit/internal/metrics"
	"github.com/storefront/orderedit/internal/queue"
	"github.com/storefront/orderedit/internal/repository"
	domerrors "github.com/storefront/orderedit/pkg/errors"
	"github.com/storefront/orderedit/pkg/logger"
)

// CaptureJobs 对账需要的队列操作
type CaptureJobs interface {
	Ping(ctx context.Context) error
	GetState(ctx context.Context, jobID string) (queue.JobState, error)
	GetJob(ctx context.Context, jobID string) (*queue.CaptureJob, error)
	Enqueue(ctx context.Context, job *queue.CaptureJob, delay time.Duration) (bool, error)
}

// ReconcileOrders 对账需要的订单读写
type ReconcileOrders interface {
	ListStaleAuthorized(ctx context.Context, cutoffMs int64, limit int) ([]*repository.Order, error)
	ListNeedsRecovery(ctx context.Context, limit int) ([]*repository.Order, error)
	SetMetadata(ctx context.Context, orderID string, values map[string]string) error
	ClearMetadataKey(ctx context.Context, orderID, key string) error
}

// Alert 对账中升级给人工的单
type Alert struct {
	OrderID         string `json:"orderId"`
	AuthorizationID string `json:"authorizationId"`
	Reason          string `json:"reason"`
}

// Summary 一轮对账的结果
type Summary struct {
	Scanned  int     `json:"scanned"`
	Requeued int     `json:"requeued"`
	Skipped  int     `json:"skipped"`
	Alerts   []Alert `json:"alerts"`
}

// Reconciler 兜底对账。每小时扫描超过 staleAfter 仍未 capture 的订单，
// 把丢失的 capture 任务重新排队。捕获的是主链路和队列之间一切形式的
// 任务丢失，不细分丢失原因。
type Reconciler struct {
	orders     ReconcileOrders
	gw         AuthorizationReader
	jobs       CaptureJobs
	staleAfter time.Duration
	batchSize  int
	dryRun     bool
	metrics    *metrics.Metrics
	log        *logger.Logger
	nowFn      func() time.Time
}

func NewReconciler(orders ReconcileOrders, gw AuthorizationReader, jobs CaptureJobs, staleAfter time.Duration, m *metrics.Metrics, log *logger.Logger) *Reconciler {
	if staleAfter <= 0 {
		staleAfter = 65 * time.Minute
	}
	return &Reconciler{
		orders:     orders,
		gw:         gw,
		jobs:       jobs,
		staleAfter: staleAfter,
		batchSize:  500,
		metrics:    m,
		log:        log,
		nowFn:      time.Now,
	}
}

// SetDryRun 只扫描不入队，CLI 用
func (r *Reconciler) SetDryRun(dryRun bool) { r.dryRun = dryRun }

// Run 执行一轮对账。队列不可达时整轮放弃：盲目入队比少排一轮更危险。
func (r *Reconciler) Run(ctx context.Context) (*Summary, error) {
	if err := r.jobs.Ping(ctx); err != nil {
		r.log.WithError(err).Errorf("capture queue unreachable, skipping reconciliation round", nil)
		return nil, domerrors.New(domerrors.CodeQueueUnavailable, "capture queue unreachable")
	}

	summary := &Summary{}
	cutoff := r.nowFn().Add(-r.staleAfter).UnixMilli()

	stale, err := r.orders.ListStaleAuthorized(ctx, cutoff, r.batchSize)
	if err != nil {
		return nil, err
	}
	for _, order := range stale {
		summary.Scanned++
		r.reconcileOrder(ctx, order, summary)
	}

	// 第二遍：入队时队列不可达被打了恢复标记的订单
	flagged, err := r.orders.ListNeedsRecovery(ctx, r.batchSize)
	if err != nil {
		return nil, err
	}
	for _, order := range flagged {
		summary.Scanned++
		r.recoverOrder(ctx, order, summary)
	}

	r.log.Infof("reconciliation round finished", map[string]interface{}{
		"scanned":  summary.Scanned,
		"requeued": summary.Requeued,
		"skipped":  summary.Skipped,
		"alerts":   len(summary.Alerts),
	})
	return summary, nil
}

func (r *Reconciler) reconcileOrder(ctx context.Context, order *repository.Order, summary *Summary) {
	authID := order.AuthorizationID()

	authorization, err := r.gw.Retrieve(ctx, authID)
	if err != nil {
		r.log.WithError(err).Warnf("could not load authorization, skipping order", map[string]interface{}{
			"orderId":         order.ID,
			"authorizationId": authID,
		})
		summary.Skipped++
		return
	}
	if authorization.Status != gateway.StatusRequiresCapture {
		// 已 capture 或已释放，钱侧没有悬挂，不归对账管
		summary.Skipped++
		return
	}

	jobID := queue.CaptureJobID(order.ID)
	state, err := r.jobs.GetState(ctx, jobID)
	if err != nil {
		r.log.WithError(err).Warnf("could not read capture job state, skipping order", map[string]interface{}{
			"orderId": order.ID,
		})
		summary.Skipped++
		return
	}

	switch state {
	case queue.StateWaiting, queue.StateActive, queue.StateDelayed:
		// 任务还活着，让队列自己走完
		summary.Skipped++
	case queue.StateFailed:
		// 重试耗尽的任务重新入队只会再失败一次，升级人工
		r.alert(summary, order.ID, authID, r.failedJobReason(ctx, jobID))
	case queue.StateMissing, queue.StateCompleted:
		// 任务丢失，或任务自认完成但授权仍未 capture：立即补排
		if _, err := r.enqueue(ctx, order, authID, summary); err != nil {
			// 入队失败的订单打恢复标记，下一轮第二遍接手
			r.flagForRecovery(ctx, order.ID, "reconciliation enqueue failed: "+err.Error())
			summary.Skipped++
		}
	default:
		summary.Skipped++
	}
}

// failedJobReason 带上失败任务的来源，运维据此区分主链路和兜底补排
func (r *Reconciler) failedJobReason(ctx context.Context, jobID string) string {
	reason := "capture job exhausted retries"
	job, err := r.jobs.GetJob(ctx, jobID)
	if err == nil && job != nil && job.Source != "" {
		reason += " (source: " + job.Source + ")"
	}
	return reason
}

func (r *Reconciler) recoverOrder(ctx context.Context, order *repository.Order, summary *Summary) {
	authID := order.AuthorizationID()
	if authID == "" {
		// 没有授权 ID 的 capture 任务无从执行，补排只是假装处理过
		r.alert(summary, order.ID, "", "recovery-flagged order carries no authorization id")
		return
	}

	authorization, err := r.gw.Retrieve(ctx, authID)
	if err == nil && authorization.Status != gateway.StatusRequiresCapture {
		// 已被其他途径解决，清掉标记即可
		r.clearRecoveryFlag(ctx, order.ID)
		summary.Skipped++
		return
	}

	scheduled, err := r.enqueue(ctx, order, authID, summary)
	if err != nil || !scheduled {
		return
	}
	r.clearRecoveryFlag(ctx, order.ID)
}

// enqueue 补排 capture 任务，自己记 summary 计数。
// scheduled 为 true 表示任务确认已在队列里（本次入队成功，或并发写入者已排上）。
func (r *Reconciler) enqueue(ctx context.Context, order *repository.Order, authID string, summary *Summary) (scheduled bool, err error) {
	if r.dryRun {
		r.log.Infof("dry run: would re-queue capture", map[string]interface{}{"orderId": order.ID})
		summary.Requeued++
		return false, nil
	}
	job := &queue.CaptureJob{
		JobID:           queue.CaptureJobID(order.ID),
		OrderID:         order.ID,
		AuthorizationID: authID,
		ScheduledAt:     r.nowFn().UnixMilli(),
		Source:          "reconciliation",
	}
	added, err := r.jobs.Enqueue(ctx, job, 0)
	if err != nil {
		r.log.WithError(err).Errorf("failed to re-queue capture", map[string]interface{}{
			"orderId": order.ID,
		})
		return false, err
	}
	if !added {
		// Enqueue 和本轮之间有并发写入，任务已在队列里
		summary.Skipped++
		return true, nil
	}
	summary.Requeued++
	if r.metrics != nil {
		r.metrics.ReconcileRequeued.Inc()
	}
	r.log.Warnf("capture job re-queued by reconciliation", map[string]interface{}{
		"orderId":         order.ID,
		"authorizationId": authID,
	})
	return true, nil
}

func (r *Reconciler) flagForRecovery(ctx context.Context, orderID, reason string) {
	err := r.orders.SetMetadata(ctx, orderID, map[string]string{
		repository.MetaNeedsRecovery:  "true",
		repository.MetaRecoveryReason: reason,
	})
	if err != nil {
		r.log.WithError(err).Errorf("failed to flag order for recovery", map[string]interface{}{
			"orderId": orderID,
		})
	}
}

func (r *Reconciler) alert(summary *Summary, orderID, authID, reason string) {
	summary.Alerts = append(summary.Alerts, Alert{OrderID: orderID, AuthorizationID: authID, Reason: reason})
	if r.metrics != nil {
		r.metrics.ReconcileAlerts.Inc()
	}
	r.log.Criticalf("capture needs operator attention", map[string]interface{}{
		"orderId":         orderID,
		"authorizationId": authID,
		"reason":          reason,
	})
}

func (r *Reconciler) clearRecoveryFlag(ctx context.Context, orderID string) {
	for _, key := range []string{repository.MetaNeedsRecovery, repository.MetaRecoveryReason} {
		if err := r.orders.ClearMetadataKey(ctx, orderID, key); err != nil {
			r.log.WithError(err).Warnf("failed to clear recovery flag", map[string]interface{}{
				"orderId": orderID,
				"key":     key,
			})
			return
		}
	}
}
