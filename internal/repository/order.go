// Package repository 订单数据访问层
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrLineItemNotFound = errors.New("line item not found")
)

// OrderStatus 订单状态
const (
	StatusPending   = "pending"
	StatusCanceled  = "canceled"
	StatusCompleted = "completed"
	StatusRequiresAction = "requires_action"
)

// 订单 metadata 约定键
const (
	MetaAuthorizationID  = "authorization_id"
	MetaEditStatus       = "edit_status"
	MetaLockedForCapture = "locked_for_capture"
	MetaNeedsRecovery    = "capture_needs_recovery"
	MetaRecoveryReason   = "capture_recovery_reason"
	MetaLastModifiedAt   = "last_modified_at_ms"
	MetaCancelReason     = "cancel_reason"
)

// Order 订单
type Order struct {
	ID           string
	CustomerID   string
	Status       string
	Currency     string
	Total        int64 // 最小货币单位整数
	Metadata     map[string]string
	Items        []LineItem
	CreateTimeMs int64
	UpdateTimeMs int64
}

// LineItem 订单行
type LineItem struct {
	ID               string
	OrderID          string
	VariantID        string
	Title            string
	Quantity         int64
	UnitPrice        int64 // 不含税单价，最小货币单位
	UnitPriceInclTax int64 // 含税单价，0 表示网关未提供
}

// AuthorizationID 从 metadata 读取授权 ID
func (o *Order) AuthorizationID() string {
	return o.Metadata[MetaAuthorizationID]
}

// LockedForCapture capture 是否已在途
func (o *Order) LockedForCapture() bool {
	return o.Metadata[MetaLockedForCapture] == "true"
}

// NeedsRecovery 提交 capture 任务时队列不可达的标记
func (o *Order) NeedsRecovery() bool {
	return o.Metadata[MetaNeedsRecovery] == "true"
}

// FindItem 按 ID 查找订单行
func (o *Order) FindItem(itemID string) *LineItem {
	for i := range o.Items {
		if o.Items[i].ID == itemID {
			return &o.Items[i]
		}
	}
	return nil
}

// Modification 一次本地提交的全部内容，单事务写入
type Modification struct {
	OrderID     string
	ItemID      string
	NewQuantity int64
	NewTotal    int64
	Metadata    map[string]string // 合并进订单 metadata 的键值
}

// OrderRepository 订单仓储
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository 创建仓储
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// GetOrder 加载订单和订单行
func (r *OrderRepository) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	query := `
		SELECT id, customer_id, status, currency, total, metadata, create_time_ms, update_time_ms
		FROM storefront.orders
		WHERE id = $1
	`
	var o Order
	var metadata []byte
	err := r.db.QueryRowContext(ctx, query, orderID).Scan(
		&o.ID, &o.CustomerID, &o.Status, &o.Currency, &o.Total, &metadata, &o.CreateTimeMs, &o.UpdateTimeMs,
	)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	o.Metadata = map[string]string{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &o.Metadata); err != nil {
			return nil, fmt.Errorf("decode order metadata: %w", err)
		}
	}

	items, err := r.listItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return &o, nil
}

func (r *OrderRepository) listItems(ctx context.Context, orderID string) ([]LineItem, error) {
	query := `
		SELECT id, order_id, variant_id, title, quantity, unit_price, unit_price_incl_tax
		FROM storefront.order_line_items
		WHERE order_id = $1
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query line items: %w", err)
	}
	defer rows.Close()

	var items []LineItem
	for rows.Next() {
		var it LineItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.VariantID, &it.Title, &it.Quantity, &it.UnitPrice, &it.UnitPriceInclTax); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// CommitModification 在单个事务里落新的行数量、订单总额和 metadata。
// 这是 saga 的本地提交步骤，要么全部可见要么全部不可见。
func (r *OrderRepository) CommitModification(ctx context.Context, mod *Modification) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if mod.ItemID != "" {
		res, err := tx.ExecContext(ctx, `
			UPDATE storefront.order_line_items
			SET quantity = $1
			WHERE id = $2 AND order_id = $3
		`, mod.NewQuantity, mod.ItemID, mod.OrderID)
		if err != nil {
			return fmt.Errorf("update line item: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update line item: %w", err)
		}
		if affected == 0 {
			return ErrLineItemNotFound
		}
	}

	metadata := mod.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE storefront.orders
		SET total = $1, metadata = metadata || $2::jsonb, update_time_ms = $3
		WHERE id = $4
	`, mod.NewTotal, metaJSON, time.Now().UnixMilli(), mod.OrderID)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if affected == 0 {
		return ErrOrderNotFound
	}

	return tx.Commit()
}

// InsertItem 新增订单行并更新总额，单事务
func (r *OrderRepository) InsertItem(ctx context.Context, item *LineItem, newTotal int64, metadata map[string]string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO storefront.order_line_items (id, order_id, variant_id, title, quantity, unit_price, unit_price_incl_tax)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.OrderID, item.VariantID, item.Title, item.Quantity, item.UnitPrice, item.UnitPriceInclTax)
	if err != nil {
		return fmt.Errorf("insert line item: %w", err)
	}

	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE storefront.orders
		SET total = $1, metadata = metadata || $2::jsonb, update_time_ms = $3
		WHERE id = $4
	`, newTotal, metaJSON, time.Now().UnixMilli(), item.OrderID)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	return tx.Commit()
}

// MarkCanceled 本地取消
func (r *OrderRepository) MarkCanceled(ctx context.Context, orderID, reason string) error {
	metaJSON, _ := json.Marshal(map[string]string{MetaCancelReason: reason})
	res, err := r.db.ExecContext(ctx, `
		UPDATE storefront.orders
		SET status = $1, metadata = metadata || $2::jsonb, update_time_ms = $3
		WHERE id = $4
	`, StatusCanceled, metaJSON, time.Now().UnixMilli(), orderID)
	if err != nil {
		return fmt.Errorf("mark canceled: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark canceled: %w", err)
	}
	if affected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// SetMetadata 合并写入订单 metadata
func (r *OrderRepository) SetMetadata(ctx context.Context, orderID string, values map[string]string) error {
	metaJSON, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE storefront.orders
		SET metadata = metadata || $1::jsonb, update_time_ms = $2
		WHERE id = $3
	`, metaJSON, time.Now().UnixMilli(), orderID)
	if err != nil {
		return fmt.Errorf("set metadata: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set metadata: %w", err)
	}
	if affected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// ClearMetadataKey 删除订单 metadata 中的键
func (r *OrderRepository) ClearMetadataKey(ctx context.Context, orderID, key string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE storefront.orders
		SET metadata = metadata - $1, update_time_ms = $2
		WHERE id = $3
	`, key, time.Now().UnixMilli(), orderID)
	if err != nil {
		return fmt.Errorf("clear metadata key: %w", err)
	}
	return nil
}

// ListStaleAuthorized 查找创建时间早于 cutoff、未取消且带授权 ID 的订单，
// 供对账任务扫描。
func (r *OrderRepository) ListStaleAuthorized(ctx context.Context, cutoffMs int64, limit int) ([]*Order, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `
		SELECT id, customer_id, status, currency, total, metadata, create_time_ms, update_time_ms
		FROM storefront.orders
		WHERE status != $1
		  AND create_time_ms < $2
		  AND metadata ? $3
		ORDER BY create_time_ms
		LIMIT $4
	`
	return r.listOrders(ctx, query, StatusCanceled, cutoffMs, MetaAuthorizationID, limit)
}

// ListNeedsRecovery 查找带恢复标记的订单
func (r *OrderRepository) ListNeedsRecovery(ctx context.Context, limit int) ([]*Order, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `
		SELECT id, customer_id, status, currency, total, metadata, create_time_ms, update_time_ms
		FROM storefront.orders
		WHERE status != $1
		  AND metadata->>$2 = 'true'
		ORDER BY create_time_ms
		LIMIT $3
	`
	return r.listOrders(ctx, query, StatusCanceled, MetaNeedsRecovery, limit)
}

func (r *OrderRepository) listOrders(ctx context.Context, query string, args ...interface{}) ([]*Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		var o Order
		var metadata []byte
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.Status, &o.Currency, &o.Total, &metadata, &o.CreateTimeMs, &o.UpdateTimeMs); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Metadata = map[string]string{}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &o.Metadata); err != nil {
				return nil, fmt.Errorf("decode order metadata: %w", err)
			}
		}
		orders = append(orders, &o)
	}
	return orders, rows.Err()
}
