// Package service order modification saga: validation, totals, saga steps,
// orchestration and the fallback reconciliation pass.
package service

import (
	"context"
	"errors"

	"github.com/storefront/orderedit/internal/gateway"
	"github.com/storefront/orderedit/internal/inventory"
	"github.com/storefront/orderedit/internal/repository"
	"github.com/storefront/orderedit/pkg/auth"
	domerrors "github.com/storefront/orderedit/pkg/errors"
)

// OrderReader 订单读取接口
type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (*repository.Order, error)
}

// AuthorizationReader 授权快照读取接口
type AuthorizationReader interface {
	Retrieve(ctx context.Context, authorizationID string) (*gateway.Authorization, error)
}

// StockReader 库存读取接口
type StockReader interface {
	GetVariantLevels(ctx context.Context, variantID string) ([]inventory.Level, error)
	GetVariant(ctx context.Context, variantID string) (*inventory.Variant, error)
}

// ModificationRequest 一次修改请求
type ModificationRequest struct {
	Operation string // OpAddItem / OpUpdateQuantity
	OrderID   string
	Token     string
	ItemID    string // update-quantity 必填
	VariantID string // add-item 必填
	Quantity  int64  // 目标数量（update）或新增数量（add）
	RequestID string
}

// ValidatedModification 通过校验后的快照，后续步骤只读它，不再查库
type ValidatedModification struct {
	Request       *ModificationRequest
	Claims        *auth.Claims
	Order         *repository.Order
	Item          *repository.LineItem // update-quantity
	Variant       *inventory.Variant   // add-item
	Authorization *gateway.Authorization
	OldQuantity   int64
	NewQuantity   int64
}

// Validator 前置校验器。只做两次只读外呼（订单、授权），可重复调用。
type Validator struct {
	tokens *auth.TokenManager
	orders OrderReader
	gw     AuthorizationReader
	stock  StockReader
}

func NewValidator(tokens *auth.TokenManager, orders OrderReader, gw AuthorizationReader, stock StockReader) *Validator {
	return &Validator{tokens: tokens, orders: orders, gw: gw, stock: stock}
}

// VerifyToken 校验令牌签名、有效期和订单绑定
func (v *Validator) VerifyToken(token, orderID string) (*auth.Claims, error) {
	claims, err := v.tokens.Verify(token)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			return nil, domerrors.New(domerrors.CodeTokenExpired, "modification token expired")
		default:
			return nil, domerrors.New(domerrors.CodeTokenInvalid, "modification token invalid")
		}
	}
	if claims.OrderID != orderID {
		return nil, domerrors.New(domerrors.CodeTokenMismatch, "modification token does not match order")
	}
	return claims, nil
}

// Validate 按固定顺序执行前置检查，任一失败立即返回。
// 顺序：令牌 → 绑定 → 订单存在 → pending → 行存在 → 授权 ID →
// requires_capture → capture 未在途 → 库存（仅数量增加时）。
func (v *Validator) Validate(ctx context.Context, req *ModificationRequest) (*ValidatedModification, error) {
	claims, err := v.VerifyToken(req.Token, req.OrderID)
	if err != nil {
		return nil, err
	}

	order, err := v.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, domerrors.Newf(domerrors.CodeOrderNotFound, "order %s not found", req.OrderID)
		}
		return nil, err
	}

	if order.Status != repository.StatusPending {
		return nil, domerrors.NewInvalidOrderState(order.ID, order.Status)
	}

	result := &ValidatedModification{
		Request:     req,
		Claims:      claims,
		Order:       order,
		NewQuantity: req.Quantity,
	}

	switch req.Operation {
	case OpUpdateQuantity:
		// 行数量不允许为负，减到 0 走的仍是 update，不是删除
		if req.Quantity < 0 {
			return nil, domerrors.Newf(domerrors.CodeInvalidParam, "quantity must not be negative, got %d", req.Quantity)
		}
		item := order.FindItem(req.ItemID)
		if item == nil {
			return nil, domerrors.Newf(domerrors.CodeLineItemNotFound, "line item %s not found on order %s", req.ItemID, req.OrderID)
		}
		result.Item = item
		result.OldQuantity = item.Quantity
	case OpAddItem:
		if req.Quantity <= 0 {
			return nil, domerrors.Newf(domerrors.CodeInvalidParam, "quantity must be positive, got %d", req.Quantity)
		}
		variant, err := v.stock.GetVariant(ctx, req.VariantID)
		if err != nil {
			return nil, domerrors.Newf(domerrors.CodeInvalidParam, "variant %s: %v", req.VariantID, err)
		}
		result.Variant = variant
		result.OldQuantity = 0
	default:
		return nil, domerrors.Newf(domerrors.CodeInvalidParam, "unknown operation %q", req.Operation)
	}

	authorizationID := order.AuthorizationID()
	if authorizationID == "" {
		return nil, domerrors.New(domerrors.CodePaymentIntentMissing, "order carries no authorization id")
	}

	authorization, err := v.gw.Retrieve(ctx, authorizationID)
	if err != nil {
		return nil, err
	}
	if authorization.Status != gateway.StatusRequiresCapture {
		return nil, domerrors.NewInvalidPaymentState(authorizationID, authorization.Status)
	}
	result.Authorization = authorization

	if order.LockedForCapture() {
		return nil, domerrors.New(domerrors.CodeOrderLocked, "a capture is already in flight for this order")
	}

	// 数量减少是释放库存，跳过库存检查
	increase := result.NewQuantity - result.OldQuantity
	if increase > 0 {
		variantID := req.VariantID
		if result.Item != nil {
			variantID = result.Item.VariantID
		}
		levels, err := v.stock.GetVariantLevels(ctx, variantID)
		if err != nil {
			return nil, err
		}
		available := inventory.Available(levels)
		if available < increase {
			return nil, domerrors.NewInsufficientStock(variantID, available, increase)
		}
	}

	return result, nil
}
