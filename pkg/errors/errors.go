// Package errors 定义统一错误码
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code 错误码
type Code string

// 错误码定义
const (
	// 通用错误
	CodeOK           Code = "OK"
	CodeUnknown      Code = "UNKNOWN"
	CodeInvalidParam Code = "INVALID_PARAM"
	CodeNotFound     Code = "NOT_FOUND"
	CodeInternal     Code = "INTERNAL"
	CodeUnavailable  Code = "UNAVAILABLE"
	CodeTimeout      Code = "TIMEOUT"

	// 修改令牌
	CodeTokenExpired  Code = "TOKEN_EXPIRED"
	CodeTokenInvalid  Code = "TOKEN_INVALID"
	CodeTokenMismatch Code = "TOKEN_MISMATCH"

	// 订单状态
	CodeOrderNotFound       Code = "ORDER_NOT_FOUND"
	CodeInvalidOrderState   Code = "INVALID_ORDER_STATE"
	CodeLineItemNotFound    Code = "LINE_ITEM_NOT_FOUND"
	CodeOrderLocked         Code = "ORDER_LOCKED"
	CodeInsufficientStock   Code = "INSUFFICIENT_STOCK"
	CodePaymentIntentMissing Code = "PAYMENT_INTENT_MISSING"
	CodeInvalidPaymentState Code = "INVALID_PAYMENT_STATE"

	// 支付网关
	CodeCardDeclined        Code = "CARD_DECLINED"
	CodeIdempotencyConflict Code = "IDEMPOTENCY_CONFLICT"
	CodeGatewayUnavailable  Code = "GATEWAY_UNAVAILABLE"

	// 取消
	CodePartialCapture Code = "PARTIAL_CAPTURE"
	CodeLateCancel     Code = "LATE_CANCEL"

	// 一致性错误，必须人工介入
	CodeAuthMismatch     Code = "AUTH_MISMATCH"
	CodeQueueRemoval     Code = "QUEUE_REMOVAL_FAILED"
	CodeQueueUnavailable Code = "QUEUE_UNAVAILABLE"
)

// Error 业务错误
type Error struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	RequestID string `json:"requestId,omitempty"`

	// 结构化上下文，由对应构造函数填充
	OrderID         string `json:"orderId,omitempty"`
	AuthorizationID string `json:"authorizationId,omitempty"`
	VariantID       string `json:"variantId,omitempty"`
	Available       int64  `json:"available,omitempty"`
	Requested       int64  `json:"requested,omitempty"`
	DeclineCode     string `json:"declineCode,omitempty"`
	AttemptedAmount int64  `json:"attemptedAmount,omitempty"`
	CurrentState    string `json:"currentState,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// New 创建错误
func New(code Code, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: isRetryable(code),
	}
}

// Newf 创建格式化错误
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// WithRequestID 添加请求 ID
func (e *Error) WithRequestID(requestID string) *Error {
	e.RequestID = requestID
	return e
}

// NewInsufficientStock 库存不足，携带精确的可用/请求数量
func NewInsufficientStock(variantID string, available, requested int64) *Error {
	e := Newf(CodeInsufficientStock, "insufficient stock for variant %s: available %d, requested %d", variantID, available, requested)
	e.VariantID = variantID
	e.Available = available
	e.Requested = requested
	return e
}

// NewCardDeclined 卡被拒绝，message 为面向用户的文案
func NewCardDeclined(declineCode, message string, retryable bool) *Error {
	e := New(CodeCardDeclined, message)
	e.DeclineCode = declineCode
	e.Retryable = retryable
	return e
}

// NewAuthMismatch 外部授权金额已变更但本地提交失败
func NewAuthMismatch(orderID, authorizationID string, attemptedAmount int64) *Error {
	e := Newf(CodeAuthMismatch, "authorization amount updated but local commit failed for order %s", orderID)
	e.OrderID = orderID
	e.AuthorizationID = authorizationID
	e.AttemptedAmount = attemptedAmount
	return e
}

// NewInvalidOrderState 订单状态不允许修改
func NewInvalidOrderState(orderID, current string) *Error {
	e := Newf(CodeInvalidOrderState, "order %s is %s, only pending orders can be modified", orderID, current)
	e.OrderID = orderID
	e.CurrentState = current
	return e
}

// NewInvalidPaymentState 授权状态不允许调整
func NewInvalidPaymentState(authorizationID, current string) *Error {
	e := Newf(CodeInvalidPaymentState, "authorization %s is %s, expected requires_capture", authorizationID, current)
	e.AuthorizationID = authorizationID
	e.CurrentState = current
	return e
}

// HTTPStatus 返回对应的 HTTP 状态码
func (e *Error) HTTPStatus() int {
	return httpStatus(e.Code)
}

// AsError 提取业务错误
func AsError(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is 判断错误码
func Is(err error, code Code) bool {
	if e, ok := AsError(err); ok {
		return e.Code == code
	}
	return false
}

// isRetryable 判断是否可重试
func isRetryable(code Code) bool {
	switch code {
	case CodeTimeout, CodeUnavailable, CodeGatewayUnavailable, CodeQueueUnavailable:
		return true
	default:
		return false
	}
}

// httpStatus 错误码对应的 HTTP 状态码
func httpStatus(code Code) int {
	switch code {
	case CodeOK:
		return http.StatusOK
	case CodeInvalidParam:
		return http.StatusBadRequest
	case CodeTokenExpired, CodeTokenInvalid:
		return http.StatusUnauthorized
	case CodeTokenMismatch:
		return http.StatusForbidden
	case CodeCardDeclined:
		return http.StatusPaymentRequired
	case CodeNotFound, CodeOrderNotFound, CodeLineItemNotFound:
		return http.StatusNotFound
	case CodeInsufficientStock, CodeOrderLocked, CodePartialCapture, CodeIdempotencyConflict:
		return http.StatusConflict
	case CodeInvalidOrderState, CodeInvalidPaymentState, CodePaymentIntentMissing, CodeLateCancel:
		return http.StatusUnprocessableEntity
	case CodeAuthMismatch, CodeInternal, CodeUnknown:
		return http.StatusInternalServerError
	case CodeQueueRemoval, CodeQueueUnavailable, CodeUnavailable, CodeGatewayUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// 预定义错误
var (
	ErrOrderNotFound        = New(CodeOrderNotFound, "order not found")
	ErrLineItemNotFound     = New(CodeLineItemNotFound, "line item not found on order")
	ErrTokenExpired         = New(CodeTokenExpired, "modification token expired")
	ErrTokenInvalid         = New(CodeTokenInvalid, "modification token invalid")
	ErrTokenMismatch        = New(CodeTokenMismatch, "modification token does not match order")
	ErrPaymentIntentMissing = New(CodePaymentIntentMissing, "order carries no authorization id")
	ErrOrderLocked          = New(CodeOrderLocked, "a capture is already in flight for this order")
	ErrIdempotencyConflict  = New(CodeIdempotencyConflict, "idempotency key already used with different parameters")
)
