package service

import "fmt"

// Modification operations, also the first segment of the idempotency key.
const (
	OpAddItem        = "add-item"
	OpUpdateQuantity = "update-quantity"
	OpCancel         = "cancel"
)

// IdempotencyKey derives the gateway idempotency key from stable request
// identifiers: "<operation>-<orderId>-<itemOrVariantId>-<quantity>-<requestId>".
// It is a pure function of its inputs. No wall-clock input, ever: time-based
// keys caused duplicate authorization changes on retry. Two submissions with
// different request ids are different logical attempts.
func IdempotencyKey(operation, orderID, itemOrVariantID string, quantity int64, requestID string) string {
	return fmt.Sprintf("%s-%s-%s-%d-%s", operation, orderID, itemOrVariantID, quantity, requestID)
}
