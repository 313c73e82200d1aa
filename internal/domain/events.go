/**
 * @description
 * This file defines the event payloads exchanged with other services over
 * RabbitMQ. The delivery-service consumes order fulfillment events and
 * publishes advisory abuse signals.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderPaymentCompletedEvent is published by the order system when an
// order's payment status transitions to completed. It triggers issuance.
type OrderPaymentCompletedEvent struct {
	OrderID     uuid.UUID   `json:"order_id"`
	OrderItemID uuid.UUID   `json:"order_item_id"`
	FileIDs     []uuid.UUID `json:"file_ids"`
	OccurredAt  time.Time   `json:"occurred_at"`
}

// AbuseSignalEvent is published on the advisory channel when a token's
// redemption pattern crosses the sharing threshold. Consumers (support and
// admin tooling) decide what, if anything, to do about it.
type AbuseSignalEvent struct {
	Token           string    `json:"token"`
	OrderID         uuid.UUID `json:"order_id"`
	DistinctOrigins int       `json:"distinct_origins"`
	Threshold       int       `json:"threshold"`
	WindowStart     time.Time `json:"window_start"`
	WindowEnd       time.Time `json:"window_end"`
	DetectedAt      time.Time `json:"detected_at"`
}
