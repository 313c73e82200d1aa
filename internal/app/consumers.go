/**
 * @description
 * This file contains the event handler that processes order fulfillment
 * messages from the RabbitMQ queue. When the order system reports a payment
 * transition to completed, the handler issues the entitlements for the
 * fulfilled order item.
 *
 * @notes
 * - Malformed payloads are acknowledged and dropped; they can never succeed
 *   on retry.
 * - Business rejections (unpaid order, no deliverable files) are terminal
 *   for the message and are acknowledged.
 * - Store faults are not acknowledged so the broker redelivers the event.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/kitestore/delivery-service/internal/domain"
)

// FulfillmentEventHandler processes order.payment.completed events.
type FulfillmentEventHandler struct {
	service *Service
}

// NewFulfillmentEventHandler creates a new instance of FulfillmentEventHandler.
func NewFulfillmentEventHandler(service *Service) *FulfillmentEventHandler {
	return &FulfillmentEventHandler{service: service}
}

// HandleOrderPaymentCompleted is the callback that processes one fulfillment
// event. It returns whether the message should be acknowledged.
func (h *FulfillmentEventHandler) HandleOrderPaymentCompleted(body []byte) bool {
	var event domain.OrderPaymentCompletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("Error unmarshaling order.payment.completed event: %v", err)
		return true // Acknowledge, a malformed message cannot be retried.
	}

	log.Printf("Processing order.payment.completed event for order %s item %s (%d files)",
		event.OrderID, event.OrderItemID, len(event.FileIDs))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entitlements, err := h.service.IssueForOrderItem(ctx, event.OrderID, event.OrderItemID, event.FileIDs)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrOrderNotPayable),
			errors.Is(err, domain.ErrNoDeliverableFiles),
			errors.Is(err, domain.ErrOrderNotFound):
			// Terminal for this message; redelivery cannot change the outcome.
			log.Printf("Dropping fulfillment event for order %s: %v", event.OrderID, err)
			return true
		default:
			log.Printf("ERROR: failed to issue entitlements for order %s: %v", event.OrderID, err)
			return false // Nack so the broker redelivers.
		}
	}

	log.Printf("Issued %d entitlement(s) for order %s item %s", len(entitlements), event.OrderID, event.OrderItemID)
	return true
}
