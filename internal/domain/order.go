/**
 * @description
 * This file defines the read-only order models the delivery-service depends
 * on. Orders are owned by the storefront's order system; this service only
 * inspects payment state and buyer identity, it never writes to them.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus is the payment state of an order as recorded by the order
// system. Entitlements are only honored while the status is "completed".
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// ItemKind distinguishes the catalog a purchased line item references.
// Product items deliver files; service items have no downloadable payload.
type ItemKind string

const (
	ItemKindProduct ItemKind = "product"
	ItemKindService ItemKind = "service"
)

// Order is the subset of an order record this service reads. BuyerID holds
// the external auth subject of the purchaser (the JWT `sub` claim).
type Order struct {
	ID            uuid.UUID     `json:"id"`
	BuyerID       string        `json:"buyer_id"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	CreatedAt     time.Time     `json:"created_at"`
}

// OrderItem is one purchased line. The Kind/CatalogID pair is a tagged
// variant: issuers match on Kind instead of probing fields.
type OrderItem struct {
	ID        uuid.UUID `json:"id"`
	OrderID   uuid.UUID `json:"order_id"`
	Kind      ItemKind  `json:"kind"`
	CatalogID uuid.UUID `json:"catalog_id"`
}

// IsPayable reports whether the order's payment state permits issuing or
// honoring entitlements.
func (o *Order) IsPayable() bool {
	return o.PaymentStatus == PaymentCompleted
}
