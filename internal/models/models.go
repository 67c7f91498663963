package models

import (
	"time"

	"github.com/lib/pq"
)

// Region identifies which regional storefront a row belongs to.
type Region string

const (
	RegionUS Region = "us"
	RegionEU Region = "eu"
)

// Valid reports whether r is a known region.
func (r Region) Valid() bool {
	return r == RegionUS || r == RegionEU
}

// Other returns the twin region.
func (r Region) Other() Region {
	if r == RegionUS {
		return RegionEU
	}
	return RegionUS
}

// OrderStatus is the closed set of order states.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusAwaitingCapture OrderStatus = "awaiting_capture"
	OrderStatusPaid            OrderStatus = "paid"
	OrderStatusShipped         OrderStatus = "shipped"
	OrderStatusDelivered       OrderStatus = "delivered"
	OrderStatusPaymentFailed   OrderStatus = "payment_failed"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRefunded        OrderStatus = "refunded"
)

// Terminal reports whether no further transition can leave s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusPaymentFailed, OrderStatusRefunded:
		return true
	}
	return false
}

// PaymentStatus is the closed set of payment states.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// StockOp records which ledger operation has already been applied for an
// order, making Confirm/Release/Restore idempotent per order.
type StockOp string

const (
	StockOpNone      StockOp = "none"
	StockOpReserved  StockOp = "reserved"
	StockOpConfirmed StockOp = "confirmed"
	StockOpReleased  StockOp = "released"
	StockOpRestored  StockOp = "restored"
)

// EventOutcome is the recorded result of processing one gateway event.
type EventOutcome string

const (
	OutcomeProcessed EventOutcome = "processed"
	OutcomeIgnored   EventOutcome = "ignored"
	OutcomeConflict  EventOutcome = "conflict"
	OutcomeFailed    EventOutcome = "failed"
)

// Product is a region-specific catalog row. PairingID, when set, links it to
// exactly one twin in the other region; the twins share catalog fields but
// never stock.
type Product struct {
	ID             int64      `db:"id" json:"id"`
	SKU            string     `db:"sku" json:"sku"`
	Name           string     `db:"name" json:"name"`
	Description    string     `db:"description" json:"description"`
	Price          int64      `db:"price" json:"price"`
	ImageURL       string     `db:"image_url" json:"image_url"`
	StockQuantity  int        `db:"stock_quantity" json:"stock_quantity"`
	AllowBackorder bool       `db:"allow_backorder" json:"allow_backorder"`
	Region         Region     `db:"region" json:"region"`
	PairingID      *string    `db:"pairing_id" json:"pairing_id,omitempty"`
	DeletedAt      *time.Time `db:"deleted_at" json:"-"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// ProductVariation is a named axis (e.g. "Color") owned by a product.
type ProductVariation struct {
	ID        int64  `db:"id" json:"id"`
	ProductID int64  `db:"product_id" json:"product_id"`
	Name      string `db:"name" json:"name"`
	Position  int    `db:"position" json:"position"`
}

// VariationOption is one choice on a variation axis. An option that opts into
// stock tracking carries its own counters; available is always derived from
// stock minus reserved, never stored.
type VariationOption struct {
	ID                int64  `db:"id" json:"id"`
	VariationID       int64  `db:"variation_id" json:"variation_id"`
	ProductID         int64  `db:"product_id" json:"product_id"`
	Value             string `db:"value" json:"value"`
	Position          int    `db:"position" json:"position"`
	TrackStock        bool   `db:"track_stock" json:"track_stock"`
	StockQuantity     int    `db:"stock_quantity" json:"stock_quantity"`
	ReservedQuantity  int    `db:"reserved_quantity" json:"reserved_quantity"`
	LowStockThreshold int    `db:"low_stock_threshold" json:"low_stock_threshold"`
}

// Available is the quantity still open to new reservations.
func (o *VariationOption) Available() int {
	return o.StockQuantity - o.ReservedQuantity
}

// Order is the aggregate root driven by the state machine. Totals are frozen
// once the order reaches paid, except for refund adjustments.
type Order struct {
	ID              int64         `db:"id" json:"id"`
	OrderNumber     string        `db:"order_number" json:"order_number"`
	Status          OrderStatus   `db:"status" json:"status"`
	PaymentStatus   PaymentStatus `db:"payment_status" json:"payment_status"`
	StockOp         StockOp       `db:"stock_op" json:"-"`
	Region          Region        `db:"region" json:"region"`
	CustomerEmail   string        `db:"customer_email" json:"customer_email"`
	ShippingAddress string        `db:"shipping_address" json:"shipping_address"`
	Subtotal        int64         `db:"subtotal" json:"subtotal"`
	Tax             int64         `db:"tax" json:"tax"`
	Shipping        int64         `db:"shipping" json:"shipping"`
	Discount        int64         `db:"discount" json:"discount"`
	Total           int64         `db:"total" json:"total"`
	CouponCode      *string       `db:"coupon_code" json:"coupon_code,omitempty"`
	IdempotencyKey  string        `db:"idempotency_key" json:"-"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// OrderItem snapshots a purchased line. UnitPrice is frozen at order time and
// independent of later catalog price changes.
type OrderItem struct {
	ID        int64         `db:"id" json:"id"`
	OrderID   int64         `db:"order_id" json:"order_id"`
	ProductID int64         `db:"product_id" json:"product_id"`
	OptionIDs pq.Int64Array `db:"option_ids" json:"option_ids"`
	Quantity  int           `db:"quantity" json:"quantity"`
	UnitPrice int64         `db:"unit_price" json:"unit_price"`
}

// Payment is one gateway transaction for an order. GatewayTxID is unique.
type Payment struct {
	ID            int64         `db:"id" json:"id"`
	OrderID       int64         `db:"order_id" json:"order_id"`
	GatewayTxID   string        `db:"gateway_tx_id" json:"gateway_tx_id"`
	Status        PaymentStatus `db:"status" json:"status"`
	Amount        int64         `db:"amount" json:"amount"`
	FailureReason string        `db:"failure_reason" json:"failure_reason,omitempty"`
	CompletedAt   *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
}

// Refund records a gateway refund against a payment.
type Refund struct {
	ID              int64     `db:"id" json:"id"`
	PaymentID       int64     `db:"payment_id" json:"payment_id"`
	OrderID         int64     `db:"order_id" json:"order_id"`
	GatewayRefundID string    `db:"gateway_refund_id" json:"gateway_refund_id"`
	Amount          int64     `db:"amount" json:"amount"`
	Status          string    `db:"status" json:"status"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// WebhookEvent is the dedup ledger row for one gateway delivery. The row is
// written inside the same transaction as the mutation it drives, so a rollback
// leaves the event unrecorded and safely retryable.
type WebhookEvent struct {
	ID             int64        `db:"id" json:"id"`
	GatewayEventID string       `db:"gateway_event_id" json:"gateway_event_id"`
	EventType      string       `db:"event_type" json:"event_type"`
	RawPayload     []byte       `db:"raw_payload" json:"-"`
	Outcome        EventOutcome `db:"outcome" json:"outcome"`
	Detail         string       `db:"detail" json:"detail,omitempty"`
	ProcessedAt    time.Time    `db:"processed_at" json:"processed_at"`
}

// StockAdjustment is the audit row behind manual stock corrections.
type StockAdjustment struct {
	ID        int64     `db:"id" json:"id"`
	OptionID  int64     `db:"option_id" json:"option_id"`
	Delta     int       `db:"delta" json:"delta"`
	Reason    string    `db:"reason" json:"reason"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// StockSummary is the admin view of a product's stock. Mismatch flags the
// non-fatal divergence between the option-level sum and the top-level counter;
// the two are maintained independently and reconciled manually.
type StockSummary struct {
	ProductID      int64             `json:"product_id"`
	TopLevelStock  int               `json:"top_level_stock"`
	OptionStockSum int               `json:"option_stock_sum"`
	Mismatch       bool              `json:"mismatch"`
	Options        []VariationOption `json:"options"`
}
