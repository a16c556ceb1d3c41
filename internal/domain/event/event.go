package event

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Event is a lifecycle notification emitted after a state change commits.
type Event struct {
	ID              string    `json:"id"`
	Type            Type      `json:"type"`
	OrderID         int64     `json:"order_id"`
	RefundID        string    `json:"refund_id,omitempty"`
	MerchantTransID string    `json:"merchant_trans_id,omitempty"`
	ProviderTransID string    `json:"provider_trans_id,omitempty"`
	Amount          string    `json:"amount,omitempty"`
	Status          string    `json:"status"`
	Message         string    `json:"message,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Type represents different kinds of lifecycle events
type Type string

const (
	TypePaymentBound    Type = "payment.bound"
	TypeRefundSucceeded Type = "refund.succeeded"
	TypeRefundFailed    Type = "refund.failed"
)

// New stamps a fresh id and time on an event of the given type.
func New(t Type, orderID int64, now time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		OrderID:    orderID,
		OccurredAt: now,
	}
}

// Key is the partitioning key, so events for one order stay ordered.
func (e Event) Key() string {
	return strconv.FormatInt(e.OrderID, 10)
}
