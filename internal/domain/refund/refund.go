package refund

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one refund request against an order.
type Transaction struct {
	ID            int64
	OrderID       int64
	RefundID      string
	Amount        decimal.Decimal
	Description   string
	Status        Status
	ReturnCode    *int
	ReturnMessage string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ProcessedAt   *time.Time
}

// Status represents the refund lifecycle state
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
)

// IsTerminal reports whether s is SUCCESS or FAILED. Terminal states are sticky.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// InFlight reports whether a refund in s may still move money.
func (s Status) InFlight() bool {
	return s == StatusPending || s == StatusProcessing
}

// New creates a PENDING refund ready to be written ahead of the provider call.
func New(orderID int64, refundID string, amount decimal.Decimal, description string, now time.Time) (*Transaction, error) {
	if orderID <= 0 {
		return nil, fmt.Errorf("invalid order ID: %d", orderID)
	}
	if strings.TrimSpace(refundID) == "" {
		return nil, fmt.Errorf("refund ID is required")
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("refund amount must be positive: %s", amount)
	}
	return &Transaction{
		OrderID:     orderID,
		RefundID:    refundID,
		Amount:      amount,
		Description: description,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Apply records a provider observation. It returns false and changes nothing
// when the refund is already terminal; otherwise the status, code and message
// are overwritten and ProcessedAt is stamped on reaching a terminal state.
func (t *Transaction) Apply(status Status, code *int, message string, now time.Time) bool {
	if t.Status.IsTerminal() {
		return false
	}
	t.Status = status
	t.ReturnCode = code
	t.ReturnMessage = message
	t.UpdatedAt = now
	if status.IsTerminal() {
		t.ProcessedAt = &now
	}
	return true
}

// Clone returns a copy that shares no pointers with t.
func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.ReturnCode != nil {
		v := *t.ReturnCode
		c.ReturnCode = &v
	}
	if t.ProcessedAt != nil {
		p := *t.ProcessedAt
		c.ProcessedAt = &p
	}
	return &c
}

// Totals splits an order's refunds into settled and reserved amounts.
type Totals struct {
	Succeeded decimal.Decimal
	InFlight  decimal.Decimal
}

// Committed is everything that has left or may still leave the merchant.
func (t Totals) Committed() decimal.Decimal {
	return t.Succeeded.Add(t.InFlight)
}

// Sum totals refunds by state.
func Sum(txs []*Transaction) Totals {
	totals := Totals{Succeeded: decimal.Zero, InFlight: decimal.Zero}
	for _, tx := range txs {
		switch {
		case tx.Status == StatusSuccess:
			totals.Succeeded = totals.Succeeded.Add(tx.Amount)
		case tx.Status.InFlight():
			totals.InFlight = totals.InFlight.Add(tx.Amount)
		}
	}
	return totals
}
