package order

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// Order is the subset of the order aggregate the payment core reads and writes.
type Order struct {
	ID              int64
	Code            string
	Payer           string
	TotalAmount     decimal.Decimal
	Status          Status
	Items           []LineItem
	MerchantTransID string
	ProviderTransID string
	PaidAt          *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LineItem is one purchased product line.
type LineItem struct {
	ProductID int64
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// Status represents order status
type Status string

const (
	StatusPending          Status = "PENDING"
	StatusConfirmed        Status = "CONFIRMED"
	StatusPreparing        Status = "PREPARING"
	StatusShipping         Status = "SHIPPING"
	StatusDelivered        Status = "DELIVERED"
	StatusCancelled        Status = "CANCELLED"
	StatusRefundPending    Status = "REFUND_PENDING"
	StatusRefundProcessing Status = "REFUND_PROCESSING"
	StatusRefunded         Status = "REFUNDED"
	StatusRefundFailed     Status = "REFUND_FAILED"
)

// transitions is the full set of legal status moves. Anything absent is illegal.
var transitions = map[Status][]Status{
	StatusPending:          {StatusConfirmed, StatusCancelled},
	StatusConfirmed:        {StatusPreparing, StatusCancelled, StatusRefundPending},
	StatusPreparing:        {StatusShipping, StatusCancelled, StatusRefundPending},
	StatusShipping:         {StatusDelivered},
	StatusDelivered:        {StatusRefundPending},
	StatusRefundPending:    {StatusRefundProcessing},
	StatusRefundProcessing: {StatusRefunded, StatusRefundFailed},
}

// refundable lists the statuses from which a new refund may start.
// REFUNDED stays here so a partially refunded order can refund its remainder.
var refundable = map[Status]bool{
	StatusConfirmed: true,
	StatusPreparing: true,
	StatusDelivered: true,
	StatusRefunded:  true,
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the core never moves an order out of s.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusRefunded || s == StatusRefundFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusShipping, StatusDelivered,
		StatusCancelled, StatusRefundPending, StatusRefundProcessing, StatusRefunded, StatusRefundFailed:
		return true
	}
	return false
}

// AllowsRefund reports whether a refund may be requested in status s.
func (s Status) AllowsRefund() bool {
	return refundable[s]
}

// TransitionTo moves the order to status to, or fails with ErrInvalidTransition.
func (o *Order) TransitionTo(to Status, now time.Time) error {
	if !CanTransition(o.Status, to) {
		return DomainError{
			Code:    ErrCodeInvalidTransition,
			Message: fmt.Sprintf("order %d cannot move from %s to %s", o.ID, o.Status, to),
		}
	}
	o.Status = to
	o.UpdatedAt = now
	return nil
}

// MarkRefunded walks the order through REFUND_PENDING and REFUND_PROCESSING to
// REFUNDED. An order that is already REFUNDED is left untouched.
func (o *Order) MarkRefunded(now time.Time) error {
	if o.Status == StatusRefunded {
		return nil
	}
	// Validate the whole walk before mutating so a failure leaves the order as it was.
	path := []Status{StatusRefundPending, StatusRefundProcessing, StatusRefunded}
	from := o.Status
	for _, to := range path {
		if !CanTransition(from, to) {
			return DomainError{
				Code:    ErrCodeInvalidTransition,
				Message: fmt.Sprintf("order %d cannot be refunded from %s", o.ID, o.Status),
			}
		}
		from = to
	}
	for _, to := range path {
		if err := o.TransitionTo(to, now); err != nil {
			return err
		}
	}
	return nil
}

// BindProviderTransaction records the provider settlement id. Binding the same
// id again reports changed=false. A different id on an already bound order is
// ErrBindingConflict and leaves the order untouched.
func (o *Order) BindProviderTransaction(providerTransID string, now time.Time) (changed bool, err error) {
	if !ValidProviderTransID(providerTransID) {
		return false, DomainError{
			Code:    ErrCodeInvalidProviderTransID,
			Message: fmt.Sprintf("malformed provider transaction id %q", providerTransID),
		}
	}
	if o.ProviderTransID == providerTransID {
		return false, nil
	}
	if o.ProviderTransID != "" {
		return false, DomainError{
			Code:    ErrCodeBindingConflict,
			Message: fmt.Sprintf("order %d already bound to %s, refusing %s", o.ID, o.ProviderTransID, providerTransID),
		}
	}

	o.ProviderTransID = providerTransID
	o.PaidAt = &now
	o.UpdatedAt = now
	if o.Status == StatusPending {
		o.Status = StatusConfirmed
	}
	return true, nil
}

var providerTransIDPattern = regexp.MustCompile(`^[0-9]{1,20}$`)

// ValidProviderTransID reports whether id looks like a provider zp_trans_id.
func ValidProviderTransID(id string) bool {
	return providerTransIDPattern.MatchString(id)
}

// Clone returns a deep copy so stores can hand out orders without aliasing.
func (o *Order) Clone() *Order {
	c := *o
	if o.Items != nil {
		c.Items = append([]LineItem(nil), o.Items...)
	}
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	return &c
}

// DomainError represents a domain-level error
type DomainError struct {
	Message string
	Code    string
}

func (e DomainError) Error() string {
	return fmt.Sprintf("domain error [%s]: %s", e.Code, e.Message)
}

// Is matches on Code so callers can compare against the Err* values.
func (e DomainError) Is(target error) bool {
	t, ok := target.(DomainError)
	return ok && t.Code == e.Code
}

// Domain error codes
const (
	ErrCodeInvalidTransition      = "INVALID_TRANSITION"
	ErrCodeBindingConflict        = "BINDING_CONFLICT"
	ErrCodeInvalidProviderTransID = "INVALID_PROVIDER_TRANS_ID"
)

var (
	ErrInvalidTransition      = DomainError{Code: ErrCodeInvalidTransition}
	ErrBindingConflict        = DomainError{Code: ErrCodeBindingConflict}
	ErrInvalidProviderTransID = DomainError{Code: ErrCodeInvalidProviderTransID}
)
