package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionStatusPending TransactionStatus = "PENDING"
	TransactionStatusPaid    TransactionStatus = "PAID"
	TransactionStatusFailed  TransactionStatus = "FAILED"
)

// Terminal reports whether the status can never change again.
// PENDING -> PAID and PENDING -> FAILED are the only legal transitions.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionStatusPaid || s == TransactionStatusFailed
}

type LineItem struct {
	TicketTypeID string          `json:"ticket_type_id"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
}

// Transaction is one purchase attempt. ClaimedInstanceIDs is fixed at
// creation and recorded for audit; the instances' own status stays the
// authority for availability.
type Transaction struct {
	ID                 string
	BuyerUserID        string
	SellerID           string
	EventID            string
	LineItems          []LineItem
	ClaimedInstanceIDs []string
	TotalValue         decimal.Decimal
	Currency           string
	Status             TransactionStatus
	GatewayReference   *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (t *Transaction) Quantity() int {
	total := 0
	for _, li := range t.LineItems {
		total += li.Quantity
	}
	return total
}
