package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type InstanceStatus string

const (
	InstanceStatusAvailable InstanceStatus = "AVAILABLE"
	InstanceStatusReserved  InstanceStatus = "RESERVED"
	InstanceStatusIssued    InstanceStatus = "ISSUED"
	InstanceStatusLost      InstanceStatus = "LOST"
	InstanceStatusCancelled InstanceStatus = "CANCELLED"
)

// Terminal reports whether an instance can never return to the sellable pool.
func (s InstanceStatus) Terminal() bool {
	return s == InstanceStatusLost || s == InstanceStatusCancelled
}

type TicketInstance struct {
	ID             string
	TicketTypeID   string
	EventID        string
	Status         InstanceStatus
	HolderUserID   *string
	SequenceNumber int
	Metadata       map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type TicketType struct {
	ID        string
	EventID   string
	SellerID  string
	Name      string
	UnitPrice decimal.Decimal
	Currency  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TicketTypeAvailability pairs a ticket type with its live count of
// instances still in AVAILABLE state.
type TicketTypeAvailability struct {
	TicketType
	Available int
}
