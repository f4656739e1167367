package domain

import "errors"

var (
	// ErrInvalidLineItem rejects a purchase before any store mutation:
	// unknown ticket type, wrong event, or non-positive quantity.
	ErrInvalidLineItem = errors.New("invalid line item")

	// ErrInsufficientInventory is the legitimate contention outcome: not
	// enough AVAILABLE instances to satisfy a line item.
	ErrInsufficientInventory = errors.New("insufficient inventory")

	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTicketTypeNotFound  = errors.New("ticket type not found")

	// ErrSettlementInconsistency means the finalize step could not be
	// applied to every claimed instance; the transaction is kept PENDING
	// so the provider retry can settle it again.
	ErrSettlementInconsistency = errors.New("settlement inconsistency")
)
