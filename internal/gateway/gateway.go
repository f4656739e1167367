package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"
)

type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

// ErrUnhandledNotification marks provider events that carry no settlement
// decision; callers acknowledge and drop them.
var ErrUnhandledNotification = errors.New("unhandled gateway notification")

type CheckoutLineItem struct {
	Name       string
	Quantity   int64
	UnitAmount decimal.Decimal
}

// CheckoutRequest prices a cart for the provider. Reference carries the
// transaction ID and must come back on every settlement notification; it is
// the only correlation key the settlement handler trusts.
type CheckoutRequest struct {
	Reference  string
	Currency   string
	Total      decimal.Decimal
	LineItems  []CheckoutLineItem
	SuccessURL string
	PendingURL string
	FailureURL string
}

type Checkout struct {
	ProviderID string
	URL        string
}

type Notification struct {
	ID        string
	Reference string
	Outcome   Outcome
}

// CheckoutProvider is the external payment boundary. Provider-specific
// payload parsing lives entirely behind ParseNotification; the settlement
// state machine only ever sees a Notification.
type CheckoutProvider interface {
	Name() string
	CreateCheckout(ctx context.Context, req *CheckoutRequest) (*Checkout, error)
	ParseNotification(payload []byte, header http.Header) (*Notification, error)
}
