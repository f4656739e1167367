package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Stripe expects amounts in the smallest currency unit.
var centsPerUnit = decimal.NewFromInt(100)

// StripeProvider drives Stripe Checkout Sessions. The transaction ID travels
// as both client_reference_id and metadata so inbound webhooks can be mapped
// back without relying on Stripe's own identifiers.
type StripeProvider struct {
	webhookSecret string
}

func NewStripeProvider(secretKey, webhookSecret string) (*StripeProvider, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	stripe.Key = secretKey

	return &StripeProvider{webhookSecret: webhookSecret}, nil
}

func (p *StripeProvider) Name() string {
	return "stripe"
}

func (p *StripeProvider) CreateCheckout(ctx context.Context, req *CheckoutRequest) (*Checkout, error) {
	if req == nil {
		return nil, fmt.Errorf("checkout request is required")
	}

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.LineItems))
	for _, li := range req.LineItems {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(li.Quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(li.UnitAmount.Mul(centsPerUnit).IntPart()),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(li.Name),
				},
			},
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.Reference),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.FailureURL),
		LineItems:         lineItems,
		Metadata:          map[string]string{"transaction_id": req.Reference},
	}
	params.Context = ctx

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	return &Checkout{ProviderID: sess.ID, URL: sess.URL}, nil
}

func (p *StripeProvider) ParseNotification(payload []byte, header http.Header) (*Notification, error) {
	event, err := webhook.ConstructEvent(payload, header.Get("Stripe-Signature"), p.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to verify webhook signature: %w", err)
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		return p.toNotification(event, OutcomeApproved)
	case "checkout.session.expired", "checkout.session.async_payment_failed":
		return p.toNotification(event, OutcomeRejected)
	default:
		return nil, ErrUnhandledNotification
	}
}

func (p *StripeProvider) toNotification(event stripe.Event, outcome Outcome) (*Notification, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse checkout session: %w", err)
	}

	reference := sess.ClientReferenceID
	if reference == "" {
		reference = sess.Metadata["transaction_id"]
	}
	if reference == "" {
		return nil, fmt.Errorf("notification %s carries no transaction reference", event.ID)
	}

	// A completed session that is still unpaid settles later through the
	// async payment events.
	if event.Type == "checkout.session.completed" && sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		return nil, ErrUnhandledNotification
	}

	return &Notification{ID: event.ID, Reference: reference, Outcome: outcome}, nil
}
