package purchase

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/ticketon/ticketon/internal/domain"
	"github.com/ticketon/ticketon/internal/gateway"
	"github.com/ticketon/ticketon/internal/kafka"
	"github.com/ticketon/ticketon/internal/metrics"
	"github.com/ticketon/ticketon/internal/repository"
)

type PurchaseUseCase interface {
	BeginPurchase(ctx context.Context, input BeginPurchaseInput) (*Result, error)
	DirectAssign(ctx context.Context, input BeginPurchaseInput) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
}

type Cache interface {
	InvalidateAvailability(ctx context.Context, eventID string) error
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type PurchaseService struct {
	instances          repository.TicketInstanceRepository
	types              repository.TicketTypeRepository
	transactions       repository.TransactionRepository
	provider           gateway.CheckoutProvider
	cache              Cache
	producer           Producer
	purchaseTopic      string
	notificationsTopic string
	redirectBaseURL    string
}

type LineItemInput struct {
	TicketTypeID string           `json:"ticket_type_id"`
	Quantity     int              `json:"quantity"`
	UnitPrice    *decimal.Decimal `json:"unit_price,omitempty"`
}

type BeginPurchaseInput struct {
	BuyerUserID string          `json:"buyer_user_id"`
	EventID     string          `json:"event_id"`
	LineItems   []LineItemInput `json:"line_items"`
}

// Result pairs the pending transaction with the provider checkout handle the
// buyer is redirected to.
type Result struct {
	Transaction *domain.Transaction
	CheckoutURL string
}

type PurchaseServiceOption func(*PurchaseService)

func WithNotificationsTopic(topic string) PurchaseServiceOption {
	return func(s *PurchaseService) {
		s.notificationsTopic = topic
	}
}

func NewPurchaseService(
	instances repository.TicketInstanceRepository,
	types repository.TicketTypeRepository,
	transactions repository.TransactionRepository,
	provider gateway.CheckoutProvider,
	cache Cache,
	producer Producer,
	purchaseTopic string,
	redirectBaseURL string,
	opts ...PurchaseServiceOption,
) *PurchaseService {
	service := &PurchaseService{
		instances:       instances,
		types:           types,
		transactions:    transactions,
		provider:        provider,
		cache:           cache,
		producer:        producer,
		purchaseTopic:   purchaseTopic,
		redirectBaseURL: redirectBaseURL,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// BeginPurchase claims the requested instances for every line item, opens a
// PENDING transaction over them and hands the priced cart to the gateway.
// The claim is all-or-nothing across line items: any shortfall releases
// everything claimed so far before the error is reported.
func (s *PurchaseService) BeginPurchase(ctx context.Context, input BeginPurchaseInput) (*Result, error) {
	resolved, err := s.resolveLineItems(ctx, input)
	if err != nil {
		metrics.PurchasesRejected.WithLabelValues("invalid_line_item").Inc()
		return nil, err
	}
	metrics.PurchasesStarted.WithLabelValues(input.EventID).Inc()

	tx, err := s.reserve(ctx, input, resolved)
	if err != nil {
		return nil, err
	}

	checkout, err := s.provider.CreateCheckout(ctx, s.checkoutRequest(tx, resolved))
	if err != nil {
		metrics.CheckoutSessions.WithLabelValues(s.provider.Name(), "error").Inc()
		// The claim is already durable; fail the transaction through the
		// settlement path so the instances go back to the pool.
		if _, _, rErr := s.transactions.SettleRejected(ctx, tx.ID); rErr != nil {
			log.Printf("failed to roll back transaction %s after checkout error: %v", tx.ID, rErr)
		}
		return nil, fmt.Errorf("failed to create checkout: %w", err)
	}
	metrics.CheckoutSessions.WithLabelValues(s.provider.Name(), "created").Inc()

	if err := s.transactions.SetGatewayReference(ctx, tx.ID, checkout.ProviderID); err != nil {
		log.Printf("failed to store gateway reference for transaction %s: %v", tx.ID, err)
	} else {
		tx.GatewayReference = &checkout.ProviderID
	}

	if s.cache != nil {
		_ = s.cache.InvalidateAvailability(ctx, input.EventID)
	}
	if err := s.publish(ctx, "purchase_created", tx); err != nil {
		log.Printf("failed to publish purchase_created event for transaction %s: %v", tx.ID, err)
	}

	return &Result{Transaction: tx, CheckoutURL: checkout.URL}, nil
}

// DirectAssign is the synchronous variant for flows without a gateway:
// claim and issue happen back to back with no pending interval. Used only
// when settlement is immediate and trusted, e.g. zero-cost admissions.
func (s *PurchaseService) DirectAssign(ctx context.Context, input BeginPurchaseInput) (*domain.Transaction, error) {
	resolved, err := s.resolveLineItems(ctx, input)
	if err != nil {
		metrics.PurchasesRejected.WithLabelValues("invalid_line_item").Inc()
		return nil, err
	}
	metrics.PurchasesStarted.WithLabelValues(input.EventID).Inc()

	claimed, err := s.claimAll(ctx, resolved)
	if err != nil {
		return nil, err
	}

	tx := s.newTransaction(input, resolved, claimed)
	if err := s.transactions.CreateIssued(ctx, tx); err != nil {
		if rErr := s.instances.Release(ctx, claimed); rErr != nil {
			log.Printf("failed to release instances after direct assign error: %v", rErr)
		}
		return nil, err
	}

	if s.cache != nil {
		_ = s.cache.InvalidateAvailability(ctx, input.EventID)
	}
	if err := s.publish(ctx, "purchase_completed", tx); err != nil {
		log.Printf("failed to publish purchase_completed event for transaction %s: %v", tx.ID, err)
	}

	return tx, nil
}

func (s *PurchaseService) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return s.transactions.GetByID(ctx, id)
}

type resolvedLineItem struct {
	ticketType *domain.TicketType
	quantity   int
}

func (s *PurchaseService) resolveLineItems(ctx context.Context, input BeginPurchaseInput) ([]resolvedLineItem, error) {
	if input.BuyerUserID == "" || input.EventID == "" || len(input.LineItems) == 0 {
		return nil, domain.ErrInvalidLineItem
	}

	resolved := make([]resolvedLineItem, 0, len(input.LineItems))
	for _, li := range input.LineItems {
		if li.Quantity <= 0 {
			return nil, domain.ErrInvalidLineItem
		}
		tt, err := s.types.GetByID(ctx, li.TicketTypeID)
		if err != nil {
			if err == domain.ErrTicketTypeNotFound {
				return nil, domain.ErrInvalidLineItem
			}
			return nil, err
		}
		if tt.EventID != input.EventID {
			return nil, domain.ErrInvalidLineItem
		}
		// The catalog price is authoritative; a caller-supplied price is
		// only accepted when it agrees.
		if li.UnitPrice != nil && !li.UnitPrice.Equal(tt.UnitPrice) {
			return nil, domain.ErrInvalidLineItem
		}
		resolved = append(resolved, resolvedLineItem{ticketType: tt, quantity: li.Quantity})
	}
	return resolved, nil
}

// claimAll claims instances per line item with compensating rollback: if any
// line item cannot be fully satisfied, everything claimed by earlier line
// items is released and no reservation survives.
func (s *PurchaseService) claimAll(ctx context.Context, resolved []resolvedLineItem) ([]string, error) {
	claimed := make([]string, 0)
	for _, li := range resolved {
		start := time.Now()
		ids, err := s.instances.ClaimAvailable(ctx, li.ticketType.ID, li.quantity)
		metrics.ClaimDuration.WithLabelValues(li.ticketType.ID).Observe(time.Since(start).Seconds())
		if err != nil {
			if len(claimed) > 0 {
				if rErr := s.instances.Release(ctx, claimed); rErr != nil {
					log.Printf("failed to release %d instances after claim failure: %v", len(claimed), rErr)
				}
			}
			if err == domain.ErrInsufficientInventory {
				metrics.PurchasesRejected.WithLabelValues("insufficient_inventory").Inc()
			}
			return nil, err
		}
		claimed = append(claimed, ids...)
	}
	return claimed, nil
}

func (s *PurchaseService) reserve(ctx context.Context, input BeginPurchaseInput, resolved []resolvedLineItem) (*domain.Transaction, error) {
	claimed, err := s.claimAll(ctx, resolved)
	if err != nil {
		return nil, err
	}

	tx := s.newTransaction(input, resolved, claimed)
	if err := s.transactions.CreatePending(ctx, tx); err != nil {
		if rErr := s.instances.Release(ctx, claimed); rErr != nil {
			log.Printf("failed to release instances after ledger error: %v", rErr)
		}
		return nil, err
	}
	return tx, nil
}

func (s *PurchaseService) newTransaction(input BeginPurchaseInput, resolved []resolvedLineItem, claimed []string) *domain.Transaction {
	lineItems := make([]domain.LineItem, 0, len(resolved))
	total := decimal.Zero
	for _, li := range resolved {
		lineItems = append(lineItems, domain.LineItem{
			TicketTypeID: li.ticketType.ID,
			Quantity:     li.quantity,
			UnitPrice:    li.ticketType.UnitPrice,
		})
		total = total.Add(li.ticketType.UnitPrice.Mul(decimal.NewFromInt(int64(li.quantity))))
	}

	return &domain.Transaction{
		ID:                 uuid.NewString(),
		BuyerUserID:        input.BuyerUserID,
		SellerID:           resolved[0].ticketType.SellerID,
		EventID:            input.EventID,
		LineItems:          lineItems,
		ClaimedInstanceIDs: claimed,
		TotalValue:         total,
		Currency:           resolved[0].ticketType.Currency,
	}
}

func (s *PurchaseService) checkoutRequest(tx *domain.Transaction, resolved []resolvedLineItem) *gateway.CheckoutRequest {
	lineItems := make([]gateway.CheckoutLineItem, 0, len(resolved))
	for _, li := range resolved {
		lineItems = append(lineItems, gateway.CheckoutLineItem{
			Name:       li.ticketType.Name,
			Quantity:   int64(li.quantity),
			UnitAmount: li.ticketType.UnitPrice,
		})
	}

	return &gateway.CheckoutRequest{
		Reference:  tx.ID,
		Currency:   tx.Currency,
		Total:      tx.TotalValue,
		LineItems:  lineItems,
		SuccessURL: fmt.Sprintf("%s/checkout/%s/success", s.redirectBaseURL, tx.ID),
		PendingURL: fmt.Sprintf("%s/checkout/%s/pending", s.redirectBaseURL, tx.ID),
		FailureURL: fmt.Sprintf("%s/checkout/%s/failure", s.redirectBaseURL, tx.ID),
	}
}

func (s *PurchaseService) publish(ctx context.Context, eventType string, tx *domain.Transaction) error {
	if s.producer == nil || s.purchaseTopic == "" {
		return nil
	}
	event := kafka.PurchaseEvent{
		Type:          eventType,
		TransactionID: tx.ID,
		BuyerUserID:   tx.BuyerUserID,
		EventID:       tx.EventID,
		Status:        string(tx.Status),
		TotalValue:    tx.TotalValue.String(),
		Currency:      tx.Currency,
		Quantity:      tx.Quantity(),
		OccurredAt:    time.Now(),
	}
	if err := s.producer.Publish(ctx, s.purchaseTopic, tx.ID, event); err != nil {
		return err
	}
	if s.notificationsTopic != "" {
		return s.producer.Publish(ctx, s.notificationsTopic, tx.ID, event)
	}
	return nil
}

var _ PurchaseUseCase = (*PurchaseService)(nil)
