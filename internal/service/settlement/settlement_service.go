package settlement

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ticketon/ticketon/internal/domain"
	"github.com/ticketon/ticketon/internal/gateway"
	"github.com/ticketon/ticketon/internal/kafka"
	"github.com/ticketon/ticketon/internal/metrics"
	"github.com/ticketon/ticketon/internal/repository"
)

type SettlementUseCase interface {
	Settle(ctx context.Context, transactionID string, outcome gateway.Outcome) (*Result, error)
	ExpireStalePending(ctx context.Context, olderThan time.Duration) ([]domain.Transaction, error)
}

type Cache interface {
	InvalidateAvailability(ctx context.Context, eventID string) error
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

// Result reports the transaction's terminal state. Applied is false when the
// transaction was already terminal before this call, which is exactly the
// repeated-delivery case the provider is allowed to produce.
type Result struct {
	Transaction *domain.Transaction
	Applied     bool
}

type SettlementService struct {
	transactions       repository.TransactionRepository
	cache              Cache
	producer           Producer
	purchaseTopic      string
	notificationsTopic string
}

type SettlementServiceOption func(*SettlementService)

func WithNotificationsTopic(topic string) SettlementServiceOption {
	return func(s *SettlementService) {
		s.notificationsTopic = topic
	}
}

func NewSettlementService(
	transactions repository.TransactionRepository,
	cache Cache,
	producer Producer,
	purchaseTopic string,
	opts ...SettlementServiceOption,
) *SettlementService {
	service := &SettlementService{
		transactions:  transactions,
		cache:         cache,
		producer:      producer,
		purchaseTopic: purchaseTopic,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Settle drives a transaction to its terminal state. It is safe to call any
// number of times with any interleaving: the conditional status flip in the
// ledger guarantees that only the first call mutates anything, and every
// later call just reads back the terminal record.
func (s *SettlementService) Settle(ctx context.Context, transactionID string, outcome gateway.Outcome) (*Result, error) {
	var (
		tx      *domain.Transaction
		applied bool
		err     error
	)

	switch outcome {
	case gateway.OutcomeApproved:
		tx, applied, err = s.transactions.SettleApproved(ctx, transactionID)
	case gateway.OutcomeRejected:
		tx, applied, err = s.transactions.SettleRejected(ctx, transactionID)
	default:
		return nil, fmt.Errorf("unknown settlement outcome %q", outcome)
	}

	if err != nil {
		if err == domain.ErrSettlementInconsistency {
			metrics.SettlementInconsistencies.Inc()
			log.Printf("settlement inconsistency for transaction %s: finalize did not cover every claimed instance", transactionID)
		}
		return nil, err
	}

	if !applied {
		metrics.SettlementReplays.Inc()
		return &Result{Transaction: tx, Applied: false}, nil
	}

	metrics.Settlements.WithLabelValues(string(outcome)).Inc()

	if s.cache != nil {
		_ = s.cache.InvalidateAvailability(ctx, tx.EventID)
	}

	eventType := "purchase_completed"
	if tx.Status == domain.TransactionStatusFailed {
		eventType = "purchase_failed"
	}
	if err := s.publish(ctx, eventType, tx); err != nil {
		log.Printf("failed to publish %s event for transaction %s: %v", eventType, tx.ID, err)
	}

	return &Result{Transaction: tx, Applied: true}, nil
}

// ExpireStalePending synthesizes a rejected settlement for every PENDING
// transaction older than the given age. It goes through Settle rather than
// touching instance state directly, so a concurrent genuine settlement
// always wins the conditional flip.
func (s *SettlementService) ExpireStalePending(ctx context.Context, olderThan time.Duration) ([]domain.Transaction, error) {
	cutoff := time.Now().Add(-olderThan)
	stale, err := s.transactions.ListStalePending(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	expired := make([]domain.Transaction, 0, len(stale))
	for _, tx := range stale {
		result, err := s.Settle(ctx, tx.ID, gateway.OutcomeRejected)
		if err != nil {
			log.Printf("failed to expire transaction %s: %v", tx.ID, err)
			continue
		}
		if result.Applied {
			expired = append(expired, *result.Transaction)
		}
	}
	return expired, nil
}

func (s *SettlementService) publish(ctx context.Context, eventType string, tx *domain.Transaction) error {
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

var _ SettlementUseCase = (*SettlementService)(nil)
