package api

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ticketon/ticketon/internal/domain"
	"github.com/ticketon/ticketon/internal/gateway"
	"github.com/ticketon/ticketon/internal/service/settlement"
)

// Deduper is an advisory guard that remembers provider notification IDs.
// Settlement itself is idempotent; the guard only exists so duplicate
// deliveries can be spotted in logs and metrics.
type Deduper interface {
	MarkNotificationSeen(ctx context.Context, provider, notificationID string, ttl time.Duration) (bool, error)
}

type WebhookHandler struct {
	settlements settlement.SettlementUseCase
	providers   map[string]gateway.CheckoutProvider
	dedup       Deduper
	dedupTTL    time.Duration
}

func NewWebhookHandler(settlements settlement.SettlementUseCase, providers []gateway.CheckoutProvider, dedup Deduper, dedupTTL time.Duration) *WebhookHandler {
	byName := make(map[string]gateway.CheckoutProvider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &WebhookHandler{
		settlements: settlements,
		providers:   byName,
		dedup:       dedup,
		dedupTTL:    dedupTTL,
	}
}

func (h *WebhookHandler) Register(router *gin.RouterGroup) {
	router.POST("/:provider", h.handle)
}

// handle maps a provider settlement notification to the settle entry point.
// The provider retries on anything but 200, so every processed or
// already-processed notification must be acknowledged with 200, and only
// genuinely retryable failures may return an error status.
func (h *WebhookHandler) handle(c *gin.Context) {
	provider, ok := h.providers[c.Param("provider")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	notification, err := provider.ParseNotification(payload, c.Request.Header)
	if err != nil {
		if errors.Is(err, gateway.ErrUnhandledNotification) {
			c.JSON(http.StatusOK, gin.H{"received": true, "message": "event ignored"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.dedup != nil {
		first, dErr := h.dedup.MarkNotificationSeen(c.Request.Context(), provider.Name(), notification.ID, h.dedupTTL)
		if dErr == nil && !first {
			log.Printf("duplicate %s notification %s for transaction %s", provider.Name(), notification.ID, notification.Reference)
		}
	}

	result, err := h.settlements.Settle(c.Request.Context(), notification.Reference, notification.Outcome)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			// Unknown reference: do not acknowledge, the provider may be
			// ahead of our ledger and its retry can land after the
			// transaction exists.
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received":       true,
		"transaction_id": result.Transaction.ID,
		"status":         string(result.Transaction.Status),
		"applied":        result.Applied,
	})
}
