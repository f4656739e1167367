package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/ticketon/ticketon/internal/domain"
	"github.com/ticketon/ticketon/internal/service/purchase"
)

type PurchaseHandler struct {
	service purchase.PurchaseUseCase
}

type lineItemRequest struct {
	TicketTypeID string           `json:"ticket_type_id"`
	Quantity     int              `json:"quantity"`
	UnitPrice    *decimal.Decimal `json:"unit_price,omitempty"`
}

type beginPurchaseRequest struct {
	BuyerUserID string            `json:"buyer_user_id"`
	EventID     string            `json:"event_id"`
	LineItems   []lineItemRequest `json:"line_items"`
}

type beginPurchaseResponse struct {
	TransactionID string `json:"transaction_id"`
	CheckoutURL   string `json:"checkout_url"`
	Status        string `json:"status"`
	TotalValue    string `json:"total_value"`
	Currency      string `json:"currency"`
}

type transactionResponse struct {
	TransactionID      string            `json:"transaction_id"`
	BuyerUserID        string            `json:"buyer_user_id"`
	SellerID           string            `json:"seller_id"`
	EventID            string            `json:"event_id"`
	LineItems          []lineItemRequest `json:"line_items"`
	ClaimedInstanceIDs []string          `json:"claimed_instance_ids"`
	TotalValue         string            `json:"total_value"`
	Currency           string            `json:"currency"`
	Status             string            `json:"status"`
	GatewayReference   *string           `json:"gateway_reference,omitempty"`
	CreatedAt          string            `json:"created_at"`
}

func NewPurchaseHandler(service purchase.PurchaseUseCase) *PurchaseHandler {
	return &PurchaseHandler{service: service}
}

func (h *PurchaseHandler) Register(router *gin.RouterGroup) {
	router.POST("/", h.create)
	router.POST("/direct", h.direct)
	router.GET("/:id", h.get)
}

// RegisterCheckoutLanding mounts the informational redirect targets the
// gateway sends the buyer's browser to. They carry no authority to change
// state; settlement comes only through the webhook.
func (h *PurchaseHandler) RegisterCheckoutLanding(router *gin.RouterGroup) {
	router.GET("/:id/success", h.landing("success"))
	router.GET("/:id/pending", h.landing("pending"))
	router.GET("/:id/failure", h.landing("failure"))
}

func (h *PurchaseHandler) create(c *gin.Context) {
	var req beginPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.BeginPurchase(c.Request.Context(), toInput(req))
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrInvalidLineItem):
			status = http.StatusBadRequest
		case errors.Is(err, domain.ErrInsufficientInventory):
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, beginPurchaseResponse{
		TransactionID: result.Transaction.ID,
		CheckoutURL:   result.CheckoutURL,
		Status:        string(result.Transaction.Status),
		TotalValue:    result.Transaction.TotalValue.String(),
		Currency:      result.Transaction.Currency,
	})
}

func (h *PurchaseHandler) direct(c *gin.Context) {
	var req beginPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tx, err := h.service.DirectAssign(c.Request.Context(), toInput(req))
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrInvalidLineItem):
			status = http.StatusBadRequest
		case errors.Is(err, domain.ErrInsufficientInventory):
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, toTransactionResponse(tx))
}

func (h *PurchaseHandler) get(c *gin.Context) {
	tx, err := h.service.GetTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, toTransactionResponse(tx))
}

func (h *PurchaseHandler) landing(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tx, err := h.service.GetTransaction(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, domain.ErrTransactionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"transaction_id": tx.ID,
			"landing":        kind,
			"status":         string(tx.Status),
		})
	}
}

func toInput(req beginPurchaseRequest) purchase.BeginPurchaseInput {
	lineItems := make([]purchase.LineItemInput, 0, len(req.LineItems))
	for _, li := range req.LineItems {
		lineItems = append(lineItems, purchase.LineItemInput{
			TicketTypeID: li.TicketTypeID,
			Quantity:     li.Quantity,
			UnitPrice:    li.UnitPrice,
		})
	}
	return purchase.BeginPurchaseInput{
		BuyerUserID: req.BuyerUserID,
		EventID:     req.EventID,
		LineItems:   lineItems,
	}
}

func toTransactionResponse(tx *domain.Transaction) transactionResponse {
	lineItems := make([]lineItemRequest, 0, len(tx.LineItems))
	for _, li := range tx.LineItems {
		price := li.UnitPrice
		lineItems = append(lineItems, lineItemRequest{
			TicketTypeID: li.TicketTypeID,
			Quantity:     li.Quantity,
			UnitPrice:    &price,
		})
	}
	return transactionResponse{
		TransactionID:      tx.ID,
		BuyerUserID:        tx.BuyerUserID,
		SellerID:           tx.SellerID,
		EventID:            tx.EventID,
		LineItems:          lineItems,
		ClaimedInstanceIDs: tx.ClaimedInstanceIDs,
		TotalValue:         tx.TotalValue.String(),
		Currency:           tx.Currency,
		Status:             string(tx.Status),
		GatewayReference:   tx.GatewayReference,
		CreatedAt:          tx.CreatedAt.Format(time.RFC3339),
	}
}
