package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ticketon/ticketon/internal/domain"
	"github.com/ticketon/ticketon/internal/service/catalog"
)

type TicketHandler struct {
	service catalog.CatalogUseCase
}

type ticketTypeResponse struct {
	ID        string `json:"id"`
	EventID   string `json:"event_id"`
	Name      string `json:"name"`
	UnitPrice string `json:"unit_price"`
	Currency  string `json:"currency"`
	Available int    `json:"available"`
}

type ticketInstanceResponse struct {
	ID             string         `json:"id"`
	TicketTypeID   string         `json:"ticket_type_id"`
	EventID        string         `json:"event_id"`
	Status         string         `json:"status"`
	SequenceNumber int            `json:"sequence_number"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	IssuedAt       string         `json:"issued_at"`
}

func NewTicketHandler(service catalog.CatalogUseCase) *TicketHandler {
	return &TicketHandler{service: service}
}

func (h *TicketHandler) Register(router *gin.RouterGroup) {
	router.GET("/events/:id/ticket-types", h.listAvailability)
	router.GET("/users/:id/tickets", h.listIssued)
}

func (h *TicketHandler) listAvailability(c *gin.Context) {
	types, err := h.service.ListAvailability(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	response := make([]ticketTypeResponse, 0, len(types))
	for _, tt := range types {
		response = append(response, ticketTypeResponse{
			ID:        tt.ID,
			EventID:   tt.EventID,
			Name:      tt.Name,
			UnitPrice: tt.UnitPrice.String(),
			Currency:  tt.Currency,
			Available: tt.Available,
		})
	}
	c.JSON(http.StatusOK, response)
}

func (h *TicketHandler) listIssued(c *gin.Context) {
	tickets, err := h.service.ListIssuedTickets(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	response := make([]ticketInstanceResponse, 0, len(tickets))
	for _, t := range tickets {
		response = append(response, toTicketInstanceResponse(t))
	}
	c.JSON(http.StatusOK, response)
}

func toTicketInstanceResponse(t domain.TicketInstance) ticketInstanceResponse {
	return ticketInstanceResponse{
		ID:             t.ID,
		TicketTypeID:   t.TicketTypeID,
		EventID:        t.EventID,
		Status:         string(t.Status),
		SequenceNumber: t.SequenceNumber,
		Metadata:       t.Metadata,
		IssuedAt:       t.UpdatedAt.Format(time.RFC3339),
	}
}
