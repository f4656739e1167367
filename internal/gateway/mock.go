package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// MockProvider is an in-memory provider for tests and local runs. Its
// notifications are plain JSON with no signature check.
type MockProvider struct {
	baseURL   string
	checkouts sync.Map
}

func NewMockProvider(baseURL string) *MockProvider {
	if baseURL == "" {
		baseURL = "https://pay.mock.local"
	}
	return &MockProvider{baseURL: baseURL}
}

func (p *MockProvider) Name() string {
	return "mock"
}

func (p *MockProvider) CreateCheckout(ctx context.Context, req *CheckoutRequest) (*Checkout, error) {
	if req == nil {
		return nil, fmt.Errorf("checkout request is required")
	}

	providerID := fmt.Sprintf("mock_cs_%s", uuid.NewString()[:12])
	checkout := &Checkout{
		ProviderID: providerID,
		URL:        fmt.Sprintf("%s/checkout/%s", p.baseURL, providerID),
	}
	p.checkouts.Store(providerID, req.Reference)

	return checkout, nil
}

type mockNotification struct {
	ID        string  `json:"id"`
	Reference string  `json:"reference"`
	Outcome   Outcome `json:"outcome"`
}

func (p *MockProvider) ParseNotification(payload []byte, header http.Header) (*Notification, error) {
	var n mockNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("failed to parse mock notification: %w", err)
	}
	if n.Reference == "" {
		return nil, fmt.Errorf("mock notification carries no transaction reference")
	}
	if n.Outcome != OutcomeApproved && n.Outcome != OutcomeRejected {
		return nil, ErrUnhandledNotification
	}
	if n.ID == "" {
		n.ID = fmt.Sprintf("mock_evt_%s", uuid.NewString()[:12])
	}
	return &Notification{ID: n.ID, Reference: n.Reference, Outcome: n.Outcome}, nil
}
