package purchase

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/ticketon/ticketon/internal/domain"
	"github.com/ticketon/ticketon/internal/gateway"
)

type MockTicketInstanceRepository struct {
	mock.Mock
}

func (m *MockTicketInstanceRepository) ClaimAvailable(ctx context.Context, ticketTypeID string, quantity int) ([]string, error) {
	args := m.Called(ctx, ticketTypeID, quantity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockTicketInstanceRepository) Release(ctx context.Context, instanceIDs []string) error {
	args := m.Called(ctx, instanceIDs)
	return args.Error(0)
}

func (m *MockTicketInstanceRepository) Finalize(ctx context.Context, instanceIDs []string, holderUserID string) error {
	args := m.Called(ctx, instanceIDs, holderUserID)
	return args.Error(0)
}

func (m *MockTicketInstanceRepository) CountAvailable(ctx context.Context, ticketTypeID string) (int, error) {
	args := m.Called(ctx, ticketTypeID)
	return args.Int(0), args.Error(1)
}

func (m *MockTicketInstanceRepository) ListByHolder(ctx context.Context, holderUserID string) ([]domain.TicketInstance, error) {
	args := m.Called(ctx, holderUserID)
	return args.Get(0).([]domain.TicketInstance), args.Error(1)
}

type MockTicketTypeRepository struct {
	mock.Mock
}

func (m *MockTicketTypeRepository) GetByID(ctx context.Context, id string) (*domain.TicketType, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TicketType), args.Error(1)
}

func (m *MockTicketTypeRepository) ListAvailabilityByEvent(ctx context.Context, eventID string) ([]domain.TicketTypeAvailability, error) {
	args := m.Called(ctx, eventID)
	return args.Get(0).([]domain.TicketTypeAvailability), args.Error(1)
}

type MockTransactionRepository struct {
	mock.Mock
}

func (m *MockTransactionRepository) CreatePending(ctx context.Context, tx *domain.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockTransactionRepository) CreateIssued(ctx context.Context, tx *domain.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockTransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) SetGatewayReference(ctx context.Context, id, reference string) error {
	args := m.Called(ctx, id, reference)
	return args.Error(0)
}

func (m *MockTransactionRepository) SettleApproved(ctx context.Context, id string) (*domain.Transaction, bool, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*domain.Transaction), args.Bool(1), args.Error(2)
}

func (m *MockTransactionRepository) SettleRejected(ctx context.Context, id string) (*domain.Transaction, bool, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*domain.Transaction), args.Bool(1), args.Error(2)
}

func (m *MockTransactionRepository) ListStalePending(ctx context.Context, cutoff time.Time) ([]domain.Transaction, error) {
	args := m.Called(ctx, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Transaction), args.Error(1)
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) InvalidateAvailability(ctx context.Context, eventID string) error {
	args := m.Called(ctx, eventID)
	return args.Error(0)
}

type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Publish(ctx context.Context, topic, key string, value interface{}) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

type MockCheckoutProvider struct {
	mock.Mock
}

func (m *MockCheckoutProvider) Name() string {
	return "mock"
}

func (m *MockCheckoutProvider) CreateCheckout(ctx context.Context, req *gateway.CheckoutRequest) (*gateway.Checkout, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Checkout), args.Error(1)
}

func (m *MockCheckoutProvider) ParseNotification(payload []byte, header http.Header) (*gateway.Notification, error) {
	args := m.Called(payload, header)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Notification), args.Error(1)
}

func generalAdmission() *domain.TicketType {
	return &domain.TicketType{
		ID:        "tt-1",
		EventID:   "ev-1",
		SellerID:  "seller-1",
		Name:      "General Admission",
		UnitPrice: decimal.NewFromInt(50),
		Currency:  "USD",
	}
}

func newTestService(instances *MockTicketInstanceRepository, types *MockTicketTypeRepository, transactions *MockTransactionRepository, provider *MockCheckoutProvider, cache *MockCache, producer *MockProducer) *PurchaseService {
	return &PurchaseService{
		instances:       instances,
		types:           types,
		transactions:    transactions,
		provider:        provider,
		cache:           cache,
		producer:        producer,
		purchaseTopic:   "purchase_topic",
		redirectBaseURL: "http://localhost:8080",
	}
}

func TestPurchaseService_BeginPurchase_Success(t *testing.T) {
	mockInstances := &MockTicketInstanceRepository{}
	mockTypes := &MockTicketTypeRepository{}
	mockTransactions := &MockTransactionRepository{}
	mockProvider := &MockCheckoutProvider{}
	mockCache := &MockCache{}
	mockProducer := &MockProducer{}

	service := newTestService(mockInstances, mockTypes, mockTransactions, mockProvider, mockCache, mockProducer)

	ctx := context.Background()
	input := BeginPurchaseInput{
		BuyerUserID: "buyer-1",
		EventID:     "ev-1",
		LineItems:   []LineItemInput{{TicketTypeID: "tt-1", Quantity: 2}},
	}

	mockTypes.On("GetByID", ctx, "tt-1").Return(generalAdmission(), nil).Once()
	mockInstances.On("ClaimAvailable", ctx, "tt-1", 2).Return([]string{"ti-1", "ti-2"}, nil).Once()
	mockTransactions.On("CreatePending", ctx, mock.AnythingOfType("*domain.Transaction")).Return(nil).Once()
	mockProvider.On("CreateCheckout", ctx, mock.AnythingOfType("*gateway.CheckoutRequest")).
		Return(&gateway.Checkout{ProviderID: "cs_123", URL: "https://pay.example/cs_123"}, nil).Once()
	mockTransactions.On("SetGatewayReference", ctx, mock.Anything, "cs_123").Return(nil).Once()
	mockCache.On("InvalidateAvailability", ctx, "ev-1").Return(nil).Once()
	mockProducer.On("Publish", ctx, "purchase_topic", mock.Anything, mock.Anything).Return(nil).Once()

	result, err := service.BeginPurchase(ctx, input)

	assert.NoError(t, err)
	assert.NotNil(t, result)
	assert.Equal(t, "https://pay.example/cs_123", result.CheckoutURL)
	assert.Equal(t, domain.TransactionStatusPending, result.Transaction.Status)
	assert.Equal(t, []string{"ti-1", "ti-2"}, result.Transaction.ClaimedInstanceIDs)
	assert.True(t, result.Transaction.TotalValue.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "seller-1", result.Transaction.SellerID)
	assert.NotNil(t, result.Transaction.GatewayReference)
	assert.Equal(t, "cs_123", *result.Transaction.GatewayReference)

	mockTypes.AssertExpectations(t)
	mockInstances.AssertExpectations(t)
	mockTransactions.AssertExpectations(t)
	mockProvider.AssertExpectations(t)
	mockProducer.AssertExpectations(t)
}

func TestPurchaseService_BeginPurchase_ValidationErrors(t *testing.T) {
	ctx := context.Background()
	price := decimal.NewFromInt(45)

	testCases := []struct {
		name  string
		input BeginPurchaseInput
	}{
		{
			name: "missing buyer",
			input: BeginPurchaseInput{
				EventID:   "ev-1",
				LineItems: []LineItemInput{{TicketTypeID: "tt-1", Quantity: 1}},
			},
		},
		{
			name: "missing event",
			input: BeginPurchaseInput{
				BuyerUserID: "buyer-1",
				LineItems:   []LineItemInput{{TicketTypeID: "tt-1", Quantity: 1}},
			},
		},
		{
			name: "no line items",
			input: BeginPurchaseInput{
				BuyerUserID: "buyer-1",
				EventID:     "ev-1",
			},
		},
		{
			name: "zero quantity",
			input: BeginPurchaseInput{
				BuyerUserID: "buyer-1",
				EventID:     "ev-1",
				LineItems:   []LineItemInput{{TicketTypeID: "tt-1", Quantity: 0}},
			},
		},
		{
			name: "negative quantity",
			input: BeginPurchaseInput{
				BuyerUserID: "buyer-1",
				EventID:     "ev-1",
				LineItems:   []LineItemInput{{TicketTypeID: "tt-1", Quantity: -3}},
			},
		},
		{
			name: "price mismatch",
			input: BeginPurchaseInput{
				BuyerUserID: "buyer-1",
				EventID:     "ev-1",
				LineItems:   []LineItemInput{{TicketTypeID: "tt-1", Quantity: 1, UnitPrice: &price}},
			},
		},
		{
			name: "ticket type of another event",
			input: BeginPurchaseInput{
				BuyerUserID: "buyer-1",
				EventID:     "ev-2",
				LineItems:   []LineItemInput{{TicketTypeID: "tt-1", Quantity: 1}},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mockInstances := &MockTicketInstanceRepository{}
			mockTypes := &MockTicketTypeRepository{}
			mockTransactions := &MockTransactionRepository{}

			service := newTestService(mockInstances, mockTypes, mockTransactions, &MockCheckoutProvider{}, &MockCache{}, &MockProducer{})
			mockTypes.On("GetByID", ctx, "tt-1").Return(generalAdmission(), nil).Maybe()

			result, err := service.BeginPurchase(ctx, tc.input)

			assert.Nil(t, result)
			assert.ErrorIs(t, err, domain.ErrInvalidLineItem)
			mockInstances.AssertNotCalled(t, "ClaimAvailable")
			mockTransactions.AssertNotCalled(t, "CreatePending")
		})
	}
}

func TestPurchaseService_BeginPurchase_UnknownTicketType(t *testing.T) {
	mockInstances := &MockTicketInstanceRepository{}
	mockTypes := &MockTicketTypeRepository{}
	mockTransactions := &MockTransactionRepository{}

	service := newTestService(mockInstances, mockTypes, mockTransactions, &MockCheckoutProvider{}, &MockCache{}, &MockProducer{})

	ctx := context.Background()
	mockTypes.On("GetByID", ctx, "tt-missing").Return(nil, domain.ErrTicketTypeNotFound).Once()

	result, err := service.BeginPurchase(ctx, BeginPurchaseInput{
		BuyerUserID: "buyer-1",
		EventID:     "ev-1",
		LineItems:   []LineItemInput{{TicketTypeID: "tt-missing", Quantity: 1}},
	})

	assert.Nil(t, result)
	assert.ErrorIs(t, err, domain.ErrInvalidLineItem)
	mockTypes.AssertExpectations(t)
	mockInstances.AssertNotCalled(t, "ClaimAvailable")
}

// A shortfall on the second line item must release everything claimed for
// the first one, so no reservation survives a partial claim.
func TestPurchaseService_BeginPurchase_InsufficientInventoryRollsBack(t *testing.T) {
	mockInstances := &MockTicketInstanceRepository{}
	mockTypes := &MockTicketTypeRepository{}
	mockTransactions := &MockTransactionRepository{}

	service := newTestService(mockInstances, mockTypes, mockTransactions, &MockCheckoutProvider{}, &MockCache{}, &MockProducer{})

	ctx := context.Background()
	vip := &domain.TicketType{
		ID:        "tt-2",
		EventID:   "ev-1",
		SellerID:  "seller-1",
		Name:      "VIP",
		UnitPrice: decimal.NewFromInt(200),
		Currency:  "USD",
	}

	mockTypes.On("GetByID", ctx, "tt-1").Return(generalAdmission(), nil).Once()
	mockTypes.On("GetByID", ctx, "tt-2").Return(vip, nil).Once()
	mockInstances.On("ClaimAvailable", ctx, "tt-1", 2).Return([]string{"ti-1", "ti-2"}, nil).Once()
	mockInstances.On("ClaimAvailable", ctx, "tt-2", 1).Return(nil, domain.ErrInsufficientInventory).Once()
	mockInstances.On("Release", ctx, []string{"ti-1", "ti-2"}).Return(nil).Once()

	result, err := service.BeginPurchase(ctx, BeginPurchaseInput{
		BuyerUserID: "buyer-1",
		EventID:     "ev-1",
		LineItems: []LineItemInput{
			{TicketTypeID: "tt-1", Quantity: 2},
			{TicketTypeID: "tt-2", Quantity: 1},
		},
	})

	assert.Nil(t, result)
	assert.ErrorIs(t, err, domain.ErrInsufficientInventory)
	mockInstances.AssertExpectations(t)
	mockTransactions.AssertNotCalled(t, "CreatePending")
}

func TestPurchaseService_BeginPurchase_LedgerErrorReleasesClaim(t *testing.T) {
	mockInstances := &MockTicketInstanceRepository{}
	mockTypes := &MockTicketTypeRepository{}
	mockTransactions := &MockTransactionRepository{}

	service := newTestService(mockInstances, mockTypes, mockTransactions, &MockCheckoutProvider{}, &MockCache{}, &MockProducer{})

	ctx := context.Background()
	expectedErr := errors.New("database error")

	mockTypes.On("GetByID", ctx, "tt-1").Return(generalAdmission(), nil).Once()
	mockInstances.On("ClaimAvailable", ctx, "tt-1", 1).Return([]string{"ti-1"}, nil).Once()
	mockTransactions.On("CreatePending", ctx, mock.Anything).Return(expectedErr).Once()
	mockInstances.On("Release", ctx, []string{"ti-1"}).Return(nil).Once()

	result, err := service.BeginPurchase(ctx, BeginPurchaseInput{
		BuyerUserID: "buyer-1",
		EventID:     "ev-1",
		LineItems:   []LineItemInput{{TicketTypeID: "tt-1", Quantity: 1}},
	})

	assert.Nil(t, result)
	assert.Equal(t, expectedErr, err)
	mockInstances.AssertExpectations(t)
	mockTransactions.AssertExpectations(t)
}

// A checkout failure happens after the claim is durable, so the transaction
// is failed through the settlement path and the instances return to the pool.
func TestPurchaseService_BeginPurchase_CheckoutErrorFailsTransaction(t *testing.T) {
	mockInstances := &MockTicketInstanceRepository{}
	mockTypes := &MockTicketTypeRepository{}
	mockTransactions := &MockTransactionRepository{}
	mockProvider := &MockCheckoutProvider{}

	service := newTestService(mockInstances, mockTypes, mockTransactions, mockProvider, &MockCache{}, &MockProducer{})

	ctx := context.Background()
	failed := &domain.Transaction{ID: "tx-1", Status: domain.TransactionStatusFailed}

	mockTypes.On("GetByID", ctx, "tt-1").Return(generalAdmission(), nil).Once()
	mockInstances.On("ClaimAvailable", ctx, "tt-1", 1).Return([]string{"ti-1"}, nil).Once()
	mockTransactions.On("CreatePending", ctx, mock.Anything).Return(nil).Once()
	mockProvider.On("CreateCheckout", ctx, mock.Anything).Return(nil, errors.New("gateway down")).Once()
	mockTransactions.On("SettleRejected", ctx, mock.Anything).Return(failed, true, nil).Once()

	result, err := service.BeginPurchase(ctx, BeginPurchaseInput{
		BuyerUserID: "buyer-1",
		EventID:     "ev-1",
		LineItems:   []LineItemInput{{TicketTypeID: "tt-1", Quantity: 1}},
	})

	assert.Nil(t, result)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create checkout")
	mockTransactions.AssertExpectations(t)
	mockProvider.AssertExpectations(t)
}

func TestPurchaseService_DirectAssign_Success(t *testing.T) {
	mockInstances := &MockTicketInstanceRepository{}
	mockTypes := &MockTicketTypeRepository{}
	mockTransactions := &MockTransactionRepository{}
	mockCache := &MockCache{}
	mockProducer := &MockProducer{}

	service := newTestService(mockInstances, mockTypes, mockTransactions, &MockCheckoutProvider{}, mockCache, mockProducer)

	ctx := context.Background()
	mockTypes.On("GetByID", ctx, "tt-1").Return(generalAdmission(), nil).Once()
	mockInstances.On("ClaimAvailable", ctx, "tt-1", 1).Return([]string{"ti-1"}, nil).Once()
	mockTransactions.On("CreateIssued", ctx, mock.AnythingOfType("*domain.Transaction")).
		Run(func(args mock.Arguments) {
			tx := args.Get(1).(*domain.Transaction)
			tx.Status = domain.TransactionStatusPaid
		}).Return(nil).Once()
	mockCache.On("InvalidateAvailability", ctx, "ev-1").Return(nil).Once()
	mockProducer.On("Publish", ctx, "purchase_topic", mock.Anything, mock.Anything).Return(nil).Once()

	tx, err := service.DirectAssign(ctx, BeginPurchaseInput{
		BuyerUserID: "buyer-1",
		EventID:     "ev-1",
		LineItems:   []LineItemInput{{TicketTypeID: "tt-1", Quantity: 1}},
	})

	assert.NoError(t, err)
	assert.NotNil(t, tx)
	assert.Equal(t, domain.TransactionStatusPaid, tx.Status)
	assert.Equal(t, []string{"ti-1"}, tx.ClaimedInstanceIDs)

	mockInstances.AssertExpectations(t)
	mockTransactions.AssertExpectations(t)
	mockProducer.AssertExpectations(t)
}

func TestPurchaseService_DirectAssign_LedgerErrorReleasesClaim(t *testing.T) {
	mockInstances := &MockTicketInstanceRepository{}
	mockTypes := &MockTicketTypeRepository{}
	mockTransactions := &MockTransactionRepository{}

	service := newTestService(mockInstances, mockTypes, mockTransactions, &MockCheckoutProvider{}, &MockCache{}, &MockProducer{})

	ctx := context.Background()
	expectedErr := errors.New("database error")

	mockTypes.On("GetByID", ctx, "tt-1").Return(generalAdmission(), nil).Once()
	mockInstances.On("ClaimAvailable", ctx, "tt-1", 1).Return([]string{"ti-1"}, nil).Once()
	mockTransactions.On("CreateIssued", ctx, mock.Anything).Return(expectedErr).Once()
	mockInstances.On("Release", ctx, []string{"ti-1"}).Return(nil).Once()

	tx, err := service.DirectAssign(ctx, BeginPurchaseInput{
		BuyerUserID: "buyer-1",
		EventID:     "ev-1",
		LineItems:   []LineItemInput{{TicketTypeID: "tt-1", Quantity: 1}},
	})

	assert.Nil(t, tx)
	assert.Equal(t, expectedErr, err)
	mockInstances.AssertExpectations(t)
}

func TestPurchaseService_Publish_NoProducer(t *testing.T) {
	service := &PurchaseService{producer: nil}

	err := service.publish(context.Background(), "purchase_created", &domain.Transaction{ID: "tx-1"})
	assert.NoError(t, err)
}

func TestPurchaseService_Publish_WithNotifications(t *testing.T) {
	mockProducer := &MockProducer{}
	service := &PurchaseService{
		producer:           mockProducer,
		purchaseTopic:      "purchase_topic",
		notificationsTopic: "notifications_topic",
	}

	ctx := context.Background()
	tx := &domain.Transaction{
		ID:          "tx-1",
		BuyerUserID: "buyer-1",
		EventID:     "ev-1",
		TotalValue:  decimal.NewFromInt(50),
		Currency:    "USD",
		Status:      domain.TransactionStatusPending,
	}

	mockProducer.On("Publish", ctx, "purchase_topic", "tx-1", mock.Anything).Return(nil).Once()
	mockProducer.On("Publish", ctx, "notifications_topic", "tx-1", mock.Anything).Return(nil).Once()

	err := service.publish(ctx, "purchase_created", tx)
	assert.NoError(t, err)

	mockProducer.AssertExpectations(t)
}
