package catalog

import (
	"context"

	"github.com/ticketon/ticketon/internal/domain"
	"github.com/ticketon/ticketon/internal/repository"
)

type CatalogUseCase interface {
	ListAvailability(ctx context.Context, eventID string) ([]domain.TicketTypeAvailability, error)
	ListIssuedTickets(ctx context.Context, holderUserID string) ([]domain.TicketInstance, error)
}

type Cache interface {
	GetAvailability(ctx context.Context, eventID string) ([]domain.TicketTypeAvailability, error)
	SetAvailability(ctx context.Context, eventID string, types []domain.TicketTypeAvailability) error
}

type CatalogService struct {
	types     repository.TicketTypeRepository
	instances repository.TicketInstanceRepository
	cache     Cache
}

func NewCatalogService(types repository.TicketTypeRepository, instances repository.TicketInstanceRepository, cache Cache) *CatalogService {
	return &CatalogService{types: types, instances: instances, cache: cache}
}

// ListAvailability is cache-aside: availability is advisory for display, the
// atomic claim in the instance store is what actually enforces capacity.
func (s *CatalogService) ListAvailability(ctx context.Context, eventID string) ([]domain.TicketTypeAvailability, error) {
	if s.cache != nil {
		if cached, err := s.cache.GetAvailability(ctx, eventID); err == nil && cached != nil {
			return cached, nil
		}
	}

	types, err := s.types.ListAvailabilityByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		_ = s.cache.SetAvailability(ctx, eventID, types)
	}
	return types, nil
}

func (s *CatalogService) ListIssuedTickets(ctx context.Context, holderUserID string) ([]domain.TicketInstance, error) {
	return s.instances.ListByHolder(ctx, holderUserID)
}

var _ CatalogUseCase = (*CatalogService)(nil)
