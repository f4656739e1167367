package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ticketon/ticketon/internal/domain"
)

type TicketTypeRepository interface {
	GetByID(ctx context.Context, id string) (*domain.TicketType, error)
	ListAvailabilityByEvent(ctx context.Context, eventID string) ([]domain.TicketTypeAvailability, error)
}

type PGTicketTypeRepository struct {
	db *pgxpool.Pool
}

func NewTicketTypeRepository(db *pgxpool.Pool) TicketTypeRepository {
	return &PGTicketTypeRepository{db: db}
}

func (r *PGTicketTypeRepository) GetByID(ctx context.Context, id string) (*domain.TicketType, error) {
	row := r.db.QueryRow(ctx, `SELECT id, event_id, seller_id, name, unit_price, currency, created_at, updated_at FROM ticket_types WHERE id=$1`, id)
	var tt domain.TicketType
	if err := row.Scan(&tt.ID, &tt.EventID, &tt.SellerID, &tt.Name, &tt.UnitPrice, &tt.Currency, &tt.CreatedAt, &tt.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTicketTypeNotFound
		}
		return nil, err
	}
	return &tt, nil
}

// ListAvailabilityByEvent counts only AVAILABLE instances; reserved and
// issued ones are already spoken for, terminal ones are out of the pool.
func (r *PGTicketTypeRepository) ListAvailabilityByEvent(ctx context.Context, eventID string) ([]domain.TicketTypeAvailability, error) {
	rows, err := r.db.Query(ctx, `
		SELECT tt.id, tt.event_id, tt.seller_id, tt.name, tt.unit_price, tt.currency, tt.created_at, tt.updated_at,
			(SELECT count(*) FROM ticket_instances ti WHERE ti.ticket_type_id = tt.id AND ti.status=$1) AS available
		FROM ticket_types tt
		WHERE tt.event_id=$2
		ORDER BY tt.name`, domain.InstanceStatusAvailable, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types := make([]domain.TicketTypeAvailability, 0)
	for rows.Next() {
		var tt domain.TicketTypeAvailability
		if err := rows.Scan(&tt.ID, &tt.EventID, &tt.SellerID, &tt.Name, &tt.UnitPrice, &tt.Currency, &tt.CreatedAt, &tt.UpdatedAt, &tt.Available); err != nil {
			return nil, err
		}
		types = append(types, tt)
	}
	return types, rows.Err()
}

var _ TicketTypeRepository = (*PGTicketTypeRepository)(nil)
