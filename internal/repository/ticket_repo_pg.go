package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ticketon/ticketon/internal/domain"
)

type TicketInstanceRepository interface {
	ClaimAvailable(ctx context.Context, ticketTypeID string, quantity int) ([]string, error)
	Release(ctx context.Context, instanceIDs []string) error
	Finalize(ctx context.Context, instanceIDs []string, holderUserID string) error
	CountAvailable(ctx context.Context, ticketTypeID string) (int, error)
	ListByHolder(ctx context.Context, holderUserID string) ([]domain.TicketInstance, error)
}

type PGTicketInstanceRepository struct {
	db *pgxpool.Pool
}

func NewTicketInstanceRepository(db *pgxpool.Pool) TicketInstanceRepository {
	return &PGTicketInstanceRepository{db: db}
}

// ClaimAvailable flips up to quantity AVAILABLE instances of the given type
// to RESERVED in a single conditional update. The SKIP LOCKED subselect keeps
// concurrent claimers from ever selecting the same rows; if fewer than
// quantity rows could be claimed the whole claim is rolled back and
// ErrInsufficientInventory is returned, leaving the store unchanged.
func (r *PGTicketInstanceRepository) ClaimAvailable(ctx context.Context, ticketTypeID string, quantity int) ([]string, error) {
	if quantity <= 0 {
		return nil, domain.ErrInvalidLineItem
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		UPDATE ticket_instances SET status=$1, updated_at=now()
		WHERE id IN (
			SELECT id FROM ticket_instances
			WHERE ticket_type_id=$2 AND status=$3
			ORDER BY sequence_number
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id`,
		domain.InstanceStatusReserved, ticketTypeID, domain.InstanceStatusAvailable, quantity)
	if err != nil {
		return nil, err
	}

	claimed := make([]string, 0, quantity)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		claimed = append(claimed, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(claimed) < quantity {
		return nil, domain.ErrInsufficientInventory
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return claimed, nil
}

// Release returns RESERVED instances to the AVAILABLE pool. Instances that
// are already available or administratively terminal are left untouched, so
// repeated releases are harmless.
func (r *PGTicketInstanceRepository) Release(ctx context.Context, instanceIDs []string) error {
	if len(instanceIDs) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		UPDATE ticket_instances SET status=$1, holder_user_id=NULL, updated_at=now()
		WHERE id = ANY($2) AND status=$3`,
		domain.InstanceStatusAvailable, instanceIDs, domain.InstanceStatusReserved)
	return err
}

// Finalize issues RESERVED instances to the holder. Every listed instance
// must still be RESERVED; otherwise nothing is changed and
// ErrSettlementInconsistency is returned.
func (r *PGTicketInstanceRepository) Finalize(ctx context.Context, instanceIDs []string, holderUserID string) error {
	if len(instanceIDs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	res, err := tx.Exec(ctx, `
		UPDATE ticket_instances SET status=$1, holder_user_id=$2, updated_at=now()
		WHERE id = ANY($3) AND status=$4`,
		domain.InstanceStatusIssued, holderUserID, instanceIDs, domain.InstanceStatusReserved)
	if err != nil {
		return err
	}
	if res.RowsAffected() != int64(len(instanceIDs)) {
		return domain.ErrSettlementInconsistency
	}

	return tx.Commit(ctx)
}

func (r *PGTicketInstanceRepository) CountAvailable(ctx context.Context, ticketTypeID string) (int, error) {
	row := r.db.QueryRow(ctx, `SELECT count(*) FROM ticket_instances WHERE ticket_type_id=$1 AND status=$2`,
		ticketTypeID, domain.InstanceStatusAvailable)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *PGTicketInstanceRepository) ListByHolder(ctx context.Context, holderUserID string) ([]domain.TicketInstance, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, ticket_type_id, event_id, status, holder_user_id, sequence_number, metadata, created_at, updated_at
		FROM ticket_instances
		WHERE holder_user_id=$1 AND status=$2
		ORDER BY created_at`, holderUserID, domain.InstanceStatusIssued)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	instances := make([]domain.TicketInstance, 0)
	for rows.Next() {
		inst, err := scanTicketInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *inst)
	}
	return instances, rows.Err()
}

func scanTicketInstance(row pgx.Row) (*domain.TicketInstance, error) {
	var inst domain.TicketInstance
	var metadata []byte
	if err := row.Scan(&inst.ID, &inst.TicketTypeID, &inst.EventID, &inst.Status, &inst.HolderUserID,
		&inst.SequenceNumber, &metadata, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &inst.Metadata); err != nil {
			return nil, err
		}
	}
	return &inst, nil
}

var _ TicketInstanceRepository = (*PGTicketInstanceRepository)(nil)
