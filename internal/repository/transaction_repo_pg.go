package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ticketon/ticketon/internal/domain"
)

type TransactionRepository interface {
	CreatePending(ctx context.Context, tx *domain.Transaction) error
	CreateIssued(ctx context.Context, tx *domain.Transaction) error
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	SetGatewayReference(ctx context.Context, id, reference string) error
	SettleApproved(ctx context.Context, id string) (*domain.Transaction, bool, error)
	SettleRejected(ctx context.Context, id string) (*domain.Transaction, bool, error)
	ListStalePending(ctx context.Context, cutoff time.Time) ([]domain.Transaction, error)
}

type PGTransactionRepository struct {
	db *pgxpool.Pool
}

func NewTransactionRepository(db *pgxpool.Pool) TransactionRepository {
	return &PGTransactionRepository{db: db}
}

const transactionColumns = `id, buyer_user_id, seller_id, event_id, line_items, claimed_instance_ids, total_value, currency, status, gateway_reference, created_at, updated_at`

func (r *PGTransactionRepository) CreatePending(ctx context.Context, t *domain.Transaction) error {
	t.Status = domain.TransactionStatusPending
	return r.insert(ctx, r.db, t)
}

// CreateIssued covers the direct-assignment path: the transaction is written
// already PAID and its claimed instances are issued to the buyer in the same
// database transaction, so no pending interval ever exists.
func (r *PGTransactionRepository) CreateIssued(ctx context.Context, t *domain.Transaction) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	t.Status = domain.TransactionStatusPaid
	if err := r.insert(ctx, tx, t); err != nil {
		return err
	}

	res, err := tx.Exec(ctx, `
		UPDATE ticket_instances SET status=$1, holder_user_id=$2, updated_at=now()
		WHERE id = ANY($3) AND status=$4`,
		domain.InstanceStatusIssued, t.BuyerUserID, t.ClaimedInstanceIDs, domain.InstanceStatusReserved)
	if err != nil {
		return err
	}
	if res.RowsAffected() != int64(len(t.ClaimedInstanceIDs)) {
		return domain.ErrSettlementInconsistency
	}

	return tx.Commit(ctx)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *PGTransactionRepository) insert(ctx context.Context, q rowQuerier, t *domain.Transaction) error {
	lineItems, err := json.Marshal(t.LineItems)
	if err != nil {
		return err
	}
	row := q.QueryRow(ctx, `
		INSERT INTO transactions (id, buyer_user_id, seller_id, event_id, line_items, claimed_instance_ids, total_value, currency, status, gateway_reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		t.ID, t.BuyerUserID, t.SellerID, t.EventID, lineItems, t.ClaimedInstanceIDs,
		t.TotalValue, t.Currency, t.Status, t.GatewayReference)
	return row.Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *PGTransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	row := r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id=$1`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	return t, err
}

func (r *PGTransactionRepository) SetGatewayReference(ctx context.Context, id, reference string) error {
	res, err := r.db.Exec(ctx, `UPDATE transactions SET gateway_reference=$1, updated_at=now() WHERE id=$2`, reference, id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return domain.ErrTransactionNotFound
	}
	return nil
}

// SettleApproved flips a PENDING transaction to PAID and issues its claimed
// instances to the buyer, both inside one database transaction. The
// conditional status flip linearizes concurrent settlements: whoever loses
// the race gets zero rows back and is handed the already-terminal record
// with applied=false. A finalize that cannot cover every claimed instance
// aborts the whole settlement so the transaction stays PENDING for retry.
func (r *PGTransactionRepository) SettleApproved(ctx context.Context, id string) (*domain.Transaction, bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE transactions SET status=$1, updated_at=now()
		WHERE id=$2 AND status=$3
		RETURNING `+transactionColumns,
		domain.TransactionStatusPaid, id, domain.TransactionStatusPending)
	settled, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		current, gErr := r.GetByID(ctx, id)
		if gErr != nil {
			return nil, false, gErr
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	res, err := tx.Exec(ctx, `
		UPDATE ticket_instances SET status=$1, holder_user_id=$2, updated_at=now()
		WHERE id = ANY($3) AND status=$4`,
		domain.InstanceStatusIssued, settled.BuyerUserID, settled.ClaimedInstanceIDs, domain.InstanceStatusReserved)
	if err != nil {
		return nil, false, err
	}
	if res.RowsAffected() != int64(len(settled.ClaimedInstanceIDs)) {
		return nil, false, domain.ErrSettlementInconsistency
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return settled, true, nil
}

// SettleRejected flips a PENDING transaction to FAILED and returns its still
// RESERVED instances to the AVAILABLE pool. Instances moved to a terminal
// administrative state in the meantime are skipped, matching Release.
func (r *PGTransactionRepository) SettleRejected(ctx context.Context, id string) (*domain.Transaction, bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE transactions SET status=$1, updated_at=now()
		WHERE id=$2 AND status=$3
		RETURNING `+transactionColumns,
		domain.TransactionStatusFailed, id, domain.TransactionStatusPending)
	settled, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		current, gErr := r.GetByID(ctx, id)
		if gErr != nil {
			return nil, false, gErr
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE ticket_instances SET status=$1, holder_user_id=NULL, updated_at=now()
		WHERE id = ANY($2) AND status=$3`,
		domain.InstanceStatusAvailable, settled.ClaimedInstanceIDs, domain.InstanceStatusReserved)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return settled, true, nil
}

func (r *PGTransactionRepository) ListStalePending(ctx context.Context, cutoff time.Time) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE status=$1 AND created_at <= $2 ORDER BY created_at`,
		domain.TransactionStatusPending, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stale := make([]domain.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		stale = append(stale, *t)
	}
	return stale, rows.Err()
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	var lineItems []byte
	if err := row.Scan(&t.ID, &t.BuyerUserID, &t.SellerID, &t.EventID, &lineItems, &t.ClaimedInstanceIDs,
		&t.TotalValue, &t.Currency, &t.Status, &t.GatewayReference, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(lineItems, &t.LineItems); err != nil {
		return nil, err
	}
	return &t, nil
}

var _ TransactionRepository = (*PGTransactionRepository)(nil)
