package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PostgresStore is the production Store backed by PostgreSQL via sqlx.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateSettlement inserts a new outbox row.
func (p *PostgresStore) CreateSettlement(ctx context.Context, s *Settlement) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO settlements (id, kind, state, sender_id, receiver_id, buzz_id,
			amount, denomination, attempt, tx_signature, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.ID, s.Kind, s.State, s.SenderID, s.ReceiverID, s.BuzzID,
		s.Amount, s.Denomination, s.Attempt, s.TxSignature, s.LastError, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}
	return nil
}

// UpdateSettlement transitions an outbox row, bumping its attempt counter.
// An empty txSignature leaves the stored signature alone.
func (p *PostgresStore) UpdateSettlement(ctx context.Context, id string, state State, txSignature, lastError string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE settlements
		SET state = $2,
		    tx_signature = CASE WHEN $3 = '' THEN tx_signature ELSE $3 END,
		    last_error = $4,
		    attempt = attempt + 1,
		    updated_at = $5
		WHERE id = $1`,
		id, state, txSignature, lastError, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update settlement: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("settlement %s not found", id)
	}
	return nil
}

// GetSettlement retrieves an outbox row.
func (p *PostgresStore) GetSettlement(ctx context.Context, id string) (*Settlement, error) {
	var s Settlement
	err := p.db.GetContext(ctx, &s, `SELECT * FROM settlements WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("settlement %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get settlement: %w", err)
	}
	return &s, nil
}

// ListSettlementsByState returns settlements in a state last touched
// before olderThan, oldest first.
func (p *PostgresStore) ListSettlementsByState(ctx context.Context, state State, olderThan time.Time, limit int) ([]*Settlement, error) {
	var out []*Settlement
	err := p.db.SelectContext(ctx, &out, `
		SELECT * FROM settlements
		WHERE state = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`,
		state, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list settlements: %w", err)
	}
	return out, nil
}

// CreateTip appends a tip record.
func (p *PostgresStore) CreateTip(ctx context.Context, tip *Tip) error {
	if tip.ID == "" {
		tip.ID = uuid.NewString()
	}
	tip.CreatedAt = time.Now().UTC()

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tips (id, sender_id, buzz_id, amount, symbol, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		tip.ID, tip.SenderID, tip.BuzzID, tip.Amount, tip.Symbol, tip.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert tip: %w", err)
	}
	return nil
}

// CreateChainTransaction appends a transaction record.
func (p *PostgresStore) CreateChainTransaction(ctx context.Context, tx *ChainTransaction) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	tx.CreatedAt = time.Now().UTC()

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO chain_transactions (id, sender_id, receiver_id, amount, symbol, tx_signature, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		tx.ID, tx.SenderID, tx.ReceiverID, tx.Amount, tx.Symbol, tx.TxSignature, tx.Kind, tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert chain transaction: %w", err)
	}
	return nil
}

// TipsBySender lists tips sent by a user, newest first.
func (p *PostgresStore) TipsBySender(ctx context.Context, senderID string) ([]*Tip, error) {
	var out []*Tip
	err := p.db.SelectContext(ctx, &out, `
		SELECT * FROM tips WHERE sender_id = $1 ORDER BY created_at DESC`, senderID)
	if err != nil {
		return nil, fmt.Errorf("list tips by sender: %w", err)
	}
	return out, nil
}

// TipsForBuzz lists tips received by a buzz, newest first.
func (p *PostgresStore) TipsForBuzz(ctx context.Context, buzzID string) ([]*Tip, error) {
	var out []*Tip
	err := p.db.SelectContext(ctx, &out, `
		SELECT * FROM tips WHERE buzz_id = $1 ORDER BY created_at DESC`, buzzID)
	if err != nil {
		return nil, fmt.Errorf("list tips for buzz: %w", err)
	}
	return out, nil
}

// LastEpoch returns the highest committed content root epoch, zero when
// none exist.
func (p *PostgresStore) LastEpoch(ctx context.Context) (uint64, error) {
	var epoch uint64
	err := p.db.GetContext(ctx, &epoch, `SELECT COALESCE(MAX(epoch), 0) FROM content_roots`)
	if err != nil {
		return 0, fmt.Errorf("last epoch: %w", err)
	}
	return epoch, nil
}

// SaveContentRoot records a committed content root.
func (p *PostgresStore) SaveContentRoot(ctx context.Context, root *ContentRoot) error {
	root.CreatedAt = time.Now().UTC()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO content_roots (epoch, root, tx_signature, created_at)
		VALUES ($1, $2, $3, $4)`,
		root.Epoch, root.Root, root.TxSignature, root.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert content root: %w", err)
	}
	return nil
}
