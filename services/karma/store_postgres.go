package karma

import (
	"context"
	"fmt"
	"time"

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

// AddPoints credits points in a single upsert so concurrent awards never
// lose an increment, and returns the new total.
func (p *PostgresStore) AddPoints(ctx context.Context, userID string, points int64) (int64, error) {
	var total int64
	err := p.db.GetContext(ctx, &total, `
		INSERT INTO karma (user_id, points, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET points = karma.points + EXCLUDED.points, updated_at = EXCLUDED.updated_at
		RETURNING points`,
		userID, points, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("add karma points: %w", err)
	}
	return total, nil
}

// GetPoints returns a user's total, zero for unknown users.
func (p *PostgresStore) GetPoints(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := p.db.GetContext(ctx, &total, `
		SELECT COALESCE((SELECT points FROM karma WHERE user_id = $1), 0)`, userID)
	if err != nil {
		return 0, fmt.Errorf("get karma points: %w", err)
	}
	return total, nil
}

// TopUsers returns the highest totals, descending.
func (p *PostgresStore) TopUsers(ctx context.Context, limit int) ([]*LeaderboardEntry, error) {
	var out []*LeaderboardEntry
	err := p.db.SelectContext(ctx, &out, `
		SELECT user_id, points FROM karma
		ORDER BY points DESC, user_id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list top users: %w", err)
	}
	for i, e := range out {
		e.Rank = i + 1
	}
	return out, nil
}

// ClaimTier takes the (userID, tier) claim with an insert that loses
// cleanly: zero rows affected means somebody else already holds it.
func (p *PostgresStore) ClaimTier(ctx context.Context, userID string, tier Tier) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO milestone_claims (user_id, tier, status, claimed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, tier) DO NOTHING`,
		userID, tier, ClaimPending, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("claim milestone tier: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim milestone tier: %w", err)
	}
	return n == 1, nil
}

// ReleaseTier drops a pending claim. Minted claims stay.
func (p *PostgresStore) ReleaseTier(ctx context.Context, userID string, tier Tier) error {
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM milestone_claims
		WHERE user_id = $1 AND tier = $2 AND status = $3`,
		userID, tier, ClaimPending)
	if err != nil {
		return fmt.Errorf("release milestone tier: %w", err)
	}
	return nil
}

// MarkMinted finishes a claim.
func (p *PostgresStore) MarkMinted(ctx context.Context, userID string, tier Tier, nftMint string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE milestone_claims
		SET status = $3, nft_mint = $4
		WHERE user_id = $1 AND tier = $2`,
		userID, tier, ClaimMinted, nftMint)
	if err != nil {
		return fmt.Errorf("mark milestone minted: %w", err)
	}
	return nil
}

// MintedTiers returns a user's claims sorted by tier.
func (p *PostgresStore) MintedTiers(ctx context.Context, userID string) ([]*MilestoneClaim, error) {
	var out []*MilestoneClaim
	err := p.db.SelectContext(ctx, &out, `
		SELECT user_id, tier, status, nft_mint, claimed_at
		FROM milestone_claims
		WHERE user_id = $1
		ORDER BY tier ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list milestone claims: %w", err)
	}
	return out, nil
}
