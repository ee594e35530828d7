package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jmoiron/sqlx"
)

// PostgresDirectory resolves user ids to custodial wallets from the
// user_wallets table. A user without a registered public key resolves with
// a zero key; eligibility is the caller's call.
type PostgresDirectory struct {
	db *sqlx.DB
}

// NewPostgresDirectory wraps an open connection pool.
func NewPostgresDirectory(db *sqlx.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// UserWallet resolves one user, (nil, nil) when unknown.
func (d *PostgresDirectory) UserWallet(ctx context.Context, userID string) (*UserWallet, error) {
	var row struct {
		UserID    string `db:"user_id"`
		PublicKey string `db:"public_key"`
		WalletID  string `db:"wallet_id"`
	}
	err := d.db.GetContext(ctx, &row, `
		SELECT user_id, public_key, wallet_id FROM user_wallets WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup wallet: %w", err)
	}

	wallet := &UserWallet{UserID: row.UserID, WalletID: row.WalletID}
	if row.PublicKey != "" {
		key, err := solana.PublicKeyFromBase58(row.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("corrupt public key for %s: %w", userID, err)
		}
		wallet.PublicKey = key
	}
	return wallet, nil
}

// RegisterWallet records or replaces a user's custodial wallet.
func (d *PostgresDirectory) RegisterWallet(ctx context.Context, w *UserWallet) error {
	pub := ""
	if !w.PublicKey.IsZero() {
		pub = w.PublicKey.String()
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO user_wallets (user_id, public_key, wallet_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id)
		DO UPDATE SET public_key = EXCLUDED.public_key, wallet_id = EXCLUDED.wallet_id`,
		w.UserID, pub, w.WalletID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("register wallet: %w", err)
	}
	return nil
}
