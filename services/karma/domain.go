// Package karma accumulates user reputation, serves the leaderboard, and
// gates milestone collectible mints on karma thresholds.
package karma

import (
	"errors"
	"time"

	"github.com/voix-network/settlement_layer/internal/chain"
)

var (
	// ErrMintAlreadyClaimed means another request holds or finished the
	// claim for this user and tier. The duplicate is a no-op.
	ErrMintAlreadyClaimed = errors.New("milestone mint already claimed")

	// ErrThresholdNotMet means the user's karma is below every unminted
	// tier's requirement.
	ErrThresholdNotMet = errors.New("karma below milestone threshold")
)

// Points awarded per engagement event.
const (
	PointsUpvote int64 = 1
	PointsTip    int64 = 5
)

// Tier identifies a milestone level.
type Tier uint8

const (
	TierBronze Tier = 1
	TierSilver Tier = 2
	TierGold   Tier = 3
)

// String returns the tier's display name.
func (t Tier) String() string {
	switch t {
	case TierBronze:
		return "Bronze"
	case TierSilver:
		return "Silver"
	case TierGold:
		return "Gold"
	default:
		return "Unknown"
	}
}

// Threshold returns the karma required to mint this tier.
func (t Tier) Threshold() int64 {
	switch t {
	case TierBronze:
		return int64(chain.BronzeKarmaReq)
	case TierSilver:
		return int64(chain.SilverKarmaReq)
	case TierGold:
		return int64(chain.GoldKarmaReq)
	default:
		return 0
	}
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t >= TierBronze && t <= TierGold
}

// Claim status values. A claim is held while a mint is in flight and
// either finishes as minted or is released for retry.
const (
	ClaimPending = "pending"
	ClaimMinted  = "minted"
)

// MilestoneClaim is the durable record gating one user's mint of one tier.
type MilestoneClaim struct {
	UserID    string    `db:"user_id" json:"user_id"`
	Tier      Tier      `db:"tier" json:"tier"`
	Status    string    `db:"status" json:"status"`
	NFTMint   string    `db:"nft_mint" json:"nft_mint,omitempty"`
	ClaimedAt time.Time `db:"claimed_at" json:"claimed_at"`
}

// LeaderboardEntry is one row of the karma ranking.
type LeaderboardEntry struct {
	UserID string `db:"user_id" json:"user_id"`
	Points int64  `db:"points" json:"points"`
	Rank   int    `json:"rank"`
}

// MintResult reports a completed milestone mint.
type MintResult struct {
	Tier        Tier   `json:"tier"`
	NFTMint     string `json:"nft_mint"`
	TxSignature string `json:"tx_signature"`
}
