package karma

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/voix-network/settlement_layer/pkg/logger"
)

// ChainMirror pushes reputation state on chain. Implemented by the
// settlement service; nil disables mirroring.
type ChainMirror interface {
	// SyncKarma writes the user's new off-chain total to their on-chain
	// account.
	SyncKarma(ctx context.Context, userID string, total uint32) (string, error)
	// MintMilestone mints the tier collectible to the user's wallet and
	// returns the mint address and transaction signature.
	MintMilestone(ctx context.Context, userID string, tier uint8) (mint, signature string, err error)
}

// mirrorTimeout bounds one detached on-chain mirror write, covering the
// full sign/submit/confirm round trip.
const mirrorTimeout = time.Minute

// Service accumulates karma and gates milestone mints. The off-chain
// store is the source of truth; the on-chain mirror is best effort and
// may lag.
type Service struct {
	store Store
	cache *Cache
	chain ChainMirror
	log   *logger.Logger

	mirrors sync.WaitGroup
}

// NewService creates the karma service. cache and chain may be nil.
func NewService(store Store, cache *Cache, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("karma")
	}
	return &Service{store: store, cache: cache, log: log}
}

// SetChain installs the on-chain mirror after construction. The karma
// service and the settlement service reference each other, so one side is
// wired late.
func (s *Service) SetChain(m ChainMirror) { s.chain = m }

// Award credits points to a user and returns the new total. The increment
// is atomic in the store, so concurrent awards never lose points. The
// on-chain mirror runs detached and its failure never loses the off-chain
// credit. Crossing a milestone threshold triggers the mint gate; an award
// that does not qualify, or whose tier is already claimed, passes through
// untouched.
func (s *Service) Award(ctx context.Context, userID string, points int64) (int64, error) {
	if points <= 0 {
		return 0, fmt.Errorf("award %d points: amount must be positive", points)
	}
	total, err := s.store.AddPoints(ctx, userID, points)
	if err != nil {
		return 0, fmt.Errorf("add points: %w", err)
	}

	if err := s.cache.Invalidate(ctx); err != nil {
		s.log.Warn("invalidate leaderboard cache", "err", err)
	}

	s.mirror(userID, total)

	if s.chain != nil {
		if _, err := s.CheckAndMint(ctx, userID); err != nil &&
			!errors.Is(err, ErrThresholdNotMet) && !errors.Is(err, ErrMintAlreadyClaimed) {
			s.log.Warn("milestone gate", "user_id", userID, "err", err)
		}
	}
	return total, nil
}

// mirror pushes the new total on chain without blocking the caller. The
// write carries a fresh context so it survives the award request ending.
func (s *Service) mirror(userID string, total int64) {
	if s.chain == nil {
		return
	}
	s.mirrors.Add(1)
	go func() {
		defer s.mirrors.Done()
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if _, err := s.chain.SyncKarma(ctx, userID, clampTotal(total)); err != nil {
			s.log.Warn("mirror karma on chain", "user_id", userID, "total", total, "err", err)
		}
	}()
}

// Close waits for in-flight mirror writes to finish. Called on shutdown.
func (s *Service) Close() {
	s.mirrors.Wait()
}

// AwardUpvote credits the per-upvote karma.
func (s *Service) AwardUpvote(ctx context.Context, userID string) (int64, error) {
	return s.Award(ctx, userID, PointsUpvote)
}

// AwardTip credits the per-tip karma. Satisfies the settlement service's
// KarmaAwarder.
func (s *Service) AwardTip(ctx context.Context, userID string) (int64, error) {
	return s.Award(ctx, userID, PointsTip)
}

// Points returns a user's current total.
func (s *Service) Points(ctx context.Context, userID string) (int64, error) {
	return s.store.GetPoints(ctx, userID)
}

// Leaderboard returns the top users by karma, cache-first.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]*LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	if cached, err := s.cache.GetLeaderboard(ctx, limit); err != nil {
		s.log.Warn("read leaderboard cache", "err", err)
	} else if cached != nil {
		return cached, nil
	}

	entries, err := s.store.TopUsers(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	if err := s.cache.SetLeaderboard(ctx, entries); err != nil {
		s.log.Warn("write leaderboard cache", "err", err)
	}
	return entries, nil
}

// Milestones returns a user's milestone claims.
func (s *Service) Milestones(ctx context.Context, userID string) ([]*MilestoneClaim, error) {
	return s.store.MintedTiers(ctx, userID)
}

// CheckAndMint mints the highest tier the user qualifies for and has not
// claimed. The durable claim is taken before any transaction is built, so
// two concurrent requests cannot both mint: the loser sees
// ErrMintAlreadyClaimed and nothing reaches the network. A failed mint
// releases the claim for retry.
func (s *Service) CheckAndMint(ctx context.Context, userID string) (*MintResult, error) {
	if s.chain == nil {
		return nil, fmt.Errorf("chain mirror not configured")
	}
	points, err := s.store.GetPoints(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get points: %w", err)
	}

	tier, err := s.eligibleTier(ctx, userID, points)
	if err != nil {
		return nil, err
	}

	claimed, err := s.store.ClaimTier(ctx, userID, tier)
	if err != nil {
		return nil, fmt.Errorf("claim tier: %w", err)
	}
	if !claimed {
		return nil, fmt.Errorf("%s for %s: %w", tier, userID, ErrMintAlreadyClaimed)
	}

	mint, sig, err := s.chain.MintMilestone(ctx, userID, uint8(tier))
	if err != nil {
		if rerr := s.store.ReleaseTier(ctx, userID, tier); rerr != nil {
			s.log.Error("release milestone claim", "user_id", userID, "tier", tier, "err", rerr)
		}
		return nil, fmt.Errorf("mint %s milestone: %w", tier, err)
	}

	if err := s.store.MarkMinted(ctx, userID, tier, mint); err != nil {
		// The chain write landed; the claim stays held so no second mint
		// can happen, and the mint address is recoverable from the ledger.
		s.log.Error("mark milestone minted", "user_id", userID, "tier", tier, "mint", mint, "err", err)
	}
	s.log.Info("milestone minted", "user_id", userID, "tier", tier.String(), "mint", mint)
	return &MintResult{Tier: tier, NFTMint: mint, TxSignature: sig}, nil
}

// eligibleTier picks the highest unclaimed tier whose threshold the
// user's points meet.
func (s *Service) eligibleTier(ctx context.Context, userID string, points int64) (Tier, error) {
	claims, err := s.store.MintedTiers(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list claims: %w", err)
	}
	held := make(map[Tier]bool, len(claims))
	for _, c := range claims {
		held[c.Tier] = true
	}

	qualified := false
	for _, tier := range []Tier{TierGold, TierSilver, TierBronze} {
		if points < tier.Threshold() {
			continue
		}
		qualified = true
		if !held[tier] {
			return tier, nil
		}
	}
	if qualified {
		return 0, fmt.Errorf("user %s: %w", userID, ErrMintAlreadyClaimed)
	}
	return 0, fmt.Errorf("user %s has %d points: %w", userID, points, ErrThresholdNotMet)
}

// clampTotal narrows the off-chain total to the on-chain field width.
func clampTotal(total int64) uint32 {
	if total < 0 {
		return 0
	}
	if total > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(total)
}
