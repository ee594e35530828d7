package karma

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store is the persistence interface for karma totals and milestone
// claims. AddPoints must be atomic under concurrent awards, and ClaimTier
// must grant a (user, tier) claim to exactly one caller.
type Store interface {
	AddPoints(ctx context.Context, userID string, points int64) (int64, error)
	GetPoints(ctx context.Context, userID string) (int64, error)
	TopUsers(ctx context.Context, limit int) ([]*LeaderboardEntry, error)

	// ClaimTier atomically takes the claim for (userID, tier). It returns
	// false when the claim is already held or minted.
	ClaimTier(ctx context.Context, userID string, tier Tier) (bool, error)
	// ReleaseTier gives a pending claim back so a failed mint can retry.
	ReleaseTier(ctx context.Context, userID string, tier Tier) error
	// MarkMinted finishes a claim with the minted collectible address.
	MarkMinted(ctx context.Context, userID string, tier Tier, nftMint string) error
	// MintedTiers returns the user's claims, pending and minted.
	MintedTiers(ctx context.Context, userID string) ([]*MilestoneClaim, error)
}

// =============================================================================
// Memory Store
// =============================================================================

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu     sync.Mutex
	points map[string]int64
	claims map[string]map[Tier]*MilestoneClaim
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		points: make(map[string]int64),
		claims: make(map[string]map[Tier]*MilestoneClaim),
	}
}

// AddPoints atomically credits points and returns the new total.
func (m *MemoryStore) AddPoints(ctx context.Context, userID string, points int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[userID] += points
	return m.points[userID], nil
}

// GetPoints returns a user's total, zero for unknown users.
func (m *MemoryStore) GetPoints(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.points[userID], nil
}

// TopUsers returns the highest totals, descending.
func (m *MemoryStore) TopUsers(ctx context.Context, limit int) ([]*LeaderboardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*LeaderboardEntry, 0, len(m.points))
	for id, pts := range m.points {
		out = append(out, &LeaderboardEntry{UserID: id, Points: pts})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Points != out[j].Points {
			return out[i].Points > out[j].Points
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i, e := range out {
		e.Rank = i + 1
	}
	return out, nil
}

// ClaimTier takes the claim for (userID, tier) if nobody holds it.
func (m *MemoryStore) ClaimTier(ctx context.Context, userID string, tier Tier) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.claims[userID] == nil {
		m.claims[userID] = make(map[Tier]*MilestoneClaim)
	}
	if _, held := m.claims[userID][tier]; held {
		return false, nil
	}
	m.claims[userID][tier] = &MilestoneClaim{
		UserID:    userID,
		Tier:      tier,
		Status:    ClaimPending,
		ClaimedAt: time.Now().UTC(),
	}
	return true, nil
}

// ReleaseTier drops a pending claim. Minted claims stay.
func (m *MemoryStore) ReleaseTier(ctx context.Context, userID string, tier Tier) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.claims[userID][tier]; ok && c.Status == ClaimPending {
		delete(m.claims[userID], tier)
	}
	return nil
}

// MarkMinted finishes a claim.
func (m *MemoryStore) MarkMinted(ctx context.Context, userID string, tier Tier, nftMint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.claims[userID][tier]
	if !ok {
		c = &MilestoneClaim{UserID: userID, Tier: tier, ClaimedAt: time.Now().UTC()}
		if m.claims[userID] == nil {
			m.claims[userID] = make(map[Tier]*MilestoneClaim)
		}
		m.claims[userID][tier] = c
	}
	c.Status = ClaimMinted
	c.NFTMint = nftMint
	return nil
}

// MintedTiers returns a user's claims sorted by tier.
func (m *MemoryStore) MintedTiers(ctx context.Context, userID string) ([]*MilestoneClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*MilestoneClaim
	for _, c := range m.claims[userID] {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tier < out[j].Tier })
	return out, nil
}
