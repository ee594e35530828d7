package karma

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/voix-network/settlement_layer/pkg/logger"
)

func newTestService(t *testing.T) (*Service, *MemoryStore, *MockMirror) {
	t.Helper()
	store := NewMemoryStore()
	mirror := &MockMirror{}
	svc := NewService(store, nil, logger.Nop())
	svc.SetChain(mirror)
	return svc, store, mirror
}

func TestAwardAccumulates(t *testing.T) {
	svc, _, mirror := newTestService(t)
	ctx := context.Background()

	if total, err := svc.AwardUpvote(ctx, "alice"); err != nil || total != PointsUpvote {
		t.Fatalf("upvote: total=%d err=%v", total, err)
	}
	svc.Close()
	if total, err := svc.AwardTip(ctx, "alice"); err != nil || total != PointsUpvote+PointsTip {
		t.Fatalf("tip: total=%d err=%v", total, err)
	}

	svc.Close()
	if mirror.Synced["alice"] != uint32(PointsUpvote+PointsTip) {
		t.Fatalf("mirrored total = %d", mirror.Synced["alice"])
	}
}

func TestAwardCrossingThresholdMints(t *testing.T) {
	svc, store, mirror := newTestService(t)
	ctx := context.Background()
	store.AddPoints(ctx, "alice", 999)

	total, err := svc.AwardUpvote(ctx, "alice")
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if total != 1000 {
		t.Fatalf("total = %d, want 1000", total)
	}
	if mirror.Mints() != 1 {
		t.Fatalf("mint attempts after crossing the first threshold = %d, want 1", mirror.Mints())
	}

	claims, _ := store.MintedTiers(ctx, "alice")
	if len(claims) != 1 || claims[0].Tier != TierBronze || claims[0].Status != ClaimMinted {
		t.Fatalf("claims = %+v", claims)
	}

	// Further awards below the next threshold mint nothing more.
	if _, err := svc.AwardUpvote(ctx, "alice"); err != nil {
		t.Fatalf("award: %v", err)
	}
	if mirror.Mints() != 1 {
		t.Fatalf("mint attempts after a non-crossing award = %d, want 1", mirror.Mints())
	}
	svc.Close()
}

func TestAwardConcurrentLosesNothing(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.AwardTip(ctx, "alice"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	svc.Close()

	total, err := store.GetPoints(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if want := int64(workers) * PointsTip; total != want {
		t.Fatalf("total = %d, want %d", total, want)
	}
}

func TestAwardSurvivesMirrorFailure(t *testing.T) {
	svc, store, mirror := newTestService(t)
	mirror.SyncErr = errors.New("rpc down")

	total, err := svc.Award(context.Background(), "alice", 10)
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if total != 10 {
		t.Fatalf("total = %d", total)
	}
	svc.Close()
	if pts, _ := store.GetPoints(context.Background(), "alice"); pts != 10 {
		t.Fatal("off-chain credit must land even when the mirror fails")
	}
}

func TestCheckAndMintBelowThreshold(t *testing.T) {
	svc, store, mirror := newTestService(t)
	ctx := context.Background()
	store.AddPoints(ctx, "alice", 999)

	_, err := svc.CheckAndMint(ctx, "alice")
	if !errors.Is(err, ErrThresholdNotMet) {
		t.Fatalf("err = %v, want ErrThresholdNotMet", err)
	}
	if mirror.Mints() != 0 {
		t.Fatal("no mint may be attempted below the threshold")
	}
}

func TestCheckAndMintHighestEligibleTier(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	store.AddPoints(ctx, "alice", 6000)

	result, err := svc.CheckAndMint(ctx, "alice")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if result.Tier != TierSilver {
		t.Fatalf("tier = %s, want Silver", result.Tier)
	}
	if result.NFTMint == "" || result.TxSignature == "" {
		t.Fatalf("incomplete result %+v", result)
	}

	claims, _ := store.MintedTiers(ctx, "alice")
	if len(claims) != 1 || claims[0].Status != ClaimMinted {
		t.Fatalf("claims = %+v", claims)
	}

	// The next eligible tier is the one below.
	result, err = svc.CheckAndMint(ctx, "alice")
	if err != nil {
		t.Fatalf("second mint: %v", err)
	}
	if result.Tier != TierBronze {
		t.Fatalf("tier = %s, want Bronze", result.Tier)
	}

	// Everything the user qualifies for is now claimed.
	_, err = svc.CheckAndMint(ctx, "alice")
	if !errors.Is(err, ErrMintAlreadyClaimed) {
		t.Fatalf("err = %v, want ErrMintAlreadyClaimed", err)
	}
}

func TestCheckAndMintDuplicateIsNoOp(t *testing.T) {
	svc, store, mirror := newTestService(t)
	ctx := context.Background()
	store.AddPoints(ctx, "alice", 1200)

	if _, err := svc.CheckAndMint(ctx, "alice"); err != nil {
		t.Fatalf("first mint: %v", err)
	}
	_, err := svc.CheckAndMint(ctx, "alice")
	if !errors.Is(err, ErrMintAlreadyClaimed) {
		t.Fatalf("err = %v, want ErrMintAlreadyClaimed", err)
	}
	if mirror.Mints() != 1 {
		t.Fatalf("%d mint attempts reached the chain, want 1", mirror.Mints())
	}
}

func TestCheckAndMintReleasesClaimOnFailure(t *testing.T) {
	svc, store, mirror := newTestService(t)
	ctx := context.Background()
	store.AddPoints(ctx, "alice", 1200)

	mirror.MintErr = errors.New("cluster unavailable")
	if _, err := svc.CheckAndMint(ctx, "alice"); err == nil {
		t.Fatal("expected the mint to fail")
	}

	// The claim came back, so the retry succeeds.
	mirror.MintErr = nil
	result, err := svc.CheckAndMint(ctx, "alice")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if result.Tier != TierBronze {
		t.Fatalf("tier = %s", result.Tier)
	}
}

func TestLeaderboardOrdering(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	store.AddPoints(ctx, "alice", 50)
	store.AddPoints(ctx, "bob", 200)
	store.AddPoints(ctx, "carol", 100)

	entries, err := svc.Leaderboard(ctx, 2)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].UserID != "bob" || entries[0].Rank != 1 {
		t.Fatalf("first = %+v", entries[0])
	}
	if entries[1].UserID != "carol" || entries[1].Rank != 2 {
		t.Fatalf("second = %+v", entries[1])
	}
}

func TestTierThresholds(t *testing.T) {
	cases := []struct {
		tier Tier
		want int64
	}{
		{TierBronze, 1000},
		{TierSilver, 5000},
		{TierGold, 10000},
	}
	for _, tc := range cases {
		if got := tc.tier.Threshold(); got != tc.want {
			t.Errorf("%s threshold = %d, want %d", tc.tier, got, tc.want)
		}
	}
	if Tier(0).Valid() || Tier(4).Valid() {
		t.Error("tiers outside 1..3 must be invalid")
	}
}
