package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/voix-network/settlement_layer/internal/chain"
	"github.com/voix-network/settlement_layer/pkg/logger"
)

type fixture struct {
	svc     *Service
	store   *MemoryStore
	gateway *MockGateway
	karma   *MockKarma
	sender  *UserWallet
	rcvr    *UserWallet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	sender := TestWallet("alice")
	receiver := TestWallet("bob")
	store := NewMemoryStore()
	gateway := &MockGateway{
		Receipt: Receipt{Outcome: OutcomeConfirmed, Signature: solana.Signature{7}},
	}
	karma := &MockKarma{}

	admin := TestWallet("admin")
	builder := chain.NewBuilder(
		solana.MustPublicKeyFromBase58(chain.DefaultProgramID),
		StaticBlockhash{Hash: solana.Hash{4}},
	)
	svc := NewService(
		ServiceConfig{AdminWalletID: admin.WalletID, AdminPublicKey: admin.PublicKey},
		builder, gateway, store,
		NewMockDirectory(sender, receiver, admin),
		karma, nil, nil, logger.Nop(),
	)
	return &fixture{svc: svc, store: store, gateway: gateway, karma: karma, sender: sender, rcvr: receiver}
}

func TestTipUserSettlesAndRecords(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.TipUser(context.Background(), TipRequest{
		SenderID:   "alice",
		ReceiverID: "bob",
		BuzzID:     "buzz-1",
		Amount:     0.25,
		Symbol:     "sol",
	})
	if err != nil {
		t.Fatalf("tip: %v", err)
	}
	if result.TxSignature == "" || result.TipID == "" {
		t.Fatalf("incomplete result %+v", result)
	}
	if result.NewKarma != 5 {
		t.Fatalf("new karma = %d, want 5", result.NewKarma)
	}
	if result.Symbol != SymbolSOL {
		t.Fatalf("symbol = %q, want normalized SOL", result.Symbol)
	}

	row, err := f.store.GetSettlement(context.Background(), result.SettlementID)
	if err != nil {
		t.Fatal(err)
	}
	if row.State != StateRecorded {
		t.Fatalf("state = %s, want recorded", row.State)
	}
	if row.Kind != KindTipSOL {
		t.Fatalf("kind = %s", row.Kind)
	}

	tips, err := f.store.TipsForBuzz(context.Background(), "buzz-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(tips) != 1 {
		t.Fatalf("got %d tip records, want 1", len(tips))
	}
	if f.gateway.WalletID[0] != f.sender.WalletID {
		t.Fatalf("signed with %s, want sender's wallet", f.gateway.WalletID[0])
	}
}

func TestTipUserSPLKind(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.TipUser(context.Background(), TipRequest{
		SenderID:   "alice",
		ReceiverID: "bob",
		BuzzID:     "buzz-2",
		Amount:     3,
		Symbol:     chain.USDCMintDevnet.String(),
	})
	if err != nil {
		t.Fatalf("tip: %v", err)
	}
	row, _ := f.store.GetSettlement(context.Background(), result.SettlementID)
	if row.Kind != KindTipSPL {
		t.Fatalf("kind = %s, want tip_spl", row.Kind)
	}
}

func TestTipUserIneligibleReceiverFailsFast(t *testing.T) {
	f := newFixture(t)
	f.svc.directory = NewMockDirectory(
		f.sender,
		&UserWallet{UserID: "bob", WalletID: "wallet-bob"}, // no public key
	)

	_, err := f.svc.TipUser(context.Background(), TipRequest{
		SenderID: "alice", ReceiverID: "bob", BuzzID: "b", Amount: 1, Symbol: "SOL",
	})
	if !errors.Is(err, ErrRecipientNotEligible) {
		t.Fatalf("err = %v, want ErrRecipientNotEligible", err)
	}
	if f.gateway.Calls() != 0 {
		t.Fatal("nothing may reach the gateway for an ineligible receiver")
	}
	if rows, _ := f.store.ListSettlementsByState(context.Background(), StatePending, time.Now().Add(time.Hour), 10); len(rows) != 0 {
		t.Fatal("no outbox row may be created before eligibility passes")
	}
}

func TestTipUserIneligibleSenderFailsFast(t *testing.T) {
	f := newFixture(t)
	f.svc.directory = NewMockDirectory(
		&UserWallet{UserID: "alice", WalletID: "wallet-alice"}, // no public key
		f.rcvr,
	)

	_, err := f.svc.TipUser(context.Background(), TipRequest{
		SenderID: "alice", ReceiverID: "bob", BuzzID: "b", Amount: 1, Symbol: "SOL",
	})
	if !errors.Is(err, ErrSenderNotEligible) {
		t.Fatalf("err = %v, want ErrSenderNotEligible", err)
	}
	if errors.Is(err, ErrRecipientNotEligible) {
		t.Fatal("sender ineligibility must not be reported as the receiver's")
	}
	if f.gateway.Calls() != 0 {
		t.Fatal("nothing may reach the gateway for an ineligible sender")
	}
}

func TestTipUserUnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.TipUser(context.Background(), TipRequest{
		SenderID: "alice", ReceiverID: "nobody", BuzzID: "b", Amount: 1, Symbol: "SOL",
	})
	if !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("err = %v, want ErrUnknownUser", err)
	}
}

func TestTipUserGatewayRejection(t *testing.T) {
	f := newFixture(t)
	f.gateway.Receipt = Receipt{Outcome: OutcomeRejected, Err: "wallet frozen"}
	f.gateway.Err = ErrSignerRejected

	_, err := f.svc.TipUser(context.Background(), TipRequest{
		SenderID: "alice", ReceiverID: "bob", BuzzID: "b", Amount: 1, Symbol: "SOL",
	})
	if !errors.Is(err, ErrSignerRejected) {
		t.Fatalf("err = %v, want ErrSignerRejected", err)
	}

	rows, _ := f.store.ListSettlementsByState(context.Background(), StateRejected, time.Now().Add(time.Hour), 10)
	if len(rows) != 1 {
		t.Fatalf("got %d rejected rows, want 1", len(rows))
	}
	if len(f.store.Tips()) != 0 {
		t.Fatal("a rejected tip must not be recorded")
	}
	if len(f.karma.Totals) != 0 {
		t.Fatal("a rejected tip must not award karma")
	}
}

func TestTipUserTimedOut(t *testing.T) {
	f := newFixture(t)
	f.gateway.Receipt = Receipt{Outcome: OutcomeSubmittedUnconfirmed, Signature: solana.Signature{8}}
	f.gateway.Err = ErrTimedOut

	_, err := f.svc.TipUser(context.Background(), TipRequest{
		SenderID: "alice", ReceiverID: "bob", BuzzID: "b", Amount: 1, Symbol: "SOL",
	})
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("err = %v, want ErrTimedOut", err)
	}

	rows, _ := f.store.ListSettlementsByState(context.Background(), StateTimedOut, time.Now().Add(time.Hour), 10)
	if len(rows) != 1 {
		t.Fatalf("got %d timed out rows, want 1", len(rows))
	}
	if rows[0].TxSignature == "" {
		t.Fatal("timed out row must keep its signature for reconciliation")
	}
}

func TestSubmitContentRootEpochMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.SubmitContentRoot(ctx, [32]byte{1}, 5); err != nil {
		t.Fatalf("first root: %v", err)
	}
	calls := f.gateway.Calls()

	_, err := f.svc.SubmitContentRoot(ctx, [32]byte{2}, 5)
	if !errors.Is(err, ErrEpochNotIncreasing) {
		t.Fatalf("err = %v, want ErrEpochNotIncreasing", err)
	}
	_, err = f.svc.SubmitContentRoot(ctx, [32]byte{2}, 4)
	if !errors.Is(err, ErrEpochNotIncreasing) {
		t.Fatalf("err = %v, want ErrEpochNotIncreasing", err)
	}
	if f.gateway.Calls() != calls {
		t.Fatal("stale epochs must be refused before any network call")
	}

	if _, err := f.svc.SubmitContentRoot(ctx, [32]byte{3}, 6); err != nil {
		t.Fatalf("next epoch: %v", err)
	}
	last, _ := f.store.LastEpoch(ctx)
	if last != 6 {
		t.Fatalf("last epoch = %d, want 6", last)
	}
}

func TestSyncKarmaSignsAsAdmin(t *testing.T) {
	f := newFixture(t)

	sig, err := f.svc.SyncKarma(context.Background(), "bob", 1500)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if sig == "" {
		t.Fatal("expected a signature")
	}
	if got := f.gateway.WalletID[0]; got != "wallet-admin" {
		t.Fatalf("signed with %s, want the admin wallet", got)
	}
}

func TestMintMilestoneReturnsMint(t *testing.T) {
	f := newFixture(t)

	mint, sig, err := f.svc.MintMilestone(context.Background(), "bob", 1)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if mint == "" || sig == "" {
		t.Fatalf("mint=%q sig=%q", mint, sig)
	}
	if got := f.gateway.WalletID[0]; got != f.rcvr.WalletID {
		t.Fatalf("signed with %s, want the user's wallet", got)
	}
	if f.gateway.Submits[0].Mint.IsZero() {
		t.Fatal("milestone build must carry the generated mint")
	}
}

func TestTipRejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t)

	for _, amount := range []float64{0, -1} {
		_, err := f.svc.TipUser(context.Background(), TipRequest{
			SenderID: "alice", ReceiverID: "bob", BuzzID: "b", Amount: amount, Symbol: "SOL",
		})
		if !errors.Is(err, chain.ErrInvalidAmount) {
			t.Fatalf("amount %v: err = %v, want ErrInvalidAmount", amount, err)
		}
	}
	if f.gateway.Calls() != 0 {
		t.Fatal("invalid amounts must be refused before any network call")
	}
}
