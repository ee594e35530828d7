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

func newSweepFixture(t *testing.T, ledger *MockLedger) (*fixture, *Sweeper) {
	t.Helper()
	f := newFixture(t)
	sw := NewSweeper(f.svc, ledger, SweeperConfig{StaleAfter: time.Nanosecond, BatchSize: 10}, logger.Nop())
	return f, sw
}

// seedRow plants an outbox row in a given state with a stale timestamp.
func seedRow(t *testing.T, f *fixture, state State, sig string) *Settlement {
	t.Helper()
	row := &Settlement{
		Kind:         KindTipSOL,
		State:        state,
		SenderID:     "alice",
		ReceiverID:   "bob",
		BuzzID:       "buzz-crash",
		Amount:       0.5,
		Denomination: SymbolSOL,
		TxSignature:  sig,
	}
	if err := f.store.CreateSettlement(context.Background(), row); err != nil {
		t.Fatal(err)
	}
	// Direct map poke; MemoryStore timestamps rows at creation and the
	// sweep only looks at stale ones.
	f.store.mu.Lock()
	f.store.settlements[row.ID].State = state
	f.store.settlements[row.ID].UpdatedAt = time.Now().UTC().Add(-time.Hour)
	f.store.mu.Unlock()
	return row
}

func TestSweepRecoversConfirmedTipExactlyOnce(t *testing.T) {
	f, sw := newSweepFixture(t, &MockLedger{})
	sig := solana.Signature{5}.String()
	row := seedRow(t, f, StateConfirmed, sig)

	ctx := context.Background()
	if err := sw.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, _ := f.store.GetSettlement(ctx, row.ID)
	if got.State != StateRecorded {
		t.Fatalf("state = %s, want recorded", got.State)
	}
	if len(f.store.Tips()) != 1 {
		t.Fatalf("got %d tip records, want 1", len(f.store.Tips()))
	}
	if f.karma.Totals["bob"] != 5 {
		t.Fatalf("karma = %d, want 5", f.karma.Totals["bob"])
	}

	// A second pass over an already recorded row must do nothing.
	if err := sw.Sweep(ctx); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(f.store.Tips()) != 1 {
		t.Fatalf("second sweep duplicated the tip record: %d", len(f.store.Tips()))
	}
	if f.karma.Totals["bob"] != 5 {
		t.Fatalf("second sweep duplicated the karma award: %d", f.karma.Totals["bob"])
	}
}

// brownoutStore fails CreateChainTransaction a set number of times before
// delegating, standing in for a database that drops out mid-recording.
type brownoutStore struct {
	*MemoryStore
	txFailures int
}

func (s *brownoutStore) CreateChainTransaction(ctx context.Context, tx *ChainTransaction) error {
	if s.txFailures > 0 {
		s.txFailures--
		return errors.New("connection reset by peer")
	}
	return s.MemoryStore.CreateChainTransaction(ctx, tx)
}

// backdate pushes a row's timestamp into the past so the sweep sees it.
func backdate(t *testing.T, f *fixture, id string) {
	t.Helper()
	f.store.mu.Lock()
	f.store.settlements[id].UpdatedAt = time.Now().UTC().Add(-time.Hour)
	f.store.mu.Unlock()
}

func TestSweepRedrivesPartialRecordingWithoutDuplicates(t *testing.T) {
	f, sw := newSweepFixture(t, &MockLedger{})
	f.svc.store = &brownoutStore{MemoryStore: f.store, txFailures: 1}

	ctx := context.Background()
	result, err := f.svc.TipUser(ctx, TipRequest{
		SenderID:   "alice",
		ReceiverID: "bob",
		BuzzID:     "buzz-brownout",
		Amount:     0.5,
		Symbol:     SymbolSOL,
	})
	if err != nil {
		t.Fatalf("tip: %v", err)
	}

	// The tip row landed but the transaction insert did not, so the
	// settlement is still waiting in confirmed.
	row, _ := f.store.GetSettlement(ctx, result.SettlementID)
	if row.State != StateConfirmed {
		t.Fatalf("state = %s, want confirmed", row.State)
	}
	if len(f.store.Tips()) != 1 {
		t.Fatalf("got %d tip records, want 1", len(f.store.Tips()))
	}

	backdate(t, f, result.SettlementID)
	if err := sw.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	row, _ = f.store.GetSettlement(ctx, result.SettlementID)
	if row.State != StateRecorded {
		t.Fatalf("state = %s, want recorded", row.State)
	}
	if got := len(f.store.Tips()); got != 1 {
		t.Fatalf("got %d tip records, want 1", got)
	}
	if got := len(f.store.Transactions()); got != 1 {
		t.Fatalf("got %d transaction records, want 1", got)
	}
	if f.karma.Totals["bob"] != 5 {
		t.Fatalf("karma = %d, want 5", f.karma.Totals["bob"])
	}
}

func TestSweepRedrivesKarmaAfterAwardFailure(t *testing.T) {
	f, sw := newSweepFixture(t, &MockLedger{})
	f.karma.Err = errors.New("karma store unavailable")

	ctx := context.Background()
	result, err := f.svc.TipUser(ctx, TipRequest{
		SenderID:   "alice",
		ReceiverID: "bob",
		BuzzID:     "buzz-award",
		Amount:     0.5,
		Symbol:     SymbolSOL,
	})
	if err != nil {
		t.Fatalf("tip: %v", err)
	}

	// Award failed, so the row must not have reached recorded.
	row, _ := f.store.GetSettlement(ctx, result.SettlementID)
	if row.State != StateConfirmed {
		t.Fatalf("state = %s, want confirmed", row.State)
	}
	if f.karma.Totals["bob"] != 0 {
		t.Fatalf("karma = %d, want 0", f.karma.Totals["bob"])
	}

	f.karma.Err = nil
	backdate(t, f, result.SettlementID)
	if err := sw.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	row, _ = f.store.GetSettlement(ctx, result.SettlementID)
	if row.State != StateRecorded {
		t.Fatalf("state = %s, want recorded", row.State)
	}
	if f.karma.Totals["bob"] != 5 {
		t.Fatalf("karma = %d, want 5", f.karma.Totals["bob"])
	}
	if got := len(f.store.Tips()); got != 1 {
		t.Fatalf("got %d tip records, want 1", got)
	}
}

func TestSweepResolvesLateConfirmation(t *testing.T) {
	sig := solana.Signature{6}
	ledger := &MockLedger{
		Statuses: map[solana.Signature]chain.SignatureStatus{
			sig: {Observed: true, Confirmed: true},
		},
	}
	f, sw := newSweepFixture(t, ledger)
	row := seedRow(t, f, StateTimedOut, sig.String())

	ctx := context.Background()
	if err := sw.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, _ := f.store.GetSettlement(ctx, row.ID)
	if got.State != StateConfirmed {
		t.Fatalf("state = %s, want confirmed", got.State)
	}

	// The next pass finishes the bookkeeping.
	if err := sw.Sweep(ctx); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	got, _ = f.store.GetSettlement(ctx, row.ID)
	if got.State != StateRecorded {
		t.Fatalf("state = %s, want recorded", got.State)
	}
	if len(f.store.Tips()) != 1 {
		t.Fatalf("got %d tip records, want 1", len(f.store.Tips()))
	}
}

func TestSweepRejectsFailedOnChain(t *testing.T) {
	sig := solana.Signature{7}
	ledger := &MockLedger{
		Statuses: map[solana.Signature]chain.SignatureStatus{
			sig: {Observed: true, Err: "custom program error: 0x1"},
		},
	}
	f, sw := newSweepFixture(t, ledger)
	row := seedRow(t, f, StateSubmitted, sig.String())

	ctx := context.Background()
	if err := sw.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, _ := f.store.GetSettlement(ctx, row.ID)
	if got.State != StateRejected {
		t.Fatalf("state = %s, want rejected", got.State)
	}
	if len(f.store.Tips()) != 0 {
		t.Fatal("a failed transaction must not be recorded as a tip")
	}
}

func TestSweepRejectsLostBeforeSubmission(t *testing.T) {
	f, sw := newSweepFixture(t, &MockLedger{})
	row := seedRow(t, f, StateSubmitted, "")

	ctx := context.Background()
	if err := sw.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, _ := f.store.GetSettlement(ctx, row.ID)
	if got.State != StateRejected {
		t.Fatalf("state = %s, want rejected", got.State)
	}
}

func TestSweepParksStaleSubmitted(t *testing.T) {
	sig := solana.Signature{8}
	f, sw := newSweepFixture(t, &MockLedger{Statuses: map[solana.Signature]chain.SignatureStatus{}})
	row := seedRow(t, f, StateSubmitted, sig.String())

	ctx := context.Background()
	if err := sw.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, _ := f.store.GetSettlement(ctx, row.ID)
	if got.State != StateTimedOut {
		t.Fatalf("state = %s, want timed_out", got.State)
	}
	if got.TxSignature != sig.String() {
		t.Fatal("signature must survive parking for later polls")
	}
}
