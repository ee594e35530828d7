package settlement

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/voix-network/settlement_layer/internal/chain"
)

// Test doubles shared by this package's tests and by consumers wiring the
// service without a live cluster.

// MockDirectory is a Directory over a fixed user→wallet map.
type MockDirectory struct {
	Wallets map[string]*UserWallet
}

// NewMockDirectory creates a directory seeded with the given wallets.
func NewMockDirectory(wallets ...*UserWallet) *MockDirectory {
	d := &MockDirectory{Wallets: make(map[string]*UserWallet)}
	for _, w := range wallets {
		d.Wallets[w.UserID] = w
	}
	return d
}

// UserWallet resolves a user id, returning (nil, nil) for unknown users.
func (d *MockDirectory) UserWallet(ctx context.Context, userID string) (*UserWallet, error) {
	return d.Wallets[userID], nil
}

// MockGateway is a TxGateway returning a scripted receipt, recording every
// submission it saw.
type MockGateway struct {
	mu       sync.Mutex
	Receipt  Receipt
	Err      error
	Submits  []*chain.BuiltTransaction
	WalletID []string
}

// Submit records the call and returns the scripted result.
func (g *MockGateway) Submit(ctx context.Context, built *chain.BuiltTransaction, walletID string) (Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Submits = append(g.Submits, built)
	g.WalletID = append(g.WalletID, walletID)
	return g.Receipt, g.Err
}

// Calls returns how many submissions arrived.
func (g *MockGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Submits)
}

// MockLedger is a Ledger returning scripted statuses keyed by signature.
type MockLedger struct {
	mu        sync.Mutex
	SubmitSig solana.Signature
	SubmitErr error
	Statuses  map[solana.Signature]chain.SignatureStatus
	StatusErr error
	polls     int
}

// SubmitTransaction returns the scripted signature.
func (l *MockLedger) SubmitTransaction(ctx context.Context, raw []byte) (solana.Signature, error) {
	return l.SubmitSig, l.SubmitErr
}

// GetSignatureStatus returns the scripted status for sig.
func (l *MockLedger) GetSignatureStatus(ctx context.Context, sig solana.Signature) (chain.SignatureStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.polls++
	if l.StatusErr != nil {
		return chain.SignatureStatus{}, l.StatusErr
	}
	return l.Statuses[sig], nil
}

// Polls returns how many status polls happened.
func (l *MockLedger) Polls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.polls
}

// MockSigner is a TransactionSigner that echoes the unsigned bytes,
// optionally failing.
type MockSigner struct {
	Err     error
	Signed  [][]byte
	Wallets []string
}

// SignTransaction records the call and returns the bytes unchanged.
func (s *MockSigner) SignTransaction(ctx context.Context, walletID string, unsigned []byte) ([]byte, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.Signed = append(s.Signed, unsigned)
	s.Wallets = append(s.Wallets, walletID)
	return unsigned, nil
}

// MockKarma is a KarmaAwarder counting awards per user.
type MockKarma struct {
	mu     sync.Mutex
	Totals map[string]int64
	Err    error
}

// AwardTip credits a fixed five points and returns the running total.
func (k *MockKarma) AwardTip(ctx context.Context, userID string) (int64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.Err != nil {
		return 0, k.Err
	}
	if k.Totals == nil {
		k.Totals = make(map[string]int64)
	}
	k.Totals[userID] += 5
	return k.Totals[userID], nil
}

// StaticBlockhash is a chain.BlockhashSource returning a fixed hash.
type StaticBlockhash struct {
	Hash solana.Hash
	Err  error
}

// LatestBlockhash returns the fixed hash.
func (s StaticBlockhash) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	if s.Err != nil {
		return solana.Hash{}, s.Err
	}
	return s.Hash, nil
}

// TestWallet builds a UserWallet with a random keypair for tests.
func TestWallet(userID string) *UserWallet {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		panic(fmt.Sprintf("generate test wallet: %v", err))
	}
	return &UserWallet{
		UserID:    userID,
		PublicKey: key.PublicKey(),
		WalletID:  "wallet-" + userID,
	}
}
