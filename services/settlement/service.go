package settlement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/voix-network/settlement_layer/internal/chain"
	"github.com/voix-network/settlement_layer/pkg/logger"
)

// TxGateway signs and submits a built transaction and reports the outcome.
type TxGateway interface {
	Submit(ctx context.Context, built *chain.BuiltTransaction, walletID string) (Receipt, error)
}

// Directory resolves application user ids to custodial wallets.
type Directory interface {
	UserWallet(ctx context.Context, userID string) (*UserWallet, error)
}

// KarmaAwarder credits reputation for a settled tip and returns the
// receiver's new total.
type KarmaAwarder interface {
	AwardTip(ctx context.Context, userID string) (int64, error)
}

// BalanceReader reads on-chain holdings.
type BalanceReader interface {
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)
	TokenBalance(ctx context.Context, tokenAccount solana.PublicKey) (uint64, error)
}

// SymbolSOL is the denomination for native tips. Any other symbol is
// interpreted as a base58 SPL mint address.
const SymbolSOL = "SOL"

// ServiceConfig carries the administrative identity and token defaults.
type ServiceConfig struct {
	// AdminWalletID is the custodial handle of the program admin wallet.
	AdminWalletID string
	// AdminPublicKey is the admin wallet's on-chain key.
	AdminPublicKey solana.PublicKey
	// USDCMint is the stable token reported in balance snapshots.
	USDCMint solana.PublicKey
}

// Service drives settlements end to end: wallet resolution, outbox
// persistence, transaction building, gated submission and off-chain
// recording. Every collaborator is injected.
type Service struct {
	cfg       ServiceConfig
	builder   *chain.Builder
	gateway   TxGateway
	store     Store
	directory Directory
	karma     KarmaAwarder
	balances  BalanceReader
	metrics   *Metrics
	log       *logger.Logger
}

// NewService creates the settlement orchestrator. karma, balances and
// metrics may be nil; the corresponding features degrade to no-ops.
func NewService(
	cfg ServiceConfig,
	builder *chain.Builder,
	gateway TxGateway,
	store Store,
	directory Directory,
	karma KarmaAwarder,
	balances BalanceReader,
	metrics *Metrics,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.NewDefault("settlement")
	}
	if cfg.USDCMint.IsZero() {
		cfg.USDCMint = chain.USDCMintDevnet
	}
	return &Service{
		cfg:       cfg,
		builder:   builder,
		gateway:   gateway,
		store:     store,
		directory: directory,
		karma:     karma,
		balances:  balances,
		metrics:   metrics,
		log:       log,
	}
}

// SetKarma installs the reputation sink after construction. The karma
// service and the settlement service reference each other, so one side is
// wired late.
func (s *Service) SetKarma(k KarmaAwarder) { s.karma = k }

// =============================================================================
// Tips
// =============================================================================

// TipUser settles one tip: the sender's wallet pays the receiver's wallet
// on chain, and on confirmation the tip is recorded and reputation
// credited. The outbox row is persisted before anything touches the
// network, so a crash mid-flight leaves a reconcilable trace.
func (s *Service) TipUser(ctx context.Context, req TipRequest) (*TipResult, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("tip %s: %w", req.BuzzID, chain.ErrInvalidAmount)
	}

	sender, err := s.lookupWallet(ctx, req.SenderID)
	if err != nil {
		return nil, err
	}
	receiver, err := s.lookupWallet(ctx, req.ReceiverID)
	if err != nil {
		return nil, err
	}
	if !receiver.HasPublicKey() {
		return nil, fmt.Errorf("receiver %s: %w", req.ReceiverID, ErrRecipientNotEligible)
	}
	if !sender.HasPublicKey() {
		return nil, fmt.Errorf("sender %s: %w", req.SenderID, ErrSenderNotEligible)
	}

	kind := KindTipSPL
	symbol := strings.TrimSpace(req.Symbol)
	if strings.EqualFold(symbol, SymbolSOL) {
		kind = KindTipSOL
		symbol = SymbolSOL
	}

	row := &Settlement{
		Kind:         kind,
		State:        StatePending,
		SenderID:     req.SenderID,
		ReceiverID:   req.ReceiverID,
		BuzzID:       req.BuzzID,
		Amount:       req.Amount,
		Denomination: symbol,
	}
	if err := s.store.CreateSettlement(ctx, row); err != nil {
		return nil, fmt.Errorf("persist settlement: %w", err)
	}

	params, err := s.tipParams(kind, sender, receiver, req.Amount, symbol)
	if err != nil {
		s.fail(ctx, row.ID, StateRejected, err)
		return nil, err
	}

	receipt, err := s.settle(ctx, row.ID, params, sender.WalletID)
	if err != nil {
		return nil, err
	}
	row.TxSignature = receipt.Signature.String()

	result := &TipResult{
		SettlementID: row.ID,
		TxSignature:  receipt.Signature.String(),
		Amount:       req.Amount,
		Symbol:       symbol,
	}

	// Recording and reputation are best-effort here: the chain write is
	// done, and the sweep re-drives anything that fails past this point.
	tipID, newKarma, err := s.record(ctx, row)
	if err != nil {
		s.log.Error("record settled tip", "settlement_id", row.ID, "err", err)
		return result, nil
	}
	result.TipID = tipID
	result.NewKarma = newKarma
	return result, nil
}

func (s *Service) tipParams(kind Kind, sender, receiver *UserWallet, amount float64, symbol string) (chain.InstructionParams, error) {
	if kind == KindTipSOL {
		return chain.TipSOLParams{
			Tipper:   sender.PublicKey,
			Receiver: receiver.PublicKey,
			Amount:   amount,
		}, nil
	}
	mint, err := solana.PublicKeyFromBase58(symbol)
	if err != nil {
		return nil, fmt.Errorf("parse token mint %q: %w", symbol, err)
	}
	return chain.TipSPLParams{
		Tipper:   sender.PublicKey,
		Receiver: receiver.PublicKey,
		Mint:     mint,
		Amount:   amount,
	}, nil
}

// record lands the off-chain bookkeeping for a confirmed tip: the tip row,
// the transaction row, the karma credit and finally the recorded
// transition. The tip and transaction rows reuse the settlement's id, so a
// retried record is a no-op insert and exactly one of each exists no
// matter how many sweeps re-drive the row. Any partial failure leaves the
// settlement in the confirmed state for the next sweep.
func (s *Service) record(ctx context.Context, row *Settlement) (string, int64, error) {
	tip := &Tip{
		ID:       row.ID,
		SenderID: row.SenderID,
		BuzzID:   row.BuzzID,
		Amount:   row.Amount,
		Symbol:   row.Denomination,
	}
	if err := s.store.CreateTip(ctx, tip); err != nil {
		return "", 0, fmt.Errorf("create tip record: %w", err)
	}
	tx := &ChainTransaction{
		ID:          row.ID,
		SenderID:    row.SenderID,
		ReceiverID:  row.ReceiverID,
		Amount:      row.Amount,
		Symbol:      row.Denomination,
		TxSignature: row.TxSignature,
		Kind:        row.Kind,
	}
	if err := s.store.CreateChainTransaction(ctx, tx); err != nil {
		return "", 0, fmt.Errorf("create transaction record: %w", err)
	}

	var newKarma int64
	if s.karma != nil {
		total, err := s.karma.AwardTip(ctx, row.ReceiverID)
		if err != nil {
			return "", 0, fmt.Errorf("award karma for tip: %w", err)
		}
		newKarma = total
	}

	if err := s.store.UpdateSettlement(ctx, row.ID, StateRecorded, "", ""); err != nil {
		return "", 0, fmt.Errorf("mark recorded: %w", err)
	}
	return tip.ID, newKarma, nil
}

// =============================================================================
// Administrative settlements
// =============================================================================

// InitializeConfig creates the program's global config account. One-time,
// admin-signed.
func (s *Service) InitializeConfig(ctx context.Context) (string, error) {
	row := &Settlement{Kind: KindInitConfig, State: StatePending, SenderID: s.cfg.AdminWalletID}
	if err := s.store.CreateSettlement(ctx, row); err != nil {
		return "", fmt.Errorf("persist settlement: %w", err)
	}
	receipt, err := s.settle(ctx, row.ID, chain.InitializeConfigParams{Admin: s.cfg.AdminPublicKey}, s.cfg.AdminWalletID)
	if err != nil {
		return "", err
	}
	s.finishAdmin(ctx, row.ID)
	return receipt.Signature.String(), nil
}

// InitializeUser creates the on-chain account for a user's wallet. The
// user's own wallet pays and signs.
func (s *Service) InitializeUser(ctx context.Context, userID string) (string, error) {
	wallet, err := s.lookupWallet(ctx, userID)
	if err != nil {
		return "", err
	}
	if !wallet.HasPublicKey() {
		return "", fmt.Errorf("user %s: %w", userID, ErrRecipientNotEligible)
	}

	row := &Settlement{Kind: KindInitUser, State: StatePending, SenderID: userID}
	if err := s.store.CreateSettlement(ctx, row); err != nil {
		return "", fmt.Errorf("persist settlement: %w", err)
	}
	receipt, err := s.settle(ctx, row.ID, chain.InitializeUserParams{Wallet: wallet.PublicKey}, wallet.WalletID)
	if err != nil {
		return "", err
	}
	s.finishAdmin(ctx, row.ID)
	return receipt.Signature.String(), nil
}

// SyncKarma mirrors a user's off-chain karma total on chain. Admin-signed;
// the off-chain store stays the source of truth and this write may lag.
func (s *Service) SyncKarma(ctx context.Context, userID string, total uint32) (string, error) {
	wallet, err := s.lookupWallet(ctx, userID)
	if err != nil {
		return "", err
	}
	if !wallet.HasPublicKey() {
		return "", fmt.Errorf("user %s: %w", userID, ErrRecipientNotEligible)
	}

	row := &Settlement{Kind: KindKarmaSync, State: StatePending, SenderID: s.cfg.AdminWalletID, ReceiverID: userID, Amount: float64(total)}
	if err := s.store.CreateSettlement(ctx, row); err != nil {
		return "", fmt.Errorf("persist settlement: %w", err)
	}
	params := chain.UpdateKarmaParams{
		Admin:    s.cfg.AdminPublicKey,
		Wallet:   wallet.PublicKey,
		NewKarma: total,
	}
	receipt, err := s.settle(ctx, row.ID, params, s.cfg.AdminWalletID)
	if err != nil {
		return "", err
	}
	s.finishAdmin(ctx, row.ID)
	return receipt.Signature.String(), nil
}

// MintMilestone mints the milestone collectible for a tier to a user's
// wallet. The user's wallet pays and signs; the collectible mint keypair
// is generated and part-signed by the builder.
func (s *Service) MintMilestone(ctx context.Context, userID string, tier uint8) (mint, signature string, err error) {
	wallet, err := s.lookupWallet(ctx, userID)
	if err != nil {
		return "", "", err
	}
	if !wallet.HasPublicKey() {
		return "", "", fmt.Errorf("user %s: %w", userID, ErrRecipientNotEligible)
	}

	row := &Settlement{Kind: KindMilestoneMint, State: StatePending, ReceiverID: userID, Amount: float64(tier)}
	if err := s.store.CreateSettlement(ctx, row); err != nil {
		return "", "", fmt.Errorf("persist settlement: %w", err)
	}

	built, err := s.builder.Build(ctx, chain.MintMilestoneParams{Wallet: wallet.PublicKey, Tier: tier})
	if err != nil {
		s.fail(ctx, row.ID, StateRejected, err)
		return "", "", fmt.Errorf("build milestone mint: %w", err)
	}
	receipt, err := s.submitBuilt(ctx, row.ID, built, wallet.WalletID)
	if err != nil {
		return "", "", err
	}
	s.finishAdmin(ctx, row.ID)
	return built.Mint.String(), receipt.Signature.String(), nil
}

// SubmitContentRoot commits an epoch-stamped digest of off-chain content.
// The epoch must be strictly greater than the last committed one; the
// check happens before any network call and the program enforces the same
// rule on chain.
func (s *Service) SubmitContentRoot(ctx context.Context, root [32]byte, epoch uint64) (string, error) {
	last, err := s.store.LastEpoch(ctx)
	if err != nil {
		return "", fmt.Errorf("read last epoch: %w", err)
	}
	if epoch <= last {
		return "", fmt.Errorf("epoch %d after %d: %w", epoch, last, ErrEpochNotIncreasing)
	}

	row := &Settlement{Kind: KindContentRoot, State: StatePending, SenderID: s.cfg.AdminWalletID, Amount: float64(epoch)}
	if err := s.store.CreateSettlement(ctx, row); err != nil {
		return "", fmt.Errorf("persist settlement: %w", err)
	}
	params := chain.SubmitContentRootParams{Admin: s.cfg.AdminPublicKey, Root: root, Epoch: epoch}
	receipt, err := s.settle(ctx, row.ID, params, s.cfg.AdminWalletID)
	if err != nil {
		return "", err
	}

	sig := receipt.Signature.String()
	if err := s.store.SaveContentRoot(ctx, &ContentRoot{Epoch: epoch, Root: root[:], TxSignature: sig}); err != nil {
		s.log.Error("save content root", "epoch", epoch, "err", err)
	}
	s.finishAdmin(ctx, row.ID)
	return sig, nil
}

// =============================================================================
// Queries
// =============================================================================

// TipsBySender lists tips a user has sent.
func (s *Service) TipsBySender(ctx context.Context, senderID string) ([]*Tip, error) {
	return s.store.TipsBySender(ctx, senderID)
}

// TipsForBuzz lists tips a buzz has received.
func (s *Service) TipsForBuzz(ctx context.Context, buzzID string) ([]*Tip, error) {
	return s.store.TipsForBuzz(ctx, buzzID)
}

// GetSettlement returns one outbox row.
func (s *Service) GetSettlement(ctx context.Context, id string) (*Settlement, error) {
	return s.store.GetSettlement(ctx, id)
}

// WalletBalances snapshots a user's SOL and USDC holdings.
func (s *Service) WalletBalances(ctx context.Context, userID string) (*WalletBalances, error) {
	if s.balances == nil {
		return nil, fmt.Errorf("balance reader not configured")
	}
	wallet, err := s.lookupWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !wallet.HasPublicKey() {
		return nil, fmt.Errorf("user %s: %w", userID, ErrRecipientNotEligible)
	}

	lamports, err := s.balances.Balance(ctx, wallet.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("read SOL balance: %w", err)
	}
	usdcAccount := chain.AssociatedTokenAddress(wallet.PublicKey, s.cfg.USDCMint)
	base, err := s.balances.TokenBalance(ctx, usdcAccount)
	if err != nil {
		return nil, fmt.Errorf("read USDC balance: %w", err)
	}
	return &WalletBalances{
		PublicKey: wallet.PublicKey.String(),
		SOL:       float64(lamports) / float64(chain.LamportsPerSOL),
		USDC:      float64(base) / 1e6,
	}, nil
}

// =============================================================================
// Internals
// =============================================================================

func (s *Service) lookupWallet(ctx context.Context, userID string) (*UserWallet, error) {
	wallet, err := s.directory.UserWallet(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve wallet for %s: %w", userID, err)
	}
	if wallet == nil {
		return nil, fmt.Errorf("user %s: %w", userID, ErrUnknownUser)
	}
	return wallet, nil
}

// settle builds and submits the transaction for one outbox row, advancing
// the row through its lifecycle.
func (s *Service) settle(ctx context.Context, rowID string, params chain.InstructionParams, walletID string) (Receipt, error) {
	built, err := s.builder.Build(ctx, params)
	if err != nil {
		s.fail(ctx, rowID, StateRejected, err)
		return Receipt{}, fmt.Errorf("build transaction: %w", err)
	}
	return s.submitBuilt(ctx, rowID, built, walletID)
}

func (s *Service) submitBuilt(ctx context.Context, rowID string, built *chain.BuiltTransaction, walletID string) (Receipt, error) {
	if err := s.store.UpdateSettlement(ctx, rowID, StateSubmitted, "", ""); err != nil {
		return Receipt{}, fmt.Errorf("mark submitted: %w", err)
	}

	start := time.Now()
	receipt, err := s.gateway.Submit(ctx, built, walletID)
	s.metrics.ObserveSubmission(receipt.Outcome, time.Since(start))

	switch receipt.Outcome {
	case OutcomeConfirmed:
		if uerr := s.store.UpdateSettlement(ctx, rowID, StateConfirmed, receipt.Signature.String(), ""); uerr != nil {
			s.log.Error("mark confirmed", "settlement_id", rowID, "err", uerr)
		}
		return receipt, nil
	case OutcomeSubmittedUnconfirmed:
		if uerr := s.store.UpdateSettlement(ctx, rowID, StateTimedOut, receipt.Signature.String(), receipt.Err); uerr != nil {
			s.log.Error("mark timed out", "settlement_id", rowID, "err", uerr)
		}
		return receipt, err
	default:
		s.fail(ctx, rowID, StateRejected, err)
		return receipt, err
	}
}

// fail records a terminal failure on the outbox row; logging only, the
// original error is what the caller sees.
func (s *Service) fail(ctx context.Context, rowID string, state State, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := s.store.UpdateSettlement(ctx, rowID, state, "", msg); err != nil {
		s.log.Error("record settlement failure", "settlement_id", rowID, "state", state, "err", err)
	}
}

// finishAdmin moves a confirmed administrative row straight to recorded;
// there is no tip bookkeeping to land for these kinds.
func (s *Service) finishAdmin(ctx context.Context, rowID string) {
	if err := s.store.UpdateSettlement(ctx, rowID, StateRecorded, "", ""); err != nil {
		s.log.Error("mark recorded", "settlement_id", rowID, "err", err)
	}
}
