package chain

import (
	"context"
	"errors"
	"fmt"
	"math"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// ErrInvalidAmount is returned when a tip amount is zero or negative.
// The program rejects zero-amount tips, so the builder refuses them before
// any network call is made.
var ErrInvalidAmount = errors.New("tip amount must be greater than zero")

// ErrInvalidTier is returned for milestone levels outside 1..3.
var ErrInvalidTier = errors.New("milestone tier must be 1, 2 or 3")

// BlockhashSource supplies a fresh recent blockhash. Attaching it bounds
// how long a built transaction stays valid on the ledger.
type BlockhashSource interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
}

// Builder assembles unsigned transactions for the Voix program. One builder
// is constructed at process start and shared across requests.
type Builder struct {
	program   solana.PublicKey
	blockhash BlockhashSource
}

// NewBuilder creates a transaction builder for the given program.
func NewBuilder(program solana.PublicKey, source BlockhashSource) *Builder {
	return &Builder{program: program, blockhash: source}
}

// BuiltTransaction is an assembled, unsigned (or partially signed)
// transaction ready for the custodial signer.
type BuiltTransaction struct {
	Tx       *solana.Transaction
	FeePayer solana.PublicKey

	// Mint is set for milestone mints: the freshly generated collectible
	// mint whose keypair has already partially signed the transaction.
	Mint solana.PublicKey
}

// Serialize returns the transaction in the ledger's canonical wire encoding.
func (bt *BuiltTransaction) Serialize() ([]byte, error) {
	return bt.Tx.MarshalBinary()
}

// InstructionParams is the tagged parameter variant for one instruction
// kind. Each implementation carries its own strongly typed fields and is
// dispatched through Builder.Build.
type InstructionParams interface {
	instruction() string
	validate() error
}

// InitializeConfigParams creates the global config account. Admin-only.
type InitializeConfigParams struct {
	Admin solana.PublicKey
}

// InitializeUserParams creates the per-user on-chain account.
type InitializeUserParams struct {
	Wallet solana.PublicKey
}

// TipSOLParams transfers native SOL from tipper to receiver.
// Amount is in whole SOL and is scaled to lamports by the builder.
type TipSOLParams struct {
	Tipper   solana.PublicKey
	Receiver solana.PublicKey
	Amount   float64
}

// TipSPLParams transfers an SPL token from tipper to receiver.
// Amount is in whole tokens and is scaled by the mint's decimals.
type TipSPLParams struct {
	Tipper   solana.PublicKey
	Receiver solana.PublicKey
	Mint     solana.PublicKey
	Amount   float64
	Decimals uint8 // 0 means DefaultTokenDecimals
}

// UpdateKarmaParams mirrors a user's off-chain karma total on chain.
// Admin-only.
type UpdateKarmaParams struct {
	Admin    solana.PublicKey
	Wallet   solana.PublicKey
	NewKarma uint32
}

// MintMilestoneParams mints the milestone collectible for a tier (1..3).
type MintMilestoneParams struct {
	Wallet solana.PublicKey
	Tier   uint8
}

// SubmitContentRootParams commits a batched content digest. Admin-only;
// the program rejects non-increasing epochs.
type SubmitContentRootParams struct {
	Admin solana.PublicKey
	Root  [32]byte
	Epoch uint64
}

func (InitializeConfigParams) instruction() string  { return "initialize_config" }
func (InitializeUserParams) instruction() string    { return "initialize_user" }
func (TipSOLParams) instruction() string            { return "tip_user_sol" }
func (TipSPLParams) instruction() string            { return "tip_user_spl" }
func (UpdateKarmaParams) instruction() string       { return "update_user_karma" }
func (MintMilestoneParams) instruction() string     { return "mint_milestone_nft" }
func (SubmitContentRootParams) instruction() string { return "submit_merkle_root" }

func (InitializeConfigParams) validate() error  { return nil }
func (InitializeUserParams) validate() error    { return nil }
func (UpdateKarmaParams) validate() error       { return nil }
func (SubmitContentRootParams) validate() error { return nil }

func (p TipSOLParams) validate() error {
	if p.Amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (p TipSPLParams) validate() error {
	if p.Amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (p MintMilestoneParams) validate() error {
	if p.Tier < 1 || p.Tier > 3 {
		return ErrInvalidTier
	}
	return nil
}

// Build assembles the unsigned transaction for the given instruction
// parameters: validates inputs, resolves every touched account, encodes the
// arguments, and attaches a fresh recent blockhash. Milestone mints also
// generate the collectible mint keypair and sign with it.
func (b *Builder) Build(ctx context.Context, params InstructionParams) (*BuiltTransaction, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	var (
		ins     solana.Instruction
		payer   solana.PublicKey
		mintKey *solana.PrivateKey
		err     error
	)

	switch p := params.(type) {
	case InitializeConfigParams:
		ins, payer = b.initializeConfig(p)
	case InitializeUserParams:
		ins, payer = b.initializeUser(p)
	case TipSOLParams:
		ins, payer, err = b.tipSOL(p)
	case TipSPLParams:
		ins, payer, err = b.tipSPL(p)
	case UpdateKarmaParams:
		ins, payer, err = b.updateKarma(p)
	case MintMilestoneParams:
		ins, payer, mintKey, err = b.mintMilestone(p)
	case SubmitContentRootParams:
		ins, payer, err = b.submitContentRoot(p)
	default:
		return nil, fmt.Errorf("unsupported instruction params %T", params)
	}
	if err != nil {
		return nil, err
	}

	blockhash, err := b.blockhash.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch recent blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{ins},
		blockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return nil, fmt.Errorf("assemble transaction: %w", err)
	}

	built := &BuiltTransaction{Tx: tx, FeePayer: payer}

	if mintKey != nil {
		built.Mint = mintKey.PublicKey()
		_, err = tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
			if key.Equals(built.Mint) {
				return mintKey
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("sign with mint keypair: %w", err)
		}
	}

	return built, nil
}

func (b *Builder) initializeConfig(p InitializeConfigParams) (solana.Instruction, solana.PublicKey) {
	accounts := solana.AccountMetaSlice{
		solana.Meta(p.Admin).WRITE().SIGNER(),
		solana.Meta(ConfigAddress(b.program)).WRITE(),
		solana.Meta(solana.SystemProgramID),
	}
	return solana.NewInstruction(b.program, accounts, instructionData(p, nil)), p.Admin
}

func (b *Builder) initializeUser(p InitializeUserParams) (solana.Instruction, solana.PublicKey) {
	accounts := solana.AccountMetaSlice{
		solana.Meta(p.Wallet).WRITE().SIGNER(),
		solana.Meta(UserAddress(b.program, p.Wallet)).WRITE(),
		solana.Meta(solana.SystemProgramID),
	}
	return solana.NewInstruction(b.program, accounts, instructionData(p, nil)), p.Wallet
}

func (b *Builder) tipSOL(p TipSOLParams) (solana.Instruction, solana.PublicKey, error) {
	args, err := borshArgs(struct{ Amount uint64 }{LamportsForSOL(p.Amount)})
	if err != nil {
		return nil, solana.PublicKey{}, err
	}
	accounts := solana.AccountMetaSlice{
		solana.Meta(p.Tipper).WRITE().SIGNER(),
		solana.Meta(p.Receiver).WRITE(),
		solana.Meta(UserAddress(b.program, p.Receiver)).WRITE(),
		solana.Meta(solana.SystemProgramID),
	}
	return solana.NewInstruction(b.program, accounts, instructionData(p, args)), p.Tipper, nil
}

func (b *Builder) tipSPL(p TipSPLParams) (solana.Instruction, solana.PublicKey, error) {
	decimals := p.Decimals
	if decimals == 0 {
		decimals = DefaultTokenDecimals
	}
	args, err := borshArgs(struct{ Amount uint64 }{TokenBaseUnits(p.Amount, decimals)})
	if err != nil {
		return nil, solana.PublicKey{}, err
	}
	accounts := solana.AccountMetaSlice{
		solana.Meta(p.Tipper).WRITE().SIGNER(),
		solana.Meta(p.Receiver),
		solana.Meta(UserAddress(b.program, p.Receiver)),
		solana.Meta(p.Mint),
		solana.Meta(AssociatedTokenAddress(p.Tipper, p.Mint)).WRITE(),
		solana.Meta(AssociatedTokenAddress(p.Receiver, p.Mint)).WRITE(),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(solana.SPLAssociatedTokenAccountProgramID),
		solana.Meta(solana.SystemProgramID),
	}
	return solana.NewInstruction(b.program, accounts, instructionData(p, args)), p.Tipper, nil
}

func (b *Builder) updateKarma(p UpdateKarmaParams) (solana.Instruction, solana.PublicKey, error) {
	args, err := borshArgs(struct{ NewKarma uint32 }{p.NewKarma})
	if err != nil {
		return nil, solana.PublicKey{}, err
	}
	accounts := solana.AccountMetaSlice{
		solana.Meta(p.Admin).WRITE().SIGNER(),
		solana.Meta(ConfigAddress(b.program)),
		solana.Meta(UserAddress(b.program, p.Wallet)).WRITE(),
		solana.Meta(p.Wallet),
	}
	return solana.NewInstruction(b.program, accounts, instructionData(p, args)), p.Admin, nil
}

func (b *Builder) mintMilestone(p MintMilestoneParams) (solana.Instruction, solana.PublicKey, *solana.PrivateKey, error) {
	mintKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, solana.PublicKey{}, nil, fmt.Errorf("generate mint keypair: %w", err)
	}
	mint := mintKey.PublicKey()

	args, err := borshArgs(struct {
		Tier   uint8
		Name   string
		Symbol string
		URI    string
	}{p.Tier, MilestoneName(p.Tier), NFTSymbol, MilestoneURI(p.Tier)})
	if err != nil {
		return nil, solana.PublicKey{}, nil, err
	}

	accounts := solana.AccountMetaSlice{
		solana.Meta(p.Wallet).WRITE().SIGNER(),
		solana.Meta(UserAddress(b.program, p.Wallet)).WRITE(),
		solana.Meta(MintAuthorityAddress(b.program)),
		solana.Meta(mint).WRITE().SIGNER(),
		solana.Meta(AssociatedTokenAddress(p.Wallet, mint)).WRITE(),
		solana.Meta(MetadataAddress(mint)).WRITE(),
		solana.Meta(MasterEditionAddress(mint)).WRITE(),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(solana.SPLAssociatedTokenAccountProgramID),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(solana.SysVarRentPubkey),
		solana.Meta(MetadataProgramID),
	}
	return solana.NewInstruction(b.program, accounts, instructionData(p, args)), p.Wallet, &mintKey, nil
}

func (b *Builder) submitContentRoot(p SubmitContentRootParams) (solana.Instruction, solana.PublicKey, error) {
	args, err := borshArgs(struct {
		Root  [32]byte
		Epoch uint64
	}{p.Root, p.Epoch})
	if err != nil {
		return nil, solana.PublicKey{}, err
	}
	accounts := solana.AccountMetaSlice{
		solana.Meta(p.Admin).WRITE().SIGNER(),
		solana.Meta(ConfigAddress(b.program)).WRITE(),
	}
	return solana.NewInstruction(b.program, accounts, instructionData(p, args)), p.Admin, nil
}

// instructionData prefixes the Borsh-encoded arguments with the
// instruction's discriminator.
func instructionData(params InstructionParams, args []byte) []byte {
	data := anchorDiscriminator(params.instruction())
	return append(data, args...)
}

func borshArgs(v any) ([]byte, error) {
	data, err := bin.MarshalBorsh(v)
	if err != nil {
		return nil, fmt.Errorf("encode instruction args: %w", err)
	}
	return data, nil
}

// LamportsForSOL converts a whole-SOL amount to lamports, flooring
// fractional base units.
func LamportsForSOL(amount float64) uint64 {
	return uint64(math.Floor(amount * LamportsPerSOL))
}

// TokenBaseUnits converts a whole-token amount to base units for the given
// decimals, flooring fractional base units.
func TokenBaseUnits(amount float64, decimals uint8) uint64 {
	return uint64(math.Floor(amount * math.Pow10(int(decimals))))
}

// MilestoneName returns the collectible name for a tier.
func MilestoneName(tier uint8) string {
	return NFTName + " " + tierLabel(tier)
}

// MilestoneURI returns the metadata URI for a tier.
func MilestoneURI(tier uint8) string {
	switch tier {
	case 1:
		return NFTURI + "bronze"
	case 2:
		return NFTURI + "silver"
	default:
		return NFTURI + "gold"
	}
}

func tierLabel(tier uint8) string {
	switch tier {
	case 1:
		return "Bronze"
	case 2:
		return "Silver"
	default:
		return "Gold"
	}
}
