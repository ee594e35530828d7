// Package chain provides Solana interaction for the Settlement Layer:
// program-derived address resolution, instruction building, and RPC access
// for the Voix on-chain program.
package chain

import (
	"crypto/sha256"

	"github.com/gagliardetto/solana-go"
)

// DefaultProgramID is the deployed Voix program.
const DefaultProgramID = "DgCkfcZY1GJkLZd5htKob4XDorcpmnP9UP4f6kXo8Up7"

// PDA seeds. These must match the on-chain program byte for byte.
var (
	SeedConfig        = []byte("config")
	SeedUser          = []byte("user")
	SeedMintAuthority = []byte("mint_authority")
	SeedMetadata      = []byte("metadata")
	SeedEdition       = []byte("edition")
)

// Fixed external program ids.
var (
	// MetadataProgramID is the Metaplex Token Metadata program.
	MetadataProgramID = solana.MustPublicKeyFromBase58("metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s")

	// USDCMintDevnet is the default SPL mint for token tips on devnet.
	USDCMintDevnet = solana.MustPublicKeyFromBase58("4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU")
)

// Amount scaling.
const (
	// LamportsPerSOL converts native amounts to base units.
	LamportsPerSOL = 1_000_000_000

	// DefaultTokenDecimals is the scale for SPL tips (USDC).
	DefaultTokenDecimals = 6
)

// Karma thresholds required to mint each milestone tier, and the bit flags
// the program records in UserAccount.minted_milestones.
const (
	BronzeKarmaReq uint32 = 1000
	SilverKarmaReq uint32 = 5000
	GoldKarmaReq   uint32 = 10000

	BronzeMilestoneFlag uint8 = 1
	SilverMilestoneFlag uint8 = 2
	GoldMilestoneFlag   uint8 = 4
)

// Milestone collectible metadata conventions.
const (
	NFTName   = "Voix Milestone"
	NFTSymbol = "VOIX"
	NFTURI    = "https://voix.com/metadata/"
)

// anchorDiscriminator returns the 8-byte instruction tag the program's
// dispatcher expects: sha256("global:<name>")[0..8].
func anchorDiscriminator(name string) []byte {
	h := sha256.Sum256([]byte("global:" + name))
	return h[:8]
}
