package chain

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Address resolution. Every function here is pure and deterministic:
// identical inputs always yield the identical address. A derivation failure
// means the seed layout disagrees with the on-chain program, which is a
// programming defect, so these panic instead of returning errors.

// ConfigAddress derives the global config account.
func ConfigAddress(program solana.PublicKey) solana.PublicKey {
	return mustDerive(program, SeedConfig)
}

// UserAddress derives the per-user account for a wallet.
func UserAddress(program, wallet solana.PublicKey) solana.PublicKey {
	return mustDerive(program, SeedUser, wallet.Bytes())
}

// MintAuthorityAddress derives the collectible mint authority.
func MintAuthorityAddress(program solana.PublicKey) solana.PublicKey {
	return mustDerive(program, SeedMintAuthority)
}

// MetadataAddress derives the Metaplex metadata account for a mint.
func MetadataAddress(mint solana.PublicKey) solana.PublicKey {
	return mustDerive(MetadataProgramID, SeedMetadata, MetadataProgramID.Bytes(), mint.Bytes())
}

// MasterEditionAddress derives the Metaplex master edition account for a mint.
func MasterEditionAddress(mint solana.PublicKey) solana.PublicKey {
	return mustDerive(MetadataProgramID, SeedMetadata, MetadataProgramID.Bytes(), mint.Bytes(), SeedEdition)
}

// AssociatedTokenAddress derives the wallet's token account for a mint.
func AssociatedTokenAddress(wallet, mint solana.PublicKey) solana.PublicKey {
	addr, _, err := solana.FindAssociatedTokenAddress(wallet, mint)
	if err != nil {
		panic(fmt.Sprintf("derive associated token address for %s/%s: %v", wallet, mint, err))
	}
	return addr
}

func mustDerive(program solana.PublicKey, seeds ...[]byte) solana.PublicKey {
	addr, _, err := solana.FindProgramAddress(seeds, program)
	if err != nil {
		panic(fmt.Sprintf("derive program address under %s: %v", program, err))
	}
	return addr
}
