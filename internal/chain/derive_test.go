package chain

import (
	"testing"

	"github.com/gagliardetto/solana-go"
)

func testProgram(t *testing.T) solana.PublicKey {
	t.Helper()
	return solana.MustPublicKeyFromBase58(DefaultProgramID)
}

func TestDeriveDeterministic(t *testing.T) {
	program := testProgram(t)
	wallet := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

	if got, want := ConfigAddress(program), ConfigAddress(program); !got.Equals(want) {
		t.Fatalf("config address not deterministic: %s vs %s", got, want)
	}
	if got, want := UserAddress(program, wallet), UserAddress(program, wallet); !got.Equals(want) {
		t.Fatalf("user address not deterministic: %s vs %s", got, want)
	}
	if got, want := MintAuthorityAddress(program), MintAuthorityAddress(program); !got.Equals(want) {
		t.Fatalf("mint authority not deterministic: %s vs %s", got, want)
	}
}

func TestUserAddressDistinctPerWallet(t *testing.T) {
	program := testProgram(t)

	a, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	b, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatal(err)
	}

	ua := UserAddress(program, a.PublicKey())
	ub := UserAddress(program, b.PublicKey())
	if ua.Equals(ub) {
		t.Fatalf("distinct wallets derived the same user account %s", ua)
	}
	if ua.Equals(a.PublicKey()) {
		t.Fatal("derived address must differ from the wallet itself")
	}
}

func TestSeedsMatchProgram(t *testing.T) {
	program := testProgram(t)

	want, _, err := solana.FindProgramAddress([][]byte{SeedConfig}, program)
	if err != nil {
		t.Fatal(err)
	}
	if got := ConfigAddress(program); !got.Equals(want) {
		t.Fatalf("config address = %s, want %s", got, want)
	}
}

func TestMetadataAddresses(t *testing.T) {
	mintKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	mint := mintKey.PublicKey()

	meta := MetadataAddress(mint)
	edition := MasterEditionAddress(mint)

	wantMeta, _, err := solana.FindProgramAddress(
		[][]byte{SeedMetadata, MetadataProgramID.Bytes(), mint.Bytes()},
		MetadataProgramID,
	)
	if err != nil {
		t.Fatal(err)
	}
	if !meta.Equals(wantMeta) {
		t.Fatalf("metadata address = %s, want %s", meta, wantMeta)
	}
	if edition.Equals(meta) {
		t.Fatal("master edition must extend the metadata seeds")
	}
}

func TestAssociatedTokenAddress(t *testing.T) {
	walletKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	wallet := walletKey.PublicKey()

	got := AssociatedTokenAddress(wallet, USDCMintDevnet)
	want, _, err := solana.FindAssociatedTokenAddress(wallet, USDCMintDevnet)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equals(want) {
		t.Fatalf("associated token address = %s, want %s", got, want)
	}
}
