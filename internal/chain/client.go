package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Client wraps the Solana JSON-RPC endpoint used by the engine. One client
// is constructed at process start and injected wherever ledger access is
// needed.
type Client struct {
	rpc *rpc.Client
}

// ClientConfig holds RPC client configuration.
type ClientConfig struct {
	RPCURL  string
	Timeout time.Duration
}

// NewClient creates a Solana RPC client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}
	return &Client{rpc: rpc.New(cfg.RPCURL)}, nil
}

// LatestBlockhash fetches the current recent blockhash. Implements
// BlockhashSource.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	return out.Value.Blockhash, nil
}

// SubmitTransaction submits raw signed transaction bytes to the ledger and
// returns the transaction signature.
func (c *Client) SubmitTransaction(ctx context.Context, raw []byte) (solana.Signature, error) {
	sig, err := c.rpc.SendRawTransactionWithOpts(ctx, raw, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send raw transaction: %w", err)
	}
	return sig, nil
}

// SignatureStatus holds the observed state of a submitted transaction.
type SignatureStatus struct {
	// Observed is false while the ledger has not yet seen the signature.
	Observed bool
	// Confirmed is true once the cluster reports confirmed or finalized.
	Confirmed bool
	// Err is non-empty when the transaction executed and failed.
	Err string
}

// GetSignatureStatus reports the confirmation state of a signature.
func (c *Client) GetSignatureStatus(ctx context.Context, sig solana.Signature) (SignatureStatus, error) {
	out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return SignatureStatus{}, fmt.Errorf("get signature status: %w", err)
	}
	if len(out.Value) == 0 || out.Value[0] == nil {
		return SignatureStatus{}, nil
	}

	st := out.Value[0]
	status := SignatureStatus{Observed: true}
	if st.Err != nil {
		status.Err = fmt.Sprintf("%v", st.Err)
	}
	switch st.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		status.Confirmed = true
	}
	return status, nil
}

// Balance returns the lamport balance of an account.
func (c *Client) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	out, err := c.rpc.GetBalance(ctx, account, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return out.Value, nil
}

// TokenBalance returns the base-unit balance of a token account. A missing
// account reads as zero: the receiver's token account is created lazily on
// the first SPL tip.
func (c *Client) TokenBalance(ctx context.Context, tokenAccount solana.PublicKey) (uint64, error) {
	out, err := c.rpc.GetTokenAccountBalance(ctx, tokenAccount, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, nil
	}
	var amount uint64
	if _, err := fmt.Sscan(out.Value.Amount, &amount); err != nil {
		return 0, fmt.Errorf("parse token amount %q: %w", out.Value.Amount, err)
	}
	return amount, nil
}
