package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/time/rate"

	"github.com/voix-network/settlement_layer/internal/chain"
	"github.com/voix-network/settlement_layer/pkg/logger"
	"github.com/voix-network/settlement_layer/services/signer"
)

// Outcome classifies what the gateway observed for one submission.
type Outcome string

const (
	// OutcomeRejected means the signer or the ledger refused the
	// transaction; nothing reached the chain.
	OutcomeRejected Outcome = "rejected"

	// OutcomeSubmittedUnconfirmed means the transaction was accepted by
	// the ledger but confirmation was not observed within the bounded
	// wait. The chain-side effect is indeterminate.
	OutcomeSubmittedUnconfirmed Outcome = "submitted_unconfirmed"

	// OutcomeConfirmed means the cluster reported the transaction
	// confirmed or finalized.
	OutcomeConfirmed Outcome = "confirmed"
)

// Receipt is the gateway's report for one submission attempt.
type Receipt struct {
	Outcome   Outcome
	Signature solana.Signature
	Err       string
}

// TransactionSigner exchanges an unsigned transaction for a signed one via
// the custodial wallet identified by walletID.
type TransactionSigner interface {
	SignTransaction(ctx context.Context, walletID string, unsigned []byte) ([]byte, error)
}

// Ledger is the slice of RPC surface the gateway needs.
type Ledger interface {
	SubmitTransaction(ctx context.Context, raw []byte) (solana.Signature, error)
	GetSignatureStatus(ctx context.Context, sig solana.Signature) (chain.SignatureStatus, error)
}

// GatewayConfig tunes submission and confirmation behaviour.
type GatewayConfig struct {
	// ConfirmRetries bounds how many status polls happen before the
	// outcome degrades to SubmittedUnconfirmed.
	ConfirmRetries int
	// ConfirmBackoff is the initial poll interval; it doubles per retry.
	ConfirmBackoff time.Duration
	// SubmitRatePerSec throttles ledger writes. 0 disables throttling.
	SubmitRatePerSec float64
}

// DefaultGatewayConfig returns production defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		ConfirmRetries:   5,
		ConfirmBackoff:   2 * time.Second,
		SubmitRatePerSec: 10,
	}
}

// Gateway signs and submits built transactions. It is the single place a
// long-lived network call happens, and the single place the three partial
// failure modes are told apart.
type Gateway struct {
	signer  TransactionSigner
	ledger  Ledger
	limiter *rate.Limiter
	cfg     GatewayConfig
	log     *logger.Logger
}

// NewGateway creates a signing and submission gateway.
func NewGateway(txSigner TransactionSigner, ledger Ledger, cfg GatewayConfig, log *logger.Logger) *Gateway {
	if cfg.ConfirmRetries <= 0 {
		cfg.ConfirmRetries = DefaultGatewayConfig().ConfirmRetries
	}
	if cfg.ConfirmBackoff <= 0 {
		cfg.ConfirmBackoff = DefaultGatewayConfig().ConfirmBackoff
	}
	if log == nil {
		log = logger.NewDefault("gateway")
	}

	var limiter *rate.Limiter
	if cfg.SubmitRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SubmitRatePerSec), int(cfg.SubmitRatePerSec)+1)
	}

	return &Gateway{signer: txSigner, ledger: ledger, limiter: limiter, cfg: cfg, log: log}
}

// Submit serializes the built transaction, has the custodian sign it for
// walletID, submits it to the ledger, and waits a bounded time for
// confirmation. The error, when non-nil, wraps one of the package's
// sentinel errors matching the receipt's outcome.
func (g *Gateway) Submit(ctx context.Context, built *chain.BuiltTransaction, walletID string) (Receipt, error) {
	unsigned, err := built.Serialize()
	if err != nil {
		return Receipt{Outcome: OutcomeRejected, Err: err.Error()},
			fmt.Errorf("serialize transaction: %w", err)
	}

	signed, err := g.signer.SignTransaction(ctx, walletID, unsigned)
	if err != nil {
		var signerErr *signer.Error
		if errors.As(err, &signerErr) {
			return Receipt{Outcome: OutcomeRejected, Err: signerErr.Message},
				fmt.Errorf("%w: %s", ErrSignerRejected, signerErr.Message)
		}
		return Receipt{Outcome: OutcomeRejected, Err: err.Error()},
			fmt.Errorf("%w: %v", ErrSignerRejected, err)
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return Receipt{Outcome: OutcomeRejected, Err: err.Error()}, err
		}
	}

	sig, err := g.ledger.SubmitTransaction(ctx, signed)
	if err != nil {
		return Receipt{Outcome: OutcomeRejected, Err: err.Error()},
			fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}

	return g.awaitConfirmation(ctx, sig)
}

// awaitConfirmation polls the signature status with increasing backoff.
func (g *Gateway) awaitConfirmation(ctx context.Context, sig solana.Signature) (Receipt, error) {
	backoff := g.cfg.ConfirmBackoff

	for attempt := 0; attempt < g.cfg.ConfirmRetries; attempt++ {
		select {
		case <-ctx.Done():
			return Receipt{Outcome: OutcomeSubmittedUnconfirmed, Signature: sig, Err: ctx.Err().Error()},
				fmt.Errorf("%w: %v", ErrTimedOut, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2

		status, err := g.ledger.GetSignatureStatus(ctx, sig)
		if err != nil {
			g.log.Warn("signature status poll failed", "signature", sig.String(), "err", err)
			continue
		}
		if !status.Observed {
			continue
		}
		if status.Err != "" {
			return Receipt{Outcome: OutcomeRejected, Signature: sig, Err: status.Err},
				fmt.Errorf("%w: %s", ErrSubmissionFailed, status.Err)
		}
		if status.Confirmed {
			return Receipt{Outcome: OutcomeConfirmed, Signature: sig}, nil
		}
	}

	return Receipt{Outcome: OutcomeSubmittedUnconfirmed, Signature: sig},
		fmt.Errorf("%w: signature %s", ErrTimedOut, sig)
}
