// Package settlement provides the tip settlement orchestrator: it drives a
// tip or administrative chain write end to end through building, custodial
// signing, ledger submission and off-chain recording, with a durable outbox
// for reconciliation.
package settlement

import (
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Error taxonomy. All network-boundary failures surface as one of these,
// wrapped with context; callers classify with errors.Is.
var (
	// ErrRecipientNotEligible means the receiver has no on-chain public
	// key. Fails fast, no network call.
	ErrRecipientNotEligible = errors.New("recipient has no on-chain account")

	// ErrSenderNotEligible is the sender-side counterpart.
	ErrSenderNotEligible = errors.New("sender has no on-chain account")

	// ErrSignerRejected means the custodial signer declined. Retryable by
	// the caller with a fresh request.
	ErrSignerRejected = errors.New("custodial signer rejected the transaction")

	// ErrSubmissionFailed means the ledger refused the transaction.
	ErrSubmissionFailed = errors.New("ledger submission failed")

	// ErrTimedOut means confirmation was not observed within the bounded
	// wait. The chain-side effect is indeterminate: callers must be warned
	// before retrying to avoid double payment.
	ErrTimedOut = errors.New("confirmation not observed in time")

	// ErrEpochNotIncreasing means a content root was submitted with an
	// epoch at or below the last committed one.
	ErrEpochNotIncreasing = errors.New("content root epoch must be strictly increasing")

	// ErrUnknownUser means the directory has no record for a user id.
	ErrUnknownUser = errors.New("unknown user")
)

// Kind identifies what a settlement attempt moves on chain.
type Kind string

const (
	KindTipSOL        Kind = "tip_sol"
	KindTipSPL        Kind = "tip_spl"
	KindMilestoneMint Kind = "milestone_mint"
	KindKarmaSync     Kind = "karma_sync"
	KindContentRoot   Kind = "content_root"
	KindInitUser      Kind = "init_user"
	KindInitConfig    Kind = "init_config"
)

// State is the persisted position of a settlement in its lifecycle.
// pending → submitted → {confirmed | rejected | timed_out}; confirmed
// settlements become recorded once off-chain bookkeeping lands. A
// settlement stuck in confirmed is the reconciliation sweep's work queue.
type State string

const (
	StatePending   State = "pending"
	StateSubmitted State = "submitted"
	StateConfirmed State = "confirmed"
	StateRecorded  State = "recorded"
	StateRejected  State = "rejected"
	StateTimedOut  State = "timed_out"
)

// Terminal reports whether no further transition can happen. timed_out is
// not terminal: the reconciliation sweep may still observe a late
// confirmation for it.
func (s State) Terminal() bool {
	return s == StateRecorded || s == StateRejected
}

// Settlement is one durable outbox row: a single attempt to move value or
// state on the ledger and reflect it off chain. Persisted before
// submission so a crash never loses an in-flight attempt.
type Settlement struct {
	ID           string    `db:"id" json:"id"`
	Kind         Kind      `db:"kind" json:"kind"`
	State        State     `db:"state" json:"state"`
	SenderID     string    `db:"sender_id" json:"sender_id"`
	ReceiverID   string    `db:"receiver_id" json:"receiver_id"`
	BuzzID       string    `db:"buzz_id" json:"buzz_id"`
	Amount       float64   `db:"amount" json:"amount"`
	Denomination string    `db:"denomination" json:"denomination"`
	Attempt      int       `db:"attempt" json:"attempt"`
	TxSignature  string    `db:"tx_signature" json:"tx_signature"`
	LastError    string    `db:"last_error" json:"last_error,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Tip is the off-chain record of a confirmed tip on a buzz.
type Tip struct {
	ID        string    `db:"id" json:"id"`
	SenderID  string    `db:"sender_id" json:"sender_id"`
	BuzzID    string    `db:"buzz_id" json:"buzz_id"`
	Amount    float64   `db:"amount" json:"amount"`
	Symbol    string    `db:"symbol" json:"symbol"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ChainTransaction is the off-chain record of a confirmed ledger write.
type ChainTransaction struct {
	ID          string    `db:"id" json:"id"`
	SenderID    string    `db:"sender_id" json:"sender_id"`
	ReceiverID  string    `db:"receiver_id" json:"receiver_id"`
	Amount      float64   `db:"amount" json:"amount"`
	Symbol      string    `db:"symbol" json:"symbol"`
	TxSignature string    `db:"tx_signature" json:"tx_signature"`
	Kind        Kind      `db:"kind" json:"kind"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ContentRoot is a committed epoch-stamped digest of off-chain content.
type ContentRoot struct {
	Epoch       uint64    `db:"epoch" json:"epoch"`
	Root        []byte    `db:"root" json:"root"`
	TxSignature string    `db:"tx_signature" json:"tx_signature"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// TipRequest describes one tip attempt. Symbol is "SOL" for native tips or
// the base58 mint address of an SPL token.
type TipRequest struct {
	SenderID   string  `json:"sender_id"`
	ReceiverID string  `json:"receiver_id"`
	BuzzID     string  `json:"buzz_id"`
	Amount     float64 `json:"amount"`
	Symbol     string  `json:"symbol"`
}

// TipResult reports a settled tip back to the caller.
type TipResult struct {
	SettlementID string  `json:"settlement_id"`
	TipID        string  `json:"tip_id,omitempty"`
	TxSignature  string  `json:"tx_signature"`
	Amount       float64 `json:"amount"`
	Symbol       string  `json:"symbol"`
	NewKarma     int64   `json:"new_karma,omitempty"`
}

// UserWallet is a user's custodial wallet identity: the on-chain public
// key and the opaque handle the signing service knows the wallet by.
type UserWallet struct {
	UserID    string
	PublicKey solana.PublicKey
	WalletID  string
}

// HasPublicKey reports whether the wallet can appear in an instruction.
func (w *UserWallet) HasPublicKey() bool {
	return w != nil && !w.PublicKey.IsZero()
}

// WalletBalances is a snapshot of a user's on-chain holdings.
type WalletBalances struct {
	PublicKey string  `json:"public_key"`
	SOL       float64 `json:"sol"`
	USDC      float64 `json:"usdc"`
}
