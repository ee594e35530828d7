package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/robfig/cron/v3"

	"github.com/voix-network/settlement_layer/pkg/logger"
)

// SweeperConfig tunes the reconciliation schedule.
type SweeperConfig struct {
	// Schedule is a cron expression; the default runs every minute.
	Schedule string
	// StaleAfter is how long a row must sit untouched before the sweep
	// picks it up, so in-flight settlements are left alone.
	StaleAfter time.Duration
	// BatchSize bounds rows per state per run.
	BatchSize int
}

// DefaultSweeperConfig returns production defaults.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Schedule:   "@every 1m",
		StaleAfter: 2 * time.Minute,
		BatchSize:  50,
	}
}

// Sweeper is the outbox reconciliation loop. It re-drives rows the happy
// path dropped: confirmed rows whose bookkeeping never landed, and
// submitted rows whose confirmation poll was cut short.
type Sweeper struct {
	svc    *Service
	ledger Ledger
	cfg    SweeperConfig
	cron   *cron.Cron
	log    *logger.Logger
}

// NewSweeper creates a reconciliation sweeper over the service's outbox.
func NewSweeper(svc *Service, ledger Ledger, cfg SweeperConfig, log *logger.Logger) *Sweeper {
	def := DefaultSweeperConfig()
	if cfg.Schedule == "" {
		cfg.Schedule = def.Schedule
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if log == nil {
		log = logger.NewDefault("sweeper")
	}
	return &Sweeper{svc: svc, ledger: ledger, cfg: cfg, log: log}
}

// Start schedules the sweep and returns. Stop cancels it.
func (sw *Sweeper) Start() error {
	sw.cron = cron.New()
	if _, err := sw.cron.AddFunc(sw.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := sw.Sweep(ctx); err != nil {
			sw.log.Error("reconciliation sweep", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	sw.cron.Start()
	sw.log.Info("reconciliation sweeper started", "schedule", sw.cfg.Schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (sw *Sweeper) Stop() {
	if sw.cron != nil {
		<-sw.cron.Stop().Done()
	}
}

// Sweep runs one reconciliation pass.
func (sw *Sweeper) Sweep(ctx context.Context) error {
	recovered := 0
	n, err := sw.recoverConfirmed(ctx)
	recovered += n
	if err != nil {
		sw.svc.metrics.ObserveSweep(recovered)
		return err
	}
	n, err = sw.resolveSubmitted(ctx)
	recovered += n
	sw.svc.metrics.ObserveSweep(recovered)
	return err
}

// recoverConfirmed finishes bookkeeping for rows whose chain write
// confirmed but whose recording failed, typically across a crash. The tip
// and transaction rows are keyed by the settlement id, so a re-driven
// recording inserts nothing new; only the karma credit and the recorded
// transition are replayed.
func (sw *Sweeper) recoverConfirmed(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-sw.cfg.StaleAfter)
	rows, err := sw.svc.store.ListSettlementsByState(ctx, StateConfirmed, cutoff, sw.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list confirmed settlements: %w", err)
	}

	recovered := 0
	for _, row := range rows {
		switch row.Kind {
		case KindTipSOL, KindTipSPL:
			if _, _, err := sw.svc.record(ctx, row); err != nil {
				sw.log.Error("re-record confirmed tip", "settlement_id", row.ID, "err", err)
				continue
			}
		default:
			if err := sw.svc.store.UpdateSettlement(ctx, row.ID, StateRecorded, "", ""); err != nil {
				sw.log.Error("re-record confirmed settlement", "settlement_id", row.ID, "err", err)
				continue
			}
		}
		recovered++
		sw.log.Info("recovered confirmed settlement", "settlement_id", row.ID, "kind", row.Kind)
	}
	return recovered, nil
}

// resolveSubmitted asks the ledger what became of rows whose confirmation
// poll never concluded and settles them accordingly.
func (sw *Sweeper) resolveSubmitted(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-sw.cfg.StaleAfter)

	resolved := 0
	for _, state := range []State{StateSubmitted, StateTimedOut} {
		rows, err := sw.svc.store.ListSettlementsByState(ctx, state, cutoff, sw.cfg.BatchSize)
		if err != nil {
			return resolved, fmt.Errorf("list %s settlements: %w", state, err)
		}
		for _, row := range rows {
			if row.TxSignature == "" {
				// Never reached the ledger; nothing can confirm now.
				if state == StateSubmitted {
					sw.fail(ctx, row, "lost before submission")
					resolved++
				}
				continue
			}
			sig, err := solana.SignatureFromBase58(row.TxSignature)
			if err != nil {
				sw.fail(ctx, row, fmt.Sprintf("bad signature: %v", err))
				resolved++
				continue
			}
			status, err := sw.ledger.GetSignatureStatus(ctx, sig)
			if err != nil {
				sw.log.Warn("signature status", "settlement_id", row.ID, "err", err)
				continue
			}
			switch {
			case status.Observed && status.Err != "":
				sw.fail(ctx, row, status.Err)
				resolved++
			case status.Observed && status.Confirmed:
				if err := sw.svc.store.UpdateSettlement(ctx, row.ID, StateConfirmed, "", ""); err != nil {
					sw.log.Error("mark confirmed", "settlement_id", row.ID, "err", err)
					continue
				}
				resolved++
				sw.log.Info("late confirmation observed", "settlement_id", row.ID)
			case state == StateSubmitted:
				// Unobserved and stale: park it as timed out so it stops
				// looking in-flight. The signature is kept for later polls.
				if err := sw.svc.store.UpdateSettlement(ctx, row.ID, StateTimedOut, "", "confirmation never observed"); err != nil {
					sw.log.Error("mark timed out", "settlement_id", row.ID, "err", err)
				}
			}
		}
	}
	return resolved, nil
}

func (sw *Sweeper) fail(ctx context.Context, row *Settlement, msg string) {
	if err := sw.svc.store.UpdateSettlement(ctx, row.ID, StateRejected, "", msg); err != nil {
		sw.log.Error("mark rejected", "settlement_id", row.ID, "err", err)
	}
}
