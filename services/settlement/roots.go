package settlement

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"

	"github.com/voix-network/settlement_layer/pkg/logger"
)

// RootSource produces the next content digest to commit on chain.
// lastEpoch is the highest epoch already committed; implementations return
// ok = false when there is nothing new to anchor.
type RootSource interface {
	NextRoot(ctx context.Context, lastEpoch uint64) (root [32]byte, epoch uint64, ok bool, err error)
}

// RootSubmitterConfig tunes the anchoring schedule.
type RootSubmitterConfig struct {
	// Schedule is a cron expression; the default anchors hourly.
	Schedule string
}

// DefaultRootSubmitterConfig returns production defaults.
func DefaultRootSubmitterConfig() RootSubmitterConfig {
	return RootSubmitterConfig{Schedule: "@every 1h"}
}

// RootSubmitter periodically pulls the next digest from its source and
// commits it through the settlement service, so content roots land on
// chain without anyone asking.
type RootSubmitter struct {
	svc    *Service
	source RootSource
	cfg    RootSubmitterConfig
	cron   *cron.Cron
	log    *logger.Logger
}

// NewRootSubmitter creates a scheduled content-root submitter.
func NewRootSubmitter(svc *Service, source RootSource, cfg RootSubmitterConfig, log *logger.Logger) *RootSubmitter {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultRootSubmitterConfig().Schedule
	}
	if log == nil {
		log = logger.NewDefault("roots")
	}
	return &RootSubmitter{svc: svc, source: source, cfg: cfg, log: log}
}

// Start schedules the submitter and returns. Stop cancels it.
func (r *RootSubmitter) Start() error {
	r.cron = cron.New()
	if _, err := r.cron.AddFunc(r.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := r.SubmitNext(ctx); err != nil {
			r.log.Error("content root submission", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule root submitter: %w", err)
	}
	r.cron.Start()
	r.log.Info("content root submitter started", "schedule", r.cfg.Schedule)
	return nil
}

// Stop halts the schedule and waits for a running submission to finish.
func (r *RootSubmitter) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// SubmitNext runs one anchoring pass: ask the source for the next digest
// and commit it. A stale epoch means another submitter won the race; that
// pass is a no-op, not a failure.
func (r *RootSubmitter) SubmitNext(ctx context.Context) error {
	last, err := r.svc.store.LastEpoch(ctx)
	if err != nil {
		return fmt.Errorf("read last epoch: %w", err)
	}
	root, epoch, ok, err := r.source.NextRoot(ctx, last)
	if err != nil {
		return fmt.Errorf("next root: %w", err)
	}
	if !ok {
		return nil
	}

	sig, err := r.svc.SubmitContentRoot(ctx, root, epoch)
	if err != nil {
		if errors.Is(err, ErrEpochNotIncreasing) {
			r.log.Info("epoch already committed", "epoch", epoch)
			return nil
		}
		return err
	}
	r.log.Info("content root committed", "epoch", epoch, "tx_signature", sig)
	return nil
}

// =============================================================================
// Postgres Root Source
// =============================================================================

// PostgresRootSource digests the tips recorded since the last committed
// root into a merkle root. The merkle leaves are the tip ids in creation
// order, so anyone holding the tip records can recompute and verify the
// on-chain digest.
type PostgresRootSource struct {
	db *sqlx.DB
}

// NewPostgresRootSource creates a tip-backed root source.
func NewPostgresRootSource(db *sqlx.DB) *PostgresRootSource {
	return &PostgresRootSource{db: db}
}

// NextRoot digests tips created after the last committed root. Returns
// ok = false when no new tips exist, so quiet periods anchor nothing.
func (p *PostgresRootSource) NextRoot(ctx context.Context, lastEpoch uint64) ([32]byte, uint64, bool, error) {
	var ids []string
	err := p.db.SelectContext(ctx, &ids, `
		SELECT id FROM tips
		WHERE created_at > COALESCE((SELECT MAX(created_at) FROM content_roots), 'epoch'::timestamptz)
		ORDER BY created_at, id`)
	if err != nil {
		return [32]byte{}, 0, false, fmt.Errorf("list unanchored tips: %w", err)
	}
	if len(ids) == 0 {
		return [32]byte{}, 0, false, nil
	}
	return MerkleRoot(ids), lastEpoch + 1, true, nil
}

// MerkleRoot folds the given leaves into a single digest: each leaf is
// hashed, then levels are hashed pairwise until one node remains. An odd
// node at the end of a level is paired with itself.
func MerkleRoot(leaves []string) [32]byte {
	if len(leaves) == 0 {
		return [32]byte{}
	}
	level := make([][32]byte, len(leaves))
	for i, leaf := range leaves {
		level[i] = sha256.Sum256([]byte(leaf))
	}
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left, right := level[i], level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, sha256.Sum256(append(left[:], right[:]...)))
		}
		level = next
	}
	return level[0]
}
