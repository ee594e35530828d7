package settlement

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence interface for the settlement outbox and the
// off-chain bookkeeping it reconciles.
type Store interface {
	// Outbox operations
	CreateSettlement(ctx context.Context, s *Settlement) error
	UpdateSettlement(ctx context.Context, id string, state State, txSignature, lastError string) error
	GetSettlement(ctx context.Context, id string) (*Settlement, error)
	ListSettlementsByState(ctx context.Context, state State, olderThan time.Time, limit int) ([]*Settlement, error)

	// Bookkeeping operations
	CreateTip(ctx context.Context, tip *Tip) error
	CreateChainTransaction(ctx context.Context, tx *ChainTransaction) error
	TipsBySender(ctx context.Context, senderID string) ([]*Tip, error)
	TipsForBuzz(ctx context.Context, buzzID string) ([]*Tip, error)

	// Content root operations
	LastEpoch(ctx context.Context) (uint64, error)
	SaveContentRoot(ctx context.Context, root *ContentRoot) error
}

// =============================================================================
// Memory Store
// =============================================================================

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu          sync.RWMutex
	settlements map[string]*Settlement
	tips        []*Tip
	txs         []*ChainTransaction
	roots       map[uint64]*ContentRoot
	lastEpoch   uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		settlements: make(map[string]*Settlement),
		roots:       make(map[uint64]*ContentRoot),
	}
}

// CreateSettlement inserts a new outbox row.
func (m *MemoryStore) CreateSettlement(ctx context.Context, s *Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	cp := *s
	m.settlements[s.ID] = &cp
	return nil
}

// UpdateSettlement transitions an outbox row.
func (m *MemoryStore) UpdateSettlement(ctx context.Context, id string, state State, txSignature, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.settlements[id]
	if !ok {
		return fmt.Errorf("settlement %s not found", id)
	}
	s.State = state
	if txSignature != "" {
		s.TxSignature = txSignature
	}
	s.LastError = lastError
	s.Attempt++
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// GetSettlement retrieves an outbox row.
func (m *MemoryStore) GetSettlement(ctx context.Context, id string) (*Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.settlements[id]
	if !ok {
		return nil, fmt.Errorf("settlement %s not found", id)
	}
	cp := *s
	return &cp, nil
}

// ListSettlementsByState returns settlements in a state last touched
// before olderThan, oldest first.
func (m *MemoryStore) ListSettlementsByState(ctx context.Context, state State, olderThan time.Time, limit int) ([]*Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Settlement
	for _, s := range m.settlements {
		if s.State == state && s.UpdatedAt.Before(olderThan) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateTip appends a tip record. An id that already exists is a no-op, so
// a replayed recording pass never duplicates a tip.
func (m *MemoryStore) CreateTip(ctx context.Context, tip *Tip) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tip.ID == "" {
		tip.ID = uuid.NewString()
	}
	for _, t := range m.tips {
		if t.ID == tip.ID {
			return nil
		}
	}
	tip.CreatedAt = time.Now().UTC()
	cp := *tip
	m.tips = append(m.tips, &cp)
	return nil
}

// CreateChainTransaction appends a transaction record, skipping ids already
// present.
func (m *MemoryStore) CreateChainTransaction(ctx context.Context, tx *ChainTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	for _, t := range m.txs {
		if t.ID == tx.ID {
			return nil
		}
	}
	tx.CreatedAt = time.Now().UTC()
	cp := *tx
	m.txs = append(m.txs, &cp)
	return nil
}

// TipsBySender lists tips sent by a user.
func (m *MemoryStore) TipsBySender(ctx context.Context, senderID string) ([]*Tip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Tip
	for _, t := range m.tips {
		if t.SenderID == senderID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// TipsForBuzz lists tips received by a buzz.
func (m *MemoryStore) TipsForBuzz(ctx context.Context, buzzID string) ([]*Tip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Tip
	for _, t := range m.tips {
		if t.BuzzID == buzzID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// LastEpoch returns the highest committed content root epoch.
func (m *MemoryStore) LastEpoch(ctx context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastEpoch, nil
}

// SaveContentRoot records a committed content root.
func (m *MemoryStore) SaveContentRoot(ctx context.Context, root *ContentRoot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	root.CreatedAt = time.Now().UTC()
	cp := *root
	m.roots[root.Epoch] = &cp
	if root.Epoch > m.lastEpoch {
		m.lastEpoch = root.Epoch
	}
	return nil
}

// Tips returns all tip records. Test helper.
func (m *MemoryStore) Tips() []*Tip {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Tip, len(m.tips))
	copy(out, m.tips)
	return out
}

// Transactions returns all chain transaction records. Test helper.
func (m *MemoryStore) Transactions() []*ChainTransaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ChainTransaction, len(m.txs))
	copy(out, m.txs)
	return out
}
