package karma

import (
	"context"
	"sync"
)

// MockMirror is a ChainMirror recording calls and returning scripted
// results.
type MockMirror struct {
	mu        sync.Mutex
	SyncErr   error
	MintErr   error
	MintAddr  string
	MintSig   string
	Synced    map[string]uint32
	MintCalls int
}

// SyncKarma records the mirrored total.
func (m *MockMirror) SyncKarma(ctx context.Context, userID string, total uint32) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SyncErr != nil {
		return "", m.SyncErr
	}
	if m.Synced == nil {
		m.Synced = make(map[string]uint32)
	}
	m.Synced[userID] = total
	return "sig-sync", nil
}

// MintMilestone records the call and returns the scripted mint.
func (m *MockMirror) MintMilestone(ctx context.Context, userID string, tier uint8) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MintCalls++
	if m.MintErr != nil {
		return "", "", m.MintErr
	}
	addr := m.MintAddr
	if addr == "" {
		addr = "mint-" + userID
	}
	sig := m.MintSig
	if sig == "" {
		sig = "sig-mint"
	}
	return addr, sig, nil
}

// Mints returns how many mint attempts reached the mirror.
func (m *MockMirror) Mints() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.MintCalls
}
