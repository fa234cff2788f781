package store

import (
	"context"
	"slices"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// Memory is a process-local Store used by tests and the "memory" driver.
type Memory struct {
	mu       sync.RWMutex
	accounts map[solana.PublicKey]Account
	journal  []Tx
}

func NewMemory() *Memory {
	return &Memory{accounts: make(map[solana.PublicKey]Account)}
}

func (m *Memory) Get(_ context.Context, addr solana.PublicKey) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[addr]
	if !ok {
		return Account{}, ErrNotFound
	}
	a.Data = slices.Clone(a.Data)
	return a, nil
}

func (m *Memory) Commit(ctx context.Context, tx Tx, accounts []Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range accounts {
		a.Data = slices.Clone(a.Data)
		m.accounts[a.Address] = a
	}
	m.journal = append(m.journal, tx)
	return nil
}

func (m *Memory) LatestSlot(context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var slot uint64
	for _, tx := range m.journal {
		if tx.Accepted && tx.Slot > slot {
			slot = tx.Slot
		}
	}
	return slot, nil
}

func (m *Memory) Transactions(_ context.Context, limit int) ([]Tx, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Clone(m.journal)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
