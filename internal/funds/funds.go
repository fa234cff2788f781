// Package funds holds the external balances deposits are paid from.
package funds

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrInsufficientFunds = errors.New("funds: insufficient funds")
	ErrInvalidAmount     = errors.New("funds: amount must be positive")
	ErrOverflow          = errors.New("funds: balance overflow")
)

// LamportsPerSOL converts whole SOL amounts used by clients.
const LamportsPerSOL uint64 = 1_000_000_000

// Source is debited before a deposit is credited to the vault and credited
// back when the deposit cannot be committed.
type Source interface {
	Debit(ctx context.Context, owner solana.PublicKey, amount uint64) error
	Credit(ctx context.Context, owner solana.PublicKey, amount uint64) error
}

// Wallets is an in-memory Source. Airdrop is the dev faucet.
type Wallets struct {
	mu       sync.Mutex
	balances map[solana.PublicKey]uint64
}

func NewWallets() *Wallets {
	return &Wallets{balances: make(map[solana.PublicKey]uint64)}
}

func (w *Wallets) Debit(ctx context.Context, owner solana.PublicKey, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	have := w.balances[owner]
	if have < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, have, amount)
	}
	w.balances[owner] = have - amount
	return nil
}

func (w *Wallets) Credit(_ context.Context, owner solana.PublicKey, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	have := w.balances[owner]
	if have > math.MaxUint64-amount {
		return ErrOverflow
	}
	w.balances[owner] = have + amount
	return nil
}

func (w *Wallets) Airdrop(ctx context.Context, owner solana.PublicKey, amount uint64) error {
	return w.Credit(ctx, owner, amount)
}

func (w *Wallets) Balance(owner solana.PublicKey) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[owner]
}
