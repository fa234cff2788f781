package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/DoyleJ11/pixelana-backend/internal/codec"
	"github.com/DoyleJ11/pixelana-backend/internal/engine"
	"github.com/DoyleJ11/pixelana-backend/internal/notify"
	"github.com/DoyleJ11/pixelana-backend/internal/store"
)

// Reads go straight to the store and see the last committed state.

func (l *Ledger) Account(ctx context.Context, addr solana.PublicKey) (store.Account, error) {
	acct, err := l.store.Get(ctx, addr)
	if errors.Is(err, store.ErrNotFound) {
		return store.Account{}, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	return acct, err
}

func (l *Ledger) Vault(ctx context.Context) (engine.Vault, error) {
	addr, err := l.program.Vault()
	if err != nil {
		return engine.Vault{}, err
	}
	acct, err := l.Account(ctx, addr)
	if err != nil {
		return engine.Vault{}, err
	}
	return codec.DecodeVault(acct.Data)
}

func (l *Ledger) Player(ctx context.Context, owner solana.PublicKey) (engine.Player, error) {
	addr, err := l.program.Player(owner)
	if err != nil {
		return engine.Player{}, err
	}
	acct, err := l.Account(ctx, addr)
	if err != nil {
		return engine.Player{}, err
	}
	return codec.DecodePlayer(acct.Data)
}

func (l *Ledger) Game(ctx context.Context, roomID string) (engine.Game, error) {
	g, _, err := l.GameAt(ctx, roomID)
	return g, err
}

// GameAt is Game plus the slot the account was last written at.
func (l *Ledger) GameAt(ctx context.Context, roomID string) (engine.Game, uint64, error) {
	addr, err := l.program.Game(roomID)
	if err != nil {
		return engine.Game{}, 0, err
	}
	acct, err := l.Account(ctx, addr)
	if err != nil {
		return engine.Game{}, 0, err
	}
	g, err := codec.DecodeGame(acct.Data)
	if err != nil {
		return engine.Game{}, 0, err
	}
	return g, acct.Slot, nil
}

func (l *Ledger) Transactions(ctx context.Context, limit int) ([]store.Tx, error) {
	return l.store.Transactions(ctx, limit)
}

func (l *Ledger) Slot(ctx context.Context) (uint64, error) {
	return l.store.LatestSlot(ctx)
}

// Subscribe follows one account. The caller must Unsubscribe.
func (l *Ledger) Subscribe(addr solana.PublicKey) *notify.Subscription {
	return l.broker.Subscribe(addr)
}

func (l *Ledger) SubscribeGame(roomID string) (*notify.Subscription, error) {
	addr, err := l.program.Game(roomID)
	if err != nil {
		return nil, err
	}
	return l.broker.Subscribe(addr), nil
}

func (l *Ledger) Unsubscribe(sub *notify.Subscription) {
	l.broker.Unsubscribe(sub)
}
