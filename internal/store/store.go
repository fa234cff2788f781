// Package store keeps account bytes and the transaction journal.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("store: account not found")

type Account struct {
	Address solana.PublicKey
	Kind    string
	Data    []byte
	// Slot of the transaction that last wrote the account.
	Slot uint64
}

// Tx is one journal entry. Rejected operations are journaled too, with
// Accepted false and the rejection in Error.
type Tx struct {
	ID        uuid.UUID
	Slot      uint64
	Command   string
	Signer    string
	RoomID    string
	Accepted  bool
	Error     string
	CreatedAt time.Time
}

type Store interface {
	Get(ctx context.Context, addr solana.PublicKey) (Account, error)
	// Commit writes accounts and journals tx in one unit. Either everything
	// lands or nothing does.
	Commit(ctx context.Context, tx Tx, accounts []Account) error
	LatestSlot(ctx context.Context) (uint64, error)
	// Transactions returns the newest journal entries first.
	Transactions(ctx context.Context, limit int) ([]Tx, error)
	Close() error
}
