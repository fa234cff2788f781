// Package mint talks to whatever mints the reward NFT for a winning drawing.
// Every call is keyed by the game address, so retrying a mint that already
// went through returns the first receipt instead of minting twice.
package mint

import (
	"context"
	"errors"
	"sync"

	"github.com/gagliardetto/solana-go"
)

var ErrMintFailed = errors.New("mint: reward mint failed")

type Request struct {
	Game       solana.PublicKey `json:"game"`
	RoomID     string           `json:"roomId"`
	Recipient  solana.PublicKey `json:"recipient"`
	DrawingRef string           `json:"drawingRef"`
	Authority  solana.PublicKey `json:"authority"`
}

type Receipt struct {
	Mint      solana.PublicKey `json:"mint"`
	Signature string           `json:"signature"`
	URI       string           `json:"uri,omitempty"`
}

type Minter interface {
	Mint(ctx context.Context, req Request) (Receipt, error)
}

// Local mints in process: the mint address is a fresh keypair and the
// signature is the authority's signature over the request.
type Local struct {
	authority solana.PrivateKey
	mu        sync.Mutex
	minted    map[solana.PublicKey]Receipt
}

func NewLocal(authority solana.PrivateKey) *Local {
	return &Local{authority: authority, minted: make(map[solana.PublicKey]Receipt)}
}

func (l *Local) Mint(ctx context.Context, req Request) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.minted[req.Game]; ok {
		return r, nil
	}
	mintKey := solana.NewWallet().PublicKey()
	msg := append(append(req.Game.Bytes(), mintKey.Bytes()...), req.DrawingRef...)
	sig, err := l.authority.Sign(msg)
	if err != nil {
		return Receipt{}, errors.Join(ErrMintFailed, err)
	}
	r := Receipt{Mint: mintKey, Signature: sig.String(), URI: req.DrawingRef}
	l.minted[req.Game] = r
	return r, nil
}

// Minted returns how many distinct games have been minted.
func (l *Local) Minted() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.minted)
}
