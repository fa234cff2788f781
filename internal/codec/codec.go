// Package codec is the single on-ledger schema for Pixelana accounts.
//
// Layout of every account:
//
//	discriminator (8 bytes) | borsh body
//
// The discriminator is the first 8 bytes of sha256("account:<Name>"), so the
// bytes line up with what an Anchor program would store for the same struct.
package codec

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/DoyleJ11/pixelana-backend/internal/engine"
)

var (
	ErrShortAccount         = errors.New("codec: account data too short")
	ErrUnknownDiscriminator = errors.New("codec: unknown account discriminator")
	ErrKindMismatch         = errors.New("codec: account kind mismatch")
	ErrCorrupt              = errors.New("codec: corrupt account data")
)

type Kind string

const (
	KindVault  Kind = "Vault"
	KindPlayer Kind = "Player"
	KindGame   Kind = "Game"
)

const DiscriminatorSize = 8

var discriminators = map[Kind][8]byte{
	KindVault:  anchorDiscriminator("account", string(KindVault)),
	KindPlayer: anchorDiscriminator("account", string(KindPlayer)),
	KindGame:   anchorDiscriminator("account", string(KindGame)),
}

func anchorDiscriminator(namespace, name string) [8]byte {
	hash := sha256.Sum256([]byte(namespace + ":" + name))
	var disc [8]byte
	copy(disc[:], hash[:8])
	return disc
}

func Discriminator(k Kind) ([8]byte, bool) {
	d, ok := discriminators[k]
	return d, ok
}

type vaultAccount struct {
	Creator solana.PublicKey
	Balance uint64
}

type playerAccount struct {
	Owner       solana.PublicKey
	Balance     uint64
	Avatar      uint8
	Games       uint32
	CurrentGame *solana.PublicKey `bin:"optional"`
}

type drawingAccount struct {
	Participant solana.PublicKey
	DrawingRef  string
}

type gameAccount struct {
	RoomID         string
	Host           solana.PublicKey
	Participants   []solana.PublicKey
	Story          string
	Drawings       []drawingAccount
	WinningDrawing *drawingAccount `bin:"optional"`
	Status         uint8
	MaxMembers     uint8
	MinMembers     uint8
	HostDraws      bool
	RewardMint     *solana.PublicKey `bin:"optional"`
}

// KindOf reads the discriminator of data.
func KindOf(data []byte) (Kind, error) {
	if len(data) < DiscriminatorSize {
		return "", fmt.Errorf("%w: %d bytes", ErrShortAccount, len(data))
	}
	for k, d := range discriminators {
		if bytes.Equal(data[:DiscriminatorSize], d[:]) {
			return k, nil
		}
	}
	return "", ErrUnknownDiscriminator
}

func encode(k Kind, body any) ([]byte, error) {
	d := discriminators[k]
	var buf bytes.Buffer
	buf.Write(d[:])
	if err := bin.NewBorshEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("codec: encode %s: %w", k, err)
	}
	return buf.Bytes(), nil
}

func decode(data []byte, want Kind, body any) error {
	k, err := KindOf(data)
	if err != nil {
		return err
	}
	if k != want {
		return fmt.Errorf("%w: have %s, want %s", ErrKindMismatch, k, want)
	}
	dec := bin.NewBorshDecoder(data[DiscriminatorSize:])
	if err := dec.Decode(body); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, want, err)
	}
	if dec.Remaining() != 0 {
		return fmt.Errorf("%w: %s: %d trailing bytes", ErrCorrupt, want, dec.Remaining())
	}
	return nil
}

func EncodeVault(v engine.Vault) ([]byte, error) {
	return encode(KindVault, vaultAccount{Creator: v.Creator, Balance: v.Balance})
}

func DecodeVault(data []byte) (engine.Vault, error) {
	var rec vaultAccount
	if err := decode(data, KindVault, &rec); err != nil {
		return engine.Vault{}, err
	}
	return engine.Vault{Creator: rec.Creator, Balance: rec.Balance}, nil
}

func EncodePlayer(p engine.Player) ([]byte, error) {
	return encode(KindPlayer, playerAccount{
		Owner:       p.Owner,
		Balance:     p.Balance,
		Avatar:      uint8(p.Avatar),
		Games:       p.Games,
		CurrentGame: p.CurrentGame,
	})
}

func DecodePlayer(data []byte) (engine.Player, error) {
	var rec playerAccount
	if err := decode(data, KindPlayer, &rec); err != nil {
		return engine.Player{}, err
	}
	avatar := engine.Avatar(rec.Avatar)
	if !avatar.Valid() {
		return engine.Player{}, fmt.Errorf("%w: avatar %d", ErrCorrupt, rec.Avatar)
	}
	return engine.Player{
		Owner:       rec.Owner,
		Balance:     rec.Balance,
		Avatar:      avatar,
		Games:       rec.Games,
		CurrentGame: rec.CurrentGame,
	}, nil
}

func EncodeGame(g engine.Game) ([]byte, error) {
	rec := gameAccount{
		RoomID:       g.RoomID,
		Host:         g.Host,
		Participants: g.Participants,
		Story:        g.Story,
		Drawings:     make([]drawingAccount, len(g.Drawings)),
		Status:       uint8(g.Status),
		MaxMembers:   g.Rules.MaxMembers,
		MinMembers:   g.Rules.MinMembers,
		HostDraws:    g.Rules.HostDraws,
		RewardMint:   g.RewardMint,
	}
	if rec.Participants == nil {
		rec.Participants = []solana.PublicKey{}
	}
	for i, d := range g.Drawings {
		rec.Drawings[i] = drawingAccount{Participant: d.Participant, DrawingRef: d.DrawingRef}
	}
	if g.WinningDrawing != nil {
		rec.WinningDrawing = &drawingAccount{Participant: g.WinningDrawing.Participant, DrawingRef: g.WinningDrawing.DrawingRef}
	}
	return encode(KindGame, rec)
}

func DecodeGame(data []byte) (engine.Game, error) {
	var rec gameAccount
	if err := decode(data, KindGame, &rec); err != nil {
		return engine.Game{}, err
	}
	status := engine.Status(rec.Status)
	if !status.Valid() {
		return engine.Game{}, fmt.Errorf("%w: status %d", ErrCorrupt, rec.Status)
	}
	g := engine.Game{
		RoomID: rec.RoomID,
		Host:   rec.Host,
		Story:  rec.Story,
		Status: status,
		Rules: engine.Rules{
			MaxMembers: rec.MaxMembers,
			MinMembers: rec.MinMembers,
			HostDraws:  rec.HostDraws,
		},
		RewardMint: rec.RewardMint,
	}
	if len(rec.Participants) > 0 {
		g.Participants = rec.Participants
	}
	for _, d := range rec.Drawings {
		g.Drawings = append(g.Drawings, engine.Drawing{Participant: d.Participant, DrawingRef: d.DrawingRef})
	}
	if rec.WinningDrawing != nil {
		g.WinningDrawing = &engine.Drawing{Participant: rec.WinningDrawing.Participant, DrawingRef: rec.WinningDrawing.DrawingRef}
	}
	return g, nil
}

// Account is a decoded account of any kind. Exactly one pointer is set.
type Account struct {
	Kind   Kind
	Vault  *engine.Vault
	Player *engine.Player
	Game   *engine.Game
}

func Decode(data []byte) (Account, error) {
	k, err := KindOf(data)
	if err != nil {
		return Account{}, err
	}
	switch k {
	case KindVault:
		v, err := DecodeVault(data)
		return Account{Kind: k, Vault: &v}, err
	case KindPlayer:
		p, err := DecodePlayer(data)
		return Account{Kind: k, Player: &p}, err
	default:
		g, err := DecodeGame(data)
		return Account{Kind: k, Game: &g}, err
	}
}
