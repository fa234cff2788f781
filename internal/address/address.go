package address

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
)

// DefaultProgramID is the id the accounts are derived under unless the
// deployment overrides it.
var DefaultProgramID = solana.MustPublicKeyFromBase58("HihKqREGVHempQFaTLk6XGwB5u8YPopfhX1ptjvXYaqt")

var ErrInvalidRoomID = errors.New("invalid room id")
var ErrDerivation = errors.New("address derivation failed")

const (
	SeedVault        = "vault"
	SeedPlayer       = "player"
	SeedGame         = "game"
	SeedNFTAuthority = "nft_authority"
)

// RoomIDLength is the length of generated room codes.
const RoomIDLength = 8

const roomCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

type Program struct {
	ID solana.PublicKey
}

func New(id solana.PublicKey) Program {
	return Program{ID: id}
}

func (p Program) derive(seeds ...[]byte) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(seeds, p.ID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %v", ErrDerivation, err)
	}
	return addr, nil
}

func (p Program) Vault() (solana.PublicKey, error) {
	return p.derive([]byte(SeedVault))
}

func (p Program) Player(owner solana.PublicKey) (solana.PublicKey, error) {
	return p.derive([]byte(SeedPlayer), owner.Bytes())
}

// Game derives the game account of a room. The room id is used verbatim as a
// seed, so it has to pass ValidateRoomID first.
func (p Program) Game(roomID string) (solana.PublicKey, error) {
	if err := ValidateRoomID(roomID); err != nil {
		return solana.PublicKey{}, err
	}
	return p.derive([]byte(SeedGame), []byte(roomID))
}

func (p Program) NFTAuthority() (solana.PublicKey, error) {
	return p.derive([]byte(SeedNFTAuthority))
}

func ValidateRoomID(roomID string) error {
	if len(roomID) == 0 || len(roomID) > solana.MaxSeedLength {
		return fmt.Errorf("%w: length %d", ErrInvalidRoomID, len(roomID))
	}
	for i := 0; i < len(roomID); i++ {
		c := roomID[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return fmt.Errorf("%w: %q", ErrInvalidRoomID, roomID)
		}
	}
	return nil
}

func GenerateRoomID() (string, error) {
	code := make([]byte, RoomIDLength)
	for i := 0; i < RoomIDLength; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(roomCharset))))
		if err != nil {
			return "", err
		}
		code[i] = roomCharset[num.Int64()]
	}
	return string(code), nil
}
