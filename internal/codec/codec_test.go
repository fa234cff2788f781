package codec

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/pixelana-backend/internal/engine"
)

func key() solana.PublicKey { return solana.NewWallet().PublicKey() }

func TestPlayerRoundTrip(t *testing.T) {
	current := key()
	cases := []engine.Player{
		{Owner: key(), Balance: 10_000_000, Avatar: 33, Games: 4},
		{Owner: key(), Avatar: 1, CurrentGame: &current},
	}
	for _, p := range cases {
		data, err := EncodePlayer(p)
		require.NoError(t, err)
		got, err := DecodePlayer(data)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
}

func TestGameRoundTrip(t *testing.T) {
	p1, p2, mint := key(), key(), key()
	g := engine.Game{
		RoomID:       "ABCD1234",
		Host:         key(),
		Participants: []solana.PublicKey{p1, p2},
		Story:        "a ghost walks into a bar",
		Drawings: []engine.Drawing{
			{Participant: p1, DrawingRef: "drawings/1.png"},
			{Participant: p2, DrawingRef: "drawings/2.png"},
		},
		WinningDrawing: &engine.Drawing{Participant: p2, DrawingRef: "drawings/2.png"},
		Status:         engine.StatusCompleted,
		Rules:          engine.DefaultRules(),
		RewardMint:     &mint,
	}
	data, err := EncodeGame(g)
	require.NoError(t, err)
	got, err := DecodeGame(data)
	require.NoError(t, err)
	assert.Equal(t, g, got)
}

func TestFreshGameRoundTrip(t *testing.T) {
	g := engine.Game{RoomID: "ZZ", Host: key(), Rules: engine.DefaultRules()}
	data, err := EncodeGame(g)
	require.NoError(t, err)
	got, err := DecodeGame(data)
	require.NoError(t, err)
	assert.Equal(t, g, got)
	assert.Nil(t, got.WinningDrawing)
}

func TestVaultLayout(t *testing.T) {
	v := engine.Vault{Creator: key(), Balance: 42}
	data, err := EncodeVault(v)
	require.NoError(t, err)
	assert.Len(t, data, DiscriminatorSize+32+8)

	disc, ok := Discriminator(KindVault)
	require.True(t, ok)
	assert.Equal(t, disc[:], data[:DiscriminatorSize])

	got, err := DecodeVault(data)
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestDecodeRejectsWrongKind(t *testing.T) {
	data, err := EncodeVault(engine.Vault{Creator: key()})
	require.NoError(t, err)

	_, err = DecodePlayer(data)
	assert.ErrorIs(t, err, ErrKindMismatch)

	_, err = DecodeGame([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrShortAccount)

	_, err = KindOf(make([]byte, 16))
	assert.ErrorIs(t, err, ErrUnknownDiscriminator)
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	data, err := EncodeVault(engine.Vault{Creator: key(), Balance: 1})
	require.NoError(t, err)
	_, err = DecodeVault(append(data, 0))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDecodeDispatchesOnKind(t *testing.T) {
	data, err := EncodePlayer(engine.Player{Owner: key(), Avatar: 2})
	require.NoError(t, err)
	acct, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, KindPlayer, acct.Kind)
	require.NotNil(t, acct.Player)
	assert.Nil(t, acct.Game)
}
