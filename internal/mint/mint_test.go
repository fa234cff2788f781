package mint

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request() Request {
	return Request{
		Game:       solana.NewWallet().PublicKey(),
		RoomID:     "ABCD1234",
		Recipient:  solana.NewWallet().PublicKey(),
		DrawingRef: "drawings/1.png",
		Authority:  solana.NewWallet().PublicKey(),
	}
}

func TestLocalIsIdempotentPerGame(t *testing.T) {
	authority := solana.NewWallet().PrivateKey
	l := NewLocal(authority)
	req := request()

	first, err := l.Mint(context.Background(), req)
	require.NoError(t, err)
	again, err := l.Mint(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 1, l.Minted())

	sig, err := solana.SignatureFromBase58(first.Signature)
	require.NoError(t, err)
	msg := append(append(req.Game.Bytes(), first.Mint.Bytes()...), req.DrawingRef...)
	assert.True(t, sig.Verify(authority.PublicKey(), msg))

	other, err := l.Mint(context.Background(), request())
	require.NoError(t, err)
	assert.NotEqual(t, first.Mint, other.Mint)
}

func TestHTTPSendsIdempotencyKey(t *testing.T) {
	req := request()
	mintKey := solana.NewWallet().PublicKey()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, req.Game.String(), r.Header.Get("Idempotency-Key"))
		var got Request
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, req, got)
		_ = json.NewEncoder(w).Encode(Receipt{Mint: mintKey, Signature: "sig"})
	}))
	defer srv.Close()

	r, err := NewHTTP(srv.URL, time.Second).Mint(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, mintKey, r.Mint)
}

func TestHTTPFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"signature":"x"}`))
	}))
	defer srv.Close()

	m := NewHTTP(srv.URL, time.Second)
	_, err := m.Mint(context.Background(), request())
	assert.ErrorIs(t, err, ErrMintFailed)
	_, err = m.Mint(context.Background(), request())
	assert.ErrorIs(t, err, ErrMintFailed, "missing mint address is a failure")
}
