package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/pixelana-backend/internal/address"
	"github.com/DoyleJ11/pixelana-backend/internal/engine"
	"github.com/DoyleJ11/pixelana-backend/internal/funds"
	"github.com/DoyleJ11/pixelana-backend/internal/hub"
	"github.com/DoyleJ11/pixelana-backend/internal/ledger"
	"github.com/DoyleJ11/pixelana-backend/internal/mint"
	"github.com/DoyleJ11/pixelana-backend/internal/notify"
	"github.com/DoyleJ11/pixelana-backend/internal/store"
	"github.com/DoyleJ11/pixelana-backend/internal/types"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	wallets := funds.NewWallets()
	l, err := ledger.New(ctx,
		ledger.Config{Program: address.New(address.DefaultProgramID)},
		store.NewMemory(), notify.NewBroker(ctx, 8), wallets,
		mint.NewLocal(solana.NewWallet().PrivateKey), zap.NewNop())
	require.NoError(t, err)

	api := &API{Ledger: l, Faucet: wallets, FaucetLamports: 2 * funds.LamportsPerSOL, Log: zap.NewNop()}
	srv := httptest.NewServer(SetupRoutes(api, hub.NewHub(ctx, l, 0, zap.NewNop())))
	t.Cleanup(srv.Close)
	return srv
}

type signer struct {
	t   *testing.T
	srv *httptest.Server
	key solana.PrivateKey
}

func newSigner(t *testing.T, srv *httptest.Server) signer {
	return signer{t: t, srv: srv, key: solana.NewWallet().PrivateKey}
}

func (s signer) pub() solana.PublicKey { return s.key.PublicKey() }

// post sends a signed request and decodes a JSON reply into out when non-nil.
func (s signer) post(path string, body any, out any) int {
	s.t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(s.t, err)
	}
	return do(s.t, s.signed(path, raw, nextStamp()), out)
}

var lastStamp atomic.Int64

// nextStamp is now, nudged so two posts never share a millisecond and so
// never sign identical payloads.
func nextStamp() time.Time {
	for {
		last := lastStamp.Load()
		ms := max(time.Now().UnixMilli(), last+1)
		if lastStamp.CompareAndSwap(last, ms) {
			return time.UnixMilli(ms)
		}
	}
}

// signed builds a POST of raw to path, signed at ts.
func (s signer) signed(path string, raw []byte, ts time.Time) *http.Request {
	s.t.Helper()
	stamp := strconv.FormatInt(ts.UnixMilli(), 10)
	sig, err := s.key.Sign(SigningPayload(http.MethodPost, path, stamp, raw))
	require.NoError(s.t, err)

	req, err := http.NewRequest(http.MethodPost, s.srv.URL+path, bytes.NewReader(raw))
	require.NoError(s.t, err)
	req.Header.Set(HeaderSigner, s.pub().String())
	req.Header.Set(HeaderSignature, sig.String())
	req.Header.Set(HeaderTimestamp, stamp)
	return req
}

func get(t *testing.T, srv *httptest.Server, path string, out any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	return do(t, req, out)
}

func do(t *testing.T, req *http.Request, out any) int {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil && len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, out), "%s", data)
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	srv := newServer(t)
	assert.Equal(t, http.StatusOK, get(t, srv, "/healthz", nil))
}

func TestRequireSignature(t *testing.T) {
	srv := newServer(t)

	resp, err := http.Post(srv.URL+"/vault", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	alice, mallory := newSigner(t, srv), newSigner(t, srv)
	now := time.Now()

	// signature by a different key
	req := mallory.signed("/vault", nil, now)
	req.Header.Set(HeaderSigner, alice.pub().String())
	assert.Equal(t, http.StatusUnauthorized, do(t, req, nil))

	// a signature over another path does not carry over
	req = alice.signed("/players", nil, now)
	req.URL.Path = "/vault"
	assert.Equal(t, http.StatusUnauthorized, do(t, req, nil))

	// the timestamp is part of what is signed
	req = alice.signed("/vault", nil, now)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(now.Add(time.Second).UnixMilli(), 10))
	assert.Equal(t, http.StatusUnauthorized, do(t, req, nil))

	req = alice.signed("/vault", nil, now)
	req.Header.Del(HeaderTimestamp)
	assert.Equal(t, http.StatusUnauthorized, do(t, req, nil))

	assert.Equal(t, http.StatusUnauthorized, do(t, alice.signed("/vault", nil, now.Add(-time.Minute)), nil))
	assert.Equal(t, http.StatusUnauthorized, do(t, alice.signed("/vault", nil, now.Add(time.Minute)), nil))

	assert.Equal(t, http.StatusOK, alice.post("/vault", nil, nil))
}

func TestReplayedDeductIsRefused(t *testing.T) {
	srv := newServer(t)
	owner := newSigner(t, srv)
	require.Equal(t, http.StatusOK, owner.post("/vault", nil, nil))
	require.Equal(t, http.StatusOK, owner.post("/faucet", nil, nil))
	require.Equal(t, http.StatusOK, owner.post("/players", playerRequest{Avatar: "haunting"}, nil))
	require.Equal(t, http.StatusOK, owner.post("/players/deposit", amountRequest{Amount: 3 * funds.LamportsPerSOL / 2}, nil))

	raw, err := json.Marshal(amountRequest{Amount: funds.LamportsPerSOL / 2})
	require.NoError(t, err)
	signedAt := time.Now()
	first := owner.signed("/players/deduct", raw, signedAt)
	replay := owner.signed("/players/deduct", raw, signedAt)
	assert.Equal(t, first.Header.Get(HeaderSignature), replay.Header.Get(HeaderSignature))

	assert.Equal(t, http.StatusOK, do(t, first, nil))
	assert.Equal(t, http.StatusUnauthorized, do(t, replay, nil))

	var player types.PlayerView
	require.Equal(t, http.StatusOK, get(t, srv, "/players/"+owner.pub().String(), &player))
	assert.Equal(t, funds.LamportsPerSOL, player.Balance)

	// a fresh signature for the same body is a new request
	assert.Equal(t, http.StatusOK, do(t, owner.signed("/players/deduct", raw, signedAt.Add(time.Millisecond)), nil))
}

func TestVerifierForgetsExpiredSignatures(t *testing.T) {
	v := NewVerifier(time.Second)
	clock := time.Unix(1_700_000_000, 0)
	v.now = func() time.Time { return clock }

	var sig solana.Signature
	sig[0] = 1
	assert.True(t, v.claim(sig, clock.Add(time.Second)))
	assert.False(t, v.claim(sig, clock.Add(time.Second)))

	clock = clock.Add(2 * time.Second)
	var other solana.Signature
	other[0] = 2
	assert.True(t, v.claim(other, clock.Add(time.Second)))
	assert.Len(t, v.seen, 1)
}

func TestGameOverHTTP(t *testing.T) {
	srv := newServer(t)
	host, guest := newSigner(t, srv), newSigner(t, srv)

	require.Equal(t, http.StatusOK, host.post("/vault", nil, nil))
	for _, s := range []signer{host, guest} {
		require.Equal(t, http.StatusOK, s.post("/faucet", nil, nil))
		require.Equal(t, http.StatusOK, s.post("/players", playerRequest{Avatar: "haunting"}, nil))
	}

	var receipt types.ReceiptView
	require.Equal(t, http.StatusOK, host.post("/players/deposit", amountRequest{Amount: funds.LamportsPerSOL}, &receipt))
	require.Len(t, receipt.Events, 1)
	assert.Equal(t, string(engine.EvtDeposited), receipt.Events[0].Type)

	var vault types.VaultView
	require.Equal(t, http.StatusOK, get(t, srv, "/vault", &vault))
	assert.Equal(t, funds.LamportsPerSOL, vault.Balance)
	assert.Equal(t, host.pub().String(), vault.Creator)

	var created struct {
		RoomID  string `json:"roomId"`
		Address string `json:"address"`
	}
	require.Equal(t, http.StatusCreated, host.post("/games", nil, &created))
	require.NoError(t, address.ValidateRoomID(created.RoomID))
	room := "/games/" + created.RoomID

	// only the host may start
	require.Equal(t, http.StatusOK, guest.post(room+"/join", nil, nil))
	assert.Equal(t, http.StatusForbidden, guest.post(room+"/start", nil, nil))

	require.Equal(t, http.StatusOK, host.post(room+"/start", nil, nil))
	require.Equal(t, http.StatusOK, host.post(room+"/story", storyRequest{Story: "a cat on the moon"}, nil))
	require.Equal(t, http.StatusOK, host.post(room+"/drawings", drawingRequest{DrawingRef: "host.png"}, nil))
	assert.Equal(t, http.StatusConflict, host.post(room+"/drawings", drawingRequest{DrawingRef: "again.png"}, nil))
	require.Equal(t, http.StatusOK, guest.post(room+"/drawings", drawingRequest{DrawingRef: "guest.png"}, nil))
	require.Equal(t, http.StatusOK, host.post(room+"/winner", winnerRequest{Index: 1}, nil))

	require.Equal(t, http.StatusOK, host.post(room+"/mint", nil, &receipt))
	assert.NotEmpty(t, receipt.Mint)

	var game types.GameView
	require.Equal(t, http.StatusOK, get(t, srv, room, &game))
	assert.Equal(t, created.Address, game.Address)
	assert.Equal(t, "completed", game.GameState)
	require.NotNil(t, game.WinningDrawing)
	assert.Equal(t, "guest.png", game.WinningDrawing.DrawingRef)
	require.NotNil(t, game.RewardMint)
	assert.Equal(t, receipt.Mint, *game.RewardMint)

	var player types.PlayerView
	require.Equal(t, http.StatusOK, get(t, srv, "/players/"+guest.pub().String(), &player))
	assert.Equal(t, uint32(1), player.Games)
	assert.Nil(t, player.CurrentGame)
	assert.Equal(t, "haunting", player.Avatar)

	var acct types.AccountView
	require.Equal(t, http.StatusOK, get(t, srv, "/accounts/"+created.Address, &acct))
	assert.Equal(t, "Game", acct.Kind)
	assert.NotEmpty(t, acct.Data)

	var txs []types.TxView
	require.Equal(t, http.StatusOK, get(t, srv, "/transactions?limit=3", &txs))
	require.Len(t, txs, 3)
	assert.Equal(t, string(engine.CmdMintNft), txs[0].Command)
}

func TestCreateGameWithChosenRoom(t *testing.T) {
	srv := newServer(t)
	a, b := newSigner(t, srv), newSigner(t, srv)
	require.Equal(t, http.StatusOK, a.post("/vault", nil, nil))
	require.Equal(t, http.StatusOK, a.post("/players", playerRequest{Avatar: "haunting"}, nil))
	require.Equal(t, http.StatusOK, b.post("/players", playerRequest{Avatar: "pierced-heart"}, nil))

	require.Equal(t, http.StatusCreated, a.post("/games", createGameRequest{RoomID: "ROOM42"}, nil))
	assert.Equal(t, http.StatusConflict, b.post("/games", createGameRequest{RoomID: "ROOM42"}, nil))
	assert.Equal(t, http.StatusConflict, b.post("/games", createGameRequest{RoomID: "bad room"}, nil))
}

func TestReadErrors(t *testing.T) {
	srv := newServer(t)
	s := newSigner(t, srv)

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/vault", nil))
	assert.Equal(t, http.StatusNotFound, get(t, srv, "/players/"+s.pub().String(), nil))
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/players/not-a-key", nil))
	assert.Equal(t, http.StatusNotFound, get(t, srv, "/games/NOSUCH", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/games/lower", nil))
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/transactions?limit=0", nil))

	assert.Equal(t, http.StatusNotFound, s.post("/games/NOSUCH/join", nil, nil))
	assert.Equal(t, http.StatusConflict, s.post("/games", nil, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, s.post("/players/deposit", amountRequest{}, nil))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{engine.ErrNotHost, http.StatusForbidden},
		{engine.ErrGameNotFound, http.StatusNotFound},
		{fmt.Errorf("read: %w", ledger.ErrNotFound), http.StatusNotFound},
		{engine.ErrInvalidGameState, http.StatusConflict},
		{engine.ErrGameFull, http.StatusConflict},
		{engine.ErrAddressInUse, http.StatusConflict},
		{engine.ErrInsufficientBalance, http.StatusUnprocessableEntity},
		{mint.ErrMintFailed, http.StatusBadGateway},
		{address.ErrInvalidRoomID, http.StatusBadRequest},
		{ledger.ErrClosed, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), "%v", tt.err)
	}
}
