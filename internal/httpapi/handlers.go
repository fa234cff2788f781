package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/pixelana-backend/internal/address"
	"github.com/DoyleJ11/pixelana-backend/internal/engine"
	"github.com/DoyleJ11/pixelana-backend/internal/funds"
	"github.com/DoyleJ11/pixelana-backend/internal/ledger"
	"github.com/DoyleJ11/pixelana-backend/internal/mint"
	"github.com/DoyleJ11/pixelana-backend/internal/types"
)

const maxCodeAttempts = 8

// API serves the ledger over HTTP. Faucet is nil unless the dev faucet is on.
type API struct {
	Ledger         *ledger.Ledger
	Faucet         *funds.Wallets
	FaucetLamports uint64
	Signatures     *Verifier
	Log            *zap.Logger
}

type playerRequest struct {
	Avatar string `json:"avatar"`
}

type amountRequest struct {
	Amount uint64 `json:"amount"`
	// Owner defaults to the signer.
	Owner string `json:"owner,omitempty"`
}

type createGameRequest struct {
	RoomID string `json:"roomId"`
}

type storyRequest struct {
	Story string `json:"story"`
}

type drawingRequest struct {
	DrawingRef string `json:"drawingRef"`
}

type winnerRequest struct {
	Index int `json:"index"`
}

type faucetRequest struct {
	Amount uint64 `json:"amount"`
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: msg})
}

// StatusFor maps a rejection to an HTTP status by its category.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, address.ErrInvalidRoomID):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrGameNotFound), errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrLedger):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrState), errors.Is(err, engine.ErrBound), errors.Is(err, engine.ErrCollision):
		return http.StatusConflict
	case errors.Is(err, mint.ErrMintFailed):
		return http.StatusBadGateway
	case errors.Is(err, ledger.ErrClosed), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) fail(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		a.Log.Error("request failed", zap.Error(err))
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad json")
		return false
	}
	return true
}

func receiptView(r ledger.Receipt) types.ReceiptView {
	v := types.ReceiptView{ID: r.ID.String(), Slot: r.Slot, Events: types.NewEventViews(r.Events)}
	if r.Mint != nil {
		v.Mint = r.Mint.Mint.String()
	}
	return v
}

// submit runs cmd as the request signer and writes the receipt.
func (a *API) submit(w http.ResponseWriter, r *http.Request, cmd engine.Command) (ledger.Receipt, bool) {
	signer, ok := SignerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unsigned request")
		return ledger.Receipt{}, false
	}
	cmd.Signer = signer
	receipt, err := a.Ledger.Submit(r.Context(), cmd)
	if err != nil {
		a.fail(w, err)
		return ledger.Receipt{}, false
	}
	return receipt, true
}

func (a *API) command(build func(w http.ResponseWriter, r *http.Request) (engine.Command, bool)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cmd, ok := build(w, r)
		if !ok {
			return
		}
		receipt, ok := a.submit(w, r, cmd)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, receiptView(receipt))
	}
}

func (a *API) InitializeVault() http.HandlerFunc {
	return a.command(func(w http.ResponseWriter, r *http.Request) (engine.Command, bool) {
		return engine.Command{Type: engine.CmdInitializeVault}, true
	})
}

func (a *API) InitializePlayer() http.HandlerFunc {
	return a.command(func(w http.ResponseWriter, r *http.Request) (engine.Command, bool) {
		var req playerRequest
		if !decode(w, r, &req) {
			return engine.Command{}, false
		}
		avatar, err := engine.ParseAvatar(req.Avatar)
		if err != nil {
			a.fail(w, err)
			return engine.Command{}, false
		}
		return engine.Command{Type: engine.CmdInitializePlayer, Avatar: avatar}, true
	})
}

func (a *API) ledgerCommand(t engine.CommandType) http.HandlerFunc {
	return a.command(func(w http.ResponseWriter, r *http.Request) (engine.Command, bool) {
		var req amountRequest
		if !decode(w, r, &req) {
			return engine.Command{}, false
		}
		cmd := engine.Command{Type: t, Amount: req.Amount}
		if req.Owner != "" {
			owner, err := solana.PublicKeyFromBase58(req.Owner)
			if err != nil {
				writeError(w, http.StatusBadRequest, "bad owner")
				return engine.Command{}, false
			}
			cmd.Owner = owner
		}
		return cmd, true
	})
}

func (a *API) Deposit() http.HandlerFunc { return a.ledgerCommand(engine.CmdDepositToVault) }

func (a *API) Deduct() http.HandlerFunc { return a.ledgerCommand(engine.CmdDeductBalance) }

// CreateGame opens a game under the given room id, or under a fresh code,
// regenerating on collision.
func (a *API) CreateGame() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createGameRequest
		if !decode(w, r, &req) {
			return
		}

		var (
			receipt ledger.Receipt
			ok      bool
			code    = req.RoomID
		)
		if code != "" {
			receipt, ok = a.submit(w, r, engine.Command{Type: engine.CmdInitializeGame, RoomID: code})
			if !ok {
				return
			}
		} else {
			for attempt := 0; ; attempt++ {
				c, err := address.GenerateRoomID()
				if err != nil {
					writeError(w, http.StatusInternalServerError, "failed to generate code")
					return
				}
				cmd := engine.Command{Type: engine.CmdInitializeGame, RoomID: c, Signer: mustSigner(r)}
				receipt, err = a.Ledger.Submit(r.Context(), cmd)
				if errors.Is(err, engine.ErrAddressInUse) && attempt < maxCodeAttempts {
					a.Log.Info("collision on code, regenerating", zap.String("room", c))
					continue
				}
				if err != nil {
					a.fail(w, err)
					return
				}
				code = c
				break
			}
		}

		addr, _ := a.Ledger.Program().Game(code)
		writeJSON(w, http.StatusCreated, struct {
			RoomID  string            `json:"roomId"`
			Address string            `json:"address"`
			Receipt types.ReceiptView `json:"receipt"`
		}{RoomID: code, Address: addr.String(), Receipt: receiptView(receipt)})
	}
}

func mustSigner(r *http.Request) solana.PublicKey {
	pk, _ := SignerFrom(r.Context())
	return pk
}

func (a *API) gameCommand(t engine.CommandType, fill func(w http.ResponseWriter, r *http.Request, cmd *engine.Command) bool) http.HandlerFunc {
	return a.command(func(w http.ResponseWriter, r *http.Request) (engine.Command, bool) {
		cmd := engine.Command{Type: t, RoomID: chi.URLParam(r, "room")}
		if fill != nil && !fill(w, r, &cmd) {
			return engine.Command{}, false
		}
		return cmd, true
	})
}

func (a *API) JoinGame() http.HandlerFunc  { return a.gameCommand(engine.CmdJoinGame, nil) }
func (a *API) LeaveGame() http.HandlerFunc { return a.gameCommand(engine.CmdLeaveGame, nil) }
func (a *API) StartGame() http.HandlerFunc { return a.gameCommand(engine.CmdStartGame, nil) }
func (a *API) MintNft() http.HandlerFunc   { return a.gameCommand(engine.CmdMintNft, nil) }

func (a *API) SubmitStory() http.HandlerFunc {
	return a.gameCommand(engine.CmdSubmitStory, func(w http.ResponseWriter, r *http.Request, cmd *engine.Command) bool {
		var req storyRequest
		if !decode(w, r, &req) {
			return false
		}
		cmd.Story = req.Story
		return true
	})
}

func (a *API) SubmitDrawing() http.HandlerFunc {
	return a.gameCommand(engine.CmdSubmitDrawing, func(w http.ResponseWriter, r *http.Request, cmd *engine.Command) bool {
		var req drawingRequest
		if !decode(w, r, &req) {
			return false
		}
		cmd.DrawingRef = req.DrawingRef
		return true
	})
}

func (a *API) SelectWinner() http.HandlerFunc {
	return a.gameCommand(engine.CmdSelectWinner, func(w http.ResponseWriter, r *http.Request, cmd *engine.Command) bool {
		var req winnerRequest
		if !decode(w, r, &req) {
			return false
		}
		cmd.Index = req.Index
		return true
	})
}

func (a *API) Airdrop(w http.ResponseWriter, r *http.Request) {
	var req faucetRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Amount == 0 {
		req.Amount = a.FaucetLamports
	}
	signer := mustSigner(r)
	if err := a.Faucet.Airdrop(r.Context(), signer, req.Amount); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Owner   string `json:"owner"`
		Balance uint64 `json:"balance"`
	}{Owner: signer.String(), Balance: a.Faucet.Balance(signer)})
}

func (a *API) GetVault(w http.ResponseWriter, r *http.Request) {
	v, err := a.Ledger.Vault(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	addr, _ := a.Ledger.Program().Vault()
	writeJSON(w, http.StatusOK, types.NewVaultView(v, addr.String()))
}

func (a *API) GetPlayer(w http.ResponseWriter, r *http.Request) {
	owner, err := solana.PublicKeyFromBase58(chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad owner")
		return
	}
	p, err := a.Ledger.Player(r.Context(), owner)
	if err != nil {
		a.fail(w, err)
		return
	}
	addr, _ := a.Ledger.Program().Player(owner)
	writeJSON(w, http.StatusOK, types.NewPlayerView(p, addr.String()))
}

func (a *API) GetGame(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	addr, err := a.Ledger.Program().Game(room)
	if err != nil {
		a.fail(w, err)
		return
	}
	g, err := a.Ledger.Game(r.Context(), room)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.NewGameView(g, addr.String()))
}

func (a *API) GetAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := solana.PublicKeyFromBase58(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad address")
		return
	}
	acct, err := a.Ledger.Account(r.Context(), addr)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.AccountView{Address: addr.String(), Kind: acct.Kind, Slot: acct.Slot, Data: acct.Data})
}

func (a *API) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be 1-500")
			return
		}
		limit = n
	}
	txs, err := a.Ledger.Transactions(r.Context(), limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	out := make([]types.TxView, len(txs))
	for i, tx := range txs {
		out[i] = types.NewTxView(tx)
	}
	writeJSON(w, http.StatusOK, out)
}
