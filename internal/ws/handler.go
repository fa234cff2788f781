package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/pixelana-backend/internal/address"
	"github.com/DoyleJ11/pixelana-backend/internal/engine"
	"github.com/DoyleJ11/pixelana-backend/internal/hub"
	"github.com/DoyleJ11/pixelana-backend/internal/ledger"
	"github.com/DoyleJ11/pixelana-backend/internal/lobby"
	"github.com/DoyleJ11/pixelana-backend/internal/types"
)

const (
	writeTimeout = 3 * time.Second
	pingEvery    = 30 * time.Second
	maxNameLen   = 32
)

// Games is what the handler needs to know a room exists.
type Games interface {
	Game(ctx context.Context, roomID string) (engine.Game, error)
}

func Handler(h *hub.Hub, games Games, log *zap.Logger) http.HandlerFunc {
	log = log.Named("ws")
	return func(w http.ResponseWriter, r *http.Request) {
		room := r.URL.Query().Get("room")
		if err := address.ValidateRoomID(room); err != nil {
			http.Error(w, "missing or invalid room", http.StatusBadRequest)
			return
		}
		if _, err := games.Game(r.Context(), room); err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				http.Error(w, "game not found", http.StatusNotFound)
				return
			}
			log.Error("load game", zap.String("room", room), zap.Error(err))
			http.Error(w, "failed to load game", http.StatusInternalServerError)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// In dev ONLY, you can loosen origin checks:
			// OriginPatterns: []string{"http://localhost:*", "http://127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan lobby.Snapshot, 8)
		clientID := uuid.NewString()

		reply := make(chan *lobby.Lobby, 1)
		var lb *lobby.Lobby
		select {
		case h.Inbox() <- hub.JoinLobby{Code: room, ClientID: clientID, Outbox: out, Reply: reply}:
			select {
			case lb = <-reply:
			case <-h.Done():
			}
		case <-h.Done():
		}
		if lb == nil {
			conn.Close(websocket.StatusGoingAway, "shutting down")
			return
		}
		defer lb.Send(lobby.Leave{ClientID: clientID})

		connCtx, connCancel := context.WithCancel(r.Context())
		defer connCancel()

		// Writer goroutine
		go func() {
			defer connCancel()
			for snap := range out {
				payload, err := json.Marshal(types.NewSnapshotMessage(snap))
				if err != nil {
					log.Error("marshal snapshot", zap.Error(err))
					continue
				}
				ctx, cancel := context.WithTimeout(connCtx, writeTimeout)
				err = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
				if err != nil {
					return
				}
			}
			// Outbox closed: the lobby dropped us or shut down.
			conn.Close(websocket.StatusTryAgainLater, "lobby closed")
		}()

		// Keepalive
		go func() {
			t := time.NewTicker(pingEvery)
			defer t.Stop()
			for {
				select {
				case <-connCtx.Done():
					return
				case <-t.C:
					ctx, cancel := context.WithTimeout(connCtx, writeTimeout)
					err := conn.Ping(ctx)
					cancel()
					if err != nil {
						connCancel()
						return
					}
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(connCtx)
			if err != nil {
				// Treat clean close/going-away as normal:
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				// Otherwise, just exit (lobby.Leave in defer):
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeError(connCtx, conn, "bad json")
				continue
			}

			m, err := toLobbyMsg(clientID, cm)
			if err != nil {
				writeError(connCtx, conn, err.Error())
				continue
			}
			if !lb.Send(m) {
				return
			}
		}
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, msg string) {
	payload, _ := json.Marshal(types.ServerMessage{Type: "Error", Error: msg})
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(ctx, websocket.MessageText, payload)
}

func toLobbyMsg(clientID string, m types.ClientMessage) (lobby.Msg, error) {
	switch m.Type {
	case "Hello":
		if m.Name == "" || len(m.Name) > maxNameLen {
			return nil, errors.New("name must be 1-32 bytes")
		}
		avatar, err := engine.ParseAvatar(m.Avatar)
		if err != nil {
			return nil, err
		}
		p := lobby.Presence{Name: m.Name, Avatar: avatar}
		if m.PublicKey != "" {
			pk, err := solana.PublicKeyFromBase58(m.PublicKey)
			if err != nil {
				return nil, errors.New("bad publicKey")
			}
			p.PublicKey = pk
		}
		return lobby.Hello{ClientID: clientID, Presence: p}, nil

	case "LikeDrawing":
		pk, err := solana.PublicKeyFromBase58(m.Participant)
		if err != nil {
			return nil, errors.New("bad participant")
		}
		return lobby.Like{ClientID: clientID, Participant: pk}, nil

	default:
		return nil, errors.New("unknown type")
	}
}
