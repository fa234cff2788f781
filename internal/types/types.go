// Package types holds the JSON shapes spoken over HTTP and websocket.
//
// Websocket, client to server:
//
//	Hello:       name, avatar (e.g. "pierced-heart"), publicKey (base58, optional)
//	LikeDrawing: participant (base58)
//
// Server to client:
//
//	StateSnapshot: version, slot, game, players, leaderBoard
//	Error:         error
package types

import (
	"github.com/DoyleJ11/pixelana-backend/internal/engine"
	"github.com/DoyleJ11/pixelana-backend/internal/lobby"
	"github.com/DoyleJ11/pixelana-backend/internal/store"
)

type ClientMessage struct {
	Type        string `json:"type"` // "Hello" | "LikeDrawing"
	Name        string `json:"name,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	PublicKey   string `json:"publicKey,omitempty"`
	Participant string `json:"participant,omitempty"`
}

type ServerMessage struct {
	Type        string         `json:"type"` // "StateSnapshot" | "Error"
	Version     int            `json:"version,omitempty"`
	Slot        uint64         `json:"slot,omitempty"`
	Game        *GameView      `json:"game,omitempty"`
	Players     []PresenceView `json:"players,omitempty"`
	LeaderBoard []ScoreView    `json:"leaderBoard,omitempty"`
	Error       string         `json:"error,omitempty"`
}

type DrawingView struct {
	Participant string `json:"participant"`
	DrawingRef  string `json:"drawingRef"`
}

type RulesView struct {
	MaxMembers int  `json:"maxMembers"`
	MinMembers int  `json:"minMembers"`
	HostDraws  bool `json:"hostDraws"`
}

type GameView struct {
	Address        string        `json:"address,omitempty"`
	RoomID         string        `json:"roomId"`
	Host           string        `json:"host"`
	Participants   []string      `json:"participants"`
	Story          string        `json:"story"`
	Drawings       []DrawingView `json:"drawings"`
	WinningDrawing *DrawingView  `json:"winningDrawing"`
	GameState      string        `json:"gameState"`
	Rules          RulesView     `json:"rules"`
	RewardMint     *string       `json:"rewardMint"`
}

type PlayerView struct {
	Address     string  `json:"address,omitempty"`
	Owner       string  `json:"owner"`
	Balance     uint64  `json:"balance"`
	Avatar      string  `json:"avatar"`
	AvatarKey   string  `json:"avatarKey"`
	Games       uint32  `json:"games"`
	CurrentGame *string `json:"currentGame"`
}

type VaultView struct {
	Address string `json:"address,omitempty"`
	Creator string `json:"creator"`
	Balance uint64 `json:"balance"`
}

type PresenceView struct {
	Name      string `json:"name"`
	Avatar    string `json:"avatar"`
	PublicKey string `json:"publicKey,omitempty"`
}

type ScoreView struct {
	Participant string `json:"participant"`
	Likes       int    `json:"likes"`
}

type EventView struct {
	Type   string `json:"type"`
	Actor  string `json:"actor,omitempty"`
	RoomID string `json:"roomId,omitempty"`
	Amount uint64 `json:"amount,omitempty"`
	Status string `json:"status,omitempty"`
}

type ReceiptView struct {
	ID     string      `json:"id"`
	Slot   uint64      `json:"slot"`
	Events []EventView `json:"events"`
	Mint   string      `json:"mint,omitempty"`
}

type TxView struct {
	ID        string `json:"id"`
	Slot      uint64 `json:"slot"`
	Command   string `json:"command"`
	Signer    string `json:"signer"`
	RoomID    string `json:"roomId,omitempty"`
	Accepted  bool   `json:"accepted"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"createdAt"`
}

type AccountView struct {
	Address string `json:"address"`
	Kind    string `json:"kind"`
	Slot    uint64 `json:"slot"`
	Data    []byte `json:"data"` // base64
}

func NewDrawingView(d engine.Drawing) DrawingView {
	return DrawingView{Participant: d.Participant.String(), DrawingRef: d.DrawingRef}
}

func NewGameView(g engine.Game, addr string) GameView {
	v := GameView{
		Address:      addr,
		RoomID:       g.RoomID,
		Host:         g.Host.String(),
		Participants: make([]string, len(g.Participants)),
		Story:        g.Story,
		Drawings:     make([]DrawingView, len(g.Drawings)),
		GameState:    g.Status.String(),
		Rules: RulesView{
			MaxMembers: int(g.Rules.MaxMembers),
			MinMembers: int(g.Rules.MinMembers),
			HostDraws:  g.Rules.HostDraws,
		},
	}
	for i, p := range g.Participants {
		v.Participants[i] = p.String()
	}
	for i, d := range g.Drawings {
		v.Drawings[i] = NewDrawingView(d)
	}
	if g.WinningDrawing != nil {
		w := NewDrawingView(*g.WinningDrawing)
		v.WinningDrawing = &w
	}
	if g.RewardMint != nil {
		m := g.RewardMint.String()
		v.RewardMint = &m
	}
	return v
}

func NewPlayerView(p engine.Player, addr string) PlayerView {
	v := PlayerView{
		Address:   addr,
		Owner:     p.Owner.String(),
		Balance:   p.Balance,
		Avatar:    p.Avatar.String(),
		AvatarKey: p.Avatar.Key(),
		Games:     p.Games,
	}
	if p.CurrentGame != nil {
		g := p.CurrentGame.String()
		v.CurrentGame = &g
	}
	return v
}

func NewVaultView(vault engine.Vault, addr string) VaultView {
	return VaultView{Address: addr, Creator: vault.Creator.String(), Balance: vault.Balance}
}

func NewEventViews(events []engine.Event) []EventView {
	out := make([]EventView, len(events))
	for i, e := range events {
		out[i] = EventView{Type: string(e.Type), RoomID: e.RoomID, Amount: e.Amount}
		if !e.Actor.IsZero() {
			out[i].Actor = e.Actor.String()
		}
		if e.Type == engine.EvtStatusChanged || e.Type == engine.EvtGameCreated {
			out[i].Status = e.Status.String()
		}
	}
	return out
}

func NewTxView(tx store.Tx) TxView {
	return TxView{
		ID:        tx.ID.String(),
		Slot:      tx.Slot,
		Command:   tx.Command,
		Signer:    tx.Signer,
		RoomID:    tx.RoomID,
		Accepted:  tx.Accepted,
		Error:     tx.Error,
		CreatedAt: tx.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

func NewSnapshotMessage(snap lobby.Snapshot) ServerMessage {
	if snap.Error != "" {
		return ServerMessage{Type: "Error", Version: snap.Version, Error: snap.Error}
	}
	msg := ServerMessage{Type: "StateSnapshot", Version: snap.Version, Slot: snap.Slot}
	if snap.Game != nil {
		g := NewGameView(*snap.Game, "")
		msg.Game = &g
	}
	for _, p := range snap.Present {
		pv := PresenceView{Name: p.Name, Avatar: p.Avatar.String()}
		if !p.PublicKey.IsZero() {
			pv.PublicKey = p.PublicKey.String()
		}
		msg.Players = append(msg.Players, pv)
	}
	for _, s := range snap.LeaderBoard {
		msg.LeaderBoard = append(msg.LeaderBoard, ScoreView{Participant: s.Participant.String(), Likes: s.Likes})
	}
	return msg
}
