package lobby

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/DoyleJ11/pixelana-backend/internal/codec"
	"github.com/DoyleJ11/pixelana-backend/internal/engine"
	"github.com/DoyleJ11/pixelana-backend/internal/notify"
)

var (
	ErrNoSuchDrawing = errors.New("no drawing by that participant")
	ErrAlreadyLiked  = errors.New("drawing already liked")
	ErrOwnDrawing    = errors.New("cannot like your own drawing")
	ErrNotIntroduced = errors.New("say hello before liking")
)

// GameSource is the part of the ledger a lobby reads from.
type GameSource interface {
	// GameAt returns the game and the slot it was written at.
	GameAt(ctx context.Context, roomID string) (engine.Game, uint64, error)
	SubscribeGame(roomID string) (*notify.Subscription, error)
	Unsubscribe(sub *notify.Subscription)
}

type Msg interface{ isLobbyMsg() }

type Join struct {
	ClientID string
	Outbox   chan Snapshot // where this client wants to receive snapshots
}

func (Join) isLobbyMsg() {}

type Leave struct{ ClientID string }

func (Leave) isLobbyMsg() {}

// Hello introduces a connected client to the room.
type Hello struct {
	ClientID string
	Presence Presence
}

func (Hello) isLobbyMsg() {}

type Like struct {
	ClientID    string
	Participant solana.PublicKey
}

func (Like) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

type Presence struct {
	Name   string
	Avatar engine.Avatar
	// PublicKey is claimed by the client, not proven. Likes are a room
	// courtesy and never reach the ledger, so the own-drawing rule only
	// holds against the key a client chose to announce.
	PublicKey solana.PublicKey
}

type Score struct {
	Participant solana.PublicKey
	Likes       int
}

// Snapshot is what a client is sent. Error is set only on a snapshot sent
// to the one client whose message was rejected.
type Snapshot struct {
	Version     int
	Slot        uint64
	Game        *engine.Game
	Present     []Presence
	LeaderBoard []Score
	Error       string
}

type View struct {
	Version    int
	NumClients int
	Slot       uint64
	Game       *engine.Game
	Present    []Presence
	Likes      map[solana.PublicKey]int
}

type client struct {
	outbox   chan Snapshot
	presence *Presence
	joined   int
}

const resubscribeDelay = 250 * time.Millisecond

type Lobby struct {
	roomID  string
	inbox   chan Msg
	source  GameSource
	sub     *notify.Subscription
	game    *engine.Game
	slot    uint64
	version int
	clients map[string]*client
	joins   int
	// likes[participant] is the set of clients that liked their drawing.
	likes  map[solana.PublicKey]map[string]bool
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewLobby(parent context.Context, roomID string, source GameSource, log *zap.Logger) *Lobby {
	ctx, cancel := context.WithCancel(parent)

	l := &Lobby{
		roomID:  roomID,
		inbox:   make(chan Msg, 64), // Small buffer
		source:  source,
		clients: make(map[string]*client),
		likes:   make(map[solana.PublicKey]map[string]bool),
		log:     log.With(zap.String("room", roomID)),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	l.subscribe()

	go l.loop()
	return l
}

// subscribe follows the game account, then reads it so nothing committed
// between the two is missed.
func (l *Lobby) subscribe() {
	sub, err := l.source.SubscribeGame(l.roomID)
	if err != nil {
		l.log.Warn("subscribe to game", zap.Error(err))
		return
	}
	l.sub = sub
	g, slot, err := l.source.GameAt(l.ctx, l.roomID)
	if err != nil {
		return
	}
	if l.game != nil && slot <= l.slot {
		return
	}
	l.game = &g
	l.slot = slot
}

func (l *Lobby) loop() {
	defer close(l.done)
	var retry <-chan time.Time

	for {
		var updates <-chan notify.Update
		if l.sub != nil {
			updates = l.sub.C
		}

		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case u, ok := <-updates:
			if !ok {
				// Dropped by the broker; follow the account again shortly.
				l.sub = nil
				retry = time.After(resubscribeDelay)
				break
			}
			l.applyUpdate(u)

		case <-retry:
			retry = nil
			before := l.game
			l.subscribe()
			if l.game != before {
				l.version++
				l.broadcast(l.snapshot())
			}

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				// Register client + send current snapshot immediately
				l.joins++
				l.clients[msg.ClientID] = &client{outbox: msg.Outbox, joined: l.joins}
				msg.Outbox <- l.snapshot()

			case Leave:
				if _, ok := l.clients[msg.ClientID]; !ok {
					break
				}
				delete(l.clients, msg.ClientID)
				l.version++
				l.broadcast(l.snapshot())

			case Hello:
				c, ok := l.clients[msg.ClientID]
				if !ok {
					break
				}
				p := msg.Presence
				c.presence = &p
				l.version++
				l.broadcast(l.snapshot())

			case Like:
				if err := l.like(msg); err != nil {
					l.reject(msg.ClientID, err)
					break
				}
				l.version++
				l.broadcast(l.snapshot())

			case GetState:
				// test-only: reflect internal state without data races
				msg.Reply <- l.view()

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) applyUpdate(u notify.Update) {
	if u.Slot <= l.slot && l.game != nil {
		return
	}
	g, err := codec.DecodeGame(u.Data)
	if err != nil {
		l.log.Error("decode game update", zap.Uint64("slot", u.Slot), zap.Error(err))
		return
	}
	l.game = &g
	l.slot = u.Slot
	l.version++
	l.broadcast(l.snapshot())
}

func (l *Lobby) like(msg Like) error {
	c, ok := l.clients[msg.ClientID]
	if !ok || c.presence == nil {
		return ErrNotIntroduced
	}
	if l.game == nil || !l.game.HasDrawn(msg.Participant) {
		return ErrNoSuchDrawing
	}
	// Compares against the announced key only; see Presence.
	if c.presence.PublicKey == msg.Participant {
		return ErrOwnDrawing
	}
	voters := l.likes[msg.Participant]
	if voters[msg.ClientID] {
		return ErrAlreadyLiked
	}
	if voters == nil {
		voters = make(map[string]bool)
		l.likes[msg.Participant] = voters
	}
	voters[msg.ClientID] = true
	return nil
}

func (l *Lobby) reject(clientID string, err error) {
	c, ok := l.clients[clientID]
	if !ok {
		return
	}
	snap := l.snapshot()
	snap.Error = err.Error()
	select {
	case c.outbox <- snap:
	default:
	}
}

func (l *Lobby) snapshot() Snapshot {
	return Snapshot{
		Version:     l.version,
		Slot:        l.slot,
		Game:        l.game,
		Present:     l.present(),
		LeaderBoard: l.leaderBoard(),
	}
}

func (l *Lobby) view() View {
	likes := make(map[solana.PublicKey]int, len(l.likes))
	for p, voters := range l.likes {
		likes[p] = len(voters)
	}
	return View{
		Version:    l.version,
		NumClients: len(l.clients),
		Slot:       l.slot,
		Game:       l.game,
		Present:    l.present(),
		Likes:      likes,
	}
}

// present lists introduced clients in the order they joined.
func (l *Lobby) present() []Presence {
	cs := make([]*client, 0, len(l.clients))
	for _, c := range l.clients {
		if c.presence != nil {
			cs = append(cs, c)
		}
	}
	slices.SortFunc(cs, func(a, b *client) int { return a.joined - b.joined })
	out := make([]Presence, len(cs))
	for i, c := range cs {
		out[i] = *c.presence
	}
	return out
}

// leaderBoard ranks drawings by likes, ties broken by submission order.
func (l *Lobby) leaderBoard() []Score {
	if l.game == nil || len(l.game.Drawings) == 0 {
		return nil
	}
	out := make([]Score, len(l.game.Drawings))
	for i, d := range l.game.Drawings {
		out[i] = Score{Participant: d.Participant, Likes: len(l.likes[d.Participant])}
	}
	slices.SortStableFunc(out, func(a, b Score) int { return b.Likes - a.Likes })
	return out
}

func (l *Lobby) shutdown() {
	for id, c := range l.clients {
		close(c.outbox) // Tell client no more snapshots
		delete(l.clients, id)
	}
	if l.sub != nil {
		l.source.Unsubscribe(l.sub)
		l.sub = nil
	}
	l.cancel()
}

func (l *Lobby) broadcast(snap Snapshot) {
	for id, c := range l.clients {
		select {
		case c.outbox <- snap:
			//ok
		default:
			// Client is slow/full - drop them.
			close(c.outbox)
			delete(l.clients, id)
		}
	}
}

// Expose the inbox so tests or WS layer can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

func (l *Lobby) RoomID() string { return l.roomID }

// Done is closed once the lobby has stopped.
func (l *Lobby) Done() <-chan struct{} { return l.done }

// Send delivers m unless the lobby has stopped.
func (l *Lobby) Send(m Msg) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.inbox <- m:
		return true
	case <-l.done:
		return false
	}
}
