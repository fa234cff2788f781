package hub

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/pixelana-backend/internal/lobby"
)

type HubMsg interface{ isHubMsg() }

// JoinLobby registers a client with the room's lobby, creating it if
// needed. Going through the hub keeps a join from racing an idle sweep.
type JoinLobby struct {
	Code     string
	ClientID string
	Outbox   chan lobby.Snapshot
	Reply    chan *lobby.Lobby
}

// Sweep shuts down lobbies that had no clients on two sweeps in a row.
type Sweep struct {
	Reply chan int // number of lobbies still open, may be nil
}

type ShutdownHub struct{}

func (JoinLobby) isHubMsg()   {}
func (Sweep) isHubMsg()       {}
func (ShutdownHub) isHubMsg() {}

const stateTimeout = 200 * time.Millisecond

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	idle    map[string]int
	source  lobby.GameSource
	log     *zap.Logger
	every   time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewHub starts the hub. With sweepEvery > 0 idle lobbies are swept on
// that interval.
func NewHub(parent context.Context, source lobby.GameSource, sweepEvery time.Duration, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		idle:    make(map[string]int),
		source:  source,
		log:     log.Named("hub"),
		every:   sweepEvery,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) loop() {
	defer close(h.done)
	var tick <-chan time.Time
	if h.every > 0 {
		t := time.NewTicker(h.every)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case <-tick:
			h.sweep()

		case m := <-h.inbox:
			switch msg := m.(type) {
			case JoinLobby:
				lb := h.ensure(msg.Code)
				if !lb.Send(lobby.Join{ClientID: msg.ClientID, Outbox: msg.Outbox}) {
					delete(h.lobbies, msg.Code)
					lb = h.ensure(msg.Code)
					lb.Send(lobby.Join{ClientID: msg.ClientID, Outbox: msg.Outbox})
				}
				h.idle[msg.Code] = 0
				msg.Reply <- lb

			case Sweep:
				h.sweep()
				if msg.Reply != nil {
					msg.Reply <- len(h.lobbies)
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

// live returns the lobby for code unless it has stopped on its own.
func (h *Hub) live(code string) *lobby.Lobby {
	lb := h.lobbies[code]
	if lb == nil {
		return nil
	}
	select {
	case <-lb.Done():
		delete(h.lobbies, code)
		delete(h.idle, code)
		return nil
	default:
		return lb
	}
}

func (h *Hub) ensure(code string) *lobby.Lobby {
	if lb := h.live(code); lb != nil {
		return lb
	}
	lb := lobby.NewLobby(h.ctx, code, h.source, h.log)
	h.lobbies[code] = lb
	h.idle[code] = 0
	h.log.Debug("lobby opened", zap.String("room", code))
	return lb
}

func (h *Hub) sweep() {
	for code, lb := range h.lobbies {
		reply := make(chan lobby.View, 1)
		if !lb.Send(lobby.GetState{Reply: reply}) {
			delete(h.lobbies, code)
			delete(h.idle, code)
			continue
		}
		var view lobby.View
		select {
		case view = <-reply:
		case <-lb.Done():
			delete(h.lobbies, code)
			delete(h.idle, code)
			continue
		case <-time.After(stateTimeout):
			continue
		}
		if view.NumClients > 0 {
			h.idle[code] = 0
			continue
		}
		h.idle[code]++
		if h.idle[code] >= 2 {
			lb.Send(lobby.Shutdown{})
			delete(h.lobbies, code)
			delete(h.idle, code)
			h.log.Debug("idle lobby closed", zap.String("room", code))
		}
	}
}

func (h *Hub) shutdown() {
	for _, lb := range h.lobbies {
		lb.Send(lobby.Shutdown{})
	}
	clear(h.lobbies)
	clear(h.idle)
	h.cancel()
}
