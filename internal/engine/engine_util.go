package engine

import (
	"maps"
	"math"
	"slices"

	"github.com/DoyleJ11/pixelana-backend/internal/address"
	"github.com/gagliardetto/solana-go"
)

func NewEmptyState(program address.Program) State {
	return State{
		Program: program,
		Rules:   DefaultRules(),
		Players: map[solana.PublicKey]Player{},
		Games:   map[string]Game{},
	}
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// Replay applies cmds in order and stops at the first rejection, returning
// the state reached before it.
func Replay(s State, cmds []Command) (State, []Event, error) {
	var all []Event
	for _, cmd := range cmds {
		events, next, err := Apply(s, cmd)
		if err != nil {
			return s, all, err
		}
		s = next
		all = append(all, events...)
	}
	return s, all, nil
}

// clone copies the account maps so the caller can replace entries without
// touching s. Entry values are copied, not deep-cloned.
func (s State) clone() State {
	next := s
	next.Players = maps.Clone(s.Players)
	if next.Players == nil {
		next.Players = map[solana.PublicKey]Player{}
	}
	next.Games = maps.Clone(s.Games)
	if next.Games == nil {
		next.Games = map[string]Game{}
	}
	return next
}

func (g Game) clone() Game {
	next := g
	next.Participants = slices.Clone(g.Participants)
	next.Drawings = slices.Clone(g.Drawings)
	if g.WinningDrawing != nil {
		w := *g.WinningDrawing
		next.WinningDrawing = &w
	}
	if g.RewardMint != nil {
		m := *g.RewardMint
		next.RewardMint = &m
	}
	return next
}

func addBalance(a, b uint64) (uint64, bool) {
	if a > math.MaxUint64-b {
		return 0, false
	}
	return a + b, true
}
