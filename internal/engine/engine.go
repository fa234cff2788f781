package engine

import (
	"errors"
	"fmt"
	"slices"

	"github.com/DoyleJ11/pixelana-backend/internal/address"
	"github.com/gagliardetto/solana-go"
)

// Error categories. Every rejection wraps exactly one of these.
var (
	ErrAuthorization = errors.New("unauthorized")
	ErrState         = errors.New("invalid state")
	ErrBound         = errors.New("bound violated")
	ErrLedger        = errors.New("ledger")
	ErrCollision     = errors.New("collision")
)

var (
	ErrNotHost   = fmt.Errorf("%w: signer is not the host", ErrAuthorization)
	ErrNotOwner  = fmt.Errorf("%w: signer does not own the player", ErrAuthorization)
	ErrNotMember = fmt.Errorf("%w: signer is not a member of the game", ErrAuthorization)

	ErrInvalidGameState     = fmt.Errorf("%w: operation not allowed in this game state", ErrState)
	ErrPlayerNotInitialized = fmt.Errorf("%w: player not initialized", ErrState)
	ErrVaultNotInitialized  = fmt.Errorf("%w: vault not initialized", ErrState)
	ErrGameNotFound         = fmt.Errorf("%w: game not found", ErrState)

	ErrGameFull                = fmt.Errorf("%w: game is full", ErrBound)
	ErrAlreadyJoined           = fmt.Errorf("%w: already joined", ErrBound)
	ErrDrawingAlreadySubmitted = fmt.Errorf("%w: drawing already submitted", ErrBound)
	ErrNotEnoughMembers        = fmt.Errorf("%w: not enough members", ErrBound)
	ErrInvalidAvatar           = fmt.Errorf("%w: invalid avatar", ErrBound)
	ErrInvalidRoomID           = fmt.Errorf("%w: invalid room id", ErrBound)
	ErrInvalidDrawingIndex     = fmt.Errorf("%w: invalid drawing index", ErrBound)
	ErrInvalidStory            = fmt.Errorf("%w: invalid story", ErrBound)
	ErrInvalidDrawingRef       = fmt.Errorf("%w: invalid drawing reference", ErrBound)
	ErrMissingMint             = fmt.Errorf("%w: missing reward mint", ErrBound)

	ErrInvalidAmount       = fmt.Errorf("%w: amount must be positive", ErrLedger)
	ErrInsufficientBalance = fmt.Errorf("%w: insufficient balance", ErrLedger)
	ErrBalanceOverflow     = fmt.Errorf("%w: balance overflow", ErrLedger)
	ErrFundingFailed       = fmt.Errorf("%w: funding failed", ErrLedger)

	ErrAddressInUse = fmt.Errorf("%w: account address already in use", ErrCollision)

	ErrUnsupportedCommand = errors.New("unsupported command")
)

const (
	MaxStoryLen      = 1024
	MaxDrawingRefLen = 256
)

type Vault struct {
	Creator solana.PublicKey
	Balance uint64
}

type Player struct {
	Owner       solana.PublicKey
	Balance     uint64
	Avatar      Avatar
	Games       uint32
	CurrentGame *solana.PublicKey
}

type Drawing struct {
	Participant solana.PublicKey
	DrawingRef  string
}

// Rules are fixed when a game is created.
type Rules struct {
	MaxMembers uint8
	MinMembers uint8
	// HostDraws makes the host a drawing member alongside the participants.
	HostDraws bool
}

func DefaultRules() Rules {
	return Rules{MaxMembers: 7, MinMembers: 2, HostDraws: true}
}

type Game struct {
	RoomID string
	Host   solana.PublicKey
	// Participants excludes the host, who is always member zero.
	Participants   []solana.PublicKey
	Story          string
	Drawings       []Drawing
	WinningDrawing *Drawing
	Status         Status
	Rules          Rules
	RewardMint     *solana.PublicKey
}

// State is the slice of accounts a command may read or write. Apply never
// mutates its input; the returned State shares untouched entries.
type State struct {
	Program address.Program
	// Rules applied to games created from this state.
	Rules   Rules
	Vault   *Vault
	Players map[solana.PublicKey]Player
	Games   map[string]Game
}

type CommandType string

const (
	CmdInitializeVault  CommandType = "InitializeVault"
	CmdInitializePlayer CommandType = "InitializePlayer"
	CmdDepositToVault   CommandType = "DepositToVault"
	CmdDeductBalance    CommandType = "DeductBalance"
	CmdInitializeGame   CommandType = "InitializeGame"
	CmdJoinGame         CommandType = "JoinGame"
	CmdLeaveGame        CommandType = "LeaveGame"
	CmdStartGame        CommandType = "StartGame"
	CmdSubmitStory      CommandType = "SubmitStory"
	CmdSubmitDrawing    CommandType = "SubmitDrawing"
	CmdSelectWinner     CommandType = "SelectWinner"
	CmdMintNft          CommandType = "MintNft"
)

/*
	CmdInitializeVault  -> EvtVaultInitialized
	CmdInitializePlayer -> EvtPlayerInitialized (nothing when the player exists)
	CmdDepositToVault   -> EvtDeposited
	CmdDeductBalance    -> EvtBalanceDeducted
	CmdInitializeGame   -> EvtGameCreated
	CmdJoinGame         -> EvtPlayerJoined
	CmdLeaveGame        -> EvtPlayerLeft
	CmdStartGame        -> EvtStatusChanged
	CmdSubmitStory      -> EvtStorySubmitted -> EvtStatusChanged
	CmdSubmitDrawing    -> EvtDrawingSubmitted [-> EvtStatusChanged on the last drawing]
	CmdSelectWinner     -> EvtWinnerSelected -> EvtStatusChanged
	CmdMintNft          -> EvtRewardMinted -> EvtStatusChanged -> EvtGameCompleted
*/

type Command struct {
	Type   CommandType
	Signer solana.PublicKey
	// Owner names the player a ledger command targets. Zero means the signer.
	Owner      solana.PublicKey
	RoomID     string
	Avatar     Avatar
	Amount     uint64
	Story      string
	DrawingRef string
	Index      int
	Mint       solana.PublicKey
}

type EventType string

const (
	EvtVaultInitialized  EventType = "VaultInitialized"
	EvtPlayerInitialized EventType = "PlayerInitialized"
	EvtDeposited         EventType = "Deposited"
	EvtBalanceDeducted   EventType = "BalanceDeducted"
	EvtGameCreated       EventType = "GameCreated"
	EvtPlayerJoined      EventType = "PlayerJoined"
	EvtPlayerLeft        EventType = "PlayerLeft"
	EvtStorySubmitted    EventType = "StorySubmitted"
	EvtDrawingSubmitted  EventType = "DrawingSubmitted"
	EvtWinnerSelected    EventType = "WinnerSelected"
	EvtRewardMinted      EventType = "RewardMinted"
	EvtStatusChanged     EventType = "StatusChanged"
	EvtGameCompleted     EventType = "GameCompleted"
)

type Event struct {
	Type   EventType
	Actor  solana.PublicKey
	RoomID string
	Amount uint64
	Status Status
	Index  int
}

func Apply(s State, cmd Command) ([]Event, State, error) {
	switch cmd.Type {
	case CmdInitializeVault:
		if s.Vault != nil {
			return nil, s, fmt.Errorf("%w: vault", ErrAddressInUse)
		}
		next := s.clone()
		next.Vault = &Vault{Creator: cmd.Signer}
		return []Event{{Type: EvtVaultInitialized, Actor: cmd.Signer}}, next, nil

	case CmdInitializePlayer:
		if err := checkOwner(cmd); err != nil {
			return nil, s, err
		}
		if !cmd.Avatar.Valid() {
			return nil, s, fmt.Errorf("%w: %d", ErrInvalidAvatar, cmd.Avatar)
		}
		// A second initialize leaves the account exactly as it was.
		if _, ok := s.Players[cmd.Signer]; ok {
			return nil, s, nil
		}
		next := s.clone()
		next.Players[cmd.Signer] = Player{Owner: cmd.Signer, Avatar: cmd.Avatar}
		return []Event{{Type: EvtPlayerInitialized, Actor: cmd.Signer}}, next, nil

	case CmdDepositToVault:
		p, err := ledgerPreconditions(s, cmd)
		if err != nil {
			return nil, s, err
		}
		if s.Vault == nil {
			return nil, s, ErrVaultNotInitialized
		}
		vaultBalance, ok := addBalance(s.Vault.Balance, cmd.Amount)
		if !ok {
			return nil, s, fmt.Errorf("%w: vault", ErrBalanceOverflow)
		}
		playerBalance, ok := addBalance(p.Balance, cmd.Amount)
		if !ok {
			return nil, s, fmt.Errorf("%w: player", ErrBalanceOverflow)
		}
		next := s.clone()
		next.Vault = &Vault{Creator: s.Vault.Creator, Balance: vaultBalance}
		p.Balance = playerBalance
		next.Players[cmd.Signer] = p
		return []Event{{Type: EvtDeposited, Actor: cmd.Signer, Amount: cmd.Amount}}, next, nil

	case CmdDeductBalance:
		p, err := ledgerPreconditions(s, cmd)
		if err != nil {
			return nil, s, err
		}
		if p.Balance < cmd.Amount {
			return nil, s, fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, p.Balance, cmd.Amount)
		}
		next := s.clone()
		p.Balance -= cmd.Amount
		next.Players[cmd.Signer] = p
		return []Event{{Type: EvtBalanceDeducted, Actor: cmd.Signer, Amount: cmd.Amount}}, next, nil

	case CmdInitializeGame:
		gameAddr, err := s.gameAddress(cmd.RoomID)
		if err != nil {
			return nil, s, err
		}
		if _, ok := s.Games[cmd.RoomID]; ok {
			return nil, s, fmt.Errorf("%w: game %s", ErrAddressInUse, cmd.RoomID)
		}
		host, err := initializedPlayer(s, cmd.Signer)
		if err != nil {
			return nil, s, err
		}
		rules := s.Rules
		if rules.MaxMembers == 0 {
			rules = DefaultRules()
		}
		next := s.clone()
		next.Games[cmd.RoomID] = Game{
			RoomID: cmd.RoomID,
			Host:   cmd.Signer,
			Status: StatusWaitingForParticipants,
			Rules:  rules,
		}
		host.CurrentGame = &gameAddr
		next.Players[cmd.Signer] = host
		return []Event{{Type: EvtGameCreated, Actor: cmd.Signer, RoomID: cmd.RoomID, Status: StatusWaitingForParticipants}}, next, nil

	case CmdJoinGame:
		g, gameAddr, err := s.game(cmd.RoomID)
		if err != nil {
			return nil, s, err
		}
		if err := requireStatus(g, StatusWaitingForParticipants); err != nil {
			return nil, s, err
		}
		if g.IsMember(cmd.Signer) {
			return nil, s, ErrAlreadyJoined
		}
		if len(g.Members()) >= int(g.Rules.MaxMembers) {
			return nil, s, fmt.Errorf("%w: %d members", ErrGameFull, len(g.Members()))
		}
		p, err := initializedPlayer(s, cmd.Signer)
		if err != nil {
			return nil, s, err
		}
		next := s.clone()
		g = g.clone()
		g.Participants = append(g.Participants, cmd.Signer)
		next.Games[cmd.RoomID] = g
		p.CurrentGame = &gameAddr
		next.Players[cmd.Signer] = p
		return []Event{{Type: EvtPlayerJoined, Actor: cmd.Signer, RoomID: cmd.RoomID}}, next, nil

	case CmdLeaveGame:
		g, gameAddr, err := s.game(cmd.RoomID)
		if err != nil {
			return nil, s, err
		}
		if err := requireStatus(g, StatusWaitingForParticipants); err != nil {
			return nil, s, err
		}
		if g.Host == cmd.Signer {
			return nil, s, fmt.Errorf("%w: host cannot leave", ErrInvalidGameState)
		}
		i := slices.Index(g.Participants, cmd.Signer)
		if i < 0 {
			return nil, s, ErrNotMember
		}
		next := s.clone()
		g = g.clone()
		g.Participants = slices.Delete(g.Participants, i, i+1)
		next.Games[cmd.RoomID] = g
		if p, ok := s.Players[cmd.Signer]; ok && p.CurrentGame != nil && *p.CurrentGame == gameAddr {
			p.CurrentGame = nil
			next.Players[cmd.Signer] = p
		}
		return []Event{{Type: EvtPlayerLeft, Actor: cmd.Signer, RoomID: cmd.RoomID}}, next, nil

	case CmdStartGame:
		g, _, err := s.hostedGame(cmd)
		if err != nil {
			return nil, s, err
		}
		if err := requireStatus(g, StatusWaitingForParticipants); err != nil {
			return nil, s, err
		}
		if len(g.Members()) < int(g.Rules.MinMembers) {
			return nil, s, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughMembers, len(g.Members()), g.Rules.MinMembers)
		}
		g = g.clone()
		if err := advance(&g, StatusWaitingForParticipants); err != nil {
			return nil, s, err
		}
		next := s.clone()
		next.Games[cmd.RoomID] = g
		return []Event{statusChanged(cmd, g.Status)}, next, nil

	case CmdSubmitStory:
		g, _, err := s.hostedGame(cmd)
		if err != nil {
			return nil, s, err
		}
		if err := requireStatus(g, StatusWaitingForStory); err != nil {
			return nil, s, err
		}
		if len(cmd.Story) == 0 || len(cmd.Story) > MaxStoryLen {
			return nil, s, fmt.Errorf("%w: length %d", ErrInvalidStory, len(cmd.Story))
		}
		g = g.clone()
		g.Story = cmd.Story
		if err := advance(&g, StatusWaitingForStory); err != nil {
			return nil, s, err
		}
		next := s.clone()
		next.Games[cmd.RoomID] = g
		return []Event{
			{Type: EvtStorySubmitted, Actor: cmd.Signer, RoomID: cmd.RoomID},
			statusChanged(cmd, g.Status),
		}, next, nil

	case CmdSubmitDrawing:
		g, _, err := s.game(cmd.RoomID)
		if err != nil {
			return nil, s, err
		}
		if err := requireStatus(g, StatusWaitingForDrawings); err != nil {
			return nil, s, err
		}
		if !slices.Contains(g.DrawingMembers(), cmd.Signer) {
			return nil, s, ErrNotMember
		}
		if g.HasDrawn(cmd.Signer) {
			return nil, s, ErrDrawingAlreadySubmitted
		}
		if len(cmd.DrawingRef) == 0 || len(cmd.DrawingRef) > MaxDrawingRefLen {
			return nil, s, fmt.Errorf("%w: length %d", ErrInvalidDrawingRef, len(cmd.DrawingRef))
		}
		g = g.clone()
		g.Drawings = append(g.Drawings, Drawing{Participant: cmd.Signer, DrawingRef: cmd.DrawingRef})
		events := []Event{{Type: EvtDrawingSubmitted, Actor: cmd.Signer, RoomID: cmd.RoomID, Index: len(g.Drawings) - 1}}
		if len(g.Drawings) == len(g.DrawingMembers()) {
			if err := advance(&g, StatusWaitingForDrawings); err != nil {
				return nil, s, err
			}
			events = append(events, statusChanged(cmd, g.Status))
		}
		next := s.clone()
		next.Games[cmd.RoomID] = g
		return events, next, nil

	case CmdSelectWinner:
		g, _, err := s.hostedGame(cmd)
		if err != nil {
			return nil, s, err
		}
		if err := requireStatus(g, StatusSelectingWinner); err != nil {
			return nil, s, err
		}
		if cmd.Index < 0 || cmd.Index >= len(g.Drawings) {
			return nil, s, fmt.Errorf("%w: %d of %d", ErrInvalidDrawingIndex, cmd.Index, len(g.Drawings))
		}
		g = g.clone()
		winner := g.Drawings[cmd.Index]
		g.WinningDrawing = &winner
		if err := advance(&g, StatusSelectingWinner); err != nil {
			return nil, s, err
		}
		next := s.clone()
		next.Games[cmd.RoomID] = g
		return []Event{
			{Type: EvtWinnerSelected, Actor: winner.Participant, RoomID: cmd.RoomID, Index: cmd.Index},
			statusChanged(cmd, g.Status),
		}, next, nil

	case CmdMintNft:
		g, gameAddr, err := CheckMint(s, cmd)
		if err != nil {
			return nil, s, err
		}
		if cmd.Mint.IsZero() {
			return nil, s, ErrMissingMint
		}
		next := s.clone()
		for _, m := range g.Members() {
			p, ok := s.Players[m]
			if !ok {
				return nil, s, fmt.Errorf("%w: member %s", ErrPlayerNotInitialized, m)
			}
			p.Games++
			if p.CurrentGame != nil && *p.CurrentGame == gameAddr {
				p.CurrentGame = nil
			}
			next.Players[m] = p
		}
		g = g.clone()
		mint := cmd.Mint
		g.RewardMint = &mint
		if err := advance(&g, StatusWaitForMinting); err != nil {
			return nil, s, err
		}
		next.Games[cmd.RoomID] = g
		return []Event{
			{Type: EvtRewardMinted, Actor: g.WinningDrawing.Participant, RoomID: cmd.RoomID},
			statusChanged(cmd, g.Status),
			{Type: EvtGameCompleted, RoomID: cmd.RoomID},
		}, next, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

// CheckMint reports whether cmd may mint the reward of its game. The ledger
// calls it before reaching out to the minter so a doomed mint is never paid for.
func CheckMint(s State, cmd Command) (Game, solana.PublicKey, error) {
	g, gameAddr, err := s.hostedGame(cmd)
	if err != nil {
		return Game{}, solana.PublicKey{}, err
	}
	if err := requireStatus(g, StatusWaitForMinting); err != nil {
		return Game{}, solana.PublicKey{}, err
	}
	if g.WinningDrawing == nil {
		return Game{}, solana.PublicKey{}, fmt.Errorf("%w: no winner selected", ErrInvalidGameState)
	}
	return g, gameAddr, nil
}

// Members returns the host followed by the participants in join order.
func (g Game) Members() []solana.PublicKey {
	out := make([]solana.PublicKey, 0, len(g.Participants)+1)
	out = append(out, g.Host)
	return append(out, g.Participants...)
}

// DrawingMembers are the identities expected to submit a drawing.
func (g Game) DrawingMembers() []solana.PublicKey {
	if g.Rules.HostDraws {
		return g.Members()
	}
	return slices.Clone(g.Participants)
}

func (g Game) IsMember(pk solana.PublicKey) bool {
	return g.Host == pk || slices.Contains(g.Participants, pk)
}

func (g Game) HasDrawn(pk solana.PublicKey) bool {
	return slices.ContainsFunc(g.Drawings, func(d Drawing) bool { return d.Participant == pk })
}

func (s State) game(roomID string) (Game, solana.PublicKey, error) {
	addr, err := s.gameAddress(roomID)
	if err != nil {
		return Game{}, solana.PublicKey{}, err
	}
	g, ok := s.Games[roomID]
	if !ok {
		return Game{}, solana.PublicKey{}, fmt.Errorf("%w: %s", ErrGameNotFound, roomID)
	}
	return g, addr, nil
}

func (s State) hostedGame(cmd Command) (Game, solana.PublicKey, error) {
	g, addr, err := s.game(cmd.RoomID)
	if err != nil {
		return Game{}, solana.PublicKey{}, err
	}
	if g.Host != cmd.Signer {
		return Game{}, solana.PublicKey{}, ErrNotHost
	}
	return g, addr, nil
}

func (s State) gameAddress(roomID string) (solana.PublicKey, error) {
	addr, err := s.Program.Game(roomID)
	if err != nil {
		if errors.Is(err, address.ErrInvalidRoomID) {
			return solana.PublicKey{}, fmt.Errorf("%w: %q", ErrInvalidRoomID, roomID)
		}
		return solana.PublicKey{}, err
	}
	return addr, nil
}

func checkOwner(cmd Command) error {
	if !cmd.Owner.IsZero() && cmd.Owner != cmd.Signer {
		return ErrNotOwner
	}
	return nil
}

func ledgerPreconditions(s State, cmd Command) (Player, error) {
	if err := checkOwner(cmd); err != nil {
		return Player{}, err
	}
	if cmd.Amount == 0 {
		return Player{}, ErrInvalidAmount
	}
	p, ok := s.Players[cmd.Signer]
	if !ok {
		return Player{}, ErrPlayerNotInitialized
	}
	return p, nil
}

// initializedPlayer looks up pk's player. Being in another game is not an
// error: CurrentGame always points at the game joined last.
func initializedPlayer(s State, pk solana.PublicKey) (Player, error) {
	p, ok := s.Players[pk]
	if !ok {
		return Player{}, ErrPlayerNotInitialized
	}
	return p, nil
}

func statusChanged(cmd Command, st Status) Event {
	return Event{Type: EvtStatusChanged, Actor: cmd.Signer, RoomID: cmd.RoomID, Status: st}
}
