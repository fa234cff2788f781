// Package ledger hosts the Pixelana accounts. A single goroutine executes
// every transaction against the store, so conflicting operations are
// serialized and the loser sees the state the winner left behind.
package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/pixelana-backend/internal/address"
	"github.com/DoyleJ11/pixelana-backend/internal/codec"
	"github.com/DoyleJ11/pixelana-backend/internal/engine"
	"github.com/DoyleJ11/pixelana-backend/internal/funds"
	"github.com/DoyleJ11/pixelana-backend/internal/mint"
	"github.com/DoyleJ11/pixelana-backend/internal/notify"
	"github.com/DoyleJ11/pixelana-backend/internal/store"
)

var (
	ErrClosed   = errors.New("ledger: closed")
	ErrNotFound = errors.New("ledger: account not found")
)

type Receipt struct {
	ID     uuid.UUID
	Slot   uint64
	Events []engine.Event
	// Mint is set for a completed MintNft.
	Mint *mint.Receipt
}

type Config struct {
	Program address.Program
	Rules   engine.Rules
}

type msg interface{ isLedgerMsg() }

type execute struct {
	Cmd    engine.Command
	DryRun bool
	Reply  chan result
}

type checkMint struct {
	Cmd   engine.Command
	Reply chan mintCheck
}

type reject struct {
	Cmd engine.Command
	Err error
}

func (execute) isLedgerMsg()   {}
func (checkMint) isLedgerMsg() {}
func (reject) isLedgerMsg()    {}

type result struct {
	Receipt Receipt
	Err     error
}

type mintCheck struct {
	Req mint.Request
	Err error
}

type Ledger struct {
	inbox   chan msg
	program address.Program
	rules   engine.Rules
	store   store.Store
	broker  *notify.Broker
	funds   funds.Source
	minter  mint.Minter
	log     *zap.Logger
	slot    uint64
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(parent context.Context, cfg Config, st store.Store, broker *notify.Broker, src funds.Source, minter mint.Minter, log *zap.Logger) (*Ledger, error) {
	slot, err := st.LatestSlot(parent)
	if err != nil {
		return nil, fmt.Errorf("ledger: latest slot: %w", err)
	}
	if cfg.Rules.MaxMembers == 0 {
		cfg.Rules = engine.DefaultRules()
	}
	ctx, cancel := context.WithCancel(parent)
	l := &Ledger{
		inbox:   make(chan msg, 64),
		program: cfg.Program,
		rules:   cfg.Rules,
		store:   st,
		broker:  broker,
		funds:   src,
		minter:  minter,
		log:     log.Named("ledger"),
		slot:    slot,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go l.loop()
	return l, nil
}

func (l *Ledger) loop() {
	defer close(l.done)
	for {
		select {
		case <-l.ctx.Done():
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case execute:
				receipt, err := l.execute(msg.Cmd, msg.DryRun)
				msg.Reply <- result{Receipt: receipt, Err: err}

			case checkMint:
				req, err := l.checkMint(msg.Cmd)
				msg.Reply <- mintCheck{Req: req, Err: err}

			case reject:
				l.journalRejection(msg.Cmd, msg.Err)
			}
		}
	}
}

func (l *Ledger) Program() address.Program { return l.program }

func (l *Ledger) Rules() engine.Rules { return l.rules }

// Close stops the executor. Submissions after Close fail with ErrClosed.
func (l *Ledger) Close() { l.cancel() }

func (l *Ledger) Done() <-chan struct{} { return l.done }

// Submit runs cmd. When ctx ends first Submit returns ctx.Err(), but a
// command that already reached the executor still lands or is rejected.
func (l *Ledger) Submit(ctx context.Context, cmd engine.Command) (Receipt, error) {
	switch cmd.Type {
	case engine.CmdDepositToVault:
		return l.deposit(ctx, cmd)
	case engine.CmdMintNft:
		return l.mintReward(ctx, cmd)
	default:
		return l.call(ctx, cmd, false)
	}
}

func (l *Ledger) call(ctx context.Context, cmd engine.Command, dryRun bool) (Receipt, error) {
	reply := make(chan result, 1)
	select {
	case l.inbox <- execute{Cmd: cmd, DryRun: dryRun, Reply: reply}:
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	case <-l.ctx.Done():
		return Receipt{}, ErrClosed
	}
	select {
	case r := <-reply:
		return r.Receipt, r.Err
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	case <-l.ctx.Done():
		return Receipt{}, ErrClosed
	}
}

func (l *Ledger) recordRejection(cmd engine.Command, err error) {
	select {
	case l.inbox <- reject{Cmd: cmd, Err: err}:
	case <-l.ctx.Done():
	}
}

// deposit checks the deposit against current state, debits the signer's
// external funds, then credits vault and player. Funds are returned if the
// credit no longer applies by the time it runs.
func (l *Ledger) deposit(ctx context.Context, cmd engine.Command) (Receipt, error) {
	if _, err := l.call(ctx, cmd, true); err != nil {
		return Receipt{}, err
	}
	if err := l.funds.Debit(ctx, cmd.Signer, cmd.Amount); err != nil {
		err = fmt.Errorf("%w: %v", engine.ErrFundingFailed, err)
		l.recordRejection(cmd, err)
		return Receipt{}, err
	}

	// The debit already happened; wait for the outcome even if ctx ends.
	receipt, err := l.call(context.WithoutCancel(ctx), cmd, false)
	if err != nil {
		if cerr := l.funds.Credit(context.WithoutCancel(ctx), cmd.Signer, cmd.Amount); cerr != nil {
			l.log.Error("refund after failed deposit",
				zap.Stringer("owner", cmd.Signer),
				zap.Uint64("amount", cmd.Amount),
				zap.Error(cerr))
		}
		return Receipt{}, err
	}
	return receipt, nil
}

// mintReward validates the mint, calls the minter outside the executor and
// applies the completion as its own transaction. A failed mint changes
// nothing, so the host can retry; the minter keeps retries idempotent.
func (l *Ledger) mintReward(ctx context.Context, cmd engine.Command) (Receipt, error) {
	reply := make(chan mintCheck, 1)
	select {
	case l.inbox <- checkMint{Cmd: cmd, Reply: reply}:
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	case <-l.ctx.Done():
		return Receipt{}, ErrClosed
	}
	var check mintCheck
	select {
	case check = <-reply:
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	case <-l.ctx.Done():
		return Receipt{}, ErrClosed
	}
	if check.Err != nil {
		return Receipt{}, check.Err
	}

	minted, err := l.minter.Mint(ctx, check.Req)
	if err != nil {
		if !errors.Is(err, mint.ErrMintFailed) {
			err = fmt.Errorf("%w: %v", mint.ErrMintFailed, err)
		}
		l.recordRejection(cmd, err)
		return Receipt{}, err
	}

	cmd.Mint = minted.Mint
	receipt, err := l.call(context.WithoutCancel(ctx), cmd, false)
	if err != nil {
		return Receipt{}, err
	}
	receipt.Mint = &minted
	return receipt, nil
}

func (l *Ledger) checkMint(cmd engine.Command) (mint.Request, error) {
	s, _, err := l.load(cmd)
	if err != nil {
		return mint.Request{}, err
	}
	g, gameAddr, err := engine.CheckMint(s, cmd)
	if err != nil {
		l.journalRejection(cmd, err)
		return mint.Request{}, err
	}
	authority, err := l.program.NFTAuthority()
	if err != nil {
		return mint.Request{}, err
	}
	return mint.Request{
		Game:       gameAddr,
		RoomID:     g.RoomID,
		Recipient:  g.WinningDrawing.Participant,
		DrawingRef: g.WinningDrawing.DrawingRef,
		Authority:  authority,
	}, nil
}

func (l *Ledger) execute(cmd engine.Command, dryRun bool) (Receipt, error) {
	s, loaded, err := l.load(cmd)
	if err != nil {
		l.log.Error("load accounts", zap.String("cmd", string(cmd.Type)), zap.Error(err))
		return Receipt{}, err
	}

	events, next, err := engine.Apply(s, cmd)
	if err != nil {
		l.journalRejection(cmd, err)
		return Receipt{}, err
	}
	if dryRun {
		return Receipt{Slot: l.slot, Events: events}, nil
	}

	writes, err := l.changed(next, loaded)
	if err != nil {
		l.log.Error("encode accounts", zap.String("cmd", string(cmd.Type)), zap.Error(err))
		return Receipt{}, err
	}

	slot := l.slot + 1
	for i := range writes {
		writes[i].Slot = slot
	}
	tx := l.newTx(cmd, slot)
	tx.Accepted = true
	if err := l.store.Commit(l.ctx, tx, writes); err != nil {
		l.log.Error("commit", zap.String("cmd", string(cmd.Type)), zap.Error(err))
		return Receipt{}, fmt.Errorf("ledger: commit: %w", err)
	}
	l.slot = slot

	updates := make([]notify.Update, len(writes))
	for i, w := range writes {
		updates[i] = notify.Update{Address: w.Address, Kind: w.Kind, Data: w.Data, Slot: slot}
	}
	l.broker.Publish(updates...)

	l.log.Info("transaction accepted",
		zap.String("cmd", string(cmd.Type)),
		zap.Stringer("signer", cmd.Signer),
		zap.String("room", cmd.RoomID),
		zap.Uint64("slot", slot),
		zap.Int("accounts", len(writes)))
	return Receipt{ID: tx.ID, Slot: slot, Events: events}, nil
}

func (l *Ledger) newTx(cmd engine.Command, slot uint64) store.Tx {
	return store.Tx{
		ID:        uuid.New(),
		Slot:      slot,
		Command:   string(cmd.Type),
		Signer:    cmd.Signer.String(),
		RoomID:    cmd.RoomID,
		CreatedAt: time.Now().UTC(),
	}
}

func (l *Ledger) journalRejection(cmd engine.Command, reason error) {
	tx := l.newTx(cmd, l.slot)
	tx.Error = reason.Error()
	l.log.Info("transaction rejected",
		zap.String("cmd", string(cmd.Type)),
		zap.Stringer("signer", cmd.Signer),
		zap.String("room", cmd.RoomID),
		zap.Error(reason))
	if err := l.store.Commit(l.ctx, tx, nil); err != nil {
		l.log.Error("journal rejection", zap.Error(err))
	}
}

// load reads every account cmd may touch: the vault, the signer's player,
// the game of cmd.RoomID and the players of its members. loaded keeps the
// raw bytes so only changed accounts get written back.
func (l *Ledger) load(cmd engine.Command) (engine.State, map[solana.PublicKey][]byte, error) {
	s := engine.NewEmptyState(l.program)
	s.Rules = l.rules
	loaded := make(map[solana.PublicKey][]byte)

	vaultAddr, err := l.program.Vault()
	if err != nil {
		return s, nil, err
	}
	if data, ok, err := l.get(vaultAddr); err != nil {
		return s, nil, err
	} else if ok {
		v, err := codec.DecodeVault(data)
		if err != nil {
			return s, nil, err
		}
		s.Vault = &v
		loaded[vaultAddr] = data
	}

	if err := l.loadPlayer(&s, loaded, cmd.Signer); err != nil {
		return s, nil, err
	}

	if cmd.RoomID == "" || address.ValidateRoomID(cmd.RoomID) != nil {
		return s, loaded, nil
	}
	gameAddr, err := l.program.Game(cmd.RoomID)
	if err != nil {
		return s, nil, err
	}
	data, ok, err := l.get(gameAddr)
	if err != nil || !ok {
		return s, loaded, err
	}
	g, err := codec.DecodeGame(data)
	if err != nil {
		return s, nil, err
	}
	s.Games[cmd.RoomID] = g
	loaded[gameAddr] = data
	for _, m := range g.Members() {
		if err := l.loadPlayer(&s, loaded, m); err != nil {
			return s, nil, err
		}
	}
	return s, loaded, nil
}

func (l *Ledger) loadPlayer(s *engine.State, loaded map[solana.PublicKey][]byte, owner solana.PublicKey) error {
	if _, ok := s.Players[owner]; ok {
		return nil
	}
	addr, err := l.program.Player(owner)
	if err != nil {
		return err
	}
	data, ok, err := l.get(addr)
	if err != nil || !ok {
		return err
	}
	p, err := codec.DecodePlayer(data)
	if err != nil {
		return err
	}
	s.Players[owner] = p
	loaded[addr] = data
	return nil
}

func (l *Ledger) get(addr solana.PublicKey) ([]byte, bool, error) {
	acct, err := l.store.Get(l.ctx, addr)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return acct.Data, true, nil
}

// changed encodes next and keeps the accounts whose bytes differ from what
// was loaded. Order is vault, game, then players by address.
func (l *Ledger) changed(next engine.State, loaded map[solana.PublicKey][]byte) ([]store.Account, error) {
	var out []store.Account
	add := func(addr solana.PublicKey, kind codec.Kind, data []byte) {
		if prev, ok := loaded[addr]; ok && bytes.Equal(prev, data) {
			return
		}
		out = append(out, store.Account{Address: addr, Kind: string(kind), Data: data})
	}

	if next.Vault != nil {
		addr, err := l.program.Vault()
		if err != nil {
			return nil, err
		}
		data, err := codec.EncodeVault(*next.Vault)
		if err != nil {
			return nil, err
		}
		add(addr, codec.KindVault, data)
	}
	for room, g := range next.Games {
		addr, err := l.program.Game(room)
		if err != nil {
			return nil, err
		}
		data, err := codec.EncodeGame(g)
		if err != nil {
			return nil, err
		}
		add(addr, codec.KindGame, data)
	}

	owners := make([]solana.PublicKey, 0, len(next.Players))
	for owner := range next.Players {
		owners = append(owners, owner)
	}
	slices.SortFunc(owners, func(a, b solana.PublicKey) int { return bytes.Compare(a[:], b[:]) })
	for _, owner := range owners {
		addr, err := l.program.Player(owner)
		if err != nil {
			return nil, err
		}
		data, err := codec.EncodePlayer(next.Players[owner])
		if err != nil {
			return nil, err
		}
		add(addr, codec.KindPlayer, data)
	}
	return out, nil
}
