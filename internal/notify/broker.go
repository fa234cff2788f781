// Package notify fans account changes out to subscribers, one stream per
// account address.
package notify

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// Update is the new content of an account after a committed transaction.
type Update struct {
	Address solana.PublicKey
	Kind    string
	Data    []byte
	Slot    uint64
}

// Subscription receives every update for one address. C is closed when the
// subscriber falls too far behind, or when the broker stops; in both cases
// the caller has to subscribe again to keep following the account.
type Subscription struct {
	ID      uint64
	Address solana.PublicKey
	C       <-chan Update
}

type msg interface{ isBrokerMsg() }

type subscribe struct {
	Address solana.PublicKey
	Reply   chan *Subscription
}

type unsubscribe struct {
	ID      uint64
	Address solana.PublicKey
}

type publish struct {
	Updates []Update
}

type countSubscribers struct {
	Address solana.PublicKey
	Reply   chan int
}

func (subscribe) isBrokerMsg()        {}
func (unsubscribe) isBrokerMsg()      {}
func (publish) isBrokerMsg()          {}
func (countSubscribers) isBrokerMsg() {}

const DefaultBuffer = 16

type Broker struct {
	inbox  chan msg
	subs   map[solana.PublicKey]map[uint64]chan Update
	nextID uint64
	buffer int
	ctx    context.Context
	cancel context.CancelFunc
}

func NewBroker(parent context.Context, buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ctx, cancel := context.WithCancel(parent)
	b := &Broker{
		inbox:  make(chan msg, 64),
		subs:   make(map[solana.PublicKey]map[uint64]chan Update),
		buffer: buffer,
		ctx:    ctx,
		cancel: cancel,
	}
	go b.loop()
	return b
}

func (b *Broker) loop() {
	for {
		select {
		case <-b.ctx.Done():
			b.shutdown()
			return

		case m := <-b.inbox:
			switch msg := m.(type) {
			case subscribe:
				b.nextID++
				ch := make(chan Update, b.buffer)
				if b.subs[msg.Address] == nil {
					b.subs[msg.Address] = make(map[uint64]chan Update)
				}
				b.subs[msg.Address][b.nextID] = ch
				msg.Reply <- &Subscription{ID: b.nextID, Address: msg.Address, C: ch}

			case unsubscribe:
				b.drop(msg.Address, msg.ID)

			case publish:
				for _, u := range msg.Updates {
					b.fanout(u)
				}

			case countSubscribers:
				msg.Reply <- len(b.subs[msg.Address])
			}
		}
	}
}

func (b *Broker) fanout(u Update) {
	for id, ch := range b.subs[u.Address] {
		select {
		case ch <- u:
		default:
			// Subscriber is slow/full - drop it.
			b.drop(u.Address, id)
		}
	}
}

func (b *Broker) drop(addr solana.PublicKey, id uint64) {
	subs := b.subs[addr]
	ch, ok := subs[id]
	if !ok {
		return
	}
	close(ch)
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.subs, addr)
	}
}

func (b *Broker) shutdown() {
	for addr, subs := range b.subs {
		for id := range subs {
			b.drop(addr, id)
		}
	}
}

func (b *Broker) send(m msg) bool {
	select {
	case b.inbox <- m:
		return true
	case <-b.ctx.Done():
		return false
	}
}

// Subscribe starts following addr. After the broker has stopped the returned
// subscription is already closed.
func (b *Broker) Subscribe(addr solana.PublicKey) *Subscription {
	reply := make(chan *Subscription, 1)
	if b.send(subscribe{Address: addr, Reply: reply}) {
		select {
		case sub := <-reply:
			return sub
		case <-b.ctx.Done():
		}
	}
	closed := make(chan Update)
	close(closed)
	return &Subscription{Address: addr, C: closed}
}

// Unsubscribe must be called once the caller stops reading, unless C was
// already closed.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil || sub.ID == 0 {
		return
	}
	b.send(unsubscribe{ID: sub.ID, Address: sub.Address})
}

func (b *Broker) Publish(updates ...Update) {
	if len(updates) == 0 {
		return
	}
	b.send(publish{Updates: updates})
}

// Subscribers reports how many live subscriptions addr has.
func (b *Broker) Subscribers(addr solana.PublicKey) int {
	reply := make(chan int, 1)
	if !b.send(countSubscribers{Address: addr, Reply: reply}) {
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-b.ctx.Done():
		return 0
	}
}

func (b *Broker) Close() { b.cancel() }
