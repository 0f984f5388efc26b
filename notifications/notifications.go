// Package notifications implements the keyed multi-waiter registry the
// design document's §9 calls for: a replacement for the teacher's
// process-local "block:K" / "unwant:K" event emitter, re-architected so
// that register(key, waiter) and fire(key, value) are mutually ordered and
// keyed by the binary multihash rather than a formatted string, per the
// design notes' guidance to avoid string keys on the hot path.
package notifications

import (
	"context"
	"sync"

	"github.com/meshgrid/bitswap/blocks"
)

// PubSub is a keyed, multi-subscriber, fire-once-per-subscriber
// notification registry. A block's key doubles as both the "I got this
// block" and (in a separate namespace) "this want was manually cancelled"
// channel; callers pick which by choosing which method they call.
type PubSub struct {
	mu   sync.Mutex
	subs map[string][]chan *blocks.Block

	unwantMu   sync.Mutex
	unwantSubs map[string][]chan struct{}

	closed bool
}

// New returns an empty registry.
func New() *PubSub {
	return &PubSub{
		subs:       make(map[string][]chan *blocks.Block),
		unwantSubs: make(map[string][]chan struct{}),
	}
}

// Subscribe registers interest in one or more keys and returns a channel
// that receives each requested block exactly once, in arrival order. The
// channel is closed once every key has fired or ctx is done.
//
// Subscribe is safe to call concurrently with Publish: registration and
// the closed-registry check below are both taken under mu, and Publish
// takes and clears the subscriber list under mu, so a Publish racing a
// Subscribe either happens fully before or fully after it. A Subscribe
// that lands after a Publish does not see that block; callers re-check
// the blockstore after subscribing to cover that case.
func (p *PubSub) Subscribe(ctx context.Context, keys ...blocks.BlockKey) <-chan *blocks.Block {
	out := make(chan *blocks.Block, len(keys))
	if len(keys) == 0 {
		close(out)
		return out
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		close(out)
		return out
	}

	remaining := len(keys)
	perKey := make(chan *blocks.Block, len(keys))
	for _, k := range keys {
		ks := k.KeyString()
		p.subs[ks] = append(p.subs[ks], perKey)
	}
	p.mu.Unlock()

	go func() {
		defer close(out)
		for remaining > 0 {
			select {
			case b, ok := <-perKey:
				if !ok {
					return
				}
				out <- b
				remaining--
			case <-ctx.Done():
				p.unsubscribe(keys, perKey)
				return
			}
		}
	}()

	return out
}

func (p *PubSub) unsubscribe(keys []blocks.BlockKey, ch chan *blocks.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range keys {
		ks := k.KeyString()
		lst := p.subs[ks]
		for i, c := range lst {
			if c == ch {
				p.subs[ks] = append(lst[:i], lst[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers b to every current subscriber of b.Key(), then clears
// those subscriptions. Safe to call multiple times for the same key: each
// call is a distinct event, delivered to whoever happens to be subscribed
// at that moment (see the design document's idempotence property).
func (p *PubSub) Publish(b *blocks.Block) {
	ks := b.Key().KeyString()
	p.mu.Lock()
	chans := p.subs[ks]
	delete(p.subs, ks)
	p.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- b:
		default:
			// buffered per-subscription channel (cap == number of keys
			// requested by that subscriber); this should never block.
		}
	}
}

// SubscribeUnwant registers interest in a manual-unwant notification for
// key, returned as a channel closed exactly once when FireUnwant(key) is
// called. Shutdown does not affect unwant subscriptions.
func (p *PubSub) SubscribeUnwant(key blocks.BlockKey) <-chan struct{} {
	ch := make(chan struct{})
	ks := key.KeyString()

	p.unwantMu.Lock()
	p.unwantSubs[ks] = append(p.unwantSubs[ks], ch)
	p.unwantMu.Unlock()
	return ch
}

// FireUnwant closes every channel registered for key via SubscribeUnwant.
func (p *PubSub) FireUnwant(key blocks.BlockKey) {
	ks := key.KeyString()
	p.unwantMu.Lock()
	chans := p.unwantSubs[ks]
	delete(p.unwantSubs, ks)
	p.unwantMu.Unlock()

	for _, ch := range chans {
		close(ch)
	}
}

// UnsubscribeUnwant removes a single unwant subscription without firing
// it, used when a get resolves normally and its unwant waiter is no
// longer needed.
func (p *PubSub) UnsubscribeUnwant(key blocks.BlockKey, ch <-chan struct{}) {
	ks := key.KeyString()
	p.unwantMu.Lock()
	defer p.unwantMu.Unlock()
	lst := p.unwantSubs[ks]
	for i, c := range lst {
		if c == ch {
			p.unwantSubs[ks] = append(lst[:i], lst[i+1:]...)
			break
		}
	}
}

// Shutdown closes the registry; subsequent Subscribe calls return an
// already-closed channel instead of blocking forever.
func (p *PubSub) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}
