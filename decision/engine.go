// Package decision implements the DecisionEngine described in §4.3: the
// per-peer ledger of incoming wants, the fair task queue that picks which
// block to send to which peer next, and the envelope loop that drains it.
package decision

import (
	"context"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	metrics "github.com/ipfs/go-metrics-interface"
	peer "github.com/libp2p/go-libp2p/core/peer"

	"github.com/meshgrid/bitswap/blocks"
	"github.com/meshgrid/bitswap/blockstore"
	"github.com/meshgrid/bitswap/message"
	"github.com/meshgrid/bitswap/wantlist"
)

var log = logging.Logger("bitswap/decision")

// outboxChanBuffer is how many envelopes can be queued between the task
// queue and whoever drains Outbox() before the envelope loop blocks.
const outboxChanBuffer = 32

// Envelope is a single outbound send decision: block to peer. Sent must
// be called once the caller has actually delivered (or given up on)
// sending it, so the engine can free the partner's active-task slot.
// Bytes sent are accounted separately, through MessageSent.
type Envelope struct {
	Peer    peer.ID
	Message message.Message
	Block   *blocks.Block

	sent func()
}

// Sent marks the envelope as delivered, releasing engine-side bookkeeping.
func (e *Envelope) Sent() {
	if e.sent != nil {
		e.sent()
	}
}

// Engine owns a Ledger per peer and the fair task queue that decides what
// to send next, draining it through an envelope loop.
type Engine struct {
	mu       sync.Mutex
	ledgers  map[peer.ID]*Ledger
	taskQueue peerRequestQueue

	bstore blockstore.Blockstore

	outbox chan *Envelope

	taskReady chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	sentGauge metrics.Gauge
}

// NewEngine returns an Engine reading blocks from bstore to answer tasks.
func NewEngine(ctx context.Context, bstore blockstore.Blockstore) *Engine {
	ctx, cancel := context.WithCancel(ctx)
	e := &Engine{
		ledgers:   make(map[peer.ID]*Ledger),
		taskQueue: newPRQ(),
		bstore:    bstore,
		outbox:    make(chan *Envelope, outboxChanBuffer),
		taskReady: make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		sentGauge: metrics.NewCtx(ctx, "bitswap_decision_blocks_sent", "Blocks sent by the decision engine").Gauge(),
	}
	go e.envelopeLoop()
	return e
}

// Close tears down the envelope loop.
func (e *Engine) Close() { e.cancel() }

func (e *Engine) ledgerFor(p peer.ID) *Ledger {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.ledgers[p]
	if !ok {
		l = newLedger(p)
		e.ledgers[p] = l
	}
	return l
}

// MessageReceived updates peer's ledger with msg's want-list entries and
// accounts for any blocks it carried, per §4.3 step 1-4. Block storage
// itself is the orchestrator's job; this only tallies bytes received.
func (e *Engine) MessageReceived(p peer.ID, msg message.Message) {
	l := e.ledgerFor(p)

	if msg.Full() {
		l.clearWants()
	}

	for _, entry := range msg.Wantlist() {
		if entry.Cancel {
			l.removeWantForce(entry.Key)
			e.taskQueue.Remove(entry.Key, p)
			continue
		}
		l.addWant(entry.Key, entry.Priority)
		if has, err := e.bstore.Has(e.ctx, entry.Key); err == nil && has {
			we := &wantlist.Entry{Key: entry.Key, Priority: entry.Priority}
			e.taskQueue.Push(we, p)
			e.signalTaskReady()
		}
	}

	for _, blk := range msg.Blocks() {
		l.receivedBytes(len(blk.RawData()))
	}
}

// MessageSent accounts bytes for the blocks in msg once the orchestrator
// has sent it to p; the task workers call it after each successful send
// of an envelope taken from Outbox(), mirroring the teacher's
// bs.engine.MessageSent hook referenced from bitswap.go's send().
func (e *Engine) MessageSent(p peer.ID, msg message.Message) error {
	l := e.ledgerFor(p)
	for _, blk := range msg.Blocks() {
		l.sentBytes(len(blk.RawData()))
	}
	return nil
}

// ReceivedBlock notifies the engine that block has just arrived locally,
// so any peer who had asked for it can now be sent it, per §4.3.
func (e *Engine) ReceivedBlock(block *blocks.Block) {
	e.mu.Lock()
	ledgers := make([]*Ledger, 0, len(e.ledgers))
	for _, l := range e.ledgers {
		ledgers = append(ledgers, l)
	}
	e.mu.Unlock()

	for _, l := range ledgers {
		entry, ok := l.contains(block.Key())
		if !ok {
			continue
		}
		l.removeWantForce(block.Key())
		e.taskQueue.Push(entry, l.Partner)
		e.signalTaskReady()
	}
}

// PeerDisconnected drops the queued tasks for the keys still in p's
// ledger wants. A task queued by ReceivedBlock, whose want entry has
// already been removed from the ledger, stays queued. The ledger is
// retained so pending wants can be served again if the peer reconnects.
func (e *Engine) PeerDisconnected(p peer.ID) {
	e.mu.Lock()
	l, ok := e.ledgers[p]
	e.mu.Unlock()
	if !ok {
		return
	}
	for _, entry := range l.Wants() {
		e.taskQueue.Remove(entry.Key, p)
	}
}

// WantlistForPeer returns a snapshot of what p has asked us for.
func (e *Engine) WantlistForPeer(p peer.ID) []*wantlist.Entry {
	l := e.ledgerFor(p)
	return l.Wants()
}

// Peers returns every peer this engine has a ledger for.
func (e *Engine) Peers() []peer.ID {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]peer.ID, 0, len(e.ledgers))
	for p := range e.ledgers {
		out = append(out, p)
	}
	return out
}

// Outbox is the channel the orchestrator's task workers drain: each
// receive is a single-block message ready to send.
func (e *Engine) Outbox() <-chan *Envelope {
	return e.outbox
}

func (e *Engine) signalTaskReady() {
	select {
	case e.taskReady <- struct{}{}:
	default:
	}
}

// envelopeLoop is the sole place that pops tasks from the queue and turns
// them into Envelopes, per §4.3's "envelope loop" description: fair
// peer selection, blockstore read, compose-and-hand-off.
func (e *Engine) envelopeLoop() {
	for {
		task := e.taskQueue.Pop()
		if task == nil {
			select {
			case <-e.taskReady:
				continue
			case <-e.ctx.Done():
				return
			}
		}

		block, err := e.bstore.Get(e.ctx, task.Entry.Key)
		if err != nil {
			// store evicted it since the task was queued; drop silently
			task.Done()
			continue
		}

		msg := message.New(false)
		msg.AddBlock(block)

		env := &Envelope{
			Peer:    task.Target,
			Message: msg,
			Block:   block,
			sent: func() {
				e.sentGauge.Inc()
				task.Done()
			},
		}

		select {
		case e.outbox <- env:
		case <-e.ctx.Done():
			task.Done()
			return
		}
	}
}
