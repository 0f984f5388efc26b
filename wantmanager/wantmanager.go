// Package wantmanager implements the WantManager described in §4.2: the
// node's single local want-list, fanned out to every connected peer's
// own coalescing outbound queue. Grounded on the teacher's retrieved
// peermanager.go (per-peer msgQueue, coalescing, FIFO-per-peer send loop)
// and on the modern exchange/bitswap/wantmanager.go reference file
// (WantManager, wantSet, metrics gauges, ticker rebroadcast).
package wantmanager

import (
	"context"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	metrics "github.com/ipfs/go-metrics-interface"
	"github.com/jpillora/backoff"
	peer "github.com/libp2p/go-libp2p/core/peer"

	"github.com/meshgrid/bitswap/blocks"
	"github.com/meshgrid/bitswap/message"
	"github.com/meshgrid/bitswap/network"
	"github.com/meshgrid/bitswap/wantlist"
)

var log = logging.Logger("bitswap/wantmanager")

// DefaultPriority is the priority assigned to freshly wanted keys absent
// any caller override, per §6's default constants.
const DefaultPriority = wantlist.DefaultPriority

// RebroadcastInterval is how often the full want-list is resent to every
// connected peer as a best-effort reliability measure, per §4.2's "want
// broadcast attempt... is pending" invariant.
var RebroadcastInterval = 10 * time.Second

// UnwantFunc is called for every key passed to UnwantBlocks, so the
// orchestrator can fail any local get waiting on it. The WantManager
// itself doesn't know about local waiters; §4.2 makes that the
// orchestrator's responsibility.
type UnwantFunc func(key blocks.BlockKey)

// WantManager owns the node's single outgoing want-list and one message
// queue per connected peer.
type WantManager struct {
	mu    sync.Mutex
	local *wantlist.ThreadSafe
	peers map[peer.ID]*msgQueue

	network network.BitSwapNetwork
	onUnwant UnwantFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	wantlistGauge metrics.Gauge
}

// New returns a WantManager that sends through net. Call Run to start its
// background loops and Stop to tear them down.
func New(ctx context.Context, net network.BitSwapNetwork, onUnwant UnwantFunc) *WantManager {
	ctx, cancel := context.WithCancel(ctx)
	return &WantManager{
		local:         wantlist.NewThreadSafe(),
		peers:         make(map[peer.ID]*msgQueue),
		network:       net,
		onUnwant:      onUnwant,
		ctx:           ctx,
		cancel:        cancel,
		wantlistGauge: metrics.NewCtx(ctx, "bitswap_wantlist_total", "Number of items in the local wantlist").Gauge(),
	}
}

// WantBlocks adds keys to the local want-list and broadcasts the delta to
// every connected peer.
func (wm *WantManager) WantBlocks(ctx context.Context, keys []blocks.BlockKey, priority int32) {
	if priority == 0 {
		priority = DefaultPriority
	}
	var entries []message.Entry
	for _, k := range keys {
		if wm.local.Add(k, priority) {
			wm.wantlistGauge.Inc()
		}
		entries = append(entries, message.Entry{Key: k, Priority: priority})
	}
	wm.broadcast(entries)
}

// CancelWants decrefs keys; any that fall to refcount zero are cancelled
// to every connected peer.
func (wm *WantManager) CancelWants(keys []blocks.BlockKey) {
	var entries []message.Entry
	for _, k := range keys {
		if _, removed := wm.local.Remove(k); removed {
			wm.wantlistGauge.Dec()
			entries = append(entries, message.Entry{Key: k, Cancel: true})
		}
	}
	wm.broadcast(entries)
}

// UnwantBlocks force-removes keys regardless of refcount, broadcasts the
// cancel, and notifies local waiters that these gets were manually
// aborted.
func (wm *WantManager) UnwantBlocks(keys []blocks.BlockKey) {
	var entries []message.Entry
	for _, k := range keys {
		if _, removed := wm.local.RemoveForce(k); removed {
			wm.wantlistGauge.Dec()
			entries = append(entries, message.Entry{Key: k, Cancel: true})
		}
		if wm.onUnwant != nil {
			wm.onUnwant(k)
		}
	}
	wm.broadcast(entries)
}

func (wm *WantManager) broadcast(entries []message.Entry) {
	if len(entries) == 0 {
		return
	}
	wm.mu.Lock()
	defer wm.mu.Unlock()
	for _, mq := range wm.peers {
		mq.addEntries(entries)
	}
}

// Connected registers p and sends it our full want-list as its first
// message, per §4.2.
func (wm *WantManager) Connected(p peer.ID) {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	if _, ok := wm.peers[p]; ok {
		return
	}
	mq := newMsgQueue(wm.ctx, p, wm.network)
	wm.peers[p] = mq

	full := message.New(true)
	for _, e := range wm.local.Entries() {
		full.AddEntry(e.Key, e.Priority)
	}
	mq.setFull(full)

	wm.wg.Add(1)
	go func() {
		defer wm.wg.Done()
		mq.run()
	}()
}

// Disconnected tears down p's queue.
func (wm *WantManager) Disconnected(p peer.ID) {
	wm.mu.Lock()
	mq, ok := wm.peers[p]
	delete(wm.peers, p)
	wm.mu.Unlock()
	if ok {
		mq.stop()
	}
}

// ConnectedPeers returns a snapshot of peers with a live queue.
func (wm *WantManager) ConnectedPeers() []peer.ID {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	out := make([]peer.ID, 0, len(wm.peers))
	for p := range wm.peers {
		out = append(out, p)
	}
	return out
}

// Entries returns a snapshot of the local want-list, for the stat
// surface.
func (wm *WantManager) Entries() []*wantlist.Entry {
	return wm.local.Entries()
}

// Contains reports whether key is currently in the local want-list,
// regardless of refcount.
func (wm *WantManager) Contains(key blocks.BlockKey) bool {
	_, ok := wm.local.Contains(key)
	return ok
}

// Run starts the periodic full-wantlist rebroadcast, per §4.2's ordering
// guarantee that a want-broadcast attempt is scheduled or pending for
// every live key on every connected peer.
func (wm *WantManager) Run() {
	ticker := time.NewTicker(RebroadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			wm.rebroadcastFull()
		case <-wm.ctx.Done():
			return
		}
	}
}

func (wm *WantManager) rebroadcastFull() {
	entries := wm.local.Entries()
	if len(entries) == 0 {
		return
	}
	wm.mu.Lock()
	defer wm.mu.Unlock()
	for _, mq := range wm.peers {
		full := message.New(true)
		for _, e := range entries {
			full.AddEntry(e.Key, e.Priority)
		}
		mq.setFull(full)
	}
}

// Stop halts all per-peer queues and the rebroadcast loop.
func (wm *WantManager) Stop() {
	wm.cancel()
	wm.mu.Lock()
	for _, mq := range wm.peers {
		mq.stop()
	}
	wm.mu.Unlock()
	wm.wg.Wait()
}

// msgQueue coalesces pending want-list changes for one peer into at most
// one in-flight message, retrying failed sends with capped exponential
// backoff. Grounded on the teacher's peermanager.go msgQueue / runQueue,
// generalized per §4.2's explicit backoff requirement.
type msgQueue struct {
	p       peer.ID
	network network.BitSwapNetwork

	outlk sync.Mutex
	out   message.Message

	work chan struct{}
	done chan struct{}

	ctx context.Context
}

func newMsgQueue(ctx context.Context, p peer.ID, net network.BitSwapNetwork) *msgQueue {
	return &msgQueue{
		p:       p,
		network: net,
		work:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		ctx:     ctx,
	}
}

func (mq *msgQueue) setFull(full message.Message) {
	mq.outlk.Lock()
	mq.out = full
	mq.outlk.Unlock()
	mq.signal()
}

func (mq *msgQueue) addEntries(entries []message.Entry) {
	mq.outlk.Lock()
	if mq.out == nil {
		mq.out = message.New(false)
	}
	for _, e := range entries {
		if e.Cancel {
			mq.out.Cancel(e.Key)
		} else {
			mq.out.AddEntry(e.Key, e.Priority)
		}
	}
	mq.outlk.Unlock()
	mq.signal()
}

func (mq *msgQueue) signal() {
	select {
	case mq.work <- struct{}{}:
	default:
	}
}

func (mq *msgQueue) stop() {
	select {
	case <-mq.done:
	default:
		close(mq.done)
	}
}

func (mq *msgQueue) run() {
	for {
		select {
		case <-mq.work:
			mq.drain()
		case <-mq.done:
			return
		case <-mq.ctx.Done():
			return
		}
	}
}

// drain sends whatever is currently pending, retrying with exponential
// backoff (capped) on failure; the entry remains pending for the next
// attempt, per §4.2.
func (mq *msgQueue) drain() {
	mq.outlk.Lock()
	msg := mq.out
	mq.out = nil
	mq.outlk.Unlock()

	if msg == nil || msg.Empty() {
		return
	}

	b := &backoff.Backoff{
		Min:    100 * time.Millisecond,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	for {
		err := mq.network.SendMessage(mq.ctx, mq.p, msg)
		if err == nil {
			return
		}
		log.Debugf("bitswap send to %s failed: %s", mq.p, err)

		wait := b.Duration()
		select {
		case <-time.After(wait):
		case <-mq.done:
			return
		case <-mq.ctx.Done():
			return
		}
	}
}
