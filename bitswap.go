// Package bitswap ties the want-manager, decision engine and notification
// registry together into the node-facing Orchestrator described in §4.4:
// the only type application code talks to directly.
package bitswap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	peer "github.com/libp2p/go-libp2p/core/peer"

	"github.com/meshgrid/bitswap/blocks"
	"github.com/meshgrid/bitswap/blockstore"
	"github.com/meshgrid/bitswap/decision"
	"github.com/meshgrid/bitswap/internal/retry"
	"github.com/meshgrid/bitswap/message"
	"github.com/meshgrid/bitswap/network"
	"github.com/meshgrid/bitswap/notifications"
	"github.com/meshgrid/bitswap/wantmanager"
)

var log = logging.Logger("bitswap")

// defaultTaskWorkerCount is how many goroutines drain the decision
// engine's outbox concurrently, per §5's worker-pool sizing note.
// Overridable with BITSWAP_TASK_WORKERS for operators who need more
// fan-out on a busy seed node.
const defaultTaskWorkerCount = 8

// maxConcurrentBlockIngestion bounds how many blocks from a single
// inbound message are stored concurrently, per §5's "bounded at 10"
// rule, so one oversized message can't spawn unbounded goroutines.
const maxConcurrentBlockIngestion = 10

var blockPutRetry = retry.Config{
	Attempts: 4,
	Min:      400 * time.Millisecond,
	Max:      2 * time.Second,
	Factor:   2,
}

// ErrManualUnwant is the sentinel a pending get fails with when its key
// is passed to UnwantBlocks while the get is still outstanding. Compare
// with errors.Is, not string equality.
var ErrManualUnwant = errors.New("manual unwant")

// Bitswap is the Orchestrator: it owns the want-manager and decision
// engine, wires them to a Blockstore and a BitSwapNetwork, and exposes
// the streaming get/put surface the rest of the node calls.
type Bitswap struct {
	self peer.ID

	network    network.BitSwapNetwork
	blockstore blockstore.Blockstore
	notifs     *notifications.PubSub
	engine     *decision.Engine
	wm         *wantmanager.WantManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	blocksReceived    uint64
	dupBlocksReceived uint64
	dataReceived      uint64
	dupDataReceived   uint64
	blocksSent        uint64
}

// New wires up a complete exchange for self, sending through net and
// persisting into bs. It registers itself as net's Receiver, so net
// must not already have a delegate.
func New(ctx context.Context, self peer.ID, net network.BitSwapNetwork, bs blockstore.Blockstore) *Bitswap {
	ctx, cancel := context.WithCancel(ctx)

	b := &Bitswap{
		self:       self,
		network:    net,
		blockstore: bs,
		notifs:     notifications.New(),
		engine:     decision.NewEngine(ctx, bs),
		ctx:        ctx,
		cancel:     cancel,
	}
	b.wm = wantmanager.New(ctx, net, func(k blocks.BlockKey) {
		b.notifs.FireUnwant(k)
	})

	net.SetDelegate(b)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.wm.Run()
	}()

	for i := 0; i < taskWorkerCount(); i++ {
		b.wg.Add(1)
		go func(id int) {
			defer b.wg.Done()
			b.taskWorker(id)
		}(i)
	}

	return b
}

func taskWorkerCount() int {
	if v := os.Getenv("BITSWAP_TASK_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultTaskWorkerCount
}

// requestIDKey is the context key a get request's correlation uuid is
// stashed under, the way the teacher's GetBlock attaches
// eventlog.Uuid("GetBlockRequest") for tracing a request through logs.
type requestIDKey struct{}

func withRequestID(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return context.WithValue(ctx, requestIDKey{}, id), id
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// GetBlock fetches a single block, blocking until it arrives, ctx is
// done, or the want is manually cancelled via UnwantBlocks.
func (bs *Bitswap) GetBlock(ctx context.Context, k blocks.BlockKey) (*blocks.Block, error) {
	ctx, reqID := withRequestID(ctx)
	log.Debugf("bitswap: get request %s wants key %s", reqID, k)
	return bs.getBlock(ctx, k)
}

// GetBlocks fans out one independent get per key and returns a channel
// that receives each block exactly once, in arrival order, per §4.4's
// streaming get contract. Callers that stop reading before every key
// resolves must cancel ctx to release the per-key goroutines.
func (bs *Bitswap) GetBlocks(ctx context.Context, keys []blocks.BlockKey) (<-chan *blocks.Block, error) {
	out := make(chan *blocks.Block, len(keys))
	if len(keys) == 0 {
		close(out)
		return out, nil
	}

	ctx, reqID := withRequestID(ctx)
	log.Debugf("bitswap: get request %s wants %d keys", reqID, len(keys))

	go func() {
		defer close(out)
		var wg sync.WaitGroup
		for _, k := range keys {
			k := k
			wg.Add(1)
			go func() {
				defer wg.Done()
				b, err := bs.getBlock(ctx, k)
				if err != nil {
					log.Debugf("bitswap: get request %s: key %s: %s", reqID, k, err)
					return
				}
				select {
				case out <- b:
				case <-ctx.Done():
				}
			}()
		}
		wg.Wait()
	}()

	return out, nil
}

// getBlock implements the register-then-check waiter pattern from §4.4
// and the design notes: subscribe before checking the blockstore, so a
// Put racing the check can never be missed.
func (bs *Bitswap) getBlock(ctx context.Context, k blocks.BlockKey) (*blocks.Block, error) {
	subCtx, cancelSub := context.WithCancel(ctx)
	blockCh := bs.notifs.Subscribe(subCtx, k)
	unwantCh := bs.notifs.SubscribeUnwant(k)

	if has, err := bs.blockstore.Has(ctx, k); err == nil && has {
		cancelSub()
		bs.notifs.UnsubscribeUnwant(k, unwantCh)
		return bs.blockstore.Get(ctx, k)
	}
	defer cancelSub()

	bs.wm.WantBlocks(ctx, []blocks.BlockKey{k}, 0)
	defer bs.wm.CancelWants([]blocks.BlockKey{k})

	select {
	case b, ok := <-blockCh:
		bs.notifs.UnsubscribeUnwant(k, unwantCh)
		if !ok {
			return nil, ctx.Err()
		}
		log.Debugf("bitswap: get request %s resolved key %s", requestIDFromContext(ctx), k)
		return b, nil
	case <-unwantCh:
		return nil, fmt.Errorf("%w: %s", ErrManualUnwant, blocks.KeyB58(k))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HasBlock announces that block is now available locally - whether it
// was just produced, imported, or otherwise added outside the exchange
// - so any pending local or remote want can be satisfied.
func (bs *Bitswap) HasBlock(ctx context.Context, block *blocks.Block) error {
	if has, err := bs.blockstore.Has(ctx, block.Key()); err == nil && has {
		bs.notifs.Publish(block)
		bs.engine.ReceivedBlock(block)
		return nil
	}
	return bs.addBlock(ctx, block)
}

func (bs *Bitswap) addBlock(ctx context.Context, block *blocks.Block) error {
	if has, err := bs.blockstore.Has(ctx, block.Key()); err == nil && has {
		return nil
	}

	if err := retry.Do(ctx, blockPutRetry, func() error {
		return bs.blockstore.Put(ctx, block)
	}); err != nil {
		return fmt.Errorf("bitswap: storing block %s: %w", block.Key(), err)
	}

	bs.notifs.Publish(block)
	bs.engine.ReceivedBlock(block)
	return nil
}

// UnwantBlocks manually cancels any pending gets for keys, failing them
// immediately regardless of how many callers are waiting.
func (bs *Bitswap) UnwantBlocks(keys []blocks.BlockKey) {
	bs.wm.UnwantBlocks(keys)
}

// ReceiveMessage implements network.Receiver. It updates the decision
// engine's ledger, stores and accounts every carried block, and
// immediately cancels any of our own outstanding wants the message just
// satisfied, per §4.4 step 2.
func (bs *Bitswap) ReceiveMessage(ctx context.Context, p peer.ID, msg message.Message) {
	bs.engine.MessageReceived(p, msg)

	blks := msg.Blocks()
	var keysToCancel []blocks.BlockKey
	for _, blk := range blks {
		if bs.wm.Contains(blk.Key()) {
			keysToCancel = append(keysToCancel, blk.Key())
		} else {
			log.Debugf("received unwanted block %s from %s", blk.Key(), p)
		}
	}
	if len(keysToCancel) > 0 {
		bs.wm.CancelWants(keysToCancel)
	}

	sem := make(chan struct{}, maxConcurrentBlockIngestion)
	var wg sync.WaitGroup
	for _, blk := range blks {
		blk := blk
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			already, _ := bs.blockstore.Has(ctx, blk.Key())
			bs.accountReceived(blk, already)

			if err := bs.addBlock(ctx, blk); err != nil {
				log.Errorf("bitswap: ingesting block from %s: %s", p, err)
			}
		}()
	}
	wg.Wait()
}

// ReceiveError implements network.Receiver.
func (bs *Bitswap) ReceiveError(err error) {
	log.Debugf("bitswap network error: %s", err)
}

// PeerConnected implements network.Receiver: the want-manager starts a
// queue for p and sends it our full want-list.
func (bs *Bitswap) PeerConnected(p peer.ID) {
	bs.wm.Connected(p)
}

// PeerDisconnected implements network.Receiver.
func (bs *Bitswap) PeerDisconnected(p peer.ID) {
	bs.wm.Disconnected(p)
	bs.engine.PeerDisconnected(p)
}

func (bs *Bitswap) accountReceived(blk *blocks.Block, dup bool) {
	atomic.AddUint64(&bs.blocksReceived, 1)
	atomic.AddUint64(&bs.dataReceived, uint64(len(blk.RawData())))
	if dup {
		atomic.AddUint64(&bs.dupBlocksReceived, 1)
		atomic.AddUint64(&bs.dupDataReceived, uint64(len(blk.RawData())))
	}
}

// Stat is a point-in-time snapshot of the exchange's observable state,
// the stat surface referenced in §6.
type Stat struct {
	Peers             []peer.ID
	Wantlist          []blocks.BlockKey
	BlocksReceived    uint64
	DupBlocksReceived uint64
	DataReceived      uint64
	DupDataReceived   uint64
	BlocksSent        uint64
}

// Stat returns a snapshot of the exchange's counters and live state.
func (bs *Bitswap) Stat() *Stat {
	entries := bs.wm.Entries()
	keys := make([]blocks.BlockKey, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return &Stat{
		Peers:             bs.wm.ConnectedPeers(),
		Wantlist:          keys,
		BlocksReceived:    atomic.LoadUint64(&bs.blocksReceived),
		DupBlocksReceived: atomic.LoadUint64(&bs.dupBlocksReceived),
		DataReceived:      atomic.LoadUint64(&bs.dataReceived),
		DupDataReceived:   atomic.LoadUint64(&bs.dupDataReceived),
		BlocksSent:        atomic.LoadUint64(&bs.blocksSent),
	}
}

// Close cancels every background loop and waits for the want-manager
// and the task workers to exit; the decision engine's envelope loop is
// cancelled but not waited for.
func (bs *Bitswap) Close() error {
	bs.cancel()
	bs.wm.Stop()
	bs.engine.Close()
	bs.notifs.Shutdown()
	bs.wg.Wait()
	return bs.network.Stop()
}
