package bitswap

import (
	"context"
	"sync/atomic"

	"github.com/meshgrid/bitswap/decision"
)

// taskWorker drains the decision engine's outbox and hands each envelope
// to the network, accounting bytes sent and releasing the engine's
// per-peer task slot once delivery has been attempted.
func (bs *Bitswap) taskWorker(id int) {
	for {
		select {
		case env, ok := <-bs.engine.Outbox():
			if !ok {
				return
			}
			bs.send(bs.ctx, env)
		case <-bs.ctx.Done():
			return
		}
	}
}

// send delivers env's message and reports the outcome back to the
// engine exactly once, mirroring the single call site the teacher's
// bs.send used for every outbound message.
func (bs *Bitswap) send(ctx context.Context, env *decision.Envelope) {
	defer env.Sent()

	if err := bs.network.SendMessage(ctx, env.Peer, env.Message); err != nil {
		log.Debugf("bitswap: sending block %s to %s: %s", env.Block.Key(), env.Peer, err)
		return
	}

	if err := bs.engine.MessageSent(env.Peer, env.Message); err != nil {
		log.Debugf("bitswap: accounting sent message to %s: %s", env.Peer, err)
	}
	bs.countBlocksSent(len(env.Message.Blocks()))
}

func (bs *Bitswap) countBlocksSent(n int) {
	if n <= 0 {
		return
	}
	atomic.AddUint64(&bs.blocksSent, uint64(n))
}
