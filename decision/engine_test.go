package decision

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	peertest "github.com/libp2p/go-libp2p/core/test"

	"github.com/meshgrid/bitswap/blocks"
	"github.com/meshgrid/bitswap/blockstore"
	"github.com/meshgrid/bitswap/message"
)

func engineTestBlock(t *testing.T, data string) *blocks.Block {
	t.Helper()
	b, err := blocks.NewBlock([]byte(data))
	require.NoError(t, err)
	return b
}

func TestMessageReceivedQueuesTaskWhenBlockstoreHasIt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bstore := blockstore.NewMapBlockstore()
	blk := engineTestBlock(t, "i have this")
	require.NoError(t, bstore.Put(ctx, blk))

	e := NewEngine(ctx, bstore)
	defer e.Close()

	p, _ := peertest.RandPeerID()
	msg := message.New(false)
	msg.AddEntry(blk.Key(), 1)
	e.MessageReceived(p, msg)

	select {
	case env := <-e.Outbox():
		require.Equal(t, p, env.Peer)
		require.Equal(t, blk.Key(), env.Block.Key())
		env.Sent()
	case <-time.After(time.Second):
		t.Fatal("expected an envelope for the wanted, locally-held block")
	}
}

func TestMessageReceivedDoesNotQueueWhenBlockMissing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bstore := blockstore.NewMapBlockstore()
	e := NewEngine(ctx, bstore)
	defer e.Close()

	p, _ := peertest.RandPeerID()
	blk := engineTestBlock(t, "missing")

	msg := message.New(false)
	msg.AddEntry(blk.Key(), 1)
	e.MessageReceived(p, msg)

	select {
	case env := <-e.Outbox():
		t.Fatalf("unexpected envelope for a block we don't have: %v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReceivedBlockQueuesTaskForWaitingPeer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bstore := blockstore.NewMapBlockstore()
	e := NewEngine(ctx, bstore)
	defer e.Close()

	p, _ := peertest.RandPeerID()
	blk := engineTestBlock(t, "arrives later")

	msg := message.New(false)
	msg.AddEntry(blk.Key(), 1)
	e.MessageReceived(p, msg)

	require.NoError(t, bstore.Put(ctx, blk))
	e.ReceivedBlock(blk)

	select {
	case env := <-e.Outbox():
		require.Equal(t, p, env.Peer)
		env.Sent()
	case <-time.After(time.Second):
		t.Fatal("expected the now-available block to be queued for the waiting peer")
	}
}

func TestCancelEntryRemovesQueuedTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bstore := blockstore.NewMapBlockstore()
	blk := engineTestBlock(t, "cancel me")
	require.NoError(t, bstore.Put(ctx, blk))

	e := NewEngine(ctx, bstore)
	defer e.Close()

	p, _ := peertest.RandPeerID()
	msg := message.New(false)
	msg.AddEntry(blk.Key(), 1)
	e.MessageReceived(p, msg)

	cancelMsg := message.New(false)
	cancelMsg.Cancel(blk.Key())
	e.MessageReceived(p, cancelMsg)

	select {
	case env := <-e.Outbox():
		t.Fatalf("unexpected envelope after cancel: %v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPeerDisconnectedWithQueuedTaskDoesNotBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bstore := blockstore.NewMapBlockstore()
	blk := engineTestBlock(t, "disconnected peer")
	require.NoError(t, bstore.Put(ctx, blk))

	e := NewEngine(ctx, bstore)
	defer e.Close()

	p, _ := peertest.RandPeerID()
	msg := message.New(false)
	msg.AddEntry(blk.Key(), 1)
	e.MessageReceived(p, msg)

	e.PeerDisconnected(p)

	select {
	case env := <-e.Outbox():
		env.Sent()
	case <-time.After(50 * time.Millisecond):
	}
}
