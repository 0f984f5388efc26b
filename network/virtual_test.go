package network

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	peer "github.com/libp2p/go-libp2p/core/peer"
	peertest "github.com/libp2p/go-libp2p/core/test"

	"github.com/meshgrid/bitswap/blocks"
	"github.com/meshgrid/bitswap/message"
)

type captureReceiver struct {
	mu        sync.Mutex
	from      peer.ID
	msg       message.Message
	got       chan struct{}
	connected chan peer.ID
}

func newCaptureReceiver() *captureReceiver {
	return &captureReceiver{got: make(chan struct{}, 1), connected: make(chan peer.ID, 1)}
}

func (c *captureReceiver) ReceiveMessage(ctx context.Context, p peer.ID, msg message.Message) {
	c.mu.Lock()
	c.from = p
	c.msg = msg
	c.mu.Unlock()
	select {
	case c.got <- struct{}{}:
	default:
	}
}

func (c *captureReceiver) ReceiveError(err error) {}

func (c *captureReceiver) PeerConnected(p peer.ID) {
	select {
	case c.connected <- p:
	default:
	}
}

func (c *captureReceiver) PeerDisconnected(p peer.ID) {}

func TestVirtualNetworkDeliversMessageToTarget(t *testing.T) {
	net := NewVirtualNetwork(0)
	a, _ := peertest.RandPeerID()
	b, _ := peertest.RandPeerID()

	aAdapter := net.Adapter(a)
	bAdapter := net.Adapter(b)

	bRecv := newCaptureReceiver()
	bAdapter.SetDelegate(bRecv)
	aAdapter.SetDelegate(newCaptureReceiver())

	blk, err := blocks.NewBlock([]byte("hello"))
	require.NoError(t, err)
	msg := message.New(false)
	msg.AddBlock(blk)

	require.NoError(t, aAdapter.SendMessage(context.Background(), b, msg))

	select {
	case <-bRecv.got:
	case <-time.After(time.Second):
		t.Fatal("message was never delivered")
	}

	bRecv.mu.Lock()
	defer bRecv.mu.Unlock()
	require.Equal(t, a, bRecv.from)
	require.Len(t, bRecv.msg.Blocks(), 1)
}

func TestVirtualNetworkSendToUnregisteredPeerErrors(t *testing.T) {
	net := NewVirtualNetwork(0)
	a, _ := peertest.RandPeerID()
	b, _ := peertest.RandPeerID()

	aAdapter := net.Adapter(a)
	aAdapter.SetDelegate(newCaptureReceiver())

	err := aAdapter.SendMessage(context.Background(), b, message.New(false))
	require.Error(t, err)
}

func TestVirtualNetworkConnectToNotifiesBothSides(t *testing.T) {
	net := NewVirtualNetwork(0)
	a, _ := peertest.RandPeerID()
	b, _ := peertest.RandPeerID()

	aRecv := newCaptureReceiver()
	bRecv := newCaptureReceiver()

	aAdapter := net.Adapter(a)
	bAdapter := net.Adapter(b)
	aAdapter.SetDelegate(aRecv)
	bAdapter.SetDelegate(bRecv)

	require.NoError(t, aAdapter.ConnectTo(context.Background(), b))

	select {
	case p := <-bRecv.connected:
		require.Equal(t, a, p)
	case <-time.After(time.Second):
		t.Fatal("peer b was never notified of the connection")
	}

	select {
	case p := <-aRecv.connected:
		require.Equal(t, b, p)
	case <-time.After(time.Second):
		t.Fatal("peer a was never notified of its own connection")
	}
}
