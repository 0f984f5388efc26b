package wantmanager

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
	"github.com/meshgrid/bitswap/network"
)

func key(t *testing.T, data string) blocks.BlockKey {
	t.Helper()
	b, err := blocks.NewBlock([]byte(data))
	require.NoError(t, err)
	return b.Key()
}

func TestConnectedPeerGetsFullWantlistFirst(t *testing.T) {
	net := network.NewVirtualNetwork(0)
	self, err := peertest.RandPeerID()
	require.NoError(t, err)
	other, err := peertest.RandPeerID()
	require.NoError(t, err)

	adapter := net.Adapter(self)
	adapter.SetDelegate(&recordingReceiver{})

	otherAdapter := net.Adapter(other)
	recv := &recordingReceiver{}
	otherAdapter.SetDelegate(recv)

	wm := New(context.Background(), adapter, nil)
	k := key(t, "a")
	wm.WantBlocks(context.Background(), []blocks.BlockKey{k}, 0)

	wm.Connected(other)
	defer wm.Stop()

	require.Eventually(t, func() bool {
		return recv.count() > 0
	}, time.Second, 10*time.Millisecond)
}

func TestCancelAfterWantRemovesFromLocalList(t *testing.T) {
	net := network.NewVirtualNetwork(0)
	self, _ := peertest.RandPeerID()
	adapter := net.Adapter(self)
	adapter.SetDelegate(&recordingReceiver{})

	wm := New(context.Background(), adapter, nil)
	defer wm.Stop()
	k := key(t, "a")

	wm.WantBlocks(context.Background(), []blocks.BlockKey{k}, 0)
	require.Len(t, wm.Entries(), 1)

	wm.CancelWants([]blocks.BlockKey{k})
	require.Len(t, wm.Entries(), 0)
}

func TestUnwantInvokesCallback(t *testing.T) {
	net := network.NewVirtualNetwork(0)
	self, _ := peertest.RandPeerID()
	adapter := net.Adapter(self)
	adapter.SetDelegate(&recordingReceiver{})

	var mu sync.Mutex
	var unwanted []blocks.BlockKey
	wm := New(context.Background(), adapter, func(k blocks.BlockKey) {
		mu.Lock()
		unwanted = append(unwanted, k)
		mu.Unlock()
	})
	defer wm.Stop()

	k := key(t, "a")
	wm.WantBlocks(context.Background(), []blocks.BlockKey{k}, 0)
	wm.UnwantBlocks([]blocks.BlockKey{k})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, unwanted, 1)
	require.Equal(t, k, unwanted[0])
	require.Len(t, wm.Entries(), 0)
}

// recordingReceiver is a minimal network.Receiver that counts inbound
// messages, used to observe that a newly-connected peer receives the
// full want-list snapshot §4.2 requires.
type recordingReceiver struct {
	mu sync.Mutex
	n  int
}

func (r *recordingReceiver) ReceiveMessage(ctx context.Context, p peer.ID, msg message.Message) {
	r.mu.Lock()
	r.n++
	r.mu.Unlock()
}

func (r *recordingReceiver) ReceiveError(err error) {}
func (r *recordingReceiver) PeerConnected(p peer.ID)    {}
func (r *recordingReceiver) PeerDisconnected(p peer.ID) {}

func (r *recordingReceiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}
