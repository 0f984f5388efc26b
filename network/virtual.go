package network

import (
	"context"
	"errors"
	"sync"
	"time"

	peer "github.com/libp2p/go-libp2p/core/peer"

	"github.com/meshgrid/bitswap/message"
)

// VirtualNetwork is an in-process BitSwapNetwork used by tests: it
// delivers messages directly between registered clients instead of
// dialing a real transport. Grounded on the teacher's
// exchange/bitswap/testnet/virtual.go.
type VirtualNetwork struct {
	mu      sync.Mutex
	clients map[peer.ID]Receiver
	delay   time.Duration
}

// NewVirtualNetwork returns a network that delays every delivery by
// delay (0 for an instant, deterministic network).
func NewVirtualNetwork(delay time.Duration) *VirtualNetwork {
	return &VirtualNetwork{
		clients: make(map[peer.ID]Receiver),
		delay:   delay,
	}
}

// Adapter returns a BitSwapNetwork bound to local as its identity within
// this virtual network.
func (n *VirtualNetwork) Adapter(local peer.ID) BitSwapNetwork {
	return &virtualClient{local: local, net: n}
}

// HasPeer reports whether p has an adapter registered.
func (n *VirtualNetwork) HasPeer(p peer.ID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.clients[p]
	return ok
}

func (n *VirtualNetwork) register(p peer.ID, r Receiver) {
	n.mu.Lock()
	n.clients[p] = r
	n.mu.Unlock()
}

func (n *VirtualNetwork) receiverFor(p peer.ID) (Receiver, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	r, ok := n.clients[p]
	return r, ok
}

func (n *VirtualNetwork) deliver(to peer.ID, from peer.ID, msg message.Message) error {
	r, ok := n.receiverFor(to)
	if !ok {
		return errors.New("no such peer in virtual network")
	}
	go func() {
		if n.delay > 0 {
			time.Sleep(n.delay)
		}
		r.ReceiveMessage(context.Background(), from, msg)
	}()
	return nil
}

type virtualClient struct {
	local    peer.ID
	net      *VirtualNetwork
	receiver Receiver
}

func (c *virtualClient) SendMessage(ctx context.Context, p peer.ID, msg message.Message) error {
	return c.net.deliver(p, c.local, msg)
}

func (c *virtualClient) ConnectTo(ctx context.Context, p peer.ID) error {
	if !c.net.HasPeer(p) {
		return errors.New("no such peer in virtual network")
	}
	if other, ok := c.net.receiverFor(p); ok {
		other.PeerConnected(c.local)
	}
	if c.receiver != nil {
		c.receiver.PeerConnected(p)
	}
	return nil
}

func (c *virtualClient) SetDelegate(r Receiver) {
	c.receiver = r
	c.net.register(c.local, r)
}

func (c *virtualClient) Start() error { return nil }
func (c *virtualClient) Stop() error  { return nil }
