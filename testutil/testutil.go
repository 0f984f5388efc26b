// Package testutil builds in-process Bitswap instances wired to a shared
// VirtualNetwork, grounded on the teacher's testutils.go SessionGenerator
// pattern and generalized to the new Orchestrator/Blockstore types.
package testutil

import (
	"context"

	peer "github.com/libp2p/go-libp2p/core/peer"
	peertest "github.com/libp2p/go-libp2p/core/test"

	bitswap "github.com/meshgrid/bitswap"
	"github.com/meshgrid/bitswap/blockstore"
	"github.com/meshgrid/bitswap/network"
)

// SessionGenerator hands out Instances that all share one VirtualNetwork,
// so tests can wire up small swarms without a real libp2p host.
type SessionGenerator struct {
	net    *network.VirtualNetwork
	ctx    context.Context
	cancel context.CancelFunc
}

// NewTestSessionGenerator returns a generator backed by net.
func NewTestSessionGenerator(net *network.VirtualNetwork) SessionGenerator {
	ctx, cancel := context.WithCancel(context.Background())
	return SessionGenerator{net: net, ctx: ctx, cancel: cancel}
}

// Close tears down every Instance this generator produced.
func (g *SessionGenerator) Close() error {
	g.cancel()
	return nil
}

// Next returns a single fresh Instance with a random peer identity.
func (g *SessionGenerator) Next() Instance {
	p, err := peertest.RandPeerID()
	if err != nil {
		panic("testutil: generating random peer id: " + err.Error())
	}
	return session(g.ctx, g.net, p)
}

// Instances returns n freshly generated instances, each already
// connected to every other one.
func (g *SessionGenerator) Instances(n int) []Instance {
	instances := make([]Instance, 0, n)
	for i := 0; i < n; i++ {
		instances = append(instances, g.Next())
	}
	for i, inst := range instances {
		for j, other := range instances {
			if i == j {
				continue
			}
			inst.Exchange.PeerConnected(other.Peer)
		}
	}
	return instances
}

// Instance is one node's worth of exchange plus the storage backing it,
// exposed so tests can inspect state the Bitswap API itself doesn't
// surface.
type Instance struct {
	Peer       peer.ID
	Exchange   *bitswap.Bitswap
	Blockstore blockstore.Blockstore
}

func session(ctx context.Context, net *network.VirtualNetwork, p peer.ID) Instance {
	adapter := net.Adapter(p)
	bstore := blockstore.NewMapBlockstore()
	bs := bitswap.New(ctx, p, adapter, bstore)

	return Instance{
		Peer:       p,
		Exchange:   bs,
		Blockstore: bstore,
	}
}
