package network

import (
	"bufio"
	"context"
	"fmt"

	logging "github.com/ipfs/go-log/v2"
	host "github.com/libp2p/go-libp2p/core/host"
	inet "github.com/libp2p/go-libp2p/core/network"
	peer "github.com/libp2p/go-libp2p/core/peer"
	protocol "github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/meshgrid/bitswap/message"
)

var log = logging.Logger("bitswap/network")

// ProtocolBitswap is the libp2p stream protocol ID this exchange speaks.
const ProtocolBitswap = protocol.ID("/meshgrid/bitswap/1.0.0")

// NewFromHost returns a BitSwapNetwork backed by an already-running
// libp2p host, grounded on the teacher's NewFromIpfsHost.
func NewFromHost(h host.Host) BitSwapNetwork {
	n := &libp2pNetwork{host: h}
	h.SetStreamHandler(ProtocolBitswap, n.handleNewStream)
	h.Network().Notify((*netNotifiee)(n))
	return n
}

type libp2pNetwork struct {
	host     host.Host
	receiver Receiver
}

func (n *libp2pNetwork) Start() error { return nil }
func (n *libp2pNetwork) Stop() error  { return nil }

func (n *libp2pNetwork) newStreamToPeer(ctx context.Context, p peer.ID) (inet.Stream, error) {
	if err := n.host.Connect(ctx, peer.AddrInfo{ID: p}); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", p, err)
	}
	return n.host.NewStream(ctx, p, ProtocolBitswap)
}

func (n *libp2pNetwork) SendMessage(ctx context.Context, p peer.ID, msg message.Message) error {
	s, err := n.newStreamToPeer(ctx, p)
	if err != nil {
		return err
	}
	defer s.Close()

	bw := bufio.NewWriter(s)
	if err := msg.ToNet(bw); err != nil {
		log.Debugf("bitswap send to %s: %s", p, err)
		return err
	}
	return bw.Flush()
}

func (n *libp2pNetwork) ConnectTo(ctx context.Context, p peer.ID) error {
	return n.host.Connect(ctx, peer.AddrInfo{ID: p})
}

func (n *libp2pNetwork) SetDelegate(r Receiver) {
	n.receiver = r
}

func (n *libp2pNetwork) handleNewStream(s inet.Stream) {
	defer s.Close()
	if n.receiver == nil {
		return
	}

	received, err := message.FromNet(bufio.NewReader(s))
	if err != nil {
		go n.receiver.ReceiveError(err)
		log.Debugf("bitswap handleNewStream from %s: %s", s.Conn().RemotePeer(), err)
		return
	}

	n.receiver.ReceiveMessage(context.Background(), s.Conn().RemotePeer(), received)
}

type netNotifiee libp2pNetwork

func (nn *netNotifiee) impl() *libp2pNetwork { return (*libp2pNetwork)(nn) }

func (nn *netNotifiee) Connected(_ inet.Network, c inet.Conn) {
	if r := nn.impl().receiver; r != nil {
		r.PeerConnected(c.RemotePeer())
	}
}

func (nn *netNotifiee) Disconnected(_ inet.Network, c inet.Conn) {
	if r := nn.impl().receiver; r != nil {
		r.PeerDisconnected(c.RemotePeer())
	}
}

func (nn *netNotifiee) OpenedStream(inet.Network, inet.Stream) {}
func (nn *netNotifiee) ClosedStream(inet.Network, inet.Stream) {}
func (nn *netNotifiee) Listen(inet.Network, ma.Multiaddr)      {}
func (nn *netNotifiee) ListenClose(inet.Network, ma.Multiaddr) {}
