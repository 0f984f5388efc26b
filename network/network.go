// Package network defines the transport collaborator the exchange core
// treats as external (§6): dialing, stream multiplexing, and peer
// connect/disconnect events are all out of scope here, specified only
// through the BitSwapNetwork / Receiver interfaces below. Grounded on the
// teacher's exchange/bitswap/network/ipfs_impl.go.
package network

import (
	"context"

	peer "github.com/libp2p/go-libp2p/core/peer"

	"github.com/meshgrid/bitswap/message"
)

// BitSwapNetwork is everything the core needs from the transport layer.
type BitSwapNetwork interface {
	SendMessage(ctx context.Context, p peer.ID, msg message.Message) error
	ConnectTo(ctx context.Context, p peer.ID) error
	SetDelegate(Receiver)
	Start() error
	Stop() error
}

// Receiver is implemented by the exchange core; the transport layer calls
// it back as events occur.
type Receiver interface {
	ReceiveMessage(ctx context.Context, p peer.ID, msg message.Message)
	ReceiveError(err error)
	PeerConnected(p peer.ID)
	PeerDisconnected(p peer.ID)
}
