// Package blockstore defines the persistent content-addressed byte store
// that the exchange core treats as an external collaborator (see §6 of the
// design document): it never validates block content against its key,
// that's the blockstore's job.
package blockstore

import (
	"context"

	"github.com/meshgrid/bitswap/blocks"
)

// Blockstore is the storage collaborator the exchange core reads from and
// writes to. Implementations must tolerate concurrent Has/Get/Put calls
// from many goroutines at once: the decision engine's envelope loop reads
// while inbound message handlers write, all the time.
type Blockstore interface {
	Has(ctx context.Context, key blocks.BlockKey) (bool, error)
	Get(ctx context.Context, key blocks.BlockKey) (*blocks.Block, error)
	Put(ctx context.Context, block *blocks.Block) error
	PutMany(ctx context.Context, blocks []*blocks.Block) error
	DeleteBlock(ctx context.Context, key blocks.BlockKey) error
	AllKeysChan(ctx context.Context) (<-chan blocks.BlockKey, error)
}

// ErrNotFound is returned by Get when the key isn't present.
type ErrNotFound struct{ Key blocks.BlockKey }

func (e ErrNotFound) Error() string { return "blockstore: block not found: " + e.Key.String() }
