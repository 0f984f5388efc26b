package blockstore

import (
	"context"
	"fmt"

	cid "github.com/ipfs/go-cid"
	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	dssync "github.com/ipfs/go-datastore/sync"

	"github.com/meshgrid/bitswap/blocks"
)

// MapBlockstore is a reference Blockstore backed by an in-memory
// go-datastore, mirroring the teacher's test harness
// (ds_sync.MutexWrap(ds.NewMapDatastore())) promoted to a real,
// reusable implementation rather than a test-only fixture.
type MapBlockstore struct {
	ds ds.Datastore
}

// NewMapBlockstore wraps a fresh in-memory, mutex-guarded datastore.
func NewMapBlockstore() *MapBlockstore {
	return &MapBlockstore{ds: dssync.MutexWrap(ds.NewMapDatastore())}
}

func keyToDsKey(k blocks.BlockKey) ds.Key {
	return ds.NewKey("/blocks/" + k.String())
}

func (b *MapBlockstore) Has(ctx context.Context, key blocks.BlockKey) (bool, error) {
	return b.ds.Has(ctx, keyToDsKey(key))
}

func (b *MapBlockstore) Get(ctx context.Context, key blocks.BlockKey) (*blocks.Block, error) {
	data, err := b.ds.Get(ctx, keyToDsKey(key))
	if err != nil {
		if err == ds.ErrNotFound {
			return nil, ErrNotFound{Key: key}
		}
		return nil, fmt.Errorf("blockstore get %s: %w", key, err)
	}
	return blocks.NewBlockWithKey(key, data), nil
}

func (b *MapBlockstore) Put(ctx context.Context, block *blocks.Block) error {
	has, err := b.Has(ctx, block.Key())
	if err != nil {
		return err
	}
	if has {
		return nil // idempotent
	}
	return b.ds.Put(ctx, keyToDsKey(block.Key()), block.RawData())
}

func (b *MapBlockstore) PutMany(ctx context.Context, blks []*blocks.Block) error {
	for _, blk := range blks {
		if err := b.Put(ctx, blk); err != nil {
			return err
		}
	}
	return nil
}

func (b *MapBlockstore) DeleteBlock(ctx context.Context, key blocks.BlockKey) error {
	return b.ds.Delete(ctx, keyToDsKey(key))
}

func (b *MapBlockstore) AllKeysChan(ctx context.Context) (<-chan blocks.BlockKey, error) {
	res, err := b.ds.Query(ctx, dsq.Query{Prefix: "/blocks", KeysOnly: true})
	if err != nil {
		return nil, err
	}
	out := make(chan blocks.BlockKey)
	go func() {
		defer close(out)
		for entry := range res.Next() {
			if entry.Error != nil {
				return
			}
			// strip the "/blocks/" prefix we added in keyToDsKey
			k, err := parseDsKey(entry.Key)
			if err != nil {
				continue
			}
			select {
			case out <- k:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func parseDsKey(s string) (blocks.BlockKey, error) {
	const prefix = "/blocks/"
	if len(s) <= len(prefix) {
		return blocks.BlockKey{}, fmt.Errorf("malformed datastore key %q", s)
	}
	return cid.Decode(s[len(prefix):])
}
