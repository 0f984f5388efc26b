// Package blocks defines the immutable content-addressed byte blocks that
// flow through the exchange.
package blocks

import (
	"fmt"

	cid "github.com/ipfs/go-cid"
	mbase "github.com/multiformats/go-multibase"
	mh "github.com/multiformats/go-multihash"
)

// BlockKey is a content address: a self-describing multihash wrapped in a
// CID. Equality and map-key use are byte-wise on the encoded form, which is
// exactly what cid.Cid already gives us.
type BlockKey = cid.Cid

// NewBlockKey wraps a raw multihash in a CIDv1 with the raw codec, which is
// the shape bitswap keys take once no higher-level format applies.
func NewBlockKey(h mh.Multihash) BlockKey {
	return cid.NewCidV1(cid.Raw, h)
}

// Block pairs a key with its data. The key is presumed to be the hash of
// data; callers (the blockstore) are responsible for enforcing that.
type Block struct {
	key  BlockKey
	data []byte
}

// NewBlock hashes data with sha2-256 and returns the resulting block.
func NewBlock(data []byte) (*Block, error) {
	h, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return nil, fmt.Errorf("hashing block data: %w", err)
	}
	return &Block{key: NewBlockKey(h), data: data}, nil
}

// NewBlockWithKey constructs a block from an already-known key, trusting
// the caller (or a later blockstore check) to have verified it.
func NewBlockWithKey(key BlockKey, data []byte) *Block {
	return &Block{key: key, data: data}
}

// KeyB58 renders key in its canonical base58 form, used in logs and in
// the manual-unwant error message.
func KeyB58(k BlockKey) string {
	s, err := k.StringOfBase(mbase.Base58BTC)
	if err != nil {
		return k.String()
	}
	return s
}

// Key returns the block's content address.
func (b *Block) Key() BlockKey { return b.key }

// RawData returns the block's payload.
func (b *Block) RawData() []byte { return b.data }

func (b *Block) String() string {
	return fmt.Sprintf("[Block %s]", b.key)
}
