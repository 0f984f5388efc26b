package message

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshgrid/bitswap/blocks"
)

func block(t *testing.T, data string) *blocks.Block {
	t.Helper()
	b, err := blocks.NewBlock([]byte(data))
	require.NoError(t, err)
	return b
}

func TestRoundTripFullWithEntriesAndBlocks(t *testing.T) {
	b1 := block(t, "hello")
	b2 := block(t, "world")

	m := New(true)
	m.AddEntry(b1.Key(), 3)
	m.Cancel(b2.Key())
	m.AddBlock(b1)

	var buf bytes.Buffer
	require.NoError(t, m.ToNet(&buf))

	decoded, err := FromNet(&buf)
	require.NoError(t, err)

	require.True(t, decoded.Full())
	require.Len(t, decoded.Wantlist(), 2)
	require.Len(t, decoded.Blocks(), 1)

	var sawWant, sawCancel bool
	for _, e := range decoded.Wantlist() {
		if e.Key == b1.Key() {
			sawWant = true
			require.EqualValues(t, 3, e.Priority)
			require.False(t, e.Cancel)
		}
		if e.Key == b2.Key() {
			sawCancel = true
			require.True(t, e.Cancel)
		}
	}
	require.True(t, sawWant)
	require.True(t, sawCancel)
	require.Equal(t, b1.RawData(), decoded.Blocks()[0].RawData())
}

func TestEmptyMessageRoundTrips(t *testing.T) {
	m := New(false)
	require.True(t, m.Empty())

	var buf bytes.Buffer
	require.NoError(t, m.ToNet(&buf))

	decoded, err := FromNet(&buf)
	require.NoError(t, err)
	require.True(t, decoded.Empty())
	require.False(t, decoded.Full())
}

func TestClearBlocksRemovesPayloadButKeepsWantlist(t *testing.T) {
	b1 := block(t, "x")
	m := New(false)
	m.AddEntry(b1.Key(), 1)
	m.AddBlock(b1)

	m.ClearBlocks()

	require.Len(t, m.Blocks(), 0)
	require.Len(t, m.Wantlist(), 1)
}
