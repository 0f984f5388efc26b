package wantlist

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshgrid/bitswap/blocks"
)

func testKey(t *testing.T, data string) blocks.BlockKey {
	t.Helper()
	b, err := blocks.NewBlock([]byte(data))
	require.NoError(t, err)
	return b.Key()
}

func TestAddIncrementsRefcount(t *testing.T) {
	w := New()
	k := testKey(t, "a")

	require.True(t, w.Add(k, 1))
	require.False(t, w.Add(k, 1))

	e, ok := w.Contains(k)
	require.True(t, ok)
	require.Equal(t, 2, e.RefCnt)
}

func TestAddRaisesPriorityToMax(t *testing.T) {
	w := New()
	k := testKey(t, "a")

	w.Add(k, 1)
	w.Add(k, 5)
	w.Add(k, 2)

	e, ok := w.Contains(k)
	require.True(t, ok)
	require.EqualValues(t, 5, e.Priority)
}

func TestRemoveDecrementsThenDeletes(t *testing.T) {
	w := New()
	k := testKey(t, "a")

	w.Add(k, 1)
	w.Add(k, 1)

	_, removed := w.Remove(k)
	require.False(t, removed)
	_, ok := w.Contains(k)
	require.True(t, ok, "refcount 1 should still be live")

	e, removed := w.Remove(k)
	require.True(t, removed)
	require.Equal(t, k, e.Key)
	_, ok = w.Contains(k)
	require.False(t, ok)
}

func TestRemoveForceIgnoresRefcount(t *testing.T) {
	w := New()
	k := testKey(t, "a")

	w.Add(k, 1)
	w.Add(k, 1)
	w.Add(k, 1)

	_, removed := w.RemoveForce(k)
	require.True(t, removed)
	_, ok := w.Contains(k)
	require.False(t, ok)
}

func TestRemoveAbsentKeyIsNoop(t *testing.T) {
	w := New()
	k := testKey(t, "absent")

	_, removed := w.Remove(k)
	require.False(t, removed)
	_, removed = w.RemoveForce(k)
	require.False(t, removed)
}

func TestEntriesOrderedByPriorityThenInsertion(t *testing.T) {
	w := New()
	ka := testKey(t, "a")
	kb := testKey(t, "b")
	kc := testKey(t, "c")

	w.Add(ka, 1)
	w.Add(kb, 5)
	w.Add(kc, 5)

	entries := w.Entries()
	require.Len(t, entries, 3)
	require.Equal(t, kb, entries[0].Key)
	require.Equal(t, kc, entries[1].Key)
	require.Equal(t, ka, entries[2].Key)
}

func TestRefcountNeverNegativeAcrossSequence(t *testing.T) {
	w := New()
	k := testKey(t, "a")

	w.Add(k, 1)
	w.Remove(k)
	_, ok := w.Contains(k)
	require.False(t, ok)

	// further removes on an absent key must not panic or go negative
	w.Remove(k)
	w.Remove(k)
	_, ok = w.Contains(k)
	require.False(t, ok)
}

func TestThreadSafeConcurrentAdd(t *testing.T) {
	ts := NewThreadSafe()
	k := testKey(t, "a")

	done := make(chan struct{})
	for i := 0; i < 50; i++ {
		go func() {
			ts.Add(k, 1)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 50; i++ {
		<-done
	}
	e, ok := ts.Contains(k)
	require.True(t, ok)
	require.Equal(t, 50, e.RefCnt)
}
