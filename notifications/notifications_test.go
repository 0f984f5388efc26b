package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshgrid/bitswap/blocks"
)

func block(t *testing.T, data string) *blocks.Block {
	t.Helper()
	b, err := blocks.NewBlock([]byte(data))
	require.NoError(t, err)
	return b
}

func TestSubscribeThenPublishDelivers(t *testing.T) {
	p := New()
	b := block(t, "a")

	ch := p.Subscribe(context.Background(), b.Key())
	p.Publish(b)

	select {
	case got := <-ch:
		require.Equal(t, b.RawData(), got.RawData())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestPublishBeforeSubscribeIsNotSeen(t *testing.T) {
	// A waiter registered strictly after a fire must not see that
	// fire - that's why Bitswap.getBlock's contract is "check has() after
	// register", not "trust a late subscribe to catch earlier publishes".
	p := New()
	b := block(t, "a")

	p.Publish(b)
	ch := p.Subscribe(context.Background(), b.Key())

	select {
	case <-ch:
		t.Fatal("should not have received a pre-subscription publish")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMultipleConcurrentSubscribersBothFire(t *testing.T) {
	p := New()
	b := block(t, "shared")

	ch1 := p.Subscribe(context.Background(), b.Key())
	ch2 := p.Subscribe(context.Background(), b.Key())

	p.Publish(b)

	for _, ch := range []<-chan *blocks.Block{ch1, ch2} {
		select {
		case got := <-ch:
			require.Equal(t, b.Key(), got.Key())
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive block")
		}
	}
}

func TestSubscribeCancelledContextClosesChannel(t *testing.T) {
	p := New()
	b := block(t, "a")

	ctx, cancel := context.WithCancel(context.Background())
	ch := p.Subscribe(ctx, b.Key())
	cancel()

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel should have closed after context cancellation")
	}
}

func TestUnwantFiresAllWaiters(t *testing.T) {
	p := New()
	b := block(t, "a")

	w1 := p.SubscribeUnwant(b.Key())
	w2 := p.SubscribeUnwant(b.Key())

	p.FireUnwant(b.Key())

	for _, w := range []<-chan struct{}{w1, w2} {
		select {
		case <-w:
		case <-time.After(time.Second):
			t.Fatal("unwant waiter did not fire")
		}
	}
}

func TestIdempotentPublishFiresTwiceForTwoSubscriptions(t *testing.T) {
	p := New()
	b := block(t, "a")

	ch1 := p.Subscribe(context.Background(), b.Key())
	p.Publish(b)
	<-ch1

	ch2 := p.Subscribe(context.Background(), b.Key())
	p.Publish(b)

	select {
	case got := <-ch2:
		require.Equal(t, b.Key(), got.Key())
	case <-time.After(time.Second):
		t.Fatal("second publish should fire the new subscriber")
	}
}
