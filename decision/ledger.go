package decision

import (
	"sync"

	peer "github.com/libp2p/go-libp2p/core/peer"

	"github.com/meshgrid/bitswap/blocks"
	"github.com/meshgrid/bitswap/wantlist"
)

// Ledger is the per-peer record described in §3: what they've asked us
// for, and how much we've exchanged with them. The debt ratio it computes
// is a hook for future send-prioritization policy; per the design notes'
// open question, no policy consumes it yet.
type Ledger struct {
	mu sync.Mutex

	Partner peer.ID

	wants *wantlist.Wantlist

	bytesSent uint64
	bytesRecv uint64

	exchangeCount uint64
}

func newLedger(p peer.ID) *Ledger {
	return &Ledger{
		Partner: p,
		wants:   wantlist.New(),
	}
}

// Wants returns a snapshot of what this peer has asked us for.
func (l *Ledger) Wants() []*wantlist.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wants.Entries()
}

// contains reports whether this peer currently wants key, along with its
// entry (for its priority).
func (l *Ledger) contains(key blocks.BlockKey) (*wantlist.Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wants.Contains(key)
}

func (l *Ledger) addWant(key blocks.BlockKey, priority int32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wants.Add(key, priority)
}

func (l *Ledger) removeWantForce(key blocks.BlockKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wants.RemoveForce(key)
}

func (l *Ledger) clearWants() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wants = wantlist.New()
}

func (l *Ledger) receivedBytes(n int) {
	l.mu.Lock()
	l.bytesRecv += uint64(n)
	l.mu.Unlock()
}

func (l *Ledger) sentBytes(n int) {
	l.mu.Lock()
	l.bytesSent += uint64(n)
	l.exchangeCount++
	l.mu.Unlock()
}

// DebtRatio is bytesSent / max(1, bytesRecv), per §3 - computed but, per
// the design document's open question, not yet consumed by task
// selection. It's exposed here so a future fairness policy has something
// to read.
func (l *Ledger) DebtRatio() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	recv := l.bytesRecv
	if recv < 1 {
		recv = 1
	}
	return float64(l.bytesSent) / float64(recv)
}

// ExchangeCount returns the number of blocks successfully sent to this
// peer.
func (l *Ledger) ExchangeCount() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exchangeCount
}

// Stats snapshots bytesSent/bytesRecv together, atomically with respect
// to each other.
func (l *Ledger) Stats() (sent, recv uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bytesSent, l.bytesRecv
}
