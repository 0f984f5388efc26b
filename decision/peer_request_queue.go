package decision

import (
	"sync"
	"time"

	peer "github.com/libp2p/go-libp2p/core/peer"

	"github.com/meshgrid/bitswap/blocks"
	"github.com/meshgrid/bitswap/wantlist"
)

// peerRequestQueue is the task queue described in §4.3: it decides, in
// fair round-robin-over-peers / highest-priority-within-peer order, which
// (peer, key) pair to send next. Grounded on the teacher's retrieved
// peer_request_queue.go, adapted from its internal thirdparty/pq
// dependency onto the local container/heap-backed pq in this package.
type peerRequestQueue interface {
	Pop() *peerRequestTask
	Push(entry *wantlist.Entry, to peer.ID)
	Remove(k blocks.BlockKey, p peer.ID)
	Len() int
}

func newPRQ() peerRequestQueue {
	return &prq{
		taskMap:  make(map[string]*peerRequestTask),
		partners: make(map[peer.ID]*activePartner),
		pQueue:   newPQ(wrapPartnerCmp(partnerCompare)),
	}
}

var _ peerRequestQueue = &prq{}

type prq struct {
	lock     sync.Mutex
	pQueue   *pq
	taskMap  map[string]*peerRequestTask
	partners map[peer.ID]*activePartner
	count    int
}

// Push adds or refreshes a task for (entry.Key, to).
func (tl *prq) Push(entry *wantlist.Entry, to peer.ID) {
	tl.lock.Lock()
	defer tl.lock.Unlock()

	partner, ok := tl.partners[to]
	if !ok {
		partner = newActivePartner()
		tl.pQueue.Push(partner)
		tl.partners[to] = partner
	}

	key := taskKey(to, entry.Key)
	if task, ok := tl.taskMap[key]; ok {
		task.Entry.Priority = entry.Priority
		partner.taskQueue.Update(task.index)
		return
	}

	partner.activelk.Lock()
	_, active := partner.activeBlocks[entry.Key.KeyString()]
	partner.activelk.Unlock()
	if active {
		return
	}

	task := &peerRequestTask{
		Entry:   entry,
		Target:  to,
		created: time.Now(),
	}
	task.Done = func() {
		partner.TaskDone(entry.Key)
		tl.lock.Lock()
		tl.pQueue.Update(partner.Index())
		tl.lock.Unlock()
	}

	partner.taskQueue.Push(task)
	tl.taskMap[task.Key()] = task
	tl.count++
	partner.requests++
	tl.pQueue.Update(partner.Index())
}

// Pop returns the next task to perform, or nil if none exists.
func (tl *prq) Pop() *peerRequestTask {
	tl.lock.Lock()
	defer tl.lock.Unlock()
	if tl.pQueue.Len() == 0 {
		return nil
	}
	partner := tl.pQueue.Pop().(*activePartner)

	var out *peerRequestTask
	for partner.taskQueue.Len() > 0 {
		e := partner.taskQueue.Pop().(*peerRequestTask)
		delete(tl.taskMap, e.Key())
		tl.count--
		if e.trash {
			continue
		}
		partner.StartTask(e.Entry.Key)
		partner.requests--
		out = e
		break
	}

	tl.pQueue.Push(partner)
	return out
}

// Remove lazily marks a task as trash so it's skipped when popped.
func (tl *prq) Remove(k blocks.BlockKey, p peer.ID) {
	tl.lock.Lock()
	defer tl.lock.Unlock()
	t, ok := tl.taskMap[taskKey(p, k)]
	if !ok {
		return
	}
	t.trash = true
	if partner, ok := tl.partners[p]; ok {
		partner.requests--
	}
}

func (tl *prq) Len() int {
	tl.lock.Lock()
	defer tl.lock.Unlock()
	return tl.count
}

type peerRequestTask struct {
	Entry  *wantlist.Entry
	Target peer.ID

	Done func()

	trash   bool
	created time.Time
	index   int
}

func (t *peerRequestTask) Key() string        { return taskKey(t.Target, t.Entry.Key) }
func (t *peerRequestTask) Index() int         { return t.index }
func (t *peerRequestTask) SetIndex(i int)     { t.index = i }

func taskKey(p peer.ID, k blocks.BlockKey) string {
	return string(p) + k.KeyString()
}

// FIFO orders tasks by creation time, oldest first.
var FIFO = func(a, b *peerRequestTask) bool {
	return a.created.Before(b.created)
}

// V1 respects the target peer's want-list priority, breaking ties between
// equal priorities by FIFO; across peers it falls back to FIFO.
var V1 = func(a, b *peerRequestTask) bool {
	if a.Target == b.Target && a.Entry.Priority != b.Entry.Priority {
		return a.Entry.Priority > b.Entry.Priority
	}
	return FIFO(a, b)
}

func wrapCmp(f func(a, b *peerRequestTask) bool) func(a, b elem) bool {
	return func(a, b elem) bool {
		return f(a.(*peerRequestTask), b.(*peerRequestTask))
	}
}

func wrapPartnerCmp(f func(a, b *activePartner) bool) func(a, b elem) bool {
	return func(a, b elem) bool {
		return f(a.(*activePartner), b.(*activePartner))
	}
}

// activePartner is one peer's slot in the fair-selection queue: its own
// task sub-queue plus bookkeeping on how many sends are in flight for it,
// which is what makes round-robin-by-least-active fair in partnerCompare.
type activePartner struct {
	activelk     sync.Mutex
	active       int
	activeBlocks map[string]struct{}

	requests int

	index int

	taskQueue *pq
}

func newActivePartner() *activePartner {
	return &activePartner{
		taskQueue:    newPQ(wrapCmp(V1)),
		activeBlocks: make(map[string]struct{}),
	}
}

// partnerCompare is the PQ comparator over peers: a peer with no pending
// requests sorts last; among peers with pending work, fewer active sends
// sorts first (round-robin fairness).
func partnerCompare(a, b *activePartner) bool {
	if a.requests == 0 {
		return false
	}
	if b.requests == 0 {
		return true
	}
	return a.active < b.active
}

func (p *activePartner) StartTask(k blocks.BlockKey) {
	p.activelk.Lock()
	p.activeBlocks[k.KeyString()] = struct{}{}
	p.active++
	p.activelk.Unlock()
}

func (p *activePartner) TaskDone(k blocks.BlockKey) {
	p.activelk.Lock()
	delete(p.activeBlocks, k.KeyString())
	p.active--
	if p.active < 0 {
		panic("more tasks finished than started")
	}
	p.activelk.Unlock()
}

func (p *activePartner) Index() int     { return p.index }
func (p *activePartner) SetIndex(i int) { p.index = i }
