// Package mailbox implements (source, tag) message matching shared by the
// transport implementations. Messages and posted receives meet here:
// whichever side arrives first queues until the other shows up.
package mailbox

import (
	"sync"

	"github.com/hupe1980/indexsync/comm"
)

type key struct {
	src, tag int
}

type message struct {
	payload []byte
	err     error
}

type waiter struct {
	segs     comm.Segments
	complete func(error)
}

// Box matches incoming messages against posted receives per (source, tag),
// each side in FIFO order.
type Box struct {
	mu      sync.Mutex
	queued  map[key][]message
	waiting map[key][]waiter
	failed  map[int]error
}

// New creates an empty mailbox.
func New() *Box {
	return &Box{
		queued:  make(map[key][]message),
		waiting: make(map[key][]waiter),
		failed:  make(map[int]error),
	}
}

// Deliver hands an incoming message to the mailbox. The mailbox takes
// ownership of payload. A non-nil err poisons the matched receive instead
// of filling it.
func (b *Box) Deliver(src, tag int, payload []byte, err error) {
	k := key{src: src, tag: tag}

	b.mu.Lock()
	if ws := b.waiting[k]; len(ws) > 0 {
		w := ws[0]
		b.waiting[k] = ws[1:]
		b.mu.Unlock()
		fill(w, message{payload: payload, err: err})
		return
	}
	b.queued[k] = append(b.queued[k], message{payload: payload, err: err})
	b.mu.Unlock()
}

// Fail poisons the source: every pending and future receive from src
// completes with err.
func (b *Box) Fail(src int, err error) {
	b.mu.Lock()
	b.failed[src] = err
	var drained []waiter
	for k, ws := range b.waiting {
		if k.src == src && len(ws) > 0 {
			drained = append(drained, ws...)
			delete(b.waiting, k)
		}
	}
	b.mu.Unlock()

	for _, w := range drained {
		w.complete(err)
	}
}

// Receive posts a receive for the next message from (src, tag), scattered
// across segs.
func (b *Box) Receive(src, tag int, segs comm.Segments) *comm.Request {
	k := key{src: src, tag: tag}

	b.mu.Lock()
	if err, ok := b.failed[src]; ok {
		b.mu.Unlock()
		return comm.CompletedRequest(err)
	}
	if ms := b.queued[k]; len(ms) > 0 {
		m := ms[0]
		b.queued[k] = ms[1:]
		b.mu.Unlock()
		req, complete := comm.NewRequest()
		fill(waiter{segs: segs, complete: complete}, m)
		return req
	}
	req, complete := comm.NewRequest()
	b.waiting[k] = append(b.waiting[k], waiter{segs: segs, complete: complete})
	b.mu.Unlock()
	return req
}

func fill(w waiter, m message) {
	if m.err != nil {
		w.complete(m.err)
		return
	}
	if len(m.payload) > w.segs.TotalLen() {
		w.complete(comm.ErrTruncated)
		return
	}
	w.segs.CopyIn(m.payload)
	w.complete(nil)
}
