// Package local provides an in-process peer group. Every rank lives in
// the same address space and exchanges messages through per-pair FIFO
// pipes, which keeps the (source, tag) ordering of a real transport.
//
// The package exists for tests and single-machine experiments: worlds are
// cheap, deterministic and support fault and latency injection per
// directed pair.
package local

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/indexsync/comm"
	"github.com/hupe1980/indexsync/internal/mailbox"
)

type pair struct {
	from, to int
}

type pairTag struct {
	from, to, tag int
}

// Option configures a World.
type Option func(*World)

// WithDelay delays every message on the directed pair from->to by d.
// Ordering within the pair is preserved.
func WithDelay(from, to int, d time.Duration) Option {
	return func(w *World) {
		w.delays[pair{from: from, to: to}] = d
	}
}

// WithSendError fails every send on (from, to, tag) with err. The message
// is not delivered.
func WithSendError(from, to, tag int, err error) Option {
	return func(w *World) {
		w.sendErrs[pairTag{from: from, to: to, tag: tag}] = err
	}
}

// WithRecvError delivers every message on (from, to, tag) as a transport
// failure: the matching receive completes with err.
func WithRecvError(from, to, tag int, err error) Option {
	return func(w *World) {
		w.recvErrs[pairTag{from: from, to: to, tag: tag}] = err
	}
}

// World is a set of in-process ranks. Group hands out the per-rank view.
type World struct {
	size   int
	groups []*Group

	delays   map[pair]time.Duration
	sendErrs map[pairTag]error
	recvErrs map[pairTag]error

	mu     sync.Mutex
	pipes  map[pair]*pipe
	closed bool
}

// NewWorld creates a world with size ranks.
func NewWorld(size int, opts ...Option) *World {
	w := &World{
		size:     size,
		delays:   make(map[pair]time.Duration),
		sendErrs: make(map[pairTag]error),
		recvErrs: make(map[pairTag]error),
		pipes:    make(map[pair]*pipe),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.groups = make([]*Group, size)
	for r := range w.groups {
		w.groups[r] = &Group{world: w, rank: r, box: mailbox.New()}
	}
	return w
}

// Group returns the group handle of rank.
func (w *World) Group(rank int) *Group {
	return w.groups[rank]
}

// Run executes fn once per rank, each on its own goroutine, and waits for
// all of them. The first error cancels nothing (collectives must drain on
// their own) but is returned.
func (w *World) Run(fn func(g *Group) error) error {
	var eg errgroup.Group
	for r := 0; r < w.size; r++ {
		g := w.groups[r]
		eg.Go(func() error {
			if err := fn(g); err != nil {
				return fmt.Errorf("rank %d: %w", g.rank, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// Close stops the delivery pipes. Messages still in flight are dropped.
func (w *World) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	for _, p := range w.pipes {
		p.close()
	}
	return nil
}

func (w *World) pipe(from, to int) *pipe {
	k := pair{from: from, to: to}
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.pipes[k]
	if !ok {
		p = newPipe(w.delays[k], w.groups[to].box, from)
		w.pipes[k] = p
	}
	return p
}

// Group is one rank's view of a World. It implements comm.Group.
type Group struct {
	world *World
	rank  int
	box   *mailbox.Box
}

var _ comm.Group = (*Group)(nil)

// Rank returns the rank of this group handle.
func (g *Group) Rank() int { return g.rank }

// Size returns the number of ranks in the world.
func (g *Group) Size() int { return g.world.size }

// Isend sends a copy of buf to dest. The request completes as soon as the
// message is queued for delivery.
func (g *Group) Isend(dest, tag int, buf []byte) *comm.Request {
	return g.send(dest, tag, comm.Segments{buf})
}

// Irecv posts a receive from src into buf.
func (g *Group) Irecv(src, tag int, buf []byte) *comm.Request {
	return g.box.Receive(src, tag, comm.Segments{buf})
}

// SendInit creates a persistent send gathering segs on every Start.
func (g *Group) SendInit(dest, tag int, segs comm.Segments) *comm.Persistent {
	return comm.NewPersistent(func() *comm.Request {
		return g.send(dest, tag, segs)
	})
}

// RecvInit creates a persistent receive scattering into segs on every
// Start.
func (g *Group) RecvInit(src, tag int, segs comm.Segments) *comm.Persistent {
	return comm.NewPersistent(func() *comm.Request {
		return g.box.Receive(src, tag, segs)
	})
}

func (g *Group) send(dest, tag int, segs comm.Segments) *comm.Request {
	w := g.world
	if err := w.sendErrs[pairTag{from: g.rank, to: dest, tag: tag}]; err != nil {
		return comm.CompletedRequest(err)
	}
	it := item{tag: tag, payload: segs.Flatten()}
	if err := w.recvErrs[pairTag{from: g.rank, to: dest, tag: tag}]; err != nil {
		it.err = err
	}
	w.pipe(g.rank, dest).enqueue(it)
	return comm.CompletedRequest(nil)
}

type item struct {
	tag     int
	payload []byte
	err     error
}

// pipe is an unbounded FIFO from one rank to another with an optional
// fixed delay. A single goroutine drains it, preserving order.
type pipe struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []item
	closed bool
}

func newPipe(delay time.Duration, box *mailbox.Box, src int) *pipe {
	p := &pipe{}
	p.cond = sync.NewCond(&p.mu)
	go p.drain(delay, box, src)
	return p
}

func (p *pipe) enqueue(it item) {
	p.mu.Lock()
	if !p.closed {
		p.queue = append(p.queue, it)
		p.cond.Signal()
	}
	p.mu.Unlock()
}

func (p *pipe) close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Signal()
	p.mu.Unlock()
}

func (p *pipe) drain(delay time.Duration, box *mailbox.Box, src int) {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.closed {
			p.mu.Unlock()
			return
		}
		it := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}
		box.Deliver(src, it.tag, it.payload, it.err)
	}
}
