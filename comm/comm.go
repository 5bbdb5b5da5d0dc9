// Package comm defines the peer-group abstraction the synchronization
// layer communicates through: ranked process groups with non-blocking
// tagged point-to-point byte transfers, persistent requests and a small
// set of collectives.
//
// Transports implement Group; see comm/local for an in-process group and
// comm/netgroup for a socket mesh.
//
// Tags 224 through 233 are reserved for internal protocols (collectives
// and topology construction). User exchanges should use tags outside that
// range.
package comm

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrTruncated is reported by a receive whose posted buffer was too
	// small for the arriving message.
	ErrTruncated = errors.New("message truncated: receive buffer too small")
	// ErrNotStarted is reported when a persistent request is waited on
	// before Start.
	ErrNotStarted = errors.New("persistent request not started")
	// ErrFreed is reported when a freed persistent request is started.
	ErrFreed = errors.New("persistent request freed")
)

// Group is a set of cooperating processes. Rank identifies the calling
// process within the group; ranks are dense in 0..Size-1.
//
// All operations are non-blocking: they return a request handle that
// completes asynchronously. Message matching is by (source, tag) in
// posting order.
type Group interface {
	Rank() int
	Size() int

	// Isend starts a non-blocking send of buf to dest. The caller must
	// not modify buf until the request completes.
	Isend(dest, tag int, buf []byte) *Request

	// Irecv starts a non-blocking receive from src into buf. The request
	// fails with ErrTruncated if the matched message exceeds len(buf).
	Irecv(src, tag int, buf []byte) *Request

	// SendInit creates a persistent send over a non-contiguous segment
	// list. Each Start transfers the current contents of the segments.
	SendInit(dest, tag int, segs Segments) *Persistent

	// RecvInit creates a persistent receive scattering into the segment
	// list.
	RecvInit(src, tag int, segs Segments) *Persistent
}

// Request is the completion handle of one non-blocking operation.
type Request struct {
	done chan struct{}
	err  error
}

// NewRequest returns a pending request together with its completion
// function. Transports call the completion function exactly once; extra
// calls are ignored.
func NewRequest() (*Request, func(error)) {
	r := &Request{done: make(chan struct{})}
	var once sync.Once
	complete := func(err error) {
		once.Do(func() {
			r.err = err
			close(r.done)
		})
	}
	return r, complete
}

// CompletedRequest returns a request that already finished with err.
func CompletedRequest(err error) *Request {
	r, complete := NewRequest()
	complete(err)
	return r
}

// Done returns a channel closed when the operation finishes.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Err returns the operation's result. Valid only after Done is closed;
// before that it returns nil.
func (r *Request) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Wait blocks until the operation finishes or ctx is canceled.
func (r *Request) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Persistent is a reusable request. It captures the parameters of an
// operation once and can be started any number of times; each Start posts
// one transfer.
type Persistent struct {
	start func() *Request
	cur   *Request
}

// NewPersistent wraps a post function into a persistent request.
// Transports use this to implement SendInit and RecvInit.
func NewPersistent(start func() *Request) *Persistent {
	return &Persistent{start: start}
}

// Start posts one transfer.
func (p *Persistent) Start() {
	if p.start == nil {
		p.cur = CompletedRequest(ErrFreed)
		return
	}
	p.cur = p.start()
}

// Wait blocks until the most recently started transfer finishes.
func (p *Persistent) Wait(ctx context.Context) error {
	if p.cur == nil {
		return ErrNotStarted
	}
	return p.cur.Wait(ctx)
}

// Free releases the request. Subsequent Starts fail with ErrFreed.
func (p *Persistent) Free() {
	p.start = nil
	p.cur = nil
}

// Segments is an ordered list of byte ranges forming the non-contiguous
// footprint of a message.
type Segments [][]byte

// TotalLen returns the summed length of all segments.
func (s Segments) TotalLen() int {
	n := 0
	for _, seg := range s {
		n += len(seg)
	}
	return n
}

// CopyOut gathers the segments into dst and returns the number of bytes
// written.
func (s Segments) CopyOut(dst []byte) int {
	n := 0
	for _, seg := range s {
		n += copy(dst[n:], seg)
	}
	return n
}

// CopyIn scatters src across the segments in order and returns the number
// of bytes consumed.
func (s Segments) CopyIn(src []byte) int {
	n := 0
	for _, seg := range s {
		n += copy(seg, src[n:])
	}
	return n
}

// Flatten gathers the segments into a freshly allocated contiguous buffer.
func (s Segments) Flatten() []byte {
	buf := make([]byte, s.TotalLen())
	s.CopyOut(buf)
	return buf
}
