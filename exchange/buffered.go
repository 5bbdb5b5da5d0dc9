package exchange

import (
	"context"
	"fmt"

	"github.com/hupe1980/indexsync/comm"
	"github.com/hupe1980/indexsync/remote"
)

// slab is one peer's window into the two staging buffers, in bytes.
type slab struct {
	peer      int
	sendStart int
	sendLen   int
	recvStart int
	recvLen   int
}

// Buffered is a communicator that stages values through two contiguous
// byte buffers. Values are gathered into the send buffer, shipped as one
// tagged message per peer, and scattered out of the receive buffer as
// each peer's message arrives.
//
// A Buffered is built once per interface and reused for any number of
// forward and backward exchanges on containers of the same layout. It is
// not safe for concurrent use.
type Buffered[D, E any] struct {
	group  comm.Group
	policy Policy[D, E]
	codec  Codec[E]
	opts   Options

	iface   *remote.Interface
	slabs   []slab
	sendBuf []byte
	recvBuf []byte
	overlap bool
}

// NewBuffered creates an unbuilt communicator over the group.
func NewBuffered[D, E any](g comm.Group, policy Policy[D, E], codec Codec[E], optFns ...func(*Options)) *Buffered[D, E] {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = DefaultOptions().Logger
	}
	return &Buffered[D, E]{
		group:  g,
		policy: policy,
		codec:  codec,
		opts:   opts,
	}
}

// Build sizes and allocates the exchange plan for iface. It requires a
// fixed-count policy; variable-size containers need BuildVar.
func (c *Buffered[D, E]) Build(iface *remote.Interface) error {
	fixed, ok := c.policy.(Fixed)
	if !ok {
		return ErrNeedsRepresentatives
	}
	k := fixed.CountPerIndex()
	c.build(iface, func(info *remote.Info) (int, int) {
		return len(info.Send) * k, len(info.Recv) * k
	})
	return nil
}

// BuildVar sizes and allocates the exchange plan for iface using
// representative containers to determine the per-index element counts.
// Source sizes the send side, dest the receive side; every container
// used in later exchanges must have the same layout.
func (c *Buffered[D, E]) BuildVar(source, dest D, iface *remote.Interface) error {
	c.build(iface, func(info *remote.Info) (int, int) {
		nsend, nrecv := 0, 0
		for _, i := range info.Send {
			nsend += c.policy.Count(source, i)
		}
		for _, i := range info.Recv {
			nrecv += c.policy.Count(dest, i)
		}
		return nsend, nrecv
	})
	return nil
}

func (c *Buffered[D, E]) build(iface *remote.Interface, sizes func(*remote.Info) (nsend, nrecv int)) {
	c.Free()

	es := c.codec.Size()
	sendTotal, recvTotal := 0, 0
	sendPos := make(map[int]bool)
	recvPos := make(map[int]bool)

	for _, p := range iface.Peers() {
		info := iface.Info(p)
		nsend, nrecv := sizes(info)
		c.slabs = append(c.slabs, slab{
			peer:      p,
			sendStart: sendTotal,
			sendLen:   nsend * es,
			recvStart: recvTotal,
			recvLen:   nrecv * es,
		})
		sendTotal += nsend * es
		recvTotal += nrecv * es

		for _, i := range info.Send {
			sendPos[i] = true
			if recvPos[i] {
				c.overlap = true
			}
		}
		for _, i := range info.Recv {
			recvPos[i] = true
			if sendPos[i] {
				c.overlap = true
			}
		}
	}

	c.sendBuf = make([]byte, sendTotal)
	c.recvBuf = make([]byte, recvTotal)
	c.iface = iface
}

// Free releases the buffers and the plan. The communicator can be built
// again afterwards.
func (c *Buffered[D, E]) Free() {
	c.iface = nil
	c.slabs = nil
	c.sendBuf = nil
	c.recvBuf = nil
	c.overlap = false
}

// BufferBytes returns the staging buffer sizes of the current plan.
func (c *Buffered[D, E]) BufferBytes() (send, recv int) {
	return len(c.sendBuf), len(c.recvBuf)
}

// Forward sends from source to dest: values gathered at the send
// positions arrive at the peers' receive positions. Collective over the
// group.
func (c *Buffered[D, E]) Forward(ctx context.Context, gs GatherScatter[D, E], source, dest D) error {
	return c.sendRecv(ctx, gs, source, dest, true)
}

// Backward communicates in the reverse direction: values gathered at the
// receive positions of dest arrive at the send positions of source.
func (c *Buffered[D, E]) Backward(ctx context.Context, gs GatherScatter[D, E], source, dest D) error {
	return c.sendRecv(ctx, gs, dest, source, false)
}

// ForwardInPlace is Forward with source and destination aliased to the
// same container. The send and receive position sets should be disjoint
// unless self-overwrite is intended under the chosen GatherScatter; with
// checks enabled, overlap is rejected.
func (c *Buffered[D, E]) ForwardInPlace(ctx context.Context, gs GatherScatter[D, E], data D) error {
	if err := c.checkOverlap(); err != nil {
		return err
	}
	return c.sendRecv(ctx, gs, data, data, true)
}

// BackwardInPlace is Backward with source and destination aliased to the
// same container.
func (c *Buffered[D, E]) BackwardInPlace(ctx context.Context, gs GatherScatter[D, E], data D) error {
	if err := c.checkOverlap(); err != nil {
		return err
	}
	return c.sendRecv(ctx, gs, data, data, false)
}

func (c *Buffered[D, E]) checkOverlap() error {
	if c.opts.Checks && c.overlap {
		return fmt.Errorf("%w: in-place exchange with overlapping send and receive lists", ErrContract)
	}
	return nil
}

// sendRecv runs one collective exchange. src is gathered from, dst is
// scattered into; forward selects which half of the plan plays which
// role.
func (c *Buffered[D, E]) sendRecv(ctx context.Context, gs GatherScatter[D, E], src, dst D, forward bool) error {
	if c.iface == nil {
		return ErrNotBuilt
	}

	es := c.codec.Size()
	sendBuf, recvBuf := c.sendBuf, c.recvBuf
	if !forward {
		sendBuf, recvBuf = c.recvBuf, c.sendBuf
	}

	// Gather into the send buffer, peer slabs in plan order.
	for _, sl := range c.slabs {
		list, start, length := c.half(sl, forward)
		off := start
		for _, i := range list {
			n := c.policy.Count(src, i)
			for j := 0; j < n; j++ {
				if c.opts.Checks && off+es > start+length {
					return fmt.Errorf("%w: gather for peer %d exceeds %d-byte slab", ErrContract, sl.peer, length)
				}
				c.codec.Put(sendBuf[off:], gs.Gather(src, i, j))
				off += es
			}
		}
		if c.opts.Checks && off != start+length {
			return fmt.Errorf("%w: gather for peer %d wrote %d bytes of a %d-byte slab", ErrContract, sl.peer, off-start, length)
		}
	}

	// Receives first, then the sends.
	recvReqs := make([]*comm.Request, len(c.slabs))
	for k, sl := range c.slabs {
		_, start, length := c.half(sl, !forward)
		recvReqs[k] = c.group.Irecv(sl.peer, c.opts.Tag, recvBuf[start:start+length])
	}
	sendReqs := make([]*comm.Request, len(c.slabs))
	for k, sl := range c.slabs {
		_, start, length := c.half(sl, forward)
		sendReqs[k] = c.group.Isend(sl.peer, c.opts.Tag, sendBuf[start:start+length])
	}

	// Scatter each peer's slab as soon as its message arrives.
	success := true
	completed := comm.AsCompleted(ctx, recvReqs)
	for range recvReqs {
		var k int
		select {
		case <-ctx.Done():
			return ctx.Err()
		case k = <-completed:
		}
		sl := c.slabs[k]
		if err := recvReqs[k].Err(); err != nil {
			c.opts.Logger.Error("receive failed", "peer", sl.peer, "error", err)
			success = false
			continue
		}

		list, start, length := c.half(sl, !forward)
		off := start
		for _, i := range list {
			n := c.policy.Count(dst, i)
			for j := 0; j < n; j++ {
				if c.opts.Checks && off+es > start+length {
					return fmt.Errorf("%w: scatter from peer %d exceeds %d-byte slab", ErrContract, sl.peer, length)
				}
				gs.Scatter(dst, c.codec.Get(recvBuf[off:]), i, j)
				off += es
			}
		}
		if c.opts.Checks && off != start+length {
			return fmt.Errorf("%w: scatter from peer %d consumed %d bytes of a %d-byte slab", ErrContract, sl.peer, off-start, length)
		}
	}

	if err := comm.WaitAll(ctx, sendReqs); err != nil {
		c.opts.Logger.Error("send failed", "error", err)
		success = false
	}

	flag := int64(1)
	if !success {
		flag = 0
	}
	global, err := comm.AllReduceMin(ctx, c.group, flag)
	if err != nil {
		return fmt.Errorf("%w: success reduction: %w", ErrCommunication, err)
	}
	if global == 0 {
		return ErrCommunication
	}
	return nil
}

// half selects one direction of a slab: the send half when send is true,
// the receive half otherwise.
func (c *Buffered[D, E]) half(sl slab, send bool) (list []int, start, length int) {
	info := c.iface.Info(sl.peer)
	if send {
		return info.Send, sl.sendStart, sl.sendLen
	}
	return info.Recv, sl.recvStart, sl.recvLen
}
