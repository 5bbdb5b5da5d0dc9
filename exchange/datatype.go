package exchange

import (
	"context"
	"fmt"

	"github.com/hupe1980/indexsync/comm"
	"github.com/hupe1980/indexsync/remote"
)

// Datatype is a communicator that binds persistent transfers directly to
// the non-contiguous storage of two containers. The byte footprint of
// every listed position is recorded once at build time; each exchange
// just restarts the prepared requests, so no staging copies are made on
// this side of the transport.
//
// The price is that the containers are fixed at build time: Forward and
// Backward always exchange between the bound sendData and recvData.
// Rebind by building again.
type Datatype[D, E any] struct {
	group  comm.Group
	policy Policy[D, E]
	opts   Options

	fwdSend []*comm.Persistent
	fwdRecv []*comm.Persistent
	bwdSend []*comm.Persistent
	bwdRecv []*comm.Persistent
	built   bool
}

// NewDatatype creates an unbuilt communicator over the group.
func NewDatatype[D, E any](g comm.Group, policy Policy[D, E], optFns ...func(*Options)) *Datatype[D, E] {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = DefaultOptions().Logger
	}
	return &Datatype[D, E]{
		group:  g,
		policy: policy,
		opts:   opts,
	}
}

// Build records the storage footprint of both containers under iface and
// creates the persistent request sets for both directions. The containers
// must stay alive and keep their layout until Free.
func (c *Datatype[D, E]) Build(iface *remote.Interface, sendData, recvData D) error {
	c.Free()

	for _, p := range iface.Peers() {
		info := iface.Info(p)
		sendSegs := comm.Segments(segmentsOf(c.policy, sendData, info.Send))
		recvSegs := comm.Segments(segmentsOf(c.policy, recvData, info.Recv))

		c.fwdRecv = append(c.fwdRecv, c.group.RecvInit(p, c.opts.Tag, recvSegs))
		c.fwdSend = append(c.fwdSend, c.group.SendInit(p, c.opts.Tag, sendSegs))
		c.bwdRecv = append(c.bwdRecv, c.group.RecvInit(p, c.opts.Tag, sendSegs))
		c.bwdSend = append(c.bwdSend, c.group.SendInit(p, c.opts.Tag, recvSegs))
	}
	c.built = true
	return nil
}

// Free releases the persistent requests.
func (c *Datatype[D, E]) Free() {
	for _, set := range [][]*comm.Persistent{c.fwdSend, c.fwdRecv, c.bwdSend, c.bwdRecv} {
		for _, p := range set {
			p.Free()
		}
	}
	c.fwdSend, c.fwdRecv, c.bwdSend, c.bwdRecv = nil, nil, nil, nil
	c.built = false
}

// Forward ships the send-list values of the bound sendData into the
// peers' receive lists of their bound recvData. Collective over the
// group.
func (c *Datatype[D, E]) Forward(ctx context.Context) error {
	return c.sendRecv(ctx, c.fwdRecv, c.fwdSend)
}

// Backward communicates in the reverse direction: recvData's receive
// lists feed the peers' send lists of their sendData.
func (c *Datatype[D, E]) Backward(ctx context.Context) error {
	return c.sendRecv(ctx, c.bwdRecv, c.bwdSend)
}

func (c *Datatype[D, E]) sendRecv(ctx context.Context, recvs, sends []*comm.Persistent) error {
	if !c.built {
		return ErrNotBuilt
	}

	for _, r := range recvs {
		r.Start()
	}
	for _, s := range sends {
		s.Start()
	}

	success := true
	for _, s := range sends {
		if err := s.Wait(ctx); err != nil {
			c.opts.Logger.Error("persistent send failed", "error", err)
			success = false
		}
	}
	for _, r := range recvs {
		if err := r.Wait(ctx); err != nil {
			c.opts.Logger.Error("persistent receive failed", "error", err)
			success = false
		}
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
