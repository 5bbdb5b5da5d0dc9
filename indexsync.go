package indexsync

import (
	"context"
	"io"
	"time"

	"github.com/hupe1980/indexsync/exchange"
	"github.com/hupe1980/indexsync/index"
	"github.com/hupe1980/indexsync/remote"
)

// Exchanger owns one synchronization plan: the peer intersection table,
// the attribute-filtered interface and a buffered communicator over it.
// It is created with For(...).Build(...) and reused for any number of
// exchanges until the topology changes (Rebuild) or it is closed.
//
// An Exchanger is not safe for concurrent use; exchanges are collective
// and must run in the same order on every rank.
type Exchanger[D, E any] struct {
	cfg    Builder[D, E]
	logger *Logger

	ri       *remote.RemoteIndices
	iface    *remote.Interface
	buffered *exchange.Buffered[D, E]
	closed   bool
}

// Forward sends from source to dest: values gathered at this rank's send
// positions arrive at the peers' receive positions. Collective over the
// group.
func (e *Exchanger[D, E]) Forward(ctx context.Context, gs exchange.GatherScatter[D, E], source, dest D) error {
	if e.closed {
		return ErrClosed
	}
	return e.record(ctx, DirectionForward, func() error {
		return e.buffered.Forward(ctx, gs, source, dest)
	})
}

// Backward communicates in the reverse direction: from dest back to
// source, typically with an accumulating gather/scatter.
func (e *Exchanger[D, E]) Backward(ctx context.Context, gs exchange.GatherScatter[D, E], source, dest D) error {
	if e.closed {
		return ErrClosed
	}
	return e.record(ctx, DirectionBackward, func() error {
		return e.buffered.Backward(ctx, gs, source, dest)
	})
}

// ForwardInPlace is Forward with source and destination aliased to the
// same container. The send and receive position sets should be disjoint
// unless self-overwrite is intended under the chosen gather/scatter.
func (e *Exchanger[D, E]) ForwardInPlace(ctx context.Context, gs exchange.GatherScatter[D, E], data D) error {
	if e.closed {
		return ErrClosed
	}
	return e.record(ctx, DirectionForward, func() error {
		return e.buffered.ForwardInPlace(ctx, gs, data)
	})
}

// BackwardInPlace is Backward with source and destination aliased to the
// same container.
func (e *Exchanger[D, E]) BackwardInPlace(ctx context.Context, gs exchange.GatherScatter[D, E], data D) error {
	if e.closed {
		return ErrClosed
	}
	return e.record(ctx, DirectionBackward, func() error {
		return e.buffered.BackwardInPlace(ctx, gs, data)
	})
}

func (e *Exchanger[D, E]) record(ctx context.Context, d Direction, fn func() error) error {
	start := time.Now()
	err := translateExchangeError(d, fn())
	send, recv := e.buffered.BufferBytes()
	e.cfg.metrics.RecordExchange(d, send+recv, time.Since(start), err)
	e.logger.LogExchange(ctx, d, send+recv, err)
	return err
}

// Datatype builds a zero-copy communicator bound to the given containers
// over this exchanger's interface. It uses the next tag after the
// exchanger's own, so both can share the group. The caller owns the
// returned communicator and must Free it.
func (e *Exchanger[D, E]) Datatype(sendData, recvData D) (*exchange.Datatype[D, E], error) {
	if e.closed {
		return nil, ErrClosed
	}
	c := exchange.NewDatatype[D, E](e.cfg.group, e.cfg.policy, func(o *exchange.Options) {
		o.Tag = e.cfg.tag + 1
		o.Checks = e.cfg.checks
		o.Logger = e.logger.Logger
	})
	if err := c.Build(e.iface, sendData, recvData); err != nil {
		return nil, err
	}
	return c, nil
}

// RemoteIndices exposes the underlying peer intersection table.
func (e *Exchanger[D, E]) RemoteIndices() *remote.RemoteIndices {
	return e.ri
}

// Interface exposes the underlying communication plan.
func (e *Exchanger[D, E]) Interface() *remote.Interface {
	return e.iface
}

// Rebuild discards the current plan and runs the collective construction
// again with new index sets. Collective over the group.
func (e *Exchanger[D, E]) Rebuild(ctx context.Context, localSet, remoteSet *index.Set) error {
	if e.closed {
		return ErrClosed
	}
	e.buffered.Free()
	if err := e.build(ctx, localSet, remoteSet); err != nil {
		return err
	}
	e.logger.LogRebuild(ctx, len(e.iface.Peers()), nil)
	return nil
}

// DumpPlan writes a compressed diagnostic snapshot of this rank's
// topology bookkeeping and plan to w.
func (e *Exchanger[D, E]) DumpPlan(w io.Writer) error {
	if e.closed {
		return ErrClosed
	}
	return remote.DumpPlan(w, e.ri, e.iface)
}

// Close releases the plan. The exchanger cannot be used afterwards.
func (e *Exchanger[D, E]) Close() error {
	if e.closed {
		return nil
	}
	e.buffered.Free()
	e.closed = true
	e.cfg.metrics.RecordClose()
	e.logger.LogClose(context.Background())
	return nil
}
