// Package indexsync provides the distributed index synchronization layer.
//
// This file implements the fluent builder API for creating and configuring
// exchangers. Builders are immutable - each method returns a new builder
// with the updated configuration.
package indexsync

import (
	"context"
	"time"

	"github.com/hupe1980/indexsync/comm"
	"github.com/hupe1980/indexsync/exchange"
	"github.com/hupe1980/indexsync/index"
	"github.com/hupe1980/indexsync/remote"
)

// For creates a builder for exchangers over containers of type D with
// primitive element type E. policy describes container access, codec the
// wire representation of one element.
//
// The builder is immutable - each method returns a new builder with the
// updated configuration. Defaults: source = owner, dest = copy+overlap,
// tag = exchange.DefaultTag, no logging, no metrics, no runtime checks.
//
// Example:
//
//	ex, err := indexsync.For[[]float64, float64](group,
//	    exchange.SlicePolicy[float64]{}, exchange.Native[float64]{}).
//	    Source(index.AttrsOf(index.Owner)).
//	    Dest(index.AttrsOf(index.Copy)).
//	    Checks().
//	    Build(ctx, set, set)
func For[D, E any](group comm.Group, policy exchange.Policy[D, E], codec exchange.Codec[E]) Builder[D, E] {
	return Builder[D, E]{
		group:   group,
		policy:  policy,
		codec:   codec,
		source:  index.AttrsOf(index.Owner),
		dest:    index.AttrsOf(index.Copy, index.Overlap),
		tag:     exchange.DefaultTag,
		logger:  NoopLogger(),
		metrics: NoopMetricsCollector{},
	}
}

// Builder is an immutable fluent builder for exchangers.
// Each method returns a new builder with the updated configuration.
type Builder[D, E any] struct {
	group   comm.Group
	policy  exchange.Policy[D, E]
	codec   exchange.Codec[E]
	source  index.AttrSet
	dest    index.AttrSet
	tag     int
	checks  bool
	logger  *Logger
	metrics MetricsCollector
	reps    *representatives[D]
}

type representatives[D any] struct {
	source D
	dest   D
}

// Source sets the attribute predicate selecting the indices whose values
// this rank publishes.
func (b Builder[D, E]) Source(s index.AttrSet) Builder[D, E] {
	b.source = s
	return b
}

// Dest sets the attribute predicate selecting the indices that receive
// peer values.
func (b Builder[D, E]) Dest(s index.AttrSet) Builder[D, E] {
	b.dest = s
	return b
}

// Tag sets the message tag of the exchanger's communicator. Two
// exchangers sharing one group concurrently need distinct tags.
func (b Builder[D, E]) Tag(tag int) Builder[D, E] {
	b.tag = tag
	return b
}

// Checks enables runtime contract checks (buffer bounds, layout totals,
// in-place overlap). Violations surface as errors instead of silent
// corruption; the price is a branch per staged element.
func (b Builder[D, E]) Checks() Builder[D, E] {
	b.checks = true
	return b
}

// Logger sets structured logging for operations. Pass nil to disable.
func (b Builder[D, E]) Logger(l *Logger) Builder[D, E] {
	if l == nil {
		l = NoopLogger()
	}
	b.logger = l
	return b
}

// Metrics sets a metrics collector. Pass nil to disable.
func (b Builder[D, E]) Metrics(mc MetricsCollector) Builder[D, E] {
	if mc == nil {
		mc = NoopMetricsCollector{}
	}
	b.metrics = mc
	return b
}

// Representatives provides containers used to size the exchange plan.
// Required for variable-size policies; every container used in later
// exchanges must have the same layout as the representatives.
func (b Builder[D, E]) Representatives(source, dest D) Builder[D, E] {
	b.reps = &representatives[D]{source: source, dest: dest}
	return b
}

// Build runs the collective topology construction over the group and
// returns a ready exchanger. localSet describes this rank's indices,
// remoteSet the set it advertises to peers (the same set in the common
// symmetric case). Every rank must call Build with consistent inputs.
func (b Builder[D, E]) Build(ctx context.Context, localSet, remoteSet *index.Set) (*Exchanger[D, E], error) {
	e := &Exchanger[D, E]{
		cfg:    b,
		logger: b.logger.WithRank(b.group.Rank()),
	}
	if err := e.build(ctx, localSet, remoteSet); err != nil {
		return nil, err
	}
	return e, nil
}

// build runs one collective construction; shared by Build and Rebuild.
func (e *Exchanger[D, E]) build(ctx context.Context, localSet, remoteSet *index.Set) error {
	b := e.cfg
	start := time.Now()

	ri, err := remote.Build(ctx, b.group, localSet, remoteSet, func(o *remote.Options) {
		o.Logger = b.logger.Logger
	})
	if err != nil {
		err = translateError(err)
		b.metrics.RecordBuild(0, time.Since(start), err)
		e.logger.LogBuild(ctx, 0, err)
		return err
	}
	iface := remote.NewInterface(ri, b.source, b.dest)

	buffered := exchange.NewBuffered[D, E](b.group, b.policy, b.codec, func(o *exchange.Options) {
		o.Tag = b.tag
		o.Checks = b.checks
		o.Logger = b.logger.Logger
	})
	if b.reps != nil {
		err = buffered.BuildVar(b.reps.source, b.reps.dest, iface)
	} else {
		err = buffered.Build(iface)
	}
	if err != nil {
		b.metrics.RecordBuild(0, time.Since(start), err)
		e.logger.LogBuild(ctx, 0, err)
		return err
	}

	e.ri = ri
	e.iface = iface
	e.buffered = buffered

	b.metrics.RecordBuild(len(iface.Peers()), time.Since(start), nil)
	e.logger.LogBuild(ctx, len(iface.Peers()), nil)
	return nil
}
