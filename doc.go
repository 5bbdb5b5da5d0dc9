// Package indexsync synchronizes distributed indexed data structures
// across a group of cooperating processes.
//
// Each process owns a part of a globally indexed structure (a partitioned
// vector, block vector or matrix row set); some indices are shared with
// peers under attributes such as owner, copy or overlap. Indexsync keeps
// the shared entries consistent: it works out which local indices are
// mirrored where, derives a communication plan from attribute predicates,
// and executes forward and backward exchanges with user-defined
// gather/scatter semantics.
//
// # Layers
//
//   - index: global/local index bookkeeping per process (index.Set)
//   - remote: the peer intersection table (remote.RemoteIndices) and its
//     filtered projection into send/receive plans (remote.Interface)
//   - exchange: the communicators executing exchanges over a plan
//     (exchange.Buffered, exchange.Datatype)
//   - comm: the transport abstraction (comm.Group) with an in-process
//     world (comm/local) and a socket mesh (comm/netgroup)
//
// The root package ties these together behind a fluent builder.
//
// # Quick Start
//
// Describe the local partition, connect the peer group and build an
// exchanger:
//
//	set := index.NewSet()
//	set.Add(41, index.Owner)   // globally unique ids, local positions 0..N-1
//	set.Add(42, index.Copy)
//	set.Seal()
//
//	group, _ := netgroup.Dial(ctx, rank, addrs)
//
//	ex, _ := indexsync.For[[]float64, float64](group,
//	    exchange.SlicePolicy[float64]{}, exchange.Native[float64]{}).
//	    Source(index.AttrsOf(index.Owner)).
//	    Dest(index.AttrsOf(index.Copy)).
//	    Build(ctx, set, set)
//	defer ex.Close()
//
//	// Publish owner values into the peers' copies.
//	ex.ForwardInPlace(ctx, exchange.Copy[[]float64, float64]{P: exchange.SlicePolicy[float64]{}}, values)
//
// Forward conventionally moves values from owners to copies; Backward is
// the mirror direction, typically combined with an accumulating
// gather/scatter such as exchange.Add.
//
// All build operations and exchanges are collective: every rank of the
// group must call them in the same order.
package indexsync
