// Package remote derives the peer-to-peer bookkeeping of a partitioned
// index universe: which of this process' local indices are also held by
// which peer, and under which attributes (RemoteIndices), and the filtered
// send/receive plans built from that bookkeeping (Interface).
package remote

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/indexsync/comm"
	"github.com/hupe1980/indexsync/index"
)

// ErrTopologyMismatch indicates that the collective build observed
// inconsistent inputs across the group. The instance that returned it is
// unusable; rebuild with consistent index sets.
var ErrTopologyMismatch = errors.New("remote: inconsistent topology across peer group")

// RemoteIndex records one local index that a peer also holds.
type RemoteIndex struct {
	// Global is the cluster-wide identifier of the entry.
	Global index.Global
	// LocalPos is the entry's position in the local container.
	LocalPos int
	// LocalAttr is the attribute this process assigns to the entry.
	LocalAttr index.Attribute
	// RemoteAttr is the attribute the peer assigns to the entry.
	RemoteAttr index.Attribute
}

// Options configure Build.
type Options struct {
	// Logger receives build progress events. Defaults to a discarding
	// logger.
	Logger *slog.Logger
}

// RemoteIndices maps peer ranks to the sorted lists of local indices they
// also hold. It is immutable once built; when the underlying index sets
// change, run Build again.
type RemoteIndices struct {
	group      comm.Group
	peers      []int
	lists      map[int][]RemoteIndex
	local      *index.Set
	advertised *index.Set
}

// Build constructs the RemoteIndices of this process. It is collective:
// every rank of the group must call it with consistent index sets.
//
// localSet describes the indices this process holds; remoteSet is the set
// it advertises to peers (the same set in the common symmetric case). A
// peer appears in the result iff its advertised set intersects localSet.
//
// The build runs in three rounds: membership bitmaps are exchanged to
// find candidate peers, full (global, attribute) streams are exchanged
// with the candidates and merged against localSet, and finally the
// resulting cardinalities are cross-checked. Any disagreement surfaces as
// ErrTopologyMismatch on every rank.
func Build(ctx context.Context, g comm.Group, localSet, remoteSet *index.Set, optFns ...func(*Options)) (*RemoteIndices, error) {
	opts := Options{Logger: slog.New(slog.DiscardHandler)}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	logger := opts.Logger.With("rank", g.Rank())

	if !localSet.Sealed() || !remoteSet.Sealed() {
		return nil, index.ErrNotSealed
	}

	localBM := localSet.Bitmap()
	advBM := remoteSet.Bitmap()

	// Round 1: membership bitmaps, full pairwise.
	bitmapPair, err := encodeBitmapPair(localBM, advBM)
	if err != nil {
		return nil, fmt.Errorf("remote: encode bitmaps: %w", err)
	}
	bitmapBlob := compressBlob(bitmapPair)

	var sends []*comm.Request
	for p := 0; p < g.Size(); p++ {
		if p == g.Rank() {
			continue
		}
		sends = append(sends, sendBlob(g, p, tagBitmapHdr, tagBitmapBody, bitmapBlob)...)
	}

	peerLocal := make(map[int]*roaring64.Bitmap)
	peerAdv := make(map[int]*roaring64.Bitmap)
	for p := 0; p < g.Size(); p++ {
		if p == g.Rank() {
			continue
		}
		blob, err := recvBlob(ctx, g, p, tagBitmapHdr, tagBitmapBody)
		if err != nil {
			return nil, err
		}
		raw, err := decompressBlob(blob)
		if err != nil {
			return nil, err
		}
		pl, pa, err := decodeBitmapPair(raw)
		if err != nil {
			return nil, err
		}
		peerLocal[p], peerAdv[p] = pl, pa
	}

	sendTo := make(map[int]bool)
	recvFrom := make(map[int]bool)
	for p := 0; p < g.Size(); p++ {
		if p == g.Rank() {
			continue
		}
		s := advBM.Clone()
		s.And(peerLocal[p])
		sendTo[p] = !s.IsEmpty()

		r := peerAdv[p].Clone()
		r.And(localBM)
		recvFrom[p] = !r.IsEmpty()
	}

	// Round 2: full index streams with the candidates only.
	streamBlob := compressBlob(encodeEntryStream(remoteSet))
	for p := 0; p < g.Size(); p++ {
		if sendTo[p] {
			sends = append(sends, sendBlob(g, p, tagStreamHdr, tagStreamBody, streamBlob)...)
		}
	}

	lists := make(map[int][]RemoteIndex)
	for p := 0; p < g.Size(); p++ {
		if !recvFrom[p] {
			continue
		}
		blob, err := recvBlob(ctx, g, p, tagStreamHdr, tagStreamBody)
		if err != nil {
			return nil, err
		}
		raw, err := decompressBlob(blob)
		if err != nil {
			return nil, err
		}
		entries, err := decodeEntryStream(raw)
		if err != nil {
			return nil, err
		}
		if list := mergeStream(localSet, entries); len(list) > 0 {
			lists[p] = list
		}
	}

	if err := comm.WaitAll(ctx, sends); err != nil {
		return nil, fmt.Errorf("remote: metadata exchange: %w", err)
	}

	// Round 3: cardinality cross-check against the bitmaps.
	consistent := verifyCardinalities(ctx, g, lists, peerLocal, advBM, sendTo, recvFrom)

	success := int64(1)
	if !consistent {
		success = 0
	}
	global, err := comm.AllReduceMin(ctx, g, success)
	if err != nil {
		return nil, fmt.Errorf("remote: build reduction: %w", err)
	}
	if global == 0 {
		return nil, ErrTopologyMismatch
	}

	peers := make([]int, 0, len(lists))
	for p := range lists {
		peers = append(peers, p)
	}
	sort.Ints(peers)

	logger.Debug("remote indices built", "peers", len(peers))

	return &RemoteIndices{
		group:      g,
		peers:      peers,
		lists:      lists,
		local:      localSet,
		advertised: remoteSet,
	}, nil
}

// mergeStream intersects a peer's advertised stream with the local set by
// linear merge; both sides are in ascending Global order.
func mergeStream(local *index.Set, entries []streamEntry) []RemoteIndex {
	var out []RemoteIndex
	j := 0
	for e := range local.All() {
		for j < len(entries) && entries[j].global < e.Global {
			j++
		}
		if j == len(entries) {
			break
		}
		if entries[j].global == e.Global {
			out = append(out, RemoteIndex{
				Global:     e.Global,
				LocalPos:   e.Local.Pos,
				LocalAttr:  e.Local.Attr,
				RemoteAttr: entries[j].attr,
			})
			j++
		}
	}
	return out
}

// verifyCardinalities exchanges per-peer intersection counts and checks
// them against what the bitmaps promise. An inconsistency means the
// bitmaps and streams of some rank disagree, i.e. the collective inputs
// were not consistent.
func verifyCardinalities(ctx context.Context, g comm.Group, lists map[int][]RemoteIndex,
	peerLocal map[int]*roaring64.Bitmap, advBM *roaring64.Bitmap, sendTo, recvFrom map[int]bool) bool {

	peers := make([]int, 0, len(sendTo)+len(recvFrom))
	for p := 0; p < g.Size(); p++ {
		if sendTo[p] || recvFrom[p] {
			peers = append(peers, p)
		}
	}

	claims := make([][]byte, len(peers))
	reqs := make([]*comm.Request, 0, 2*len(peers))
	incoming := make([][8]byte, len(peers))
	for i, p := range peers {
		claims[i] = make([]byte, 8)
		binary.LittleEndian.PutUint64(claims[i], uint64(len(lists[p])))
		reqs = append(reqs, g.Isend(p, tagCheck, claims[i]))
		reqs = append(reqs, g.Irecv(p, tagCheck, incoming[i][:]))
	}
	if comm.WaitAll(ctx, reqs) != nil {
		return false
	}

	for i, p := range peers {
		expected := peerLocal[p].Clone()
		expected.And(advBM)
		if binary.LittleEndian.Uint64(incoming[i][:]) != expected.GetCardinality() {
			return false
		}
	}
	return true
}

// Group returns the peer group the indices were built over.
func (r *RemoteIndices) Group() comm.Group {
	return r.group
}

// Peers returns the ranks with non-empty intersections, ascending.
func (r *RemoteIndices) Peers() []int {
	return r.peers
}

// List returns the peer's remote index list in ascending Global order.
// The returned slice is shared; callers must not modify it.
func (r *RemoteIndices) List(peer int) []RemoteIndex {
	return r.lists[peer]
}

// LocalSet returns the local index set the indices were built from.
func (r *RemoteIndices) LocalSet() *index.Set {
	return r.local
}

func (r *RemoteIndices) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "remote indices of rank %d:\n", r.group.Rank())
	for _, p := range r.peers {
		fmt.Fprintf(&b, "  peer %d:", p)
		for _, ri := range r.lists[p] {
			fmt.Fprintf(&b, " %d@%d(%s/%s)", uint64(ri.Global), ri.LocalPos, ri.LocalAttr, ri.RemoteAttr)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
