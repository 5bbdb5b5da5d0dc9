package comm

import (
	"context"
	"encoding/binary"
	"fmt"
)

// tagAllReduce is the reserved tag for the min reduction. See the package
// comment for the reserved tag range.
const tagAllReduce = 224

// AllReduceMin reduces v with MIN across the whole group and returns the
// result on every rank. It is collective: every rank of the group must
// call it, in the same program-order position.
//
// The reduction is a gather to rank 0 followed by a broadcast.
func AllReduceMin(ctx context.Context, g Group, v int64) (int64, error) {
	if g.Size() == 1 {
		return v, nil
	}

	var out [8]byte
	binary.LittleEndian.PutUint64(out[:], uint64(v))

	if g.Rank() == 0 {
		in := make([][8]byte, g.Size()-1)
		recvs := make([]*Request, 0, g.Size()-1)
		for p := 1; p < g.Size(); p++ {
			recvs = append(recvs, g.Irecv(p, tagAllReduce, in[p-1][:]))
		}
		if err := WaitAll(ctx, recvs); err != nil {
			return 0, fmt.Errorf("allreduce gather: %w", err)
		}

		min := v
		for i := range in {
			if w := int64(binary.LittleEndian.Uint64(in[i][:])); w < min {
				min = w
			}
		}

		binary.LittleEndian.PutUint64(out[:], uint64(min))
		sends := make([]*Request, 0, g.Size()-1)
		for p := 1; p < g.Size(); p++ {
			sends = append(sends, g.Isend(p, tagAllReduce, out[:]))
		}
		if err := WaitAll(ctx, sends); err != nil {
			return 0, fmt.Errorf("allreduce broadcast: %w", err)
		}
		return min, nil
	}

	var in [8]byte
	send := g.Isend(0, tagAllReduce, out[:])
	recv := g.Irecv(0, tagAllReduce, in[:])
	if err := WaitAll(ctx, []*Request{send, recv}); err != nil {
		return 0, fmt.Errorf("allreduce rank %d: %w", g.Rank(), err)
	}
	return int64(binary.LittleEndian.Uint64(in[:])), nil
}
