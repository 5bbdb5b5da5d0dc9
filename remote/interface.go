package remote

import (
	"fmt"
	"strings"

	"github.com/hupe1980/indexsync/comm"
	"github.com/hupe1980/indexsync/index"
)

// Info holds the two ordered position lists of one interface entry: the
// local positions whose values go to the peer and the local positions that
// receive the peer's values.
//
// Both lists keep the Global merge order, which is what lets the two
// endpoints of an exchange agree on the meaning of the i-th slot without
// ever transmitting index metadata.
type Info struct {
	Send []int
	Recv []int
}

// Interface is the communication plan derived from RemoteIndices by
// attribute filtering: per peer, which local positions to send and which
// to receive. It is immutable and stays valid until the RemoteIndices it
// was built from are rebuilt.
//
// An Interface with no peers is valid and describes a no-op exchange.
type Interface struct {
	group comm.Group
	peers []int
	info  map[int]*Info
}

// NewInterface projects ri through two attribute predicates. A remote
// index entry contributes its position to the send list when its local
// attribute is in source and its remote attribute in dest, and to the
// receive list with the roles swapped. Peers contributing to neither list
// are omitted.
//
// With source == dest on all ranks the resulting plans are symmetric:
// this rank's send list projects to the same Global sequence as the
// peer's receive list, in the same order.
func NewInterface(ri *RemoteIndices, source, dest index.AttrSet) *Interface {
	iface := &Interface{
		group: ri.Group(),
		info:  make(map[int]*Info),
	}
	for _, p := range ri.Peers() {
		var info Info
		for _, rix := range ri.List(p) {
			if source.Contains(rix.LocalAttr) && dest.Contains(rix.RemoteAttr) {
				info.Send = append(info.Send, rix.LocalPos)
			}
			if dest.Contains(rix.LocalAttr) && source.Contains(rix.RemoteAttr) {
				info.Recv = append(info.Recv, rix.LocalPos)
			}
		}
		if len(info.Send) > 0 || len(info.Recv) > 0 {
			iface.peers = append(iface.peers, p)
			iface.info[p] = &info
		}
	}
	return iface
}

// Group returns the peer group of the underlying RemoteIndices.
func (i *Interface) Group() comm.Group {
	return i.group
}

// Peers returns the participating ranks, ascending.
func (i *Interface) Peers() []int {
	return i.peers
}

// Info returns the plan entry for peer, or nil if the peer does not
// participate. The entry is shared; callers must not modify it.
func (i *Interface) Info(peer int) *Info {
	return i.info[peer]
}

func (i *Interface) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "interface of rank %d:\n", i.group.Rank())
	for _, p := range i.peers {
		fmt.Fprintf(&b, "  peer %d: send %v recv %v\n", p, i.info[p].Send, i.info[p].Recv)
	}
	return b.String()
}
