package netgroup

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/indexsync/comm"
)

// reserveAddrs grabs n free loopback ports. The listeners are closed
// again, so there is a small window in which the port could be stolen;
// acceptable for tests.
func reserveAddrs(t *testing.T, n int, scheme string) []string {
	t.Helper()
	addrs := make([]string, n)
	for i := range addrs {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		switch scheme {
		case "tcp":
			addrs[i] = fmt.Sprintf("tcp://%s", ln.Addr().String())
		case "ws":
			addrs[i] = fmt.Sprintf("ws://%s/mesh", ln.Addr().String())
		}
		ln.Close()
	}
	return addrs
}

func dialWorld(t *testing.T, addrs []string) []*Group {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	groups := make([]*Group, len(addrs))
	var eg errgroup.Group
	for r := range addrs {
		eg.Go(func() error {
			g, err := Dial(ctx, r, addrs)
			if err != nil {
				return err
			}
			groups[r] = g
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	t.Cleanup(func() {
		for _, g := range groups {
			g.Close()
		}
	})
	return groups
}

func TestSplitAddr(t *testing.T) {
	tests := []struct {
		addr     string
		scheme   string
		hostport string
		path     string
	}{
		{"tcp://127.0.0.1:9000", "tcp", "127.0.0.1:9000", "/"},
		{"127.0.0.1:9000", "tcp", "127.0.0.1:9000", ""},
		{"ws://127.0.0.1:9000/mesh", "ws", "127.0.0.1:9000", "/mesh"},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			scheme, hostport, path := splitAddr(tt.addr)
			assert.Equal(t, tt.scheme, scheme)
			assert.Equal(t, tt.hostport, hostport)
			assert.Equal(t, tt.path, path)
		})
	}
}

func TestTCPSendRecv(t *testing.T) {
	groups := dialWorld(t, reserveAddrs(t, 2, "tcp"))
	ctx := context.Background()

	req := groups[0].Isend(1, 7, []byte("payload"))
	buf := make([]byte, 7)
	require.NoError(t, groups[1].Irecv(0, 7, buf).Wait(ctx))
	require.NoError(t, req.Wait(ctx))
	assert.Equal(t, "payload", string(buf))
}

func TestTCPLoopback(t *testing.T) {
	groups := dialWorld(t, reserveAddrs(t, 2, "tcp"))
	ctx := context.Background()

	require.NoError(t, groups[0].Isend(0, 3, []byte{9}).Wait(ctx))
	var b [1]byte
	require.NoError(t, groups[0].Irecv(0, 3, b[:]).Wait(ctx))
	assert.Equal(t, byte(9), b[0])
}

func TestTCPPersistentSegments(t *testing.T) {
	groups := dialWorld(t, reserveAddrs(t, 2, "tcp"))
	ctx := context.Background()

	src := []byte{1, 2, 3, 4, 5, 6}
	dst := make([]byte, 6)
	send := groups[0].SendInit(1, 9, comm.Segments{src[:2], src[2:]})
	recv := groups[1].RecvInit(0, 9, comm.Segments{dst[:3], dst[3:]})

	for i := 0; i < 2; i++ {
		src[0] = byte(40 + i)
		recv.Start()
		send.Start()
		require.NoError(t, send.Wait(ctx))
		require.NoError(t, recv.Wait(ctx))
		assert.Equal(t, src, dst)
	}
}

func TestTCPAllReduceMin(t *testing.T) {
	groups := dialWorld(t, reserveAddrs(t, 3, "tcp"))

	var eg errgroup.Group
	for _, g := range groups {
		eg.Go(func() error {
			v, err := comm.AllReduceMin(context.Background(), g, int64(g.Rank()+3))
			if err != nil {
				return err
			}
			assert.Equal(t, int64(3), v)
			return nil
		})
	}
	require.NoError(t, eg.Wait())
}

func TestWSSendRecv(t *testing.T) {
	groups := dialWorld(t, reserveAddrs(t, 2, "ws"))
	ctx := context.Background()

	req := groups[1].Isend(0, 11, []byte("over websocket"))
	buf := make([]byte, 14)
	require.NoError(t, groups[0].Irecv(1, 11, buf).Wait(ctx))
	require.NoError(t, req.Wait(ctx))
	assert.Equal(t, "over websocket", string(buf))
}

func TestPeerFailurePoisonsReceives(t *testing.T) {
	groups := dialWorld(t, reserveAddrs(t, 2, "tcp"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var b [1]byte
	req := groups[0].Irecv(1, 1, b[:])
	groups[1].Close()
	assert.Error(t, req.Wait(ctx))
}
