// Package netgroup implements a peer group over a socket mesh. Every rank
// listens on one endpoint and keeps a single connection per peer; frames
// are tagged byte payloads matched in FIFO order per (peer, tag).
//
// Endpoints are given as URLs: "tcp://host:port" (or a bare host:port)
// for stream sockets and "ws://host:port/path" for WebSocket transport,
// e.g. when peers sit behind HTTP-only infrastructure. Both transports
// share the same mesh logic and can be mixed per rank.
package netgroup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hupe1980/indexsync/comm"
	"github.com/hupe1980/indexsync/internal/mailbox"
)

// ErrClosed is reported by operations on a closed group.
var ErrClosed = errors.New("netgroup: group closed")

// Options configure mesh establishment.
type Options struct {
	// Logger receives connection lifecycle events. Defaults to a
	// discarding logger.
	Logger *slog.Logger

	// DialRate bounds connection attempts per peer while the mesh forms.
	// Defaults to 20 attempts per second.
	DialRate rate.Limit

	// SendQueue is the per-peer send queue depth. Defaults to 256.
	SendQueue int
}

// DefaultOptions returns the defaults documented on Options.
func DefaultOptions() Options {
	return Options{
		Logger:    slog.New(slog.DiscardHandler),
		DialRate:  20,
		SendQueue: 256,
	}
}

type sendItem struct {
	tag      int
	segs     comm.Segments
	complete func(error)
}

type peer struct {
	rank   int
	fc     frameConn
	sendCh chan sendItem
	closed chan struct{}
	once   sync.Once
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.closed)
		p.fc.Close()
	})
}

// Group is one rank's endpoint of the mesh. It implements comm.Group.
type Group struct {
	rank  int
	size  int
	box   *mailbox.Box
	peers []*peer

	ln        net.Listener
	wsSrv     *http.Server
	logger    *slog.Logger
	sendQueue int

	closeOnce sync.Once
	closedCh  chan struct{}
}

var _ comm.Group = (*Group)(nil)

// Dial establishes the full mesh for rank among addrs and returns the
// group handle once every peer connection is up. addrs[i] is the listen
// endpoint of rank i; every rank must call Dial with the same addrs.
//
// Ranks dial their lower-ranked peers and accept connections from the
// higher-ranked ones, so each pair ends up with exactly one connection.
func Dial(ctx context.Context, rank int, addrs []string, optFns ...func(*Options)) (*Group, error) {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = DefaultOptions().Logger
	}
	if rank < 0 || rank >= len(addrs) {
		return nil, fmt.Errorf("netgroup: rank %d out of range for %d addresses", rank, len(addrs))
	}

	g := &Group{
		rank:      rank,
		size:      len(addrs),
		box:       mailbox.New(),
		peers:     make([]*peer, len(addrs)),
		logger:    opts.Logger.With("rank", rank),
		sendQueue: opts.SendQueue,
		closedCh:  make(chan struct{}),
	}

	connCh := make(chan *peer, len(addrs))
	if err := g.listen(addrs[rank], connCh); err != nil {
		return nil, err
	}

	eg, ctx := errgroup.WithContext(ctx)

	// Dial the lower ranks, pacing the retry loop per peer.
	for p := 0; p < rank; p++ {
		eg.Go(func() error {
			fc, err := dialPeer(ctx, addrs[p], opts.DialRate)
			if err != nil {
				return fmt.Errorf("netgroup: dial rank %d at %s: %w", p, addrs[p], err)
			}
			if err := fc.writeHandshake(rank); err != nil {
				fc.Close()
				return fmt.Errorf("netgroup: handshake with rank %d: %w", p, err)
			}
			connCh <- g.newPeer(p, fc)
			return nil
		})
	}

	// Collect all peers: our dials plus the accepts from higher ranks.
	eg.Go(func() error {
		for n := 0; n < g.size-1; n++ {
			select {
			case p := <-connCh:
				if p.rank < 0 || p.rank >= g.size || p.rank == rank || g.peers[p.rank] != nil {
					p.close()
					return fmt.Errorf("netgroup: unexpected handshake rank %d", p.rank)
				}
				g.peers[p.rank] = p
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		g.Close()
		return nil, err
	}

	for _, p := range g.peers {
		if p != nil {
			go g.writeLoop(p)
			go g.readLoop(p)
		}
	}
	g.logger.Debug("mesh established", "size", g.size)
	return g, nil
}

func (g *Group) newPeer(rank int, fc frameConn) *peer {
	return &peer{
		rank:   rank,
		fc:     fc,
		sendCh: make(chan sendItem, g.sendQueue),
		closed: make(chan struct{}),
	}
}

func (g *Group) listen(addr string, connCh chan *peer) error {
	scheme, hostport, path := splitAddr(addr)
	ln, err := net.Listen("tcp", hostport)
	if err != nil {
		return fmt.Errorf("netgroup: listen %s: %w", addr, err)
	}
	g.ln = ln

	switch scheme {
	case "tcp":
		go func() {
			for {
				c, err := ln.Accept()
				if err != nil {
					return
				}
				go func() {
					fc := newTCPConn(c)
					r, err := fc.readHandshake()
					if err != nil {
						fc.Close()
						return
					}
					connCh <- g.newPeer(r, fc)
				}()
			}
		}()
	case "ws":
		upgrader := websocket.Upgrader{}
		mux := http.NewServeMux()
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			c, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			fc := newWSConn(c)
			rank, err := fc.readHandshake()
			if err != nil {
				fc.Close()
				return
			}
			connCh <- g.newPeer(rank, fc)
		})
		g.wsSrv = &http.Server{Handler: mux}
		go g.wsSrv.Serve(ln)
	default:
		ln.Close()
		return fmt.Errorf("netgroup: unsupported scheme %q in %s", scheme, addr)
	}
	return nil
}

func dialPeer(ctx context.Context, addr string, dialRate rate.Limit) (frameConn, error) {
	scheme, hostport, path := splitAddr(addr)
	limiter := rate.NewLimiter(dialRate, 1)
	var dialer net.Dialer

	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		switch scheme {
		case "tcp":
			c, err := dialer.DialContext(ctx, "tcp", hostport)
			if err == nil {
				return newTCPConn(c), nil
			}
		case "ws":
			u := url.URL{Scheme: "ws", Host: hostport, Path: path}
			c, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
			if resp != nil && resp.Body != nil {
				resp.Body.Close()
			}
			if err == nil {
				return newWSConn(c), nil
			}
		default:
			return nil, fmt.Errorf("netgroup: unsupported scheme %q in %s", scheme, addr)
		}
	}
}

// splitAddr parses "tcp://host:port", "ws://host:port/path" or a bare
// "host:port" (treated as tcp).
func splitAddr(addr string) (scheme, hostport, path string) {
	if !strings.Contains(addr, "://") {
		return "tcp", addr, ""
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "tcp", addr, ""
	}
	path = u.Path
	if path == "" {
		path = "/"
	}
	return u.Scheme, u.Host, path
}

// Rank returns this process' rank within the group.
func (g *Group) Rank() int { return g.rank }

// Size returns the number of ranks in the group.
func (g *Group) Size() int { return g.size }

// Isend starts a non-blocking send of buf to dest. The caller must not
// modify buf until the request completes.
func (g *Group) Isend(dest, tag int, buf []byte) *comm.Request {
	return g.send(dest, tag, comm.Segments{buf})
}

// Irecv posts a receive from src into buf.
func (g *Group) Irecv(src, tag int, buf []byte) *comm.Request {
	return g.box.Receive(src, tag, comm.Segments{buf})
}

// SendInit creates a persistent send gathering segs on every Start.
func (g *Group) SendInit(dest, tag int, segs comm.Segments) *comm.Persistent {
	return comm.NewPersistent(func() *comm.Request {
		return g.send(dest, tag, segs)
	})
}

// RecvInit creates a persistent receive scattering into segs on every
// Start.
func (g *Group) RecvInit(src, tag int, segs comm.Segments) *comm.Persistent {
	return comm.NewPersistent(func() *comm.Request {
		return g.box.Receive(src, tag, segs)
	})
}

func (g *Group) send(dest, tag int, segs comm.Segments) *comm.Request {
	req, complete := comm.NewRequest()

	if dest == g.rank {
		// Loopback: deliver straight into the local mailbox.
		g.box.Deliver(g.rank, tag, segs.Flatten(), nil)
		complete(nil)
		return req
	}
	if dest < 0 || dest >= g.size {
		complete(fmt.Errorf("netgroup: destination rank %d out of range", dest))
		return req
	}

	p := g.peers[dest]
	select {
	case p.sendCh <- sendItem{tag: tag, segs: segs, complete: complete}:
	case <-p.closed:
		complete(ErrClosed)
	case <-g.closedCh:
		complete(ErrClosed)
	}
	return req
}

// writeLoop serializes the sends of one peer connection.
func (g *Group) writeLoop(p *peer) {
	for {
		select {
		case it := <-p.sendCh:
			err := p.fc.writeFrame(it.tag, it.segs)
			it.complete(err)
			if err != nil {
				g.logger.Warn("send failed", "peer", p.rank, "error", err)
				p.close()
				return
			}
		case <-p.closed:
			return
		case <-g.closedCh:
			return
		}
	}
}

// readLoop routes one peer's incoming frames into the mailbox. A read
// error poisons all pending and future receives from that peer.
func (g *Group) readLoop(p *peer) {
	for {
		tag, payload, err := p.fc.readFrame()
		if err != nil {
			select {
			case <-g.closedCh:
				g.box.Fail(p.rank, ErrClosed)
			default:
				g.logger.Warn("connection lost", "peer", p.rank, "error", err)
				g.box.Fail(p.rank, fmt.Errorf("netgroup: peer %d: %w", p.rank, err))
			}
			p.close()
			return
		}
		g.box.Deliver(p.rank, tag, payload, nil)
	}
}

// Close tears down the mesh. In-flight operations fail with ErrClosed.
func (g *Group) Close() error {
	g.closeOnce.Do(func() {
		close(g.closedCh)
		if g.ln != nil {
			g.ln.Close()
		}
		if g.wsSrv != nil {
			g.wsSrv.Close()
		}
		for _, p := range g.peers {
			if p != nil {
				p.close()
			}
		}
	})
	return nil
}
