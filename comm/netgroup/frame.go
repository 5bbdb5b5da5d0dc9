package netgroup

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/indexsync/comm"
)

// frameConn carries tagged byte frames over one peer connection. The two
// implementations share the wire vocabulary of the group: an 8-byte rank
// handshake, then frames of [tag][payload].
type frameConn interface {
	writeHandshake(rank int) error
	readHandshake() (int, error)
	writeFrame(tag int, segs comm.Segments) error
	readFrame() (tag int, payload []byte, err error)
	Close() error
}

// tcpConn frames messages as [uint32 tag][uint32 length][payload] over a
// stream socket.
type tcpConn struct {
	c  net.Conn
	br *bufio.Reader
	bw *bufio.Writer
}

func newTCPConn(c net.Conn) *tcpConn {
	return &tcpConn{
		c:  c,
		br: bufio.NewReader(c),
		bw: bufio.NewWriter(c),
	}
}

func (t *tcpConn) writeHandshake(rank int) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(rank))
	if _, err := t.bw.Write(b[:]); err != nil {
		return err
	}
	return t.bw.Flush()
}

func (t *tcpConn) readHandshake() (int, error) {
	var b [8]byte
	if _, err := io.ReadFull(t.br, b[:]); err != nil {
		return 0, err
	}
	return int(binary.LittleEndian.Uint64(b[:])), nil
}

func (t *tcpConn) writeFrame(tag int, segs comm.Segments) error {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[:4], uint32(tag))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(segs.TotalLen()))
	if _, err := t.bw.Write(hdr[:]); err != nil {
		return err
	}
	for _, seg := range segs {
		if _, err := t.bw.Write(seg); err != nil {
			return err
		}
	}
	return t.bw.Flush()
}

func (t *tcpConn) readFrame() (int, []byte, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(t.br, hdr[:]); err != nil {
		return 0, nil, err
	}
	tag := int(binary.LittleEndian.Uint32(hdr[:4]))
	size := binary.LittleEndian.Uint32(hdr[4:])
	payload := make([]byte, size)
	if _, err := io.ReadFull(t.br, payload); err != nil {
		return 0, nil, err
	}
	return tag, payload, nil
}

func (t *tcpConn) Close() error {
	return t.c.Close()
}

// wsConn frames messages as binary WebSocket messages of
// [uint32 tag][payload].
type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func newWSConn(c *websocket.Conn) *wsConn {
	return &wsConn{c: c}
}

func (w *wsConn) writeHandshake(rank int) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(rank))
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.WriteMessage(websocket.BinaryMessage, b[:])
}

func (w *wsConn) readHandshake() (int, error) {
	mt, data, err := w.c.ReadMessage()
	if err != nil {
		return 0, err
	}
	if mt != websocket.BinaryMessage || len(data) != 8 {
		return 0, fmt.Errorf("netgroup: malformed handshake message")
	}
	return int(binary.LittleEndian.Uint64(data)), nil
}

func (w *wsConn) writeFrame(tag int, segs comm.Segments) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	wr, err := w.c.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return err
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(tag))
	if _, err := wr.Write(hdr[:]); err != nil {
		return err
	}
	for _, seg := range segs {
		if _, err := wr.Write(seg); err != nil {
			return err
		}
	}
	return wr.Close()
}

func (w *wsConn) readFrame() (int, []byte, error) {
	mt, data, err := w.c.ReadMessage()
	if err != nil {
		return 0, nil, err
	}
	if mt != websocket.BinaryMessage || len(data) < 4 {
		return 0, nil, fmt.Errorf("netgroup: malformed frame")
	}
	tag := int(binary.LittleEndian.Uint32(data[:4]))
	return tag, data[4:], nil
}

func (w *wsConn) Close() error {
	return w.c.Close()
}
