package remote

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/indexsync/comm"
	"github.com/hupe1980/indexsync/index"
)

// Reserved tags of the topology build protocol; see the comm package
// comment for the reserved range.
const (
	tagBitmapHdr  = 225
	tagBitmapBody = 226
	tagStreamHdr  = 227
	tagStreamBody = 228
	tagCheck      = 229
)

const (
	blobRaw = 0
	blobLZ4 = 1
)

// maxBlobLen bounds incoming metadata payloads so a corrupt header cannot
// drive an absurd allocation.
const maxBlobLen = 1 << 31

// compressBlob wraps raw in a one-byte-flagged envelope, lz4
// block-compressed when that actually shrinks it.
func compressBlob(raw []byte) []byte {
	bound := lz4.CompressBlockBound(len(raw))
	dst := make([]byte, 9+bound)
	n, err := lz4.CompressBlock(raw, dst[9:], nil)
	if err != nil || n == 0 || n >= len(raw) {
		out := make([]byte, 1+len(raw))
		out[0] = blobRaw
		copy(out[1:], raw)
		return out
	}
	dst[0] = blobLZ4
	binary.LittleEndian.PutUint64(dst[1:9], uint64(len(raw)))
	return dst[:9+n]
}

// decompressBlob unwraps a compressBlob envelope.
func decompressBlob(msg []byte) ([]byte, error) {
	if len(msg) < 1 {
		return nil, fmt.Errorf("remote: empty metadata blob")
	}
	switch msg[0] {
	case blobRaw:
		return msg[1:], nil
	case blobLZ4:
		if len(msg) < 9 {
			return nil, fmt.Errorf("remote: truncated lz4 blob header")
		}
		rawLen := binary.LittleEndian.Uint64(msg[1:9])
		if rawLen > maxBlobLen {
			return nil, fmt.Errorf("remote: blob length %d exceeds limit", rawLen)
		}
		raw := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(msg[9:], raw)
		if err != nil {
			return nil, fmt.Errorf("remote: lz4 decode: %w", err)
		}
		return raw[:n], nil
	default:
		return nil, fmt.Errorf("remote: unknown blob flag %d", msg[0])
	}
}

// sendBlob posts the header and body sends of one length-prefixed blob.
// The returned requests must be waited on before blob is reused.
func sendBlob(g comm.Group, dest, tagHdr, tagBody int, blob []byte) []*comm.Request {
	hdr := make([]byte, 8)
	binary.LittleEndian.PutUint64(hdr, uint64(len(blob)))
	return []*comm.Request{
		g.Isend(dest, tagHdr, hdr),
		g.Isend(dest, tagBody, blob),
	}
}

// recvBlob receives one length-prefixed blob from src.
func recvBlob(ctx context.Context, g comm.Group, src, tagHdr, tagBody int) ([]byte, error) {
	var hdr [8]byte
	if err := g.Irecv(src, tagHdr, hdr[:]).Wait(ctx); err != nil {
		return nil, fmt.Errorf("remote: blob header from %d: %w", src, err)
	}
	n := binary.LittleEndian.Uint64(hdr[:])
	if n > maxBlobLen {
		return nil, fmt.Errorf("remote: blob length %d from %d exceeds limit", n, src)
	}
	buf := make([]byte, n)
	if err := g.Irecv(src, tagBody, buf).Wait(ctx); err != nil {
		return nil, fmt.Errorf("remote: blob body from %d: %w", src, err)
	}
	return buf, nil
}

// streamEntry is one (global, attribute) record of an advertised index
// stream.
type streamEntry struct {
	global index.Global
	attr   index.Attribute
}

// encodeEntryStream serializes a sealed set as a delta-varint stream in
// ascending Global order.
func encodeEntryStream(s *index.Set) []byte {
	buf := make([]byte, 0, 2+3*s.Len())
	buf = binary.AppendUvarint(buf, uint64(s.Len()))
	prev := uint64(0)
	for e := range s.All() {
		buf = binary.AppendUvarint(buf, uint64(e.Global)-prev)
		buf = append(buf, byte(e.Local.Attr))
		prev = uint64(e.Global)
	}
	return buf
}

// decodeEntryStream parses an encodeEntryStream payload. Entries come out
// in ascending Global order.
func decodeEntryStream(b []byte) ([]streamEntry, error) {
	count, n := binary.Uvarint(b)
	if n <= 0 {
		return nil, fmt.Errorf("remote: malformed index stream")
	}
	b = b[n:]
	entries := make([]streamEntry, 0, count)
	prev := uint64(0)
	for i := uint64(0); i < count; i++ {
		delta, n := binary.Uvarint(b)
		if n <= 0 || len(b) < n+1 {
			return nil, fmt.Errorf("remote: truncated index stream at entry %d", i)
		}
		attr := index.Attribute(b[n])
		b = b[n+1:]
		prev += delta
		entries = append(entries, streamEntry{global: index.Global(prev), attr: attr})
	}
	return entries, nil
}

// encodeBitmapPair serializes the (local, advertised) membership bitmaps.
func encodeBitmapPair(local, advertised *roaring64.Bitmap) ([]byte, error) {
	lb, err := local.MarshalBinary()
	if err != nil {
		return nil, err
	}
	ab, err := advertised.MarshalBinary()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 8+len(lb)+len(ab))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(lb)))
	buf = append(buf, lb...)
	buf = append(buf, ab...)
	return buf, nil
}

// decodeBitmapPair parses an encodeBitmapPair payload.
func decodeBitmapPair(b []byte) (local, advertised *roaring64.Bitmap, err error) {
	if len(b) < 8 {
		return nil, nil, fmt.Errorf("remote: truncated bitmap pair")
	}
	n := binary.LittleEndian.Uint64(b[:8])
	if uint64(len(b)-8) < n {
		return nil, nil, fmt.Errorf("remote: truncated bitmap pair")
	}
	local = roaring64.New()
	if err := local.UnmarshalBinary(b[8 : 8+n]); err != nil {
		return nil, nil, fmt.Errorf("remote: local bitmap: %w", err)
	}
	advertised = roaring64.New()
	if err := advertised.UnmarshalBinary(b[8+n:]); err != nil {
		return nil, nil, fmt.Errorf("remote: advertised bitmap: %w", err)
	}
	return local, advertised, nil
}
