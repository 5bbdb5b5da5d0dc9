package remote

import (
	"bytes"
	"testing"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/indexsync/index"
)

func sealedSet(t *testing.T, entries ...index.Entry) *index.Set {
	t.Helper()
	s := index.NewSet()
	for _, e := range entries {
		require.NoError(t, s.Add(e.Global, e.Local.Attr))
	}
	require.NoError(t, s.Seal())
	return s
}

func entry(g index.Global, a index.Attribute) index.Entry {
	return index.Entry{Global: g, Local: index.Local{Attr: a}}
}

func TestEntryStreamRoundTrip(t *testing.T) {
	s := sealedSet(t,
		entry(3, index.Owner),
		entry(100, index.Copy),
		entry(7, index.Overlap),
	)

	entries, err := decodeEntryStream(encodeEntryStream(s))
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, index.Global(3), entries[0].global)
	assert.Equal(t, index.Owner, entries[0].attr)
	assert.Equal(t, index.Global(7), entries[1].global)
	assert.Equal(t, index.Overlap, entries[1].attr)
	assert.Equal(t, index.Global(100), entries[2].global)
	assert.Equal(t, index.Copy, entries[2].attr)
}

func TestEntryStreamEmpty(t *testing.T) {
	s := sealedSet(t)
	entries, err := decodeEntryStream(encodeEntryStream(s))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDecodeEntryStreamTruncated(t *testing.T) {
	s := sealedSet(t, entry(1, index.Owner), entry(2, index.Owner))
	enc := encodeEntryStream(s)
	_, err := decodeEntryStream(enc[:len(enc)-1])
	assert.Error(t, err)
}

func TestBlobRoundTrip(t *testing.T) {
	t.Run("compressible", func(t *testing.T) {
		raw := bytes.Repeat([]byte("abcd"), 256)
		blob := compressBlob(raw)
		assert.Less(t, len(blob), len(raw))

		got, err := decompressBlob(blob)
		require.NoError(t, err)
		assert.Equal(t, raw, got)
	})

	t.Run("incompressible", func(t *testing.T) {
		raw := []byte{1, 99, 3, 251, 7}
		got, err := decompressBlob(compressBlob(raw))
		require.NoError(t, err)
		assert.Equal(t, raw, got)
	})

	t.Run("empty", func(t *testing.T) {
		got, err := decompressBlob(compressBlob(nil))
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("unknown flag", func(t *testing.T) {
		_, err := decompressBlob([]byte{42, 0, 0})
		assert.Error(t, err)
	})
}

func TestBitmapPairRoundTrip(t *testing.T) {
	local := roaring64.New()
	local.AddMany([]uint64{1, 2, 3})
	adv := roaring64.New()
	adv.AddMany([]uint64{2, 3, 4, 1 << 40})

	enc, err := encodeBitmapPair(local, adv)
	require.NoError(t, err)

	gotLocal, gotAdv, err := decodeBitmapPair(enc)
	require.NoError(t, err)
	assert.True(t, gotLocal.Equals(local))
	assert.True(t, gotAdv.Equals(adv))
}
