package byteview

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBytesAliases(t *testing.T) {
	s := []float64{1, 2, 3}
	b := Bytes(s)
	assert.Len(t, b, 24)

	Put(b[8:], 42.0)
	assert.Equal(t, 42.0, s[1])
	assert.Equal(t, 42.0, Get[float64](b[8:]))
}

func TestBytesEmpty(t *testing.T) {
	assert.Nil(t, Bytes[float64](nil))
	assert.Nil(t, Bytes([]int32{}))
}

func TestSizeOf(t *testing.T) {
	assert.Equal(t, 8, SizeOf[float64]())
	assert.Equal(t, 4, SizeOf[int32]())
	assert.Equal(t, 1, SizeOf[byte]())
}
