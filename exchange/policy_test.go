package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlicePolicy(t *testing.T) {
	pol := SlicePolicy[float64]{}
	d := []float64{1, 2, 3}

	assert.Equal(t, 1, pol.Count(d, 1))
	assert.Equal(t, 1, pol.CountPerIndex())

	at := pol.At(d, 1)
	at[0] = 9
	assert.Equal(t, 9.0, d[1])
}

func TestBlockPolicy(t *testing.T) {
	pol := BlockPolicy[int32]{}
	d := [][]int32{{1}, {2, 3, 4}}

	assert.Equal(t, 1, pol.Count(d, 0))
	assert.Equal(t, 3, pol.Count(d, 1))

	pol.At(d, 1)[2] = 7
	assert.Equal(t, int32(7), d[1][2])
}

func TestCodecs(t *testing.T) {
	t.Run("native", func(t *testing.T) {
		c := Native[float64]{}
		buf := make([]byte, c.Size())
		c.Put(buf, 3.25)
		assert.Equal(t, 3.25, c.Get(buf))
	})

	t.Run("float64le", func(t *testing.T) {
		c := Float64LE{}
		buf := make([]byte, c.Size())
		c.Put(buf, -1.5)
		assert.Equal(t, -1.5, c.Get(buf))
	})

	t.Run("float32le", func(t *testing.T) {
		c := Float32LE{}
		buf := make([]byte, c.Size())
		c.Put(buf, float32(0.5))
		assert.Equal(t, float32(0.5), c.Get(buf))
	})

	t.Run("uint64le", func(t *testing.T) {
		c := Uint64LE{}
		buf := make([]byte, c.Size())
		c.Put(buf, uint64(1)<<40)
		assert.Equal(t, uint64(1)<<40, c.Get(buf))
		assert.Equal(t, byte(0), buf[7]) // little endian
	})
}

func TestGatherScatterPolicies(t *testing.T) {
	pol := SlicePolicy[float64]{}
	d := []float64{4}

	t.Run("copy", func(t *testing.T) {
		gs := Copy[[]float64, float64]{P: pol}
		assert.Equal(t, 4.0, gs.Gather(d, 0, 0))
		gs.Scatter(d, 9, 0, 0)
		assert.Equal(t, 9.0, d[0])
	})

	t.Run("add", func(t *testing.T) {
		d := []float64{4}
		gs := Add[[]float64, float64]{P: pol}
		gs.Scatter(d, 2, 0, 0)
		assert.Equal(t, 6.0, d[0])
	})

	t.Run("min", func(t *testing.T) {
		d := []float64{4}
		gs := Min[[]float64, float64]{P: pol}
		gs.Scatter(d, 7, 0, 0)
		assert.Equal(t, 4.0, d[0])
		gs.Scatter(d, 2, 0, 0)
		assert.Equal(t, 2.0, d[0])
	})

	t.Run("max", func(t *testing.T) {
		d := []float64{4}
		gs := Max[[]float64, float64]{P: pol}
		gs.Scatter(d, 2, 0, 0)
		assert.Equal(t, 4.0, d[0])
		gs.Scatter(d, 7, 0, 0)
		assert.Equal(t, 7.0, d[0])
	})
}
