package indexsync

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/indexsync/comm/local"
	"github.com/hupe1980/indexsync/exchange"
	"github.com/hupe1980/indexsync/index"
)

func sealSet(t *testing.T, pairs ...any) *index.Set {
	t.Helper()
	s := index.NewSet()
	for i := 0; i < len(pairs); i += 2 {
		require.NoError(t, s.Add(index.Global(pairs[i].(int)), pairs[i+1].(index.Attribute)))
	}
	require.NoError(t, s.Seal())
	return s
}

func ownerCopySets(t *testing.T) []*index.Set {
	t.Helper()
	return []*index.Set{
		sealSet(t, 0, index.Owner, 1, index.Owner, 2, index.Copy),
		sealSet(t, 1, index.Copy, 2, index.Owner, 3, index.Owner),
	}
}

func scalarBuilder(g *local.Group) Builder[[]float64, float64] {
	return For[[]float64, float64](g, exchange.SlicePolicy[float64]{}, exchange.Native[float64]{}).
		Source(index.AttrsOf(index.Owner)).
		Dest(index.AttrsOf(index.Copy))
}

func copyGS() exchange.Copy[[]float64, float64] {
	return exchange.Copy[[]float64, float64]{P: exchange.SlicePolicy[float64]{}}
}

func TestExchangerForward(t *testing.T) {
	w := local.NewWorld(2)
	defer w.Close()

	data := [][]float64{
		{0, 1, -1},
		{-1, 11, 12},
	}
	metrics := &BasicMetricsCollector{}
	sets := ownerCopySets(t)

	err := w.Run(func(g *local.Group) error {
		ex, err := scalarBuilder(g).Metrics(metrics).Build(context.Background(), sets[g.Rank()], sets[g.Rank()])
		if err != nil {
			return err
		}
		defer ex.Close()
		return ex.ForwardInPlace(context.Background(), copyGS(), data[g.Rank()])
	})
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 1, 11}, data[0])
	assert.Equal(t, []float64{1, 11, 12}, data[1])

	stats := metrics.GetStats()
	assert.EqualValues(t, 2, stats.BuildCount)
	assert.EqualValues(t, 2, stats.ExchangeCount)
	assert.EqualValues(t, 2, stats.ForwardCount)
	assert.EqualValues(t, 2, stats.CloseCount)
	assert.Zero(t, stats.ExchangeErrors)
	assert.Positive(t, stats.BytesMoved)
}

func TestExchangerRoundTrip(t *testing.T) {
	w := local.NewWorld(2)
	defer w.Close()

	source := [][]float64{
		{5, 6, 0},
		{0, 7, 8},
	}
	dest := [][]float64{
		{-1, -1, -1},
		{-1, -1, -1},
	}

	sets := ownerCopySets(t)
	err := w.Run(func(g *local.Group) error {
		ex, err := scalarBuilder(g).Build(context.Background(), sets[g.Rank()], sets[g.Rank()])
		if err != nil {
			return err
		}
		defer ex.Close()

		ctx := context.Background()
		if err := ex.Forward(ctx, copyGS(), source[g.Rank()], dest[g.Rank()]); err != nil {
			return err
		}
		return ex.Backward(ctx, copyGS(), source[g.Rank()], dest[g.Rank()])
	})
	require.NoError(t, err)

	assert.Equal(t, []float64{5, 6, 0}, source[0])
	assert.Equal(t, []float64{0, 7, 8}, source[1])
}

func TestExchangerVariableSize(t *testing.T) {
	w := local.NewWorld(2)
	defer w.Close()

	sets := []*index.Set{
		sealSet(t, 5, index.Owner, 7, index.Copy),
		sealSet(t, 5, index.Copy, 7, index.Owner),
	}
	data := [][][]float64{
		{{1, 2, 3}, {0, 0}},
		{{0, 0, 0}, {4, 5}},
	}

	err := w.Run(func(g *local.Group) error {
		d := data[g.Rank()]
		pol := exchange.BlockPolicy[float64]{}
		ex, err := For[[][]float64, float64](g, pol, exchange.Native[float64]{}).
			Source(index.AttrsOf(index.Owner)).
			Dest(index.AttrsOf(index.Copy)).
			Representatives(d, d).
			Build(context.Background(), sets[g.Rank()], sets[g.Rank()])
		if err != nil {
			return err
		}
		defer ex.Close()
		return ex.ForwardInPlace(context.Background(), exchange.Copy[[][]float64, float64]{P: pol}, d)
	})
	require.NoError(t, err)

	assert.Equal(t, [][]float64{{1, 2, 3}, {4, 5}}, data[0])
	assert.Equal(t, [][]float64{{1, 2, 3}, {4, 5}}, data[1])
}

func TestExchangerVariableSizeNeedsRepresentatives(t *testing.T) {
	w := local.NewWorld(1)
	defer w.Close()

	s := sealSet(t, 1, index.Owner)
	_, err := For[[][]float64, float64](w.Group(0), exchange.BlockPolicy[float64]{}, exchange.Native[float64]{}).
		Build(context.Background(), s, s)
	assert.ErrorIs(t, err, exchange.ErrNeedsRepresentatives)
}

func TestExchangerDatatype(t *testing.T) {
	w := local.NewWorld(2)
	defer w.Close()

	data := [][]float64{
		{0, 1, -1},
		{-1, 11, 12},
	}
	sets := ownerCopySets(t)

	err := w.Run(func(g *local.Group) error {
		ex, err := scalarBuilder(g).Build(context.Background(), sets[g.Rank()], sets[g.Rank()])
		if err != nil {
			return err
		}
		defer ex.Close()

		d := data[g.Rank()]
		dt, err := ex.Datatype(d, d)
		if err != nil {
			return err
		}
		defer dt.Free()
		return dt.Forward(context.Background())
	})
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 1, 11}, data[0])
	assert.Equal(t, []float64{1, 11, 12}, data[1])
}

func TestExchangerRebuild(t *testing.T) {
	w := local.NewWorld(2)
	defer w.Close()

	first := ownerCopySets(t)
	// The rebuilt topology shares a different global.
	second := []*index.Set{
		sealSet(t, 10, index.Owner, 11, index.Copy),
		sealSet(t, 10, index.Copy, 11, index.Owner),
	}
	data := [][]float64{
		{42, -1},
		{-1, 43},
	}

	err := w.Run(func(g *local.Group) error {
		ctx := context.Background()
		ex, err := scalarBuilder(g).Build(ctx, first[g.Rank()], first[g.Rank()])
		if err != nil {
			return err
		}
		defer ex.Close()

		if err := ex.Rebuild(ctx, second[g.Rank()], second[g.Rank()]); err != nil {
			return err
		}
		return ex.ForwardInPlace(ctx, copyGS(), data[g.Rank()])
	})
	require.NoError(t, err)

	assert.Equal(t, []float64{42, 43}, data[0])
	assert.Equal(t, []float64{42, 43}, data[1])
}

func TestExchangerClosed(t *testing.T) {
	w := local.NewWorld(1)
	defer w.Close()

	s := sealSet(t, 1, index.Owner)
	ex, err := scalarBuilder(w.Group(0)).Build(context.Background(), s, s)
	require.NoError(t, err)
	require.NoError(t, ex.Close())
	require.NoError(t, ex.Close())

	ctx := context.Background()
	assert.ErrorIs(t, ex.ForwardInPlace(ctx, copyGS(), []float64{1}), ErrClosed)
	assert.ErrorIs(t, ex.Rebuild(ctx, s, s), ErrClosed)
	assert.ErrorIs(t, ex.DumpPlan(&bytes.Buffer{}), ErrClosed)
	_, err = ex.Datatype(nil, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestExchangerFailureTranslation(t *testing.T) {
	boom := errors.New("boom")
	w := local.NewWorld(2, local.WithRecvError(0, 1, exchange.DefaultTag, boom))
	defer w.Close()

	data := [][]float64{
		{0, 1, -1},
		{-1, 11, 12},
	}
	sets := ownerCopySets(t)
	failures := make([]error, 2)
	var mu sync.Mutex

	err := w.Run(func(g *local.Group) error {
		ex, err := scalarBuilder(g).Build(context.Background(), sets[g.Rank()], sets[g.Rank()])
		if err != nil {
			return err
		}
		defer ex.Close()

		err = ex.ForwardInPlace(context.Background(), copyGS(), data[g.Rank()])
		mu.Lock()
		failures[g.Rank()] = err
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	for rank, ferr := range failures {
		var xe *ExchangeError
		require.ErrorAs(t, ferr, &xe, "rank %d", rank)
		assert.Equal(t, DirectionForward, xe.Direction)
		assert.ErrorIs(t, ferr, exchange.ErrCommunication)
	}
}

func TestExchangerDumpPlan(t *testing.T) {
	w := local.NewWorld(2)
	defer w.Close()

	sets := ownerCopySets(t)
	var bufs [2]bytes.Buffer

	err := w.Run(func(g *local.Group) error {
		ex, err := scalarBuilder(g).Build(context.Background(), sets[g.Rank()], sets[g.Rank()])
		if err != nil {
			return err
		}
		defer ex.Close()
		return ex.DumpPlan(&bufs[g.Rank()])
	})
	require.NoError(t, err)
	assert.Positive(t, bufs[0].Len())
	assert.Positive(t, bufs[1].Len())
}
