package exchange

// GatherScatter extracts the value to transmit for an index and combines
// a received value into the destination. j is the element offset within
// the index's block; it is always 0 for one-element-per-index policies.
//
// Implementations must be pure with respect to other indices: Gather and
// Scatter at (i, j) may only touch the storage at (i, j).
type GatherScatter[D, E any] interface {
	Gather(d D, i, j int) E
	Scatter(d D, v E, i, j int)
}

// Copy transmits values verbatim: gather reads the element, scatter
// overwrites it.
type Copy[D, E any] struct {
	P Policy[D, E]
}

func (c Copy[D, E]) Gather(d D, i, j int) E {
	return c.P.At(d, i)[j]
}

func (c Copy[D, E]) Scatter(d D, v E, i, j int) {
	c.P.At(d, i)[j] = v
}

// Number constrains the element types the combining policies work on.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Add accumulates received values into the destination.
type Add[D any, E Number] struct {
	P Policy[D, E]
}

func (a Add[D, E]) Gather(d D, i, j int) E {
	return a.P.At(d, i)[j]
}

func (a Add[D, E]) Scatter(d D, v E, i, j int) {
	a.P.At(d, i)[j] += v
}

// Min keeps the smaller of the present and the received value.
type Min[D any, E Number] struct {
	P Policy[D, E]
}

func (m Min[D, E]) Gather(d D, i, j int) E {
	return m.P.At(d, i)[j]
}

func (m Min[D, E]) Scatter(d D, v E, i, j int) {
	if s := m.P.At(d, i); v < s[j] {
		s[j] = v
	}
}

// Max keeps the larger of the present and the received value.
type Max[D any, E Number] struct {
	P Policy[D, E]
}

func (m Max[D, E]) Gather(d D, i, j int) E {
	return m.P.At(d, i)[j]
}

func (m Max[D, E]) Scatter(d D, v E, i, j int) {
	if s := m.P.At(d, i); v > s[j] {
		s[j] = v
	}
}
