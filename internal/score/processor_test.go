package score

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   any
		want float64
	}{
		{3.5, 3.5},
		{2, 2},
		{"4分", 4},
		{"得分: -1.5", -1.5},
		{"7.", 7},
	}
	for _, tc := range cases {
		got, err := Sanitize(tc.in)
		require.NoError(t, err, "%v", tc.in)
		assert.Equal(t, tc.want, got)
	}

	for _, bad := range []any{"满分", nil, true, []any{1}} {
		_, err := Sanitize(bad)
		assert.True(t, errors.Is(err, ErrUnparseable), "%v", bad)
	}
}

func TestRoundToStep(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 7.5, RoundToStep(7.3, 0.5))
	assert.Equal(t, 7.0, RoundToStep(7.3, 1))
	assert.Equal(t, 8.0, RoundToStep(7.8, 0.5))
	assert.Equal(t, 8.0, RoundToStep(7.5, 1), "half rounds up")
	assert.Equal(t, 7.3, RoundToStep(7.3, 0))
	assert.Equal(t, 7.3, RoundToStep(7.3, -1))

	// idempotent
	for _, v := range []float64{0.1, 3.26, 9.75, 14.49} {
		once := RoundToStep(v, 0.5)
		assert.Equal(t, once, RoundToStep(once, 0.5))
	}
}

func TestProcessorTrace(t *testing.T) {
	t.Parallel()

	p := NewProcessor(nil)

	r, err := p.Process(9.0, 0, 10, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 9.0, r.Final)
	assert.Equal(t, "no processing: 9", r.Trace)

	r, err = p.Process("12.3分", 0, 10, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 10.0, r.Final)
	assert.Equal(t, "sanitize: 12.3分 -> 12.3 | round(step 0.5): 12.3 -> 12.5 | clamp: 12.5 -> 10", r.Trace)

	_, err = p.Process("abc", 0, 10, 0.5)
	require.Error(t, err)
}

func TestProcessorBounds(t *testing.T) {
	t.Parallel()

	p := NewProcessor(nil)
	for _, raw := range []float64{-5, -0.2, 0, 3.3, 9.76, 10, 55} {
		r, err := p.Process(raw, 0, 10, 0.5)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, r.Final, 0.0)
		assert.LessOrEqual(t, r.Final, 10.0)
	}
}

func TestProcessorIdempotent(t *testing.T) {
	t.Parallel()

	p := NewProcessor(nil)
	for _, raw := range []float64{-3, 0.1, 4.26, 7.75, 9.9, 12} {
		once, err := p.Process(raw, 0, 9.75, 0.5)
		require.NoError(t, err)
		twice, err := p.Process(once.Final, 0, 9.75, 0.5)
		require.NoError(t, err)
		assert.Equal(t, once.Final, twice.Final, "raw %v", raw)
	}
}

func TestProcessorUnalignedBounds(t *testing.T) {
	t.Parallel()

	p := NewProcessor(nil)
	r, err := p.Process(12.0, 0, 9.6, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 9.5, r.Final)
	assert.Equal(t, "clamp: 12 -> 9.6 | snap(step 0.5): 9.6 -> 9.5", r.Trace)

	r, err = p.Process(-1.0, 0.3, 9.6, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.5, r.Final)

	for _, raw := range []float64{-3, 0.1, 4.26, 9.4, 9.6, 12} {
		once, err := p.Process(raw, 0.3, 9.6, 0.5)
		require.NoError(t, err)
		twice, err := p.Process(once.Final, 0.3, 9.6, 0.5)
		require.NoError(t, err)
		assert.Equal(t, once.Final, twice.Final, "raw %v", raw)
	}
}

func TestSnapInside(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.3, SnapInside(0.3, 0, 0.3, 0.1))
	assert.Equal(t, 9.5, SnapInside(9.6, 0, 9.6, 0.5))
	assert.Equal(t, 0.5, SnapInside(0.3, 0.3, 9.6, 0.5))
	// no multiple of 0.5 in [0.1, 0.4]
	assert.Equal(t, 0.4, SnapInside(0.4, 0.1, 0.4, 0.5))
	assert.Equal(t, 7.0, SnapInside(7.0, 0, 10, 0))
}

func TestProcessItemized(t *testing.T) {
	t.Parallel()

	list, total, err := ProcessItemized([]any{2.0, "3.5", 1.0})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3.5, 1}, list)
	assert.Equal(t, 6.5, total)

	_, reversed, err := ProcessItemized([]any{1.0, "3.5", 2.0})
	require.NoError(t, err)
	assert.Equal(t, total, reversed)

	_, _, err = ProcessItemized([]any{2.0, "很好"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[1]")

	empty, zero, err := ProcessItemized(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.Zero(t, zero)
}

func TestSplitThreeStep(t *testing.T) {
	t.Parallel()

	assert.Equal(t, [3]float64{20, 15, 0}, SplitThreeStep(35, 20))
	assert.Equal(t, [3]float64{12.5, 0, 0}, SplitThreeStep(12.5, 20))
	assert.Equal(t, [3]float64{20, 20, 20}, SplitThreeStep(60, 20))
	assert.Equal(t, [3]float64{20, 20, 25}, SplitThreeStep(65, 20))
	assert.Equal(t, [3]float64{0, 0, 0}, SplitThreeStep(0, 20))
}
