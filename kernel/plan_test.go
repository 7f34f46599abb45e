package kernel

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanDispatchCoversWorkload(t *testing.T) {
	widths := []int{1, 2, 3, 7, 8, 32, 64, 256}
	for _, width := range widths {
		for size := 1; size <= 17; size++ {
			for batch := 0; batch <= 9; batch++ {
				count := size * batch
				plan, err := PlanDispatch(count, width)
				require.NoError(t, err)

				want := uint32(math.Ceil(float64(count) / float64(width)))
				assert.Equal(t, want, plan.Groups, "count=%d width=%d", count, width)
				assert.Equal(t, uint32(width), plan.ThreadsPerGroup)
				assert.GreaterOrEqual(t, plan.Threads(), uint64(count))
				// never over-dispatch by a whole group
				if plan.Groups > 0 {
					assert.Less(t, plan.Threads()-uint64(count), uint64(width))
				}
			}
		}
	}
}

func TestPlanDispatchExactMultiple(t *testing.T) {
	plan, err := PlanDispatch(256, 64)
	require.NoError(t, err)
	assert.Equal(t, DispatchPlan{ThreadsPerGroup: 64, Groups: 4}, plan)

	plan, err = PlanDispatch(257, 64)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), plan.Groups)
}

func TestPlanDispatchZeroCount(t *testing.T) {
	plan, err := PlanDispatch(0, 32)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), plan.Groups)
	assert.Equal(t, uint64(0), plan.Threads())
}

func TestPlanDispatchInvalid(t *testing.T) {
	_, err := PlanDispatch(10, 0)
	assert.True(t, errors.Is(err, ErrInvalidWidth))

	_, err = PlanDispatch(-1, 8)
	assert.True(t, errors.Is(err, ErrNegativeCount))

	if math.MaxInt > math.MaxUint32 {
		_, err = PlanDispatch(math.MaxInt, 1)
		assert.True(t, errors.Is(err, ErrDimensionOverflow))
	}
}
