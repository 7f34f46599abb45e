package kernel

import (
	"math"

	"github.com/pkg/errors"
)

// DispatchPlan is the thread/group partitioning of a 1-D elementwise workload.
type DispatchPlan struct {
	ThreadsPerGroup uint32
	Groups          uint32
}

// Threads returns the number of logical threads scheduled by the plan.
func (p DispatchPlan) Threads() uint64 {
	return uint64(p.ThreadsPerGroup) * uint64(p.Groups)
}

// PlanDispatch partitions count elements into groups of width threads.
// Groups is ceil(count/width); the tail group is partially populated and
// kernels bounds-check it. A zero count yields zero groups.
func PlanDispatch(count, width int) (DispatchPlan, error) {
	if count < 0 {
		return DispatchPlan{}, errors.Wrapf(ErrNegativeCount, "plan dispatch: count %d", count)
	}
	if width < 1 {
		return DispatchPlan{}, errors.Wrapf(ErrInvalidWidth, "plan dispatch: width %d", width)
	}
	if uint64(width) > math.MaxUint32 {
		return DispatchPlan{}, errors.Wrapf(ErrDimensionOverflow, "plan dispatch: width %d", width)
	}

	groups := (uint64(count) + uint64(width) - 1) / uint64(width)
	if groups > math.MaxUint32 {
		return DispatchPlan{}, errors.Wrapf(ErrDimensionOverflow, "plan dispatch: %d groups", groups)
	}

	return DispatchPlan{
		ThreadsPerGroup: uint32(width),
		Groups:          uint32(groups),
	}, nil
}
