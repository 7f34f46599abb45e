package kernel

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNegativeCount     = errors.New("negative element count")
	ErrInvalidWidth      = errors.New("thread execution width must be >= 1")
	ErrDimensionOverflow = errors.New("workload does not fit in 32-bit dispatch dimensions")
	ErrCommitted         = errors.New("command buffer already committed")
	ErrNotCommitted      = errors.New("command buffer not committed")
)

// KernelNotFoundError reports an entry point missing from a Library.
type KernelNotFoundError struct {
	Name string
}

func (e *KernelNotFoundError) Error() string {
	return fmt.Sprintf("kernel %q not found in library", e.Name)
}

// PipelineCompileError reports a device rejecting a resolved kernel function.
type PipelineCompileError struct {
	Name string
	Err  error
}

func (e *PipelineCompileError) Error() string {
	return fmt.Sprintf("compile pipeline %q: %v", e.Name, e.Err)
}

func (e *PipelineCompileError) Unwrap() error { return e.Err }

// BufferBoundsError reports a buffer that cannot hold Count elements starting
// at element Offset.
type BufferBoundsError struct {
	Argument string
	Offset   int
	Count    int
	Len      int
}

func (e *BufferBoundsError) Error() string {
	return fmt.Sprintf("buffer %s: need %d elements at offset %d, have %d",
		e.Argument, e.Count, e.Offset, e.Len)
}

// GroupLimitError reports a dispatch requesting more thread groups than the
// device allows in one dimension.
type GroupLimitError struct {
	Groups uint32
	Limit  uint32
}

func (e *GroupLimitError) Error() string {
	return fmt.Sprintf("dispatch of %d groups exceeds device limit %d", e.Groups, e.Limit)
}
