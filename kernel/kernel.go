// Package kernel defines the contract between layers and a compute backend.
//
// A backend exposes a compiled kernel Library bound to a Device, and a
// CommandBuffer into which layers encode compute passes. Layers never submit
// work themselves: the orchestrator commits the command buffer and waits.
//
// Buffers hold float32 elements. Layers address them by element offset and
// convert to byte offsets with ByteOffset when binding.
package kernel

import "context"

// Buffer is an opaque region of device-visible memory.
type Buffer interface {
	// Len returns the number of addressable float32 elements.
	Len() int
}

// Function is a named kernel entry point found in a Library.
type Function interface {
	Name() string
}

// Pipeline is a compiled, dispatch-ready handle for one entry point.
type Pipeline interface {
	Name() string
	// ThreadExecutionWidth is the hardware-preferred number of threads per
	// group. Always >= 1.
	ThreadExecutionWidth() int
}

// Device compiles kernel functions into pipelines.
type Device interface {
	NewComputePipeline(fn Function) (Pipeline, error)
}

// Library is a set of compiled kernel entry points bound to a device.
type Library interface {
	// Function looks up an entry point by name. The bool is false when absent.
	Function(name string) (Function, bool)
	Device() Device
}

// ComputeEncoder records a single compute pass.
type ComputeEncoder interface {
	SetPipeline(p Pipeline)
	// SetBuffer binds buf at a byte offset to argument slot index.
	SetBuffer(buf Buffer, offset uint64, index int)
	Dispatch(groups, threadsPerGroup uint32)
	// End closes the pass and appends it to the command buffer. Binding or
	// validation problems are reported here.
	End() error
}

// CommandBuffer is an ordered sequence of compute passes. Passes execute in
// encoding order once committed.
type CommandBuffer interface {
	BeginComputePass(label string) ComputeEncoder
	// NewTransientBuffer uploads data into a read-only buffer whose lifetime
	// is tied to this command buffer: it stays alive until execution finishes.
	NewTransientBuffer(data []byte, label string) (Buffer, error)
	Commit() error
	Wait(ctx context.Context) error
}
