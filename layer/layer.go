// Package layer implements layers that encode their forward and backward
// passes as kernel dispatches.
//
// A layer resolves its named kernels once with Setup, then encodes one compute
// pass per call into a caller-owned kernel.CommandBuffer. Layers never own the
// buffers they are handed, and never submit or wait on work.
package layer

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/openfluke/strand/kernel"
)

var (
	ErrNotSetup      = errors.New("layer: Setup has not completed")
	ErrAlreadySetup  = errors.New("layer: Setup already completed")
	ErrNegativeBatch = errors.New("layer: negative batch size")
)

// Shaped reports the per-item element counts consumed and produced by a layer.
type Shaped interface {
	InputSize() int
	OutputSize() int
}

// ForwardLayer is a layer that can encode inference.
type ForwardLayer interface {
	Shaped
	Setup(lib kernel.Library) error
	EncodeForward(cb kernel.CommandBuffer, batchSize int,
		input kernel.Buffer, inputOffset int,
		output kernel.Buffer, outputOffset int) error
}

// BackwardLayer is a layer that can encode the gradient with respect to its
// input. Buffers are addressed from element 0.
type BackwardLayer interface {
	Shaped
	Setup(lib kernel.Library) error
	EncodeBackward(cb kernel.CommandBuffer, batchSize int,
		outputGradient, input, inputGradient kernel.Buffer) error
}

// Options configures shared layer behaviour.
type Options struct {
	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// release frees p if its backend holds native resources for it.
func release(p kernel.Pipeline) {
	if r, ok := p.(interface{ Release() }); ok {
		r.Release()
	}
}

// binding is one argument slot of an encoded pass.
type binding struct {
	buf    kernel.Buffer
	offset uint64
}

// encodeElementwise uploads dims, plans a 1-D dispatch for dims.Count()
// threads on p, binds args to slots 0..n-1 and dims to slot n, and ends the
// pass. Callers must have skipped empty workloads.
func encodeElementwise(cb kernel.CommandBuffer, p kernel.Pipeline, label, dimsLabel string,
	dims Dimensions, args ...binding) error {
	plan, err := kernel.PlanDispatch(dims.Count(), p.ThreadExecutionWidth())
	if err != nil {
		return errors.WithMessagef(err, "%s", label)
	}

	raw, err := dims.MarshalBinary()
	if err != nil {
		return errors.Wrapf(err, "%s: pack dimensions", label)
	}
	dimsBuf, err := cb.NewTransientBuffer(raw, dimsLabel)
	if err != nil {
		return errors.Wrapf(err, "%s: upload dimensions", label)
	}

	enc := cb.BeginComputePass(label)
	enc.SetPipeline(p)
	for i, a := range args {
		enc.SetBuffer(a.buf, a.offset, i)
	}
	enc.SetBuffer(dimsBuf, 0, len(args))
	enc.Dispatch(plan.Groups, plan.ThreadsPerGroup)
	if err := enc.End(); err != nil {
		return errors.Wrapf(err, "%s: encode", label)
	}
	return nil
}
