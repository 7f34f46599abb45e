package layer

import (
	"github.com/pkg/errors"

	"github.com/openfluke/strand/kernel"
)

// Kernel entry points implemented by every backend library.
const (
	SigmoidForwardFunction  = "sigmoid_forward"
	SigmoidBackwardFunction = "sigmoid_backward"
)

// SigmoidSpec configures a Sigmoid layer.
type SigmoidSpec struct {
	Size int `json:"size"` // Elements per batch item
}

// Sigmoid applies y = 1 / (1 + e^-x) elementwise. The backward kernel
// recomputes sigma(x) from the forward input, so EncodeBackward takes the
// input buffer rather than the forward output.
type Sigmoid struct {
	size int
	opts Options

	forward  kernel.Pipeline
	backward kernel.Pipeline
}

var (
	_ ForwardLayer  = (*Sigmoid)(nil)
	_ BackwardLayer = (*Sigmoid)(nil)
)

// NewSigmoid returns a sigmoid layer over size elements per batch item.
func NewSigmoid(size int, opts ...Options) (*Sigmoid, error) {
	return NewSigmoidFromSpec(SigmoidSpec{Size: size}, opts...)
}

// NewSigmoidFromSpec builds a layer from its configuration.
func NewSigmoidFromSpec(spec SigmoidSpec, opts ...Options) (*Sigmoid, error) {
	if spec.Size <= 0 {
		return nil, errors.Errorf("sigmoid: size must be positive, got %d", spec.Size)
	}
	l := &Sigmoid{size: spec.Size}
	if len(opts) > 0 {
		l.opts = opts[0]
	}
	return l, nil
}

func (l *Sigmoid) Size() int       { return l.size }
func (l *Sigmoid) InputSize() int  { return l.size }
func (l *Sigmoid) OutputSize() int { return l.size }

// Spec returns the configuration the layer was built from.
func (l *Sigmoid) Spec() SigmoidSpec { return SigmoidSpec{Size: l.size} }

// ForwardPipeline returns the resolved forward pipeline, or nil before Setup.
func (l *Sigmoid) ForwardPipeline() kernel.Pipeline { return l.forward }

// BackwardPipeline returns the resolved backward pipeline, or nil before Setup.
func (l *Sigmoid) BackwardPipeline() kernel.Pipeline { return l.backward }

// Setup resolves both sigmoid kernels in lib. Neither pipeline is stored
// unless both resolve.
func (l *Sigmoid) Setup(lib kernel.Library) error {
	if l.forward != nil || l.backward != nil {
		return ErrAlreadySetup
	}

	forward, err := kernel.Resolve(lib, SigmoidForwardFunction)
	if err != nil {
		return errors.WithMessage(err, "sigmoid: setup")
	}
	backward, err := kernel.Resolve(lib, SigmoidBackwardFunction)
	if err != nil {
		release(forward)
		return errors.WithMessage(err, "sigmoid: setup")
	}

	l.forward, l.backward = forward, backward
	l.opts.logger().Debug("sigmoid pipelines resolved",
		"size", l.size,
		"forward_width", forward.ThreadExecutionWidth(),
		"backward_width", backward.ThreadExecutionWidth())
	return nil
}

// EncodeForward appends a pass reading size*batchSize elements of input from
// inputOffset and writing them to output from outputOffset. Offsets are in
// elements. A zero batch encodes nothing.
func (l *Sigmoid) EncodeForward(cb kernel.CommandBuffer, batchSize int,
	input kernel.Buffer, inputOffset int,
	output kernel.Buffer, outputOffset int) error {
	if l.forward == nil {
		return ErrNotSetup
	}
	dims, err := NewDimensions(batchSize, l.size)
	if err != nil {
		return errors.WithMessage(err, "sigmoid forward")
	}
	count := dims.Count()
	if count == 0 {
		return nil
	}
	if err := kernel.CheckBounds("input", input, inputOffset, count); err != nil {
		return errors.WithMessage(err, "sigmoid forward")
	}
	if err := kernel.CheckBounds("output", output, outputOffset, count); err != nil {
		return errors.WithMessage(err, "sigmoid forward")
	}

	return encodeElementwise(cb, l.forward, "SigmoidForward", "SigmoidDimensions", dims,
		binding{input, kernel.ByteOffset(inputOffset)},
		binding{output, kernel.ByteOffset(outputOffset)},
	)
}

// EncodeBackward appends a pass computing inputGradient = outputGradient *
// s * (1 - s) with s = sigma(input). All buffers start at element 0.
func (l *Sigmoid) EncodeBackward(cb kernel.CommandBuffer, batchSize int,
	outputGradient, input, inputGradient kernel.Buffer) error {
	if l.backward == nil {
		return ErrNotSetup
	}
	dims, err := NewDimensions(batchSize, l.size)
	if err != nil {
		return errors.WithMessage(err, "sigmoid backward")
	}
	count := dims.Count()
	if count == 0 {
		return nil
	}
	for _, arg := range []struct {
		name string
		buf  kernel.Buffer
	}{
		{"outputGradient", outputGradient},
		{"input", input},
		{"inputGradient", inputGradient},
	} {
		if err := kernel.CheckBounds(arg.name, arg.buf, 0, count); err != nil {
			return errors.WithMessage(err, "sigmoid backward")
		}
	}

	return encodeElementwise(cb, l.backward, "SigmoidBackward", "SigmoidDimensions", dims,
		binding{outputGradient, 0},
		binding{input, 0},
		binding{inputGradient, 0},
	)
}
