package cpu

import (
	"github.com/pkg/errors"

	"github.com/openfluke/strand/kernel"
)

// Kernel is a host kernel body. It processes global thread IDs in
// [start, end) and must bounds-check against its own dimensions, since the
// last group of a dispatch may run past the workload.
type Kernel func(args Args, start, end int) error

// Function is an entry point of a Library.
type Function struct {
	name string
	body Kernel
}

func (f *Function) Name() string { return f.name }

// Pipeline is a compiled kernel ready for dispatch.
type Pipeline struct {
	name  string
	body  Kernel
	width int
}

var _ kernel.Pipeline = (*Pipeline)(nil)

func (p *Pipeline) Name() string              { return p.name }
func (p *Pipeline) ThreadExecutionWidth() int { return p.width }

// Library is a named set of host kernels bound to a Device.
type Library struct {
	device    *Device
	functions map[string]*Function
}

var _ kernel.Library = (*Library)(nil)

// NewLibrary builds a library from kernels. A nil body is accepted here and
// rejected when compiled.
func NewLibrary(dev *Device, kernels map[string]Kernel) *Library {
	lib := &Library{device: dev, functions: make(map[string]*Function, len(kernels))}
	for name, body := range kernels {
		lib.functions[name] = &Function{name: name, body: body}
	}
	return lib
}

// NewStandardLibrary returns a library holding StandardKernels.
func NewStandardLibrary(dev *Device) *Library {
	return NewLibrary(dev, StandardKernels())
}

func (l *Library) Function(name string) (kernel.Function, bool) {
	f, ok := l.functions[name]
	if !ok {
		return nil, false
	}
	return f, true
}

func (l *Library) Device() kernel.Device {
	if l.device == nil {
		return nil
	}
	return l.device
}

// Args are the buffers bound to a dispatch, ordered by slot.
type Args []Binding

func (a Args) binding(slot int) (Binding, error) {
	for _, b := range a {
		if b.Index == slot {
			return b, nil
		}
	}
	return Binding{}, errors.Errorf("no buffer bound at slot %d", slot)
}

// Floats returns the elements of the buffer at slot from its bound offset.
func (a Args) Floats(slot int) ([]float32, error) {
	b, err := a.binding(slot)
	if err != nil {
		return nil, err
	}
	return b.Buffer.data[b.Offset/kernel.ElementSize:], nil
}

// Bytes returns the bytes of the buffer at slot from its bound offset.
func (a Args) Bytes(slot int) ([]byte, error) {
	b, err := a.binding(slot)
	if err != nil {
		return nil, err
	}
	return b.Buffer.Bytes()[b.Offset:], nil
}
