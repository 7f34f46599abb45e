package kernel

import "github.com/pkg/errors"

// Resolve looks up name in lib and compiles it on the library's device.
func Resolve(lib Library, name string) (Pipeline, error) {
	if lib == nil {
		return nil, errors.Errorf("resolve %q: nil library", name)
	}

	fn, ok := lib.Function(name)
	if !ok || fn == nil {
		return nil, &KernelNotFoundError{Name: name}
	}

	dev := lib.Device()
	if dev == nil {
		return nil, &PipelineCompileError{Name: name, Err: errors.New("library has no device")}
	}

	p, err := dev.NewComputePipeline(fn)
	if err != nil {
		return nil, &PipelineCompileError{Name: name, Err: err}
	}
	if p == nil {
		return nil, &PipelineCompileError{Name: name, Err: errors.New("device returned nil pipeline")}
	}
	if p.ThreadExecutionWidth() < 1 {
		return nil, &PipelineCompileError{
			Name: name,
			Err:  errors.Wrapf(ErrInvalidWidth, "width %d", p.ThreadExecutionWidth()),
		}
	}
	return p, nil
}
