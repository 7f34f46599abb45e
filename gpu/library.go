package gpu

import (
	"github.com/openfluke/webgpu/wgpu"

	"github.com/openfluke/strand/kernel"
)

// Source renders the WGSL for one entry point at a given workgroup size.
type Source func(workgroupX uint32) string

// Function is an entry point of a Library.
type Function struct {
	name   string
	source Source
}

func (f *Function) Name() string { return f.name }

// Pipeline is a compiled compute pipeline. Its thread execution width is the
// workgroup size baked into the shader.
type Pipeline struct {
	name     string
	module   *wgpu.ShaderModule
	pipeline *wgpu.ComputePipeline
	width    int
}

var _ kernel.Pipeline = (*Pipeline)(nil)

func (p *Pipeline) Name() string              { return p.name }
func (p *Pipeline) ThreadExecutionWidth() int { return p.width }

// Release frees the pipeline and its shader module.
func (p *Pipeline) Release() {
	if p.pipeline != nil {
		p.pipeline.Release()
		p.pipeline = nil
	}
	if p.module != nil {
		p.module.Release()
		p.module = nil
	}
}

// Library is a named set of WGSL entry points compiled on a Context.
type Library struct {
	ctx       *Context
	functions map[string]*Function
}

var _ kernel.Library = (*Library)(nil)

// NewLibrary builds a library from sources. A nil source is rejected when
// compiled.
func NewLibrary(ctx *Context, sources map[string]Source) *Library {
	lib := &Library{ctx: ctx, functions: make(map[string]*Function, len(sources))}
	for name, src := range sources {
		lib.functions[name] = &Function{name: name, source: src}
	}
	return lib
}

// NewStandardLibrary returns a library holding StandardSources.
func NewStandardLibrary(ctx *Context) *Library {
	return NewLibrary(ctx, StandardSources())
}

func (l *Library) Function(name string) (kernel.Function, bool) {
	f, ok := l.functions[name]
	if !ok {
		return nil, false
	}
	return f, true
}

func (l *Library) Device() kernel.Device {
	if l.ctx == nil {
		return nil
	}
	return l.ctx
}
