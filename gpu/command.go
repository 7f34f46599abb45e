package gpu

import (
	"context"
	"sort"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
	"github.com/pkg/errors"

	"github.com/openfluke/strand/kernel"
)

// pollIterations caps the idle polls a committed command buffer waits for.
const pollIterations = 10000

// CommandBuffer records compute passes into a wgpu command encoder. Transient
// buffers and bind groups are released once the submission completes.
type CommandBuffer struct {
	ctx     *Context
	encoder *wgpu.CommandEncoder

	mu         sync.Mutex
	committed  bool
	passes     int
	transients []*Buffer
	bindGroups []*wgpu.BindGroup
	err        error
	done       chan struct{}
}

var _ kernel.CommandBuffer = (*CommandBuffer)(nil)

// NewCommandBuffer returns an empty command buffer on c.
func (c *Context) NewCommandBuffer(label string) (*CommandBuffer, error) {
	enc, err := c.Device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, errors.Wrap(err, "gpu: create command encoder")
	}
	return &CommandBuffer{ctx: c, encoder: enc, done: make(chan struct{})}, nil
}

// BeginComputePass starts recording a pass.
func (cb *CommandBuffer) BeginComputePass(label string) kernel.ComputeEncoder {
	return &ComputeEncoder{cb: cb, label: label, bindings: map[int]binding{}}
}

// NewTransientBuffer uploads data into a read-only storage buffer owned by cb.
func (cb *CommandBuffer) NewTransientBuffer(data []byte, label string) (kernel.Buffer, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.committed {
		return nil, kernel.ErrCommitted
	}
	b, err := cb.ctx.newBufferInit(data, label)
	if err != nil {
		return nil, err
	}
	cb.transients = append(cb.transients, b)
	return b, nil
}

// Passes reports how many compute passes have been recorded.
func (cb *CommandBuffer) Passes() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.passes
}

// TransientBuffers reports how many transient buffers cb currently retains.
func (cb *CommandBuffer) TransientBuffers() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return len(cb.transients)
}

// Commit finishes the encoder and submits it to the queue. Submissions on one
// Context execute in commit order.
func (cb *CommandBuffer) Commit() error {
	cb.mu.Lock()
	if cb.committed {
		cb.mu.Unlock()
		return kernel.ErrCommitted
	}
	cb.committed = true
	cb.mu.Unlock()

	cmd, err := cb.encoder.Finish(nil)
	cb.encoder.Release()
	if err != nil {
		return cb.fail(errors.Wrap(err, "gpu: finish command buffer"))
	}
	cb.ctx.Queue.Submit(cmd)
	cmd.Release()

	go func() {
		if !cb.ctx.pollDevice(pollIterations) {
			cb.finish(errors.New("gpu: device did not become idle"))
			return
		}
		cb.finish(nil)
	}()
	return nil
}

// fail completes cb with err without submitting and returns err.
func (cb *CommandBuffer) fail(err error) error {
	cb.finish(err)
	return err
}

func (cb *CommandBuffer) finish(err error) {
	cb.mu.Lock()
	for _, b := range cb.transients {
		b.Release()
	}
	for _, bg := range cb.bindGroups {
		bg.Release()
	}
	cb.transients, cb.bindGroups = nil, nil
	cb.err = err
	cb.mu.Unlock()
	close(cb.done)
}

// Wait blocks until the submission completes or ctx is done.
func (cb *CommandBuffer) Wait(ctx context.Context) error {
	cb.mu.Lock()
	committed := cb.committed
	cb.mu.Unlock()
	if !committed {
		return kernel.ErrNotCommitted
	}
	select {
	case <-cb.done:
		cb.mu.Lock()
		defer cb.mu.Unlock()
		return cb.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type binding struct {
	index  int
	buf    *Buffer
	offset uint64
}

// ComputeEncoder records one pass. Bindings become a bind group at End.
type ComputeEncoder struct {
	cb       *CommandBuffer
	label    string
	pipeline kernel.Pipeline
	bindings map[int]binding

	groups, threads uint32
	dispatched      bool
	ended           bool
	err             error
}

var _ kernel.ComputeEncoder = (*ComputeEncoder)(nil)

func (e *ComputeEncoder) SetPipeline(p kernel.Pipeline) { e.pipeline = p }

func (e *ComputeEncoder) SetBuffer(buf kernel.Buffer, offset uint64, index int) {
	b, ok := buf.(*Buffer)
	if !ok || b == nil || b.buf == nil {
		if e.err == nil {
			e.err = errors.Errorf("slot %d: foreign or released buffer %T", index, buf)
		}
		return
	}
	e.bindings[index] = binding{index: index, buf: b, offset: offset}
}

func (e *ComputeEncoder) Dispatch(groups, threadsPerGroup uint32) {
	e.groups, e.threads, e.dispatched = groups, threadsPerGroup, true
}

// validate checks the recorded pass against the pipeline and the device
// limits and returns its bindings ordered by slot.
func (e *ComputeEncoder) validate() (*Pipeline, []binding, error) {
	if e.err != nil {
		return nil, nil, errors.WithMessage(e.err, e.label)
	}
	p, ok := e.pipeline.(*Pipeline)
	if !ok || p == nil {
		return nil, nil, errors.Errorf("%s: pipeline %T not compiled by a gpu context", e.label, e.pipeline)
	}
	if !e.dispatched {
		return nil, nil, errors.Errorf("%s: no dispatch recorded", e.label)
	}
	if int(e.threads) != p.width {
		return nil, nil, errors.Errorf("%s: %d threads per group, shader workgroup is %d", e.label, e.threads, p.width)
	}
	if limit := e.cb.ctx.maxGroups; e.groups > limit {
		return nil, nil, errors.WithMessage(&kernel.GroupLimitError{Groups: e.groups, Limit: limit}, e.label)
	}

	align := e.cb.ctx.alignment
	slots := make([]binding, 0, len(e.bindings))
	for _, b := range e.bindings {
		if b.offset%align != 0 {
			return nil, nil, errors.Errorf("%s: slot %d offset %d not aligned to %d bytes", e.label, b.index, b.offset, align)
		}
		if b.offset >= b.buf.size {
			return nil, nil, errors.Errorf("%s: slot %d offset %d past end of %d-byte buffer", e.label, b.index, b.offset, b.buf.size)
		}
		slots = append(slots, b)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].index < slots[j].index })
	return p, slots, nil
}

// End validates the pass, builds its bind group and records it.
func (e *ComputeEncoder) End() error {
	if e.ended {
		return errors.Errorf("%s: pass already ended", e.label)
	}
	e.ended = true

	p, slots, err := e.validate()
	if err != nil {
		return err
	}
	if p.pipeline == nil {
		return errors.Errorf("%s: pipeline %q released", e.label, p.name)
	}

	entries := make([]wgpu.BindGroupEntry, len(slots))
	for i, b := range slots {
		entries[i] = wgpu.BindGroupEntry{
			Binding: uint32(b.index),
			Buffer:  b.buf.buf,
			Offset:  b.offset,
			Size:    b.buf.size - b.offset,
		}
	}

	e.cb.mu.Lock()
	defer e.cb.mu.Unlock()
	if e.cb.committed {
		return errors.WithMessage(kernel.ErrCommitted, e.label)
	}

	bg, err := e.cb.ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   e.label + "_Bind",
		Layout:  p.pipeline.GetBindGroupLayout(0),
		Entries: entries,
	})
	if err != nil {
		return errors.Wrapf(err, "%s: create bind group", e.label)
	}
	e.cb.bindGroups = append(e.cb.bindGroups, bg)

	pass := e.cb.encoder.BeginComputePass(&wgpu.ComputePassDescriptor{Label: e.label})
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, bg, nil)
	if e.groups > 0 {
		pass.DispatchWorkgroups(e.groups, 1, 1)
	}
	pass.End()
	e.cb.passes++

	e.cb.ctx.logger.Debug("gpu pass encoded",
		"label", e.label,
		"pipeline", p.name,
		"groups", e.groups,
		"threads_per_group", e.threads)
	return nil
}
