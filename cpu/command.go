package cpu

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/openfluke/strand/kernel"
)

// Status is the lifecycle stage of a CommandBuffer.
type Status int

const (
	StatusEncoding Status = iota
	StatusCommitted
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusEncoding:
		return "encoding"
	case StatusCommitted:
		return "committed"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Binding is a buffer bound to an argument slot at a byte offset.
type Binding struct {
	Index  int
	Buffer *Buffer
	Offset uint64
}

// Command is one recorded compute pass.
type Command struct {
	Label           string
	Pipeline        *Pipeline
	Bindings        []Binding // sorted by Index
	Groups          uint32
	ThreadsPerGroup uint32
}

// CommandBuffer records compute passes and executes them in order on its
// Device once committed. Transient buffers live until execution finishes.
type CommandBuffer struct {
	device *Device

	mu         sync.Mutex
	status     Status
	commands   []Command
	transients []*Buffer
	err        error
	done       chan struct{}
}

var _ kernel.CommandBuffer = (*CommandBuffer)(nil)

// BeginComputePass starts recording a pass.
func (cb *CommandBuffer) BeginComputePass(label string) kernel.ComputeEncoder {
	return &ComputeEncoder{cb: cb, label: label, bindings: map[int]Binding{}}
}

// NewTransientBuffer copies data into a buffer retained by cb.
func (cb *CommandBuffer) NewTransientBuffer(data []byte, label string) (kernel.Buffer, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.status != StatusEncoding {
		return nil, kernel.ErrCommitted
	}
	b := newByteBuffer(data, label)
	cb.transients = append(cb.transients, b)
	return b, nil
}

// Commands returns a copy of the recorded passes.
func (cb *CommandBuffer) Commands() []Command {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	out := make([]Command, len(cb.commands))
	for i, c := range cb.commands {
		c.Bindings = append([]Binding(nil), c.Bindings...)
		out[i] = c
	}
	return out
}

// TransientBuffers reports how many transient buffers cb currently retains.
// It drops to zero once execution finishes.
func (cb *CommandBuffer) TransientBuffers() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return len(cb.transients)
}

func (cb *CommandBuffer) Status() Status {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.status
}

// Commit schedules execution after every command buffer committed earlier on
// the same device. It does not block.
func (cb *CommandBuffer) Commit() error {
	cb.mu.Lock()
	if cb.status != StatusEncoding {
		cb.mu.Unlock()
		return kernel.ErrCommitted
	}
	cb.status = StatusCommitted
	cb.mu.Unlock()

	prev := cb.device.enqueue(cb)
	go cb.run(prev)
	return nil
}

func (cb *CommandBuffer) run(prev <-chan struct{}) {
	if prev != nil {
		<-prev
	}

	var err error
	for i := range cb.commands {
		if err = cb.device.execute(&cb.commands[i]); err != nil {
			break
		}
	}

	cb.mu.Lock()
	cb.transients = nil
	cb.err = err
	if err != nil {
		cb.status = StatusFailed
	} else {
		cb.status = StatusCompleted
	}
	cb.mu.Unlock()
	close(cb.done)
}

// Wait blocks until execution finishes or ctx is done, returning the first
// kernel error.
func (cb *CommandBuffer) Wait(ctx context.Context) error {
	if cb.Status() == StatusEncoding {
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

// ComputeEncoder records one pass into a CommandBuffer.
type ComputeEncoder struct {
	cb       *CommandBuffer
	label    string
	pipeline kernel.Pipeline
	bindings map[int]Binding

	groups, threads uint32
	dispatched      bool
	ended           bool
	err             error
}

var _ kernel.ComputeEncoder = (*ComputeEncoder)(nil)

func (e *ComputeEncoder) SetPipeline(p kernel.Pipeline) { e.pipeline = p }

func (e *ComputeEncoder) SetBuffer(buf kernel.Buffer, offset uint64, index int) {
	b, ok := buf.(*Buffer)
	if !ok || b == nil {
		if e.err == nil {
			e.err = errors.Errorf("slot %d: foreign buffer %T", index, buf)
		}
		return
	}
	e.bindings[index] = Binding{Index: index, Buffer: b, Offset: offset}
}

func (e *ComputeEncoder) Dispatch(groups, threadsPerGroup uint32) {
	e.groups, e.threads, e.dispatched = groups, threadsPerGroup, true
}

// End validates the pass and appends it to the command buffer.
func (e *ComputeEncoder) End() error {
	if e.ended {
		return errors.Errorf("%s: pass already ended", e.label)
	}
	e.ended = true
	if e.err != nil {
		return errors.WithMessage(e.err, e.label)
	}

	p, ok := e.pipeline.(*Pipeline)
	if !ok || p == nil {
		return errors.Errorf("%s: pipeline %T not compiled by a cpu device", e.label, e.pipeline)
	}
	if !e.dispatched {
		return errors.Errorf("%s: no dispatch recorded", e.label)
	}
	if e.threads == 0 {
		return errors.Errorf("%s: zero threads per group", e.label)
	}

	bindings := make([]Binding, 0, len(e.bindings))
	for _, b := range e.bindings {
		if b.Offset%kernel.ElementSize != 0 {
			return errors.Errorf("%s: slot %d offset %d not element aligned", e.label, b.Index, b.Offset)
		}
		if b.Offset > uint64(b.Buffer.byteLen) {
			return errors.Errorf("%s: slot %d offset %d past end of %d-byte buffer",
				e.label, b.Index, b.Offset, b.Buffer.byteLen)
		}
		bindings = append(bindings, b)
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].Index < bindings[j].Index })

	e.cb.mu.Lock()
	defer e.cb.mu.Unlock()
	if e.cb.status != StatusEncoding {
		return errors.WithMessage(kernel.ErrCommitted, e.label)
	}
	e.cb.commands = append(e.cb.commands, Command{
		Label:           e.label,
		Pipeline:        p,
		Bindings:        bindings,
		Groups:          e.groups,
		ThreadsPerGroup: e.threads,
	})
	return nil
}
