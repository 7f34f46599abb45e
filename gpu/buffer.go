package gpu

import (
	"time"

	"github.com/openfluke/webgpu/wgpu"
	"github.com/pkg/errors"

	"github.com/openfluke/strand/kernel"
)

const bufferUsage = wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc

// readTimeout bounds how long Read waits for a staging buffer to map.
const readTimeout = 2 * time.Second

// Buffer is a storage buffer of float32 elements.
type Buffer struct {
	buf   *wgpu.Buffer
	label string
	size  uint64 // bytes
}

var _ kernel.Buffer = (*Buffer)(nil)

// Len is the capacity in float32 elements. Nil and released buffers hold none.
func (b *Buffer) Len() int {
	if b == nil || b.buf == nil {
		return 0
	}
	return int(b.size / kernel.ElementSize)
}

func (b *Buffer) Label() string     { return b.label }
func (b *Buffer) Raw() *wgpu.Buffer { return b.buf }

// Release destroys the underlying buffer.
func (b *Buffer) Release() {
	if b.buf == nil {
		return
	}
	b.buf.Destroy()
	b.buf.Release()
	b.buf = nil
}

// NewBuffer allocates a zeroed storage buffer of n float32 elements.
func (c *Context) NewBuffer(n int, label string) (*Buffer, error) {
	if n < 0 {
		return nil, errors.Wrapf(kernel.ErrNegativeCount, "gpu: buffer %q", label)
	}
	size := uint64(n) * kernel.ElementSize
	buf, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: bufferUsage,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "gpu: create buffer %q", label)
	}
	return &Buffer{buf: buf, label: label, size: size}, nil
}

// NewBufferWithData allocates a storage buffer holding a copy of data.
func (c *Context) NewBufferWithData(data []float32, label string) (*Buffer, error) {
	if len(data) == 0 {
		return c.NewBuffer(0, label)
	}
	return c.newBufferInit(wgpu.ToBytes(data), label)
}

func (c *Context) newBufferInit(raw []byte, label string) (*Buffer, error) {
	buf, err := c.Device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    label,
		Contents: raw,
		Usage:    bufferUsage,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "gpu: create buffer %q", label)
	}
	return &Buffer{buf: buf, label: label, size: uint64(len(raw))}, nil
}

// Write uploads data starting at element 0.
func (c *Context) Write(b *Buffer, data []float32) error {
	if len(data) > b.Len() {
		return &kernel.BufferBoundsError{Argument: b.label, Count: len(data), Len: b.Len()}
	}
	if len(data) == 0 {
		return nil
	}
	c.Queue.WriteBuffer(b.buf, 0, wgpu.ToBytes(data))
	return nil
}

// Read copies the whole buffer back to the host. It waits for all work
// submitted before it.
func (c *Context) Read(b *Buffer) ([]float32, error) {
	n := b.Len()
	if n == 0 {
		return []float32{}, nil
	}
	sizeBytes := uint64(n) * kernel.ElementSize

	staging, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: b.label + "_ReadStaging",
		Size:  sizeBytes,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, errors.Wrap(err, "gpu: create staging buffer")
	}
	defer func() {
		staging.Destroy()
		staging.Release()
	}()

	enc, err := c.Device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: b.label + "_Read"})
	if err != nil {
		return nil, errors.Wrap(err, "gpu: create command encoder")
	}
	enc.CopyBufferToBuffer(b.buf, 0, staging, 0, sizeBytes)
	cmd, err := enc.Finish(nil)
	enc.Release()
	if err != nil {
		return nil, errors.Wrap(err, "gpu: finish read")
	}
	c.Queue.Submit(cmd)
	cmd.Release()

	done := make(chan struct{})
	var mapErr error
	err = staging.MapAsync(wgpu.MapModeRead, 0, sizeBytes, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = errors.Errorf("map failed: %v", status)
		}
		close(done)
	})
	if err != nil {
		return nil, errors.Wrap(err, "gpu: map staging buffer")
	}

	timeout := time.After(readTimeout)
Loop:
	for {
		c.Device.Poll(false, nil)
		select {
		case <-done:
			break Loop
		case <-timeout:
			return nil, errors.Errorf("gpu: read %q timed out after %s", b.label, readTimeout)
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if mapErr != nil {
		return nil, errors.Wrapf(mapErr, "gpu: read %q", b.label)
	}

	view := staging.GetMappedRange(0, uint(sizeBytes))
	if view == nil {
		return nil, errors.New("gpu: failed to get mapped range")
	}
	out := make([]float32, n)
	copy(out, wgpu.FromBytes[float32](view))
	staging.Unmap()
	return out, nil
}
