package cpu

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/strand/kernel"
)

func newTestLibrary(t *testing.T, width int) (*Device, *Library) {
	t.Helper()
	dev := NewDevice(Options{Width: width, Workers: 2})
	t.Cleanup(dev.Close)
	return dev, NewStandardLibrary(dev)
}

func encodeForward(t *testing.T, cb *CommandBuffer, p kernel.Pipeline, in, out *Buffer, batch, size uint32) {
	t.Helper()
	dims, err := cb.NewTransientBuffer(packDims(batch, size), "dims")
	require.NoError(t, err)
	plan, err := kernel.PlanDispatch(int(batch*size), p.ThreadExecutionWidth())
	require.NoError(t, err)

	enc := cb.BeginComputePass("forward")
	enc.SetPipeline(p)
	enc.SetBuffer(in, 0, 0)
	enc.SetBuffer(out, 0, 1)
	enc.SetBuffer(dims, 0, 2)
	enc.Dispatch(plan.Groups, plan.ThreadsPerGroup)
	require.NoError(t, enc.End())
}

func TestCommandBufferLifecycle(t *testing.T) {
	dev, lib := newTestLibrary(t, 4)
	p, err := kernel.Resolve(lib, "sigmoid_forward")
	require.NoError(t, err)

	in := dev.NewBufferWithData([]float32{0, 0, 0, 0}, "in")
	out := dev.NewBuffer(4, "out")

	cb := dev.NewCommandBuffer()
	assert.Equal(t, StatusEncoding, cb.Status())
	assert.True(t, errors.Is(cb.Wait(context.Background()), kernel.ErrNotCommitted))

	encodeForward(t, cb, p, in, out, 1, 4)
	assert.Equal(t, 1, cb.TransientBuffers())
	require.Len(t, cb.Commands(), 1)

	require.NoError(t, cb.Commit())
	require.NoError(t, cb.Wait(context.Background()))
	assert.Equal(t, StatusCompleted, cb.Status())
	assert.Equal(t, 0, cb.TransientBuffers())
	assert.InDeltaSlice(t, []float32{0.5, 0.5, 0.5, 0.5}, out.Floats(), 1e-7)

	assert.True(t, errors.Is(cb.Commit(), kernel.ErrCommitted))
	_, err = cb.NewTransientBuffer([]byte{1}, "late")
	assert.True(t, errors.Is(err, kernel.ErrCommitted))

	enc := cb.BeginComputePass("late")
	enc.SetPipeline(p)
	enc.Dispatch(1, 4)
	assert.True(t, errors.Is(enc.End(), kernel.ErrCommitted))
}

func TestCommandsExecuteInEncodingOrder(t *testing.T) {
	dev, lib := newTestLibrary(t, 4)
	p, err := kernel.Resolve(lib, "sigmoid_forward")
	require.NoError(t, err)

	a := dev.NewBufferWithData([]float32{0, 1, 2, 3}, "a")
	b := dev.NewBuffer(4, "b")
	c := dev.NewBuffer(4, "c")

	cb := dev.NewCommandBuffer()
	encodeForward(t, cb, p, a, b, 1, 4)
	encodeForward(t, cb, p, b, c, 1, 4)
	require.NoError(t, cb.Commit())
	require.NoError(t, cb.Wait(context.Background()))

	for i, x := range a.Floats() {
		assert.InDelta(t, refSigmoid(float32(refSigmoid(x))), float64(c.Floats()[i]), 1e-6)
	}
}

func TestCommandBuffersExecuteInCommitOrder(t *testing.T) {
	dev, lib := newTestLibrary(t, 4)
	p, err := kernel.Resolve(lib, "sigmoid_forward")
	require.NoError(t, err)

	a := dev.NewBufferWithData([]float32{-2, -1, 1, 2}, "a")
	b := dev.NewBuffer(4, "b")
	c := dev.NewBuffer(4, "c")

	first := dev.NewCommandBuffer()
	encodeForward(t, first, p, a, b, 1, 4)
	second := dev.NewCommandBuffer()
	encodeForward(t, second, p, b, c, 1, 4)

	require.NoError(t, first.Commit())
	require.NoError(t, second.Commit())
	require.NoError(t, second.Wait(context.Background()))
	assert.Equal(t, StatusCompleted, first.Status())

	for i, x := range a.Floats() {
		assert.InDelta(t, refSigmoid(float32(refSigmoid(x))), float64(c.Floats()[i]), 1e-6)
	}
}

func TestKernelErrorSurfacesFromWait(t *testing.T) {
	dev, lib := newTestLibrary(t, 4)
	p, err := kernel.Resolve(lib, "sigmoid_forward")
	require.NoError(t, err)

	cb := dev.NewCommandBuffer()
	enc := cb.BeginComputePass("unbound dims")
	enc.SetPipeline(p)
	enc.SetBuffer(dev.NewBuffer(4, "in"), 0, 0)
	enc.SetBuffer(dev.NewBuffer(4, "out"), 0, 1)
	enc.Dispatch(1, 4)
	require.NoError(t, enc.End())

	require.NoError(t, cb.Commit())
	err = cb.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unbound dims")
	assert.Equal(t, StatusFailed, cb.Status())
}

func TestEncoderValidation(t *testing.T) {
	dev, lib := newTestLibrary(t, 4)
	p, err := kernel.Resolve(lib, "sigmoid_forward")
	require.NoError(t, err)
	buf := dev.NewBuffer(4, "buf")

	cases := []struct {
		name   string
		encode func(enc kernel.ComputeEncoder)
	}{
		{"no pipeline", func(enc kernel.ComputeEncoder) {
			enc.Dispatch(1, 4)
		}},
		{"no dispatch", func(enc kernel.ComputeEncoder) {
			enc.SetPipeline(p)
		}},
		{"zero threads", func(enc kernel.ComputeEncoder) {
			enc.SetPipeline(p)
			enc.Dispatch(1, 0)
		}},
		{"unaligned offset", func(enc kernel.ComputeEncoder) {
			enc.SetPipeline(p)
			enc.SetBuffer(buf, 2, 0)
			enc.Dispatch(1, 4)
		}},
		{"offset past end", func(enc kernel.ComputeEncoder) {
			enc.SetPipeline(p)
			enc.SetBuffer(buf, 20, 0)
			enc.Dispatch(1, 4)
		}},
		{"foreign buffer", func(enc kernel.ComputeEncoder) {
			enc.SetPipeline(p)
			enc.SetBuffer(nil, 0, 0)
			enc.Dispatch(1, 4)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cb := dev.NewCommandBuffer()
			enc := cb.BeginComputePass(tc.name)
			tc.encode(enc)
			assert.Error(t, enc.End())
			assert.Empty(t, cb.Commands())
		})
	}
}

func TestEncoderEndTwice(t *testing.T) {
	dev, lib := newTestLibrary(t, 4)
	p, err := kernel.Resolve(lib, "sigmoid_forward")
	require.NoError(t, err)

	cb := dev.NewCommandBuffer()
	enc := cb.BeginComputePass("twice")
	enc.SetPipeline(p)
	enc.Dispatch(0, 4)
	require.NoError(t, enc.End())
	assert.Error(t, enc.End())
	assert.Len(t, cb.Commands(), 1)
}

func TestWaitHonoursContext(t *testing.T) {
	dev, _ := newTestLibrary(t, 4)

	blocker := make(chan struct{})
	slow := NewLibrary(dev, map[string]Kernel{
		"block": func(Args, int, int) error {
			<-blocker
			return nil
		},
	})
	p, err := kernel.Resolve(slow, "block")
	require.NoError(t, err)

	cb := dev.NewCommandBuffer()
	enc := cb.BeginComputePass("block")
	enc.SetPipeline(p)
	enc.Dispatch(1, 4)
	require.NoError(t, enc.End())
	require.NoError(t, cb.Commit())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.True(t, errors.Is(cb.Wait(ctx), context.DeadlineExceeded))

	close(blocker)
	require.NoError(t, cb.Wait(context.Background()))
}
