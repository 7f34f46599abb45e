package cpu

import (
	"encoding/binary"
	"math"

	"github.com/ajroetker/go-highway/hwy"
	hwymath "github.com/ajroetker/go-highway/hwy/contrib/math"
	"github.com/pkg/errors"
)

// StandardKernels returns a fresh map of the built-in entry points.
func StandardKernels() map[string]Kernel {
	return map[string]Kernel{
		"sigmoid_forward":  sigmoidForward,
		"sigmoid_backward": sigmoidBackward,
	}
}

// dimensions mirrors the 8-byte argument block shared by elementwise kernels:
// batch_size u32 then size u32, little-endian.
type dimensions struct {
	batchSize uint32
	size      uint32
}

func (d dimensions) count() uint64 { return uint64(d.batchSize) * uint64(d.size) }

func readDimensions(args Args, slot int) (dimensions, error) {
	raw, err := args.Bytes(slot)
	if err != nil {
		return dimensions{}, err
	}
	if len(raw) < 8 {
		return dimensions{}, errors.Errorf("dimensions block is %d bytes, want 8", len(raw))
	}
	return dimensions{
		batchSize: binary.LittleEndian.Uint32(raw[0:4]),
		size:      binary.LittleEndian.Uint32(raw[4:8]),
	}, nil
}

// elementRange clamps the thread range to the workload and checks every
// buffer covers it.
func elementRange(dims dimensions, start, end int, bufs ...[]float32) (int, int, error) {
	if n := dims.count(); uint64(end) > n {
		end = int(n)
	}
	if start >= end {
		return start, start, nil
	}
	for i, b := range bufs {
		if len(b) < end {
			return 0, 0, errors.Errorf("argument %d holds %d elements, need %d", i, len(b), end)
		}
	}
	return start, end, nil
}

// slots: 0 input, 1 output, 2 dimensions
func sigmoidForward(args Args, start, end int) error {
	dims, err := readDimensions(args, 2)
	if err != nil {
		return err
	}
	in, err := args.Floats(0)
	if err != nil {
		return err
	}
	out, err := args.Floats(1)
	if err != nil {
		return err
	}
	start, end, err = elementRange(dims, start, end, in, out)
	if err != nil {
		return err
	}
	sigmoid(in[start:end], out[start:end])
	return nil
}

// slots: 0 output gradient, 1 input, 2 input gradient, 3 dimensions
func sigmoidBackward(args Args, start, end int) error {
	dims, err := readDimensions(args, 3)
	if err != nil {
		return err
	}
	dy, err := args.Floats(0)
	if err != nil {
		return err
	}
	x, err := args.Floats(1)
	if err != nil {
		return err
	}
	dx, err := args.Floats(2)
	if err != nil {
		return err
	}
	start, end, err = elementRange(dims, start, end, dy, x, dx)
	if err != nil {
		return err
	}
	sigmoidGrad(dy[start:end], x[start:end], dx[start:end])
	return nil
}

func sigmoid(in, out []float32) {
	n := min(len(in), len(out))
	lanes := hwy.MaxLanes[float32]()

	i := 0
	for ; i+lanes <= n; i += lanes {
		x := hwy.Load(in[i:])
		hwy.Store(hwymath.BaseSigmoidVec[float32](x), out[i:])
	}
	for ; i < n; i++ {
		out[i] = float32(1 / (1 + math.Exp(-float64(in[i]))))
	}
}

// sigmoidGrad computes dx = dy * s * (1 - s) with s = sigmoid(x).
func sigmoidGrad(dy, x, dx []float32) {
	n := min(len(dy), len(x), len(dx))
	lanes := hwy.MaxLanes[float32]()
	one := hwy.Set[float32](1)

	i := 0
	for ; i+lanes <= n; i += lanes {
		s := hwymath.BaseSigmoidVec[float32](hwy.Load(x[i:]))
		g := hwy.Mul(hwy.Load(dy[i:]), hwy.Mul(s, hwy.Sub(one, s)))
		hwy.Store(g, dx[i:])
	}
	for ; i < n; i++ {
		s := 1 / (1 + math.Exp(-float64(x[i])))
		dx[i] = float32(float64(dy[i]) * s * (1 - s))
	}
}
