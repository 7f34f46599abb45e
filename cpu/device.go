// Package cpu is an in-process compute backend implementing the kernel
// contract. Thread groups of a dispatch run on a persistent worker pool and
// kernel bodies are vectorized with go-highway.
//
// It serves as the reference executor for layers: the same encoded command
// stream a GPU backend would receive is executed here on the host.
package cpu

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/ajroetker/go-highway/hwy"
	"github.com/ajroetker/go-highway/hwy/contrib/workerpool"
	"github.com/pkg/errors"

	"github.com/openfluke/strand/kernel"
)

// vectorsPerGroup is how many SIMD vectors one thread group covers by default.
const vectorsPerGroup = 16

// Options configures a Device. Zero values fall back to the environment
// (STRAND_CPU_WIDTH, STRAND_CPU_WORKERS) and then to hardware defaults.
type Options struct {
	Width   int // Threads per group reported by pipelines
	Workers int // Worker goroutines; <= 0 uses GOMAXPROCS
	Logger  *slog.Logger
}

// Device executes kernels on the host.
type Device struct {
	width  int
	pool   *workerpool.Pool
	logger *slog.Logger

	mu   sync.Mutex
	last chan struct{} // completion of the most recently committed command buffer
}

var _ kernel.Device = (*Device)(nil)

// NewDevice creates a device and starts its worker pool. Call Close when done.
func NewDevice(opts Options) *Device {
	width := opts.Width
	if width <= 0 {
		width = envInt("STRAND_CPU_WIDTH")
	}
	if width <= 0 {
		width = hwy.MaxLanes[float32]() * vectorsPerGroup
	}
	if width <= 0 {
		width = 1
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = envInt("STRAND_CPU_WORKERS")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Device{
		width:  width,
		pool:   workerpool.New(workers),
		logger: logger,
	}
	logger.Debug("cpu device ready",
		"target", hwy.CurrentName(),
		"width", width,
		"workers", d.pool.NumWorkers())
	return d
}

func envInt(key string) int {
	s := os.Getenv(key)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// Name identifies the device and its SIMD target.
func (d *Device) Name() string {
	return fmt.Sprintf("cpu (%s)", hwy.CurrentName())
}

// Width is the thread execution width reported by this device's pipelines.
func (d *Device) Width() int { return d.width }

// Close stops the worker pool. Work committed afterwards runs sequentially.
func (d *Device) Close() {
	d.pool.Close()
}

// NewComputePipeline compiles a Function from a Library of this package.
func (d *Device) NewComputePipeline(fn kernel.Function) (kernel.Pipeline, error) {
	f, ok := fn.(*Function)
	if !ok {
		return nil, errors.Errorf("cpu: foreign kernel function %T", fn)
	}
	if f.body == nil {
		return nil, errors.Errorf("cpu: kernel %q has no body", f.name)
	}
	return &Pipeline{name: f.name, body: f.body, width: d.width}, nil
}

// NewBuffer allocates a zeroed buffer of n float32 elements.
func (d *Device) NewBuffer(n int, label string) *Buffer {
	return &Buffer{label: label, data: make([]float32, n), byteLen: n * kernel.ElementSize}
}

// NewBufferWithData allocates a buffer holding a copy of data.
func (d *Device) NewBufferWithData(data []float32, label string) *Buffer {
	b := d.NewBuffer(len(data), label)
	copy(b.data, data)
	return b
}

// NewCommandBuffer returns an empty command buffer bound to d.
func (d *Device) NewCommandBuffer() *CommandBuffer {
	return &CommandBuffer{device: d, done: make(chan struct{})}
}

// enqueue orders cb after every previously committed command buffer and
// returns the channel to wait on before executing.
func (d *Device) enqueue(cb *CommandBuffer) <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev := d.last
	d.last = cb.done
	return prev
}

// execute runs one recorded dispatch across the worker pool.
func (d *Device) execute(cmd *Command) error {
	if cmd.Groups == 0 {
		return nil
	}
	d.logger.Debug("cpu dispatch",
		"label", cmd.Label,
		"pipeline", cmd.Pipeline.name,
		"groups", cmd.Groups,
		"threads_per_group", cmd.ThreadsPerGroup)

	args := Args(cmd.Bindings)
	threads := int(cmd.ThreadsPerGroup)

	var (
		errMu    sync.Mutex
		firstErr error
	)
	d.pool.ParallelFor(int(cmd.Groups), func(start, end int) {
		if err := cmd.Pipeline.body(args, start*threads, end*threads); err != nil {
			errMu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			errMu.Unlock()
		}
	})
	if firstErr != nil {
		return errors.Wrapf(firstErr, "cpu: %s", cmd.Label)
	}
	return nil
}
