// Package gpu is a WebGPU compute backend implementing the kernel contract.
//
// Kernels are WGSL compute shaders, one shader module per entry point, with
// the workgroup size chosen from the adapter limits when the Context is
// created. Buffers are storage buffers; dimensions are uploaded as small
// read-only storage buffers owned by the command buffer that uses them.
package gpu

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/openfluke/webgpu/wgpu"
	"github.com/pkg/errors"

	"github.com/openfluke/strand/kernel"
)

// WebGPU defaults for minStorageBufferOffsetAlignment and
// maxComputeWorkgroupsPerDimension, used when an adapter reports zero.
const (
	defaultOffsetAlignment = 256
	defaultMaxWorkgroups   = 65535
)

// Options configures a Context. A zero WorkgroupX falls back to
// STRAND_WORKGROUP_X and then to the largest size the adapter allows.
type Options struct {
	PowerPreference wgpu.PowerPreference
	WorkgroupX      uint32
	Logger          *slog.Logger
}

// Context owns one adapter, device and queue. It implements kernel.Device.
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue

	name       string
	workgroupX uint32
	alignment  uint64
	maxGroups  uint32
	logger     *slog.Logger
}

var _ kernel.Device = (*Context)(nil)

// NewContext requests an adapter and device. It tries the requested power
// preference first, then low power, then the instance default.
func NewContext(opts Options) (*Context, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return nil, errors.New("gpu: failed to create WebGPU instance")
	}

	preference := opts.PowerPreference
	if preference == wgpu.PowerPreferenceUndefined {
		preference = wgpu.PowerPreferenceHighPerformance
	}
	attempts := []*wgpu.RequestAdapterOptions{
		{PowerPreference: preference},
		{PowerPreference: wgpu.PowerPreferenceLowPower},
		nil,
	}

	var (
		adapter *wgpu.Adapter
		err     error
	)
	for _, a := range attempts {
		adapter, err = inst.RequestAdapter(a)
		if err == nil && adapter != nil {
			break
		}
		logger.Debug("gpu adapter request failed, falling back", "err", err)
	}
	if adapter == nil {
		inst.Release()
		if err == nil {
			err = errors.New("no adapter")
		}
		return nil, errors.Wrap(err, "gpu: all adapter attempts failed")
	}

	info := adapter.GetInfo()
	limits := adapter.GetLimits()

	dev, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{Label: "strand"})
	if err != nil {
		adapter.Release()
		inst.Release()
		return nil, errors.Wrap(err, "gpu: request device")
	}

	c := &Context{
		Instance:   inst,
		Adapter:    adapter,
		Device:     dev,
		Queue:      dev.GetQueue(),
		name:       strings.TrimSpace(info.Name),
		workgroupX: chooseWorkgroup(limits, opts.WorkgroupX),
		alignment:  uint64(limits.Limits.MinStorageBufferOffsetAlignment),
		maxGroups:  limits.Limits.MaxComputeWorkgroupsPerDimension,
		logger:     logger,
	}
	if c.alignment == 0 {
		c.alignment = defaultOffsetAlignment
	}
	if c.maxGroups == 0 {
		c.maxGroups = defaultMaxWorkgroups
	}

	logger.Info("gpu context ready",
		"adapter", c.name,
		"vendor", info.VendorName,
		"backend", info.BackendType.String(),
		"adapter_type", info.AdapterType.String(),
		"workgroup_x", c.workgroupX,
		"offset_alignment", c.alignment,
		"max_workgroups", c.maxGroups)
	return c, nil
}

// chooseWorkgroup picks the largest 1-D workgroup size within the limits.
// A requested size is honoured if the adapter allows it.
func chooseWorkgroup(l wgpu.SupportedLimits, requested uint32) uint32 {
	maxX := l.Limits.MaxComputeWorkgroupSizeX
	maxTot := l.Limits.MaxComputeInvocationsPerWorkgroup
	fits := func(c uint32) bool { return c >= 1 && c <= maxX && c <= maxTot }

	if requested == 0 {
		if n, err := strconv.ParseUint(os.Getenv("STRAND_WORKGROUP_X"), 10, 32); err == nil {
			requested = uint32(n)
		}
	}
	if fits(requested) {
		return requested
	}

	for _, c := range []uint32{256, 128, 64, 32, 16, 8, 4, 1} {
		if fits(c) {
			return c
		}
	}
	return 1
}

// Name reports the adapter name.
func (c *Context) Name() string { return fmt.Sprintf("gpu (%s)", c.name) }

// WorkgroupX is the workgroup size compiled into every shader.
func (c *Context) WorkgroupX() uint32 { return c.workgroupX }

// OffsetAlignment is the byte alignment required of storage binding offsets.
func (c *Context) OffsetAlignment() uint64 { return c.alignment }

// MaxWorkgroups is the largest group count one dispatch may request.
func (c *Context) MaxWorkgroups() uint32 { return c.maxGroups }

// Release frees the device, adapter and instance.
func (c *Context) Release() {
	if c.Queue != nil {
		c.Queue.Release()
	}
	if c.Device != nil {
		c.Device.Release()
	}
	if c.Adapter != nil {
		c.Adapter.Release()
	}
	if c.Instance != nil {
		c.Instance.Release()
	}
}

// NewComputePipeline compiles fn into its own shader module and pipeline.
func (c *Context) NewComputePipeline(fn kernel.Function) (kernel.Pipeline, error) {
	f, ok := fn.(*Function)
	if !ok {
		return nil, errors.Errorf("gpu: foreign kernel function %T", fn)
	}
	if f.source == nil {
		return nil, errors.Errorf("gpu: kernel %q has no source", f.name)
	}

	module, err := c.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          f.name + "_Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: f.source(c.workgroupX)},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "gpu: shader module %q", f.name)
	}

	pipeline, err := c.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: f.name + "_Pipe",
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: f.name,
		},
	})
	if err != nil {
		module.Release()
		return nil, errors.Wrapf(err, "gpu: compute pipeline %q", f.name)
	}

	c.logger.Debug("gpu pipeline compiled", "name", f.name, "workgroup_x", c.workgroupX)
	return &Pipeline{name: f.name, module: module, pipeline: pipeline, width: int(c.workgroupX)}, nil
}

// pollDevice blocks until the queue is idle or maxIter polls have run.
func (c *Context) pollDevice(maxIter int) bool {
	for i := 0; i < maxIter; i++ {
		if c.Device.Poll(true, nil) {
			return true
		}
		time.Sleep(100 * time.Microsecond)
	}
	return false
}
