package gpu

import (
	"encoding/json"
	"runtime"
	"strings"

	"github.com/pkg/errors"
)

// Report summarizes the adapter a Context runs on and the dispatch
// parameters derived from its limits.
type Report struct {
	Runtime         string `json:"runtime"`
	Backend         string `json:"backend"`
	AdapterType     string `json:"adapter_type"`
	Name            string `json:"name"`
	Vendor          string `json:"vendor"`
	WorkgroupX      uint32 `json:"workgroup_x"`
	OffsetAlignment uint64 `json:"offset_alignment"`
	Limits          Limits `json:"limits"`
}

type Limits struct {
	MaxComputeInvocationsPerWorkgroup uint32 `json:"max_compute_invocations_per_workgroup"`
	MaxComputeWorkgroupSizeX          uint32 `json:"max_compute_workgroup_size_x"`
	MaxComputeWorkgroupsPerDimension  uint32 `json:"max_compute_workgroups_per_dimension"`
	MaxStorageBufferBindingSize       uint64 `json:"max_storage_buffer_binding_size"`
	MaxBufferSize                     uint64 `json:"max_buffer_size"`
}

// Report probes the adapter of c.
func (c *Context) Report() Report {
	info := c.Adapter.GetInfo()
	l := c.Adapter.GetLimits().Limits

	rt := "native"
	if runtime.GOOS == "js" {
		rt = "wasm"
	}
	return Report{
		Runtime:         rt,
		Backend:         info.BackendType.String(),
		AdapterType:     info.AdapterType.String(),
		Name:            strings.TrimSpace(info.Name),
		Vendor:          strings.TrimSpace(info.VendorName),
		WorkgroupX:      c.workgroupX,
		OffsetAlignment: c.alignment,
		Limits: Limits{
			MaxComputeInvocationsPerWorkgroup: l.MaxComputeInvocationsPerWorkgroup,
			MaxComputeWorkgroupSizeX:          l.MaxComputeWorkgroupSizeX,
			MaxComputeWorkgroupsPerDimension:  l.MaxComputeWorkgroupsPerDimension,
			MaxStorageBufferBindingSize:       l.MaxStorageBufferBindingSize,
			MaxBufferSize:                     l.MaxBufferSize,
		},
	}
}

// JSON renders the report indented.
func (r Report) JSON() (string, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "gpu: marshal report")
	}
	return string(b), nil
}
