package gpu

import "fmt"

// StandardSources returns the WGSL entry points every layer expects.
func StandardSources() map[string]Source {
	return map[string]Source{
		"sigmoid_forward":  sigmoidForwardShader,
		"sigmoid_backward": sigmoidBackwardShader,
	}
}

// dimensionsWGSL mirrors the 8-byte little-endian dimensions block.
const dimensionsWGSL = `
		struct Dimensions {
			batch_size : u32,
			size : u32,
		};
`

func sigmoidForwardShader(workgroupX uint32) string {
	return fmt.Sprintf(`%s
		@group(0) @binding(0) var<storage, read> input : array<f32>;
		@group(0) @binding(1) var<storage, read_write> output : array<f32>;
		@group(0) @binding(2) var<storage, read> dims : Dimensions;

		@compute @workgroup_size(%d)
		fn sigmoid_forward(@builtin(global_invocation_id) gid : vec3<u32>) {
			let i = gid.x;
			if (i >= dims.batch_size * dims.size) {
				return;
			}
			output[i] = 1.0 / (1.0 + exp(-input[i]));
		}
	`, dimensionsWGSL, workgroupX)
}

// sigmoidBackwardShader recomputes s = sigma(x) from the forward input.
func sigmoidBackwardShader(workgroupX uint32) string {
	return fmt.Sprintf(`%s
		@group(0) @binding(0) var<storage, read> output_grad : array<f32>;
		@group(0) @binding(1) var<storage, read> input : array<f32>;
		@group(0) @binding(2) var<storage, read_write> input_grad : array<f32>;
		@group(0) @binding(3) var<storage, read> dims : Dimensions;

		@compute @workgroup_size(%d)
		fn sigmoid_backward(@builtin(global_invocation_id) gid : vec3<u32>) {
			let i = gid.x;
			if (i >= dims.batch_size * dims.size) {
				return;
			}
			let s = 1.0 / (1.0 + exp(-input[i]));
			input_grad[i] = output_grad[i] * s * (1.0 - s);
		}
	`, dimensionsWGSL, workgroupX)
}
